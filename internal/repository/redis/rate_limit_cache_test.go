package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"email-auth-service/internal/client"
)

// fakeCounterStore is an in-memory stand-in for the Redis counter commands.
type fakeCounterStore struct {
	counts  map[string]int64
	windows map[string]time.Duration
	getErr  error
}

func newFakeCounterStore() *fakeCounterStore {
	return &fakeCounterStore{
		counts:  make(map[string]int64),
		windows: make(map[string]time.Duration),
	}
}

func (f *fakeCounterStore) Get(ctx context.Context, key string) (string, error) {
	if f.getErr != nil {
		return "", f.getErr
	}
	count, ok := f.counts[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", client.ErrKeyNotFound, key)
	}
	return strconv.FormatInt(count, 10), nil
}

func (f *fakeCounterStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, ok := f.windows[key]
	if !ok {
		return -2 * time.Second, nil
	}
	return ttl, nil
}

func (f *fakeCounterStore) Del(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.counts, key)
		delete(f.windows, key)
	}
	return nil
}

func (f *fakeCounterStore) IncrWithWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	f.counts[key]++
	if f.counts[key] == 1 {
		f.windows[key] = window
	}
	return f.counts[key], nil
}

func TestPeekAbsentKeyReadsAsZero(t *testing.T) {
	cache := &RateLimitCache{client: newFakeCounterStore()}

	count, ttl, err := cache.Peek(context.Background(), "user@example.com")
	if err != nil {
		t.Fatalf("Peek on absent key failed: %v", err)
	}
	if count != 0 || ttl != 0 {
		t.Errorf("Peek = (%d, %v), want (0, 0)", count, ttl)
	}
}

func TestPeekSurfacesBackendErrors(t *testing.T) {
	store := newFakeCounterStore()
	store.getErr = errors.New("connection refused")
	cache := &RateLimitCache{client: store}

	if _, _, err := cache.Peek(context.Background(), "user@example.com"); err == nil {
		t.Fatal("Peek swallowed a backend error")
	}
}

func TestIncrementStartsWindowOnce(t *testing.T) {
	store := newFakeCounterStore()
	cache := &RateLimitCache{client: store}
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		count, err := cache.Increment(ctx, "user@example.com", 15*time.Minute)
		if err != nil {
			t.Fatalf("Increment %d failed: %v", i, err)
		}
		if count != i {
			t.Errorf("Increment %d = %d, want %d", i, count, i)
		}
	}

	count, ttl, err := cache.Peek(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("Peek failed: %v", err)
	}
	if count != 3 {
		t.Errorf("Peek count = %d, want 3", count)
	}
	if ttl != 15*time.Minute {
		t.Errorf("Peek ttl = %v, want 15m", ttl)
	}
}

func TestResetClearsCounter(t *testing.T) {
	store := newFakeCounterStore()
	cache := &RateLimitCache{client: store}
	ctx := context.Background()

	if _, err := cache.Increment(ctx, "user@example.com", 15*time.Minute); err != nil {
		t.Fatalf("Increment failed: %v", err)
	}
	if err := cache.Reset(ctx, "user@example.com"); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	count, _, err := cache.Peek(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("Peek after reset failed: %v", err)
	}
	if count != 0 {
		t.Errorf("count after reset = %d, want 0", count)
	}
}
