package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"email-auth-service/internal/client"
	"email-auth-service/internal/util"
)

// Key prefix scopes the counter to OTP issuance specifically, so unrelated
// throttling on the same requester never collides with it.
const otpIssuePrefix = "otp_issue:"

// counterClient is the slice of the Redis client the cache actually uses.
type counterClient interface {
	Get(ctx context.Context, key string) (string, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	Del(ctx context.Context, keys ...string) error
	IncrWithWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RateLimitCache enforces the fixed-window OTP issuance limit. The window
// starts when the first increment creates the key and the count vanishes
// entirely when the TTL elapses, with no partial decay.
type RateLimitCache struct {
	client counterClient
}

func NewRateLimitCache(client *client.RedisClient) *RateLimitCache {
	return &RateLimitCache{client: client}
}

// Increment advances the issuance counter for the requester and returns the
// new count. The TTL is applied only by the increment that creates the key
// (EXPIRE NX inside one transaction), so concurrent callers cannot restart
// or double-apply the window.
func (c *RateLimitCache) Increment(ctx context.Context, requester string, window time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := otpIssuePrefix + requester

	count, err := c.client.IncrWithWindow(ctx, key, window)
	if err != nil {
		util.Error("Failed to increment issuance counter",
			zap.String("requester", requester),
			zap.Duration("window", window),
			zap.Error(err))
		return 0, fmt.Errorf("failed to increment issuance counter: %w", err)
	}

	util.Debug("Issuance counter incremented",
		zap.String("requester", requester),
		zap.Int64("count", count))

	return int(count), nil
}

// Peek returns the current count and remaining window without mutating
// anything. An absent key reads as zero with no TTL.
func (c *RateLimitCache) Peek(ctx context.Context, requester string) (int, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := otpIssuePrefix + requester

	countStr, err := c.client.Get(ctx, key)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("failed to read issuance counter: %w", err)
	}

	count, err := strconv.Atoi(countStr)
	if err != nil {
		util.Error("Invalid issuance counter format",
			zap.String("requester", requester),
			zap.String("count_str", countStr),
			zap.Error(err))
		return 0, 0, fmt.Errorf("invalid issuance counter format: %w", err)
	}

	ttl, err := c.client.TTL(ctx, key)
	if err != nil {
		return count, 0, fmt.Errorf("failed to read issuance counter ttl: %w", err)
	}
	if ttl < 0 {
		ttl = 0
	}

	return count, ttl, nil
}

// Reset clears the requester's counter. Used by operational tooling and
// tests, never by the request path.
func (c *RateLimitCache) Reset(ctx context.Context, requester string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := otpIssuePrefix + requester

	if err := c.client.Del(ctx, key); err != nil {
		util.Error("Failed to reset issuance counter",
			zap.String("requester", requester),
			zap.Error(err))
		return fmt.Errorf("failed to reset issuance counter: %w", err)
	}

	return nil
}
