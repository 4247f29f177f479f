package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"email-auth-service/internal/config"
	"email-auth-service/internal/models"
	"email-auth-service/internal/repository/scylla"
)

// ---- fakes ----

type fakeOTPStore struct {
	records     []*models.OtpRecord
	createErr   error
	deleteCalls int
}

func (f *fakeOTPStore) Create(ctx context.Context, rec *models.OtpRecord) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeOTPStore) FindActive(ctx context.Context, requester string) (*models.OtpRecord, error) {
	now := time.Now().UTC()
	// newest first, matching the clustering order of the real store
	for i := len(f.records) - 1; i >= 0; i-- {
		rec := f.records[i]
		if rec.Requester == requester && rec.IsActive(now) {
			return rec, nil
		}
	}
	return nil, scylla.ErrNoActiveOTP
}

func (f *fakeOTPStore) IncrementAttempts(ctx context.Context, rec *models.OtpRecord) (int, error) {
	rec.Attempts++
	return rec.Attempts, nil
}

func (f *fakeOTPStore) MarkUsed(ctx context.Context, rec *models.OtpRecord) error {
	rec.Used = true
	return nil
}

func (f *fakeOTPStore) Delete(ctx context.Context, rec *models.OtpRecord) error {
	f.deleteCalls++
	for i, r := range f.records {
		if r.OtpID == rec.OtpID {
			f.records = append(f.records[:i], f.records[i+1:]...)
			return nil
		}
	}
	return nil
}

func (f *fakeOTPStore) DeleteExpired(ctx context.Context, requester string) (int, error) {
	now := time.Now().UTC()
	kept := f.records[:0]
	deleted := 0
	for _, r := range f.records {
		if r.Requester == requester && r.IsExpired(now) {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	f.records = kept
	return deleted, nil
}

func (f *fakeOTPStore) HealthCheck(ctx context.Context) error { return nil }

type fakeIdentityStore struct {
	identities map[string]*models.Identity
}

func newFakeIdentityStore() *fakeIdentityStore {
	return &fakeIdentityStore{identities: make(map[string]*models.Identity)}
}

func (f *fakeIdentityStore) FindByEmail(ctx context.Context, email string) (*models.Identity, error) {
	if id, ok := f.identities[email]; ok {
		return id, nil
	}
	return nil, scylla.ErrIdentityNotFound
}

func (f *fakeIdentityStore) Create(ctx context.Context, identity *models.Identity) error {
	if _, ok := f.identities[identity.Email]; ok {
		return scylla.ErrIdentityExists
	}
	f.identities[identity.Email] = identity
	return nil
}

func (f *fakeIdentityStore) FindOrCreate(ctx context.Context, identity *models.Identity) (*models.Identity, bool, error) {
	if existing, ok := f.identities[identity.Email]; ok {
		return existing, false, nil
	}
	f.identities[identity.Email] = identity
	return identity, true, nil
}

func (f *fakeIdentityStore) TouchOTPIssued(ctx context.Context, email string) error {
	if id, ok := f.identities[email]; ok {
		now := time.Now().UTC()
		id.LastOtpIssuedAt = &now
	}
	return nil
}

func (f *fakeIdentityStore) HealthCheck(ctx context.Context) error { return nil }

type fakeLimiter struct {
	counts  map[string]int
	windows map[string]time.Duration
}

func newFakeLimiter() *fakeLimiter {
	return &fakeLimiter{
		counts:  make(map[string]int),
		windows: make(map[string]time.Duration),
	}
}

func (f *fakeLimiter) Increment(ctx context.Context, requester string, window time.Duration) (int, error) {
	f.counts[requester]++
	if f.counts[requester] == 1 {
		f.windows[requester] = window
	}
	return f.counts[requester], nil
}

func (f *fakeLimiter) Peek(ctx context.Context, requester string) (int, time.Duration, error) {
	return f.counts[requester], f.windows[requester], nil
}

// reset simulates the window key expiring.
func (f *fakeLimiter) reset(requester string) {
	delete(f.counts, requester)
	delete(f.windows, requester)
}

type sentMessage struct {
	destination string
	subject     string
	body        string
}

type fakeGateway struct {
	sent    []sentMessage
	failErr error
}

func (f *fakeGateway) Send(ctx context.Context, destination, subject, body string) error {
	if f.failErr != nil {
		return f.failErr
	}
	f.sent = append(f.sent, sentMessage{destination, subject, body})
	return nil
}

type fakeIssuer struct {
	issued int
}

func (f *fakeIssuer) Issue(identityID, email string) (string, time.Time, error) {
	f.issued++
	return fmt.Sprintf("token-%s", identityID), time.Now().UTC().Add(time.Hour), nil
}

// ---- harness ----

type otpHarness struct {
	svc     *OTPService
	store   *fakeOTPStore
	ids     *fakeIdentityStore
	limiter *fakeLimiter
	gateway *fakeGateway
	issuer  *fakeIssuer
}

func newOTPHarness(t *testing.T) *otpHarness {
	t.Helper()
	h := &otpHarness{
		store:   &fakeOTPStore{},
		ids:     newFakeIdentityStore(),
		limiter: newFakeLimiter(),
		gateway: &fakeGateway{},
		issuer:  &fakeIssuer{},
	}
	cfg := config.OTPConfig{
		CodeLength:           6,
		TTL:                  10 * time.Minute,
		MaxAttempts:          5,
		RateLimitWindow:      15 * time.Minute,
		MaxRequestsPerWindow: 3,
	}
	h.svc = NewOTPService(h.store, h.ids, h.limiter, h.gateway, h.issuer, nil, cfg, zap.NewNop())
	return h
}

// issuedCode requests a code for the requester and returns the stored code.
func (h *otpHarness) issuedCode(t *testing.T, requester string) string {
	t.Helper()
	if _, err := h.svc.RequestOTP(context.Background(), requester); err != nil {
		t.Fatalf("RequestOTP(%q) failed: %v", requester, err)
	}
	rec := h.store.records[len(h.store.records)-1]
	return rec.Code
}

// ---- issuance ----

func TestRequestOTPIssuesAndDelivers(t *testing.T) {
	h := newOTPHarness(t)

	res, err := h.svc.RequestOTP(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("RequestOTP failed: %v", err)
	}
	if res.Requester != "alice@example.com" {
		t.Errorf("requester = %q, want alice@example.com", res.Requester)
	}
	if res.ExpiresInSeconds != 600 {
		t.Errorf("expires_in_seconds = %d, want 600", res.ExpiresInSeconds)
	}

	if len(h.store.records) != 1 {
		t.Fatalf("stored records = %d, want 1", len(h.store.records))
	}
	rec := h.store.records[0]
	if rec.Attempts != 0 || rec.Used {
		t.Errorf("new record attempts=%d used=%v, want 0/false", rec.Attempts, rec.Used)
	}
	if len(rec.Code) != 6 {
		t.Errorf("code length = %d, want 6", len(rec.Code))
	}

	if len(h.gateway.sent) != 1 {
		t.Fatalf("deliveries = %d, want 1", len(h.gateway.sent))
	}
	if h.gateway.sent[0].destination != "alice@example.com" {
		t.Errorf("delivered to %q", h.gateway.sent[0].destination)
	}

	count, _, _ := h.limiter.Peek(context.Background(), "alice@example.com")
	if count != 1 {
		t.Errorf("issuance counter = %d, want 1", count)
	}
}

func TestRequestOTPRejectsInvalidEmail(t *testing.T) {
	h := newOTPHarness(t)

	for _, bad := range []string{"", "   ", "not-an-email", "two@@example.com"} {
		if _, err := h.svc.RequestOTP(context.Background(), bad); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("RequestOTP(%q) error = %v, want ErrInvalidInput", bad, err)
		}
	}
	if len(h.store.records) != 0 {
		t.Errorf("invalid input created %d records", len(h.store.records))
	}
}

func TestRequestOTPRateLimitWindow(t *testing.T) {
	h := newOTPHarness(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := h.svc.RequestOTP(ctx, "bob@example.com"); err != nil {
			t.Fatalf("request %d failed: %v", i+1, err)
		}
	}

	if _, err := h.svc.RequestOTP(ctx, "bob@example.com"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("4th request error = %v, want ErrRateLimited", err)
	}
	if len(h.gateway.sent) != 3 {
		t.Errorf("deliveries = %d, want 3 (limited request must not send)", len(h.gateway.sent))
	}
	if len(h.store.records) != 3 {
		t.Errorf("records = %d, want 3 (limited request must not persist)", len(h.store.records))
	}

	// Other requesters are unaffected.
	if _, err := h.svc.RequestOTP(ctx, "carol@example.com"); err != nil {
		t.Errorf("other requester blocked: %v", err)
	}

	// Window expiry restores headroom.
	h.limiter.reset("bob@example.com")
	if _, err := h.svc.RequestOTP(ctx, "bob@example.com"); err != nil {
		t.Errorf("request after window expiry failed: %v", err)
	}
}

func TestRequestOTPDeliveryFailureCompensates(t *testing.T) {
	h := newOTPHarness(t)
	h.gateway.failErr = errors.New("smtp unreachable")

	_, err := h.svc.RequestOTP(context.Background(), "dave@example.com")
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("error = %v, want ErrDeliveryFailed", err)
	}

	if h.store.deleteCalls != 1 {
		t.Errorf("delete calls = %d, want 1 (compensating delete)", h.store.deleteCalls)
	}
	if _, err := h.store.FindActive(context.Background(), "dave@example.com"); !errors.Is(err, scylla.ErrNoActiveOTP) {
		t.Errorf("undelivered record still retrievable")
	}

	count, _, _ := h.limiter.Peek(context.Background(), "dave@example.com")
	if count != 0 {
		t.Errorf("counter = %d after failed delivery, want 0", count)
	}

	// A failed delivery must not burn issuance headroom.
	h.gateway.failErr = nil
	if _, err := h.svc.RequestOTP(context.Background(), "dave@example.com"); err != nil {
		t.Errorf("retry after delivery failure blocked: %v", err)
	}
}

func TestRequestOTPNormalizesRequester(t *testing.T) {
	h := newOTPHarness(t)

	code := h.issuedCode(t, "  User@Example.COM ")
	if h.store.records[0].Requester != "user@example.com" {
		t.Fatalf("stored requester = %q, want normalized form", h.store.records[0].Requester)
	}

	// Verification with the canonical form finds the record.
	if _, err := h.svc.VerifyOTP(context.Background(), "user@example.com", code); err != nil {
		t.Errorf("verify with normalized email failed: %v", err)
	}
}

// ---- verification ----

func TestVerifyOTPNoActiveRecord(t *testing.T) {
	h := newOTPHarness(t)

	_, err := h.svc.VerifyOTP(context.Background(), "nobody@example.com", "123456")
	if !errors.Is(err, ErrInvalidOrExpiredOTP) {
		t.Fatalf("error = %v, want ErrInvalidOrExpiredOTP", err)
	}
	var rae *RemainingAttemptsError
	if errors.As(err, &rae) {
		t.Errorf("no-record verify leaked remaining attempts")
	}
	if len(h.ids.identities) != 0 {
		t.Errorf("no-record verify provisioned an identity")
	}
}

func TestVerifyOTPExpiredRecord(t *testing.T) {
	h := newOTPHarness(t)
	code := h.issuedCode(t, "eve@example.com")

	rec := h.store.records[0]
	rec.IssuedAt = rec.IssuedAt.Add(-11 * time.Minute)
	rec.ExpiresAt = rec.ExpiresAt.Add(-11 * time.Minute)

	_, err := h.svc.VerifyOTP(context.Background(), "eve@example.com", code)
	if !errors.Is(err, ErrInvalidOrExpiredOTP) {
		t.Fatalf("error = %v, want ErrInvalidOrExpiredOTP", err)
	}
	if rec.Attempts != 0 {
		t.Errorf("expired record attempts = %d, want 0 (nothing mutated)", rec.Attempts)
	}
}

func TestVerifyOTPWrongCodeChargesAttempt(t *testing.T) {
	h := newOTPHarness(t)
	h.issuedCode(t, "frank@example.com")
	rec := h.store.records[0]
	rec.Attempts = 2

	_, err := h.svc.VerifyOTP(context.Background(), "frank@example.com", "000000")
	if !errors.Is(err, ErrInvalidOrExpiredOTP) {
		t.Fatalf("error = %v, want wrapped ErrInvalidOrExpiredOTP", err)
	}
	var rae *RemainingAttemptsError
	if !errors.As(err, &rae) {
		t.Fatalf("error %v does not carry remaining attempts", err)
	}
	if rae.Remaining != 2 {
		t.Errorf("remaining = %d, want 2", rae.Remaining)
	}
	if rec.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", rec.Attempts)
	}
}

func TestVerifyOTPBlocksAtAttemptCap(t *testing.T) {
	h := newOTPHarness(t)
	code := h.issuedCode(t, "grace@example.com")
	rec := h.store.records[0]

	// 4 wrong attempts keep returning remaining counts.
	for i := 1; i <= 4; i++ {
		_, err := h.svc.VerifyOTP(context.Background(), "grace@example.com", "999999")
		var rae *RemainingAttemptsError
		if !errors.As(err, &rae) {
			t.Fatalf("attempt %d: error = %v, want RemainingAttemptsError", i, err)
		}
		if rae.Remaining != 5-i {
			t.Errorf("attempt %d: remaining = %d, want %d", i, rae.Remaining, 5-i)
		}
	}

	// 5th wrong attempt exhausts the cap.
	if _, err := h.svc.VerifyOTP(context.Background(), "grace@example.com", "999999"); !errors.Is(err, ErrOTPBlocked) {
		t.Fatalf("5th wrong attempt error = %v, want ErrOTPBlocked", err)
	}
	if rec.Attempts != 5 {
		t.Fatalf("attempts = %d, want 5", rec.Attempts)
	}

	// Blocked is terminal: even the correct code is refused, and the attempt
	// counter no longer moves.
	if _, err := h.svc.VerifyOTP(context.Background(), "grace@example.com", code); !errors.Is(err, ErrOTPBlocked) {
		t.Fatalf("correct code on blocked record error = %v, want ErrOTPBlocked", err)
	}
	if rec.Attempts != 5 {
		t.Errorf("blocked verify moved attempts to %d", rec.Attempts)
	}
	if rec.Used {
		t.Errorf("blocked record was consumed")
	}
}

func TestVerifyOTPSuccessProvisionsIdentity(t *testing.T) {
	h := newOTPHarness(t)
	code := h.issuedCode(t, "heidi@example.com")

	res, err := h.svc.VerifyOTP(context.Background(), "heidi@example.com", code)
	if err != nil {
		t.Fatalf("VerifyOTP failed: %v", err)
	}

	if !h.store.records[0].Used {
		t.Errorf("record not marked used")
	}
	if res.Identity == nil {
		t.Fatalf("result carries no identity")
	}
	if res.Identity.Email != "heidi@example.com" {
		t.Errorf("identity email = %q", res.Identity.Email)
	}
	if res.Identity.ProvisioningMethod != models.ProvisionedByOTP {
		t.Errorf("provisioning method = %q, want %q", res.Identity.ProvisioningMethod, models.ProvisionedByOTP)
	}
	if res.Token == "" || res.TokenExpiresAt.IsZero() {
		t.Errorf("no session token issued")
	}
	if h.issuer.issued != 1 {
		t.Errorf("issuer calls = %d, want 1", h.issuer.issued)
	}
}

func TestVerifyOTPReplayFails(t *testing.T) {
	h := newOTPHarness(t)
	code := h.issuedCode(t, "ivan@example.com")
	ctx := context.Background()

	if _, err := h.svc.VerifyOTP(ctx, "ivan@example.com", code); err != nil {
		t.Fatalf("first verify failed: %v", err)
	}

	// The consumed code must never succeed twice.
	if _, err := h.svc.VerifyOTP(ctx, "ivan@example.com", code); !errors.Is(err, ErrInvalidOrExpiredOTP) {
		t.Fatalf("replay error = %v, want ErrInvalidOrExpiredOTP", err)
	}
	if h.issuer.issued != 1 {
		t.Errorf("replay issued a second token")
	}
}

func TestVerifyOTPReusesExistingIdentity(t *testing.T) {
	h := newOTPHarness(t)
	ctx := context.Background()

	existing := &models.Identity{
		IdentityID:         "id-1",
		Email:              "judy@example.com",
		CredentialHash:     "$argon2id$existing",
		ProvisioningMethod: models.ProvisionedByPassword,
		CreatedAt:          time.Now().UTC().Add(-24 * time.Hour),
	}
	h.ids.identities["judy@example.com"] = existing

	code := h.issuedCode(t, "judy@example.com")
	res, err := h.svc.VerifyOTP(ctx, "judy@example.com", code)
	if err != nil {
		t.Fatalf("VerifyOTP failed: %v", err)
	}

	if res.Identity.IdentityID != "id-1" {
		t.Errorf("identity id = %q, want existing id-1", res.Identity.IdentityID)
	}
	if res.Identity.ProvisioningMethod != models.ProvisionedByPassword {
		t.Errorf("OTP login changed provisioning method to %q", res.Identity.ProvisioningMethod)
	}
	if len(h.ids.identities) != 1 {
		t.Errorf("OTP login created a duplicate identity")
	}
}

func TestVerifyOTPUsesNewestRecord(t *testing.T) {
	h := newOTPHarness(t)
	ctx := context.Background()

	first := h.issuedCode(t, "kate@example.com")
	second := h.issuedCode(t, "kate@example.com")
	if first == second {
		t.Skip("codes collided, cannot distinguish records")
	}

	// The superseded code is rejected and charged against the newest record.
	if _, err := h.svc.VerifyOTP(ctx, "kate@example.com", first); !errors.Is(err, ErrInvalidOrExpiredOTP) {
		t.Fatalf("old code error = %v, want ErrInvalidOrExpiredOTP", err)
	}
	if h.store.records[1].Attempts != 1 {
		t.Errorf("newest record attempts = %d, want 1", h.store.records[1].Attempts)
	}

	if _, err := h.svc.VerifyOTP(ctx, "kate@example.com", second); err != nil {
		t.Errorf("newest code rejected: %v", err)
	}
}

// ---- status ----

func TestGetOTPStatusEmpty(t *testing.T) {
	h := newOTPHarness(t)

	status, err := h.svc.GetOTPStatus(context.Background(), "nobody@example.com")
	if err != nil {
		t.Fatalf("GetOTPStatus failed: %v", err)
	}
	if status.HasActiveOtp {
		t.Errorf("hasActiveOtp = true with no record")
	}
	if !status.CanRequestNew {
		t.Errorf("canRequestNew = false with no issuance history")
	}
	if status.ExpiresInSeconds != 0 || status.AttemptsUsed != 0 || status.NextRequestAvailableInSeconds != 0 {
		t.Errorf("empty status carries record fields: %+v", status)
	}
}

func TestGetOTPStatusActiveRecord(t *testing.T) {
	h := newOTPHarness(t)
	h.issuedCode(t, "leo@example.com")
	h.store.records[0].Attempts = 2

	status, err := h.svc.GetOTPStatus(context.Background(), "leo@example.com")
	if err != nil {
		t.Fatalf("GetOTPStatus failed: %v", err)
	}
	if !status.HasActiveOtp {
		t.Fatalf("hasActiveOtp = false with an active record")
	}
	if status.AttemptsUsed != 2 {
		t.Errorf("attemptsUsed = %d, want 2", status.AttemptsUsed)
	}
	if status.ExpiresInSeconds <= 0 || status.ExpiresInSeconds > 600 {
		t.Errorf("expiresInSeconds = %d, want (0, 600]", status.ExpiresInSeconds)
	}
	if !status.CanRequestNew {
		t.Errorf("canRequestNew = false below the window limit")
	}
}

func TestGetOTPStatusRateLimited(t *testing.T) {
	h := newOTPHarness(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		h.issuedCode(t, "mallory@example.com")
	}

	status, err := h.svc.GetOTPStatus(ctx, "mallory@example.com")
	if err != nil {
		t.Fatalf("GetOTPStatus failed: %v", err)
	}
	if status.CanRequestNew {
		t.Errorf("canRequestNew = true at the window limit")
	}
	if status.NextRequestAvailableInSeconds <= 0 {
		t.Errorf("nextRequestAvailableInSeconds = %d, want > 0", status.NextRequestAvailableInSeconds)
	}

	// Status is read-only: repeated polling never changes the counter.
	before, _, _ := h.limiter.Peek(ctx, "mallory@example.com")
	for i := 0; i < 5; i++ {
		if _, err := h.svc.GetOTPStatus(ctx, "mallory@example.com"); err != nil {
			t.Fatalf("poll %d failed: %v", i, err)
		}
	}
	after, _, _ := h.limiter.Peek(ctx, "mallory@example.com")
	if before != after {
		t.Errorf("status polling moved the counter %d -> %d", before, after)
	}
}
