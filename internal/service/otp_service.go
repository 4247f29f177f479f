package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"email-auth-service/internal/audit"
	"email-auth-service/internal/config"
	"email-auth-service/internal/delivery"
	"email-auth-service/internal/models"
	"email-auth-service/internal/otp"
	"email-auth-service/internal/repository/scylla"
	"email-auth-service/internal/util"
)

// deliveryTimeout bounds a single delivery call. A timeout is a delivery
// failure, never "maybe sent".
const deliveryTimeout = 15 * time.Second

// RateLimiter is the ephemeral fixed-window counter for OTP issuance.
// Increment must set the window TTL only on the count's 0->1 transition;
// Peek must never mutate.
type RateLimiter interface {
	Increment(ctx context.Context, requester string, window time.Duration) (int, error)
	Peek(ctx context.Context, requester string) (count int, ttl time.Duration, err error)
}

// TokenIssuer issues a session token bound to an identity.
type TokenIssuer interface {
	Issue(identityID, email string) (token string, expiresAt time.Time, err error)
}

// OTPService orchestrates the OTP login lifecycle: issuance with rate
// limiting and compensated delivery, verification with attempt tracking, and
// on-demand identity provisioning.
//
// Correctness under concurrency relies on the stores, not on in-process
// locking: the service must behave when several instances run against the
// same Redis and Scylla. Two documented approximations follow from that:
// the peek-then-increment issuance check can briefly overshoot the window
// limit under a race, and two concurrent verifies of one record can advance
// attempts by two. Both fail safe — they only tighten the limits.
type OTPService struct {
	otpRepo      scylla.OTPRepository
	identityRepo scylla.IdentityRepository
	limiter      RateLimiter
	gateway      delivery.Gateway
	issuer       TokenIssuer
	recorder     *audit.Recorder
	cfg          config.OTPConfig
	logger       *zap.Logger
}

func NewOTPService(
	otpRepo scylla.OTPRepository,
	identityRepo scylla.IdentityRepository,
	limiter RateLimiter,
	gateway delivery.Gateway,
	issuer TokenIssuer,
	recorder *audit.Recorder,
	cfg config.OTPConfig,
	logger *zap.Logger,
) *OTPService {
	return &OTPService{
		otpRepo:      otpRepo,
		identityRepo: identityRepo,
		limiter:      limiter,
		gateway:      gateway,
		issuer:       issuer,
		recorder:     recorder,
		cfg:          cfg,
		logger:       logger,
	}
}

// OTPRequestResult is the caller-facing outcome of RequestOTP. The code
// itself never appears here; it leaves the system only via delivery.
type OTPRequestResult struct {
	Requester        string `json:"requester"`
	ExpiresInSeconds int    `json:"expires_in_seconds"`
}

// OTPVerifyResult is the caller-facing outcome of a successful VerifyOTP.
type OTPVerifyResult struct {
	Identity       *models.PublicIdentity `json:"identity"`
	Token          string                 `json:"token"`
	TokenExpiresAt time.Time              `json:"token_expires_at"`
}

// OTPStatusResult is the read-only projection returned by GetOTPStatus.
type OTPStatusResult struct {
	HasActiveOtp                  bool   `json:"has_active_otp"`
	Requester                     string `json:"requester"`
	ExpiresInSeconds              int    `json:"expires_in_seconds,omitempty"`
	AttemptsUsed                  int    `json:"attempts_used,omitempty"`
	CanRequestNew                 bool   `json:"can_request_new"`
	NextRequestAvailableInSeconds int    `json:"next_request_available_in_seconds,omitempty"`
}

// RequestOTP issues a new code for the requester and delivers it.
//
// The rate-limit check runs before any durable write so abuse cannot cost
// store work, and the counter is incremented only after delivery succeeds.
// On delivery failure the just-created record is deleted (compensating
// action): a code the requester never received must not stay verifiable.
func (s *OTPService) RequestOTP(ctx context.Context, requester string) (*OTPRequestResult, error) {
	normalized, err := util.ValidateEmail(requester)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	count, _, err := s.limiter.Peek(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}
	if count >= s.cfg.MaxRequestsPerWindow {
		s.logger.Info("OTP request rate limited",
			util.String("requester", normalized),
			util.Int("count", count))
		s.recorder.Record(models.EventOTPRequested, normalized, "", "rate_limited", "")
		return nil, ErrRateLimited
	}

	code, err := otp.GenerateCode(s.cfg.CodeLength)
	if err != nil {
		return nil, fmt.Errorf("code generation failed: %w", err)
	}

	now := time.Now().UTC()
	rec := &models.OtpRecord{
		OtpID:     uuid.New().String(),
		Requester: normalized,
		Code:      code,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.TTL),
		Attempts:  0,
		Used:      false,
	}

	if err := s.otpRepo.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to persist otp record: %w", err)
	}

	subject, body := delivery.CodeMessage(code, int(s.cfg.TTL.Minutes()))

	deliveryCtx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	err = s.gateway.Send(deliveryCtx, normalized, subject, body)
	cancel()
	if err != nil {
		// Compensate: the requester never saw this code, so the record
		// must not remain verifiable. If the delete itself fails the
		// record cannot be exploited and simply expires at TTL.
		if delErr := s.otpRepo.Delete(ctx, rec); delErr != nil {
			s.logger.Warn("Failed to delete record after delivery failure",
				util.String("requester", normalized),
				util.String("otp_id", rec.OtpID),
				util.ErrorField(delErr))
		}
		s.logger.Error("OTP delivery failed",
			util.String("requester", normalized),
			util.ErrorField(err))
		s.recorder.Record(models.EventOTPRequested, normalized, "", "delivery_failed", "")
		return nil, ErrDeliveryFailed
	}

	// The window TTL is applied by the 0->1 increment only; later
	// increments never extend it. An increment failure here is logged but
	// does not fail the request — the code is already on its way.
	if _, err := s.limiter.Increment(ctx, normalized, s.cfg.RateLimitWindow); err != nil {
		s.logger.Warn("Failed to increment issuance counter",
			util.String("requester", normalized),
			util.ErrorField(err))
	}

	if identity, err := s.identityRepo.FindByEmail(ctx, normalized); err == nil && identity != nil {
		if err := s.identityRepo.TouchOTPIssued(ctx, normalized); err != nil {
			s.logger.Debug("Failed to stamp last OTP issuance",
				util.String("requester", normalized),
				util.ErrorField(err))
		}
	}

	s.logger.Info("OTP issued",
		util.String("requester", normalized),
		util.String("otp_id", rec.OtpID),
		util.Duration("ttl", s.cfg.TTL))
	s.recorder.Record(models.EventOTPRequested, normalized, "", "issued", "")

	return &OTPRequestResult{
		Requester:        normalized,
		ExpiresInSeconds: int(s.cfg.TTL.Seconds()),
	}, nil
}

// VerifyOTP checks a submitted code against the requester's active record.
//
// The candidate is selected by requester alone and the code compared here in
// application code, so a wrong code is charged against the real record —
// looking up by requester+code would make the attempt cap unenforceable.
// The attempt increment is committed before the comparison outcome is acted
// on, so a crash mid-verify never loses a counted attempt.
func (s *OTPService) VerifyOTP(ctx context.Context, requester, submittedCode string) (*OTPVerifyResult, error) {
	normalized, err := util.ValidateEmail(requester)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	rec, err := s.otpRepo.FindActive(ctx, normalized)
	if err != nil {
		if errors.Is(err, scylla.ErrNoActiveOTP) {
			// No record was identified, so nothing is mutated and the
			// caller learns nothing about why.
			s.recorder.Record(models.EventOTPRejected, normalized, "", "no_active_record", "")
			return nil, ErrInvalidOrExpiredOTP
		}
		return nil, fmt.Errorf("failed to look up otp record: %w", err)
	}

	if rec.Attempts >= s.cfg.MaxAttempts {
		s.logger.Info("OTP verification against blocked record",
			util.String("requester", normalized),
			util.String("otp_id", rec.OtpID),
			util.Int("attempts", rec.Attempts))
		s.recorder.Record(models.EventOTPRejected, normalized, "", "blocked", "")
		return nil, ErrOTPBlocked
	}

	attempts, err := s.otpRepo.IncrementAttempts(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("failed to record verification attempt: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(rec.Code), []byte(submittedCode)) != 1 {
		remaining := s.cfg.MaxAttempts - attempts
		s.logger.Info("OTP verification failed",
			util.String("requester", normalized),
			util.String("otp_id", rec.OtpID),
			util.Int("remaining", remaining))
		if remaining <= 0 {
			s.recorder.Record(models.EventOTPRejected, normalized, "", "blocked", "")
			return nil, ErrOTPBlocked
		}
		s.recorder.Record(models.EventOTPRejected, normalized, "", "code_mismatch", "")
		return nil, &RemainingAttemptsError{Remaining: remaining}
	}

	if err := s.otpRepo.MarkUsed(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to consume otp record: %w", err)
	}

	identity, _, err := s.identityRepo.FindOrCreate(ctx, &models.Identity{
		IdentityID:         uuid.New().String(),
		Email:              normalized,
		ProvisioningMethod: models.ProvisionedByOTP,
		CreatedAt:          time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to provision identity: %w", err)
	}
	if identity == nil || identity.Email != normalized {
		return nil, ErrIdentityConflict
	}

	token, tokenExpiresAt, err := s.issuer.Issue(identity.IdentityID, identity.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to issue session token: %w", err)
	}

	// Lazy cleanup, scoped to the requester who just logged in.
	if _, err := s.otpRepo.DeleteExpired(ctx, normalized); err != nil {
		s.logger.Debug("Expired record cleanup failed",
			util.String("requester", normalized),
			util.ErrorField(err))
	}

	s.logger.Info("OTP verified",
		util.String("requester", normalized),
		util.String("identity_id", identity.IdentityID))
	s.recorder.Record(models.EventOTPVerified, normalized, identity.IdentityID, "success", "")

	return &OTPVerifyResult{
		Identity:       identity.Public(),
		Token:          token,
		TokenExpiresAt: tokenExpiresAt,
	}, nil
}

// GetOTPStatus reports the requester's active record and issuance headroom.
// It never mutates state: expiry shows up here as hasActiveOtp=false even
// though the expired row may still exist until lazy cleanup removes it.
func (s *OTPService) GetOTPStatus(ctx context.Context, requester string) (*OTPStatusResult, error) {
	normalized, err := util.ValidateEmail(requester)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	status := &OTPStatusResult{Requester: normalized}

	rec, err := s.otpRepo.FindActive(ctx, normalized)
	switch {
	case err == nil:
		status.HasActiveOtp = true
		remaining := int(time.Until(rec.ExpiresAt).Seconds())
		if remaining < 0 {
			remaining = 0
		}
		status.ExpiresInSeconds = remaining
		status.AttemptsUsed = rec.Attempts
	case errors.Is(err, scylla.ErrNoActiveOTP):
		// nothing issued or everything expired/consumed
	default:
		return nil, fmt.Errorf("failed to look up otp record: %w", err)
	}

	count, ttl, err := s.limiter.Peek(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("rate limit check failed: %w", err)
	}

	status.CanRequestNew = count < s.cfg.MaxRequestsPerWindow
	if !status.CanRequestNew {
		status.NextRequestAvailableInSeconds = int(ttl.Seconds())
	}

	return status, nil
}
