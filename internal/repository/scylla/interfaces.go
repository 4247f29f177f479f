package scylla

import (
	"context"

	"email-auth-service/internal/models"
)

// OTPRepository defines the durable OTP record store consumed by the
// lifecycle orchestrator.
type OTPRepository interface {
	// Create persists a new record. IDs and timestamps must already be set.
	Create(ctx context.Context, rec *models.OtpRecord) error

	// FindActive returns the newest unused, unexpired record for the
	// requester, or ErrNoActiveOTP. Selection deliberately ignores the
	// submitted code so wrong-code attempts can be charged to the record.
	FindActive(ctx context.Context, requester string) (*models.OtpRecord, error)

	// IncrementAttempts durably advances the attempt counter by one and
	// updates rec in place, returning the new count.
	IncrementAttempts(ctx context.Context, rec *models.OtpRecord) (int, error)

	// MarkUsed flips the record into its terminal consumed state.
	MarkUsed(ctx context.Context, rec *models.OtpRecord) error

	// Delete removes a single record (compensating action on delivery failure).
	Delete(ctx context.Context, rec *models.OtpRecord) error

	// DeleteExpired removes expired records for the requester, returning the
	// number deleted. Best-effort lazy cleanup, not required for correctness.
	DeleteExpired(ctx context.Context, requester string) (int, error)

	HealthCheck(ctx context.Context) error
}

// IdentityRepository defines the identity store keyed by normalized email.
type IdentityRepository interface {
	// FindByEmail returns the identity or ErrIdentityNotFound.
	FindByEmail(ctx context.Context, email string) (*models.Identity, error)

	// Create inserts a new identity, failing with ErrIdentityExists if the
	// email is already taken.
	Create(ctx context.Context, identity *models.Identity) error

	// FindOrCreate returns the existing identity for the email or atomically
	// creates one. The boolean reports whether a new row was created.
	FindOrCreate(ctx context.Context, identity *models.Identity) (*models.Identity, bool, error)

	// TouchOTPIssued stamps last_otp_issued_at, informational only.
	TouchOTPIssued(ctx context.Context, email string) error

	HealthCheck(ctx context.Context) error
}
