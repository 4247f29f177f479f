package service

import (
	"errors"
	"fmt"
)

// Domain errors are expected outcomes and are surfaced to the caller as-is.
// Infrastructure failures are wrapped and propagated separately; the handler
// renders those as generic failures while the detail stays in the logs.
var (
	// ErrRateLimited means the requester exhausted the issuance window.
	ErrRateLimited = errors.New("too many code requests")

	// ErrDeliveryFailed means the code could not be delivered; the record
	// created for it has been compensated away (best effort).
	ErrDeliveryFailed = errors.New("code delivery failed")

	// ErrInvalidOrExpiredOTP deliberately collapses "no such record",
	// "wrong code" and "expired" so callers cannot tell which it was.
	ErrInvalidOrExpiredOTP = errors.New("invalid or expired code")

	// ErrOTPBlocked is terminal: the record hit its attempt cap and can
	// never be consumed, even before expiry.
	ErrOTPBlocked = errors.New("too many failed attempts")

	// ErrIdentityConflict should be unreachable given find-or-create
	// semantics, but the verify path guards against it anyway.
	ErrIdentityConflict = errors.New("conflicting identity for email")

	ErrInvalidCredentials     = errors.New("invalid email or password")
	ErrEmailAlreadyRegistered = errors.New("email already registered")
	ErrInvalidInput           = errors.New("invalid input")
)

// RemainingAttemptsError is an ErrInvalidOrExpiredOTP carrying how many
// verification attempts are left on the record that rejected the code.
type RemainingAttemptsError struct {
	Remaining int
}

func (e *RemainingAttemptsError) Error() string {
	return fmt.Sprintf("invalid code, %d attempts remaining", e.Remaining)
}

func (e *RemainingAttemptsError) Unwrap() error {
	return ErrInvalidOrExpiredOTP
}
