package models

import "time"

// OtpRecord is one row per OTP issuance. A record is active while it is
// unused, unexpired, and below the attempt cap; every other state is terminal.
type OtpRecord struct {
	OtpID     string    `db:"otp_id"`
	Requester string    `db:"requester"`
	Code      string    `db:"code"`
	IssuedAt  time.Time `db:"issued_at"`
	ExpiresAt time.Time `db:"expires_at"`
	Attempts  int       `db:"attempts"`
	Used      bool      `db:"used"`
}

// IsExpired reports whether the record has passed its expiry at the given instant.
func (r *OtpRecord) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// IsActive reports whether the record can still be used for verification.
func (r *OtpRecord) IsActive(now time.Time) bool {
	return !r.Used && !r.IsExpired(now)
}
