package models

import "time"

// Auth event types recorded by the audit pipeline.
const (
	EventOTPRequested = "otp.requested"
	EventOTPVerified  = "otp.verified"
	EventOTPRejected  = "otp.rejected"
	EventRegister     = "auth.register"
	EventLogin        = "auth.login"
)

// AuthEvent is a best-effort audit record of an authentication outcome.
// Published to Kafka and batched into ClickHouse; never blocks a request.
type AuthEvent struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	Email      string    `json:"email"`
	IdentityID string    `json:"identity_id,omitempty"`
	Outcome    string    `json:"outcome"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
