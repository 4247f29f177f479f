// Package delivery abstracts sending an OTP code to its requester. The
// backend is chosen once at startup by configuration; business logic only
// ever sees the Gateway interface.
package delivery

import (
	"context"
	"fmt"

	"email-auth-service/internal/config"

	"go.uber.org/zap"
)

// Gateway sends a message to a destination. A timeout or transport error is
// a delivery failure; there is no "maybe sent" outcome.
type Gateway interface {
	Send(ctx context.Context, destination, subject, body string) error
}

// NewGateway selects the delivery backend from configuration.
func NewGateway(cfg *config.Config, logger *zap.Logger) (Gateway, error) {
	switch cfg.Delivery.Provider {
	case "smtp":
		return NewSMTPGateway(&cfg.SMTP), nil
	case "log":
		return NewLogGateway(logger), nil
	default:
		return nil, fmt.Errorf("unknown delivery provider: %q", cfg.Delivery.Provider)
	}
}

// CodeMessage renders the subject and body for an OTP code email.
func CodeMessage(code string, ttlMinutes int) (subject, body string) {
	subject = "Your login code"
	body = fmt.Sprintf("Your one-time login code is %s. It expires in %d minutes.\n\nIf you did not request this code, you can ignore this message.", code, ttlMinutes)
	return subject, body
}
