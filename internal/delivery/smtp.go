package delivery

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"

	"email-auth-service/internal/config"
	"email-auth-service/internal/util"

	"go.uber.org/zap"
)

// SMTPGateway delivers codes over SMTP via gomail.
type SMTPGateway struct {
	config *config.SMTPConfig
	dialer *gomail.Dialer
}

func NewSMTPGateway(cfg *config.SMTPConfig) *SMTPGateway {
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)

	return &SMTPGateway{
		config: cfg,
		dialer: dialer,
	}
}

// Send dials and sends a single plain-text message. The context bounds the
// whole operation: if it expires before the SMTP exchange finishes, the
// send counts as failed even if the server later accepted it.
func (g *SMTPGateway) Send(ctx context.Context, destination, subject, body string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", g.config.From)
	msg.SetHeader("To", destination)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	done := make(chan error, 1)
	go func() {
		done <- g.dialer.DialAndSend(msg)
	}()

	select {
	case err := <-done:
		if err != nil {
			util.Error("SMTP delivery failed",
				zap.String("destination", destination),
				zap.String("host", g.config.Host),
				zap.Error(err))
			return fmt.Errorf("smtp delivery failed: %w", err)
		}
	case <-ctx.Done():
		util.Error("SMTP delivery timed out",
			zap.String("destination", destination),
			zap.String("host", g.config.Host),
			zap.Error(ctx.Err()))
		return fmt.Errorf("smtp delivery timed out: %w", ctx.Err())
	}

	util.Debug("Code delivered via SMTP",
		zap.String("destination", destination))

	return nil
}
