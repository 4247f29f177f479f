package delivery

import (
	"context"

	"go.uber.org/zap"
)

// LogGateway is the non-production stand-in: it writes the message to the
// log instead of sending it, so local and test environments need no SMTP
// server to exercise the full request flow.
type LogGateway struct {
	logger *zap.Logger
}

func NewLogGateway(logger *zap.Logger) *LogGateway {
	return &LogGateway{logger: logger}
}

func (g *LogGateway) Send(ctx context.Context, destination, subject, body string) error {
	g.logger.Info("Delivery (log backend)",
		zap.String("destination", destination),
		zap.String("subject", subject),
		zap.String("body", body),
	)
	return nil
}
