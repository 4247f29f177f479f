// Package audit records authentication outcomes to the configured sinks.
// Recording is always best-effort: a sink failure is logged and never
// surfaces to the request that produced the event.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"email-auth-service/internal/client"
	"email-auth-service/internal/models"
	"email-auth-service/internal/util"
)

const insertEventQuery = `
    INSERT INTO auth_events (event_id, event_type, email, identity_id, outcome, detail, occurred_at)`

// Recorder fans auth events out to Kafka and ClickHouse. Either sink may be
// nil when disabled by configuration; a nil *Recorder is also safe to call.
type Recorder struct {
	producer   *client.KafkaProducer
	clickhouse *client.ClickHouseClient
	logger     *zap.Logger
}

func NewRecorder(producer *client.KafkaProducer, clickhouse *client.ClickHouseClient, logger *zap.Logger) *Recorder {
	return &Recorder{
		producer:   producer,
		clickhouse: clickhouse,
		logger:     logger,
	}
}

// Record publishes one auth event. The caller's context deadline does not
// apply; the recorder uses its own short timeout so a slow sink cannot hold
// a request open.
func (r *Recorder) Record(eventType, email, identityID, outcome, detail string) {
	if r == nil {
		return
	}

	event := &models.AuthEvent{
		EventID:    uuid.New().String(),
		EventType:  eventType,
		Email:      email,
		IdentityID: identityID,
		Outcome:    outcome,
		Detail:     detail,
		OccurredAt: time.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if r.producer != nil {
		payload, err := json.Marshal(event)
		if err != nil {
			r.logger.Error("Failed to marshal auth event", zap.Error(err))
			return
		}
		if err := r.producer.Publish(ctx, []byte(event.Email), payload); err != nil {
			r.logger.Warn("Failed to publish auth event",
				zap.String("event_type", event.EventType),
				zap.Error(err))
		}
	}

	if r.clickhouse != nil {
		row := []interface{}{
			event.EventID, event.EventType, event.Email,
			event.IdentityID, event.Outcome, event.Detail, event.OccurredAt,
		}
		if err := r.clickhouse.BatchInsert(ctx, insertEventQuery, [][]interface{}{row}); err != nil {
			r.logger.Warn("Failed to insert auth event",
				zap.String("event_type", event.EventType),
				zap.Error(err))
		}
	}

	util.Debug("Auth event recorded",
		zap.String("event_type", event.EventType),
		zap.String("outcome", event.Outcome))
}
