package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Strob0t/aopguard/internal/domain/audit"
	"github.com/Strob0t/aopguard/internal/domain/protocol"
	"github.com/Strob0t/aopguard/internal/logger"
	"github.com/Strob0t/aopguard/internal/port/messagequeue"
)

// Publisher announces persisted audit records and version-fallback events on
// the message queue. It satisfies auditstore.Sink and the router's
// FallbackNotifier.
type Publisher struct {
	q messagequeue.Queue
}

// NewPublisher creates a Publisher on top of q.
func NewPublisher(q messagequeue.Queue) *Publisher {
	return &Publisher{q: q}
}

// Publish sends a record notification on audit.records.<KIND>.
func (p *Publisher) Publish(ctx context.Context, rec *audit.Record, location string) error {
	subject := messagequeue.RecordSubject(string(rec.Kind))
	return p.send(logger.WithCorrelationID(ctx, rec.SessionID), subject, messagequeue.RecordPublishedPayload{
		AuditRecordID: rec.ID,
		SessionID:     rec.SessionID,
		TaskID:        rec.TaskID,
		RecordType:    string(rec.Kind),
		Timestamp:     rec.Timestamp,
		Location:      location,
	})
}

// NotifyFallback sends a version-fallback event on audit.fallback.
func (p *Publisher) NotifyFallback(ctx context.Context, ev protocol.FallbackEvent) error {
	return p.send(ctx, messagequeue.SubjectAuditFallback, messagequeue.FallbackEventPayload{
		Event:           ev.Event,
		Reason:          ev.Reason,
		ValidationError: ev.ValidationError,
		InputPreview:    ev.InputPreview,
	})
}

func (p *Publisher) send(ctx context.Context, subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", subject, err)
	}
	if err := messagequeue.Validate(subject, data); err != nil {
		return err
	}
	return p.q.Publish(ctx, subject, data)
}
