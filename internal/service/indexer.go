package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Strob0t/aopguard/internal/domain"
	"github.com/Strob0t/aopguard/internal/port/auditstore"
	"github.com/Strob0t/aopguard/internal/port/messagequeue"
)

// RecordIndexer mirrors records announced on audit.records.<KIND> into a
// sink, typically the Postgres index. The announcement only carries the
// record id; the record itself is read back from the store.
type RecordIndexer struct {
	store auditstore.Store
	sink  auditstore.Sink
}

// NewRecordIndexer creates a RecordIndexer reading from store and writing to sink.
func NewRecordIndexer(store auditstore.Store, sink auditstore.Sink) *RecordIndexer {
	return &RecordIndexer{store: store, sink: sink}
}

// Handle is a messagequeue.Handler. A returned error leaves the announcement
// to the queue's retry and dead-letter handling.
func (ix *RecordIndexer) Handle(ctx context.Context, subject string, data []byte) error {
	var p messagequeue.RecordPublishedPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode %s: %w", subject, err)
	}

	batch, err := ix.store.LoadSession(ctx, p.SessionID)
	if err != nil {
		return fmt.Errorf("load session %s: %w", p.SessionID, err)
	}
	for _, rec := range batch.Records {
		if rec.ID != p.AuditRecordID {
			continue
		}
		if err := ix.sink.Publish(ctx, rec, p.Location); err != nil {
			return fmt.Errorf("index record %s: %w", rec.ID, err)
		}
		slog.Debug("record indexed", "record_id", rec.ID, "session_id", rec.SessionID, "record_type", rec.Kind)
		return nil
	}
	return fmt.Errorf("record %s of session %s: %w", p.AuditRecordID, p.SessionID, domain.ErrNotFound)
}
