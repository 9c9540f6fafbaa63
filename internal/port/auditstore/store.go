// Package auditstore defines the port interfaces for persisting and reading
// audit records.
package auditstore

import (
	"context"
	"time"

	"github.com/Strob0t/aopguard/internal/domain/audit"
)

// SkippedFile is a persisted record that could not be read or decoded.
type SkippedFile struct {
	Path string
	Err  error
}

// Batch is the result of reading every valid record of a session.
// Records are sorted by timestamp; unreadable files are reported in Skipped.
type Batch struct {
	Records []*audit.Record
	Skipped []SkippedFile
}

// Store is the durable record store. It is the single source of truth for
// summaries, audits and replays.
type Store interface {
	// Append persists one record atomically and returns its location.
	Append(ctx context.Context, rec *audit.Record) (string, error)

	// LoadSession returns every valid record of the session. A corrupt
	// record never fails the whole read.
	LoadSession(ctx context.Context, sessionID string) (*Batch, error)
}

// Sink receives each record after it has been durably persisted.
// Sinks are best-effort mirrors; their failures never fail the write.
type Sink interface {
	Publish(ctx context.Context, rec *audit.Record, location string) error
}

// SessionInfo describes one session known to a companion index.
type SessionInfo struct {
	SessionID string    `json:"session_id"`
	Records   int       `json:"records"`
	FirstAt   time.Time `json:"first_at"`
	LastAt    time.Time `json:"last_at"`
}

// SessionLister lists sessions from a companion index.
type SessionLister interface {
	ListSessions(ctx context.Context) ([]SessionInfo, error)
}
