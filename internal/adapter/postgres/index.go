package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/aopguard/internal/domain/audit"
	"github.com/Strob0t/aopguard/internal/port/auditstore"
)

// Index mirrors persisted audit records into the audit_records table for
// cross-session queries. The record files remain authoritative: the auditor
// never reads from the index.
type Index struct {
	pool *pgxpool.Pool
}

// NewIndex creates an Index backed by the given connection pool.
func NewIndex(pool *pgxpool.Pool) *Index {
	return &Index{pool: pool}
}

// Publish upserts rec. Re-publishing the same record is a no-op.
func (x *Index) Publish(ctx context.Context, rec *audit.Record, location string) error {
	_, err := x.pool.Exec(ctx,
		`INSERT INTO audit_records (audit_record_id, session_id, task_id, record_type, actor_name, actor_role, access_decision, recorded_at, file_path, payload)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (audit_record_id) DO NOTHING`,
		rec.ID, rec.SessionID, rec.TaskID, string(rec.Kind), rec.Actor.Name, string(rec.Actor.Role),
		string(rec.Governance.AccessDecision), rec.Timestamp, location, []byte(rec.Payload))
	if err != nil {
		return fmt.Errorf("index audit record %s: %w", rec.ID, err)
	}
	return nil
}

// ListSessions returns every indexed session with its record count and time
// span, most recently active first.
func (x *Index) ListSessions(ctx context.Context) ([]auditstore.SessionInfo, error) {
	rows, err := x.pool.Query(ctx,
		`SELECT session_id, COUNT(*), MIN(recorded_at), MAX(recorded_at)
		 FROM audit_records
		 GROUP BY session_id
		 ORDER BY MAX(recorded_at) DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []auditstore.SessionInfo{}
	for rows.Next() {
		var s auditstore.SessionInfo
		if err := rows.Scan(&s.SessionID, &s.Records, &s.FirstAt, &s.LastAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// Ping reports whether the database is reachable.
func (x *Index) Ping(ctx context.Context) error {
	return x.pool.Ping(ctx)
}
