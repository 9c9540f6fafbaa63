package service

import (
	"context"
	"sync"
	"testing"

	"github.com/Strob0t/aopguard/internal/adapter/filestore"
	"github.com/Strob0t/aopguard/internal/domain/audit"
	"github.com/Strob0t/aopguard/internal/domain/protocol"
	"github.com/Strob0t/aopguard/internal/port/auditstore"
)

var (
	_ auditstore.Sink  = (*recordingSink)(nil)
	_ FallbackNotifier = (*recordingNotifier)(nil)
)

const taskEnvelopeJSON = `{
  "aop_version": "2.0.2-C",
  "message_type": "TASK",
  "session": {
    "session_id": "sess-001",
    "created_at": "2026-03-01T10:00:00Z",
    "orchestrator": "Magneto",
    "origin": "CLI"
  },
  "target": {"agent_name": "Coder", "role": "EXECUTOR", "provider": "CLAUDE", "model": "sonnet"},
  "task": {
    "task_id": "T-1",
    "objective": "Refactor the parser",
    "category": "CODE_REFACTORING",
    "complexity": "MEDIUM",
    "environment": {"workspace_root": "/repo"},
    "budgets": {"max_cost_usd": 1.5}
  },
  "guard_rails": {"timeout_seconds": 600}
}`

const responseJSON = `{
  "aop_version": "2.0.2-C",
  "message_type": "RESPONSE",
  "session_id": "sess-001",
  "task_id": "T-1",
  "agent": {"name": "Coder", "provider": "CLAUDE", "model": "sonnet"},
  "task_status": {"state": "COMPLETED", "final_signal": "SUCCESS", "message": "done"},
  "execution_summary": {"summary": "Parser refactored", "actions": ["edit parser.go"]},
  "timing": {
    "started_at": "2026-03-01T10:00:00Z",
    "completed_at": "2026-03-01T10:05:00Z",
    "duration_seconds": 300
  },
  "cost_tracking": {"actual_cost_usd": 0.42}
}`

func testEnvelope(t *testing.T) *protocol.Envelope {
	t.Helper()
	env, err := protocol.DecodeEnvelope([]byte(taskEnvelopeJSON))
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	return env
}

func testResponse(t *testing.T) *protocol.Response {
	t.Helper()
	resp, err := protocol.DecodeResponse([]byte(responseJSON))
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	return resp
}

func testStore(t *testing.T) *filestore.Store {
	t.Helper()
	store, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("filestore.New: %v", err)
	}
	return store
}

func testLogger(t *testing.T, store auditstore.Store, sessionID string, opts ...AuditLoggerOption) *AuditLogger {
	t.Helper()
	l, err := NewAuditLogger(store, sessionID, opts...)
	if err != nil {
		t.Fatalf("NewAuditLogger: %v", err)
	}
	return l
}

type recordingSink struct {
	mu        sync.Mutex
	records   []*audit.Record
	locations []string
	err       error
}

func (s *recordingSink) Publish(_ context.Context, rec *audit.Record, location string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	s.locations = append(s.locations, location)
	return s.err
}

type recordingNotifier struct {
	events []protocol.FallbackEvent
	err    error
}

func (n *recordingNotifier) NotifyFallback(_ context.Context, ev protocol.FallbackEvent) error {
	n.events = append(n.events, ev)
	return n.err
}

func ptr[T any](v T) *T { return &v }
