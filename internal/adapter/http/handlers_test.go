package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/aopguard/internal/adapter/filestore"
	"github.com/Strob0t/aopguard/internal/domain/aoperr"
	"github.com/Strob0t/aopguard/internal/domain/audit"
	"github.com/Strob0t/aopguard/internal/domain/guardrail"
	"github.com/Strob0t/aopguard/internal/domain/protocol"
	"github.com/Strob0t/aopguard/internal/port/auditstore"
	"github.com/Strob0t/aopguard/internal/service"
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
  }
}`

const responseTemplate = `{
  "aop_version": "2.0.2-C",
  "message_type": "RESPONSE",
  "session_id": "sess-001",
  "task_id": "T-1",
  "agent": {"name": "Coder", "provider": "CLAUDE", "model": "sonnet"},
  "task_status": {"state": "COMPLETED", %s"message": "done"},
  "execution_summary": {"summary": "Parser refactored", "actions": %s},
  "timing": {
    "started_at": "2026-03-01T10:00:00Z",
    "completed_at": "2026-03-01T10:05:00Z",
    "duration_seconds": 300
  },
  "cost_tracking": {"actual_cost_usd": 0.42}
}`

func responseJSON(finalSignal bool, actions int) string {
	signal := ""
	if finalSignal {
		signal = `"final_signal": "SUCCESS", `
	}
	list := make([]string, actions)
	for i := range list {
		list[i] = fmt.Sprintf("%q", fmt.Sprintf("step %d", i))
	}
	return fmt.Sprintf(responseTemplate, signal, "["+strings.Join(list, ",")+"]")
}

type stubLister struct {
	sessions []auditstore.SessionInfo
	err      error
}

func (s *stubLister) ListSessions(context.Context) ([]auditstore.SessionInfo, error) {
	return s.sessions, s.err
}

func newTestAPI(t *testing.T) (*Handlers, http.Handler) {
	t.Helper()
	store, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("filestore.New: %v", err)
	}
	h := &Handlers{
		Router:     service.NewVersionRouter(),
		GuardRails: service.NewGuardRailEngine(),
		Auditor:    service.NewRepoAuditor(store, nil),
		Store:      store,
	}
	r := chi.NewRouter()
	MountRoutes(r, h)
	return h, r
}

func seedSession(t *testing.T, h *Handlers) {
	t.Helper()
	ctx := context.Background()
	l, err := service.NewAuditLogger(h.Store, "sess-001")
	if err != nil {
		t.Fatal(err)
	}
	env, err := protocol.DecodeEnvelope([]byte(taskEnvelopeJSON))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := protocol.DecodeResponse([]byte(responseJSON(true, 1)))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.LogTaskDispatched(ctx, env); err != nil {
		t.Fatal(err)
	}
	if _, err := l.LogGuardRailCheck(ctx, "T-1", audit.GuardRailCheck{
		CheckType: string(guardrail.CheckPayloadLimit), Result: string(guardrail.OutcomePass), Details: "within limits",
	}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := l.LogResponseReceived(ctx, resp); err != nil {
		t.Fatal(err)
	}
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestDetect(t *testing.T) {
	_, api := newTestAPI(t)

	tests := []struct {
		name         string
		body         string
		wantVersion  protocol.Kind
		wantFallback bool
		wantCurrent  bool
	}{
		{"current envelope", taskEnvelopeJSON, protocol.KindCurrent, false, true},
		{"legacy prompt", "Task: refactor the parser\nAgent: coder", protocol.KindLegacy, false, false},
		{"unstructured", "please help", protocol.KindUnstructured, false, false},
		{"invalid current falls back", `{"aop_version": "2.0.2-C", "message_type": "TASK"}`, protocol.KindLegacy, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, api, http.MethodPost, "/api/v2/detect", tt.body)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
			}
			got := decodeBody[detectResponse](t, rec)
			if got.Version != tt.wantVersion {
				t.Errorf("version = %q, want %q", got.Version, tt.wantVersion)
			}
			if got.FallbackTriggered != tt.wantFallback {
				t.Errorf("fallback = %v, want %v", got.FallbackTriggered, tt.wantFallback)
			}
			if got.Routing.UseCurrentExecutor != tt.wantCurrent {
				t.Errorf("use_v2_executor = %v, want %v", got.Routing.UseCurrentExecutor, tt.wantCurrent)
			}
			if tt.wantFallback && got.ValidationError == "" {
				t.Error("fallback should carry the validation error")
			}
		})
	}
}

func TestDetectEmptyBody(t *testing.T) {
	_, api := newTestAPI(t)
	rec := do(t, api, http.MethodPost, "/api/v2/detect", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestValidateTaskGuardRails(t *testing.T) {
	_, api := newTestAPI(t)

	rec := do(t, api, http.MethodPost, "/api/v2/guardrails/task", taskEnvelopeJSON)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	res := decodeBody[guardrail.Result](t, rec)
	if !res.Allowed {
		t.Errorf("expected allowed, got violations %+v", res.Violations)
	}
	if _, ok := res.EffectiveConfig["envelope_size_bytes"]; !ok {
		t.Errorf("effective config should carry envelope_size_bytes, got %v", res.EffectiveConfig)
	}
}

func TestValidateTaskGuardRailsRejectsBadEnvelope(t *testing.T) {
	_, api := newTestAPI(t)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   aoperr.Code
	}{
		{"not json", `{"aop_version":`, http.StatusBadRequest, aoperr.CodeParseFailure},
		{"missing task", `{"aop_version": "2.0.2-C", "message_type": "TASK"}`, http.StatusUnprocessableEntity, aoperr.CodeSchemaValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, api, http.MethodPost, "/api/v2/guardrails/task", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			got := decodeBody[errorResponse](t, rec)
			if got.Code != tt.wantCode {
				t.Errorf("error_code = %q, want %q", got.Code, tt.wantCode)
			}
		})
	}
}

func TestValidateResponseGuardRails(t *testing.T) {
	_, api := newTestAPI(t)

	tests := []struct {
		name         string
		query        string
		body         string
		wantStatus   int
		wantWarnRule guardrail.Rule
	}{
		{"no requirements", "", responseJSON(true, 1), http.StatusOK, ""},
		{"requirements met", "?require_final_signal=true&require_minimal_report=true", responseJSON(true, 2), http.StatusOK, ""},
		{"too many actions", "", responseJSON(true, protocol.SoftActions+1), http.StatusOK, guardrail.RuleExecutionActionsLimit},
		{"missing final signal", "?require_final_signal=true", responseJSON(false, 1), http.StatusUnprocessableEntity, ""},
		{"bad flag", "?require_final_signal=maybe", responseJSON(true, 1), http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, api, http.MethodPost, "/api/v2/guardrails/response"+tt.query, tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if rec.Code != http.StatusOK {
				return
			}
			res := decodeBody[guardrail.Result](t, rec)
			if !res.Allowed {
				t.Errorf("expected allowed, got %+v", res.Violations)
			}
			if tt.wantWarnRule != "" && (len(res.Warnings) != 1 || res.Warnings[0].Rule != tt.wantWarnRule) {
				t.Errorf("warnings = %+v, want one %s", res.Warnings, tt.wantWarnRule)
			}
		})
	}
}

func TestGuardRailsFromQuery(t *testing.T) {
	tests := []struct {
		query         string
		wantNil       bool
		finalSignal   bool
		minimalReport bool
	}{
		{"", true, false, false},
		{"?require_final_signal=true", false, true, false},
		{"?require_minimal_report=1", false, false, true},
		{"?require_final_signal=false&require_minimal_report=true", false, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			gr, err := guardRailsFromQuery(httptest.NewRequest(http.MethodPost, "/x"+tt.query, http.NoBody))
			if err != nil {
				t.Fatal(err)
			}
			if (gr == nil) != tt.wantNil {
				t.Fatalf("gr = %+v, wantNil %v", gr, tt.wantNil)
			}
			if gr == nil {
				return
			}
			if gr.RequiresFinalSignal() != tt.finalSignal {
				t.Errorf("final signal = %v, want %v", gr.RequiresFinalSignal(), tt.finalSignal)
			}
			if gr.RequiresMinimalReport() != tt.minimalReport {
				t.Errorf("minimal report = %v, want %v", gr.RequiresMinimalReport(), tt.minimalReport)
			}
		})
	}
}

func TestListSessions(t *testing.T) {
	h, api := newTestAPI(t)

	rec := do(t, api, http.MethodGet, "/api/v2/sessions", "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("disabled index should list no sessions, got %d %s", rec.Code, rec.Body.String())
	}

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	h.Sessions = &stubLister{sessions: []auditstore.SessionInfo{{SessionID: "sess-001", Records: 2, FirstAt: now, LastAt: now}}}
	rec = do(t, api, http.MethodGet, "/api/v2/sessions", "")
	got := decodeBody[[]auditstore.SessionInfo](t, rec)
	if len(got) != 1 || got[0].SessionID != "sess-001" || got[0].Records != 2 {
		t.Errorf("sessions = %+v", got)
	}

	h.Sessions = &stubLister{err: errors.New("connection refused")}
	rec = do(t, api, http.MethodGet, "/api/v2/sessions", "")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "connection refused") {
		t.Error("internal error details must not leak to the client")
	}
}

func TestSessionRecordsAuditAndReplay(t *testing.T) {
	h, api := newTestAPI(t)
	seedSession(t, h)

	rec := do(t, api, http.MethodGet, "/api/v2/sessions/sess-001/records", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("records status = %d", rec.Code)
	}
	records := decodeBody[[]*audit.Record](t, rec)
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[0].Kind != audit.KindTaskDispatched || records[2].Kind != audit.KindResponseReceived {
		t.Errorf("records out of order: %s, %s", records[0].Kind, records[2].Kind)
	}

	rec = do(t, api, http.MethodGet, "/api/v2/sessions/sess-001/audit", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("audit status = %d", rec.Code)
	}
	report := decodeBody[audit.Report](t, rec)
	if report.SessionID != "sess-001" || report.TotalRecords != 3 {
		t.Errorf("report = %+v", report)
	}
	if report.OverallStatus != audit.StatusPass {
		t.Errorf("overall = %s, findings %+v", report.OverallStatus, report.Findings)
	}

	rec = do(t, api, http.MethodGet, "/api/v2/sessions/sess-001/replay", "")
	events := decodeBody[[]audit.ReplayEvent](t, rec)
	if len(events) != 3 || events[0].Sequence != 1 {
		t.Errorf("replay = %+v", events)
	}
}

func TestSessionEndpointsEmptySession(t *testing.T) {
	_, api := newTestAPI(t)

	rec := do(t, api, http.MethodGet, "/api/v2/sessions/nobody/records", "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("records = %d %s", rec.Code, rec.Body.String())
	}
	rec = do(t, api, http.MethodGet, "/api/v2/sessions/nobody/replay", "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("replay = %d %s", rec.Code, rec.Body.String())
	}
	rec = do(t, api, http.MethodGet, "/api/v2/sessions/nobody/audit", "")
	report := decodeBody[audit.Report](t, rec)
	if report.OverallStatus != audit.StatusWarn {
		t.Errorf("empty session audit = %s, want WARN", report.OverallStatus)
	}
}

func TestSummarizeSession(t *testing.T) {
	h, api := newTestAPI(t)
	seedSession(t, h)

	rec := do(t, api, http.MethodPost, "/api/v2/sessions/sess-001/summary", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	summaryRec := decodeBody[audit.Record](t, rec)
	if summaryRec.Kind != audit.KindSessionSummary {
		t.Fatalf("kind = %s", summaryRec.Kind)
	}
	sum, err := audit.DecodePayload[audit.SessionSummary](&summaryRec)
	if err != nil {
		t.Fatal(err)
	}
	if sum.TotalTasks != 1 || sum.Completed != 1 {
		t.Errorf("summary = %+v", sum)
	}

	rec = do(t, api, http.MethodGet, "/api/v2/sessions/sess-001/records", "")
	if got := decodeBody[[]*audit.Record](t, rec); len(got) != 4 {
		t.Errorf("summary record should be persisted, got %d records", len(got))
	}
}

func TestSummarizeSessionRejectsBadID(t *testing.T) {
	_, api := newTestAPI(t)
	rec := do(t, api, http.MethodPost, "/api/v2/sessions/bad*id/summary", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 (body %s)", rec.Code, rec.Body.String())
	}
}

func TestStreamReplay(t *testing.T) {
	h, api := newTestAPI(t)
	seedSession(t, h)

	srv := httptest.NewServer(api)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v2/sessions/sess-001/replay/ws"
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = c.CloseNow() }()

	for i := 1; i <= 3; i++ {
		var ev audit.ReplayEvent
		if err := wsjson.Read(ctx, c, &ev); err != nil {
			t.Fatalf("read event %d: %v", i, err)
		}
		if ev.Sequence != i {
			t.Errorf("sequence = %d, want %d", ev.Sequence, i)
		}
	}
	var done replayDone
	if err := wsjson.Read(ctx, c, &done); err != nil {
		t.Fatalf("read completion: %v", err)
	}
	if done.Type != "replay_complete" || done.Events != 3 {
		t.Errorf("completion = %+v", done)
	}

	_, _, err = c.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		t.Errorf("expected normal closure, got %v", err)
	}
}

func TestHealth(t *testing.T) {
	h, api := newTestAPI(t)

	rec := do(t, api, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	h.Probes = map[string]Probe{
		"postgres": func(context.Context) error { return nil },
		"nats":     func(context.Context) error { return errors.New("disconnected") },
	}
	rec = do(t, api, http.MethodGet, "/health", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	got := decodeBody[healthStatus](t, rec)
	if got.Status != "degraded" || got.Components["postgres"] != "ok" || got.Components["nats"] != "error: disconnected" {
		t.Errorf("health = %+v", got)
	}
}

func TestWriteDomainError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"permission denied", aoperr.New(aoperr.CodePermissionDenied, "", nil), http.StatusForbidden},
		{"context overflow", aoperr.New(aoperr.CodeContextOverflow, "", nil), http.StatusRequestEntityTooLarge},
		{"cost limit", aoperr.New(aoperr.CodeCostLimitExceeded, "", nil), http.StatusUnprocessableEntity},
		{"wrapped parse failure", fmt.Errorf("decode: %w", aoperr.New(aoperr.CodeParseFailure, "", nil)), http.StatusBadRequest},
		{"infrastructure", errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeDomainError(rec, tt.err, "not found")
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}
