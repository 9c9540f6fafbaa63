package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Strob0t/aopguard/internal/domain"
	"github.com/Strob0t/aopguard/internal/domain/aoperr"
	"github.com/Strob0t/aopguard/internal/domain/audit"
	"github.com/Strob0t/aopguard/internal/domain/guardrail"
)

func TestNewAuditLoggerRejectsBadSession(t *testing.T) {
	for _, id := range []string{"", "..", "a/b", "sess*"} {
		if _, err := NewAuditLogger(testStore(t), id); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("session %q: expected validation error, got %v", id, err)
		}
	}
}

func TestLogTaskDispatched(t *testing.T) {
	store := testStore(t)
	sink := &recordingSink{}
	l := testLogger(t, store, "sess-001", WithSinks(sink))

	env := testEnvelope(t)
	env.Task.ParentTaskID = "T-0"
	env.Task.Attempt = 2
	rec, err := l.LogTaskDispatched(context.Background(), env)
	if err != nil {
		t.Fatalf("LogTaskDispatched: %v", err)
	}

	if rec.Kind != audit.KindTaskDispatched || rec.TaskID != "T-1" || rec.SessionID != "sess-001" {
		t.Errorf("unexpected record header %+v", rec)
	}
	if rec.Actor.Name != "Magneto" || rec.Actor.Role != audit.RoleOrchestrator {
		t.Errorf("unexpected actor %+v", rec.Actor)
	}
	bs := rec.Governance.BudgetStatus
	if bs == nil || bs.MaxCostUSD == nil || *bs.MaxCostUSD != 1.5 || !bs.WithinBudget {
		t.Errorf("unexpected budget status %+v", bs)
	}
	if rec.Governance.AccessDecision != audit.AccessAllowed {
		t.Errorf("access decision = %s, want ALLOWED", rec.Governance.AccessDecision)
	}
	if rec.Context.ParentTaskID != "T-0" || rec.Context.Attempt != 2 || rec.Context.CorrelationID != "sess-001" {
		t.Errorf("unexpected context %+v", rec.Context)
	}
	if rec.Version != audit.RecordVersion {
		t.Errorf("version = %q", rec.Version)
	}

	path := filepath.Join(store.Dir(), audit.FileName(rec))
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("record file missing: %v", err)
	}
	if len(sink.records) != 1 || sink.locations[0] != path {
		t.Errorf("sink got %d records at %v, want 1 at %s", len(sink.records), sink.locations, path)
	}
}

func TestLogTaskDispatchedDefaultOrchestrator(t *testing.T) {
	l := testLogger(t, testStore(t), "sess-001", WithOrchestrator("Conductor"))
	env := testEnvelope(t)
	env.Session.Orchestrator = ""

	rec, err := l.LogTaskDispatched(context.Background(), env)
	if err != nil {
		t.Fatal(err)
	}
	if rec.Actor.Name != "Conductor" {
		t.Errorf("actor = %q, want Conductor", rec.Actor.Name)
	}
}

func TestLogResponseReceived(t *testing.T) {
	l := testLogger(t, testStore(t), "sess-001")
	rec, err := l.LogResponseReceived(context.Background(), testResponse(t))
	if err != nil {
		t.Fatalf("LogResponseReceived: %v", err)
	}
	if rec.Actor.Name != "Coder" || rec.Actor.Role != audit.RoleExecutor || rec.Actor.Model != "sonnet" || rec.Actor.Provider != "CLAUDE" {
		t.Errorf("unexpected actor %+v", rec.Actor)
	}
	if bs := rec.Governance.BudgetStatus; bs == nil || bs.CurrentCostUSD != 0.42 {
		t.Errorf("unexpected budget status %+v", bs)
	}
	want := []string{string(guardrail.CheckFinalSignal), string(guardrail.CheckMinimalReport)}
	if len(rec.Governance.GuardRailsApplied) != 2 || rec.Governance.GuardRailsApplied[0] != want[0] || rec.Governance.GuardRailsApplied[1] != want[1] {
		t.Errorf("guard rails applied = %v, want %v", rec.Governance.GuardRailsApplied, want)
	}
}

func TestLogGuardRailCheckAccessDecision(t *testing.T) {
	tests := []struct {
		result string
		want   audit.AccessDecision
	}{
		{"PASS", audit.AccessAllowed},
		{"WARN", audit.AccessAllowed},
		{"FAIL", audit.AccessDenied},
	}
	l := testLogger(t, testStore(t), "sess-001")
	for _, tt := range tests {
		t.Run(tt.result, func(t *testing.T) {
			code := string(aoperr.CodeCostLimitExceeded)
			rec, err := l.LogGuardRailCheck(context.Background(), "T-1", audit.GuardRailCheck{
				CheckType: string(guardrail.CheckBudget),
				Result:    tt.result,
				Details:   "cost check",
				ErrorCode: &code,
			}, nil)
			if err != nil {
				t.Fatal(err)
			}
			if rec.Governance.AccessDecision != tt.want {
				t.Errorf("access decision = %s, want %s", rec.Governance.AccessDecision, tt.want)
			}
			if rec.Governance.ReasonCode != code {
				t.Errorf("reason code = %q, want %q", rec.Governance.ReasonCode, code)
			}
			if rec.Actor.Role != audit.RoleGovernance {
				t.Errorf("role = %s, want GOVERNANCE", rec.Actor.Role)
			}
		})
	}
}

func TestLogRoutingDecision(t *testing.T) {
	l := testLogger(t, testStore(t), "sess-001")
	reason := "V2_SCHEMA_VALIDATION_FAILED"
	rec, err := l.LogRoutingDecision(context.Background(), "T-1", audit.RoutingDecision{
		InputVersion:      "v1",
		RoutedTo:          "Coder",
		ModelSelected:     "sonnet",
		FallbackTriggered: true,
		FallbackReason:    &reason,
	})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Actor.Role != audit.RoleRouter || rec.Governance.ReasonCode != reason {
		t.Errorf("unexpected record %+v", rec)
	}
	d, err := audit.DecodePayload[audit.RoutingDecision](rec)
	if err != nil {
		t.Fatal(err)
	}
	if d.AlternativesTried == nil || len(d.AlternativesTried) != 0 {
		t.Errorf("alternatives must encode as an empty list, got %v", d.AlternativesTried)
	}
}

func TestLogRollbackEvent(t *testing.T) {
	l := testLogger(t, testStore(t), "sess-001")
	rec, err := l.LogRollbackEvent(context.Background(), "T-1", audit.Rollback{
		Trigger: "VALIDATION_FAILED",
		Status:  audit.RollbackFailed,
	})
	if err != nil {
		t.Fatal(err)
	}
	if rec.Governance.AccessDecision != audit.AccessNotApplicable {
		t.Errorf("access decision = %s, want N/A", rec.Governance.AccessDecision)
	}
	if rec.Governance.ReasonCode != string(aoperr.CodeRollbackFailed) {
		t.Errorf("reason code = %q", rec.Governance.ReasonCode)
	}
}

func TestSinkFailureDoesNotFailLogging(t *testing.T) {
	sink := &recordingSink{err: errors.New("index offline")}
	l := testLogger(t, testStore(t), "sess-001", WithSinks(sink))
	if _, err := l.LogResponseReceived(context.Background(), testResponse(t)); err != nil {
		t.Fatalf("sink failure leaked into logging: %v", err)
	}
	if len(sink.records) != 1 {
		t.Errorf("sink calls = %d, want 1", len(sink.records))
	}
}

func TestTimestampsStrictlyIncrease(t *testing.T) {
	l := testLogger(t, testStore(t), "sess-001")
	fixed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	var prev time.Time
	for i := 0; i < 3; i++ {
		rec, err := l.LogGuardRailCheck(context.Background(), "T-1", audit.GuardRailCheck{CheckType: "TIMEOUT", Result: "PASS"}, nil)
		if err != nil {
			t.Fatal(err)
		}
		if !rec.Timestamp.After(prev) {
			t.Fatalf("timestamp %v not after %v", rec.Timestamp, prev)
		}
		prev = rec.Timestamp
	}
}

func TestSummarizeSession(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	l := testLogger(t, store, "sess-001")

	if _, err := l.LogTaskDispatched(ctx, testEnvelope(t)); err != nil {
		t.Fatal(err)
	}
	if _, err := l.LogResponseReceived(ctx, testResponse(t)); err != nil {
		t.Fatal(err)
	}
	// A second writer in the same session contributes to the summary.
	other := testLogger(t, store, "sess-001")
	failed := testResponse(t)
	failed.TaskID = "T-2"
	failed.Agent.Name = "Reviewer"
	failed.TaskStatus.FinalSignal = "FAILURE"
	failed.CostTracking.ActualCostUSD = ptr(0.08)
	if _, err := other.LogResponseReceived(ctx, failed); err != nil {
		t.Fatal(err)
	}
	// Records of another session are ignored.
	stranger := testLogger(t, store, "sess-002")
	if _, err := stranger.LogResponseReceived(ctx, testResponse(t)); err != nil {
		t.Fatal(err)
	}

	rec, err := l.SummarizeSession(ctx)
	if err != nil {
		t.Fatalf("SummarizeSession: %v", err)
	}
	if rec.Kind != audit.KindSessionSummary || rec.TaskID != audit.SessionTaskID {
		t.Errorf("unexpected summary record header %+v", rec)
	}
	sum, err := audit.DecodePayload[audit.SessionSummary](rec)
	if err != nil {
		t.Fatal(err)
	}
	if sum.TotalTasks != 1 || sum.Completed != 1 || sum.Failed != 1 {
		t.Errorf("unexpected counts %+v", sum)
	}
	if sum.TotalCostUSD != 0.5 {
		t.Errorf("total cost = %v, want 0.5", sum.TotalCostUSD)
	}
	if len(sum.AgentsUsed) != 2 || sum.AgentsUsed[0] != "Coder" || sum.AgentsUsed[1] != "Reviewer" {
		t.Errorf("agents used = %v", sum.AgentsUsed)
	}
	if len(sum.RoleAssignments) != 2 {
		t.Errorf("role assignments = %v", sum.RoleAssignments)
	}

	records, err := l.ListSessionRecords(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 4 {
		t.Errorf("records = %d, want 4", len(records))
	}
}

func TestSummarizeBudgetStatusRaisesCost(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	resp := &audit.Record{
		Kind:      audit.KindResponseReceived,
		Timestamp: base,
		Payload:   []byte(`{"message_type":"RESPONSE","agent":{"name":"Coder","model":"m"},"task_status":{"final_signal":"PARTIAL_SUCCESS"},"cost_tracking":{"actual_cost_usd":0.25}}`),
	}
	check := &audit.Record{
		Kind:      audit.KindGuardRailCheck,
		Timestamp: base.Add(90 * time.Second),
		Payload:   []byte(`{"check_type":"BUDGET","result":"FAIL"}`),
		Governance: audit.Governance{
			BudgetStatus: &audit.BudgetStatus{CurrentCostUSD: 1.1234567},
		},
	}

	sum := Summarize([]*audit.Record{resp, check})
	if sum.TotalCostUSD != 1.123457 {
		t.Errorf("total cost = %v, want 1.123457", sum.TotalCostUSD)
	}
	if sum.Completed != 1 {
		t.Errorf("completed = %d, want 1", sum.Completed)
	}
	if sum.TotalDurationSeconds != 90 {
		t.Errorf("duration = %v, want 90", sum.TotalDurationSeconds)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	sum := Summarize(nil)
	if sum.TotalTasks != 0 || sum.TotalCostUSD != 0 || sum.AgentsUsed == nil || sum.RoleAssignments == nil {
		t.Errorf("unexpected empty summary %+v", sum)
	}
}
