package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/Strob0t/aopguard/internal/domain/aoperr"
	"github.com/Strob0t/aopguard/internal/domain/guardrail"
	"github.com/Strob0t/aopguard/internal/domain/protocol"
)

func rules(list []guardrail.Violation) []guardrail.Rule {
	out := make([]guardrail.Rule, len(list))
	for i, v := range list {
		out[i] = v.Rule
	}
	return out
}

func TestValidateTask(t *testing.T) {
	tests := []struct {
		name       string
		modify     func(*protocol.Envelope)
		violations []guardrail.Rule
		warnings   []guardrail.Rule
	}{
		{
			name:   "within limits",
			modify: func(*protocol.Envelope) {},
		},
		{
			name: "too many inputs",
			modify: func(e *protocol.Envelope) {
				e.Task.Inputs = make([]protocol.TaskInput, protocol.MaxInputs+1)
			},
			violations: []guardrail.Rule{guardrail.RuleTaskInputsLimit},
		},
		{
			name: "inputs at limit",
			modify: func(e *protocol.Envelope) {
				e.Task.Inputs = make([]protocol.TaskInput, protocol.MaxInputs)
			},
		},
		{
			name: "too many expected outputs",
			modify: func(e *protocol.Envelope) {
				e.Task.ExpectedOutputs = make([]protocol.ExpectedOutput, protocol.MaxExpectedOutputs+1)
			},
			violations: []guardrail.Rule{guardrail.RuleTaskOutputsLimit},
		},
		{
			name: "objective at soft limit",
			modify: func(e *protocol.Envelope) {
				e.Task.Objective = strings.Repeat("ü", protocol.SoftObjectiveChars)
			},
		},
		{
			name: "objective over soft limit",
			modify: func(e *protocol.Envelope) {
				e.Task.Objective = strings.Repeat("ü", protocol.SoftObjectiveChars+1)
			},
			warnings: []guardrail.Rule{guardrail.RuleTaskObjectiveLength},
		},
		{
			name: "objective at hard limit",
			modify: func(e *protocol.Envelope) {
				e.Task.Objective = strings.Repeat("a", protocol.MaxObjectiveChars)
			},
			warnings: []guardrail.Rule{guardrail.RuleTaskObjectiveLength},
		},
		{
			name: "objective over hard limit",
			modify: func(e *protocol.Envelope) {
				e.Task.Objective = strings.Repeat("a", protocol.MaxObjectiveChars+1)
			},
			violations: []guardrail.Rule{guardrail.RuleTaskObjectiveLength},
		},
		{
			name: "oversized envelope",
			modify: func(e *protocol.Envelope) {
				e.Task.Inputs = []protocol.TaskInput{{Type: "inline", Content: strings.Repeat("x", protocol.MaxEnvelopeBytes)}}
			},
			violations: []guardrail.Rule{guardrail.RuleTaskEnvelopeSize},
		},
		{
			name: "phases and checkpoints over soft limits",
			modify: func(e *protocol.Envelope) {
				e.Phases = make([]protocol.Phase, protocol.SoftPhases+1)
				for i := range e.Phases {
					e.Phases[i].PhaseID = fmt.Sprintf("P%d", i)
				}
				e.Phases[0].Checkpoints = make([]protocol.Checkpoint, protocol.SoftCheckpointsPerPhase+1)
			},
			warnings: []guardrail.Rule{guardrail.RulePhasesLimit, guardrail.RuleCheckpointsPerPhase},
		},
	}

	g := NewGuardRailEngine()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testEnvelope(t)
			tt.modify(env)

			res, err := g.ValidateTask(context.Background(), env)
			if err != nil {
				t.Fatalf("ValidateTask: %v", err)
			}
			if got := rules(res.Violations); fmt.Sprint(got) != fmt.Sprint(orEmptyRules(tt.violations)) {
				t.Errorf("violations = %v, want %v", got, tt.violations)
			}
			if got := rules(res.Warnings); fmt.Sprint(got) != fmt.Sprint(orEmptyRules(tt.warnings)) {
				t.Errorf("warnings = %v, want %v", got, tt.warnings)
			}
			if res.Allowed != (len(tt.violations) == 0) {
				t.Errorf("Allowed = %v with violations %v", res.Allowed, tt.violations)
			}
		})
	}
}

func orEmptyRules(r []guardrail.Rule) []guardrail.Rule {
	if r == nil {
		return []guardrail.Rule{}
	}
	return r
}

func TestValidateTaskEffectiveConfig(t *testing.T) {
	env := testEnvelope(t)
	env.Task.Inputs = make([]protocol.TaskInput, 3)

	res, err := NewGuardRailEngine().ValidateTask(context.Background(), env)
	if err != nil {
		t.Fatal(err)
	}
	size, _ := protocol.SerializedSize(env)
	if res.EffectiveConfig["envelope_size_bytes"] != size {
		t.Errorf("envelope_size_bytes = %v, want %d", res.EffectiveConfig["envelope_size_bytes"], size)
	}
	if res.EffectiveConfig["num_inputs"] != 3 {
		t.Errorf("num_inputs = %v, want 3", res.EffectiveConfig["num_inputs"])
	}
	if res.EffectiveConfig["objective_length"] != len("Refactor the parser") {
		t.Errorf("objective_length = %v", res.EffectiveConfig["objective_length"])
	}
}

func TestValidateTaskMessages(t *testing.T) {
	env := testEnvelope(t)
	env.Task.Inputs = make([]protocol.TaskInput, 101)
	env.Task.ExpectedOutputs = make([]protocol.ExpectedOutput, 51)

	res, err := NewGuardRailEngine().ValidateTask(context.Background(), env)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"Task inputs exceed 100 file limit: 101 files",
		"Expected outputs exceed 50 artifact limit: 51 artifacts",
	}
	for i, v := range res.Violations {
		if v.Message != want[i] {
			t.Errorf("message %d = %q, want %q", i, v.Message, want[i])
		}
		if v.Severity != guardrail.SeverityError {
			t.Errorf("severity %d = %s, want ERROR", i, v.Severity)
		}
	}
}

func TestValidateResponseGuardRails(t *testing.T) {
	noSummary := func(r *protocol.Response) {
		r.ExecutionSummary.Summary = ""
		r.ExecutionSummary.Actions = nil
	}
	tests := []struct {
		name       string
		gr         *protocol.GuardRails
		modify     func(*protocol.Response)
		violations []guardrail.Rule
		warnings   []guardrail.Rule
	}{
		{
			name:   "complete response with default rails",
			gr:     &protocol.GuardRails{},
			modify: func(*protocol.Response) {},
		},
		{
			name:       "missing final signal",
			gr:         &protocol.GuardRails{},
			modify:     func(r *protocol.Response) { r.TaskStatus.FinalSignal = "" },
			violations: []guardrail.Rule{guardrail.RuleRequireFinalSignal},
		},
		{
			name:   "missing final signal without rails",
			gr:     nil,
			modify: func(r *protocol.Response) { r.TaskStatus.FinalSignal = "" },
		},
		{
			name:   "final signal requirement disabled",
			gr:     &protocol.GuardRails{RequireFinalSignal: ptr(false)},
			modify: func(r *protocol.Response) { r.TaskStatus.FinalSignal = "" },
		},
		{
			name:       "missing summary and actions",
			gr:         &protocol.GuardRails{},
			modify:     noSummary,
			violations: []guardrail.Rule{guardrail.RuleRequireMinimalReport, guardrail.RuleRequireMinimalReport},
		},
		{
			name:   "minimal report disabled",
			gr:     &protocol.GuardRails{RequireMinimalReport: ptr(false)},
			modify: noSummary,
		},
		{
			name: "actions over soft limit",
			gr:   &protocol.GuardRails{},
			modify: func(r *protocol.Response) {
				r.ExecutionSummary.Actions = make([]string, protocol.SoftActions+1)
			},
			warnings: []guardrail.Rule{guardrail.RuleExecutionActionsLimit},
		},
		{
			name: "oversized response",
			gr:   nil,
			modify: func(r *protocol.Response) {
				r.ExecutionSummary.Summary = strings.Repeat("s", protocol.MaxResponseBytes)
			},
			violations: []guardrail.Rule{guardrail.RuleResponseEnvelopeSize},
		},
	}

	g := NewGuardRailEngine()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := testResponse(t)
			tt.modify(resp)

			res, err := g.ValidateResponse(context.Background(), resp, tt.gr)
			if err != nil {
				t.Fatalf("ValidateResponse: %v", err)
			}
			if got := rules(res.Violations); fmt.Sprint(got) != fmt.Sprint(orEmptyRules(tt.violations)) {
				t.Errorf("violations = %v, want %v", got, tt.violations)
			}
			if got := rules(res.Warnings); fmt.Sprint(got) != fmt.Sprint(orEmptyRules(tt.warnings)) {
				t.Errorf("warnings = %v, want %v", got, tt.warnings)
			}
			if res.Allowed != (len(tt.violations) == 0) {
				t.Errorf("Allowed = %v", res.Allowed)
			}
		})
	}
}

func TestGuardRailEngineChecks(t *testing.T) {
	g := NewGuardRailEngine()

	if err := g.CheckCostBudget(1.0, ptr(1.0)); err != nil {
		t.Errorf("cost equal to budget must pass, got %v", err)
	}
	if err := g.CheckCostBudget(5, nil); err != nil {
		t.Errorf("no budget must pass, got %v", err)
	}
	if err := g.CheckCostBudget(1.01, ptr(1.0)); !errors.Is(err, aoperr.ErrCostLimitExceeded) {
		t.Errorf("expected E_COST_LIMIT_EXCEEDED, got %v", err)
	}

	if err := g.CheckPayloadSize(make([]byte, 10), 10, "test"); err != nil {
		t.Errorf("payload at limit must pass, got %v", err)
	}
	if err := g.CheckPayloadSize(make([]byte, 11), 10, "test"); !errors.Is(err, aoperr.ErrContextOverflow) {
		t.Errorf("expected E_CONTEXT_OVERFLOW, got %v", err)
	}

	if w := g.EmitPayloadSizeWarning(make([]byte, 5), 10, "test"); w != nil {
		t.Errorf("expected no warning, got %v", w)
	}
	w := g.EmitPayloadSizeWarning(make([]byte, 11), 10, "test")
	if w == nil || w.Code != aoperr.CodePayloadSizeWarning {
		t.Errorf("expected E_PAYLOAD_SIZE_WARNING, got %v", w)
	}
}

func TestGuardRailEngineAccess(t *testing.T) {
	g := NewGuardRailEngine()
	caps := &protocol.AgentCapabilities{Filesystem: &protocol.FilesystemAccess{
		ReadPaths:  []string{"/repo"},
		WritePaths: []string{"/repo/src"},
	}}
	access := &protocol.TaskAccess{Filesystem: &protocol.FilesystemAccess{
		WritePaths: []string{"/repo/src", "/etc"},
	}}
	eff := g.EffectiveAccess(caps, access)

	if err := g.CheckFilesystemAccess("/repo/src/parser/lex.go", guardrail.AccessWrite, eff); err != nil {
		t.Errorf("write inside intersection must pass, got %v", err)
	}
	if err := g.CheckFilesystemAccess("/etc/passwd", guardrail.AccessWrite, eff); !errors.Is(err, aoperr.ErrPermissionDenied) {
		t.Errorf("write outside capabilities must be denied, got %v", err)
	}
	if got := g.EffectiveTimeout(&protocol.GuardRails{TimeoutSeconds: ptr(30)}, nil); got != 30 {
		t.Errorf("EffectiveTimeout = %d, want 30", got)
	}
}
