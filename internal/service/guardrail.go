package service

import (
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	cfotel "github.com/Strob0t/aopguard/internal/adapter/otel"
	"github.com/Strob0t/aopguard/internal/domain/aoperr"
	"github.com/Strob0t/aopguard/internal/domain/guardrail"
	"github.com/Strob0t/aopguard/internal/domain/protocol"
)

// GuardRailEngine enforces payload limits, reporting requirements, access
// rules and cost budgets on envelopes and responses.
type GuardRailEngine struct {
	metrics *cfotel.Metrics
}

// NewGuardRailEngine creates a GuardRailEngine.
func NewGuardRailEngine() *GuardRailEngine {
	return &GuardRailEngine{}
}

// SetMetrics configures OTEL metric instruments.
func (g *GuardRailEngine) SetMetrics(m *cfotel.Metrics) { g.metrics = m }

// ValidateTask checks a TASK envelope against the hard and soft limits.
// Hard limit violations make the result disallowed; soft ones only warn.
func (g *GuardRailEngine) ValidateTask(ctx context.Context, env *protocol.Envelope) (guardrail.Result, error) {
	var violations, warnings []guardrail.Violation

	size, err := protocol.SerializedSize(env)
	if err != nil {
		return guardrail.Result{}, fmt.Errorf("measure task envelope: %w", err)
	}
	if size > protocol.MaxEnvelopeBytes {
		violations = append(violations, guardrail.Violation{
			Rule:     guardrail.RuleTaskEnvelopeSize,
			Severity: guardrail.SeverityError,
			Message:  fmt.Sprintf("Task envelope exceeds 200KB hard limit: %d bytes", size),
			Details:  map[string]any{"envelope_size_bytes": size, "limit_bytes": protocol.MaxEnvelopeBytes},
		})
	}

	objLen := utf8.RuneCountInString(env.Task.Objective)
	switch {
	case objLen > protocol.MaxObjectiveChars:
		violations = append(violations, guardrail.Violation{
			Rule:     guardrail.RuleTaskObjectiveLength,
			Severity: guardrail.SeverityError,
			Message:  fmt.Sprintf("Objective exceeds 50,000 char hard limit: %d chars", objLen),
			Details:  map[string]any{"objective_length": objLen, "limit": protocol.MaxObjectiveChars},
		})
	case objLen > protocol.SoftObjectiveChars:
		warnings = append(warnings, guardrail.Violation{
			Rule:     guardrail.RuleTaskObjectiveLength,
			Severity: guardrail.SeverityWarning,
			Message:  fmt.Sprintf("Objective exceeds 40,000 char soft limit: %d chars", objLen),
			Details:  map[string]any{"objective_length": objLen, "soft_limit": protocol.SoftObjectiveChars},
		})
	}

	numInputs := len(env.Task.Inputs)
	if numInputs > protocol.MaxInputs {
		violations = append(violations, guardrail.Violation{
			Rule:     guardrail.RuleTaskInputsLimit,
			Severity: guardrail.SeverityError,
			Message:  fmt.Sprintf("Task inputs exceed 100 file limit: %d files", numInputs),
			Details:  map[string]any{"num_inputs": numInputs, "limit": protocol.MaxInputs},
		})
	}

	numOutputs := len(env.Task.ExpectedOutputs)
	if numOutputs > protocol.MaxExpectedOutputs {
		violations = append(violations, guardrail.Violation{
			Rule:     guardrail.RuleTaskOutputsLimit,
			Severity: guardrail.SeverityError,
			Message:  fmt.Sprintf("Expected outputs exceed 50 artifact limit: %d artifacts", numOutputs),
			Details:  map[string]any{"num_outputs": numOutputs, "limit": protocol.MaxExpectedOutputs},
		})
	}

	numPhases := len(env.Phases)
	if numPhases > protocol.SoftPhases {
		warnings = append(warnings, guardrail.Violation{
			Rule:     guardrail.RulePhasesLimit,
			Severity: guardrail.SeverityWarning,
			Message:  fmt.Sprintf("Phases exceed 10 soft limit: %d phases", numPhases),
			Details:  map[string]any{"num_phases": numPhases, "soft_limit": protocol.SoftPhases},
		})
	}
	for i := range env.Phases {
		ph := &env.Phases[i]
		if n := len(ph.Checkpoints); n > protocol.SoftCheckpointsPerPhase {
			warnings = append(warnings, guardrail.Violation{
				Rule:     guardrail.RuleCheckpointsPerPhase,
				Severity: guardrail.SeverityWarning,
				Message:  fmt.Sprintf("Phase %s exceeds 20 checkpoint soft limit: %d", ph.PhaseID, n),
				Details: map[string]any{
					"phase_id":        ph.PhaseID,
					"num_checkpoints": n,
					"soft_limit":      protocol.SoftCheckpointsPerPhase,
				},
			})
		}
	}

	res := guardrail.NewResult(violations, warnings, map[string]any{
		"envelope_size_bytes": size,
		"objective_length":    objLen,
		"num_inputs":          numInputs,
		"num_outputs":         numOutputs,
		"num_phases":          numPhases,
	})
	g.observe(ctx, "task", env.Task.TaskID, res)
	return res, nil
}

// ValidateResponse checks a RESPONSE against the size limits and, when the
// task's guard rails request them, the final-signal and minimal-report
// requirements. A nil gr enforces neither requirement.
func (g *GuardRailEngine) ValidateResponse(ctx context.Context, resp *protocol.Response, gr *protocol.GuardRails) (guardrail.Result, error) {
	var violations, warnings []guardrail.Violation

	size, err := protocol.SerializedSize(resp)
	if err != nil {
		return guardrail.Result{}, fmt.Errorf("measure response: %w", err)
	}
	if size > protocol.MaxResponseBytes {
		violations = append(violations, guardrail.Violation{
			Rule:     guardrail.RuleResponseEnvelopeSize,
			Severity: guardrail.SeverityError,
			Message:  fmt.Sprintf("Response exceeds 500KB hard limit: %d bytes", size),
			Details:  map[string]any{"response_size_bytes": size, "limit_bytes": protocol.MaxResponseBytes},
		})
	}

	if gr.RequiresFinalSignal() && resp.TaskStatus.FinalSignal == "" {
		violations = append(violations, guardrail.Violation{
			Rule:     guardrail.RuleRequireFinalSignal,
			Severity: guardrail.SeverityError,
			Message:  "Guard rail requires final_signal but it is missing",
			Details:  map[string]any{"require_final_signal": true},
		})
	}
	if gr.RequiresMinimalReport() {
		if resp.ExecutionSummary.Summary == "" {
			violations = append(violations, guardrail.Violation{
				Rule:     guardrail.RuleRequireMinimalReport,
				Severity: guardrail.SeverityError,
				Message:  "Guard rail requires summary but it is missing",
				Details:  map[string]any{"require_minimal_report": true},
			})
		}
		if len(resp.ExecutionSummary.Actions) == 0 {
			violations = append(violations, guardrail.Violation{
				Rule:     guardrail.RuleRequireMinimalReport,
				Severity: guardrail.SeverityError,
				Message:  "Guard rail requires actions but it is missing",
				Details:  map[string]any{"require_minimal_report": true},
			})
		}
	}

	numActions := len(resp.ExecutionSummary.Actions)
	if numActions > protocol.SoftActions {
		warnings = append(warnings, guardrail.Violation{
			Rule:     guardrail.RuleExecutionActionsLimit,
			Severity: guardrail.SeverityWarning,
			Message:  fmt.Sprintf("Actions exceed 200 soft limit: %d actions", numActions),
			Details:  map[string]any{"num_actions": numActions, "soft_limit": protocol.SoftActions},
		})
	}

	res := guardrail.NewResult(violations, warnings, map[string]any{
		"response_size_bytes": size,
		"num_actions":         numActions,
	})
	g.observe(ctx, "response", resp.TaskID, res)
	return res, nil
}

func (g *GuardRailEngine) observe(ctx context.Context, target, taskID string, res guardrail.Result) {
	for _, v := range res.Violations {
		slog.Warn("guard rail violation", "target", target, "task_id", taskID, "rule", v.Rule, "message", v.Message)
	}
	for _, w := range res.Warnings {
		slog.Info("guard rail warning", "target", target, "task_id", taskID, "rule", w.Rule, "message", w.Message)
	}
	if g.metrics == nil {
		return
	}
	for _, list := range [][]guardrail.Violation{res.Violations, res.Warnings} {
		for _, v := range list {
			g.metrics.GuardRailViolations.Add(ctx, 1, metric.WithAttributes(
				attribute.String("rule", string(v.Rule)),
				attribute.String("severity", string(v.Severity)),
			))
		}
	}
}

// EffectiveTimeout resolves the task timeout: guard rails, then execution
// policy, then the default.
func (g *GuardRailEngine) EffectiveTimeout(gr *protocol.GuardRails, ep *protocol.ExecutionPolicy) int {
	return guardrail.EffectiveTimeout(gr, ep)
}

// EffectiveAccess computes least-privilege access for a task on a target.
func (g *GuardRailEngine) EffectiveAccess(caps *protocol.AgentCapabilities, access *protocol.TaskAccess) guardrail.EffectiveAccess {
	return guardrail.ComputeEffectiveAccess(caps, access)
}

// CheckFilesystemAccess fails with E_PERMISSION_DENIED unless path lies under an allowed prefix.
func (g *GuardRailEngine) CheckFilesystemAccess(path string, mode guardrail.AccessMode, eff guardrail.EffectiveAccess) error {
	return guardrail.CheckFilesystemAccess(path, mode, eff)
}

// CheckCostBudget fails with E_COST_LIMIT_EXCEEDED when actual exceeds a configured budget.
func (g *GuardRailEngine) CheckCostBudget(actual float64, maxCost *float64) error {
	return guardrail.CheckCostBudget(actual, maxCost)
}

// CheckPayloadSize fails with E_CONTEXT_OVERFLOW when payload is larger than limit bytes.
func (g *GuardRailEngine) CheckPayloadSize(payload []byte, limit int, payloadType string) error {
	return guardrail.CheckPayloadSize(payload, limit, payloadType)
}

// EmitPayloadSizeWarning logs a soft-limit overage and returns it, or nil
// when payload is within softLimit. It never blocks.
func (g *GuardRailEngine) EmitPayloadSizeWarning(payload []byte, softLimit int, payloadType string) *aoperr.Error {
	w := guardrail.PayloadSizeWarning(payload, softLimit, payloadType)
	if w != nil {
		slog.Warn("payload size warning", "payload_type", payloadType, "size_bytes", len(payload), "soft_limit_bytes", softLimit)
	}
	return w
}
