// Package guardrail defines the domain model of the guard rail layer:
// violations, check results and the precedence rules that resolve competing
// policy sources (timeouts, filesystem and network access).
package guardrail

import (
	"slices"
	"strings"

	"github.com/Strob0t/aopguard/internal/domain/aoperr"
	"github.com/Strob0t/aopguard/internal/domain/protocol"
)

// Severity classifies a violation. Errors block, warnings only surface.
type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
)

// Rule names a single guard rail.
type Rule string

const (
	RuleTaskEnvelopeSize      Rule = "TASK_ENVELOPE_SIZE"
	RuleTaskObjectiveLength   Rule = "TASK_OBJECTIVE_LENGTH"
	RuleTaskInputsLimit       Rule = "TASK_INPUTS_LIMIT"
	RuleTaskOutputsLimit      Rule = "TASK_OUTPUTS_LIMIT"
	RulePhasesLimit           Rule = "PHASES_LIMIT"
	RuleCheckpointsPerPhase   Rule = "CHECKPOINTS_PER_PHASE_LIMIT"
	RuleResponseEnvelopeSize  Rule = "RESPONSE_ENVELOPE_SIZE"
	RuleRequireFinalSignal    Rule = "REQUIRE_FINAL_SIGNAL"
	RuleRequireMinimalReport  Rule = "REQUIRE_MINIMAL_REPORT"
	RuleExecutionActionsLimit Rule = "EXECUTION_ACTIONS_LIMIT"
)

// Violation is one failed rule.
type Violation struct {
	Rule     Rule           `json:"rule"`
	Severity Severity       `json:"severity"`
	Message  string         `json:"message"`
	Details  map[string]any `json:"details"`
}

// Result is the outcome of validating one message. It is never persisted;
// its outcome is logged as a guard-rail-check audit record.
type Result struct {
	Allowed         bool           `json:"allowed"`
	Violations      []Violation    `json:"violations"`
	Warnings        []Violation    `json:"warnings"`
	EffectiveConfig map[string]any `json:"effective_config"`
}

// NewResult builds a Result whose Allowed flag is derived from the violations.
func NewResult(violations, warnings []Violation, effective map[string]any) Result {
	if violations == nil {
		violations = []Violation{}
	}
	if warnings == nil {
		warnings = []Violation{}
	}
	return Result{
		Allowed:         len(violations) == 0,
		Violations:      violations,
		Warnings:        warnings,
		EffectiveConfig: effective,
	}
}

// CheckOutcome is the PASS/WARN/FAIL verdict recorded for a guard rail check.
type CheckOutcome string

const (
	OutcomePass CheckOutcome = "PASS"
	OutcomeWarn CheckOutcome = "WARN"
	OutcomeFail CheckOutcome = "FAIL"
)

// Outcome collapses a Result into the verdict recorded in the audit trail.
func (r Result) Outcome() CheckOutcome {
	switch {
	case !r.Allowed:
		return OutcomeFail
	case len(r.Warnings) > 0:
		return OutcomeWarn
	default:
		return OutcomePass
	}
}

// CheckType names the family of a guard rail check in audit records.
type CheckType string

const (
	CheckPayloadLimit  CheckType = "PAYLOAD_LIMIT"
	CheckBudget        CheckType = "BUDGET"
	CheckTimeout       CheckType = "TIMEOUT"
	CheckAccess        CheckType = "ACCESS"
	CheckFinalSignal   CheckType = "FINAL_SIGNAL"
	CheckMinimalReport CheckType = "MINIMAL_REPORT"
)

// EffectiveTimeout resolves the task timeout. A guard rail override wins over
// the execution policy, which wins over the default.
func EffectiveTimeout(gr *protocol.GuardRails, ep *protocol.ExecutionPolicy) int {
	if gr != nil && gr.TimeoutSeconds != nil {
		return *gr.TimeoutSeconds
	}
	if ep != nil && ep.TimeoutSeconds != nil {
		return *ep.TimeoutSeconds
	}
	return protocol.DefaultTimeoutSeconds
}

// AccessMode selects the read or write path set.
type AccessMode string

const (
	AccessRead  AccessMode = "read"
	AccessWrite AccessMode = "write"
)

// EffectiveAccess is the resolved access policy for one task.
type EffectiveAccess struct {
	Filesystem protocol.FilesystemAccess `json:"filesystem"`
	Network    protocol.NetworkAccess    `json:"network"`
}

// AllowedPaths returns the path prefixes granted for mode.
func (a EffectiveAccess) AllowedPaths(mode AccessMode) []string {
	if mode == AccessWrite {
		return a.Filesystem.WritePaths
	}
	return a.Filesystem.ReadPaths
}

// ComputeEffectiveAccess applies least privilege to the agent's declared
// capabilities and the task's access rules.
//
// Filesystem: when both sides give rules, each path set is the intersection;
// when only one side does, its rules pass through; when neither does, nothing
// is granted. Network: the more restrictive of the two levels, where an
// unspecified side counts as NONE.
func ComputeEffectiveAccess(caps *protocol.AgentCapabilities, access *protocol.TaskAccess) EffectiveAccess {
	var capFS, taskFS *protocol.FilesystemAccess
	capNet, taskNet := protocol.NetworkNone, protocol.NetworkNone
	if caps != nil {
		capFS = caps.Filesystem
		if caps.NetworkAccess != nil {
			capNet = *caps.NetworkAccess
		}
	}
	if access != nil {
		taskFS = access.Filesystem
		if access.Network != nil {
			taskNet = *access.Network
		}
	}

	eff := EffectiveAccess{
		Filesystem: protocol.FilesystemAccess{ReadPaths: []string{}, WritePaths: []string{}},
		Network:    capNet,
	}
	if taskNet.Rank() < capNet.Rank() {
		eff.Network = taskNet
	}
	if eff.Network.Rank() == 0 {
		eff.Network = protocol.NetworkNone
	}

	switch {
	case capFS != nil && taskFS != nil:
		eff.Filesystem.ReadPaths = intersect(capFS.ReadPaths, taskFS.ReadPaths)
		eff.Filesystem.WritePaths = intersect(capFS.WritePaths, taskFS.WritePaths)
	case taskFS != nil:
		eff.Filesystem.ReadPaths = slices.Clone(orEmpty(taskFS.ReadPaths))
		eff.Filesystem.WritePaths = slices.Clone(orEmpty(taskFS.WritePaths))
	case capFS != nil:
		eff.Filesystem.ReadPaths = slices.Clone(orEmpty(capFS.ReadPaths))
		eff.Filesystem.WritePaths = slices.Clone(orEmpty(capFS.WritePaths))
	}
	return eff
}

// intersect returns the sorted, de-duplicated intersection of a and b.
func intersect(a, b []string) []string {
	out := []string{}
	for _, p := range a {
		if slices.Contains(b, p) && !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	slices.Sort(out)
	return out
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// CheckFilesystemAccess allows path iff one of the effective paths for mode
// is a prefix of it. Denials carry the requested path, mode and allowed list.
func CheckFilesystemAccess(path string, mode AccessMode, eff EffectiveAccess) error {
	allowed := eff.AllowedPaths(mode)
	for _, prefix := range allowed {
		if strings.HasPrefix(path, prefix) {
			return nil
		}
	}
	return aoperr.New(aoperr.CodePermissionDenied, "Filesystem "+string(mode)+" access denied", map[string]any{
		"requested_path": path,
		"access_type":    string(mode),
		"allowed_paths":  slices.Clone(orEmpty(allowed)),
	})
}
