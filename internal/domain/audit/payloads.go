package audit

import (
	"encoding/json"
	"fmt"
)

// RoutingDecision is the payload of a ROUTING_DECISION record.
type RoutingDecision struct {
	InputVersion      string   `json:"input_version"`
	RoutedTo          string   `json:"routed_to"`
	ModelSelected     string   `json:"model_selected"`
	FallbackTriggered bool     `json:"fallback_triggered"`
	FallbackReason    *string  `json:"fallback_reason"`
	AlternativesTried []string `json:"alternatives_tried"`
}

// GuardRailCheck is the payload of a GUARD_RAIL_CHECK record.
type GuardRailCheck struct {
	CheckType string  `json:"check_type"`
	Result    string  `json:"result"`
	Details   string  `json:"details"`
	ErrorCode *string `json:"error_code"`
}

type RolledBackArtifact struct {
	Path         string `json:"path"`
	RestoredFrom string `json:"restored_from,omitempty"`
	Status       string `json:"status,omitempty"`
}

// Rollback is the payload of a ROLLBACK_EVENT record.
type Rollback struct {
	Trigger             string               `json:"trigger"`
	ArtifactsRolledBack []RolledBackArtifact `json:"artifacts_rolled_back"`
	Status              string               `json:"status"`
}

// RollbackFailed is the rollback status that marks a failed restore.
const RollbackFailed = "FAILED"

type RoleAssignment struct {
	Agent string `json:"agent"`
	Role  Role   `json:"role"`
	Model string `json:"model"`
}

// SessionSummary is the payload of a SESSION_SUMMARY record.
type SessionSummary struct {
	TotalTasks           int              `json:"total_tasks"`
	Completed            int              `json:"completed"`
	Failed               int              `json:"failed"`
	TotalCostUSD         float64          `json:"total_cost_usd"`
	TotalDurationSeconds float64          `json:"total_duration_seconds"`
	AgentsUsed           []string         `json:"agents_used"`
	RoleAssignments      []RoleAssignment `json:"role_assignments"`
}

// MessageView is the loose projection of a TASK_DISPATCHED or
// RESPONSE_RECEIVED payload used by summaries, audits and replays. Unknown
// and missing fields are tolerated.
type MessageView struct {
	MessageType string `json:"message_type"`
	Task        struct {
		TaskID   string `json:"task_id"`
		Category string `json:"category"`
	} `json:"task"`
	Agent struct {
		Name  string `json:"name"`
		Model string `json:"model"`
	} `json:"agent"`
	TaskStatus struct {
		State       string `json:"state"`
		FinalSignal string `json:"final_signal"`
	} `json:"task_status"`
	CostTracking *struct {
		ActualCostUSD *float64 `json:"actual_cost_usd"`
	} `json:"cost_tracking"`
}

// ActualCost returns the reported actual cost, or 0.
func (m *MessageView) ActualCost() float64 {
	if m.CostTracking == nil || m.CostTracking.ActualCostUSD == nil {
		return 0
	}
	return *m.CostTracking.ActualCostUSD
}

// DecodePayload decodes a record payload into v without rejecting unknown fields.
func DecodePayload[T any](r *Record) (T, error) {
	var v T
	if err := json.Unmarshal(r.Payload, &v); err != nil {
		return v, fmt.Errorf("decode %s payload of %s: %w", r.Kind, r.ID, err)
	}
	return v, nil
}
