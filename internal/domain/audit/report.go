package audit

import (
	"time"

	"github.com/Strob0t/aopguard/internal/domain/aoperr"
)

// Status is a finding outcome. Aggregation is worst-wins: FAIL > WARN > PASS.
type Status string

const (
	StatusPass Status = "PASS"
	StatusWarn Status = "WARN"
	StatusFail Status = "FAIL"
)

func (s Status) rank() int {
	switch s {
	case StatusFail:
		return 2
	case StatusWarn:
		return 1
	default:
		return 0
	}
}

// Worst returns the most severe of the given statuses, PASS when none.
func Worst(statuses ...Status) Status {
	worst := StatusPass
	for _, s := range statuses {
		if s.rank() > worst.rank() {
			worst = s
		}
	}
	return worst
}

// Finding is the outcome of one compliance check.
type Finding struct {
	CheckName  string        `json:"check_name"`
	Status     Status        `json:"status"`
	Details    string        `json:"details"`
	RecordIDs  []string      `json:"record_ids"`
	ErrorCodes []aoperr.Code `json:"error_codes"`
}

// Report aggregates every finding for a session. It is derived on demand and never persisted.
type Report struct {
	SessionID      string    `json:"session_id"`
	AuditTimestamp time.Time `json:"audit_timestamp"`
	TotalRecords   int       `json:"total_records"`
	Findings       []Finding `json:"findings"`
	OverallStatus  Status    `json:"overall_status"`
	Summary        string    `json:"summary"`
}

// Counts returns the number of findings per status.
func (r *Report) Counts() map[Status]int {
	counts := map[Status]int{StatusPass: 0, StatusWarn: 0, StatusFail: 0}
	for _, f := range r.Findings {
		counts[f.Status]++
	}
	return counts
}

// ReplayEvent is one annotated step of a session replay.
type ReplayEvent struct {
	Sequence           int            `json:"sequence"`
	Timestamp          time.Time      `json:"timestamp"`
	RecordType         Kind           `json:"record_type"`
	TaskID             string         `json:"task_id"`
	Actor              Actor          `json:"actor"`
	AuditRecordID      string         `json:"audit_record_id"`
	Annotation         string         `json:"annotation"`
	GovernanceDecision AccessDecision `json:"governance_decision"`
	PayloadSummary     string         `json:"payload_summary"`
}
