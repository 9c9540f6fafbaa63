// Package audit defines the immutable audit record written for every protocol
// event, and the derived findings, reports and replay events computed from a
// session's records.
package audit

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Strob0t/aopguard/internal/domain"
)

// RecordVersion is the audit record format revision.
const RecordVersion = "1.0.0"

// SessionTaskID is the task id carried by session-summary records.
const SessionTaskID = "SESSION"

// Kind is the record type. The set is closed and checked at decode time.
type Kind string

const (
	KindTaskDispatched   Kind = "TASK_DISPATCHED"
	KindResponseReceived Kind = "RESPONSE_RECEIVED"
	KindRoutingDecision  Kind = "ROUTING_DECISION"
	KindGuardRailCheck   Kind = "GUARD_RAIL_CHECK"
	KindRollbackEvent    Kind = "ROLLBACK_EVENT"
	KindSessionSummary   Kind = "SESSION_SUMMARY"
)

// Kinds lists every record kind.
var Kinds = []Kind{
	KindTaskDispatched, KindResponseReceived, KindRoutingDecision,
	KindGuardRailCheck, KindRollbackEvent, KindSessionSummary,
}

func (k *Kind) UnmarshalText(b []byte) error {
	for _, v := range Kinds {
		if string(b) == string(v) {
			*k = v
			return nil
		}
	}
	return fmt.Errorf("invalid record type %q", b)
}

// IsMessage reports whether records of this kind carry a full protocol message as payload.
func (k Kind) IsMessage() bool {
	return k == KindTaskDispatched || k == KindResponseReceived
}

// Role is the actor role recorded on a record. Unlike Kind it is decoded as
// observed, so that role compliance can be audited instead of the record
// being discarded as unreadable.
type Role string

const (
	RoleOrchestrator Role = "ORCHESTRATOR"
	RoleExecutor     Role = "EXECUTOR"
	RoleRouter       Role = "ROUTER"
	RoleGovernance   Role = "GOVERNANCE"
	RoleSpecialist   Role = "SPECIALIST"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleOrchestrator, RoleExecutor, RoleRouter, RoleGovernance, RoleSpecialist:
		return true
	}
	return false
}

// ExpectedRoles maps each record kind to the roles allowed to produce it.
var ExpectedRoles = map[Kind][]Role{
	KindTaskDispatched:   {RoleOrchestrator},
	KindResponseReceived: {RoleExecutor, RoleSpecialist},
	KindRoutingDecision:  {RoleRouter},
	KindGuardRailCheck:   {RoleGovernance},
	KindRollbackEvent:    {RoleOrchestrator},
	KindSessionSummary:   {RoleOrchestrator},
}

// AccessDecision is the governance verdict snapshot on a record.
type AccessDecision string

const (
	AccessAllowed       AccessDecision = "ALLOWED"
	AccessDenied        AccessDecision = "DENIED"
	AccessNotApplicable AccessDecision = "N/A"
)

func (d *AccessDecision) UnmarshalText(b []byte) error {
	switch v := AccessDecision(b); v {
	case AccessAllowed, AccessDenied, AccessNotApplicable:
		*d = v
		return nil
	}
	return fmt.Errorf("invalid access decision %q", b)
}

type Actor struct {
	Name     string `json:"name"`
	Role     Role   `json:"role"`
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
}

type BudgetStatus struct {
	MaxCostUSD     *float64 `json:"max_cost_usd,omitempty"`
	CurrentCostUSD float64  `json:"current_cost_usd"`
	WithinBudget   bool     `json:"within_budget"`
}

type Governance struct {
	GuardRailsApplied []string       `json:"guard_rails_applied"`
	BudgetStatus      *BudgetStatus  `json:"budget_status,omitempty"`
	AccessDecision    AccessDecision `json:"access_decision"`
	ReasonCode        string         `json:"reason_code,omitempty"`
}

type Context struct {
	ParentTaskID  string `json:"parent_task_id,omitempty"`
	Attempt       int    `json:"attempt"`
	CorrelationID string `json:"correlation_id"`
}

// Record is one immutable fact about a protocol event. Records are ordered by
// Timestamp, never by write or arrival order.
type Record struct {
	ID         string          `json:"audit_record_id"`
	Version    string          `json:"audit_version"`
	Timestamp  time.Time       `json:"timestamp"`
	SessionID  string          `json:"session_id"`
	TaskID     string          `json:"task_id"`
	Kind       Kind            `json:"record_type"`
	Actor      Actor           `json:"actor"`
	Payload    json.RawMessage `json:"payload"`
	Context    Context         `json:"context"`
	Governance Governance      `json:"governance"`
}

// DecodeRecord strictly decodes one persisted record. The payload is
// compacted so that it compares byte-for-byte with the payload that was logged.
func DecodeRecord(data []byte) (*Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var rec Record
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode audit record: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("decode audit record: trailing data")
	}

	switch {
	case rec.ID == "":
		return nil, errors.New("decode audit record: audit_record_id is required")
	case rec.SessionID == "":
		return nil, errors.New("decode audit record: session_id is required")
	case rec.Kind == "":
		return nil, errors.New("decode audit record: record_type is required")
	case rec.Timestamp.IsZero():
		return nil, errors.New("decode audit record: timestamp is required")
	case len(rec.Payload) == 0 || rec.Payload[0] != '{':
		return nil, errors.New("decode audit record: payload must be an object")
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, rec.Payload); err != nil {
		return nil, fmt.Errorf("decode audit record payload: %w", err)
	}
	rec.Payload = buf.Bytes()
	if rec.Governance.AccessDecision == "" {
		rec.Governance.AccessDecision = AccessNotApplicable
	}
	return &rec, nil
}

// Encode serializes the record in its persisted, indented form.
func (r *Record) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return nil, fmt.Errorf("encode audit record %s: %w", r.ID, err)
	}
	return buf.Bytes(), nil
}

// timestampLayout is the compact UTC timestamp used in record file names.
const timestampLayout = "20060102T150405Z"

// FileName is the on-disk name of a record:
// {session}_{task}_{kind}_{timestamp}_{id[:8]}.json. The task id has path
// separators and spaces replaced with underscores.
func FileName(r *Record) string {
	id := r.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("%s_%s_%s_%s_%s.json",
		r.SessionID, sanitizeTaskID(r.TaskID), r.Kind, r.Timestamp.UTC().Format(timestampLayout), id)
}

var taskIDReplacer = strings.NewReplacer("/", "_", `\`, "_", " ", "_")

func sanitizeTaskID(id string) string {
	return taskIDReplacer.Replace(id)
}

// ValidateSessionID rejects ids that cannot safely prefix a record file name
// or a directory glob.
func ValidateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: session id is required", domain.ErrValidation)
	}
	if strings.ContainsAny(id, `/\*?[]`) || id == "." || id == ".." {
		return fmt.Errorf("%w: session id %q contains path or pattern characters", domain.ErrValidation, id)
	}
	return nil
}
