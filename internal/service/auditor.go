package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"

	cfotel "github.com/Strob0t/aopguard/internal/adapter/otel"
	"github.com/Strob0t/aopguard/internal/domain/aoperr"
	"github.com/Strob0t/aopguard/internal/domain/audit"
	"github.com/Strob0t/aopguard/internal/domain/guardrail"
	"github.com/Strob0t/aopguard/internal/domain/protocol"
	"github.com/Strob0t/aopguard/internal/port/auditstore"
	"github.com/Strob0t/aopguard/internal/port/schemavalidator"
)

// Compliance check names.
const (
	CheckSessionLoad         = "session_load"
	CheckMessageCompliance   = "message_compliance"
	CheckPayloadLimits       = "payload_limits"
	CheckBudgetCompliance    = "budget_compliance"
	CheckGuardRailCompliance = "guard_rail_compliance"
	CheckRoleAssignments     = "role_assignments"
)

var (
	taskRequiredFields     = []string{"session", "target", "task"}
	responseRequiredFields = []string{"session_id", "task_id", "agent", "task_status", "execution_summary"}
)

// RepoAuditor replays a session's persisted records and verifies them
// against the compliance checks. Reports and replays are derived on demand
// and never persisted.
type RepoAuditor struct {
	store   auditstore.Store
	schemas schemavalidator.Validator
	metrics *cfotel.Metrics
	loads   singleflight.Group
	now     func() time.Time
}

// NewRepoAuditor creates a RepoAuditor. schemas may be nil, which disables
// deep schema validation.
func NewRepoAuditor(store auditstore.Store, schemas schemavalidator.Validator) *RepoAuditor {
	return &RepoAuditor{store: store, schemas: schemas, now: time.Now}
}

// SetMetrics configures OTEL metric instruments.
func (a *RepoAuditor) SetMetrics(m *cfotel.Metrics) { a.metrics = m }

// LoadSession returns every valid record of the session sorted by timestamp.
// Concurrent loads of the same session share one directory scan.
func (a *RepoAuditor) LoadSession(ctx context.Context, sessionID string) ([]*audit.Record, error) {
	v, err, _ := a.loads.Do(sessionID, func() (any, error) {
		return loadRecords(ctx, a.store, sessionID, a.metrics)
	})
	if err != nil {
		return nil, err
	}
	return v.([]*audit.Record), nil
}

// CheckMessageCompliance verifies that a TASK_DISPATCHED or RESPONSE_RECEIVED
// payload is a message of the matching type with its required fields, and,
// when a schema document is available, that it validates against it. Other
// record kinds pass trivially.
func (a *RepoAuditor) CheckMessageCompliance(rec *audit.Record) audit.Finding {
	f := audit.Finding{CheckName: CheckMessageCompliance, RecordIDs: []string{rec.ID}, ErrorCodes: []aoperr.Code{}}

	var schemaName, wantType string
	var required []string
	switch rec.Kind {
	case audit.KindTaskDispatched:
		schemaName, wantType, required = schemavalidator.TaskEnvelopeSchema, string(protocol.MessageTypeTask), taskRequiredFields
	case audit.KindResponseReceived:
		schemaName, wantType, required = schemavalidator.ExecutorResponseSchema, string(protocol.MessageTypeResponse), responseRequiredFields
	default:
		f.Status = audit.StatusPass
		f.Details = fmt.Sprintf("Record type %s does not require message compliance check", rec.Kind)
		return f
	}

	var fields map[string]json.RawMessage
	_ = json.Unmarshal(rec.Payload, &fields)
	var gotType string
	if raw, ok := fields["message_type"]; ok {
		_ = json.Unmarshal(raw, &gotType)
	}
	if gotType != wantType {
		return fail(f, aoperr.CodeSchemaValidation,
			fmt.Sprintf("Expected message_type=%s, got %q", wantType, gotType))
	}

	if a.schemas != nil {
		err := a.schemas.Validate(schemaName, rec.Payload)
		switch {
		case err == nil, errors.Is(err, schemavalidator.ErrSchemaUnavailable):
		case errors.Is(err, schemavalidator.ErrSchemaInvalid):
			f.Status = audit.StatusWarn
			f.Details = fmt.Sprintf("Schema file error (cannot validate): %v", err)
			return f
		default:
			return fail(f, aoperr.CodeSchemaValidation, fmt.Sprintf("Schema validation failed: %s", validationError(err)))
		}
	}

	var missing []string
	for _, name := range required {
		if _, ok := fields[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fail(f, aoperr.CodeSchemaValidation,
			fmt.Sprintf("Missing required fields: [%s]", strings.Join(missing, ", ")))
	}

	f.Status = audit.StatusPass
	f.Details = fmt.Sprintf("Record %s complies with %s", rec.Kind, schemaName)
	return f
}

// CheckPayloadLimits re-measures a message payload against the hard size
// limit of its kind. Other record kinds pass trivially.
func (a *RepoAuditor) CheckPayloadLimits(rec *audit.Record) audit.Finding {
	f := audit.Finding{CheckName: CheckPayloadLimits, RecordIDs: []string{rec.ID}, ErrorCodes: []aoperr.Code{}}

	var limit int
	var label string
	switch rec.Kind {
	case audit.KindTaskDispatched:
		limit, label = protocol.MaxEnvelopeBytes, "200KB TASK limit"
	case audit.KindResponseReceived:
		limit, label = protocol.MaxResponseBytes, "500KB RESPONSE limit"
	default:
		f.Status = audit.StatusPass
		f.Details = fmt.Sprintf("Record type %s has no payload size constraint", rec.Kind)
		return f
	}

	size := len(rec.Payload)
	sizeKB := float64(size) / 1024
	if size > limit {
		return fail(f, aoperr.CodeContextOverflow,
			fmt.Sprintf("Payload %.2fKB exceeds %s (%d bytes)", sizeKB, label, limit))
	}
	f.Status = audit.StatusPass
	f.Details = fmt.Sprintf("Payload %.2fKB within %s", sizeKB, label)
	return f
}

// CheckBudgetCompliance fails when any BUDGET guard rail check failed or any
// record reports a budget overrun. Sessions without budget checks pass.
func (a *RepoAuditor) CheckBudgetCompliance(records []*audit.Record) audit.Finding {
	var issues, ids []string
	for _, rec := range records {
		if rec.Kind == audit.KindGuardRailCheck {
			chk, err := audit.DecodePayload[audit.GuardRailCheck](rec)
			if err == nil && chk.CheckType == string(guardrail.CheckBudget) && chk.Result == string(guardrail.OutcomeFail) {
				issues = append(issues, fmt.Sprintf("Budget check FAIL at task=%s: %s", rec.TaskID, chk.Details))
				ids = appendUnique(ids, rec.ID)
			}
		}
		if bs := rec.Governance.BudgetStatus; bs != nil && !bs.WithinBudget {
			limit := "none"
			if bs.MaxCostUSD != nil {
				limit = fmt.Sprintf("%g", *bs.MaxCostUSD)
			}
			issues = append(issues, fmt.Sprintf("Budget exceeded at record %s task=%s: cost=%g > max=%s",
				rec.Kind, rec.TaskID, bs.CurrentCostUSD, limit))
			ids = appendUnique(ids, rec.ID)
		}
	}

	f := audit.Finding{CheckName: CheckBudgetCompliance, RecordIDs: []string{}, ErrorCodes: []aoperr.Code{}}
	if len(issues) > 0 {
		f.RecordIDs = ids
		return fail(f, aoperr.CodeCostLimitExceeded, strings.Join(issues, "; "))
	}
	f.Status = audit.StatusPass
	f.Details = "All budget checks passed within session"
	return f
}

// CheckGuardRailCompliance warns about dispatched tasks that never received a
// guard rail check, and fails when a task received a response after one of
// its guard rail checks failed.
func (a *RepoAuditor) CheckGuardRailCompliance(records []*audit.Record) audit.Finding {
	dispatched := map[string]bool{}
	checked := map[string]bool{}
	failedBy := map[string]string{}  // task id -> first failed check record id
	continued := map[string]string{} // task id -> failed check ignored by a later response

	sorted := slices.Clone(records)
	slices.SortStableFunc(sorted, func(x, y *audit.Record) int { return x.Timestamp.Compare(y.Timestamp) })

	for _, rec := range sorted {
		switch rec.Kind {
		case audit.KindTaskDispatched:
			dispatched[rec.TaskID] = true
		case audit.KindGuardRailCheck:
			checked[rec.TaskID] = true
			chk, err := audit.DecodePayload[audit.GuardRailCheck](rec)
			if err == nil && chk.Result == string(guardrail.OutcomeFail) {
				if _, seen := failedBy[rec.TaskID]; !seen {
					failedBy[rec.TaskID] = rec.ID
				}
			}
		case audit.KindResponseReceived:
			if id, ok := failedBy[rec.TaskID]; ok {
				if _, seen := continued[rec.TaskID]; !seen {
					continued[rec.TaskID] = id
				}
			}
		}
	}

	var missing []string
	for task := range dispatched {
		if !checked[task] {
			missing = append(missing, task)
		}
	}
	slices.Sort(missing)

	f := audit.Finding{CheckName: CheckGuardRailCompliance, RecordIDs: []string{}, ErrorCodes: []aoperr.Code{}}
	var issues []string
	status := audit.StatusPass
	if len(missing) > 0 {
		issues = append(issues, fmt.Sprintf("Tasks missing guard rail checks: [%s]", strings.Join(missing, ", ")))
		status = audit.StatusWarn
	}
	if len(continued) > 0 {
		tasks := make([]string, 0, len(continued))
		for task := range continued {
			tasks = append(tasks, task)
		}
		slices.Sort(tasks)
		for _, task := range tasks {
			issues = append(issues, fmt.Sprintf("Task %s continued after FAIL guard rail check (record %s)", task, continued[task]))
			f.RecordIDs = append(f.RecordIDs, continued[task])
		}
		status = audit.StatusFail
		f.ErrorCodes = []aoperr.Code{aoperr.CodeSchemaValidation}
	}

	if len(issues) == 0 {
		f.Status = audit.StatusPass
		f.Details = "All guard rail checks properly applied and respected"
		return f
	}
	f.Status = status
	f.Details = strings.Join(issues, "; ")
	return f
}

// CheckRoleAssignments fails for any record whose actor role is neither
// expected for its kind nor a known role.
func (a *RepoAuditor) CheckRoleAssignments(records []*audit.Record) audit.Finding {
	var issues, ids []string
	for _, rec := range records {
		expected, ok := audit.ExpectedRoles[rec.Kind]
		if !ok {
			continue
		}
		role := rec.Actor.Role
		if slices.Contains(expected, role) || role.Valid() {
			continue
		}
		issues = append(issues, fmt.Sprintf("Invalid role %q for actor %q in %s (expected one of %v)",
			role, rec.Actor.Name, rec.Kind, expected))
		ids = append(ids, rec.ID)
	}

	f := audit.Finding{CheckName: CheckRoleAssignments, RecordIDs: []string{}, ErrorCodes: []aoperr.Code{}}
	if len(issues) > 0 {
		f.RecordIDs = ids
		return fail(f, aoperr.CodePermissionDenied, strings.Join(issues, "; "))
	}
	f.Status = audit.StatusPass
	f.Details = "All role assignments are valid and consistent"
	return f
}

// RunFullAudit loads the session and runs every check. An empty session
// yields a single WARN finding and no other checks.
func (a *RepoAuditor) RunFullAudit(ctx context.Context, sessionID string) (*audit.Report, error) {
	ctx, span := cfotel.StartAuditSpan(ctx, sessionID)
	defer span.End()
	start := time.Now()

	records, err := a.LoadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	report := &audit.Report{
		SessionID:      sessionID,
		AuditTimestamp: a.now().UTC(),
		TotalRecords:   len(records),
	}
	if len(records) == 0 {
		report.Findings = []audit.Finding{{
			CheckName:  CheckSessionLoad,
			Status:     audit.StatusWarn,
			Details:    fmt.Sprintf("No records found for session %s", sessionID),
			RecordIDs:  []string{},
			ErrorCodes: []aoperr.Code{},
		}}
		report.OverallStatus = audit.StatusWarn
		report.Summary = fmt.Sprintf("Session %s has no audit records", sessionID)
		a.observe(ctx, report, start)
		return report, nil
	}

	for _, rec := range records {
		if rec.Kind.IsMessage() {
			report.Findings = append(report.Findings, a.CheckMessageCompliance(rec), a.CheckPayloadLimits(rec))
		}
	}
	report.Findings = append(report.Findings,
		a.CheckBudgetCompliance(records),
		a.CheckGuardRailCompliance(records),
		a.CheckRoleAssignments(records),
	)

	statuses := make([]audit.Status, len(report.Findings))
	for i, f := range report.Findings {
		statuses[i] = f.Status
	}
	report.OverallStatus = audit.Worst(statuses...)
	counts := report.Counts()
	report.Summary = fmt.Sprintf("Session %s: %d records audited. Findings: %d PASS, %d WARN, %d FAIL. Overall: %s",
		sessionID, len(records), counts[audit.StatusPass], counts[audit.StatusWarn], counts[audit.StatusFail], report.OverallStatus)

	a.observe(ctx, report, start)
	return report, nil
}

func (a *RepoAuditor) observe(ctx context.Context, report *audit.Report, start time.Time) {
	slog.Info("session audited", "session_id", report.SessionID, "records", report.TotalRecords, "overall_status", report.OverallStatus)
	if a.metrics == nil {
		return
	}
	a.metrics.AuditsRun.Add(ctx, 1, metric.WithAttributes(attribute.String("overall_status", string(report.OverallStatus))))
	a.metrics.AuditDuration.Record(ctx, time.Since(start).Seconds())
}

// ReplaySession returns the session's records in timestamp order, each with
// a kind-specific annotation and payload summary.
func (a *RepoAuditor) ReplaySession(ctx context.Context, sessionID string) ([]audit.ReplayEvent, error) {
	records, err := a.LoadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	events := make([]audit.ReplayEvent, len(records))
	for i, rec := range records {
		p := payloadMap(rec)
		events[i] = audit.ReplayEvent{
			Sequence:           i + 1,
			Timestamp:          rec.Timestamp,
			RecordType:         rec.Kind,
			TaskID:             rec.TaskID,
			Actor:              rec.Actor,
			AuditRecordID:      rec.ID,
			Annotation:         fmt.Sprintf("[%d/%d] %s", i+1, len(records), annotate(rec, p)),
			GovernanceDecision: rec.Governance.AccessDecision,
			PayloadSummary:     summarizePayload(rec.Kind, p),
		}
	}
	return events, nil
}

func annotate(rec *audit.Record, p payload) string {
	switch rec.Kind {
	case audit.KindTaskDispatched:
		return fmt.Sprintf("Orchestrator dispatched task '%s' to executor", rec.TaskID)
	case audit.KindRoutingDecision:
		note := ""
		if p.flag("fallback_triggered") {
			note = fmt.Sprintf(" (FALLBACK: %s)", p.str("fallback_reason", "unknown"))
		}
		return fmt.Sprintf("Routed to '%s' using model '%s'%s", p.str("routed_to", "unknown"), p.str("model_selected", "unknown"), note)
	case audit.KindGuardRailCheck:
		return fmt.Sprintf("Guard rail '%s': %s", p.str("check_type", "?"), p.str("result", "?"))
	case audit.KindResponseReceived:
		return fmt.Sprintf("Response received: final_signal=%s", p.sub("task_status").str("final_signal", "?"))
	case audit.KindRollbackEvent:
		return fmt.Sprintf("Rollback triggered by '%s': %s", p.str("trigger", "?"), p.str("status", "?"))
	case audit.KindSessionSummary:
		return fmt.Sprintf("Session summary: %g/%g tasks completed, cost=$%.4f",
			p.num("completed"), p.num("total_tasks"), p.num("total_cost_usd"))
	}
	return string(rec.Kind)
}

func summarizePayload(kind audit.Kind, p payload) string {
	switch kind {
	case audit.KindTaskDispatched:
		t := p.sub("task")
		return fmt.Sprintf("task_id=%s, category=%s", t.str("task_id", "?"), t.str("category", "?"))
	case audit.KindResponseReceived:
		ts := p.sub("task_status")
		return fmt.Sprintf("state=%s, signal=%s", ts.str("state", "?"), ts.str("final_signal", "?"))
	case audit.KindRoutingDecision:
		return fmt.Sprintf("version=%s, model=%s, fallback=%t",
			p.str("input_version", "?"), p.str("model_selected", "?"), p.flag("fallback_triggered"))
	case audit.KindGuardRailCheck:
		return fmt.Sprintf("check=%s, result=%s", p.str("check_type", "?"), p.str("result", "?"))
	case audit.KindRollbackEvent:
		arts, _ := p["artifacts_rolled_back"].([]any)
		return fmt.Sprintf("status=%s, artifacts=%d", p.str("status", "?"), len(arts))
	case audit.KindSessionSummary:
		return fmt.Sprintf("tasks=%g, completed=%g, cost=$%.4f",
			p.num("total_tasks"), p.num("completed"), p.num("total_cost_usd"))
	}
	return "..."
}

// payload is a loosely typed view of a record payload for presentation.
type payload map[string]any

func payloadMap(rec *audit.Record) payload {
	var p payload
	if err := json.Unmarshal(rec.Payload, &p); err != nil {
		return payload{}
	}
	return p
}

func (p payload) str(key, def string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return def
}

func (p payload) num(key string) float64 {
	v, _ := p[key].(float64)
	return v
}

func (p payload) flag(key string) bool {
	v, _ := p[key].(bool)
	return v
}

func (p payload) sub(key string) payload {
	v, _ := p[key].(map[string]any)
	return v
}

func fail(f audit.Finding, code aoperr.Code, details string) audit.Finding {
	f.Status = audit.StatusFail
	f.Details = details
	f.ErrorCodes = []aoperr.Code{code}
	return f
}

func appendUnique(ids []string, id string) []string {
	if slices.Contains(ids, id) {
		return ids
	}
	return append(ids, id)
}
