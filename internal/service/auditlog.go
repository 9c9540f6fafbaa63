package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	cfotel "github.com/Strob0t/aopguard/internal/adapter/otel"
	"github.com/Strob0t/aopguard/internal/domain/aoperr"
	"github.com/Strob0t/aopguard/internal/domain/audit"
	"github.com/Strob0t/aopguard/internal/domain/guardrail"
	"github.com/Strob0t/aopguard/internal/domain/protocol"
	"github.com/Strob0t/aopguard/internal/port/auditstore"
)

const (
	routerActor         = "VersionRouter"
	governanceActor     = "GuardRailEngine"
	defaultOrchestrator = "Orchestrator"
	defaultExecutor     = "Executor"
)

// AuditLogger writes one immutable record per protocol event of a session.
// Every Log method persists its record before returning.
type AuditLogger struct {
	store        auditstore.Store
	sessionID    string
	orchestrator string
	sinks        []auditstore.Sink
	metrics      *cfotel.Metrics
	now          func() time.Time

	mu   sync.Mutex
	last time.Time
}

// AuditLoggerOption configures an AuditLogger.
type AuditLoggerOption func(*AuditLogger)

// WithSinks mirrors every persisted record to the given sinks.
func WithSinks(sinks ...auditstore.Sink) AuditLoggerOption {
	return func(l *AuditLogger) { l.sinks = append(l.sinks, sinks...) }
}

// WithOrchestrator sets the actor name of orchestrator records that do not
// name one themselves.
func WithOrchestrator(name string) AuditLoggerOption {
	return func(l *AuditLogger) {
		if name != "" {
			l.orchestrator = name
		}
	}
}

// WithLoggerMetrics configures OTEL metric instruments.
func WithLoggerMetrics(m *cfotel.Metrics) AuditLoggerOption {
	return func(l *AuditLogger) { l.metrics = m }
}

// NewAuditLogger creates a logger bound to one session.
func NewAuditLogger(store auditstore.Store, sessionID string, opts ...AuditLoggerOption) (*AuditLogger, error) {
	if err := audit.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	l := &AuditLogger{
		store:        store,
		sessionID:    sessionID,
		orchestrator: defaultOrchestrator,
		now:          time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l, nil
}

// SessionID returns the session the logger writes to.
func (l *AuditLogger) SessionID() string { return l.sessionID }

// LogTaskDispatched records a TASK envelope handed to an executor. Header
// defaults are applied to the recorded copy; env itself is not modified.
func (l *AuditLogger) LogTaskDispatched(ctx context.Context, env *protocol.Envelope) (*audit.Record, error) {
	normalized := *env
	normalized.ApplyDefaults()
	env = &normalized

	name := env.Session.Orchestrator
	if name == "" {
		name = l.orchestrator
	}
	rec, err := l.build(env.Task.TaskID, audit.KindTaskDispatched, env,
		audit.Actor{Name: name, Role: audit.RoleOrchestrator},
		audit.Governance{
			GuardRailsApplied: []string{},
			BudgetStatus: &audit.BudgetStatus{
				MaxCostUSD:   env.Task.MaxCostUSD(),
				WithinBudget: true,
			},
			AccessDecision: audit.AccessAllowed,
		})
	if err != nil {
		return nil, err
	}
	rec.Context.ParentTaskID = env.Task.ParentTaskID
	if env.Task.Attempt > 0 {
		rec.Context.Attempt = env.Task.Attempt
	}
	return l.persist(ctx, rec)
}

// LogResponseReceived records an executor RESPONSE. Header defaults are
// applied to the recorded copy.
func (l *AuditLogger) LogResponseReceived(ctx context.Context, resp *protocol.Response) (*audit.Record, error) {
	normalized := *resp
	normalized.ApplyDefaults()
	resp = &normalized

	name := resp.Agent.Name
	if name == "" {
		name = defaultExecutor
	}
	rec, err := l.build(resp.TaskID, audit.KindResponseReceived, resp,
		audit.Actor{
			Name:     name,
			Role:     audit.RoleExecutor,
			Provider: string(resp.Agent.Provider),
			Model:    resp.Agent.Model,
		},
		audit.Governance{
			GuardRailsApplied: []string{string(guardrail.CheckFinalSignal), string(guardrail.CheckMinimalReport)},
			BudgetStatus: &audit.BudgetStatus{
				CurrentCostUSD: resp.ActualCost(),
				WithinBudget:   true,
			},
			AccessDecision: audit.AccessAllowed,
		})
	if err != nil {
		return nil, err
	}
	return l.persist(ctx, rec)
}

// LogRoutingDecision records where the router sent a task.
func (l *AuditLogger) LogRoutingDecision(ctx context.Context, taskID string, d audit.RoutingDecision) (*audit.Record, error) {
	if d.AlternativesTried == nil {
		d.AlternativesTried = []string{}
	}
	gov := audit.Governance{GuardRailsApplied: []string{}, AccessDecision: audit.AccessAllowed}
	if d.FallbackReason != nil {
		gov.ReasonCode = *d.FallbackReason
	}
	rec, err := l.build(taskID, audit.KindRoutingDecision, d,
		audit.Actor{Name: routerActor, Role: audit.RoleRouter}, gov)
	if err != nil {
		return nil, err
	}
	return l.persist(ctx, rec)
}

// LogGuardRailCheck records the verdict of one guard rail check. PASS and
// WARN are recorded as ALLOWED, anything else as DENIED. budget may be nil.
func (l *AuditLogger) LogGuardRailCheck(ctx context.Context, taskID string, chk audit.GuardRailCheck, budget *audit.BudgetStatus) (*audit.Record, error) {
	gov := audit.Governance{
		GuardRailsApplied: []string{chk.CheckType},
		BudgetStatus:      budget,
		AccessDecision:    audit.AccessDenied,
	}
	if chk.Result == string(guardrail.OutcomePass) || chk.Result == string(guardrail.OutcomeWarn) {
		gov.AccessDecision = audit.AccessAllowed
	}
	if chk.ErrorCode != nil {
		gov.ReasonCode = *chk.ErrorCode
	}
	rec, err := l.build(taskID, audit.KindGuardRailCheck, chk,
		audit.Actor{Name: governanceActor, Role: audit.RoleGovernance}, gov)
	if err != nil {
		return nil, err
	}
	return l.persist(ctx, rec)
}

// LogRollbackEvent records a rollback. A FAILED rollback carries E_ROLLBACK_FAILED.
func (l *AuditLogger) LogRollbackEvent(ctx context.Context, taskID string, rb audit.Rollback) (*audit.Record, error) {
	if rb.ArtifactsRolledBack == nil {
		rb.ArtifactsRolledBack = []audit.RolledBackArtifact{}
	}
	gov := audit.Governance{GuardRailsApplied: []string{}, AccessDecision: audit.AccessNotApplicable}
	if rb.Status == audit.RollbackFailed {
		gov.ReasonCode = string(aoperr.CodeRollbackFailed)
	}
	rec, err := l.build(taskID, audit.KindRollbackEvent, rb,
		audit.Actor{Name: l.orchestrator, Role: audit.RoleOrchestrator}, gov)
	if err != nil {
		return nil, err
	}
	return l.persist(ctx, rec)
}

// SummarizeSession recomputes the session aggregates from every persisted
// record of the session, including those written by other processes, and
// persists the result as a SESSION_SUMMARY record.
func (l *AuditLogger) SummarizeSession(ctx context.Context) (*audit.Record, error) {
	records, err := l.ListSessionRecords(ctx)
	if err != nil {
		return nil, err
	}
	sum := Summarize(records)

	rec, err := l.build(audit.SessionTaskID, audit.KindSessionSummary, sum,
		audit.Actor{Name: l.orchestrator, Role: audit.RoleOrchestrator},
		audit.Governance{GuardRailsApplied: []string{}, AccessDecision: audit.AccessNotApplicable})
	if err != nil {
		return nil, err
	}
	if l.metrics != nil {
		l.metrics.SessionCost.Record(ctx, sum.TotalCostUSD)
	}
	return l.persist(ctx, rec)
}

// ListSessionRecords re-reads every valid record of the session from the
// store, sorted by timestamp. Unreadable files are logged and skipped.
func (l *AuditLogger) ListSessionRecords(ctx context.Context) ([]*audit.Record, error) {
	return loadRecords(ctx, l.store, l.sessionID, l.metrics)
}

func loadRecords(ctx context.Context, store auditstore.Store, sessionID string, m *cfotel.Metrics) ([]*audit.Record, error) {
	batch, err := store.LoadSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	for _, sk := range batch.Skipped {
		slog.Warn("skipping unreadable audit record", "session_id", sessionID, "path", sk.Path, "error", sk.Err)
	}
	if m != nil && len(batch.Skipped) > 0 {
		m.RecordsSkipped.Add(ctx, int64(len(batch.Skipped)))
	}
	return batch.Records, nil
}

// Summarize computes session aggregates from records sorted by timestamp.
//
// The total cost is the sum of actual costs reported by responses. A
// guard-rail check carrying a budget status raises the running total to its
// current cost when that is higher.
func Summarize(records []*audit.Record) audit.SessionSummary {
	sum := audit.SessionSummary{
		AgentsUsed:      []string{},
		RoleAssignments: []audit.RoleAssignment{},
	}
	var first, last time.Time
	var cost float64

	for _, rec := range records {
		if first.IsZero() || rec.Timestamp.Before(first) {
			first = rec.Timestamp
		}
		if last.IsZero() || rec.Timestamp.After(last) {
			last = rec.Timestamp
		}

		switch rec.Kind {
		case audit.KindTaskDispatched:
			sum.TotalTasks++
		case audit.KindResponseReceived:
			view, err := audit.DecodePayload[audit.MessageView](rec)
			if err != nil {
				slog.Warn("unreadable response payload", "audit_record_id", rec.ID, "error", err)
				continue
			}
			switch protocol.FinalSignal(view.TaskStatus.FinalSignal) {
			case protocol.SignalSuccess, protocol.SignalPartialSuccess:
				sum.Completed++
			case protocol.SignalFailure, protocol.SignalAborted:
				sum.Failed++
			}
			cost += view.ActualCost()
			if name := view.Agent.Name; name != "" {
				if !slices.Contains(sum.AgentsUsed, name) {
					sum.AgentsUsed = append(sum.AgentsUsed, name)
				}
				sum.RoleAssignments = append(sum.RoleAssignments, audit.RoleAssignment{
					Agent: name,
					Role:  rec.Actor.Role,
					Model: view.Agent.Model,
				})
			}
		case audit.KindGuardRailCheck:
			if bs := rec.Governance.BudgetStatus; bs != nil && bs.CurrentCostUSD > cost {
				cost = bs.CurrentCostUSD
			}
		}
	}

	slices.Sort(sum.AgentsUsed)
	sum.TotalCostUSD = math.Round(cost*1e6) / 1e6
	if !first.IsZero() {
		sum.TotalDurationSeconds = last.Sub(first).Seconds()
	}
	return sum
}

func (l *AuditLogger) build(taskID string, kind audit.Kind, payload any, actor audit.Actor, gov audit.Governance) (*audit.Record, error) {
	data, err := protocol.MarshalCompact(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return &audit.Record{
		ID:         uuid.NewString(),
		Version:    audit.RecordVersion,
		Timestamp:  l.timestamp(),
		SessionID:  l.sessionID,
		TaskID:     taskID,
		Kind:       kind,
		Actor:      actor,
		Payload:    data,
		Context:    audit.Context{Attempt: 1, CorrelationID: l.sessionID},
		Governance: gov,
	}, nil
}

// timestamp returns the current UTC time, strictly after the previous record
// of this logger so that records of one logger never tie.
func (l *AuditLogger) timestamp() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	ts := l.now().UTC()
	if !ts.After(l.last) {
		ts = l.last.Add(time.Microsecond)
	}
	l.last = ts
	return ts
}

func (l *AuditLogger) persist(ctx context.Context, rec *audit.Record) (*audit.Record, error) {
	ctx, span := cfotel.StartRecordSpan(ctx, rec.SessionID, rec.TaskID, string(rec.Kind))
	defer span.End()

	location, err := l.store.Append(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("persist %s record: %w", rec.Kind, err)
	}
	slog.Debug("audit record written", "session_id", rec.SessionID, "task_id", rec.TaskID, "kind", rec.Kind, "path", location)

	if l.metrics != nil {
		l.metrics.RecordsWritten.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(rec.Kind))))
	}
	for _, s := range l.sinks {
		if err := s.Publish(ctx, rec, location); err != nil {
			slog.Error("audit sink publish failed", "session_id", rec.SessionID, "audit_record_id", rec.ID, "error", err)
		}
	}
	return rec, nil
}
