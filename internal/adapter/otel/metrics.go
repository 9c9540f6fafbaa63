package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "aopguard"

// Metrics holds all aopguard metric instruments.
type Metrics struct {
	VersionDetections   metric.Int64Counter
	VersionFallbacks    metric.Int64Counter
	GuardRailViolations metric.Int64Counter
	RecordsWritten      metric.Int64Counter
	RecordsSkipped      metric.Int64Counter
	AuditsRun           metric.Int64Counter
	AuditDuration       metric.Float64Histogram
	SessionCost         metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.VersionDetections, err = meter.Int64Counter("aopguard.router.detections",
		metric.WithDescription("Inbound messages classified, by detected version"))
	if err != nil {
		return nil, err
	}

	m.VersionFallbacks, err = meter.Int64Counter("aopguard.router.fallbacks",
		metric.WithDescription("Current-protocol messages downgraded to legacy after validation failure"))
	if err != nil {
		return nil, err
	}

	m.GuardRailViolations, err = meter.Int64Counter("aopguard.guardrail.violations",
		metric.WithDescription("Guard rail violations and warnings, by rule and severity"))
	if err != nil {
		return nil, err
	}

	m.RecordsWritten, err = meter.Int64Counter("aopguard.audit.records_written",
		metric.WithDescription("Audit records persisted, by kind"))
	if err != nil {
		return nil, err
	}

	m.RecordsSkipped, err = meter.Int64Counter("aopguard.audit.records_skipped",
		metric.WithDescription("Corrupt or unreadable audit record files skipped on read"))
	if err != nil {
		return nil, err
	}

	m.AuditsRun, err = meter.Int64Counter("aopguard.auditor.runs",
		metric.WithDescription("Full session audits, by overall status"))
	if err != nil {
		return nil, err
	}

	m.AuditDuration, err = meter.Float64Histogram("aopguard.auditor.duration_seconds",
		metric.WithDescription("Full session audit duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.SessionCost, err = meter.Float64Histogram("aopguard.session.cost_usd",
		metric.WithDescription("Summarized session cost in USD"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
