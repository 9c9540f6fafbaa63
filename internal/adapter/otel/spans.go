package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "aopguard"

// StartDetectSpan starts a span for version detection of one inbound message.
func StartDetectSpan(ctx context.Context, size int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "router.detect",
		trace.WithAttributes(attribute.Int("input.bytes", size)),
	)
}

// StartAuditSpan starts a span for a full session audit.
func StartAuditSpan(ctx context.Context, sessionID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "auditor.run",
		trace.WithAttributes(attribute.String("session.id", sessionID)),
	)
}

// StartRecordSpan starts a span for persisting one audit record.
func StartRecordSpan(ctx context.Context, sessionID, taskID, kind string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "audit.record",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("task.id", taskID),
			attribute.String("record.kind", kind),
		),
	)
}
