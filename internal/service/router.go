package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	cfotel "github.com/Strob0t/aopguard/internal/adapter/otel"
	"github.com/Strob0t/aopguard/internal/domain/aoperr"
	"github.com/Strob0t/aopguard/internal/domain/guardrail"
	"github.com/Strob0t/aopguard/internal/domain/protocol"
)

// FallbackNotifier receives version-fallback events. Delivery is best effort.
type FallbackNotifier interface {
	NotifyFallback(ctx context.Context, ev protocol.FallbackEvent) error
}

// VersionRouter classifies inbound messages as current-protocol,
// legacy-protocol or unstructured, and derives routing metadata.
type VersionRouter struct {
	notifier FallbackNotifier
	metrics  *cfotel.Metrics
}

// NewVersionRouter creates a VersionRouter.
func NewVersionRouter() *VersionRouter {
	return &VersionRouter{}
}

// SetFallbackNotifier configures where fallback events are published.
func (r *VersionRouter) SetFallbackNotifier(n FallbackNotifier) { r.notifier = n }

// SetMetrics configures OTEL metric instruments.
func (r *VersionRouter) SetMetrics(m *cfotel.Metrics) { r.metrics = m }

// Detect classifies raw input. It never fails: every input reaches one of the
// three terminal kinds. A current-protocol message that fails validation is
// downgraded to legacy with FallbackTriggered set and the schema error attached.
func (r *VersionRouter) Detect(ctx context.Context, raw string) *protocol.Detection {
	ctx, span := cfotel.StartDetectSpan(ctx, len(raw))
	defer span.End()

	d := r.detect(ctx, raw)
	if r.metrics != nil {
		r.metrics.VersionDetections.Add(ctx, 1, metric.WithAttributes(
			attribute.String("version", string(d.Kind)),
			attribute.Bool("fallback", d.FallbackTriggered),
		))
	}
	return d
}

func (r *VersionRouter) detect(ctx context.Context, raw string) *protocol.Detection {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		slog.Debug("input is not a JSON object", "error", err)
		return detectLegacy(raw)
	}

	var version string
	if v, ok := probe["aop_version"]; ok {
		_ = json.Unmarshal(v, &version)
	}
	if version == "" {
		slog.Debug("missing aop_version, trying legacy detection")
		return detectLegacy(raw)
	}
	if !protocol.IsCurrentVersion(version) {
		slog.Warn("unknown aop_version", "aop_version", version)
		return detectLegacy(raw)
	}

	env, err := protocol.DecodeEnvelope([]byte(raw))
	if err == nil {
		return &protocol.Detection{Kind: protocol.KindCurrent, Raw: raw, Envelope: env}
	}

	reason := validationError(err)
	r.emitFallback(ctx, raw, reason)
	return &protocol.Detection{
		Kind: protocol.KindLegacy,
		Raw:  raw,
		Err: aoperr.New(aoperr.CodeSchemaValidation, "V2 schema validation failed", map[string]any{
			"validation_error": reason,
		}),
		FallbackTriggered: true,
	}
}

func detectLegacy(raw string) *protocol.Detection {
	lower := strings.ToLower(raw)
	for _, kw := range protocol.LegacyKeywords {
		if strings.Contains(lower, kw) {
			return &protocol.Detection{
				Kind:   protocol.KindLegacy,
				Raw:    raw,
				Legacy: &protocol.LegacyPayload{Type: protocol.LegacyPromptType, Content: raw},
			}
		}
	}
	return &protocol.Detection{Kind: protocol.KindUnstructured, Raw: raw}
}

func validationError(err error) string {
	var aerr *aoperr.Error
	if errors.As(err, &aerr) {
		if v, ok := aerr.Details["validation_error"].(string); ok {
			return v
		}
		if v, ok := aerr.Details["error"].(string); ok {
			return v
		}
	}
	return err.Error()
}

func (r *VersionRouter) emitFallback(ctx context.Context, raw, reason string) {
	ev := protocol.FallbackEvent{
		Event:           protocol.FallbackEventName,
		Reason:          protocol.FallbackReasonV2,
		ValidationError: reason,
		InputPreview:    truncateRunes(raw, protocol.FallbackPreviewSize),
	}
	slog.Warn("version fallback", "reason", ev.Reason, "validation_error", truncateRunes(reason, 100))

	if r.metrics != nil {
		r.metrics.VersionFallbacks.Add(ctx, 1)
	}
	if r.notifier != nil {
		if err := r.notifier.NotifyFallback(ctx, ev); err != nil {
			slog.Error("publish fallback event", "error", err)
		}
	}
}

// Route maps a detection to routing metadata. It has no side effects.
func (r *VersionRouter) Route(d *protocol.Detection) protocol.Routing {
	raw := d.Raw
	switch d.Kind {
	case protocol.KindCurrent:
		return protocol.Routing{
			Version:            protocol.KindCurrent,
			UseCurrentExecutor: true,
			FallbackAvailable:  true,
			ParsedEnvelope:     d.Envelope,
		}
	case protocol.KindLegacy:
		fallback := d.FallbackTriggered
		return protocol.Routing{
			Version:              protocol.KindLegacy,
			TransformationNeeded: true,
			RawPrompt:            &raw,
			FallbackTriggered:    &fallback,
		}
	default:
		return protocol.Routing{
			Version:              protocol.KindUnstructured,
			TransformationNeeded: true,
			RawInput:             &raw,
			Warning:              protocol.UnstructuredWarning,
		}
	}
}

// ValidateResponse validates an executor response against the expected kind.
// Current-protocol responses are strictly decoded and fail with
// E_PARSE_FAILURE or E_SCHEMA_VALIDATION; anything else is wrapped unvalidated.
func (r *VersionRouter) ValidateResponse(raw string, expected protocol.Kind) (*protocol.ResponseResult, error) {
	if expected != protocol.KindCurrent {
		return &protocol.ResponseResult{
			Kind:   expected,
			Legacy: &protocol.LegacyPayload{Type: protocol.LegacyResponseType, Content: raw},
		}, nil
	}
	resp, err := protocol.DecodeResponse([]byte(raw))
	if err != nil {
		return nil, err
	}
	return &protocol.ResponseResult{Kind: protocol.KindCurrent, Response: resp}, nil
}

// EffectiveTimeout resolves the task timeout with the same precedence the
// guard rail engine uses.
func (r *VersionRouter) EffectiveTimeout(gr *protocol.GuardRails, ep *protocol.ExecutionPolicy) int {
	return guardrail.EffectiveTimeout(gr, ep)
}

// SupportsCurrent reports whether an agent declares a current-major protocol version.
func (r *VersionRouter) SupportsCurrent(caps *protocol.AgentCapabilities) bool {
	return caps.SupportsCurrentVersion()
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
