package guardrail

import (
	"fmt"

	"github.com/Strob0t/aopguard/internal/domain/aoperr"
)

// CheckCostBudget fails with E_COST_LIMIT_EXCEEDED iff actual > maxCost.
// A nil maxCost means no budget is configured and always passes.
func CheckCostBudget(actual float64, maxCost *float64) error {
	if maxCost == nil || actual <= *maxCost {
		return nil
	}
	return aoperr.New(aoperr.CodeCostLimitExceeded,
		fmt.Sprintf("Task cost $%g exceeds budget $%g", actual, *maxCost),
		map[string]any{
			"actual_cost_usd": actual,
			"max_cost_usd":    *maxCost,
		})
}

// CheckPayloadSize fails with E_CONTEXT_OVERFLOW when payload is larger than limit bytes.
func CheckPayloadSize(payload []byte, limit int, payloadType string) error {
	size := len(payload)
	if size <= limit {
		return nil
	}
	return aoperr.New(aoperr.CodeContextOverflow,
		fmt.Sprintf("%s exceeds %d byte limit", payloadType, limit),
		map[string]any{
			"size_bytes":   size,
			"limit_bytes":  limit,
			"payload_type": payloadType,
		})
}

// PayloadSizeWarning is the soft counterpart of CheckPayloadSize. It returns
// an E_PAYLOAD_SIZE_WARNING error describing the overage, or nil. Callers
// surface it but never block on it.
func PayloadSizeWarning(payload []byte, softLimit int, payloadType string) *aoperr.Error {
	size := len(payload)
	if size <= softLimit {
		return nil
	}
	return aoperr.New(aoperr.CodePayloadSizeWarning,
		fmt.Sprintf("%s exceeds soft limit: %d bytes (soft: %d)", payloadType, size, softLimit),
		map[string]any{
			"size_bytes":       size,
			"soft_limit_bytes": softLimit,
			"payload_type":     payloadType,
		})
}
