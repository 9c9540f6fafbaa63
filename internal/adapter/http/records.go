package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Strob0t/aopguard/internal/domain"
	"github.com/Strob0t/aopguard/internal/domain/audit"
	"github.com/Strob0t/aopguard/internal/domain/protocol"
	"github.com/Strob0t/aopguard/internal/service"
)

// appendRecordRequest is the body of POST /api/v2/sessions/{id}/records.
// TASK_DISPATCHED and RESPONSE_RECEIVED take the raw message as payload and
// derive the task id from it; the other kinds need task_id.
type appendRecordRequest struct {
	Kind         audit.Kind          `json:"kind"`
	TaskID       string              `json:"task_id"`
	Payload      json.RawMessage     `json:"payload"`
	BudgetStatus *audit.BudgetStatus `json:"budget_status,omitempty"`
}

// AppendSessionRecord handles POST /api/v2/sessions/{id}/records
func (h *Handlers) AppendSessionRecord(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var req appendRecordRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid record request: "+err.Error())
		return
	}
	if len(req.Payload) == 0 {
		writeError(w, http.StatusBadRequest, "payload is required")
		return
	}

	l, err := service.NewAuditLogger(h.Store, urlParam(r, "id"), h.LoggerOptions...)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	rec, err := appendRecord(r.Context(), l, &req)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func appendRecord(ctx context.Context, l *service.AuditLogger, req *appendRecordRequest) (*audit.Record, error) {
	switch req.Kind {
	case audit.KindTaskDispatched:
		env, err := protocol.DecodeEnvelope(req.Payload)
		if err != nil {
			return nil, err
		}
		return l.LogTaskDispatched(ctx, env)
	case audit.KindResponseReceived:
		resp, err := protocol.DecodeResponse(req.Payload)
		if err != nil {
			return nil, err
		}
		return l.LogResponseReceived(ctx, resp)
	case audit.KindSessionSummary:
		return nil, fmt.Errorf("%w: session summaries are written by POST /summary", domain.ErrValidation)
	case "":
		return nil, fmt.Errorf("%w: kind is required", domain.ErrValidation)
	}

	if req.TaskID == "" {
		return nil, fmt.Errorf("%w: task_id is required for %s", domain.ErrValidation, req.Kind)
	}
	switch req.Kind {
	case audit.KindRoutingDecision:
		var d audit.RoutingDecision
		if err := decodePayload(req, &d); err != nil {
			return nil, err
		}
		if d.RoutedTo == "" {
			return nil, fmt.Errorf("%w: routed_to is required", domain.ErrValidation)
		}
		return l.LogRoutingDecision(ctx, req.TaskID, d)
	case audit.KindGuardRailCheck:
		var chk audit.GuardRailCheck
		if err := decodePayload(req, &chk); err != nil {
			return nil, err
		}
		if chk.CheckType == "" || chk.Result == "" {
			return nil, fmt.Errorf("%w: check_type and result are required", domain.ErrValidation)
		}
		return l.LogGuardRailCheck(ctx, req.TaskID, chk, req.BudgetStatus)
	default: // KindRollbackEvent; unknown kinds fail to unmarshal
		var rb audit.Rollback
		if err := decodePayload(req, &rb); err != nil {
			return nil, err
		}
		if rb.Status == "" {
			return nil, fmt.Errorf("%w: status is required", domain.ErrValidation)
		}
		return l.LogRollbackEvent(ctx, req.TaskID, rb)
	}
}

func decodePayload(req *appendRecordRequest, v any) error {
	if err := json.Unmarshal(req.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", domain.ErrValidation, req.Kind, err)
	}
	return nil
}
