package http

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/Strob0t/aopguard/internal/domain/audit"
	"github.com/Strob0t/aopguard/internal/domain/protocol"
	"github.com/Strob0t/aopguard/internal/port/auditstore"
	"github.com/Strob0t/aopguard/internal/service"
)

// Handlers holds the services the HTTP API is served from.
type Handlers struct {
	Router     *service.VersionRouter
	GuardRails *service.GuardRailEngine
	Auditor    *service.RepoAuditor
	Store      auditstore.Store

	// Sessions is the companion index; nil when it is disabled.
	Sessions auditstore.SessionLister

	// LoggerOptions configure the per-request AuditLogger used for summaries.
	LoggerOptions []service.AuditLoggerOption

	// Probes are the optional backends reported by /health, keyed by name.
	Probes map[string]Probe
}

type detectResponse struct {
	Version           protocol.Kind    `json:"version"`
	FallbackTriggered bool             `json:"fallback_triggered"`
	ValidationError   string           `json:"validation_error,omitempty"`
	Routing           protocol.Routing `json:"routing"`
}

// Detect handles POST /api/v2/detect
func (h *Handlers) Detect(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	d := h.Router.Detect(r.Context(), string(body))
	resp := detectResponse{
		Version:           d.Kind,
		FallbackTriggered: d.FallbackTriggered,
		Routing:           h.Router.Route(d),
	}
	if d.Err != nil {
		resp.ValidationError = d.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// ValidateTaskGuardRails handles POST /api/v2/guardrails/task
func (h *Handlers) ValidateTaskGuardRails(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	env, err := protocol.DecodeEnvelope(body)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	res, err := h.GuardRails.ValidateTask(r.Context(), env)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ValidateResponseGuardRails handles POST /api/v2/guardrails/response
//
// The optional require_final_signal and require_minimal_report query
// parameters stand in for the originating task's guard rails; when neither
// is given no requirement is enforced.
func (h *Handlers) ValidateResponseGuardRails(w http.ResponseWriter, r *http.Request) {
	gr, err := guardRailsFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	resp, err := protocol.DecodeResponse(body)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	res, err := h.GuardRails.ValidateResponse(r.Context(), resp, gr)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func guardRailsFromQuery(r *http.Request) (*protocol.GuardRails, error) {
	q := r.URL.Query()
	finalSignal, err := boolParam(q, "require_final_signal")
	if err != nil {
		return nil, err
	}
	minimalReport, err := boolParam(q, "require_minimal_report")
	if err != nil {
		return nil, err
	}
	if finalSignal == nil && minimalReport == nil {
		return nil, nil
	}
	return &protocol.GuardRails{
		RequireFinalSignal:   orFalse(finalSignal),
		RequireMinimalReport: orFalse(minimalReport),
	}, nil
}

func boolParam(q url.Values, name string) (*bool, error) {
	v := q.Get(name)
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, fmt.Errorf("%s must be a boolean", name)
	}
	return &b, nil
}

func orFalse(b *bool) *bool {
	if b == nil {
		f := false
		return &f
	}
	return b
}

// ListSessions handles GET /api/v2/sessions
func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	if h.Sessions == nil {
		writeJSON(w, http.StatusOK, []auditstore.SessionInfo{})
		return
	}
	sessions, err := h.Sessions.ListSessions(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if sessions == nil {
		sessions = []auditstore.SessionInfo{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// ListSessionRecords handles GET /api/v2/sessions/{id}/records
func (h *Handlers) ListSessionRecords(w http.ResponseWriter, r *http.Request) {
	records, err := h.Auditor.LoadSession(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	if records == nil {
		records = []*audit.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

// AuditSession handles GET /api/v2/sessions/{id}/audit
func (h *Handlers) AuditSession(w http.ResponseWriter, r *http.Request) {
	report, err := h.Auditor.RunFullAudit(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ReplaySession handles GET /api/v2/sessions/{id}/replay
func (h *Handlers) ReplaySession(w http.ResponseWriter, r *http.Request) {
	events, err := h.Auditor.ReplaySession(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	if events == nil {
		events = []audit.ReplayEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// SummarizeSession handles POST /api/v2/sessions/{id}/summary
func (h *Handlers) SummarizeSession(w http.ResponseWriter, r *http.Request) {
	l, err := service.NewAuditLogger(h.Store, urlParam(r, "id"), h.LoggerOptions...)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	rec, err := l.SummarizeSession(r.Context())
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}
