package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Version is reported by the health and version endpoints.
const Version = "2.0.2"

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/health", h.Health)

	r.Route("/api/v2", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"version": Version})
		})

		// Version routing
		r.Post("/detect", h.Detect)

		// Guard rails
		r.Post("/guardrails/task", h.ValidateTaskGuardRails)
		r.Post("/guardrails/response", h.ValidateResponseGuardRails)

		// Sessions
		r.Get("/sessions", h.ListSessions)
		r.Get("/sessions/{id}/records", h.ListSessionRecords)
		r.Post("/sessions/{id}/records", h.AppendSessionRecord)
		r.Get("/sessions/{id}/audit", h.AuditSession)
		r.Get("/sessions/{id}/replay", h.ReplaySession)
		r.Get("/sessions/{id}/replay/ws", h.StreamReplay)
		r.Post("/sessions/{id}/summary", h.SummarizeSession)
	})
}
