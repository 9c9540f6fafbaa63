package http

import (
	"context"
	"net/http"
	"time"
)

// Probe reports whether an optional backend is reachable.
type Probe func(ctx context.Context) error

const probeTimeout = 2 * time.Second

type healthStatus struct {
	Status     string            `json:"status"`
	Version    string            `json:"version"`
	Components map[string]string `json:"components"`
}

// Health handles GET /health. A failing probe degrades the status to 503;
// the record store itself has no probe because the process cannot start
// without it.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()

	status := healthStatus{Status: "ok", Version: Version, Components: map[string]string{}}
	for name, probe := range h.Probes {
		if err := probe(ctx); err != nil {
			status.Status = "degraded"
			status.Components[name] = "error: " + err.Error()
			continue
		}
		status.Components[name] = "ok"
	}

	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}
