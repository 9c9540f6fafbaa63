package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/aopguard/internal/domain"
	"github.com/Strob0t/aopguard/internal/domain/aoperr"
)

// maxRequestBodySize leaves headroom above the largest accepted message so
// oversized payloads reach the guard rails and are reported as violations.
const maxRequestBodySize = 4 << 20

// ---------------------------------------------------------------------------
// Request helpers
// ---------------------------------------------------------------------------

// readBody reads the raw request body with a size limit.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid request body")
		}
		return nil, false
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "request body is required")
		return nil, false
	}
	return data, true
}

// urlParam is a short alias for chi.URLParam.
func urlParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

type errorResponse struct {
	Error   string         `json:"error"`
	Code    aoperr.Code    `json:"error_code,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeDomainError maps protocol errors and domain sentinels to HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error, fallbackMsg string) {
	var aerr *aoperr.Error
	switch {
	case errors.As(err, &aerr):
		writeJSON(w, statusForCode(aerr.Code), errorResponse{
			Error:   aerr.Message,
			Code:    aerr.Code,
			Details: aerr.Details,
		})
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, fallbackMsg)
	case errors.Is(err, domain.ErrValidation):
		msg := strings.TrimPrefix(err.Error(), domain.ErrValidation.Error()+": ")
		writeError(w, http.StatusBadRequest, msg)
	default:
		writeInternalError(w, err)
	}
}

func statusForCode(code aoperr.Code) int {
	switch code {
	case aoperr.CodeParseFailure, aoperr.CodeMalformedResponse:
		return http.StatusBadRequest
	case aoperr.CodePermissionDenied:
		return http.StatusForbidden
	case aoperr.CodeContextOverflow:
		return http.StatusRequestEntityTooLarge
	case aoperr.CodeAgentNotFound, aoperr.CodeFileNotFound:
		return http.StatusNotFound
	default:
		return http.StatusUnprocessableEntity
	}
}

// writeInternalError logs the actual error server-side and returns a generic message to the client.
func writeInternalError(w http.ResponseWriter, err error) {
	slog.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}
