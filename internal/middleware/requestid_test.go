package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/Strob0t/aopguard/internal/logger"
)

func TestRequestIDGenerated(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := logger.RequestID(r.Context())
		if id == "" {
			t.Error("expected generated request ID in context")
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	respID := rec.Header().Get("X-Request-ID")
	if respID == "" {
		t.Fatal("expected X-Request-ID in response header")
	}
	if _, err := uuid.Parse(respID); err != nil {
		t.Errorf("expected a UUID, got %q: %v", respID, err)
	}
}

func TestRequestIDPropagated(t *testing.T) {
	const existingID = "my-custom-id-123"

	var capturedID string
	handler := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		capturedID = logger.RequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set("X-Request-ID", existingID)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if capturedID != existingID {
		t.Errorf("expected %q in context, got %q", existingID, capturedID)
	}
	if rec.Header().Get("X-Request-ID") != existingID {
		t.Errorf("expected %q in response header, got %q", existingID, rec.Header().Get("X-Request-ID"))
	}
}

func TestCorrelationID(t *testing.T) {
	tests := []struct {
		name        string
		requestID   string
		correlation string
		want        string
	}{
		{"explicit header", "req-1", "corr-9", "corr-9"},
		{"falls back to request id", "req-1", "", "req-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var captured string
			handler := RequestID(CorrelationID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				captured = logger.CorrelationID(r.Context())
			})))

			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			req.Header.Set("X-Request-ID", tt.requestID)
			if tt.correlation != "" {
				req.Header.Set("X-Correlation-ID", tt.correlation)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if captured != tt.want {
				t.Errorf("context correlation id = %q, want %q", captured, tt.want)
			}
			if got := rec.Header().Get("X-Correlation-ID"); got != tt.want {
				t.Errorf("response header = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCorrelationIDWithoutRequestID(t *testing.T) {
	var captured string
	handler := CorrelationID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		captured = logger.CorrelationID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if captured != "" {
		t.Errorf("expected no correlation id, got %q", captured)
	}
	if rec.Header().Get("X-Correlation-ID") != "" {
		t.Error("expected no correlation header")
	}
}
