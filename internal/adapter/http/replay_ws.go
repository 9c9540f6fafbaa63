package http

import (
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

type replayDone struct {
	Type   string `json:"type"`
	Events int    `json:"events"`
}

// StreamReplay handles GET /api/v2/sessions/{id}/replay/ws
//
// Each replay event is sent as one JSON text message, followed by a
// {"type":"replay_complete"} message and a normal closure.
func (h *Handlers) StreamReplay(w http.ResponseWriter, r *http.Request) {
	sessionID := urlParam(r, "id")
	events, err := h.Auditor.ReplaySession(r.Context(), sessionID)
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // same-origin checks are left to the deployment proxy
	})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}
	defer func() { _ = c.CloseNow() }()

	ctx := r.Context()
	for i := range events {
		if err := wsjson.Write(ctx, c, events[i]); err != nil {
			slog.Debug("replay stream aborted", "session_id", sessionID, "error", err)
			return
		}
	}
	if err := wsjson.Write(ctx, c, replayDone{Type: "replay_complete", Events: len(events)}); err != nil {
		slog.Debug("replay stream aborted", "session_id", sessionID, "error", err)
		return
	}
	_ = c.Close(websocket.StatusNormalClosure, "")
}
