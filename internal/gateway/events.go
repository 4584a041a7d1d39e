// ABOUTME: Server-Sent Events stream of runtime events for one conversation
// ABOUTME: Sends a status snapshot first, then every event until the client or gateway goes away

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// sseKeepalive is how often an idle stream sends a comment line.
var sseKeepalive = 15 * time.Second

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) error {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return nil
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, dataJSON)
	return err
}

// handleEvents handles GET /api/conversations/{id}/events.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if _, err := g.store.GetConversation(r.Context(), id); err != nil {
		g.sendRuntimeError(w, err, "stream events")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Subscribe before the snapshot so no transition falls between them.
	events, _ := g.events.Subscribe(r.Context(), id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := g.writeSSEEvent(w, "status", g.runtime.Status(id)); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(sseKeepalive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-g.closing:
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := g.writeSSEEvent(w, string(event.Type), event); err != nil {
				g.logger.Debug("SSE client went away", "conversation_id", id, "error", err)
				return
			}
			flusher.Flush()
		}
	}
}
