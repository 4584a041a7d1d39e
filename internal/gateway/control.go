// ABOUTME: HTTP handlers for conversation lifecycle control and status
// ABOUTME: Start, stop, pause, resume and human-input requests delegate to the runtime

package gateway

import (
	"context"
	"net/http"
	"strings"

	"github.com/paradiselabs-ai/AgentMix/internal/conversation"
	"github.com/paradiselabs-ai/AgentMix/internal/store"
)

// PauseRequest is the optional JSON body for POST /api/conversations/{id}/pause.
type PauseRequest struct {
	Reason string `json:"reason,omitempty"`
}

// HumanInputRequest is the JSON body for POST /api/conversations/{id}/human-input.
type HumanInputRequest struct {
	Agent   string `json:"agent"`
	Message string `json:"message"`
}

// StatusResponse is the runtime status plus the durable status from the store.
type StatusResponse struct {
	conversation.Status
	StoredStatus store.ConversationStatus `json:"stored_status"`
}

// ActiveResponse is the JSON response for GET /api/conversations/active.
type ActiveResponse struct {
	Conversations []conversation.Status `json:"conversations"`
}

// startConversation, stopConversation, pauseConversation and
// resumeConversation drive the runtime for the HTTP API and frontend bridges
// and audit each successful action under actor.

func (g *Gateway) startConversation(ctx context.Context, id, actor string) error {
	if err := g.runtime.Start(ctx, id); err != nil {
		return err
	}
	g.recordAudit(ctx, actor, store.AuditStartConversation, "conversation", id, nil)
	return nil
}

func (g *Gateway) stopConversation(ctx context.Context, id, actor string) error {
	if err := g.runtime.Stop(ctx, id); err != nil {
		return err
	}
	g.recordAudit(ctx, actor, store.AuditStopConversation, "conversation", id, nil)
	return nil
}

func (g *Gateway) pauseConversation(ctx context.Context, id, actor, reason string) error {
	if err := g.runtime.Pause(ctx, id, reason); err != nil {
		return err
	}
	var detail map[string]any
	if reason != "" {
		detail = map[string]any{"reason": reason}
	}
	g.recordAudit(ctx, actor, store.AuditPauseConversation, "conversation", id, detail)
	return nil
}

func (g *Gateway) resumeConversation(ctx context.Context, id, actor string) error {
	if err := g.runtime.Resume(ctx, id); err != nil {
		return err
	}
	g.recordAudit(ctx, actor, store.AuditResumeConversation, "conversation", id, nil)
	return nil
}

// handleStart handles POST /api/conversations/{id}/start.
func (g *Gateway) handleStart(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := g.startConversation(r.Context(), id, apiActor); err != nil {
		g.sendRuntimeError(w, err, "start conversation")
		return
	}
	g.writeJSON(w, http.StatusOK, g.runtime.Status(id))
}

// handleStop handles POST /api/conversations/{id}/stop.
// Stopping an already-stopped conversation succeeds.
func (g *Gateway) handleStop(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := g.store.GetConversation(r.Context(), id); err != nil {
		g.sendRuntimeError(w, err, "stop conversation")
		return
	}
	if err := g.stopConversation(r.Context(), id, apiActor); err != nil {
		g.sendRuntimeError(w, err, "stop conversation")
		return
	}
	g.writeJSON(w, http.StatusOK, g.runtime.Status(id))
}

// handlePause handles POST /api/conversations/{id}/pause.
func (g *Gateway) handlePause(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req PauseRequest
	if err := decodeBody(w, r, &req, true); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := g.pauseConversation(r.Context(), id, apiActor, req.Reason); err != nil {
		g.sendRuntimeError(w, err, "pause conversation")
		return
	}
	g.writeJSON(w, http.StatusOK, g.runtime.Status(id))
}

// handleResume handles POST /api/conversations/{id}/resume.
func (g *Gateway) handleResume(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := g.resumeConversation(r.Context(), id, apiActor); err != nil {
		g.sendRuntimeError(w, err, "resume conversation")
		return
	}
	g.writeJSON(w, http.StatusOK, g.runtime.Status(id))
}

// handleRequestHumanInput handles POST /api/conversations/{id}/human-input.
func (g *Gateway) handleRequestHumanInput(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req HumanInputRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Agent = strings.TrimSpace(req.Agent)
	if req.Agent == "" {
		g.sendJSONError(w, http.StatusBadRequest, "agent is required")
		return
	}

	if err := g.runtime.RequestHumanInput(r.Context(), id, req.Agent, req.Message); err != nil {
		g.sendRuntimeError(w, err, "request human input")
		return
	}
	g.recordAudit(r.Context(), apiActor, store.AuditRequestHumanInput, "conversation", id, map[string]any{
		"agent":   req.Agent,
		"message": req.Message,
	})
	g.writeJSON(w, http.StatusOK, g.runtime.Status(id))
}

// handleStatus handles GET /api/conversations/{id}/status.
func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	conv, err := g.store.GetConversation(r.Context(), id)
	if err != nil {
		g.sendRuntimeError(w, err, "conversation status")
		return
	}
	g.writeJSON(w, http.StatusOK, StatusResponse{
		Status:       g.runtime.Status(id),
		StoredStatus: conv.Status,
	})
}

// handleListActive handles GET /api/conversations/active.
func (g *Gateway) handleListActive(w http.ResponseWriter, r *http.Request) {
	ids := g.runtime.ListActive()
	resp := ActiveResponse{Conversations: make([]conversation.Status, 0, len(ids))}
	for _, id := range ids {
		resp.Conversations = append(resp.Conversations, g.runtime.Status(id))
	}
	g.writeJSON(w, http.StatusOK, resp)
}
