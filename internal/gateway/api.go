// ABOUTME: HTTP API handlers for agents, conversations, transcripts and exports
// ABOUTME: Maps runtime and store sentinel errors onto HTTP status codes

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/paradiselabs-ai/AgentMix/internal/conversation"
	"github.com/paradiselabs-ai/AgentMix/internal/export"
	"github.com/paradiselabs-ai/AgentMix/internal/store"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// CreateAgentRequest is the JSON request body for POST /api/agents.
type CreateAgentRequest struct {
	Name     string            `json:"name"`
	Provider string            `json:"provider"`
	Model    string            `json:"model"`
	APIKey   string            `json:"api_key,omitempty"`
	Config   store.AgentConfig `json:"config"`
}

// AgentResponse is the JSON view of an agent. The API key is never returned.
type AgentResponse struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Provider  string            `json:"provider"`
	Model     string            `json:"model"`
	HasAPIKey bool              `json:"has_api_key"`
	Config    store.AgentConfig `json:"config"`
	Status    store.AgentStatus `json:"status"`
	CreatedAt string            `json:"created_at"`
	UpdatedAt string            `json:"updated_at"`
}

// CreateConversationRequest is the JSON request body for POST /api/conversations.
type CreateConversationRequest struct {
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	Participants []string `json:"participants"`
}

// ConversationResponse is the JSON view of a conversation.
type ConversationResponse struct {
	ID           string                   `json:"id"`
	Name         string                   `json:"name"`
	Description  string                   `json:"description,omitempty"`
	Participants []string                 `json:"participants"`
	Status       store.ConversationStatus `json:"status"`
	CreatedAt    string                   `json:"created_at"`
	UpdatedAt    string                   `json:"updated_at"`
}

// SendHumanMessageRequest is the JSON request body for POST /api/conversations/{id}/messages.
type SendHumanMessageRequest struct {
	Content         string `json:"content"`
	DisplayName     string `json:"display_name,omitempty"`
	ClientMessageID string `json:"client_message_id,omitempty"`
}

// HumanMessageResponse reports the stored message, or the earlier one for a duplicate delivery.
type HumanMessageResponse struct {
	MessageID string         `json:"message_id"`
	Duplicate bool           `json:"duplicate,omitempty"`
	Message   *store.Message `json:"message,omitempty"`
}

// TranscriptResponse is the JSON response for GET /api/conversations/{id}/messages.
type TranscriptResponse struct {
	ConversationID string           `json:"conversation_id"`
	Messages       []*store.Message `json:"messages"`
}

// ProvidersResponse is the JSON response for GET /api/providers.
type ProvidersResponse struct {
	Providers []ProviderInfo `json:"providers"`
}

// ProviderInfo describes one provider entry.
type ProviderInfo struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	BaseURL     string `json:"base_url,omitempty"`
	RequiresKey bool   `json:"requires_key"`
}

func agentResponse(a *store.Agent) AgentResponse {
	return AgentResponse{
		ID:        a.ID,
		Name:      a.Name,
		Provider:  a.Provider,
		Model:     a.Model,
		HasAPIKey: a.APIKey != "",
		Config:    a.Config,
		Status:    a.Status,
		CreatedAt: a.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: a.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func conversationResponse(c *store.Conversation) ConversationResponse {
	participants := c.Participants
	if participants == nil {
		participants = []string{}
	}
	return ConversationResponse{
		ID:           c.ID,
		Name:         c.Name,
		Description:  c.Description,
		Participants: participants,
		Status:       c.Status,
		CreatedAt:    c.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    c.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// writeJSON writes v as a JSON response with the given status.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.writeJSON(w, status, map[string]string{"error": message})
}

// sendRuntimeError maps runtime and store errors onto status codes.
func (g *Gateway) sendRuntimeError(w http.ResponseWriter, err error, action string) {
	switch {
	case errors.Is(err, conversation.ErrNotFound), errors.Is(err, store.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, conversation.ErrPreconditionFailed):
		g.sendJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, conversation.ErrGenerationFailed):
		g.sendJSONError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, store.ErrDuplicate):
		g.sendJSONError(w, http.StatusConflict, err.Error())
	default:
		g.logger.Error("request failed", "action", action, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

// decodeBody decodes a JSON request body into v. An empty body is allowed
// when optional is set.
func decodeBody(w http.ResponseWriter, r *http.Request, v any, optional bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return nil
	}
	return errors.New("invalid JSON body")
}

// parseLimit reads ?limit=, defaulting to 50 and capping at 1000.
func parseLimit(r *http.Request) (int, error) {
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			return 0, errors.New("limit must be a positive integer")
		}
		limit = min(parsed, 1000)
	}
	return limit, nil
}

// handleListProviders handles GET /api/providers.
func (g *Gateway) handleListProviders(w http.ResponseWriter, r *http.Request) {
	names := g.providers.Providers()
	resp := ProvidersResponse{Providers: make([]ProviderInfo, 0, len(names))}
	for _, name := range names {
		ep, ok := g.providers.Endpoint(name)
		if !ok {
			continue
		}
		resp.Providers = append(resp.Providers, ProviderInfo{
			Name:        name,
			Kind:        string(ep.Kind),
			BaseURL:     ep.BaseURL,
			RequiresKey: ep.RequiresKey,
		})
	}
	g.writeJSON(w, http.StatusOK, resp)
}

// handleCreateAgent handles POST /api/agents.
func (g *Gateway) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req CreateAgentRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Provider = strings.ToLower(strings.TrimSpace(req.Provider))
	req.Model = strings.TrimSpace(req.Model)
	if req.Name == "" || req.Provider == "" || req.Model == "" {
		g.sendJSONError(w, http.StatusBadRequest, "name, provider, and model are required")
		return
	}

	ep, ok := g.providers.Endpoint(req.Provider)
	if !ok {
		g.sendJSONError(w, http.StatusBadRequest, fmt.Sprintf("unknown provider '%s'", req.Provider))
		return
	}
	if ep.BaseURL == "" {
		g.sendJSONError(w, http.StatusBadRequest, fmt.Sprintf("provider '%s' has no base_url configured", req.Provider))
		return
	}
	if ep.RequiresKey && req.APIKey == "" {
		g.sendJSONError(w, http.StatusBadRequest, fmt.Sprintf("provider '%s' requires an api_key", req.Provider))
		return
	}
	if req.Config.Temperature != nil && (*req.Config.Temperature < 0 || *req.Config.Temperature > 2) {
		g.sendJSONError(w, http.StatusBadRequest, "config.temperature must be between 0 and 2")
		return
	}
	if req.Config.MaxTokens < 0 {
		g.sendJSONError(w, http.StatusBadRequest, "config.max_tokens must not be negative")
		return
	}

	agent := &store.Agent{
		Name:     req.Name,
		Provider: req.Provider,
		Model:    req.Model,
		APIKey:   req.APIKey,
		Config:   req.Config,
	}
	if err := g.store.CreateAgent(r.Context(), agent); err != nil {
		g.sendRuntimeError(w, err, "create agent")
		return
	}

	g.logger.Info("agent created", "agent_id", agent.ID, "name", agent.Name, "provider", agent.Provider)
	g.recordAudit(r.Context(), apiActor, store.AuditCreateAgent, "agent", agent.ID, map[string]any{
		"name":     agent.Name,
		"provider": agent.Provider,
		"model":    agent.Model,
	})
	g.writeJSON(w, http.StatusCreated, agentResponse(agent))
}

// handleListAgents handles GET /api/agents.
func (g *Gateway) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := g.store.ListAgents(r.Context())
	if err != nil {
		g.sendRuntimeError(w, err, "list agents")
		return
	}

	resp := make([]AgentResponse, 0, len(agents))
	for _, a := range agents {
		resp = append(resp, agentResponse(a))
	}
	g.writeJSON(w, http.StatusOK, resp)
}

// handleGetAgent handles GET /api/agents/{id}.
func (g *Gateway) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := g.store.GetAgent(r.Context(), r.PathValue("id"))
	if err != nil {
		g.sendRuntimeError(w, err, "get agent")
		return
	}
	g.writeJSON(w, http.StatusOK, agentResponse(agent))
}

// handleCreateConversation handles POST /api/conversations.
// Every participant must name an existing agent.
func (g *Gateway) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req CreateConversationRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		g.sendJSONError(w, http.StatusBadRequest, "name is required")
		return
	}

	for _, agentID := range req.Participants {
		_, err := g.store.GetAgent(r.Context(), agentID)
		if errors.Is(err, store.ErrNotFound) {
			g.sendJSONError(w, http.StatusBadRequest, fmt.Sprintf("unknown participant '%s'", agentID))
			return
		}
		if err != nil {
			g.sendRuntimeError(w, err, "create conversation")
			return
		}
	}

	conv := &store.Conversation{
		Name:         req.Name,
		Description:  strings.TrimSpace(req.Description),
		Participants: req.Participants,
	}
	if err := g.store.CreateConversation(r.Context(), conv); err != nil {
		g.sendRuntimeError(w, err, "create conversation")
		return
	}

	g.logger.Info("conversation created", "conversation_id", conv.ID, "participants", len(conv.Participants))
	g.recordAudit(r.Context(), apiActor, store.AuditCreateConversation, "conversation", conv.ID, map[string]any{
		"name":         conv.Name,
		"participants": conv.Participants,
	})
	g.writeJSON(w, http.StatusCreated, conversationResponse(conv))
}

// handleListConversations handles GET /api/conversations?limit=.
func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	convs, err := g.store.ListConversations(r.Context(), limit)
	if err != nil {
		g.sendRuntimeError(w, err, "list conversations")
		return
	}

	resp := make([]ConversationResponse, 0, len(convs))
	for _, c := range convs {
		resp = append(resp, conversationResponse(c))
	}
	g.writeJSON(w, http.StatusOK, resp)
}

// handleGetConversation handles GET /api/conversations/{id}.
func (g *Gateway) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := g.store.GetConversation(r.Context(), r.PathValue("id"))
	if err != nil {
		g.sendRuntimeError(w, err, "get conversation")
		return
	}
	g.writeJSON(w, http.StatusOK, conversationResponse(conv))
}

// handleListMessages handles GET /api/conversations/{id}/messages?limit=.
// Returns the most recent messages, oldest first.
func (g *Gateway) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	limit, err := parseLimit(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := g.store.GetConversation(r.Context(), id); err != nil {
		g.sendRuntimeError(w, err, "list messages")
		return
	}

	messages, err := g.store.RecentMessages(r.Context(), id, limit)
	if err != nil {
		g.sendRuntimeError(w, err, "list messages")
		return
	}
	if messages == nil {
		messages = []*store.Message{}
	}

	g.writeJSON(w, http.StatusOK, TranscriptResponse{ConversationID: id, Messages: messages})
}

// handleSendHumanMessage handles POST /api/conversations/{id}/messages.
// A repeated client_message_id returns the first delivery's message id with 200.
func (g *Gateway) handleSendHumanMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req SendHumanMessageRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		g.sendJSONError(w, http.StatusBadRequest, "content is required")
		return
	}

	var key string
	if req.ClientMessageID != "" {
		key = fmt.Sprintf("http:%s:%s", id, req.ClientMessageID)
	}

	delivery, err := g.deliverHuman(r.Context(), id, req.Content, req.DisplayName, key)
	if err != nil {
		g.sendRuntimeError(w, err, "send human message")
		return
	}
	if delivery.Duplicate {
		g.writeJSON(w, http.StatusOK, HumanMessageResponse{MessageID: delivery.MessageID, Duplicate: true})
		return
	}
	g.writeJSON(w, http.StatusCreated, HumanMessageResponse{MessageID: delivery.MessageID, Message: delivery.Message})
}

// handleExport handles GET /api/conversations/{id}/export?format=.
func (g *Gateway) handleExport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := g.store.GetConversation(r.Context(), id)
	if err != nil {
		g.sendRuntimeError(w, err, "export conversation")
		return
	}
	messages, err := g.store.RecentMessages(r.Context(), id, 0)
	if err != nil {
		g.sendRuntimeError(w, err, "export conversation")
		return
	}

	doc := &export.Document{Conversation: conv, Messages: messages, ExportedAt: g.now()}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.FileName(format)))
	if err := export.Write(w, format, doc); err != nil {
		g.logger.Error("export failed", "conversation_id", id, "format", format, "error", err)
	}
}
