// ABOUTME: Audit trail for agent creation and conversation control actions
// ABOUTME: Records who acted through which frontend and serves GET /api/audit

package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/paradiselabs-ai/AgentMix/internal/store"
)

// apiActor is recorded for actions taken through the HTTP API.
const apiActor = "api"

// frontendActor names a user acting through a frontend bridge.
func frontendActor(frontend, user string) string {
	return frontend + ":" + user
}

// AuditResponse is the JSON response for GET /api/audit.
type AuditResponse struct {
	Entries []store.AuditEntry `json:"entries"`
}

// recordAudit appends an audit entry. A failed write is logged and does not
// fail the action it describes.
func (g *Gateway) recordAudit(ctx context.Context, actor string, action store.AuditAction, targetType, targetID string, detail map[string]any) {
	entry := &store.AuditEntry{
		Actor:      actor,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Timestamp:  g.now().UTC(),
		Detail:     detail,
	}
	if err := g.store.AppendAuditLog(context.WithoutCancel(ctx), entry); err != nil {
		g.logger.Warn("failed to record audit entry",
			"action", action,
			"target", targetType+"/"+targetID,
			"error", err,
		)
	}
}

// handleListAudit handles GET /api/audit.
// Query params: actor, action, target_type, target_id, conversation_id
// (shorthand for target_type=conversation&target_id=...), since, until
// (RFC3339) and limit.
func (g *Gateway) handleListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, err := parseLimit(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter := store.AuditFilter{Limit: limit}

	if v := q.Get("actor"); v != "" {
		filter.Actor = &v
	}
	if v := q.Get("action"); v != "" {
		action := store.AuditAction(v)
		if !action.IsValid() {
			g.sendJSONError(w, http.StatusBadRequest, "unknown action '"+v+"'")
			return
		}
		filter.Action = &action
	}
	if v := q.Get("target_type"); v != "" {
		filter.TargetType = &v
	}
	if v := q.Get("target_id"); v != "" {
		filter.TargetID = &v
	}
	if v := q.Get("conversation_id"); v != "" {
		targetType := "conversation"
		filter.TargetType = &targetType
		filter.TargetID = &v
	}

	for _, bound := range []struct {
		name string
		dst  **time.Time
	}{
		{"since", &filter.Since},
		{"until", &filter.Until},
	} {
		v := q.Get(bound.name)
		if v == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			g.sendJSONError(w, http.StatusBadRequest, bound.name+" must be an RFC3339 timestamp")
			return
		}
		*bound.dst = &ts
	}

	entries, err := g.store.ListAuditLog(r.Context(), filter)
	if err != nil {
		g.sendRuntimeError(w, err, "list audit log")
		return
	}
	g.writeJSON(w, http.StatusOK, AuditResponse{Entries: entries})
}
