// ABOUTME: Runtime events published to observers of a conversation
// ABOUTME: Covers status changes, appended messages, pause/resume and human input requests

package conversation

import (
	"time"

	"github.com/google/uuid"

	"github.com/paradiselabs-ai/AgentMix/internal/store"
)

// EventType names a runtime event.
type EventType string

const (
	EventStatusChanged       EventType = "status_changed"
	EventMessageAppended     EventType = "message_appended"
	EventPaused              EventType = "paused"
	EventResumed             EventType = "resumed"
	EventHumanInputRequested EventType = "human_input_requested"
)

// HumanInputRequest is an agent's outstanding request for human input.
type HumanInputRequest struct {
	Agent       string    `json:"agent"`
	Message     string    `json:"message"`
	RequestedAt time.Time `json:"requested_at"`
}

// Event is a single runtime event. Only the fields relevant to Type are set.
type Event struct {
	ID             string                   `json:"id"`
	Type           EventType                `json:"type"`
	ConversationID string                   `json:"conversation_id"`
	Status         store.ConversationStatus `json:"status,omitempty"`
	Message        *store.Message           `json:"message,omitempty"`
	Reason         string                   `json:"reason,omitempty"`
	Agent          string                   `json:"agent,omitempty"`
	Request        string                   `json:"request,omitempty"`
	Timestamp      time.Time                `json:"timestamp"`
}

func newEvent(t EventType, conversationID string) *Event {
	return &Event{
		ID:             uuid.New().String(),
		Type:           t,
		ConversationID: conversationID,
		Timestamp:      time.Now().UTC(),
	}
}

func statusChanged(conversationID string, status store.ConversationStatus) *Event {
	e := newEvent(EventStatusChanged, conversationID)
	e.Status = status
	return e
}

func messageAppended(msg *store.Message) *Event {
	e := newEvent(EventMessageAppended, msg.ConversationID)
	e.Message = msg
	return e
}

func paused(conversationID, reason string) *Event {
	e := newEvent(EventPaused, conversationID)
	e.Reason = reason
	return e
}

func resumed(conversationID string) *Event {
	return newEvent(EventResumed, conversationID)
}

func humanInputRequested(conversationID, agent, request string) *Event {
	e := newEvent(EventHumanInputRequested, conversationID)
	e.Agent = agent
	e.Request = request
	return e
}
