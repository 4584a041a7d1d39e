// ABOUTME: Store interface and data types for AgentMix persistence
// ABOUTME: Defines Agent, Conversation, Message structs and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when trying to create an entity whose ID already exists
var ErrDuplicate = errors.New("already exists")

// AgentStatus is the lifecycle status of a configured agent
type AgentStatus string

const (
	AgentStatusActive   AgentStatus = "active"
	AgentStatusInactive AgentStatus = "inactive"
	AgentStatusError    AgentStatus = "error"
)

// AgentConfig holds the generation settings of an agent
type AgentConfig struct {
	SystemMessage string   `json:"system_message,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	MaxTokens     int64    `json:"max_tokens,omitempty"`
}

// Agent is a configured binding of provider, model and credential that can produce replies
type Agent struct {
	ID        string
	Name      string
	Provider  string // key into the provider table, e.g. "anthropic", "openrouter"
	Model     string
	APIKey    string
	Config    AgentConfig
	Status    AgentStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ConversationStatus is the durable status of a conversation
type ConversationStatus string

const (
	ConversationActive    ConversationStatus = "active"
	ConversationPaused    ConversationStatus = "paused"
	ConversationCompleted ConversationStatus = "completed"
)

// Conversation is a multi-agent conversation and its ordered participant list
type Conversation struct {
	ID           string
	Name         string
	Description  string
	Participants []string // agent IDs, in speaking order
	Status       ConversationStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SenderKind identifies who authored a message
type SenderKind string

const (
	SenderAgent  SenderKind = "agent"
	SenderHuman  SenderKind = "human"
	SenderSystem SenderKind = "system"
)

// Message is a single append-only transcript entry
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	Seq            int64      `json:"seq"`
	SenderKind     SenderKind `json:"sender_kind"`
	SenderID       string     `json:"sender_id,omitempty"` // empty for human and system messages
	SenderName     string     `json:"sender_name"`
	Content        string     `json:"content"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Store defines the interface for AgentMix persistence
type Store interface {
	// Agents
	CreateAgent(ctx context.Context, agent *Agent) error
	GetAgent(ctx context.Context, id string) (*Agent, error)
	ListAgents(ctx context.Context) ([]*Agent, error)
	SetAgentStatus(ctx context.Context, id string, status AgentStatus) error

	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context, limit int) ([]*Conversation, error)
	SetConversationStatus(ctx context.Context, id string, status ConversationStatus) error

	// Transcript
	AppendMessage(ctx context.Context, msg *Message) (*Message, error)
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)

	// Audit
	AppendAuditLog(ctx context.Context, e *AuditEntry) error
	ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error)

	Close() error
}
