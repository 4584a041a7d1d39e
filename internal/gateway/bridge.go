// ABOUTME: Idempotent human message delivery shared by the HTTP API and frontend bridges
// ABOUTME: A dedupe key is claimed before delivery and resolved to the stored message id after

package gateway

import (
	"context"
	"fmt"

	"github.com/paradiselabs-ai/AgentMix/internal/store"
)

// BridgeMessage represents a human message received from a frontend bridge.
// Each frontend provides a unique platform-specific message ID:
//   - Matrix: event_id (e.g., "$abc123")
type BridgeMessage struct {
	// Frontend identifies the source platform (e.g., "matrix")
	Frontend string

	// PlatformMessageID is the unique message identifier from the frontend platform
	PlatformMessageID string

	// ConversationID is the conversation the platform channel is mapped to
	ConversationID string

	// Sender is the display name recorded on the message
	Sender string

	// Content is the message text
	Content string
}

// delivery is the outcome of deliverHuman.
type delivery struct {
	MessageID string
	Message   *store.Message // nil for duplicates
	Duplicate bool
}

// deliverHuman appends a human message through the runtime. A non-empty key
// makes delivery idempotent: the first caller delivers, later callers get the
// first delivery's message id. A failed delivery releases the key for retry.
func (g *Gateway) deliverHuman(ctx context.Context, conversationID, text, displayName, key string) (*delivery, error) {
	if key != "" && !g.dedupe.Claim(key) {
		messageID, _ := g.dedupe.Lookup(key)
		g.logger.Debug("duplicate human message ignored",
			"conversation_id", conversationID,
			"dedupe_key", key,
			"message_id", messageID,
		)
		return &delivery{MessageID: messageID, Duplicate: true}, nil
	}

	msg, err := g.runtime.SendHumanMessage(ctx, conversationID, text, displayName)
	if err != nil {
		if key != "" {
			g.dedupe.Forget(key)
		}
		return nil, err
	}

	if key != "" {
		g.dedupe.Resolve(key, msg.ID)
	}
	return &delivery{MessageID: msg.ID, Message: msg}, nil
}

// HandleBridgeMessage delivers a message from a frontend bridge.
// The same platform message is only delivered once; duplicates return nil.
func (g *Gateway) HandleBridgeMessage(ctx context.Context, msg *BridgeMessage) error {
	key := fmt.Sprintf("bridge:%s:%s", msg.Frontend, msg.PlatformMessageID)

	d, err := g.deliverHuman(ctx, msg.ConversationID, msg.Content, msg.Sender, key)
	if err != nil {
		return fmt.Errorf("delivering %s message %s: %w", msg.Frontend, msg.PlatformMessageID, err)
	}
	if !d.Duplicate {
		g.logger.Debug("bridge message delivered",
			"frontend", msg.Frontend,
			"platform_id", msg.PlatformMessageID,
			"conversation_id", msg.ConversationID,
			"message_id", d.MessageID,
		)
	}
	return nil
}
