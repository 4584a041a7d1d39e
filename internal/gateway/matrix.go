// ABOUTME: Adapts the gateway to the Matrix relay's Backend interface
// ABOUTME: Room messages go through bridge dedupe keyed on the Matrix event ID; commands are audited per sender

package gateway

import (
	"context"
	"log/slog"

	"github.com/paradiselabs-ai/AgentMix/internal/config"
	"github.com/paradiselabs-ai/AgentMix/internal/conversation"
	"github.com/paradiselabs-ai/AgentMix/internal/matrix"
)

// matrixBackend exposes runtime control and bridge delivery to the relay.
type matrixBackend struct {
	gw *Gateway
}

var _ matrix.Backend = matrixBackend{}

func (b matrixBackend) Start(ctx context.Context, conversationID, sender string) error {
	return b.gw.startConversation(ctx, conversationID, frontendActor(matrix.Frontend, sender))
}

func (b matrixBackend) Stop(ctx context.Context, conversationID, sender string) error {
	return b.gw.stopConversation(ctx, conversationID, frontendActor(matrix.Frontend, sender))
}

func (b matrixBackend) Pause(ctx context.Context, conversationID, sender, reason string) error {
	return b.gw.pauseConversation(ctx, conversationID, frontendActor(matrix.Frontend, sender), reason)
}

func (b matrixBackend) Resume(ctx context.Context, conversationID, sender string) error {
	return b.gw.resumeConversation(ctx, conversationID, frontendActor(matrix.Frontend, sender))
}

func (b matrixBackend) Status(conversationID string) conversation.Status {
	return b.gw.runtime.Status(conversationID)
}

func (b matrixBackend) SubmitHuman(ctx context.Context, conversationID, eventID, sender, text string) error {
	return b.gw.HandleBridgeMessage(ctx, &BridgeMessage{
		Frontend:          matrix.Frontend,
		PlatformMessageID: eventID,
		ConversationID:    conversationID,
		Sender:            sender,
		Content:           text,
	})
}

// newMatrixRelay creates the Matrix relay for the gateway.
func newMatrixRelay(cfg config.MatrixConfig, gw *Gateway, logger *slog.Logger) (*matrix.Relay, error) {
	return matrix.New(cfg, matrixBackend{gw: gw}, gw.events, logger)
}
