// ABOUTME: Tests for idempotent human delivery from frontend bridges
// ABOUTME: Covers dedupe on platform message IDs, key release on failure, and the Matrix backend adapter

package gateway

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paradiselabs-ai/AgentMix/internal/conversation"
	"github.com/paradiselabs-ai/AgentMix/internal/matrix"
	"github.com/paradiselabs-ai/AgentMix/internal/store"
)

func TestHandleBridgeMessage_Dedupe(t *testing.T) {
	gw, s := newTestGateway(t, blockingGenerator())
	agents := seedAgents(t, s, "Alpha", "Beta")
	conv := seedConversation(t, s, agents...)

	msg := &BridgeMessage{
		Frontend:          "matrix",
		PlatformMessageID: "$abc123",
		ConversationID:    conv.ID,
		Sender:            "@dana:example.org",
		Content:           "Lisbon please",
	}

	require.NoError(t, gw.HandleBridgeMessage(t.Context(), msg))
	require.NoError(t, gw.HandleBridgeMessage(t.Context(), msg), "duplicate is a no-op")

	msgs, err := s.RecentMessages(t.Context(), conv.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, store.SenderHuman, msgs[0].SenderKind)
	assert.Equal(t, "@dana:example.org", msgs[0].SenderName)
	assert.Equal(t, "Lisbon please", msgs[0].Content)

	id, ok := gw.dedupe.Lookup("bridge:matrix:$abc123")
	require.True(t, ok)
	assert.Equal(t, msgs[0].ID, id)
}

func TestHandleBridgeMessage_DifferentFrontendsDoNotCollide(t *testing.T) {
	gw, s := newTestGateway(t, blockingGenerator())
	agents := seedAgents(t, s, "Alpha", "Beta")
	conv := seedConversation(t, s, agents...)

	for _, frontend := range []string{"matrix", "slack"} {
		require.NoError(t, gw.HandleBridgeMessage(t.Context(), &BridgeMessage{
			Frontend:          frontend,
			PlatformMessageID: "1",
			ConversationID:    conv.ID,
			Sender:            "Dana",
			Content:           "hello from " + frontend,
		}))
	}

	msgs, err := s.RecentMessages(t.Context(), conv.ID, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestHandleBridgeMessage_FailureReleasesKey(t *testing.T) {
	gw, s := newTestGateway(t, blockingGenerator())
	agents := seedAgents(t, s, "Alpha", "Beta")
	conv := seedConversation(t, s, agents...)

	msg := &BridgeMessage{
		Frontend:          "matrix",
		PlatformMessageID: "$retry",
		ConversationID:    conv.ID,
		Sender:            "Dana",
		Content:           "try again",
	}

	s.FailAppends(errors.New("disk full"))
	err := gw.HandleBridgeMessage(t.Context(), msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delivering matrix message $retry")
	_, ok := gw.dedupe.Lookup("bridge:matrix:$retry")
	assert.False(t, ok, "failed delivery releases the key")

	s.FailAppends(nil)
	require.NoError(t, gw.HandleBridgeMessage(t.Context(), msg))

	msgs, err := s.RecentMessages(t.Context(), conv.ID, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestHandleBridgeMessage_UnknownConversation(t *testing.T) {
	gw, _ := newTestGateway(t, blockingGenerator())

	err := gw.HandleBridgeMessage(t.Context(), &BridgeMessage{
		Frontend:          "matrix",
		PlatformMessageID: "$lost",
		ConversationID:    "missing",
		Sender:            "Dana",
		Content:           "anyone?",
	})

	assert.ErrorIs(t, err, conversation.ErrNotFound)
}

func TestDeliverHuman_WithoutKey(t *testing.T) {
	gw, s := newTestGateway(t, blockingGenerator())
	agents := seedAgents(t, s, "Alpha", "Beta")
	conv := seedConversation(t, s, agents...)

	first, err := gw.deliverHuman(t.Context(), conv.ID, "same text", "Dana", "")
	require.NoError(t, err)
	second, err := gw.deliverHuman(t.Context(), conv.ID, "same text", "Dana", "")
	require.NoError(t, err)

	assert.False(t, second.Duplicate)
	assert.NotEqual(t, first.MessageID, second.MessageID)
	assert.Zero(t, gw.dedupe.Len())
}

func TestMatrixBackend_SubmitHuman(t *testing.T) {
	gw, s := newTestGateway(t, blockingGenerator())
	agents := seedAgents(t, s, "Alpha", "Beta")
	conv := seedConversation(t, s, agents...)
	backend := matrixBackend{gw: gw}

	require.NoError(t, backend.SubmitHuman(t.Context(), conv.ID, "$evt1", "@dana:example.org", "Porto?"))
	require.NoError(t, backend.SubmitHuman(t.Context(), conv.ID, "$evt1", "@dana:example.org", "Porto?"))

	msgs, err := s.RecentMessages(t.Context(), conv.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	_, ok := gw.dedupe.Lookup("bridge:" + matrix.Frontend + ":$evt1")
	assert.True(t, ok)
}

func TestMatrixBackend_Control(t *testing.T) {
	gw, s := newTestGateway(t, blockingGenerator())
	agents := seedAgents(t, s, "Alpha", "Beta")
	conv := seedConversation(t, s, agents...)
	backend := matrixBackend{gw: gw}
	dana := "@dana:example.org"

	require.NoError(t, backend.Start(t.Context(), conv.ID, dana))
	assert.True(t, backend.Status(conv.ID).Active)

	require.NoError(t, backend.Pause(t.Context(), conv.ID, dana, "coffee"))
	assert.True(t, backend.Status(conv.ID).Paused)

	require.NoError(t, backend.Resume(t.Context(), conv.ID, dana))
	assert.Equal(t, conversation.PhaseRunning, backend.Status(conv.ID).Phase)

	require.NoError(t, backend.Stop(t.Context(), conv.ID, dana))
	assert.False(t, backend.Status(conv.ID).Active)

	err := backend.Pause(t.Context(), conv.ID, dana, "")
	assert.ErrorIs(t, err, conversation.ErrPreconditionFailed)

	entries, err := s.ListAuditLog(t.Context(), store.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 4, "failed commands are not audited")
	for _, e := range entries {
		assert.Equal(t, "matrix:"+dana, e.Actor)
		assert.Equal(t, conv.ID, e.TargetID)
	}
	assert.Equal(t, store.AuditStopConversation, entries[0].Action)
	assert.Equal(t, "coffee", entries[2].Detail["reason"])
}
