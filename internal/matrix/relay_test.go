// ABOUTME: Tests for the Matrix relay using a fake client and backend
// ABOUTME: Covers mirroring, echo suppression, commands, allow lists and run lifecycle

package matrix

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/paradiselabs-ai/AgentMix/internal/config"
	"github.com/paradiselabs-ai/AgentMix/internal/conversation"
	"github.com/paradiselabs-ai/AgentMix/internal/store"
)

type sentText struct {
	room id.RoomID
	text string
}

type fakeClient struct {
	mu   sync.Mutex
	sent []sentText
}

func (f *fakeClient) SendText(ctx context.Context, roomID id.RoomID, text string) (*mautrix.RespSendEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentText{room: roomID, text: text})
	return &mautrix.RespSendEvent{EventID: id.EventID("$sent")}, nil
}

func (f *fakeClient) texts() []sentText {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentText(nil), f.sent...)
}

type submission struct {
	conversationID, eventID, sender, text string
}

type fakeBackend struct {
	mu        sync.Mutex
	calls     []string
	submitted []submission
	err       error
	status    conversation.Status
}

func (f *fakeBackend) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeBackend) Start(ctx context.Context, conversationID, sender string) error {
	return f.record("start " + conversationID + " by " + sender)
}

func (f *fakeBackend) Stop(ctx context.Context, conversationID, sender string) error {
	return f.record("stop " + conversationID + " by " + sender)
}

func (f *fakeBackend) Pause(ctx context.Context, conversationID, sender, reason string) error {
	return f.record("pause " + conversationID + " by " + sender + ": " + reason)
}

func (f *fakeBackend) Resume(ctx context.Context, conversationID, sender string) error {
	return f.record("resume " + conversationID + " by " + sender)
}

func (f *fakeBackend) Status(conversationID string) conversation.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.status
	s.ConversationID = conversationID
	return s
}

func (f *fakeBackend) SubmitHuman(ctx context.Context, conversationID, eventID, sender, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, submission{conversationID, eventID, sender, text})
	return f.err
}

func (f *fakeBackend) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

const (
	botUser  = "@agentmix:example.org"
	roomA    = "!planning:example.org"
	roomB    = "!observers:example.org"
	roomIdle = "!random:example.org"
)

type relayHarness struct {
	relay   *Relay
	client  *fakeClient
	backend *fakeBackend
	events  *conversation.EventBroadcaster
}

func newHarness(t *testing.T, allowed ...string) *relayHarness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.MatrixConfig{
		Enabled:      true,
		Homeserver:   "https://matrix.example.org",
		UserID:       botUser,
		AccessToken:  "token",
		AllowedUsers: allowed,
		Rooms: []config.RoomConfig{
			{RoomID: roomA, ConversationID: "conv-1"},
			{RoomID: roomB, ConversationID: "conv-1"},
		},
	}

	h := &relayHarness{
		client:  &fakeClient{},
		backend: &fakeBackend{},
		events:  conversation.NewEventBroadcaster(logger),
	}
	t.Cleanup(h.events.Close)

	syncUntilDone := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	h.relay = newRelay(cfg, h.backend, h.events, h.client, syncUntilDone, logger)
	return h
}

func textEvent(room, sender, eventID, body string) *event.Event {
	return &event.Event{
		ID:     id.EventID(eventID),
		RoomID: id.RoomID(room),
		Sender: id.UserID(sender),
		Type:   event.EventMessage,
		Content: event.Content{Parsed: &event.MessageEventContent{
			MsgType: event.MsgText,
			Body:    body,
		}},
	}
}

func appended(kind store.SenderKind, name, content string) *conversation.Event {
	return &conversation.Event{
		Type:           conversation.EventMessageAppended,
		ConversationID: "conv-1",
		Message: &store.Message{
			ConversationID: "conv-1",
			SenderKind:     kind,
			SenderName:     name,
			Content:        content,
		},
	}
}

func TestRenderEvent(t *testing.T) {
	tests := []struct {
		name  string
		event *conversation.Event
		want  string
		ok    bool
	}{
		{"agent message", appended(store.SenderAgent, "Alpha", "hello"), "Alpha: hello", true},
		{"system message", appended(store.SenderSystem, "", "Conversation paused: lunch"), "* Conversation paused: lunch", true},
		{"api human", appended(store.SenderHuman, "User", "keep going"), "User: keep going", true},
		{"matrix human", appended(store.SenderHuman, "@dana:example.org", "hi"), "", false},
		{"completed", &conversation.Event{Type: conversation.EventStatusChanged, Status: store.ConversationCompleted}, "* Conversation completed", true},
		{"active", &conversation.Event{Type: conversation.EventStatusChanged, Status: store.ConversationActive}, "", false},
		{"paused", &conversation.Event{Type: conversation.EventPaused, Reason: "lunch"}, "", false},
		{"human input", &conversation.Event{Type: conversation.EventHumanInputRequested}, "Reply in this room to continue the conversation.", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := renderEvent(tt.event)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRelay_MirrorsIntoMappedRooms(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- h.relay.Run(ctx) }()

	require.Eventually(t, func() bool {
		return h.events.SubscriberCount(conversation.AllConversations) == 1
	}, 2*time.Second, 5*time.Millisecond)

	h.events.Publish(appended(store.SenderAgent, "Alpha", "hello"))
	other := appended(store.SenderAgent, "Beta", "elsewhere")
	other.ConversationID = "conv-2"
	h.events.Publish(other)

	require.Eventually(t, func() bool { return len(h.client.texts()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []sentText{
		{room: roomA, text: "Alpha: hello"},
		{room: roomB, text: "Alpha: hello"},
	}, h.client.texts())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestRelay_RunReturnsSyncError(t *testing.T) {
	h := newHarness(t)
	h.relay.sync = func(ctx context.Context) error { return errors.New("M_UNKNOWN_TOKEN") }

	err := h.relay.Run(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "M_UNKNOWN_TOKEN")
}

func TestRelay_RoomTextBecomesHumanMessage(t *testing.T) {
	h := newHarness(t)

	h.relay.handleMessageEvent(t.Context(), textEvent(roomA, "@dana:example.org", "$e1", "  keep it cheap  "))

	require.Len(t, h.backend.submitted, 1)
	assert.Equal(t, submission{"conv-1", "$e1", "@dana:example.org", "keep it cheap"}, h.backend.submitted[0])
	assert.Empty(t, h.client.texts())
}

func TestRelay_IgnoresOwnUnmappedAndNonText(t *testing.T) {
	h := newHarness(t)

	h.relay.handleMessageEvent(t.Context(), textEvent(roomA, botUser, "$own", "Alpha: hello"))
	h.relay.handleMessageEvent(t.Context(), textEvent(roomIdle, "@dana:example.org", "$idle", "hello?"))
	notice := textEvent(roomA, "@dana:example.org", "$notice", "fyi")
	notice.Content.Parsed.(*event.MessageEventContent).MsgType = event.MsgNotice
	h.relay.handleMessageEvent(t.Context(), notice)
	h.relay.handleMessageEvent(t.Context(), textEvent(roomA, "@dana:example.org", "$blank", "   "))

	assert.Empty(t, h.backend.submitted)
	assert.Empty(t, h.backend.callLog())
}

func TestRelay_AllowedUsers(t *testing.T) {
	h := newHarness(t, "@dana:example.org")

	h.relay.handleMessageEvent(t.Context(), textEvent(roomA, "@mallory:example.org", "$m1", "derail"))
	h.relay.handleMessageEvent(t.Context(), textEvent(roomA, "@mallory:example.org", "$m2", "!stop"))
	h.relay.handleMessageEvent(t.Context(), textEvent(roomA, "@dana:example.org", "$d1", "on track"))

	require.Len(t, h.backend.submitted, 1)
	assert.Equal(t, "@dana:example.org", h.backend.submitted[0].sender)
	assert.Empty(t, h.backend.callLog())
}

func TestRelay_Commands(t *testing.T) {
	h := newHarness(t)
	ctx := t.Context()
	dana := "@dana:example.org"

	h.relay.handleMessageEvent(ctx, textEvent(roomA, dana, "$1", "!start"))
	h.relay.handleMessageEvent(ctx, textEvent(roomA, dana, "$2", "!pause  coffee break "))
	h.relay.handleMessageEvent(ctx, textEvent(roomA, dana, "$3", "!RESUME"))
	h.relay.handleMessageEvent(ctx, textEvent(roomA, dana, "$4", "!stop"))

	assert.Equal(t, []string{
		"start conv-1 by " + dana,
		"pause conv-1 by " + dana + ": coffee break",
		"resume conv-1 by " + dana,
		"stop conv-1 by " + dana,
	}, h.backend.callLog())
	assert.Empty(t, h.backend.submitted, "commands are not conversation messages")
	assert.Empty(t, h.client.texts(), "successful control commands reply through mirrored events")
}

func TestRelay_CommandErrorIsReported(t *testing.T) {
	h := newHarness(t)
	h.backend.err = errors.New("precondition failed: conversation conv-1 is not active")

	h.relay.handleMessageEvent(t.Context(), textEvent(roomA, "@dana:example.org", "$1", "!resume"))

	texts := h.client.texts()
	require.Len(t, texts, 1)
	assert.Equal(t, id.RoomID(roomA), texts[0].room)
	assert.Equal(t, "Error: precondition failed: conversation conv-1 is not active", texts[0].text)
}

func TestRelay_StatusAndHelp(t *testing.T) {
	h := newHarness(t)
	h.backend.status = conversation.Status{
		Active:       true,
		Phase:        conversation.PhaseAwaitingHuman,
		MessageCount: 4,
		LastSpeaker:  "agent-b",
		PendingHumanRequest: &conversation.HumanInputRequest{
			Agent:   "Beta",
			Message: "which city?",
		},
	}

	h.relay.handleMessageEvent(t.Context(), textEvent(roomB, "@dana:example.org", "$1", "!status"))
	h.relay.handleMessageEvent(t.Context(), textEvent(roomB, "@dana:example.org", "$2", "!help"))
	h.relay.handleMessageEvent(t.Context(), textEvent(roomB, "@dana:example.org", "$3", "!dance"))

	texts := h.client.texts()
	require.Len(t, texts, 3)
	assert.Equal(t, "Conversation conv-1: awaiting_human, 4 messages, last speaker agent-b\nWaiting on a human for Beta: which city?", texts[0].text)
	assert.Contains(t, texts[1].text, "!pause [reason]")
	assert.Equal(t, `Unknown command "dance". Try !help`, texts[2].text)
}

func TestRelay_SubmitErrorIsReported(t *testing.T) {
	h := newHarness(t)
	h.backend.err = errors.New("precondition failed: conversation conv-1 is completed")

	h.relay.handleMessageEvent(t.Context(), textEvent(roomA, "@dana:example.org", "$1", "hello"))

	texts := h.client.texts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0].text, "is completed")
}

func TestFormatStatus_NotRunning(t *testing.T) {
	assert.Equal(t, "Conversation conv-9 is not running.", formatStatus(conversation.Status{ConversationID: "conv-9"}))
}
