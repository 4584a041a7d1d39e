// ABOUTME: Matrix relay that lets humans take part in conversations from Matrix rooms
// ABOUTME: Mirrors transcript events into mapped rooms and turns room text into human messages or commands

package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/paradiselabs-ai/AgentMix/internal/config"
	"github.com/paradiselabs-ai/AgentMix/internal/conversation"
	"github.com/paradiselabs-ai/AgentMix/internal/store"
)

// Frontend is the frontend name used in bridge dedupe keys.
const Frontend = "matrix"

// networkTimeout is the timeout for Matrix API calls.
const networkTimeout = 30 * time.Second

// Backend is the conversation control surface the relay drives. Control
// calls carry the Matrix user ID of the room member who issued them.
type Backend interface {
	Start(ctx context.Context, conversationID, sender string) error
	Stop(ctx context.Context, conversationID, sender string) error
	Pause(ctx context.Context, conversationID, sender, reason string) error
	Resume(ctx context.Context, conversationID, sender string) error
	Status(conversationID string) conversation.Status
	// SubmitHuman delivers a room message once per event ID.
	SubmitHuman(ctx context.Context, conversationID, eventID, sender, text string) error
}

// Subscriber is the source of runtime events.
type Subscriber interface {
	Subscribe(ctx context.Context, conversationID string) (<-chan *conversation.Event, string)
}

// Client is the subset of the Matrix client API the relay sends with.
type Client interface {
	SendText(ctx context.Context, roomID id.RoomID, text string) (*mautrix.RespSendEvent, error)
}

// Relay connects Matrix rooms to conversations.
type Relay struct {
	cfg     config.MatrixConfig
	backend Backend
	events  Subscriber
	client  Client
	sync    func(ctx context.Context) error
	logger  *slog.Logger

	roomsByConversation map[string][]id.RoomID
	conversationByRoom  map[id.RoomID]string
	allowed             map[id.UserID]bool
}

// New creates a relay backed by a mautrix client for the configured account.
func New(cfg config.MatrixConfig, backend Backend, events Subscriber, logger *slog.Logger) (*Relay, error) {
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}

	syncer, ok := client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return nil, fmt.Errorf("unexpected syncer type: %T", client.Syncer)
	}

	r := newRelay(cfg, backend, events, client, client.SyncWithContext, logger)
	syncer.OnSync(client.DontProcessOldEvents)
	syncer.OnEventType(event.EventMessage, r.handleMessageEvent)
	return r, nil
}

func newRelay(cfg config.MatrixConfig, backend Backend, events Subscriber, client Client, sync func(context.Context) error, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CommandPrefix == "" {
		cfg.CommandPrefix = "!"
	}

	r := &Relay{
		cfg:                 cfg,
		backend:             backend,
		events:              events,
		client:              client,
		sync:                sync,
		logger:              logger.With("component", "matrix"),
		roomsByConversation: make(map[string][]id.RoomID),
		conversationByRoom:  make(map[id.RoomID]string),
		allowed:             make(map[id.UserID]bool),
	}
	for _, room := range cfg.Rooms {
		roomID := id.RoomID(room.RoomID)
		r.conversationByRoom[roomID] = room.ConversationID
		r.roomsByConversation[room.ConversationID] = append(r.roomsByConversation[room.ConversationID], roomID)
	}
	for _, user := range cfg.AllowedUsers {
		r.allowed[id.UserID(user)] = true
	}
	return r
}

// Run mirrors runtime events and syncs with the homeserver until ctx is canceled.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("starting matrix relay",
		"homeserver", r.cfg.Homeserver,
		"user_id", r.cfg.UserID,
		"rooms", len(r.conversationByRoom),
	)

	events, _ := r.events.Subscribe(ctx, conversation.AllConversations)
	go r.mirror(ctx, events)

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- r.sync(ctx)
	}()

	select {
	case <-ctx.Done():
		r.logger.Info("shutting down matrix relay")
		return nil
	case err := <-syncErr:
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("matrix sync failed: %w", err)
	}
}

// mirror forwards runtime events to mapped rooms until the channel closes.
func (r *Relay) mirror(ctx context.Context, events <-chan *conversation.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			r.forward(ctx, evt)
		}
	}
}

// forward renders one runtime event into its conversation's rooms.
func (r *Relay) forward(ctx context.Context, evt *conversation.Event) {
	rooms := r.roomsByConversation[evt.ConversationID]
	if len(rooms) == 0 {
		return
	}

	text, ok := renderEvent(evt)
	if !ok {
		return
	}
	for _, roomID := range rooms {
		r.sendText(ctx, roomID, text)
	}
}

// renderEvent returns the room text for an event. Pause, resume and human
// input transitions are already covered by the system messages they append.
func renderEvent(evt *conversation.Event) (string, bool) {
	switch evt.Type {
	case conversation.EventMessageAppended:
		msg := evt.Message
		if msg == nil {
			return "", false
		}
		switch msg.SenderKind {
		case store.SenderSystem:
			return "* " + msg.Content, true
		case store.SenderHuman:
			// Room members already see what they typed.
			if isMatrixUser(msg.SenderName) {
				return "", false
			}
		}
		return fmt.Sprintf("%s: %s", msg.SenderName, msg.Content), true
	case conversation.EventHumanInputRequested:
		return "Reply in this room to continue the conversation.", true
	case conversation.EventStatusChanged:
		if evt.Status == store.ConversationCompleted {
			return "* Conversation completed", true
		}
	}
	return "", false
}

func isMatrixUser(name string) bool {
	_, _, err := id.UserID(name).Parse()
	return err == nil
}

// handleMessageEvent processes incoming Matrix messages.
func (r *Relay) handleMessageEvent(ctx context.Context, evt *event.Event) {
	if evt.Sender == id.UserID(r.cfg.UserID) {
		return
	}

	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText {
		return
	}

	conversationID, ok := r.conversationByRoom[evt.RoomID]
	if !ok {
		r.logger.Debug("ignoring message from unmapped room", "room", evt.RoomID.String())
		return
	}
	if len(r.allowed) > 0 && !r.allowed[evt.Sender] {
		r.logger.Debug("ignoring message from user not in allowed_users", "sender", evt.Sender.String())
		return
	}

	body := strings.TrimSpace(content.Body)
	if body == "" {
		return
	}

	if cmd, ok := strings.CutPrefix(body, r.cfg.CommandPrefix); ok {
		r.handleCommand(ctx, evt.RoomID, conversationID, evt.Sender.String(), strings.TrimSpace(cmd))
		return
	}

	err := r.backend.SubmitHuman(ctx, conversationID, evt.ID.String(), evt.Sender.String(), body)
	if err != nil {
		r.logger.Warn("failed to deliver room message",
			"room", evt.RoomID.String(),
			"conversation_id", conversationID,
			"event_id", evt.ID.String(),
			"error", err,
		)
		r.sendText(ctx, evt.RoomID, fmt.Sprintf("Error: %v", err))
	}
}

// handleCommand runs a control command typed in a room.
func (r *Relay) handleCommand(ctx context.Context, roomID id.RoomID, conversationID, sender, line string) {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	var err error
	reply := ""
	switch strings.ToLower(name) {
	case "start":
		err = r.backend.Start(ctx, conversationID, sender)
	case "stop":
		err = r.backend.Stop(ctx, conversationID, sender)
	case "pause":
		err = r.backend.Pause(ctx, conversationID, sender, arg)
	case "resume":
		err = r.backend.Resume(ctx, conversationID, sender)
	case "status":
		reply = formatStatus(r.backend.Status(conversationID))
	case "help":
		reply = r.helpText()
	default:
		reply = fmt.Sprintf("Unknown command %q. Try %shelp", name, r.cfg.CommandPrefix)
	}

	r.logger.Info("room command",
		"room", roomID.String(),
		"conversation_id", conversationID,
		"command", name,
		"sender", sender,
		"error", err,
	)

	if err != nil {
		reply = fmt.Sprintf("Error: %v", err)
	}
	if reply != "" {
		r.sendText(ctx, roomID, reply)
	}
}

func (r *Relay) helpText() string {
	p := r.cfg.CommandPrefix
	return strings.Join([]string{
		"Commands:",
		p + "start - start the conversation",
		p + "pause [reason] - pause turn-taking",
		p + "resume - resume turn-taking",
		p + "stop - end the conversation",
		p + "status - show conversation status",
		"Any other message is sent to the conversation.",
	}, "\n")
}

// formatStatus renders a status snapshot for a room.
func formatStatus(s conversation.Status) string {
	if !s.Active {
		return fmt.Sprintf("Conversation %s is not running.", s.ConversationID)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Conversation %s: %s, %d messages", s.ConversationID, s.Phase, s.MessageCount)
	if s.LastSpeaker != "" {
		fmt.Fprintf(&b, ", last speaker %s", s.LastSpeaker)
	}
	if s.PendingHumanRequest != nil {
		fmt.Fprintf(&b, "\nWaiting on a human for %s: %s", s.PendingHumanRequest.Agent, s.PendingHumanRequest.Message)
	}
	return b.String()
}

// sendText sends a text message to a room.
func (r *Relay) sendText(ctx context.Context, roomID id.RoomID, text string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), networkTimeout)
	defer cancel()
	if _, err := r.client.SendText(ctx, roomID, text); err != nil {
		r.logger.Error("failed to send message", "room", roomID.String(), "error", err)
	}
}
