// ABOUTME: Conversation Runtime owns one state machine and driver goroutine per live conversation
// ABOUTME: Control operations (start/stop/pause/resume/HITL) mutate state under a per-conversation mutex

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/paradiselabs-ai/AgentMix/internal/provider"
	"github.com/paradiselabs-ai/AgentMix/internal/store"
)

// AgentDirectory looks up agents by ID.
type AgentDirectory interface {
	GetAgent(ctx context.Context, id string) (*store.Agent, error)
}

// ConversationStore reads conversations and writes their durable status.
type ConversationStore interface {
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	SetConversationStatus(ctx context.Context, id string, status store.ConversationStatus) error
}

// TranscriptStore is the append-only message log.
type TranscriptStore interface {
	AppendMessage(ctx context.Context, msg *store.Message) (*store.Message, error)
	// RecentMessages returns the last limit messages, oldest first.
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]*store.Message, error)
}

// ResponseGenerator produces an agent's next utterance.
type ResponseGenerator interface {
	Generate(ctx context.Context, agent *store.Agent, prompt *provider.Prompt) (string, error)
}

// Publisher receives runtime events.
type Publisher interface {
	Publish(event *Event)
}

type discardPublisher struct{}

func (discardPublisher) Publish(*Event) {}

// Options tunes the turn loop.
type Options struct {
	// TurnInterval is the pause between driver cycles.
	TurnInterval time.Duration
	// MaxTurns caps generated replies per conversation, excluding the starter.
	MaxTurns int
	// HistoryLimit is how many recent messages are rendered into each prompt.
	HistoryLimit int
	// ReplyMaxTokens caps reply length for agents without their own limit.
	ReplyMaxTokens int64
}

// DefaultOptions returns the standard pacing: one turn per second, 100
// turns, five messages of context and 150-token replies.
func DefaultOptions() Options {
	return Options{
		TurnInterval:   time.Second,
		MaxTurns:       100,
		HistoryLimit:   5,
		ReplyMaxTokens: provider.DefaultMaxTokens,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.TurnInterval <= 0 {
		o.TurnInterval = d.TurnInterval
	}
	if o.MaxTurns <= 0 {
		o.MaxTurns = d.MaxTurns
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = d.HistoryLimit
	}
	if o.ReplyMaxTokens <= 0 {
		o.ReplyMaxTokens = d.ReplyMaxTokens
	}
	return o
}

// Deps groups the runtime's collaborators.
type Deps struct {
	Agents        AgentDirectory
	Conversations ConversationStore
	Transcript    TranscriptStore
	Generator     ResponseGenerator
	Events        Publisher // optional
	Registry      *Registry // optional; a fresh one is created if nil
	Logger        *slog.Logger
}

// Runtime drives multi-agent conversations.
type Runtime struct {
	agents        AgentDirectory
	conversations ConversationStore
	transcript    TranscriptStore
	generator     ResponseGenerator
	events        Publisher
	registry      *Registry
	opts          Options
	logger        *slog.Logger

	// baseCtx parents every driver so Shutdown can cancel them all
	baseCtx   context.Context
	cancelAll context.CancelFunc
}

// NewRuntime creates a Runtime. Zero-valued options take their defaults.
func NewRuntime(deps Deps, opts Options) *Runtime {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	events := deps.Events
	if events == nil {
		events = discardPublisher{}
	}
	registry := deps.Registry
	if registry == nil {
		registry = NewRegistry()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Runtime{
		agents:        deps.Agents,
		conversations: deps.Conversations,
		transcript:    deps.Transcript,
		generator:     deps.Generator,
		events:        events,
		registry:      registry,
		opts:          opts.withDefaults(),
		logger:        logger.With("component", "runtime"),
		baseCtx:       ctx,
		cancelAll:     cancel,
	}
}

// Options returns the effective turn loop options.
func (r *Runtime) Options() Options {
	return r.opts
}

// Start validates the conversation, creates its runtime state and spawns
// its driver. The driver outlives ctx; use Stop to end it.
func (r *Runtime) Start(ctx context.Context, conversationID string) error {
	if r.registry.lookup(conversationID) != nil {
		return fmt.Errorf("%w: conversation %s is already active", ErrPreconditionFailed, conversationID)
	}

	conv, err := r.conversations.GetConversation(ctx, conversationID)
	if err != nil {
		return lookupError("conversation", conversationID, err)
	}

	participants, names, err := r.resolveParticipants(ctx, conv)
	if err != nil {
		return err
	}
	if len(participants) < 2 {
		return fmt.Errorf("%w: conversation %s needs at least 2 active agents, found %d",
			ErrPreconditionFailed, conversationID, len(participants))
	}

	st := newState(conversationID, participants, names, StarterMessage(conv))
	if !r.registry.insert(st) {
		return fmt.Errorf("%w: conversation %s is already active", ErrPreconditionFailed, conversationID)
	}

	if err := r.conversations.SetConversationStatus(ctx, conversationID, store.ConversationActive); err != nil {
		r.registry.remove(st)
		return fmt.Errorf("%w: marking conversation %s active: %w", ErrPersistenceFailed, conversationID, err)
	}
	r.events.Publish(statusChanged(conversationID, store.ConversationActive))

	st.mu.Lock()
	r.spawnLocked(st)
	st.mu.Unlock()

	r.logger.Info("conversation started",
		"conversation_id", conversationID,
		"participants", participants)
	return nil
}

// resolveParticipants returns the active, distinct participants in order.
func (r *Runtime) resolveParticipants(ctx context.Context, conv *store.Conversation) ([]string, map[string]string, error) {
	participants := make([]string, 0, len(conv.Participants))
	names := make(map[string]string, len(conv.Participants))

	for _, agentID := range conv.Participants {
		if _, seen := names[agentID]; seen {
			continue
		}
		agent, err := r.agents.GetAgent(ctx, agentID)
		if errors.Is(err, store.ErrNotFound) {
			r.logger.Warn("skipping missing participant",
				"conversation_id", conv.ID,
				"agent_id", agentID)
			continue
		}
		if err != nil {
			return nil, nil, lookupError("agent", agentID, err)
		}
		if agent.Status != store.AgentStatusActive {
			r.logger.Debug("skipping inactive participant",
				"conversation_id", conv.ID,
				"agent", agent.Name,
				"status", agent.Status)
			continue
		}
		participants = append(participants, agent.ID)
		names[agent.ID] = agent.Name
	}
	return participants, names, nil
}

// Stop ends a conversation. It is idempotent: stopping an unknown or
// already-stopped conversation still records the completed status.
func (r *Runtime) Stop(ctx context.Context, conversationID string) error {
	if st := r.registry.take(conversationID); st != nil {
		st.mu.Lock()
		st.phase = PhaseStopping
		cancel, done := st.cancel, st.done
		st.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if done != nil {
			select {
			case <-done:
			case <-ctx.Done():
				r.logger.Warn("driver did not exit before stop deadline",
					"conversation_id", conversationID)
			}
		}

		st.mu.Lock()
		st.phase = PhaseCompleted
		st.mu.Unlock()
	}

	// The caller may have gone away while the driver exited; the completed
	// status is written regardless.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
	defer cancel()
	err := r.conversations.SetConversationStatus(writeCtx, conversationID, store.ConversationCompleted)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: marking conversation %s completed: %w", ErrPersistenceFailed, conversationID, err)
	}
	r.events.Publish(statusChanged(conversationID, store.ConversationCompleted))

	r.logger.Info("conversation stopped", "conversation_id", conversationID)
	return nil
}

// Pause halts turn-taking until Resume.
func (r *Runtime) Pause(ctx context.Context, conversationID, reason string) error {
	st := r.registry.lookup(conversationID)
	if st == nil {
		return notActive(conversationID)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.phase != PhaseRunning {
		return wrongPhase(conversationID, st.phase, "pause")
	}
	if strings.TrimSpace(reason) == "" {
		reason = "paused by operator"
	}

	st.phase = PhasePaused
	r.appendSystemLocked(ctx, st, "Conversation paused: "+reason)
	r.persistStatus(ctx, conversationID, store.ConversationPaused)
	r.events.Publish(paused(conversationID, reason))

	r.logger.Info("conversation paused",
		"conversation_id", conversationID,
		"reason", reason)
	return nil
}

// Resume restarts turn-taking for a paused or awaiting-human conversation.
// A driver that exited after a failure is respawned.
func (r *Runtime) Resume(ctx context.Context, conversationID string) error {
	st := r.registry.lookup(conversationID)
	if st == nil {
		return notActive(conversationID)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.phase != PhasePaused && st.phase != PhaseAwaitingHuman {
		return wrongPhase(conversationID, st.phase, "resume")
	}
	r.resumeLocked(ctx, st)
	return nil
}

func (r *Runtime) resumeLocked(ctx context.Context, st *state) {
	st.pending = nil
	st.phase = PhaseRunning
	r.appendSystemLocked(ctx, st, "Conversation resumed")
	r.persistStatus(ctx, st.id, store.ConversationActive)
	r.events.Publish(resumed(st.id))

	if st.halted {
		st.halted = false
		r.spawnLocked(st)
	}

	r.logger.Info("conversation resumed", "conversation_id", st.id)
}

// RequestHumanInput pauses a running conversation on behalf of an agent
// and records what the agent asked for.
func (r *Runtime) RequestHumanInput(ctx context.Context, conversationID, agentName, message string) error {
	st := r.registry.lookup(conversationID)
	if st == nil {
		return notActive(conversationID)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.phase != PhaseRunning {
		return wrongPhase(conversationID, st.phase, "request human input for")
	}
	r.requestHumanInputLocked(ctx, st, agentName, message)
	return nil
}

func (r *Runtime) requestHumanInputLocked(ctx context.Context, st *state, agentName, message string) {
	if strings.TrimSpace(message) == "" {
		message = "needs human guidance"
	}

	st.pending = &HumanInputRequest{
		Agent:       agentName,
		Message:     message,
		RequestedAt: time.Now().UTC(),
	}
	st.phase = PhaseAwaitingHuman

	reason := agentName + " requested human input"
	r.appendSystemLocked(ctx, st, "Conversation paused: "+reason)
	r.persistStatus(ctx, st.id, store.ConversationPaused)
	r.events.Publish(paused(st.id, reason))

	r.appendSystemLocked(ctx, st, fmt.Sprintf("%s is requesting human input: %s", agentName, message))
	r.events.Publish(humanInputRequested(st.id, agentName, message))

	r.logger.Info("human input requested",
		"conversation_id", st.id,
		"agent", agentName)
}

// SendHumanMessage appends a human message. If an agent was waiting for
// human input, the conversation resumes.
func (r *Runtime) SendHumanMessage(ctx context.Context, conversationID, text, displayName string) (*store.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: message text is required", ErrPreconditionFailed)
	}
	if strings.TrimSpace(displayName) == "" {
		displayName = "User"
	}

	msg := &store.Message{
		ConversationID: conversationID,
		SenderKind:     store.SenderHuman,
		SenderName:     displayName,
		Content:        text,
	}

	st := r.registry.lookup(conversationID)
	if st == nil {
		return r.appendIdleHumanMessage(ctx, msg)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.phase == PhaseStopping || st.phase == PhaseCompleted {
		return nil, wrongPhase(conversationID, st.phase, "message")
	}

	stored, err := r.transcript.AppendMessage(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("%w: appending human message: %w", ErrPersistenceFailed, err)
	}
	r.events.Publish(messageAppended(stored))

	if st.pending != nil {
		r.resumeLocked(ctx, st)
	}
	return stored, nil
}

// appendIdleHumanMessage handles human messages for conversations with no live state.
func (r *Runtime) appendIdleHumanMessage(ctx context.Context, msg *store.Message) (*store.Message, error) {
	conv, err := r.conversations.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		return nil, lookupError("conversation", msg.ConversationID, err)
	}
	if conv.Status == store.ConversationCompleted {
		return nil, fmt.Errorf("%w: conversation %s is completed", ErrPreconditionFailed, conv.ID)
	}

	stored, err := r.transcript.AppendMessage(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("%w: appending human message: %w", ErrPersistenceFailed, err)
	}
	r.events.Publish(messageAppended(stored))
	return stored, nil
}

// Status reports the runtime state of a conversation. Conversations with
// no live state report Active=false.
func (r *Runtime) Status(conversationID string) Status {
	st := r.registry.lookup(conversationID)
	if st == nil {
		return Status{ConversationID: conversationID}
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.statusLocked()
}

// ListActive returns the IDs of live conversations in sorted order.
func (r *Runtime) ListActive() []string {
	return r.registry.IDs()
}

// Shutdown cancels every driver and waits for them to exit. Conversations
// still live are persisted as paused so they can be started again.
func (r *Runtime) Shutdown(ctx context.Context) error {
	states := r.registry.drain()

	var wg sync.WaitGroup
	for _, st := range states {
		st.mu.Lock()
		st.phase = PhaseStopping
		cancel, done := st.cancel, st.done
		st.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if done != nil {
			wg.Go(func() { <-done })
		}
	}

	waited := make(chan struct{})
	go func() {
		wg.Wait()
		close(waited)
	}()

	var err error
	select {
	case <-waited:
	case <-ctx.Done():
		err = fmt.Errorf("waiting for drivers: %w", ctx.Err())
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminalWriteTimeout)
	defer cancel()
	for _, st := range states {
		r.persistStatus(writeCtx, st.id, store.ConversationPaused)
	}
	r.cancelAll()

	r.logger.Info("runtime shut down", "conversations", len(states))
	return err
}

// appendSystemLocked appends and publishes a system message. A failed
// append is logged; the caller's transition stands.
func (r *Runtime) appendSystemLocked(ctx context.Context, st *state, content string) {
	msg, err := r.transcript.AppendMessage(ctx, &store.Message{
		ConversationID: st.id,
		SenderKind:     store.SenderSystem,
		SenderName:     "System",
		Content:        content,
	})
	if err != nil {
		r.logger.Warn("failed to append system message",
			"conversation_id", st.id,
			"error", err)
		return
	}
	r.events.Publish(messageAppended(msg))
}

func (r *Runtime) persistStatus(ctx context.Context, conversationID string, status store.ConversationStatus) {
	if err := r.conversations.SetConversationStatus(ctx, conversationID, status); err != nil {
		r.logger.Warn("failed to persist conversation status",
			"conversation_id", conversationID,
			"status", status,
			"error", err)
	}
}
