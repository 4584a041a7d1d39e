// ABOUTME: Turn-loop driver goroutine: starter message, round-robin turns, cap and failure handling
// ABOUTME: Phase is re-checked under the conversation mutex before any reply is committed

package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/paradiselabs-ai/AgentMix/internal/store"
)

// terminalWriteTimeout bounds store writes made after the driver context may be gone.
const terminalWriteTimeout = 5 * time.Second

// spawnLocked starts a driver for st. The caller holds st.mu.
func (r *Runtime) spawnLocked(st *state) {
	ctx, cancel := context.WithCancel(r.baseCtx)
	done := make(chan struct{})
	st.cancel = cancel
	st.done = done
	go r.drive(ctx, st, done)
}

func (r *Runtime) drive(ctx context.Context, st *state, done chan struct{}) {
	defer close(done)

	logger := r.logger.With("conversation_id", st.id)
	logger.Debug("driver started")
	defer logger.Debug("driver exited")

	if !r.cycle(ctx, st) {
		return
	}

	ticker := time.NewTicker(r.opts.TurnInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !r.cycle(ctx, st) {
			return
		}
	}
}

// cycle runs one driver step and reports whether the driver should keep going.
func (r *Runtime) cycle(ctx context.Context, st *state) bool {
	st.mu.Lock()
	if st.phase != PhaseRunning {
		st.mu.Unlock()
		return ctx.Err() == nil
	}
	if !st.starterSent {
		defer st.mu.Unlock()
		return r.sendStarterLocked(ctx, st)
	}
	if st.generatedTurns() >= r.opts.MaxTurns {
		st.mu.Unlock()
		r.complete(st)
		return false
	}

	speakerID := NextSpeaker(st.participants, st.lastSpeaker)
	speakerName := st.names[speakerID]
	turn := st.messageCount
	st.mu.Unlock()

	agent, err := r.agents.GetAgent(ctx, speakerID)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		return r.fail(st, speakerName, lookupError("agent", speakerID, err))
	}

	history, err := r.transcript.RecentMessages(ctx, st.id, r.opts.HistoryLimit)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		return r.fail(st, agent.Name, fmt.Errorf("%w: reading transcript: %w", ErrPersistenceFailed, err))
	}

	prompt := BuildPrompt(agent, turn, history, r.opts.ReplyMaxTokens)
	reply, err := r.generator.Generate(ctx, agent, prompt)
	if ctx.Err() != nil {
		return false
	}
	if err != nil {
		return r.fail(st, agent.Name, fmt.Errorf("%w: %w", ErrGenerationFailed, err))
	}
	if reply == "" {
		return r.fail(st, agent.Name, fmt.Errorf("%w: empty reply", ErrGenerationFailed))
	}

	if request, ok := ParseHumanInputRequest(reply); ok {
		st.mu.Lock()
		defer st.mu.Unlock()
		if st.phase == PhaseRunning {
			r.requestHumanInputLocked(ctx, st, agent.Name, request)
		}
		return true
	}

	return r.commitReply(ctx, st, agent, reply)
}

func (r *Runtime) sendStarterLocked(ctx context.Context, st *state) bool {
	first := st.participants[0]
	msg, err := r.transcript.AppendMessage(ctx, &store.Message{
		ConversationID: st.id,
		SenderKind:     store.SenderAgent,
		SenderID:       first,
		SenderName:     st.names[first],
		Content:        st.starter,
	})
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		r.failLocked(st, st.names[first], fmt.Errorf("%w: appending starter: %w", ErrPersistenceFailed, err))
		return false
	}

	st.starterSent = true
	st.lastSpeaker = first
	st.messageCount = 1
	r.events.Publish(messageAppended(msg))
	return true
}

// commitReply appends an agent reply if the conversation is still running.
// A reply that lost a race with pause or stop is discarded uncounted.
func (r *Runtime) commitReply(ctx context.Context, st *state, agent *store.Agent, reply string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.phase != PhaseRunning {
		r.logger.Debug("discarding reply for non-running conversation",
			"conversation_id", st.id,
			"agent", agent.Name,
			"phase", st.phase)
		return ctx.Err() == nil
	}

	msg, err := r.transcript.AppendMessage(ctx, &store.Message{
		ConversationID: st.id,
		SenderKind:     store.SenderAgent,
		SenderID:       agent.ID,
		SenderName:     agent.Name,
		Content:        reply,
	})
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		r.failLocked(st, agent.Name, fmt.Errorf("%w: appending reply: %w", ErrPersistenceFailed, err))
		return false
	}

	st.lastSpeaker = agent.ID
	st.messageCount++
	r.events.Publish(messageAppended(msg))
	return true
}

func (r *Runtime) fail(st *state, agentName string, cause error) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	r.failLocked(st, agentName, cause)
	return false
}

// failLocked pauses the conversation after a turn failure and marks the
// driver halted. The state stays registered for inspection, resume or stop.
func (r *Runtime) failLocked(st *state, agentName string, cause error) {
	if st.phase == PhaseStopping || st.phase == PhaseCompleted {
		return
	}

	reason := fmt.Sprintf("%s failed to respond: %v", agentName, cause)
	st.phase = PhasePaused
	st.halted = true

	ctx, cancel := context.WithTimeout(context.Background(), terminalWriteTimeout)
	defer cancel()

	r.appendSystemLocked(ctx, st, "Conversation paused: "+reason)
	r.persistStatus(ctx, st.id, store.ConversationPaused)
	r.events.Publish(paused(st.id, reason))

	kind := "generation"
	if errors.Is(cause, ErrPersistenceFailed) {
		kind = "persistence"
	}
	r.logger.Warn("conversation paused after failure",
		"conversation_id", st.id,
		"agent", agentName,
		"failure", kind,
		"error", cause)
}

// complete ends a conversation that reached its turn cap.
func (r *Runtime) complete(st *state) {
	st.mu.Lock()
	if st.phase == PhaseStopping || st.phase == PhaseCompleted {
		st.mu.Unlock()
		return
	}
	st.phase = PhaseCompleted
	turns := st.messageCount
	st.mu.Unlock()

	r.registry.remove(st)

	ctx, cancel := context.WithTimeout(context.Background(), terminalWriteTimeout)
	defer cancel()
	r.persistStatus(ctx, st.id, store.ConversationCompleted)
	r.events.Publish(statusChanged(st.id, store.ConversationCompleted))

	r.logger.Info("conversation completed",
		"conversation_id", st.id,
		"turns", turns)
}
