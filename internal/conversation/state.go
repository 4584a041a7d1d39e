// ABOUTME: Per-conversation runtime state and the registry of live conversations
// ABOUTME: Each state carries its own mutex; the registry maps conversation IDs to states

package conversation

import (
	"context"
	"slices"
	"sort"
	"sync"
)

// Phase is the lifecycle phase of a live conversation.
type Phase string

const (
	PhaseRunning       Phase = "running"
	PhasePaused        Phase = "paused"
	PhaseAwaitingHuman Phase = "awaiting_human"
	PhaseStopping      Phase = "stopping"
	PhaseCompleted     Phase = "completed"
)

// Status is a point-in-time view of a conversation's runtime state.
type Status struct {
	ConversationID      string             `json:"conversation_id"`
	Active              bool               `json:"active"`
	Paused              bool               `json:"paused"`
	AwaitingHuman       bool               `json:"awaiting_human"`
	Halted              bool               `json:"halted,omitempty"`
	Phase               Phase              `json:"phase,omitempty"`
	MessageCount        int                `json:"message_count"`
	LastSpeaker         string             `json:"last_speaker,omitempty"`
	Participants        []string           `json:"participants,omitempty"`
	PendingHumanRequest *HumanInputRequest `json:"pending_human_request,omitempty"`
}

// state is the runtime state of one live conversation. All fields below mu
// are guarded by it.
type state struct {
	id           string
	participants []string          // agent IDs, fixed at start
	names        map[string]string // agent ID -> display name at start
	starter      string

	mu           sync.Mutex
	phase        Phase
	lastSpeaker  string
	messageCount int
	starterSent  bool
	pending      *HumanInputRequest
	halted       bool // driver exited after a failure; resume respawns it
	cancel       context.CancelFunc
	done         chan struct{}
}

func newState(id string, participants []string, names map[string]string, starter string) *state {
	return &state{
		id:           id,
		participants: participants,
		names:        names,
		starter:      starter,
		phase:        PhaseRunning,
	}
}

// generatedTurns counts replies produced by the turn loop, excluding the starter.
func (s *state) generatedTurns() int {
	if !s.starterSent {
		return 0
	}
	return s.messageCount - 1
}

func (s *state) statusLocked() Status {
	st := Status{
		ConversationID: s.id,
		Active:         s.phase != PhaseCompleted,
		Paused:         s.phase == PhasePaused || s.phase == PhaseAwaitingHuman,
		AwaitingHuman:  s.phase == PhaseAwaitingHuman,
		Halted:         s.halted,
		Phase:          s.phase,
		MessageCount:   s.messageCount,
		LastSpeaker:    s.lastSpeaker,
		Participants:   slices.Clone(s.participants),
	}
	if s.pending != nil {
		req := *s.pending
		st.PendingHumanRequest = &req
	}
	return st
}

// Registry tracks live conversation states by conversation ID.
// Each Runtime owns one; independent runtimes never share state.
type Registry struct {
	mu     sync.RWMutex
	states map[string]*state
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{states: make(map[string]*state)}
}

// insert adds s unless its conversation already has a live state.
func (r *Registry) insert(s *state) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.states[s.id]; exists {
		return false
	}
	r.states[s.id] = s
	return true
}

func (r *Registry) lookup(id string) *state {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.states[id]
}

// remove deletes the entry for s.id only if it still points at s.
func (r *Registry) remove(s *state) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.states[s.id] == s {
		delete(r.states, s.id)
	}
}

// take removes and returns the state for id, or nil.
func (r *Registry) take(id string) *state {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.states[id]
	delete(r.states, id)
	return s
}

// drain removes and returns every state.
func (r *Registry) drain() []*state {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := make([]*state, 0, len(r.states))
	for id, s := range r.states {
		all = append(all, s)
		delete(r.states, id)
	}
	return all
}

// IDs returns the live conversation IDs in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.states))
	for id := range r.states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of live conversations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.states)
}
