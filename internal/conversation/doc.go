// Package conversation is the AgentMix orchestration core.
//
// # Runtime
//
// A Runtime owns one state machine per live conversation and one driver
// goroutine per state:
//
//	rt := conversation.NewRuntime(conversation.Deps{
//		Agents:        store,
//		Conversations: store,
//		Transcript:    store,
//		Generator:     providers,
//		Events:        broadcaster,
//	}, conversation.DefaultOptions())
//
// Control operations:
//
//   - Start(ctx, id): validate participants, persist active, spawn driver
//   - Pause(ctx, id, reason) / Resume(ctx, id)
//   - RequestHumanInput(ctx, id, agent, message)
//   - SendHumanMessage(ctx, id, text, displayName)
//   - Stop(ctx, id): idempotent; always persists completed
//   - Status(id), ListActive()
//
// # Lifecycle
//
//	Idle -> Running <-> Paused
//	        Running  -> AwaitingHuman -> Running (resume or human message)
//	        any      -> Stopping -> Completed
//
// Paused and AwaitingHuman never produce agent turns. A reply that was in
// flight when a conversation was paused is discarded.
//
// # Turn Loop
//
// The driver first appends a starter message from the first participant,
// then every TurnInterval:
//
//  1. Skip if not running
//  2. Complete if MaxTurns generated replies were produced
//  3. Pick the next speaker round-robin
//  4. Build the prompt from the agent's system message, the turn framing and
//     the last HistoryLimit messages (the speaker's own are left out)
//  5. Generate; a reply starting with HumanInputMarker becomes a human input
//     request, anything else is appended as the agent's turn
//
// A generation or persistence failure pauses the conversation and ends the
// driver. Resume starts a new driver; nothing is retried automatically.
//
// # Event Broadcasting
//
// Every transition and appended message is published as an Event.
// EventBroadcaster fans events out to subscribers of one conversation or
// of AllConversations. Publishing never blocks; slow subscribers drop events.
package conversation
