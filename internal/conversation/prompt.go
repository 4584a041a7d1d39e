// ABOUTME: Builds the per-turn prompt from agent config, turn framing and recent transcript
// ABOUTME: Also renders transcript lines and the conversation starter message

package conversation

import (
	"fmt"
	"strings"

	"github.com/paradiselabs-ai/AgentMix/internal/provider"
	"github.com/paradiselabs-ai/AgentMix/internal/store"
)

const turnFraming = "You are participating in a multi-AI collaboration with human oversight. " +
	"This is turn %d. If you need human input, guidance, or clarification, start your response with '%s' " +
	"followed by your specific request. Otherwise, provide a thoughtful response that builds on the " +
	"previous messages. Keep your response concise (1-2 sentences) and collaborative."

// StarterMessage is the first utterance of a conversation, attributed to its first participant.
func StarterMessage(conv *store.Conversation) string {
	topic := strings.TrimSpace(conv.Description)
	if topic == "" {
		topic = conv.Name
	}
	return "Hello everyone! Let's start our collaboration on: " + topic
}

// RenderLine formats a transcript message as "Name: content".
func RenderLine(msg *store.Message) string {
	name := msg.SenderName
	switch {
	case msg.SenderKind == store.SenderSystem:
		name = "System"
	case name == "" && msg.SenderKind == store.SenderHuman:
		name = "Human"
	case name == "":
		name = "Agent"
	}
	return name + ": " + msg.Content
}

// BuildPrompt assembles the prompt for agent's turn. history must be in
// append order; the agent's own earlier messages are left out.
func BuildPrompt(agent *store.Agent, turn int, history []*store.Message, defaultMaxTokens int64) *provider.Prompt {
	p := &provider.Prompt{
		Speaker:   agent.Name,
		MaxTokens: agent.Config.MaxTokens,
	}
	if p.MaxTokens <= 0 {
		p.MaxTokens = defaultMaxTokens
	}

	if sys := strings.TrimSpace(agent.Config.SystemMessage); sys != "" {
		p.System = append(p.System, sys)
	}
	p.System = append(p.System, fmt.Sprintf(turnFraming, turn, HumanInputMarker))

	for _, msg := range history {
		if msg.SenderKind == store.SenderAgent && msg.SenderID == agent.ID {
			continue
		}
		p.Transcript = append(p.Transcript, RenderLine(msg))
	}
	return p
}
