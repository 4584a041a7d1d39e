// ABOUTME: Round-robin speaker selection and human-input-request detection
// ABOUTME: Both are pure functions of their inputs

package conversation

import (
	"slices"
	"strings"
)

// HumanInputMarker prefixes a reply in which an agent asks for human input.
const HumanInputMarker = "[HUMAN_INPUT_NEEDED]"

// NextSpeaker returns the participant after last, wrapping around.
// An unset or unknown last speaker yields the first participant.
func NextSpeaker(participants []string, last string) string {
	if len(participants) == 0 {
		return ""
	}
	idx := slices.Index(participants, last)
	if idx < 0 {
		return participants[0]
	}
	return participants[(idx+1)%len(participants)]
}

// ParseHumanInputRequest reports whether reply starts with HumanInputMarker
// and returns the request text with the marker stripped.
func ParseHumanInputRequest(reply string) (string, bool) {
	trimmed := strings.TrimSpace(reply)
	if !strings.HasPrefix(trimmed, HumanInputMarker) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(trimmed, HumanInputMarker)), true
}
