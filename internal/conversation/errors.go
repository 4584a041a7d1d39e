// ABOUTME: Error taxonomy for runtime control operations and the turn loop
// ABOUTME: Callers match these sentinels with errors.Is

package conversation

import (
	"errors"
	"fmt"

	"github.com/paradiselabs-ai/AgentMix/internal/store"
)

var (
	// ErrNotFound is returned when a conversation or agent does not exist.
	ErrNotFound = errors.New("not found")

	// ErrPreconditionFailed is returned when a control operation is not valid
	// in the conversation's current phase, or when a conversation has too few
	// active participants to start.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrGenerationFailed wraps provider, network and auth errors from the
	// response generator.
	ErrGenerationFailed = errors.New("generation failed")

	// ErrPersistenceFailed wraps store write errors.
	ErrPersistenceFailed = errors.New("persistence failed")
)

// lookupError classifies an error from a store read.
func lookupError(kind, id string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s %s: %w", ErrNotFound, kind, id, err)
	}
	return fmt.Errorf("%w: loading %s %s: %w", ErrPersistenceFailed, kind, id, err)
}

func notActive(id string) error {
	return fmt.Errorf("%w: conversation %s is not active", ErrPreconditionFailed, id)
}

func wrongPhase(id string, phase Phase, op string) error {
	return fmt.Errorf("%w: cannot %s conversation %s while %s", ErrPreconditionFailed, op, id, phase)
}
