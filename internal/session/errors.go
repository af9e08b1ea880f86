package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNoCandidate is returned by commands that need a pending result.
	ErrNoCandidate = errors.New("no pending candidate")
	// ErrStaleResult is returned when a backend response no longer matches
	// the session (tool, layer or request changed while it was in flight).
	ErrStaleResult = errors.New("stale result discarded")
	// ErrClosed is returned by every command after Close.
	ErrClosed = errors.New("session closed")
	// ErrGeneration wraps backend failures and malformed responses.
	ErrGeneration = errors.New("generation failed")
)

// SpecificityError short-circuits a request whose prompt is too vague. It is
// a suggestion for the user, not a failure of the session.
type SpecificityError struct {
	Tool       string
	Suggestion string
}

func (e *SpecificityError) Error() string {
	if e.Suggestion == "" {
		return fmt.Sprintf("prompt for %s is not specific enough", e.Tool)
	}
	return fmt.Sprintf("prompt for %s is not specific enough: %s", e.Tool, e.Suggestion)
}
