// Package session tracks one processing request from submission to its terminal state.
package session

import (
	"errors"
	"fmt"
)

// State represents the lifecycle state of a processing session.
type State int

const (
	// StateIdle - Session created, no request issued yet.
	StateIdle State = iota
	// StateUploading - Request issued, waiting for the service to acknowledge it.
	StateUploading
	// StateProcessing - Service is streaming progress and clips.
	StateProcessing
	// StateComplete - Service finished. Terminal.
	StateComplete
	// StateFailed - Transport or upstream error. Terminal; recovery needs a new session.
	StateFailed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateUploading:
		return "UPLOADING"
	case StateProcessing:
		return "PROCESSING"
	case StateComplete:
		return "COMPLETE"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// MarshalText renders the state by name in JSON snapshots.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name, so saved snapshots can be read back.
func (s *State) UnmarshalText(text []byte) error {
	for st := StateIdle; st <= StateFailed; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", text)
}

// IsTerminal returns true if the state is terminal (COMPLETE or FAILED).
func (s State) IsTerminal() bool {
	return s == StateComplete || s == StateFailed
}

// Errors for invalid state transitions.
var (
	ErrNotStarted      = errors.New("session has not been started")
	ErrAlreadyStarted  = errors.New("session already started")
	ErrSessionTerminal = errors.New("session is in a terminal state")
)

// UpstreamError is an explicit error status reported by the analysis service.
// Message is shown to the user verbatim.
type UpstreamError struct {
	Message string
}

func (e *UpstreamError) Error() string {
	return "analysis service error: " + e.Message
}
