// Package segment provides utterance ID generation, the utterance lifecycle
// and the transcript buffer used to finalize an utterance.
package segment

import (
	"errors"
	"fmt"
	"sync"
)

// State represents the lifecycle state of an utterance.
type State int

const (
	// StateOpen - Utterance is accumulating transcripts.
	StateOpen State = iota
	// StateFinalized - Utterance was handed to the turn coordinator.
	StateFinalized
	// StateClosed - Utterance is closed normally.
	StateClosed
	// StateDropped - Utterance was abandoned without being finalized.
	StateDropped
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateFinalized:
		return "FINALIZED"
	case StateClosed:
		return "CLOSED"
	case StateDropped:
		return "DROPPED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true if the state is terminal (CLOSED or DROPPED).
func (s State) IsTerminal() bool {
	return s == StateClosed || s == StateDropped
}

// Errors for invalid state transitions.
var (
	ErrUtteranceClosed      = errors.New("utterance is closed")
	ErrAlreadyFinalized     = errors.New("utterance already finalized")
	ErrTranscriptAfterFinal = errors.New("cannot observe transcript after finalization")
)

// Lifecycle manages the state machine for a single utterance.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	OPEN → FINALIZED → CLOSED
//	  │
//	  └── Drop() ──→ DROPPED
//
// Rules:
//   - OPEN: transcripts may be observed many times, Finalize succeeds once
//   - FINALIZED: no further transcripts, no second Finalize
//   - CLOSED / DROPPED: everything is rejected until Reset
type Lifecycle struct {
	mu          sync.RWMutex
	utteranceId string
	state       State
}

// NewLifecycle creates a new utterance lifecycle in OPEN state.
func NewLifecycle(utteranceId string) *Lifecycle {
	return &Lifecycle{
		utteranceId: utteranceId,
		state:       StateOpen,
	}
}

// UtteranceId returns the utterance ID.
func (l *Lifecycle) UtteranceId() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.utteranceId
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// IsClosed returns true if the utterance is in a terminal state.
func (l *Lifecycle) IsClosed() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.IsTerminal()
}

// IsDropped returns true if the utterance was abandoned.
func (l *Lifecycle) IsDropped() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == StateDropped
}

// Observe validates that a transcript may still contribute to the utterance.
func (l *Lifecycle) Observe() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	switch l.state {
	case StateOpen:
		return nil
	case StateFinalized:
		return ErrTranscriptAfterFinal
	case StateClosed, StateDropped:
		return ErrUtteranceClosed
	default:
		return fmt.Errorf("unexpected state: %v", l.state)
	}
}

// Finalize transitions to FINALIZED. It succeeds exactly once per utterance.
func (l *Lifecycle) Finalize() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateOpen:
		l.state = StateFinalized
		return nil
	case StateFinalized:
		return ErrAlreadyFinalized
	case StateClosed, StateDropped:
		return ErrUtteranceClosed
	default:
		return fmt.Errorf("unexpected state: %v", l.state)
	}
}

// Close transitions the utterance to CLOSED. Idempotent.
func (l *Lifecycle) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = StateClosed
}

// Drop abandons the utterance without finalizing it, e.g. when the
// transcription upstream disconnects mid-utterance. Returns false if the
// utterance was already terminal.
func (l *Lifecycle) Drop() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.IsTerminal() {
		return false
	}
	l.state = StateDropped
	return true
}

// Reset reopens the lifecycle for the next utterance.
func (l *Lifecycle) Reset(newUtteranceId string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.utteranceId = newUtteranceId
	l.state = StateOpen
}
