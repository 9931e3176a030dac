// Package turn sequences a session's conversation: it is the only caller of
// the completion orchestrator and the synthesizer.
package turn

import (
	"errors"
	"fmt"
)

// State is the turn state of a session.
type State int

const (
	Idle State = iota
	Listening
	Thinking
	Speaking
	// Closed is entered on teardown from any state.
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Thinking:
		return "thinking"
	case Speaking:
		return "speaking"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ErrInvalidTransition is returned for an edge outside
// Idle→Listening→Thinking→Speaking→Listening, or any edge out of Closed.
var ErrInvalidTransition = errors.New("invalid turn transition")

var edges = map[State]State{
	Idle:      Listening,
	Listening: Thinking,
	Thinking:  Speaking,
	Speaking:  Listening,
}

// Machine holds the turn state. It is not safe for concurrent use.
type Machine struct {
	state    State
	observer func(from, to State)
}

// NewMachine returns a machine in Idle. observer, if non-nil, sees every
// accepted transition.
func NewMachine(observer func(from, to State)) *Machine {
	return &Machine{state: Idle, observer: observer}
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Transition moves to the given state.
func (m *Machine) Transition(to State) error {
	from := m.state
	switch {
	case from == Closed:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	case to == Closed:
	case edges[from] != to:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	m.state = to
	if m.observer != nil {
		m.observer(from, to)
	}
	return nil
}
