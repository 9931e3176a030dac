// Package upstream provides a supervised, reconnecting connection to one
// streaming speech service.
package upstream

import (
	"context"
	"fmt"
	"time"
)

// State is the lifecycle state of an upstream connection.
type State int

const (
	// StateDisconnected - not connected and not trying to connect.
	StateDisconnected State = iota
	// StateConnecting - a dial attempt is in progress.
	StateConnecting
	// StateConnected - frames may be sent.
	StateConnected
	// StateBackoff - waiting before the next dial attempt.
	StateBackoff
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateBackoff:
		return "BACKOFF"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// Status is a snapshot of the connection state. Attempt, Delay and
// NextRetryAt are only meaningful while connecting or in backoff.
type Status struct {
	State       State
	Attempt     int
	Delay       time.Duration
	NextRetryAt time.Time
}

// Message is one frame exchanged with an upstream. Tag is local bookkeeping:
// a tagged outbound message produces an EventSent once it has been written.
type Message struct {
	Binary bool
	Data   []byte
	Tag    string
}

// Text returns a text message carrying data.
func Text(data []byte) Message {
	return Message{Data: data}
}

// Binary returns a binary message carrying data.
func Binary(data []byte) Message {
	return Message{Binary: true, Data: data}
}

// Conn is an established upstream connection. ReadMessage is called from a
// single goroutine and WriteMessage from another; Close may be called
// concurrently with both and must unblock them.
type Conn interface {
	ReadMessage() (Message, error)
	WriteMessage(Message) error
	Close() error
}

// Dialer opens upstream connections.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// EventKind discriminates supervisor events.
type EventKind int

const (
	EventState EventKind = iota
	EventMessage
	EventSent
)

// Event is delivered to the owner of a Supervisor.
type Event struct {
	Kind    EventKind
	Status  Status
	Message Message
	Err     error
}
