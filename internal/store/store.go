// Package store persists what the relay needs outside a session: agent
// configuration, transcript lines, call status rows and the registry of
// live sessions.
package store

import (
	"context"
	"errors"
	"time"

	"ai-voice-relay-service/internal/models"
)

var (
	// ErrAgentNotFound is returned when no agent has the requested ID.
	ErrAgentNotFound = errors.New("agent not found")
	// ErrSessionNotFound is returned when the registry has no such session.
	ErrSessionNotFound = errors.New("session not found")
)

// AgentStore resolves agent configuration.
type AgentStore interface {
	GetAgent(ctx context.Context, id string) (models.AgentConfig, error)
}

// Writer appends conversation records.
type Writer interface {
	InsertTranscript(ctx context.Context, line models.TranscriptLine) error
	InsertCallStatus(ctx context.Context, status models.CallStatus) error
}

// Store is the full persistence surface.
type Store interface {
	AgentStore
	Writer
}

// SessionInfo describes a live session in the registry.
type SessionInfo struct {
	ID          string    `json:"id"`
	AssistantID string    `json:"assistantId,omitempty"`
	UserID      string    `json:"userId,omitempty"`
	CallSID     string    `json:"callSid,omitempty"`
	StreamSID   string    `json:"streamSid,omitempty"`
	Instance    string    `json:"instance"`
	StartedAt   time.Time `json:"startedAt"`
}

// Registry tracks live sessions across relay instances.
type Registry interface {
	Register(ctx context.Context, info SessionInfo) error
	Deregister(ctx context.Context, id string) error
	Lookup(ctx context.Context, id string) (SessionInfo, error)
	Close() error
}
