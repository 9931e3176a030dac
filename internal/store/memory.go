package store

import (
	"context"
	"sync"

	"ai-voice-relay-service/internal/models"
)

// DefaultAgent is served by the memory store when no agents are seeded.
var DefaultAgent = models.AgentConfig{
	ID:           "default",
	Name:         "Relay Assistant",
	SystemPrompt: "You are a friendly phone assistant. Keep answers short and conversational.",
	FirstMessage: "Hi! How can I help you today?",
	VoiceID:      "aura-asteria-en",
	Temperature:  0.7,
	MaxTokens:    150,
}

// MemoryStore keeps everything in process. It is meant for local runs and
// tests.
type MemoryStore struct {
	mu          sync.RWMutex
	agents      map[string]models.AgentConfig
	fallback    bool
	transcripts []models.TranscriptLine
	statuses    []models.CallStatus
}

// NewMemoryStore seeds the store with agents. Without agents every lookup
// resolves to DefaultAgent under the requested ID.
func NewMemoryStore(agents ...models.AgentConfig) *MemoryStore {
	s := &MemoryStore{
		agents:   make(map[string]models.AgentConfig),
		fallback: len(agents) == 0,
	}
	for _, a := range agents {
		s.agents[a.ID] = a
	}
	return s
}

func (s *MemoryStore) GetAgent(ctx context.Context, id string) (models.AgentConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.agents[id]; ok {
		return a, nil
	}
	if s.fallback {
		a := DefaultAgent
		if id != "" {
			a.ID = id
		}
		return a, nil
	}
	return models.AgentConfig{}, ErrAgentNotFound
}

func (s *MemoryStore) InsertTranscript(ctx context.Context, line models.TranscriptLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcripts = append(s.transcripts, line)
	return nil
}

func (s *MemoryStore) InsertCallStatus(ctx context.Context, status models.CallStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)
	return nil
}

// Transcripts returns a copy of every stored line.
func (s *MemoryStore) Transcripts() []models.TranscriptLine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.TranscriptLine(nil), s.transcripts...)
}

// CallStatuses returns a copy of every stored status row.
func (s *MemoryStore) CallStatuses() []models.CallStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.CallStatus(nil), s.statuses...)
}
