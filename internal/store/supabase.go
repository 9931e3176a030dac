package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/supabase-community/supabase-go"

	"ai-voice-relay-service/internal/models"
)

const (
	tableAgents      = "assistants"
	tableTranscripts = "call_transcripts"
	tableCallStatus  = "call_status"
)

// SupabaseConfig holds Supabase connection configuration.
type SupabaseConfig struct {
	URL      string
	APIKey   string
	CacheTTL time.Duration // Default: 5 minutes
}

// SupabaseStore implements Store on Supabase tables.
type SupabaseStore struct {
	client   *supabase.Client
	cacheTTL time.Duration

	mu     sync.RWMutex
	agents map[string]cachedAgent
}

type cachedAgent struct {
	agent     models.AgentConfig
	expiresAt time.Time
}

type transcriptRow struct {
	SessionID   string  `json:"session_id"`
	CallSID     string  `json:"call_sid,omitempty"`
	AssistantID string  `json:"assistant_id,omitempty"`
	UserID      string  `json:"user_id,omitempty"`
	Role        string  `json:"role"`
	Text        string  `json:"text"`
	Confidence  float64 `json:"confidence"`
	Fallback    bool    `json:"fallback"`
	CreatedAt   string  `json:"created_at"`
}

type callStatusRow struct {
	SessionID   string `json:"session_id,omitempty"`
	CallSID     string `json:"call_sid,omitempty"`
	AssistantID string `json:"assistant_id,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	Status      string `json:"status"`
	Reason      string `json:"reason,omitempty"`
	DurationSec int    `json:"duration_sec"`
	CreatedAt   string `json:"created_at"`
}

// NewSupabaseStore creates a Supabase-backed store.
func NewSupabaseStore(cfg SupabaseConfig) (*SupabaseStore, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("supabase URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("supabase API key is required")
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 5 * time.Minute
	}

	client, err := supabase.NewClient(cfg.URL, cfg.APIKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}

	return &SupabaseStore{
		client:   client,
		cacheTTL: cfg.CacheTTL,
		agents:   make(map[string]cachedAgent),
	}, nil
}

// GetAgent returns the agent with id, served from cache while fresh.
func (s *SupabaseStore) GetAgent(ctx context.Context, id string) (models.AgentConfig, error) {
	if a, ok := s.cached(id); ok {
		return a, nil
	}

	var agents []models.AgentConfig
	_, err := s.client.From(tableAgents).
		Select("*", "", false).
		Eq("id", id).
		ExecuteTo(&agents)
	if err != nil {
		return models.AgentConfig{}, fmt.Errorf("failed to get agent %s: %w", id, err)
	}
	if len(agents) == 0 {
		return models.AgentConfig{}, fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}

	agent := agents[0]
	s.mu.Lock()
	s.agents[id] = cachedAgent{agent: agent, expiresAt: time.Now().Add(s.cacheTTL)}
	s.mu.Unlock()
	return agent, nil
}

func (s *SupabaseStore) cached(id string) (models.AgentConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.agents[id]
	if !ok || time.Now().After(entry.expiresAt) {
		return models.AgentConfig{}, false
	}
	return entry.agent, true
}

// InsertTranscript appends a row to call_transcripts.
func (s *SupabaseStore) InsertTranscript(ctx context.Context, line models.TranscriptLine) error {
	row := transcriptRow{
		SessionID:   line.SessionID,
		CallSID:     line.CallSID,
		AssistantID: line.AssistantID,
		UserID:      line.UserID,
		Role:        string(line.Role),
		Text:        line.Text,
		Confidence:  line.Confidence,
		Fallback:    line.Fallback,
		CreatedAt:   millisToRFC3339(line.Timestamp),
	}
	if _, _, err := s.client.From(tableTranscripts).Insert(row, false, "", "minimal", "").Execute(); err != nil {
		return fmt.Errorf("failed to insert transcript line: %w", err)
	}
	return nil
}

// InsertCallStatus appends a row to call_status.
func (s *SupabaseStore) InsertCallStatus(ctx context.Context, status models.CallStatus) error {
	row := callStatusRow{
		SessionID:   status.SessionID,
		CallSID:     status.CallSID,
		AssistantID: status.AssistantID,
		UserID:      status.UserID,
		Status:      status.Status,
		Reason:      status.Reason,
		DurationSec: status.DurationSec,
		CreatedAt:   millisToRFC3339(status.Timestamp),
	}
	if _, _, err := s.client.From(tableCallStatus).Insert(row, false, "", "minimal", "").Execute(); err != nil {
		return fmt.Errorf("failed to insert call status: %w", err)
	}
	return nil
}

func millisToRFC3339(ms int64) string {
	if ms <= 0 {
		return time.Now().UTC().Format(time.RFC3339Nano)
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)
}
