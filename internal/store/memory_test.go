package store

import (
	"context"
	"errors"
	"testing"

	"ai-voice-relay-service/internal/models"
)

func TestMemoryStore_GetAgent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(models.AgentConfig{ID: "a1", Name: "Support"})

	got, err := s.GetAgent(ctx, "a1")
	if err != nil {
		t.Fatalf("GetAgent error: %v", err)
	}
	if got.Name != "Support" {
		t.Errorf("Name = %q, want Support", got.Name)
	}

	if _, err := s.GetAgent(ctx, "missing"); !errors.Is(err, ErrAgentNotFound) {
		t.Errorf("missing agent error = %v, want ErrAgentNotFound", err)
	}
}

func TestMemoryStore_DefaultAgent(t *testing.T) {
	s := NewMemoryStore()

	got, err := s.GetAgent(context.Background(), "any")
	if err != nil {
		t.Fatalf("GetAgent error: %v", err)
	}
	if got.ID != "any" {
		t.Errorf("ID = %q, want any", got.ID)
	}
	if got.FirstMessage != DefaultAgent.FirstMessage {
		t.Errorf("FirstMessage = %q, want default", got.FirstMessage)
	}
}

func TestMemoryStore_Inserts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_ = s.InsertTranscript(ctx, models.TranscriptLine{SessionID: "s1", Text: "hello"})
	_ = s.InsertTranscript(ctx, models.TranscriptLine{SessionID: "s1", Text: "hi"})
	_ = s.InsertCallStatus(ctx, models.CallStatus{SessionID: "s1", Status: models.CallStatusCompleted})

	lines := s.Transcripts()
	if len(lines) != 2 || lines[0].Text != "hello" || lines[1].Text != "hi" {
		t.Errorf("Transcripts = %+v", lines)
	}
	lines[0].Text = "mutated"
	if s.Transcripts()[0].Text != "hello" {
		t.Error("Transcripts should return a copy")
	}
	if st := s.CallStatuses(); len(st) != 1 || st[0].Status != models.CallStatusCompleted {
		t.Errorf("CallStatuses = %+v", st)
	}
}
