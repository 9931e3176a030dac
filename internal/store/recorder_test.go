package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ai-voice-relay-service/internal/models"
)

type fakePublisher struct {
	mu          sync.Mutex
	transcripts []models.TranscriptLine
	statuses    []models.CallStatus
}

func (f *fakePublisher) PublishTranscript(ctx context.Context, line models.TranscriptLine) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcripts = append(f.transcripts, line)
	return nil
}

func (f *fakePublisher) PublishCallStatus(ctx context.Context, status models.CallStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	return nil
}

type failingWriter struct{}

func (failingWriter) InsertTranscript(ctx context.Context, line models.TranscriptLine) error {
	return errors.New("down")
}

func (failingWriter) InsertCallStatus(ctx context.Context, status models.CallStatus) error {
	return errors.New("down")
}

func TestRecorder_WritesAndPublishes(t *testing.T) {
	mem := NewMemoryStore()
	pub := &fakePublisher{}
	r := NewRecorder(mem, pub, time.Second, zerolog.Nop())

	r.Transcript(models.TranscriptLine{SessionID: "s1", Role: models.RoleUser, Text: "hello"})
	r.CallStatus(models.CallStatus{SessionID: "s1", Status: models.CallStatusCompleted})
	r.Wait()

	lines := mem.Transcripts()
	if len(lines) != 1 {
		t.Fatalf("stored %d lines, want 1", len(lines))
	}
	if lines[0].EventType != models.EventTypeTranscript {
		t.Errorf("EventType = %q, want %q", lines[0].EventType, models.EventTypeTranscript)
	}
	if lines[0].Timestamp == 0 {
		t.Error("Timestamp should be stamped")
	}
	if st := mem.CallStatuses(); len(st) != 1 || st[0].EventType != models.EventTypeCallStatus {
		t.Errorf("CallStatuses = %+v", st)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.transcripts) != 1 || len(pub.statuses) != 1 {
		t.Errorf("published %d transcripts and %d statuses, want 1 and 1", len(pub.transcripts), len(pub.statuses))
	}
}

func TestRecorder_WriteFailureStillPublishes(t *testing.T) {
	pub := &fakePublisher{}
	r := NewRecorder(failingWriter{}, pub, time.Second, zerolog.Nop())

	r.Transcript(models.TranscriptLine{SessionID: "s1", Text: "hello"})
	r.Wait()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.transcripts) != 1 {
		t.Errorf("published %d transcripts, want 1", len(pub.transcripts))
	}
}

func TestRecorder_NilPublisher(t *testing.T) {
	mem := NewMemoryStore()
	r := NewRecorder(mem, nil, 0, zerolog.Nop())

	r.CallStatus(models.CallStatus{SessionID: "s1", Status: models.CallStatusInProgress})
	r.Wait()

	if len(mem.CallStatuses()) != 1 {
		t.Error("status should be stored without a publisher")
	}
}

// gatedWriter blocks writes whose text matches hold until release is closed.
type gatedWriter struct {
	hold    string
	release chan struct{}

	mu    sync.Mutex
	order []string
}

func (w *gatedWriter) InsertTranscript(ctx context.Context, line models.TranscriptLine) error {
	if line.Text == w.hold {
		select {
		case <-w.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.order = append(w.order, line.SessionID+":"+line.Text)
	return nil
}

func (w *gatedWriter) InsertCallStatus(ctx context.Context, status models.CallStatus) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.order = append(w.order, status.SessionID+":"+status.Status)
	return nil
}

func (w *gatedWriter) snapshot() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.order...)
}

func TestRecorder_SessionRecordsKeepOrder(t *testing.T) {
	w := &gatedWriter{hold: "first", release: make(chan struct{})}
	r := NewRecorder(w, nil, 5*time.Second, zerolog.Nop())

	r.Transcript(models.TranscriptLine{SessionID: "s1", Text: "first"})
	r.Transcript(models.TranscriptLine{SessionID: "s1", Text: "second"})
	r.CallStatus(models.CallStatus{SessionID: "s1", Status: models.CallStatusCompleted})

	// Another session is not held up by s1.
	r.Transcript(models.TranscriptLine{SessionID: "s2", Text: "other"})
	deadline := time.Now().Add(2 * time.Second)
	for len(w.snapshot()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("s2 write blocked behind s1")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := w.snapshot(); len(got) != 1 || got[0] != "s2:other" {
		t.Fatalf("writes before release = %v, want only s2:other", got)
	}

	close(w.release)
	r.Wait()

	want := []string{"s2:other", "s1:first", "s1:second", "s1:" + models.CallStatusCompleted}
	got := w.snapshot()
	if len(got) != len(want) {
		t.Fatalf("writes = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("write %d = %q, want %q", i, got[i], want[i])
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queues) != 0 {
		t.Errorf("idle queues left behind: %d", len(r.queues))
	}
}

func TestRecorder_QueueRestartsAfterDrain(t *testing.T) {
	mem := NewMemoryStore()
	r := NewRecorder(mem, nil, time.Second, zerolog.Nop())

	r.Transcript(models.TranscriptLine{SessionID: "s1", Text: "one"})
	r.Wait()
	r.Transcript(models.TranscriptLine{SessionID: "s1", Text: "two"})
	r.Wait()

	lines := mem.Transcripts()
	if len(lines) != 2 || lines[0].Text != "one" || lines[1].Text != "two" {
		t.Errorf("lines = %+v", lines)
	}
}
