package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ai-voice-relay-service/internal/store"
)

func TestTracker_RegisterAndUnregister(t *testing.T) {
	registry := store.NewMemoryRegistry()
	tracker := NewTracker(registry, "i1", zerolog.Nop())

	unregister := tracker.Register("s1", func() {})
	if tracker.Count() != 1 {
		t.Fatalf("Count = %d, want 1", tracker.Count())
	}
	info, err := registry.Lookup(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Lookup error: %v", err)
	}
	if info.Instance != "i1" || info.StartedAt.IsZero() {
		t.Errorf("info = %+v", info)
	}

	unregister()
	unregister()
	if tracker.Count() != 0 {
		t.Errorf("Count = %d, want 0", tracker.Count())
	}
	if _, err := registry.Lookup(context.Background(), "s1"); !errors.Is(err, store.ErrSessionNotFound) {
		t.Errorf("Lookup after unregister error = %v, want ErrSessionNotFound", err)
	}
}

func TestTracker_DescribeUpdatesEntry(t *testing.T) {
	registry := store.NewMemoryRegistry()
	tracker := NewTracker(registry, "i1", zerolog.Nop())
	defer tracker.Register("s1", nil)()

	tracker.Describe(store.SessionInfo{ID: "s1", AssistantID: "a1", CallSID: "CA1"})

	info, err := registry.Lookup(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Lookup error: %v", err)
	}
	if info.AssistantID != "a1" || info.CallSID != "CA1" || info.Instance != "i1" {
		t.Errorf("info = %+v", info)
	}
}

func TestTracker_CancelAllAndWait(t *testing.T) {
	tracker := NewTracker(nil, "i1", zerolog.Nop())

	canceled := make(chan string, 2)
	for _, id := range []string{"s1", "s2"} {
		id := id
		var unregister func()
		unregister = tracker.Register(id, func() {
			canceled <- id
			go unregister()
		})
	}

	if n := tracker.CancelAll(); n != 2 {
		t.Errorf("CancelAll = %d, want 2", n)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if !tracker.Wait(ctx) {
		t.Fatal("Wait timed out")
	}
	if len(canceled) != 2 {
		t.Errorf("canceled %d sessions, want 2", len(canceled))
	}
}

func TestTracker_WaitTimesOut(t *testing.T) {
	tracker := NewTracker(nil, "i1", zerolog.Nop())
	unregister := tracker.Register("s1", nil)
	defer unregister()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if tracker.Wait(ctx) {
		t.Error("Wait reported done with a live session")
	}
}

func TestTracker_ReplacesDuplicateID(t *testing.T) {
	tracker := NewTracker(nil, "i1", zerolog.Nop())
	first := tracker.Register("s1", nil)
	second := tracker.Register("s1", nil)

	if tracker.Count() != 1 {
		t.Errorf("Count = %d, want 1", tracker.Count())
	}
	first()
	if tracker.Count() != 1 {
		t.Errorf("stale unregister removed the new entry")
	}
	second()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if !tracker.Wait(ctx) {
		t.Error("Wait timed out")
	}
}
