package segment

import "testing"

func TestBuffer_InterimCaptions(t *testing.T) {
	var b Buffer

	if got := b.Interim("hello", 0.5); got != "hello" {
		t.Errorf("expected caption 'hello', got %q", got)
	}
	if got := b.Interim("hello there", 0.8); got != "hello there" {
		t.Errorf("expected caption 'hello there', got %q", got)
	}
	if b.Longest() != "hello there" {
		t.Errorf("expected longest 'hello there', got %q", b.Longest())
	}
}

func TestBuffer_LongestSurvivesShorterRevision(t *testing.T) {
	var b Buffer

	b.Interim("I want to cancel my", 0.7)
	b.Interim("I want to", 0.9)

	if b.Longest() != "I want to cancel my" {
		t.Errorf("expected longest hypothesis to be kept, got %q", b.Longest())
	}
	if b.Confidence() != 0.7 {
		t.Errorf("expected confidence of longest transcript, got %v", b.Confidence())
	}
}

func TestBuffer_CommittedSegmentsJoin(t *testing.T) {
	var b Buffer

	b.Commit("I want to cancel", 0.9)
	if got := b.Interim("my subscription", 0.6); got != "I want to cancel my subscription" {
		t.Errorf("unexpected caption %q", got)
	}
	b.Commit("my subscription please", 0.95)

	if b.Longest() != "I want to cancel my subscription please" {
		t.Errorf("unexpected longest %q", b.Longest())
	}
}

func TestBuffer_EmptyAndReset(t *testing.T) {
	var b Buffer
	if !b.Empty() {
		t.Error("expected new buffer to be empty")
	}

	b.Commit("   ", 0.1)
	if !b.Empty() {
		t.Error("expected whitespace-only commit to leave buffer empty")
	}

	b.Interim("hi", 0.5)
	b.Reset()
	if !b.Empty() || b.Longest() != "" {
		t.Error("expected reset buffer to be empty")
	}
}
