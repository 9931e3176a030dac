package turn

import (
	"errors"
	"testing"

	"ai-voice-relay-service/internal/models"
)

func TestMachine_ValidWalk(t *testing.T) {
	var seen []string
	m := NewMachine(func(from, to State) { seen = append(seen, from.String()+">"+to.String()) })

	for _, to := range []State{Listening, Thinking, Speaking, Listening, Thinking, Speaking, Listening, Closed} {
		if err := m.Transition(to); err != nil {
			t.Fatalf("transition to %s: %v", to, err)
		}
	}
	want := []string{
		"idle>listening", "listening>thinking", "thinking>speaking", "speaking>listening",
		"listening>thinking", "thinking>speaking", "speaking>listening", "listening>closed",
	}
	if len(seen) != len(want) {
		t.Fatalf("expected %d transitions, got %d", len(want), len(seen))
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, seen[i], want[i])
		}
	}
}

func TestMachine_RejectsInvalidEdges(t *testing.T) {
	tests := []struct {
		name string
		path []State
		bad  State
	}{
		{"idle to thinking", nil, Thinking},
		{"idle to speaking", nil, Speaking},
		{"listening to speaking", []State{Listening}, Speaking},
		{"thinking to listening", []State{Listening, Thinking}, Listening},
		{"speaking to thinking", []State{Listening, Thinking, Speaking}, Thinking},
		{"self loop", []State{Listening}, Listening},
		{"out of closed", []State{Closed}, Listening},
		{"closed twice", []State{Closed}, Closed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine(nil)
			for _, s := range tt.path {
				if err := m.Transition(s); err != nil {
					t.Fatalf("setup transition to %s: %v", s, err)
				}
			}
			before := m.State()
			if err := m.Transition(tt.bad); !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("expected ErrInvalidTransition, got %v", err)
			}
			if m.State() != before {
				t.Errorf("state changed on rejected transition: %s -> %s", before, m.State())
			}
		})
	}
}

func TestMachine_AnyStateCanClose(t *testing.T) {
	for _, path := range [][]State{nil, {Listening}, {Listening, Thinking}, {Listening, Thinking, Speaking}} {
		m := NewMachine(nil)
		for _, s := range path {
			_ = m.Transition(s)
		}
		if err := m.Transition(Closed); err != nil {
			t.Errorf("close from %s: %v", m.State(), err)
		}
	}
}

func TestState_String(t *testing.T) {
	if Idle.String() != "idle" || Speaking.String() != "speaking" {
		t.Error("unexpected state names")
	}
	if State(42).String() != "unknown(42)" {
		t.Errorf("unexpected unknown name %s", State(42))
	}
}

func TestHistory_Bounded(t *testing.T) {
	h := NewHistory(3)
	for _, text := range []string{"a", "b", "c", "d", "e"} {
		h.Append(models.ConversationMessage{Role: models.RoleUser, Text: text})
	}
	msgs := h.Messages()
	if len(msgs) != 3 || h.Len() != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for i, want := range []string{"c", "d", "e"} {
		if msgs[i].Text != want {
			t.Errorf("message %d = %s, want %s", i, msgs[i].Text, want)
		}
	}

	msgs[0].Text = "mutated"
	if h.Messages()[0].Text != "c" {
		t.Error("Messages must return a copy")
	}
}

func TestHistory_Unbounded(t *testing.T) {
	h := NewHistory(0)
	for i := 0; i < 50; i++ {
		h.Append(models.ConversationMessage{Text: "x"})
	}
	if h.Len() != 50 {
		t.Errorf("expected 50 messages, got %d", h.Len())
	}
}

func TestParseBargeIn(t *testing.T) {
	tests := map[string]BargeIn{
		"ignore":  BargeInIgnore,
		"IGNORE ": BargeInIgnore,
		"preempt": BargeInPreempt,
		"":        BargeInPreempt,
		"other":   BargeInPreempt,
	}
	for in, want := range tests {
		if got := ParseBargeIn(in); got != want {
			t.Errorf("ParseBargeIn(%q) = %s, want %s", in, got, want)
		}
	}
}
