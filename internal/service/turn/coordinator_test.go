package turn

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ai-voice-relay-service/internal/models"
	"ai-voice-relay-service/internal/service/completion"
)

type fakeGen struct {
	mu          sync.Mutex
	calls       []string
	histories   [][]models.ConversationMessage
	inFlight    int
	maxInFlight int
	gate        chan struct{}
	result      func(utterance string) completion.Result
}

func (g *fakeGen) Generate(ctx context.Context, utterance string, history []models.ConversationMessage, agent models.AgentConfig) (completion.Result, error) {
	g.mu.Lock()
	g.calls = append(g.calls, utterance)
	g.histories = append(g.histories, history)
	g.inFlight++
	if g.inFlight > g.maxInFlight {
		g.maxInFlight = g.inFlight
	}
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		g.inFlight--
		g.mu.Unlock()
	}()

	if g.gate != nil {
		select {
		case <-g.gate:
		case <-ctx.Done():
			return completion.Result{Text: completion.DefaultFallbackText, Fallback: true}, nil
		}
	}
	if g.result != nil {
		return g.result(utterance), nil
	}
	return completion.Result{Text: "reply to " + utterance}, nil
}

func (g *fakeGen) Calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

type fakeSpeaker struct {
	unavailable bool
	spoken      []string
	tags        []string
	clears      int
}

func (s *fakeSpeaker) Speak(text string) (string, error) {
	if s.unavailable {
		return "", fmt.Errorf("synthesis unavailable")
	}
	s.spoken = append(s.spoken, text)
	tag := fmt.Sprintf("flush-%d", len(s.spoken))
	s.tags = append(s.tags, tag)
	return tag, nil
}

func (s *fakeSpeaker) Clear() bool {
	s.clears++
	return true
}

func (s *fakeSpeaker) lastTag() string {
	if len(s.tags) == 0 {
		return ""
	}
	return s.tags[len(s.tags)-1]
}

type fakeSink struct {
	responses []string
	records   []models.ConversationMessage
	transfers int
	endCalls  int
}

func (s *fakeSink) AIResponse(text string) { s.responses = append(s.responses, text) }
func (s *fakeSink) Record(role models.Role, text string) {
	s.records = append(s.records, models.ConversationMessage{Role: role, Text: text})
}
func (s *fakeSink) TransferRequested() { s.transfers++ }
func (s *fakeSink) EndCall()           { s.endCalls++ }

type harness struct {
	c           *Coordinator
	gen         *fakeGen
	speaker     *fakeSpeaker
	sink        *fakeSink
	transitions []string
	cancel      context.CancelFunc
}

func newHarness(t *testing.T, gen *fakeGen, opts Options) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{gen: gen, speaker: &fakeSpeaker{}, sink: &fakeSink{}, cancel: cancel}
	opts.OnTransition = func(from, to State) {
		h.transitions = append(h.transitions, from.String()+">"+to.String())
	}
	h.c = NewCoordinator(ctx, models.AgentConfig{ID: "a1"}, gen, h.speaker, h.sink, opts, zerolog.Nop())
	if err := h.c.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		h.c.Close()
	})
	return h
}

// step handles the next background event.
func (h *harness) step(t *testing.T) {
	t.Helper()
	select {
	case ev := <-h.c.Events():
		h.c.Handle(ev)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for coordinator event")
	}
}

func (h *harness) expectState(t *testing.T, want State) {
	t.Helper()
	if got := h.c.State(); got != want {
		t.Fatalf("state = %s, want %s", got, want)
	}
}

func TestCoordinator_FullTurn(t *testing.T) {
	h := newHarness(t, &fakeGen{}, Options{})

	h.c.HandleUtterance("hello there", SourceSpeech)
	h.expectState(t, Thinking)

	h.step(t)
	h.expectState(t, Speaking)
	if len(h.sink.responses) != 1 || h.sink.responses[0] != "reply to hello there" {
		t.Fatalf("expected one ai_response, got %v", h.sink.responses)
	}
	if len(h.speaker.spoken) != 1 || h.speaker.spoken[0] != "reply to hello there" {
		t.Fatalf("expected reply to be synthesized, got %v", h.speaker.spoken)
	}

	h.c.HandleFlushSent("some-other-tag")
	h.expectState(t, Speaking)

	h.c.HandleFlushSent(h.speaker.lastTag())
	h.expectState(t, Listening)

	want := []string{"idle>listening", "listening>thinking", "thinking>speaking", "speaking>listening"}
	if fmt.Sprint(h.transitions) != fmt.Sprint(want) {
		t.Errorf("transitions = %v, want %v", h.transitions, want)
	}

	hist := h.c.History()
	if len(hist) != 2 || hist[0].Role != models.RoleUser || hist[1].Role != models.RoleAssistant {
		t.Errorf("unexpected history %+v", hist)
	}
	if len(h.sink.records) != 2 {
		t.Errorf("expected user and assistant lines recorded, got %d", len(h.sink.records))
	}
}

func TestCoordinator_HistoryExcludesCurrentUtterance(t *testing.T) {
	gen := &fakeGen{}
	h := newHarness(t, gen, Options{})

	h.c.HandleUtterance("first", SourceText)
	h.step(t)
	h.c.HandleFlushSent(h.speaker.lastTag())
	h.c.HandleUtterance("second", SourceText)
	h.step(t)

	gen.mu.Lock()
	defer gen.mu.Unlock()
	if len(gen.histories[0]) != 0 {
		t.Errorf("first call should have no history, got %d", len(gen.histories[0]))
	}
	if len(gen.histories[1]) != 2 {
		t.Errorf("second call should see the first exchange, got %d", len(gen.histories[1]))
	}
}

func TestCoordinator_QueuesDuringThinkingWithoutConcurrency(t *testing.T) {
	gen := &fakeGen{gate: make(chan struct{})}
	h := newHarness(t, gen, Options{})

	h.c.HandleUtterance("book a table", SourceSpeech)
	h.c.HandleUtterance("book a table", SourceSpeech)
	h.expectState(t, Thinking)
	if n := len(gen.Calls()); n > 1 {
		t.Fatalf("second completion started while first in flight: %d calls", n)
	}

	gen.gate <- struct{}{}
	h.step(t)
	h.expectState(t, Speaking)
	h.c.HandleFlushSent(h.speaker.lastTag())
	h.expectState(t, Thinking)

	gen.gate <- struct{}{}
	h.step(t)
	h.expectState(t, Speaking)

	calls := gen.Calls()
	if len(calls) != 2 || calls[0] != calls[1] {
		t.Errorf("expected two independent calls for the same text, got %v", calls)
	}
	gen.mu.Lock()
	peak := gen.maxInFlight
	gen.mu.Unlock()
	if peak != 1 {
		t.Errorf("expected at most one call in flight, saw %d", peak)
	}
}

func TestCoordinator_PendingQueueDropsOldest(t *testing.T) {
	gen := &fakeGen{gate: make(chan struct{})}
	h := newHarness(t, gen, Options{MaxPending: 2})

	h.c.HandleUtterance("one", SourceSpeech)
	for _, text := range []string{"two", "three", "four"} {
		h.c.HandleUtterance(text, SourceSpeech)
	}
	if fmt.Sprint(h.c.pending) != "[three four]" {
		t.Errorf("pending = %v, want [three four]", h.c.pending)
	}

	gen.gate <- struct{}{}
	h.step(t)
	h.c.HandleFlushSent(h.speaker.lastTag())
	gen.gate <- struct{}{}
	h.step(t)

	if calls := gen.Calls(); fmt.Sprint(calls) != "[one three]" {
		t.Errorf("calls = %v, want [one three]", calls)
	}
}

func TestCoordinator_BargeInIgnore(t *testing.T) {
	gen := &fakeGen{}
	h := newHarness(t, gen, Options{BargeIn: BargeInIgnore})

	h.c.HandleUtterance("first", SourceSpeech)
	h.step(t)
	h.expectState(t, Speaking)

	h.c.HandleUtterance("interrupting", SourceSpeech)
	h.expectState(t, Speaking)
	if h.speaker.clears != 0 {
		t.Error("ignore policy must not clear synthesis")
	}
	if len(gen.Calls()) != 1 {
		t.Errorf("expected no new completion, got %v", gen.Calls())
	}
}

func TestCoordinator_BargeInPreempt(t *testing.T) {
	gen := &fakeGen{}
	h := newHarness(t, gen, Options{BargeIn: BargeInPreempt})

	h.c.HandleUtterance("first", SourceSpeech)
	h.step(t)
	oldTag := h.speaker.lastTag()

	h.c.HandleUtterance("wait, actually", SourceSpeech)
	h.expectState(t, Thinking)
	if h.speaker.clears != 1 {
		t.Errorf("expected synthesis to be cleared once, got %d", h.speaker.clears)
	}

	// The preempted turn's flush must not end the new turn.
	h.c.HandleFlushSent(oldTag)
	h.expectState(t, Thinking)

	h.step(t)
	h.expectState(t, Speaking)
	if h.speaker.spoken[len(h.speaker.spoken)-1] != "reply to wait, actually" {
		t.Errorf("unexpected synthesis %v", h.speaker.spoken)
	}

	want := []string{"idle>listening", "listening>thinking", "thinking>speaking", "speaking>listening", "listening>thinking", "thinking>speaking"}
	if fmt.Sprint(h.transitions) != fmt.Sprint(want) {
		t.Errorf("transitions = %v, want %v", h.transitions, want)
	}
}

func TestCoordinator_SynthesisUnavailableStillResponds(t *testing.T) {
	h := newHarness(t, &fakeGen{}, Options{SpeakTimeout: 20 * time.Millisecond})
	h.speaker.unavailable = true

	h.c.HandleUtterance("hello", SourceText)
	h.step(t)

	if len(h.sink.responses) != 1 {
		t.Errorf("expected ai_response without audio, got %v", h.sink.responses)
	}
	h.expectState(t, Speaking)

	// Synthesis never returns: the speak timeout ends the turn.
	h.step(t)
	h.expectState(t, Listening)
	if len(h.speaker.spoken) != 0 {
		t.Errorf("spoken = %v, want none", h.speaker.spoken)
	}
}

func TestCoordinator_ReplySpokenAfterSynthesisReturns(t *testing.T) {
	h := newHarness(t, &fakeGen{}, Options{SpeakTimeout: time.Minute})
	h.speaker.unavailable = true

	h.c.HandleUtterance("hello", SourceText)
	h.step(t)
	h.expectState(t, Speaking)

	h.speaker.unavailable = false
	h.c.HandleSynthesisAvailable()
	if len(h.speaker.spoken) != 1 || h.speaker.spoken[0] != "reply to hello" {
		t.Fatalf("spoken = %v, want the reply once", h.speaker.spoken)
	}

	// A second reconnect does not speak the reply again.
	h.c.HandleSynthesisAvailable()
	if len(h.speaker.spoken) != 1 {
		t.Errorf("spoken = %v, want a single retry", h.speaker.spoken)
	}

	h.c.HandleFlushSent(h.speaker.lastTag())
	h.expectState(t, Listening)
	if len(h.sink.responses) != 1 {
		t.Errorf("responses = %v, want one", h.sink.responses)
	}
}

func TestCoordinator_ReplyRetriedOnce(t *testing.T) {
	h := newHarness(t, &fakeGen{}, Options{SpeakTimeout: time.Minute})
	h.speaker.unavailable = true

	h.c.HandleUtterance("hello", SourceText)
	h.step(t)
	h.expectState(t, Speaking)

	// The retry fails too: the turn ends without audio.
	h.c.HandleSynthesisAvailable()
	h.expectState(t, Listening)

	h.speaker.unavailable = false
	h.c.HandleSynthesisAvailable()
	if len(h.speaker.spoken) != 0 {
		t.Errorf("spoken = %v, want none", h.speaker.spoken)
	}
}

func TestCoordinator_BargeInDiscardsRetry(t *testing.T) {
	h := newHarness(t, &fakeGen{}, Options{SpeakTimeout: time.Minute})
	h.speaker.unavailable = true

	h.c.HandleUtterance("hello", SourceText)
	h.step(t)
	h.expectState(t, Speaking)

	h.c.HandleUtterance("wait", SourceSpeech)
	h.expectState(t, Thinking)
	h.step(t)

	h.speaker.unavailable = false
	h.c.HandleSynthesisAvailable()
	if len(h.speaker.spoken) != 1 || h.speaker.spoken[0] != "reply to wait" {
		t.Errorf("spoken = %v, want only the newer reply", h.speaker.spoken)
	}
}

func TestCoordinator_SpeakTimeout(t *testing.T) {
	h := newHarness(t, &fakeGen{}, Options{SpeakTimeout: 20 * time.Millisecond})

	h.c.HandleUtterance("hello", SourceSpeech)
	h.step(t)
	h.expectState(t, Speaking)

	h.step(t)
	h.expectState(t, Listening)
}

func TestCoordinator_EndCallAfterGrace(t *testing.T) {
	gen := &fakeGen{result: func(string) completion.Result {
		return completion.Result{Text: "Goodbye!", ShouldEndCall: true}
	}}
	h := newHarness(t, gen, Options{EndCallGrace: 50 * time.Millisecond, SpeakTimeout: time.Minute})

	start := time.Now()
	h.c.HandleUtterance("goodbye", SourceText)
	h.step(t)
	if h.sink.endCalls != 0 {
		t.Fatal("call must not end immediately")
	}
	if h.sink.responses[0] != "Goodbye!" || len(h.speaker.spoken) != 1 {
		t.Fatal("farewell must be delivered before ending")
	}

	h.c.HandleUtterance("are you there", SourceSpeech)
	if len(gen.Calls()) != 1 {
		t.Error("utterances after end of call must be dropped")
	}

	h.step(t)
	if h.sink.endCalls != 1 {
		t.Fatalf("expected EndCall after grace, got %d", h.sink.endCalls)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("EndCall fired after %v, before the grace delay", elapsed)
	}
}

func TestCoordinator_Transfer(t *testing.T) {
	gen := &fakeGen{result: func(string) completion.Result {
		return completion.Result{Text: "Transferring you now.", ShouldTransfer: true}
	}}
	h := newHarness(t, gen, Options{})

	h.c.HandleUtterance("get me a human", SourceText)
	h.step(t)
	if h.sink.transfers != 1 {
		t.Errorf("expected transfer request, got %d", h.sink.transfers)
	}
}

func TestCoordinator_CompletionAfterCloseDiscarded(t *testing.T) {
	gen := &fakeGen{gate: make(chan struct{})}
	h := newHarness(t, gen, Options{})

	h.c.HandleUtterance("hello", SourceSpeech)
	h.cancel()
	h.c.Close()

	h.expectState(t, Closed)
	select {
	case ev := <-h.c.Events():
		h.c.Handle(ev)
	default:
	}
	if len(h.sink.responses) != 0 || len(h.speaker.spoken) != 0 {
		t.Error("completion resolved after teardown must be discarded")
	}
}

func TestCoordinator_Greeting(t *testing.T) {
	h := newHarness(t, &fakeGen{}, Options{})

	h.c.SpeakGreeting("Hi, this is Ava.")
	h.expectState(t, Listening)
	if len(h.speaker.spoken) != 1 || h.sink.responses[0] != "Hi, this is Ava." {
		t.Fatalf("expected greeting spoken and delivered, got %v / %v", h.speaker.spoken, h.sink.responses)
	}
	if hist := h.c.History(); len(hist) != 1 || hist[0].Role != models.RoleAssistant {
		t.Errorf("expected greeting in history, got %+v", hist)
	}

	// A greeting flush does not end any turn.
	h.c.HandleFlushSent(h.speaker.lastTag())
	h.expectState(t, Listening)

	h.c.HandleUtterance("hello", SourceSpeech)
	h.step(t)
	h.c.HandleFlushSent(h.speaker.lastTag())
	h.c.SpeakGreeting("Hi again")
	if len(h.speaker.spoken) != 2 {
		t.Errorf("greeting must not run after the first turn, spoken %v", h.speaker.spoken)
	}
}

func TestCoordinator_BlankUtteranceIgnored(t *testing.T) {
	gen := &fakeGen{}
	h := newHarness(t, gen, Options{})
	h.c.HandleUtterance("   ", SourceText)
	h.expectState(t, Listening)
	if len(gen.Calls()) != 0 {
		t.Error("blank utterance must not start a turn")
	}
}
