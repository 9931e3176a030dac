package turn

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ai-voice-relay-service/internal/models"
	"ai-voice-relay-service/internal/observability/metrics"
	"ai-voice-relay-service/internal/service/completion"
)

// BargeIn decides what happens to an utterance that arrives while the
// assistant is speaking.
type BargeIn string

const (
	// BargeInIgnore drops the utterance.
	BargeInIgnore BargeIn = "ignore"
	// BargeInPreempt clears synthesis and starts a new turn.
	BargeInPreempt BargeIn = "preempt"
)

// ParseBargeIn maps a configuration value to a policy, defaulting to preempt.
func ParseBargeIn(s string) BargeIn {
	if strings.EqualFold(strings.TrimSpace(s), string(BargeInIgnore)) {
		return BargeInIgnore
	}
	return BargeInPreempt
}

// Source identifies where an utterance came from.
type Source string

const (
	SourceSpeech Source = "speech"
	SourceText   Source = "text"
)

// Generator produces the reply for an utterance.
type Generator interface {
	Generate(ctx context.Context, utterance string, history []models.ConversationMessage, agent models.AgentConfig) (completion.Result, error)
}

// Speaker is the synthesis side of a session.
type Speaker interface {
	Speak(text string) (string, error)
	Clear() bool
}

// Sink receives what the coordinator decides to surface.
type Sink interface {
	// AIResponse delivers assistant text to the client.
	AIResponse(text string)
	// Record persists one conversation line.
	Record(role models.Role, text string)
	// TransferRequested reports the assistant asked for a human.
	TransferRequested()
	// EndCall asks for session termination once the grace delay elapsed.
	EndCall()
}

// Options configures a coordinator.
type Options struct {
	BargeIn      BargeIn
	MaxPending   int
	HistoryLimit int
	SpeakTimeout time.Duration
	EndCallGrace time.Duration
	// OnTransition observes every accepted state change.
	OnTransition func(from, to State)
}

type eventKind int

const (
	eventCompletion eventKind = iota
	eventSpeakTimeout
	eventEndCall
)

// Event is produced by the coordinator's background work and must be passed
// back to Handle on the session goroutine.
type Event struct {
	kind   eventKind
	turnID uint64
	result completion.Result
	err    error
}

// Coordinator owns the turn state of one session. All methods must be called
// from the session goroutine; background completions and timers report back
// through Events.
type Coordinator struct {
	ctx     context.Context
	agent   models.AgentConfig
	gen     Generator
	speaker Speaker
	sink    Sink
	opts    Options
	logger  zerolog.Logger
	metrics *metrics.Metrics

	machine *Machine
	history *History
	events  chan Event
	pending []string

	turnID     uint64
	speakTag   string
	retryText  string
	speakTimer *time.Timer
	endTimer   *time.Timer
	ending     bool
	wg         sync.WaitGroup
}

// NewCoordinator creates a coordinator in Idle. ctx bounds background
// completions and must be canceled before Close.
func NewCoordinator(ctx context.Context, agent models.AgentConfig, gen Generator, speaker Speaker, sink Sink, opts Options, logger zerolog.Logger) *Coordinator {
	if opts.MaxPending <= 0 {
		opts.MaxPending = 4
	}
	if opts.SpeakTimeout <= 0 {
		opts.SpeakTimeout = 5 * time.Second
	}
	if opts.BargeIn == "" {
		opts.BargeIn = BargeInPreempt
	}

	c := &Coordinator{
		ctx:     ctx,
		agent:   agent,
		gen:     gen,
		speaker: speaker,
		sink:    sink,
		opts:    opts,
		logger:  logger.With().Str("component", "turn").Logger(),
		metrics: metrics.DefaultMetrics,
		history: NewHistory(opts.HistoryLimit),
		events:  make(chan Event, 16),
	}
	c.machine = NewMachine(func(from, to State) {
		c.metrics.RecordTurnTransition(from.String(), to.String())
		c.logger.Debug().Str("from", from.String()).Str("to", to.String()).Msg("Turn transition")
		if opts.OnTransition != nil {
			opts.OnTransition(from, to)
		}
	})
	return c
}

// Events delivers background results.
func (c *Coordinator) Events() <-chan Event {
	return c.events
}

// State returns the current turn state.
func (c *Coordinator) State() State {
	return c.machine.State()
}

// History returns a copy of the conversation so far.
func (c *Coordinator) History() []models.ConversationMessage {
	return c.history.Messages()
}

// Start moves from Idle to Listening.
func (c *Coordinator) Start() error {
	return c.machine.Transition(Listening)
}

// HandleUtterance starts a turn for text, queues it, or drops it, depending
// on the current state.
func (c *Coordinator) HandleUtterance(text string, source Source) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if c.ending {
		c.drop(text, source, "ending")
		return
	}

	switch c.machine.State() {
	case Listening:
		c.begin(text, source)
	case Thinking:
		c.enqueue(text, source)
	case Speaking:
		if c.opts.BargeIn == BargeInIgnore {
			c.drop(text, source, "barge_in_ignored")
			return
		}
		c.logger.Info().Str("source", string(source)).Msg("Barge-in, preempting synthesis")
		c.speaker.Clear()
		if err := c.finishSpeaking(false); err != nil {
			c.logger.Error().Err(err).Msg("Preempt failed")
			return
		}
		c.begin(text, source)
	default:
		c.drop(text, source, "state_"+c.machine.State().String())
	}
}

// SpeakGreeting speaks the agent's first message. It only runs before the
// first turn and does not change state.
func (c *Coordinator) SpeakGreeting(text string) {
	text = strings.TrimSpace(text)
	if text == "" || c.turnID != 0 || c.machine.State() != Listening {
		return
	}
	c.history.Append(models.ConversationMessage{Role: models.RoleAssistant, Text: text, Timestamp: time.Now()})
	c.sink.AIResponse(text)
	c.sink.Record(models.RoleAssistant, text)
	if _, err := c.speaker.Speak(text); err != nil {
		c.logger.Warn().Err(err).Msg("Greeting not synthesized")
	}
}

// HandleFlushSent completes the current turn once its flush was written.
func (c *Coordinator) HandleFlushSent(tag string) {
	if tag == "" || tag != c.speakTag || c.machine.State() != Speaking {
		return
	}
	if err := c.finishSpeaking(true); err != nil {
		c.logger.Error().Err(err).Msg("Finish speaking failed")
	}
}

// HandleSynthesisAvailable retries a reply that could not be spoken because
// synthesis was down. Each reply is retried once; the speak timeout still
// bounds the whole turn.
func (c *Coordinator) HandleSynthesisAvailable() {
	if c.retryText == "" || c.machine.State() != Speaking {
		return
	}
	text := c.retryText
	c.retryText = ""

	tag, err := c.speaker.Speak(text)
	if err != nil {
		c.logger.Warn().Err(err).Uint64("turn", c.turnID).Msg("Reply retry failed, delivered without audio")
		if err := c.finishSpeaking(true); err != nil {
			c.logger.Error().Err(err).Msg("Finish speaking failed")
		}
		return
	}
	c.logger.Info().Uint64("turn", c.turnID).Msg("Reply synthesized after reconnect")
	c.speakTag = tag
	c.startSpeakTimer(c.turnID)
}

// Handle applies a background event.
func (c *Coordinator) Handle(ev Event) {
	switch ev.kind {
	case eventCompletion:
		c.handleCompletion(ev)
	case eventSpeakTimeout:
		if ev.turnID != c.turnID || c.machine.State() != Speaking {
			return
		}
		if c.retryText != "" {
			c.logger.Warn().Uint64("turn", ev.turnID).Msg("Synthesis did not return in time, reply delivered without audio")
		} else {
			c.logger.Warn().Uint64("turn", ev.turnID).Msg("Flush not confirmed in time, resuming listening")
		}
		if err := c.finishSpeaking(true); err != nil {
			c.logger.Error().Err(err).Msg("Finish speaking failed")
		}
	case eventEndCall:
		if c.machine.State() != Closed {
			c.sink.EndCall()
		}
	}
}

// Close stops timers, discards pending work and waits for background
// completions. The context given to NewCoordinator must already be canceled.
func (c *Coordinator) Close() {
	if c.machine.State() != Closed {
		_ = c.machine.Transition(Closed)
	}
	c.stopSpeakTimer()
	if c.endTimer != nil {
		c.endTimer.Stop()
	}
	if n := len(c.pending); n > 0 {
		c.logger.Debug().Int("pending", n).Msg("Discarding queued utterances")
		c.pending = nil
	}
	c.wg.Wait()
}

func (c *Coordinator) begin(text string, source Source) {
	if err := c.machine.Transition(Thinking); err != nil {
		c.logger.Error().Err(err).Msg("Cannot start turn")
		return
	}
	c.turnID++
	id := c.turnID
	snapshot := c.history.Messages()

	c.history.Append(models.ConversationMessage{Role: models.RoleUser, Text: text, Timestamp: time.Now()})
	c.sink.Record(models.RoleUser, text)
	c.logger.Info().Uint64("turn", id).Str("source", string(source)).Msg("Turn started")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		res, err := c.gen.Generate(c.ctx, text, snapshot, c.agent)
		c.post(Event{kind: eventCompletion, turnID: id, result: res, err: err})
	}()
}

func (c *Coordinator) handleCompletion(ev Event) {
	if ev.turnID != c.turnID || c.machine.State() != Thinking {
		c.logger.Debug().Uint64("turn", ev.turnID).Msg("Discarding stale completion")
		return
	}

	res := ev.result
	if ev.err != nil {
		// Only possible if another caller shares the generator.
		c.logger.Error().Err(ev.err).Msg("Completion rejected")
		res = completion.Result{Text: completion.DefaultFallbackText, Fallback: true}
	}

	c.history.Append(models.ConversationMessage{Role: models.RoleAssistant, Text: res.Text, Timestamp: time.Now()})
	c.sink.AIResponse(res.Text)
	c.sink.Record(models.RoleAssistant, res.Text)

	if res.ShouldTransfer {
		c.sink.TransferRequested()
	}
	if res.ShouldEndCall {
		c.scheduleEnd()
	}

	if err := c.machine.Transition(Speaking); err != nil {
		c.logger.Error().Err(err).Msg("Cannot start speaking")
		return
	}
	tag, err := c.speaker.Speak(res.Text)
	if err != nil {
		// Wait in Speaking for synthesis to come back, up to the speak timeout.
		c.logger.Warn().Err(err).Uint64("turn", c.turnID).Msg("Reply not synthesized, waiting for synthesis")
		c.retryText = res.Text
		c.startSpeakTimer(c.turnID)
		return
	}
	c.speakTag = tag
	c.startSpeakTimer(c.turnID)
}

// finishSpeaking returns to Listening and, if next is set, starts the oldest
// queued utterance.
func (c *Coordinator) finishSpeaking(next bool) error {
	c.stopSpeakTimer()
	c.speakTag = ""
	c.retryText = ""
	if err := c.machine.Transition(Listening); err != nil {
		return fmt.Errorf("finish speaking: %w", err)
	}
	if next && !c.ending && len(c.pending) > 0 {
		text := c.pending[0]
		c.pending = c.pending[1:]
		c.begin(text, SourceSpeech)
	}
	return nil
}

func (c *Coordinator) enqueue(text string, source Source) {
	if len(c.pending) >= c.opts.MaxPending {
		c.pending = c.pending[1:]
		c.metrics.RecordUtteranceDropped("queue_full")
		c.logger.Warn().Int("maxPending", c.opts.MaxPending).Msg("Pending queue full, dropped oldest utterance")
	}
	c.pending = append(c.pending, text)
	c.metrics.RecordUtteranceQueued()
	c.logger.Debug().Str("source", string(source)).Int("pending", len(c.pending)).Msg("Utterance queued")
}

func (c *Coordinator) drop(text string, source Source, reason string) {
	c.metrics.RecordUtteranceDropped(reason)
	c.logger.Info().Str("source", string(source)).Str("reason", reason).Int("chars", len(text)).Msg("Utterance dropped")
}

func (c *Coordinator) scheduleEnd() {
	if c.ending {
		return
	}
	c.ending = true
	c.pending = nil
	c.logger.Info().Dur("grace", c.opts.EndCallGrace).Msg("End of call requested")
	c.endTimer = time.AfterFunc(c.opts.EndCallGrace, func() {
		c.post(Event{kind: eventEndCall})
	})
}

func (c *Coordinator) startSpeakTimer(id uint64) {
	c.stopSpeakTimer()
	c.speakTimer = time.AfterFunc(c.opts.SpeakTimeout, func() {
		c.post(Event{kind: eventSpeakTimeout, turnID: id})
	})
}

func (c *Coordinator) stopSpeakTimer() {
	if c.speakTimer != nil {
		c.speakTimer.Stop()
		c.speakTimer = nil
	}
}

func (c *Coordinator) post(ev Event) {
	select {
	case c.events <- ev:
	case <-c.ctx.Done():
	}
}
