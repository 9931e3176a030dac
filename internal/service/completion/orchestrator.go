// Package completion turns a finalized user utterance into the assistant's
// reply. It enforces one outstanding call per session and never surfaces a
// backend failure to the caller: failures resolve to a fixed fallback reply.
package completion

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"ai-voice-relay-service/internal/models"
	"ai-voice-relay-service/internal/observability/metrics"
)

// ErrInFlight is returned when Generate is called while a previous call for
// the same orchestrator has not resolved.
var ErrInFlight = errors.New("completion already in flight")

const (
	DefaultFallbackText = "I'm having trouble processing that right now. Could you say it again?"
	DefaultEndCallText  = "Thank you for calling. Goodbye!"
	DefaultTransferText = "Please hold while I transfer you."
)

// Result is the resolved reply for one utterance.
type Result struct {
	Text           string
	ShouldTransfer bool
	ShouldEndCall  bool
	// Fallback is set when Text is the fallback reply.
	Fallback bool
}

// Prompt is what a backend receives.
type Prompt struct {
	Model        string
	SystemPrompt string
	Messages     []models.ConversationMessage
	Temperature  float32
	MaxTokens    int
}

// Reply is what a backend returns.
type Reply struct {
	Text     string
	EndCall  bool
	Transfer bool
}

// Backend calls a completion service.
type Backend interface {
	Complete(ctx context.Context, p Prompt) (Reply, error)
}

// Options bound each call.
type Options struct {
	Timeout          time.Duration
	HistoryMessages  int
	MaxResponseChars int
	FallbackText     string
	DefaultModel     string
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 12 * time.Second
	}
	if o.HistoryMessages <= 0 {
		o.HistoryMessages = 10
	}
	if o.MaxResponseChars <= 0 {
		o.MaxResponseChars = 600
	}
	if strings.TrimSpace(o.FallbackText) == "" {
		o.FallbackText = DefaultFallbackText
	}
	return o
}

// Orchestrator serializes completion calls for one session.
type Orchestrator struct {
	backend  Backend
	opts     Options
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	inFlight atomic.Bool
}

// NewOrchestrator creates an orchestrator over backend.
func NewOrchestrator(backend Backend, opts Options, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		backend: backend,
		opts:    opts.withDefaults(),
		logger:  logger.With().Str("component", "completion").Logger(),
		metrics: metrics.DefaultMetrics,
	}
}

// InFlight reports whether a call is outstanding.
func (o *Orchestrator) InFlight() bool {
	return o.inFlight.Load()
}

// Generate asks the backend for a reply to utterance given the prior
// history. The only error it returns is ErrInFlight; every backend failure
// yields the fallback reply with both flags cleared.
func (o *Orchestrator) Generate(ctx context.Context, utterance string, history []models.ConversationMessage, agent models.AgentConfig) (Result, error) {
	if !o.inFlight.CompareAndSwap(false, true) {
		return Result{}, ErrInFlight
	}
	defer o.inFlight.Store(false)

	o.metrics.RecordCompletionStart()
	start := time.Now()

	callCtx, cancel := context.WithTimeout(ctx, o.opts.Timeout)
	defer cancel()

	reply, err := o.backend.Complete(callCtx, o.prompt(utterance, history, agent))
	latency := time.Since(start)

	if err != nil {
		reason := "error"
		switch {
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded):
			reason = "timeout"
		case errors.Is(err, context.Canceled):
			reason = "canceled"
		}
		o.metrics.RecordCompletionEnd(latency.Seconds(), reason)
		o.logger.Warn().Err(err).Str("reason", reason).Dur("latency", latency).Msg("Completion failed, using fallback")
		return o.fallback(), nil
	}

	text := strings.TrimSpace(reply.Text)
	if text == "" {
		switch {
		case reply.EndCall:
			text = DefaultEndCallText
		case reply.Transfer:
			text = DefaultTransferText
		default:
			o.metrics.RecordCompletionEnd(latency.Seconds(), "empty")
			o.logger.Warn().Dur("latency", latency).Msg("Completion returned no text, using fallback")
			return o.fallback(), nil
		}
	}

	o.metrics.RecordCompletionEnd(latency.Seconds(), "")
	o.logger.Debug().
		Dur("latency", latency).
		Bool("endCall", reply.EndCall).
		Bool("transfer", reply.Transfer).
		Msg("Completion resolved")

	return Result{
		Text:           Truncate(text, o.opts.MaxResponseChars),
		ShouldEndCall:  reply.EndCall,
		ShouldTransfer: reply.Transfer,
	}, nil
}

func (o *Orchestrator) fallback() Result {
	return Result{Text: o.opts.FallbackText, Fallback: true}
}

func (o *Orchestrator) prompt(utterance string, history []models.ConversationMessage, agent models.AgentConfig) Prompt {
	if n := o.opts.HistoryMessages; len(history) > n {
		history = history[len(history)-n:]
	}
	msgs := make([]models.ConversationMessage, 0, len(history)+1)
	msgs = append(msgs, history...)
	msgs = append(msgs, models.ConversationMessage{
		Role:      models.RoleUser,
		Text:      utterance,
		Timestamp: time.Now(),
	})

	model := agent.Model
	if model == "" {
		model = o.opts.DefaultModel
	}
	return Prompt{
		Model:        model,
		SystemPrompt: agent.SystemPrompt,
		Messages:     msgs,
		Temperature:  agent.Temperature,
		MaxTokens:    agent.MaxTokens,
	}
}

// Truncate caps s at limit runes, cutting at the last word boundary when one
// falls in the second half of the allowance.
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	all := []rune(s)
	runes := all[:limit]
	cut := limit
	if !unicode.IsSpace(all[limit]) {
		for i := limit - 1; i >= limit/2; i-- {
			if unicode.IsSpace(runes[i]) {
				cut = i
				break
			}
		}
	}
	return strings.TrimRightFunc(string(runes[:cut]), func(r rune) bool {
		return unicode.IsSpace(r) || r == ','
	})
}
