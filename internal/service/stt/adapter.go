// Package stt adapts a streaming speech-to-text upstream into finalized
// utterances for the turn coordinator.
package stt

import (
	"time"

	"github.com/rs/zerolog"

	"ai-voice-relay-service/internal/observability/metrics"
	"ai-voice-relay-service/internal/service/audio"
	"ai-voice-relay-service/internal/service/segment"
	"ai-voice-relay-service/internal/upstream"
)

// TranscriptEvent is one transcript produced by the adapter.
type TranscriptEvent struct {
	Text          string
	Confidence    float64
	IsFinal       bool
	IsSpeechFinal bool
	Timestamp     time.Time
}

// ResultKind discriminates decoded upstream results.
type ResultKind int

const (
	ResultTranscript ResultKind = iota
	ResultUtteranceEnd
	ResultSpeechStarted
)

// Result is one decoded upstream message.
type Result struct {
	Kind       ResultKind
	Transcript TranscriptEvent
}

// Decoder turns raw upstream messages into results. Messages that carry
// nothing of interest decode to no results and no error.
type Decoder interface {
	Decode(msg upstream.Message) ([]Result, error)
}

// Sender is the outbound half of an upstream connection.
type Sender interface {
	Send(msg upstream.Message) bool
}

// UpdateKind discriminates adapter output.
type UpdateKind int

const (
	// UpdateInterim is a live caption; it never finalizes a turn.
	UpdateInterim UpdateKind = iota
	// UpdateUtterance is a finalized utterance, emitted exactly once.
	UpdateUtterance
	// UpdateAvailability reports whether transcription is available.
	UpdateAvailability
	// UpdateSpeechStarted reports the caller started speaking.
	UpdateSpeechStarted
)

// Update is produced by Handle for the owning session.
type Update struct {
	Kind        UpdateKind
	Transcript  TranscriptEvent
	UtteranceID string
	Available   bool
}

// Adapter interprets one transcription upstream for one session. It is
// driven by the session's event loop and is not safe for concurrent use,
// except for SendAudio which only touches the sender.
type Adapter struct {
	sessionId string
	provider  string
	sender    Sender
	decoder   Decoder
	logger    zerolog.Logger
	metrics   *metrics.Metrics

	gen       *segment.Generator
	lifecycle *segment.Lifecycle
	buffer    segment.Buffer
	available bool
}

// NewAdapter creates an adapter writing audio to sender and decoding
// upstream messages with decoder.
func NewAdapter(sessionId, provider string, sender Sender, decoder Decoder, logger zerolog.Logger) *Adapter {
	gen := segment.New()
	return &Adapter{
		sessionId: sessionId,
		provider:  provider,
		sender:    sender,
		decoder:   decoder,
		logger:    logger.With().Str("component", "stt-adapter").Logger(),
		metrics:   metrics.DefaultMetrics,
		gen:       gen,
		lifecycle: segment.NewLifecycle(gen.Next(sessionId)),
	}
}

// SendAudio forwards a caller frame verbatim. Frames offered while the
// upstream is not connected are dropped and false is returned.
func (a *Adapter) SendAudio(f audio.Frame) bool {
	return a.sender.Send(upstream.Binary(f.Payload))
}

// Available reports whether the upstream is connected.
func (a *Adapter) Available() bool {
	return a.available
}

// UtteranceId returns the ID of the utterance currently being assembled.
func (a *Adapter) UtteranceId() string {
	return a.lifecycle.UtteranceId()
}

// Handle processes one supervisor event and returns the resulting updates.
func (a *Adapter) Handle(ev upstream.Event) []Update {
	switch ev.Kind {
	case upstream.EventState:
		return a.handleState(ev.Status)
	case upstream.EventMessage:
		return a.handleMessage(ev.Message)
	default:
		return nil
	}
}

func (a *Adapter) handleState(st upstream.Status) []Update {
	available := st.State == upstream.StateConnected
	if available == a.available {
		return nil
	}
	a.available = available

	if !available {
		a.abandon("upstream_disconnect")
	}
	a.logger.Info().
		Bool("sttAvailable", available).
		Str("state", st.State.String()).
		Msg("Transcription availability changed")
	return []Update{{Kind: UpdateAvailability, Available: available}}
}

func (a *Adapter) handleMessage(msg upstream.Message) []Update {
	results, err := a.decoder.Decode(msg)
	if err != nil {
		a.metrics.RecordSTTError(a.provider, "parse")
		a.logger.Warn().Err(err).Int("bytes", len(msg.Data)).Msg("Dropping malformed transcription message")
		return nil
	}

	var updates []Update
	for _, r := range results {
		switch r.Kind {
		case ResultTranscript:
			updates = append(updates, a.transcript(r.Transcript)...)
		case ResultUtteranceEnd:
			if u, ok := a.finalize(); ok {
				updates = append(updates, u)
			}
		case ResultSpeechStarted:
			updates = append(updates, Update{Kind: UpdateSpeechStarted})
		}
	}
	return updates
}

func (a *Adapter) transcript(ev TranscriptEvent) []Update {
	if err := a.lifecycle.Observe(); err != nil {
		a.logger.Debug().Err(err).Str("utteranceId", a.lifecycle.UtteranceId()).Msg("Transcript ignored")
		return nil
	}

	var updates []Update
	if ev.Text != "" {
		var caption string
		if ev.IsFinal {
			a.metrics.RecordFinalTranscript()
			caption = a.buffer.Commit(ev.Text, ev.Confidence)
		} else {
			a.metrics.RecordInterimTranscript()
			caption = a.buffer.Interim(ev.Text, ev.Confidence)
		}
		updates = append(updates, Update{
			Kind: UpdateInterim,
			Transcript: TranscriptEvent{
				Text:       caption,
				Confidence: ev.Confidence,
				Timestamp:  ev.Timestamp,
			},
			UtteranceID: a.lifecycle.UtteranceId(),
		})
	}

	if ev.IsSpeechFinal {
		if u, ok := a.finalize(); ok {
			updates = append(updates, u)
		}
	}
	return updates
}

// finalize hands the longest buffered transcript over exactly once and opens
// the next utterance. An empty buffer finalizes nothing.
func (a *Adapter) finalize() (Update, bool) {
	if a.buffer.Empty() {
		return Update{}, false
	}
	utteranceId := a.lifecycle.UtteranceId()
	if err := a.lifecycle.Finalize(); err != nil {
		a.logger.Debug().Err(err).Str("utteranceId", utteranceId).Msg("Finalize ignored")
		return Update{}, false
	}

	u := Update{
		Kind: UpdateUtterance,
		Transcript: TranscriptEvent{
			Text:          a.buffer.Longest(),
			Confidence:    a.buffer.Confidence(),
			IsFinal:       true,
			IsSpeechFinal: true,
			Timestamp:     time.Now(),
		},
		UtteranceID: utteranceId,
	}
	a.metrics.RecordUtterance()
	a.logger.Debug().
		Str("utteranceId", utteranceId).
		Str("text", u.Transcript.Text).
		Msg("Utterance finalized")

	a.next()
	return u, true
}

// abandon drops an in-progress utterance without finalizing it.
func (a *Adapter) abandon(reason string) {
	if a.buffer.Empty() {
		return
	}
	utteranceId := a.lifecycle.UtteranceId()
	if a.lifecycle.Drop() {
		a.metrics.RecordUtteranceAbandoned(reason)
		a.logger.Info().
			Str("utteranceId", utteranceId).
			Str("reason", reason).
			Str("partial", a.buffer.Longest()).
			Msg("Utterance dropped")
	}
	a.next()
}

func (a *Adapter) next() {
	a.lifecycle.Close()
	a.buffer.Reset()
	a.lifecycle.Reset(a.gen.Next(a.sessionId))
}
