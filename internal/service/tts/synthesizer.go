// Package tts drives a streaming text-to-speech upstream for one session.
package tts

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"ai-voice-relay-service/internal/observability/metrics"
	"ai-voice-relay-service/internal/upstream"
)

var (
	// ErrUnavailable is returned by Speak while the upstream is not connected.
	ErrUnavailable = errors.New("synthesis unavailable")
	// ErrEmptyText is returned by Speak for blank text.
	ErrEmptyText = errors.New("nothing to synthesize")
)

// Sender is the outbound half of an upstream connection.
type Sender interface {
	Send(msg upstream.Message) bool
	// Reconnect drops the connection so that a fresh one is dialed.
	Reconnect()
}

// UpdateKind discriminates synthesizer output.
type UpdateKind int

const (
	// UpdateAudio carries one audio chunk, in receipt order.
	UpdateAudio UpdateKind = iota
	// UpdateFlushSent reports the flush for Tag was written upstream.
	UpdateFlushSent
	// UpdateAvailability reports whether synthesis is available.
	UpdateAvailability
	// UpdateFlushed reports the upstream finished synthesizing flushed text.
	UpdateFlushed
	// UpdateGreeting asks the owner to speak the greeting.
	UpdateGreeting
)

// Update is produced by Handle for the owning session.
type Update struct {
	Kind      UpdateKind
	Audio     []byte
	Tag       string
	Text      string
	Available bool
}

// Synthesizer wraps one synthesis upstream. Like the transcription adapter
// it is driven by the session event loop and is not safe for concurrent use.
type Synthesizer struct {
	sessionId string
	provider  string
	sender    Sender
	greeting  string
	logger    zerolog.Logger
	metrics   *metrics.Metrics

	available bool
	spoken    bool
	greeted   bool
	flushSeq  int
}

// NewSynthesizer creates a synthesizer that speaks greeting, if non-empty,
// the first time the upstream connects.
func NewSynthesizer(sessionId, provider string, sender Sender, greeting string, logger zerolog.Logger) *Synthesizer {
	return &Synthesizer{
		sessionId: sessionId,
		provider:  provider,
		sender:    sender,
		greeting:  strings.TrimSpace(greeting),
		logger:    logger.With().Str("component", "tts-synthesizer").Logger(),
		metrics:   metrics.DefaultMetrics,
	}
}

// Available reports whether the upstream is connected.
func (s *Synthesizer) Available() bool {
	return s.available
}

// Speak cancels queued synthesis, then queues text followed by a flush. The
// returned tag identifies the flush in a later UpdateFlushSent.
func (s *Synthesizer) Speak(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyText
	}
	if !s.available {
		return "", ErrUnavailable
	}

	speak, err := json.Marshal(speakMessage{Type: "Speak", Text: text})
	if err != nil {
		return "", fmt.Errorf("encode speak: %w", err)
	}

	s.flushSeq++
	tag := fmt.Sprintf("flush-%d", s.flushSeq)
	flush := upstream.Text(flushMessage)
	flush.Tag = tag

	for _, msg := range []upstream.Message{upstream.Text(clearMessage), upstream.Text(speak), flush} {
		if !s.sender.Send(msg) {
			s.metrics.RecordTTSError(s.provider, "send")
			return "", ErrUnavailable
		}
	}
	s.spoken = true

	s.logger.Debug().Str("tag", tag).Int("chars", len(text)).Msg("Synthesis queued")
	return tag, nil
}

// Clear cancels any queued synthesis. It reports whether the control
// message was accepted.
func (s *Synthesizer) Clear() bool {
	if !s.available {
		return false
	}
	return s.sender.Send(upstream.Text(clearMessage))
}

// Handle processes one supervisor event and returns the resulting updates.
func (s *Synthesizer) Handle(ev upstream.Event) []Update {
	switch ev.Kind {
	case upstream.EventState:
		return s.handleState(ev.Status)
	case upstream.EventSent:
		return []Update{{Kind: UpdateFlushSent, Tag: ev.Message.Tag}}
	case upstream.EventMessage:
		return s.handleMessage(ev.Message)
	default:
		return nil
	}
}

func (s *Synthesizer) handleState(st upstream.Status) []Update {
	available := st.State == upstream.StateConnected
	if available == s.available {
		return nil
	}
	s.available = available
	s.logger.Info().
		Bool("ttsAvailable", available).
		Str("state", st.State.String()).
		Msg("Synthesis availability changed")

	updates := []Update{{Kind: UpdateAvailability, Available: available}}
	if available && s.greeting != "" && !s.greeted && !s.spoken {
		s.greeted = true
		updates = append(updates, Update{Kind: UpdateGreeting, Text: s.greeting})
	}
	return updates
}

func (s *Synthesizer) handleMessage(msg upstream.Message) []Update {
	if msg.Binary {
		if len(msg.Data) == 0 {
			return nil
		}
		return []Update{{Kind: UpdateAudio, Audio: msg.Data}}
	}

	var m controlMessage
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		s.metrics.RecordTTSError(s.provider, "parse")
		s.logger.Warn().Err(err).Msg("Dropping malformed synthesis message")
		return nil
	}

	switch m.Type {
	case "Flushed":
		return []Update{{Kind: UpdateFlushed}}
	case "Warning":
		s.logger.Warn().Str("description", m.describe()).Msg("Synthesis upstream warning")
	case "Error":
		s.metrics.RecordTTSError(s.provider, "upstream")
		s.logger.Error().Str("description", m.describe()).Msg("Synthesis upstream error, reconnecting")
		s.sender.Reconnect()
		if s.available {
			// Nothing more is sent until the next connection is up.
			s.available = false
			return []Update{{Kind: UpdateAvailability, Available: false}}
		}
	}
	return nil
}
