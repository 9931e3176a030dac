// Package audio provides caller audio framing for the relay.
package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"ai-voice-relay-service/internal/observability/metrics"
)

// ErrEmptyPayload is returned for a media frame without audio.
var ErrEmptyPayload = errors.New("empty audio payload")

// Frame is one chunk of caller audio. Seq increases monotonically in arrival
// order within a session.
type Frame struct {
	Seq        uint64
	Payload    []byte
	ReceivedAt time.Time
}

// Sequencer stamps frames of a single session. It is not safe for concurrent
// use; a session owns exactly one.
type Sequencer struct {
	next    uint64
	bytes   int64
	metrics *metrics.Metrics
}

// NewSequencer creates a sequencer starting at 1.
func NewSequencer() *Sequencer {
	return &Sequencer{next: 1, metrics: metrics.DefaultMetrics}
}

// Next wraps payload in the next frame.
func (s *Sequencer) Next(payload []byte) Frame {
	f := Frame{Seq: s.next, Payload: payload, ReceivedAt: time.Now()}
	s.next++
	s.bytes += int64(len(payload))
	s.metrics.RecordAudioReceived(len(payload))
	return f
}

// Frames returns how many frames have been stamped.
func (s *Sequencer) Frames() uint64 {
	return s.next - 1
}

// Bytes returns the total payload size stamped.
func (s *Sequencer) Bytes() int64 {
	return s.bytes
}

// DecodePayload decodes the base64 audio carried in a media frame.
func DecodePayload(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, ErrEmptyPayload
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode audio payload: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyPayload
	}
	return data, nil
}

// EncodePayload encodes audio for an outbound frame.
func EncodePayload(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}
