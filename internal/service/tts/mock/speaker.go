// Package mock simulates a streaming synthesis upstream. Text queued with
// Speak is turned into silent mu-law chunks when Flush arrives, followed by
// a Flushed acknowledgement.
package mock

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"ai-voice-relay-service/internal/upstream"
	upstreammock "ai-voice-relay-service/internal/upstream/mock"
)

const (
	// ChunkBytes is the size of each simulated chunk: 20ms of 8kHz mu-law.
	ChunkBytes = 160
	// CharsPerChunk controls how much audio each character of text produces.
	CharsPerChunk = 8
	// MaxChunks bounds the audio produced for a single flush.
	MaxChunks = 32

	muLawSilence = 0xFF
)

// Speaker holds per-connection synthesis state.
type Speaker struct {
	mu      sync.Mutex
	pending map[*upstreammock.Conn]*bytes.Buffer
	flushes map[*upstreammock.Conn]int
}

// New creates a speaker.
func New() *Speaker {
	return &Speaker{
		pending: make(map[*upstreammock.Conn]*bytes.Buffer),
		flushes: make(map[*upstreammock.Conn]int),
	}
}

// NewDialer returns an in-memory dialer driven by a new speaker.
func NewDialer() *upstreammock.Dialer {
	return upstreammock.NewDialer(New().Respond)
}

type control struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Respond is an upstreammock.Responder.
func (s *Speaker) Respond(c *upstreammock.Conn, msg upstream.Message) {
	if msg.Binary {
		return
	}
	var m control
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		c.Inject(upstream.Text([]byte(`{"type":"Warning","warn_msg":"malformed control message"}`)))
		return
	}

	switch m.Type {
	case "Speak":
		s.mu.Lock()
		buf, ok := s.pending[c]
		if !ok {
			buf = &bytes.Buffer{}
			s.pending[c] = buf
		}
		buf.WriteString(m.Text)
		s.mu.Unlock()
	case "Clear":
		s.mu.Lock()
		delete(s.pending, c)
		s.mu.Unlock()
		c.Inject(upstream.Text([]byte(`{"type":"Cleared"}`)))
	case "Flush":
		s.mu.Lock()
		var text string
		if buf, ok := s.pending[c]; ok {
			text = buf.String()
			delete(s.pending, c)
		}
		if _, ok := s.flushes[c]; !ok {
			s.prune()
		}
		s.flushes[c]++
		seq := s.flushes[c]
		s.mu.Unlock()

		for i := 0; i < Chunks(text); i++ {
			if !c.Inject(upstream.Binary(bytes.Repeat([]byte{muLawSilence}, ChunkBytes))) {
				return
			}
		}
		c.Inject(upstream.Text([]byte(fmt.Sprintf(`{"type":"Flushed","sequence_id":%d}`, seq))))
	}
}

// prune forgets closed connections. Caller holds s.mu.
func (s *Speaker) prune() {
	for c := range s.flushes {
		if c.IsClosed() {
			delete(s.flushes, c)
			delete(s.pending, c)
		}
	}
}

// Chunks returns the number of audio chunks produced for text.
func Chunks(text string) int {
	if text == "" {
		return 0
	}
	n := len(text)/CharsPerChunk + 1
	if n > MaxChunks {
		n = MaxChunks
	}
	return n
}
