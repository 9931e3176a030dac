// Package mock simulates a streaming transcription provider for local runs
// and tests without cloud credentials. It speaks the same JSON dialect as
// the Deepgram listen socket: progressive interim results, one final result
// per utterance marked speech-final, then the next utterance.
package mock

import (
	"encoding/json"
	"sync"

	"ai-voice-relay-service/internal/upstream"
	upstreammock "ai-voice-relay-service/internal/upstream/mock"
)

// SimulatedUtterance represents a mock utterance with progressive transcripts.
type SimulatedUtterance struct {
	Partials   []string // Progressive partial transcripts
	Final      string   // Final transcript text
	Confidence float64  // Confidence score for final
}

// DefaultUtterances provides sample utterances for simulation.
var DefaultUtterances = []SimulatedUtterance{
	{
		Partials:   []string{"I want", "I want to", "I want to cancel"},
		Final:      "I want to cancel my subscription",
		Confidence: 0.94,
	},
	{
		Partials:   []string{"Yes", "Yes please"},
		Final:      "Yes please go ahead",
		Confidence: 0.97,
	},
	{
		Partials:   []string{"Can you", "Can you help", "Can you help me with"},
		Final:      "Can you help me with my account",
		Confidence: 0.91,
	},
	{
		Partials:   []string{"I've been", "I've been waiting", "I've been waiting for"},
		Final:      "I've been waiting for over an hour",
		Confidence: 0.89,
	},
	{
		Partials:   []string{"Thank you"},
		Final:      "Thank you very much",
		Confidence: 0.98,
	},
}

// DefaultFramesPerStep is how many audio frames advance the script by one
// transcript. At 20ms telephony frames this is roughly 400ms.
const DefaultFramesPerStep = 20

// Simulator scripts transcripts in response to audio. One simulator serves
// every connection of a dialer; each connection starts its own script.
type Simulator struct {
	utterances    []SimulatedUtterance
	framesPerStep int

	mu      sync.Mutex
	streams map[*upstreammock.Conn]*stream
}

type stream struct {
	frames    int
	utterance int
	step      int
}

// New creates a simulator advancing one step every framesPerStep frames.
// Non-positive framesPerStep uses DefaultFramesPerStep; empty utterances
// uses DefaultUtterances.
func New(framesPerStep int, utterances ...SimulatedUtterance) *Simulator {
	if framesPerStep <= 0 {
		framesPerStep = DefaultFramesPerStep
	}
	if len(utterances) == 0 {
		utterances = DefaultUtterances
	}
	return &Simulator{
		utterances:    utterances,
		framesPerStep: framesPerStep,
		streams:       make(map[*upstreammock.Conn]*stream),
	}
}

// NewDialer returns an in-memory dialer driven by a new simulator.
func NewDialer(framesPerStep int) *upstreammock.Dialer {
	return upstreammock.NewDialer(New(framesPerStep).Respond)
}

// Respond is an upstreammock.Responder. Control messages are ignored.
func (s *Simulator) Respond(c *upstreammock.Conn, msg upstream.Message) {
	if !msg.Binary {
		return
	}

	s.mu.Lock()
	st, ok := s.streams[c]
	if !ok {
		for old := range s.streams {
			if old.IsClosed() {
				delete(s.streams, old)
			}
		}
		st = &stream{}
		s.streams[c] = st
	}
	st.frames++
	if st.frames%s.framesPerStep != 0 {
		s.mu.Unlock()
		return
	}
	out := s.advance(st)
	s.mu.Unlock()

	c.Inject(upstream.Text(out))
}

// advance emits the next scripted transcript. Caller holds s.mu.
func (s *Simulator) advance(st *stream) []byte {
	utt := s.utterances[st.utterance%len(s.utterances)]
	if st.step < len(utt.Partials) {
		text := utt.Partials[st.step]
		st.step++
		return Results(text, utt.Confidence*0.8, false, false)
	}
	st.step = 0
	st.utterance++
	return Results(utt.Final, utt.Confidence, true, true)
}

type alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

type results struct {
	Type    string `json:"type"`
	Channel struct {
		Alternatives []alternative `json:"alternatives"`
	} `json:"channel"`
	IsFinal     bool `json:"is_final"`
	SpeechFinal bool `json:"speech_final"`
}

// Results encodes a listen-socket Results message.
func Results(text string, confidence float64, isFinal, speechFinal bool) []byte {
	r := results{Type: "Results", IsFinal: isFinal, SpeechFinal: speechFinal}
	r.Channel.Alternatives = []alternative{{Transcript: text, Confidence: confidence}}
	b, _ := json.Marshal(r)
	return b
}

// UtteranceEnd encodes a listen-socket UtteranceEnd message.
func UtteranceEnd() []byte {
	return []byte(`{"type":"UtteranceEnd"}`)
}
