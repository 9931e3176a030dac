package stt

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ai-voice-relay-service/internal/upstream"
)

// ErrUnexpectedBinary is returned when a JSON-only upstream sends binary data.
var ErrUnexpectedBinary = errors.New("unexpected binary message")

// DeepgramKeepalive is the control message that keeps an idle listen socket open.
var DeepgramKeepalive = upstream.Text([]byte(`{"type":"KeepAlive"}`))

// DeepgramCloseStream asks the upstream to flush and close the stream.
var DeepgramCloseStream = upstream.Text([]byte(`{"type":"CloseStream"}`))

// ListenParams are the transcription parameters fixed for a session.
type ListenParams struct {
	Model          string
	Language       string
	Encoding       string
	SampleRateHz   int
	EndpointingMs  int
	UtteranceEndMs int
	SmartFormat    bool
	InterimResults bool
}

// DeepgramURL returns the listen URL for base with params as query values.
func DeepgramURL(base string, p ListenParams) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse listen url: %w", err)
	}
	q := u.Query()
	if p.Model != "" {
		q.Set("model", p.Model)
	}
	if p.Language != "" {
		q.Set("language", p.Language)
	}
	if p.Encoding != "" {
		q.Set("encoding", p.Encoding)
	}
	if p.SampleRateHz > 0 {
		q.Set("sample_rate", strconv.Itoa(p.SampleRateHz))
	}
	q.Set("channels", "1")
	q.Set("smart_format", strconv.FormatBool(p.SmartFormat))
	q.Set("interim_results", strconv.FormatBool(p.InterimResults))
	if p.EndpointingMs > 0 {
		q.Set("endpointing", strconv.Itoa(p.EndpointingMs))
	}
	// utterance_end_ms requires interim results upstream.
	if p.UtteranceEndMs > 0 && p.InterimResults {
		q.Set("utterance_end_ms", strconv.Itoa(p.UtteranceEndMs))
		q.Set("vad_events", "true")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type deepgramMessage struct {
	Type    string `json:"type"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
	IsFinal     bool    `json:"is_final"`
	SpeechFinal bool    `json:"speech_final"`
	Start       float64 `json:"start"`
	Duration    float64 `json:"duration"`
	Description string  `json:"description"`
}

// DeepgramDecoder decodes listen-socket JSON messages.
type DeepgramDecoder struct{}

// Decode implements Decoder.
func (DeepgramDecoder) Decode(msg upstream.Message) ([]Result, error) {
	if msg.Binary {
		return nil, ErrUnexpectedBinary
	}

	var m deepgramMessage
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		return nil, fmt.Errorf("decode transcription message: %w", err)
	}

	switch m.Type {
	case "Results":
		if len(m.Channel.Alternatives) == 0 {
			if m.SpeechFinal {
				return []Result{{Kind: ResultUtteranceEnd}}, nil
			}
			return nil, nil
		}
		alt := m.Channel.Alternatives[0]
		return []Result{{
			Kind: ResultTranscript,
			Transcript: TranscriptEvent{
				Text:          strings.TrimSpace(alt.Transcript),
				Confidence:    alt.Confidence,
				IsFinal:       m.IsFinal,
				IsSpeechFinal: m.SpeechFinal,
				Timestamp:     time.Now(),
			},
		}}, nil
	case "UtteranceEnd":
		return []Result{{Kind: ResultUtteranceEnd}}, nil
	case "SpeechStarted":
		return []Result{{Kind: ResultSpeechStarted}}, nil
	case "Metadata":
		return nil, nil
	case "Error":
		return nil, fmt.Errorf("transcription upstream error: %s", m.Description)
	case "":
		return nil, errors.New("transcription message without type")
	default:
		return nil, nil
	}
}
