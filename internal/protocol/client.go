// Package protocol defines the JSON frames exchanged with relay clients:
// browser clients speaking the relay dialect and telephony media streams.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownFrame is returned for a discriminant the relay does not handle.
	ErrUnknownFrame = errors.New("unknown frame")
	// ErrMalformedFrame is returned for invalid JSON or missing fields.
	ErrMalformedFrame = errors.New("malformed frame")
)

// ClientFrame is one decoded inbound frame. The concrete types are
// Connected, Start, Media, TextInput, Ping and Stop.
type ClientFrame interface {
	frameName() string
}

// Connected opens a relay-dialect conversation. Telephony streams send it
// without an assistant; their assistant arrives with Start.
type Connected struct {
	AssistantID string
	UserID      string
	Protocol    string
}

// Start is the telephony media-stream start frame.
type Start struct {
	StreamSID   string
	CallSID     string
	AssistantID string
	UserID      string
	Encoding    string
	SampleRate  int
}

// Media carries one base64 audio payload.
type Media struct {
	Payload string
	Track   string
}

// TextInput is typed user input that bypasses transcription.
type TextInput struct {
	Text string
}

// Ping is a client liveness check.
type Ping struct{}

// Stop ends a telephony media stream.
type Stop struct {
	StreamSID string
}

func (Connected) frameName() string { return "connected" }
func (Start) frameName() string     { return "start" }
func (Media) frameName() string     { return "media" }
func (TextInput) frameName() string { return "text_input" }
func (Ping) frameName() string      { return "ping" }
func (Stop) frameName() string      { return "stop" }

// FrameName returns the discriminant of f.
func FrameName(f ClientFrame) string {
	return f.frameName()
}

type envelope struct {
	Event       string `json:"event"`
	Type        string `json:"type"`
	AssistantID string `json:"assistantId"`
	UserID      string `json:"userId"`
	Text        string `json:"text"`
	Protocol    string `json:"protocol"`
	StreamSID   string `json:"streamSid"`
	Media       *struct {
		Payload string `json:"payload"`
		Track   string `json:"track"`
	} `json:"media"`
	Start *struct {
		StreamSID        string            `json:"streamSid"`
		CallSID          string            `json:"callSid"`
		CustomParameters map[string]string `json:"customParameters"`
		MediaFormat      struct {
			Encoding   string `json:"encoding"`
			SampleRate int    `json:"sampleRate"`
		} `json:"mediaFormat"`
	} `json:"start"`
}

// DecodeClientFrame decodes one inbound frame. The discriminant is "event",
// or "type" when event is absent.
func DecodeClientFrame(data []byte) (ClientFrame, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	kind := env.Event
	if kind == "" {
		kind = env.Type
	}

	switch kind {
	case "connected":
		return Connected{AssistantID: env.AssistantID, UserID: env.UserID, Protocol: env.Protocol}, nil
	case "start":
		if env.Start == nil {
			return nil, fmt.Errorf("%w: start without start block", ErrMalformedFrame)
		}
		params := env.Start.CustomParameters
		return Start{
			StreamSID:   firstNonEmpty(env.Start.StreamSID, env.StreamSID),
			CallSID:     env.Start.CallSID,
			AssistantID: params["assistantId"],
			UserID:      params["userId"],
			Encoding:    env.Start.MediaFormat.Encoding,
			SampleRate:  env.Start.MediaFormat.SampleRate,
		}, nil
	case "media":
		if env.Media == nil || env.Media.Payload == "" {
			return nil, fmt.Errorf("%w: media without payload", ErrMalformedFrame)
		}
		return Media{Payload: env.Media.Payload, Track: env.Media.Track}, nil
	case "text_input":
		if strings.TrimSpace(env.Text) == "" {
			return nil, fmt.Errorf("%w: text_input without text", ErrMalformedFrame)
		}
		return TextInput{Text: env.Text}, nil
	case "ping":
		return Ping{}, nil
	case "stop":
		return Stop{StreamSID: env.StreamSID}, nil
	case "":
		return nil, fmt.Errorf("%w: missing event or type", ErrMalformedFrame)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrame, kind)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
