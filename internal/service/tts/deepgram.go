package tts

import (
	"fmt"
	"net/url"
	"strconv"
)

var (
	clearMessage = []byte(`{"type":"Clear"}`)
	flushMessage = []byte(`{"type":"Flush"}`)
)

type speakMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type controlMessage struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	ErrMsg      string `json:"err_msg"`
	WarnMsg     string `json:"warn_msg"`
}

func (m controlMessage) describe() string {
	switch {
	case m.Description != "":
		return m.Description
	case m.ErrMsg != "":
		return m.ErrMsg
	default:
		return m.WarnMsg
	}
}

// SpeakParams are the synthesis parameters fixed for a session.
type SpeakParams struct {
	Voice        string
	Encoding     string
	SampleRateHz int
}

// DeepgramSpeakURL returns the speak URL for base with the session's voice
// and output format.
func DeepgramSpeakURL(base string, p SpeakParams) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse speak url: %w", err)
	}
	q := u.Query()
	if p.Voice != "" {
		q.Set("model", p.Voice)
	}
	if p.Encoding != "" {
		q.Set("encoding", p.Encoding)
	}
	if p.SampleRateHz > 0 {
		q.Set("sample_rate", strconv.Itoa(p.SampleRateHz))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
