// Package telephony places outbound calls and renders the TwiML that bridges
// a phone call onto the relay's media stream endpoint.
package telephony

import (
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"
)

type twimlResponse struct {
	XMLName xml.Name      `xml:"Response"`
	Connect *twimlConnect `xml:"Connect,omitempty"`
	Say     string        `xml:"Say,omitempty"`
	Dial    *twimlDial    `xml:"Dial,omitempty"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL        string           `xml:"url,attr"`
	Parameters []twimlParameter `xml:"Parameter"`
}

type twimlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type twimlDial struct {
	Number string `xml:",chardata"`
}

// StreamParams identify the agent and user a bridged call belongs to.
type StreamParams struct {
	AssistantID string
	UserID      string
}

// StreamURL converts the public base URL into the media stream websocket URL.
func StreamURL(publicBaseURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(publicBaseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse public base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported public base url scheme %q", u.Scheme)
	}
	u.Path += "/v1/media-stream"
	return u.String(), nil
}

// ConnectStream renders TwiML connecting the call to streamURL. The agent and
// user travel as custom parameters on the stream's start frame.
func ConnectStream(streamURL string, p StreamParams) ([]byte, error) {
	stream := twimlStream{URL: streamURL}
	if p.AssistantID != "" {
		stream.Parameters = append(stream.Parameters, twimlParameter{Name: "assistantId", Value: p.AssistantID})
	}
	if p.UserID != "" {
		stream.Parameters = append(stream.Parameters, twimlParameter{Name: "userId", Value: p.UserID})
	}
	return render(twimlResponse{Connect: &twimlConnect{Stream: stream}})
}

// Transfer renders TwiML that announces and dials a human.
func Transfer(number, announcement string) ([]byte, error) {
	if number == "" {
		return nil, fmt.Errorf("transfer number is required")
	}
	return render(twimlResponse{Say: announcement, Dial: &twimlDial{Number: number}})
}

func render(r twimlResponse) ([]byte, error) {
	body, err := xml.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal twiml: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}
