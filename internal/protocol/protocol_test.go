package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeClientFrame(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want ClientFrame
	}{
		{"connected", `{"event":"connected","assistantId":"a1","userId":"u1"}`, Connected{AssistantID: "a1", UserID: "u1"}},
		{"telephony connected", `{"event":"connected","protocol":"Call","version":"1.0.0"}`, Connected{Protocol: "Call"}},
		{"media", `{"event":"media","media":{"payload":"AAEC"}}`, Media{Payload: "AAEC"}},
		{"telephony media", `{"event":"media","streamSid":"MZ1","media":{"track":"inbound","chunk":"1","payload":"/w=="}}`, Media{Payload: "/w==", Track: "inbound"}},
		{"text input", `{"event":"text_input","text":"goodbye"}`, TextInput{Text: "goodbye"}},
		{"ping by type", `{"type":"ping"}`, Ping{}},
		{"ping by event", `{"event":"ping"}`, Ping{}},
		{"stop", `{"event":"stop","streamSid":"MZ1"}`, Stop{StreamSID: "MZ1"}},
		{
			"start",
			`{"event":"start","streamSid":"MZ1","start":{"streamSid":"MZ1","callSid":"CA1","customParameters":{"assistantId":"a1","userId":"u1"},"mediaFormat":{"encoding":"audio/x-mulaw","sampleRate":8000,"channels":1}}}`,
			Start{StreamSID: "MZ1", CallSID: "CA1", AssistantID: "a1", UserID: "u1", Encoding: "audio/x-mulaw", SampleRate: 8000},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeClientFrame([]byte(tt.raw))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestDecodeClientFrame_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"not json", `hello`, ErrMalformedFrame},
		{"no discriminant", `{"text":"hi"}`, ErrMalformedFrame},
		{"media without payload", `{"event":"media","media":{}}`, ErrMalformedFrame},
		{"media without block", `{"event":"media"}`, ErrMalformedFrame},
		{"blank text", `{"event":"text_input","text":"  "}`, ErrMalformedFrame},
		{"start without block", `{"event":"start"}`, ErrMalformedFrame},
		{"unknown", `{"event":"dance"}`, ErrUnknownFrame},
		{"unknown type", `{"type":"subscribe"}`, ErrUnknownFrame},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeClientFrame([]byte(tt.raw))
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestFrameName(t *testing.T) {
	if FrameName(TextInput{Text: "x"}) != "text_input" || FrameName(Ping{}) != "ping" {
		t.Error("unexpected frame names")
	}
}

func TestServerMessages_Encode(t *testing.T) {
	tests := []struct {
		msg  ServerMessage
		want string
	}{
		{NewConnectionReady("s1"), `{"type":"connection_ready","sessionId":"s1"}`},
		{NewConnectionEstablished("Ava", "Hi!"), `{"type":"connection_established","assistant":{"name":"Ava","first_message":"Hi!"}}`},
		{NewReady(), `{"type":"ready"}`},
		{NewTranscript("hello", true, 0.9), `{"type":"transcript","text":"hello","isFinal":true,"confidence":0.9}`},
		{NewAIResponse("hi there"), `{"type":"ai_response","text":"hi there"}`},
		{NewAudioResponse("AAE=", "mulaw", 8000), `{"type":"audio_response","audio":"AAE=","encoding":"mulaw","sample_rate":8000}`},
		{NewError("missing credentials"), `{"type":"error","error":"missing credentials"}`},
		{NewPong(), `{"type":"pong"}`},
		{NewStatus(true, false, "listening"), `{"type":"status","sttAvailable":true,"ttsAvailable":false,"turnState":"listening"}`},
		{NewTelephonyMedia("MZ1", "/w=="), `{"event":"media","streamSid":"MZ1","media":{"payload":"/w=="}}`},
		{NewTelephonyClear("MZ1"), `{"event":"clear","streamSid":"MZ1"}`},
	}
	for _, tt := range tests {
		got, err := Encode(tt.msg)
		if err != nil {
			t.Fatalf("encode %s: %v", tt.msg.MessageType(), err)
		}
		if string(got) != tt.want {
			t.Errorf("%s:\n got  %s\n want %s", tt.msg.MessageType(), got, tt.want)
		}
		var generic map[string]any
		if err := json.Unmarshal(got, &generic); err != nil {
			t.Errorf("%s: output is not JSON: %v", tt.msg.MessageType(), err)
		}
	}
}

func TestDroppable(t *testing.T) {
	if !Droppable(NewAudioResponse("", "", 0)) || !Droppable(NewTelephonyMedia("s", "")) {
		t.Error("audio must be droppable")
	}
	for _, m := range []ServerMessage{NewAIResponse("x"), NewTranscript("x", false, 0), NewPong(), NewReady(), NewTelephonyClear("s")} {
		if Droppable(m) {
			t.Errorf("%s must not be droppable", m.MessageType())
		}
	}
}
