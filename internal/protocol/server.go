package protocol

import "encoding/json"

// Server message types.
const (
	TypeConnectionReady       = "connection_ready"
	TypeConnectionEstablished = "connection_established"
	TypeReady                 = "ready"
	TypeTranscript            = "transcript"
	TypeAIResponse            = "ai_response"
	TypeAudioResponse         = "audio_response"
	TypeError                 = "error"
	TypePong                  = "pong"
	TypeStatus                = "status"

	// Telephony media-stream events.
	EventMedia = "media"
	EventClear = "clear"
)

// ServerMessage is one outbound frame.
type ServerMessage interface {
	MessageType() string
}

// Droppable reports whether msg may be discarded under backpressure. Only
// audio is; losing a control message would desynchronize the client.
func Droppable(msg ServerMessage) bool {
	switch msg.MessageType() {
	case TypeAudioResponse, EventMedia:
		return true
	default:
		return false
	}
}

// Encode marshals msg.
func Encode(msg ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

type ConnectionReady struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

func NewConnectionReady(sessionID string) ConnectionReady {
	return ConnectionReady{Type: TypeConnectionReady, SessionID: sessionID}
}

func (m ConnectionReady) MessageType() string { return m.Type }

// AssistantInfo describes the agent to the client.
type AssistantInfo struct {
	Name         string `json:"name"`
	FirstMessage string `json:"first_message"`
}

type ConnectionEstablished struct {
	Type      string        `json:"type"`
	Assistant AssistantInfo `json:"assistant"`
}

func NewConnectionEstablished(name, firstMessage string) ConnectionEstablished {
	return ConnectionEstablished{
		Type:      TypeConnectionEstablished,
		Assistant: AssistantInfo{Name: name, FirstMessage: firstMessage},
	}
}

func (m ConnectionEstablished) MessageType() string { return m.Type }

type Ready struct {
	Type string `json:"type"`
}

func NewReady() Ready { return Ready{Type: TypeReady} }

func (m Ready) MessageType() string { return m.Type }

type Transcript struct {
	Type       string  `json:"type"`
	Text       string  `json:"text"`
	IsFinal    bool    `json:"isFinal"`
	Confidence float64 `json:"confidence"`
}

func NewTranscript(text string, isFinal bool, confidence float64) Transcript {
	return Transcript{Type: TypeTranscript, Text: text, IsFinal: isFinal, Confidence: confidence}
}

func (m Transcript) MessageType() string { return m.Type }

type AIResponse struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func NewAIResponse(text string) AIResponse {
	return AIResponse{Type: TypeAIResponse, Text: text}
}

func (m AIResponse) MessageType() string { return m.Type }

type AudioResponse struct {
	Type       string `json:"type"`
	Audio      string `json:"audio"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

func NewAudioResponse(audioB64, encoding string, sampleRate int) AudioResponse {
	return AudioResponse{Type: TypeAudioResponse, Audio: audioB64, Encoding: encoding, SampleRate: sampleRate}
}

func (m AudioResponse) MessageType() string { return m.Type }

type ErrorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func NewError(msg string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Error: msg}
}

func (m ErrorMessage) MessageType() string { return m.Type }

type Pong struct {
	Type string `json:"type"`
}

func NewPong() Pong { return Pong{Type: TypePong} }

func (m Pong) MessageType() string { return m.Type }

// Status reports upstream availability changes to the client.
type Status struct {
	Type         string `json:"type"`
	STTAvailable bool   `json:"sttAvailable"`
	TTSAvailable bool   `json:"ttsAvailable"`
	TurnState    string `json:"turnState,omitempty"`
}

func NewStatus(sttAvailable, ttsAvailable bool, turnState string) Status {
	return Status{Type: TypeStatus, STTAvailable: sttAvailable, TTSAvailable: ttsAvailable, TurnState: turnState}
}

func (m Status) MessageType() string { return m.Type }

// TelephonyMedia is an outbound media-stream audio frame.
type TelephonyMedia struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
	Media     struct {
		Payload string `json:"payload"`
	} `json:"media"`
}

func NewTelephonyMedia(streamSID, payloadB64 string) TelephonyMedia {
	m := TelephonyMedia{Event: EventMedia, StreamSID: streamSID}
	m.Media.Payload = payloadB64
	return m
}

func (m TelephonyMedia) MessageType() string { return m.Event }

// TelephonyClear discards audio buffered on the telephony side.
type TelephonyClear struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
}

func NewTelephonyClear(streamSID string) TelephonyClear {
	return TelephonyClear{Event: EventClear, StreamSID: streamSID}
}

func (m TelephonyClear) MessageType() string { return m.Event }
