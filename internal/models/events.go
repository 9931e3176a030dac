package models

// TranscriptLine is an append-only record of one spoken line in a call.
type TranscriptLine struct {
	EventType   string  `json:"eventType"`
	SessionID   string  `json:"sessionId"`
	CallSID     string  `json:"callSid,omitempty"`
	AssistantID string  `json:"assistantId"`
	UserID      string  `json:"userId"`
	Role        Role    `json:"role"`
	Text        string  `json:"text"`
	Confidence  float64 `json:"confidence,omitempty"`
	Fallback    bool    `json:"fallback,omitempty"`
	Timestamp   int64   `json:"timestamp"`
}

// Call status values reported for a session or telephony call.
const (
	CallStatusInitiated   = "initiated"
	CallStatusRinging     = "ringing"
	CallStatusInProgress  = "in-progress"
	CallStatusTransferred = "transfer-requested"
	CallStatusCompleted   = "completed"
	CallStatusFailed      = "failed"
	CallStatusBusy        = "busy"
	CallStatusNoAnswer    = "no-answer"
	CallStatusCanceled    = "canceled"
)

// CallStatus is an append-only record of a call lifecycle change.
type CallStatus struct {
	EventType   string `json:"eventType"`
	SessionID   string `json:"sessionId,omitempty"`
	CallSID     string `json:"callSid,omitempty"`
	AssistantID string `json:"assistantId,omitempty"`
	UserID      string `json:"userId,omitempty"`
	Status      string `json:"status"`
	Reason      string `json:"reason,omitempty"`
	DurationSec int    `json:"durationSec,omitempty"`
	Timestamp   int64  `json:"timestamp"`
}

// Event type identifiers carried in published payloads.
const (
	EventTypeTranscript = "relay.transcript.line"
	EventTypeCallStatus = "relay.call.status"
)
