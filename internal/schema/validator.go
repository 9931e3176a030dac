// Package schema validates event payloads before they leave the relay.
package schema

import (
	"errors"
	"fmt"
	"strings"

	"ai-voice-relay-service/internal/models"
)

// ErrInvalidEvent is returned for a payload missing required fields.
var ErrInvalidEvent = errors.New("invalid event")

var callStatuses = map[string]bool{
	models.CallStatusInitiated:   true,
	models.CallStatusRinging:     true,
	models.CallStatusInProgress:  true,
	models.CallStatusTransferred: true,
	models.CallStatusCompleted:   true,
	models.CallStatusFailed:      true,
	models.CallStatusBusy:        true,
	models.CallStatusNoAnswer:    true,
	models.CallStatusCanceled:    true,
}

type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// Validate checks the payloads the relay publishes. Other values pass.
func (v *Validator) Validate(event any) error {
	switch e := event.(type) {
	case models.TranscriptLine:
		return v.transcript(e)
	case *models.TranscriptLine:
		if e == nil {
			return fmt.Errorf("%w: nil transcript line", ErrInvalidEvent)
		}
		return v.transcript(*e)
	case models.CallStatus:
		return v.callStatus(e)
	case *models.CallStatus:
		if e == nil {
			return fmt.Errorf("%w: nil call status", ErrInvalidEvent)
		}
		return v.callStatus(*e)
	default:
		return nil
	}
}

func (v *Validator) transcript(e models.TranscriptLine) error {
	var missing []string
	if e.EventType != models.EventTypeTranscript {
		missing = append(missing, "eventType")
	}
	if e.SessionID == "" {
		missing = append(missing, "sessionId")
	}
	if e.Role != models.RoleUser && e.Role != models.RoleAssistant {
		missing = append(missing, "role")
	}
	if strings.TrimSpace(e.Text) == "" {
		missing = append(missing, "text")
	}
	if e.Timestamp <= 0 {
		missing = append(missing, "timestamp")
	}
	return invalid("transcript line", missing)
}

func (v *Validator) callStatus(e models.CallStatus) error {
	var missing []string
	if e.EventType != models.EventTypeCallStatus {
		missing = append(missing, "eventType")
	}
	if e.SessionID == "" && e.CallSID == "" {
		missing = append(missing, "sessionId|callSid")
	}
	if !callStatuses[e.Status] {
		missing = append(missing, "status")
	}
	if e.Timestamp <= 0 {
		missing = append(missing, "timestamp")
	}
	return invalid("call status", missing)
}

func invalid(kind string, fields []string) error {
	if len(fields) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s: bad %s", ErrInvalidEvent, kind, strings.Join(fields, ", "))
}
