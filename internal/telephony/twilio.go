package telephony

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"ai-voice-relay-service/internal/models"
)

// ErrInvalidNumber is returned for destination numbers not in E.164 form.
var ErrInvalidNumber = errors.New("destination must be an E.164 phone number")

// statusCallbackEvents are the call progress events reported back to the relay.
var statusCallbackEvents = []string{"initiated", "ringing", "answered", "completed"}

// CallRequest asks for one outbound call.
type CallRequest struct {
	To          string `json:"to"`
	AssistantID string `json:"assistantId"`
	UserID      string `json:"userId"`
}

// Call is a placed call.
type Call struct {
	SID    string `json:"callSid"`
	Status string `json:"status"`
}

// callAPI is the part of the Twilio REST API the dialer uses.
type callAPI interface {
	CreateCall(params *openapi.CreateCallParams) (*openapi.ApiV2010Call, error)
	UpdateCall(sid string, params *openapi.UpdateCallParams) (*openapi.ApiV2010Call, error)
}

// Config holds Twilio credentials and the relay's public address.
type Config struct {
	AccountSID     string
	AuthToken      string
	FromNumber     string
	PublicBaseURL  string
	TransferNumber string
}

// TwilioDialer places outbound calls that stream into the relay.
type TwilioDialer struct {
	api            callAPI
	from           string
	baseURL        string
	transferNumber string
	logger         zerolog.Logger
}

// NewTwilioDialer creates a dialer from credentials.
func NewTwilioDialer(cfg Config, logger zerolog.Logger) (*TwilioDialer, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.FromNumber == "" {
		return nil, fmt.Errorf("twilio account sid, auth token and from number are required")
	}
	if cfg.PublicBaseURL == "" {
		return nil, fmt.Errorf("public base url is required for outbound calls")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return newTwilioDialer(client.Api, cfg, logger), nil
}

func newTwilioDialer(api callAPI, cfg Config, logger zerolog.Logger) *TwilioDialer {
	return &TwilioDialer{
		api:            api,
		from:           cfg.FromNumber,
		baseURL:        strings.TrimRight(cfg.PublicBaseURL, "/"),
		transferNumber: cfg.TransferNumber,
		logger:         logger.With().Str("component", "twilio").Logger(),
	}
}

// PlaceCall starts an outbound call whose TwiML connects it to the media
// stream endpoint with the request's assistant and user.
func (d *TwilioDialer) PlaceCall(ctx context.Context, req CallRequest) (Call, error) {
	if !validE164(req.To) {
		return Call{}, ErrInvalidNumber
	}
	streamURL, err := StreamURL(d.baseURL)
	if err != nil {
		return Call{}, err
	}
	twiml, err := ConnectStream(streamURL, StreamParams{AssistantID: req.AssistantID, UserID: req.UserID})
	if err != nil {
		return Call{}, err
	}

	params := &openapi.CreateCallParams{}
	params.SetTo(req.To)
	params.SetFrom(d.from)
	params.SetTwiml(string(twiml))
	params.SetStatusCallback(d.baseURL + "/v1/calls/status")
	params.SetStatusCallbackMethod("POST")
	params.SetStatusCallbackEvent(statusCallbackEvents)

	resp, err := d.api.CreateCall(params)
	if err != nil {
		return Call{}, fmt.Errorf("create call: %w", err)
	}

	call := Call{Status: models.CallStatusInitiated}
	if resp.Sid != nil {
		call.SID = *resp.Sid
	}
	if resp.Status != nil {
		call.Status = string(*resp.Status)
	}
	d.logger.Info().
		Str("callSid", call.SID).
		Str("assistantId", req.AssistantID).
		Str("status", call.Status).
		Msg("Outbound call placed")
	return call, nil
}

// Transfer redirects a live call to the configured human number.
func (d *TwilioDialer) Transfer(ctx context.Context, callSID string) error {
	if d.transferNumber == "" {
		return fmt.Errorf("no transfer number configured")
	}
	twiml, err := Transfer(d.transferNumber, "Please hold while I transfer you.")
	if err != nil {
		return err
	}
	params := &openapi.UpdateCallParams{}
	params.SetTwiml(string(twiml))
	if _, err := d.api.UpdateCall(callSID, params); err != nil {
		return fmt.Errorf("transfer call %s: %w", callSID, err)
	}
	d.logger.Info().Str("callSid", callSID).Msg("Call transferred")
	return nil
}

func validE164(n string) bool {
	if len(n) < 8 || len(n) > 16 || n[0] != '+' {
		return false
	}
	for _, r := range n[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// NormalizeStatus maps a provider call status onto the relay's values.
// Unknown values pass through unchanged.
func NormalizeStatus(s string) string {
	switch strings.ToLower(s) {
	case "queued", "initiated":
		return models.CallStatusInitiated
	case "ringing":
		return models.CallStatusRinging
	case "in-progress", "answered":
		return models.CallStatusInProgress
	case "completed":
		return models.CallStatusCompleted
	case "busy":
		return models.CallStatusBusy
	case "no-answer":
		return models.CallStatusNoAnswer
	case "canceled":
		return models.CallStatusCanceled
	case "failed":
		return models.CallStatusFailed
	default:
		return s
	}
}
