package telephony

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"ai-voice-relay-service/internal/models"
)

type fakeCallAPI struct {
	created *openapi.CreateCallParams
	updated *openapi.UpdateCallParams
	sid     string
	err     error
}

func (f *fakeCallAPI) CreateCall(params *openapi.CreateCallParams) (*openapi.ApiV2010Call, error) {
	f.created = params
	if f.err != nil {
		return nil, f.err
	}
	sid := "CA123"
	return &openapi.ApiV2010Call{Sid: &sid}, nil
}

func (f *fakeCallAPI) UpdateCall(sid string, params *openapi.UpdateCallParams) (*openapi.ApiV2010Call, error) {
	f.sid = sid
	f.updated = params
	return &openapi.ApiV2010Call{Sid: &sid}, f.err
}

func TestStreamURL(t *testing.T) {
	tests := []struct {
		base    string
		want    string
		wantErr bool
	}{
		{"https://relay.example.com", "wss://relay.example.com/v1/media-stream", false},
		{"http://localhost:8080/", "ws://localhost:8080/v1/media-stream", false},
		{"wss://relay.example.com/prefix", "wss://relay.example.com/prefix/v1/media-stream", false},
		{"ftp://relay.example.com", "", true},
	}
	for _, tt := range tests {
		got, err := StreamURL(tt.base)
		if (err != nil) != tt.wantErr {
			t.Errorf("StreamURL(%q) error = %v, wantErr %v", tt.base, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("StreamURL(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}

func TestConnectStream(t *testing.T) {
	body, err := ConnectStream("wss://relay.example.com/v1/media-stream", StreamParams{AssistantID: "a1", UserID: "u&1"})
	if err != nil {
		t.Fatalf("ConnectStream error: %v", err)
	}
	s := string(body)
	for _, want := range []string{
		`<?xml version="1.0" encoding="UTF-8"?>`,
		`<Response><Connect><Stream url="wss://relay.example.com/v1/media-stream">`,
		`<Parameter name="assistantId" value="a1"></Parameter>`,
		`<Parameter name="userId" value="u&amp;1"></Parameter>`,
	} {
		if !strings.Contains(s, want) {
			t.Errorf("twiml missing %q in %s", want, s)
		}
	}
}

func TestTransferTwiml(t *testing.T) {
	if _, err := Transfer("", "hi"); err == nil {
		t.Error("expected error without number")
	}
	body, err := Transfer("+15550100", "Hold on.")
	if err != nil {
		t.Fatalf("Transfer error: %v", err)
	}
	if !strings.Contains(string(body), "<Say>Hold on.</Say><Dial>+15550100</Dial>") {
		t.Errorf("twiml = %s", body)
	}
}

func TestNewTwilioDialer_RequiresConfig(t *testing.T) {
	if _, err := NewTwilioDialer(Config{AccountSID: "AC1", AuthToken: "t"}, zerolog.Nop()); err == nil {
		t.Error("expected error without from number")
	}
	if _, err := NewTwilioDialer(Config{AccountSID: "AC1", AuthToken: "t", FromNumber: "+15550100"}, zerolog.Nop()); err == nil {
		t.Error("expected error without public base url")
	}
}

func TestPlaceCall(t *testing.T) {
	api := &fakeCallAPI{}
	d := newTwilioDialer(api, Config{FromNumber: "+15550100", PublicBaseURL: "https://relay.example.com/"}, zerolog.Nop())

	call, err := d.PlaceCall(context.Background(), CallRequest{To: "+15550199", AssistantID: "a1"})
	if err != nil {
		t.Fatalf("PlaceCall error: %v", err)
	}
	if call.SID != "CA123" || call.Status != models.CallStatusInitiated {
		t.Errorf("call = %+v", call)
	}

	p := api.created
	if p == nil {
		t.Fatal("CreateCall not invoked")
	}
	if *p.To != "+15550199" || *p.From != "+15550100" {
		t.Errorf("to/from = %s/%s", *p.To, *p.From)
	}
	if *p.StatusCallback != "https://relay.example.com/v1/calls/status" {
		t.Errorf("StatusCallback = %s", *p.StatusCallback)
	}
	if !strings.Contains(*p.Twiml, `value="a1"`) {
		t.Errorf("Twiml = %s", *p.Twiml)
	}
}

func TestPlaceCall_Errors(t *testing.T) {
	api := &fakeCallAPI{err: errors.New("boom")}
	d := newTwilioDialer(api, Config{FromNumber: "+15550100", PublicBaseURL: "https://relay.example.com"}, zerolog.Nop())

	if _, err := d.PlaceCall(context.Background(), CallRequest{To: "555-0199"}); !errors.Is(err, ErrInvalidNumber) {
		t.Errorf("error = %v, want ErrInvalidNumber", err)
	}
	if _, err := d.PlaceCall(context.Background(), CallRequest{To: "+15550199"}); err == nil {
		t.Error("expected provider error")
	}
}

func TestTransferCall(t *testing.T) {
	api := &fakeCallAPI{}
	d := newTwilioDialer(api, Config{PublicBaseURL: "https://relay.example.com", TransferNumber: "+15550123"}, zerolog.Nop())

	if err := d.Transfer(context.Background(), "CA9"); err != nil {
		t.Fatalf("Transfer error: %v", err)
	}
	if api.sid != "CA9" || !strings.Contains(*api.updated.Twiml, "+15550123") {
		t.Errorf("sid = %s, twiml = %v", api.sid, api.updated.Twiml)
	}

	none := newTwilioDialer(api, Config{PublicBaseURL: "https://relay.example.com"}, zerolog.Nop())
	if err := none.Transfer(context.Background(), "CA9"); err == nil {
		t.Error("expected error without transfer number")
	}
}

func TestNormalizeStatus(t *testing.T) {
	tests := map[string]string{
		"queued":      models.CallStatusInitiated,
		"ringing":     models.CallStatusRinging,
		"in-progress": models.CallStatusInProgress,
		"completed":   models.CallStatusCompleted,
		"no-answer":   models.CallStatusNoAnswer,
		"Busy":        models.CallStatusBusy,
		"weird":       "weird",
	}
	for in, want := range tests {
		if got := NormalizeStatus(in); got != want {
			t.Errorf("NormalizeStatus(%q) = %q, want %q", in, got, want)
		}
	}
}
