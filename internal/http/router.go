package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"ai-voice-relay-service/internal/app"
	"ai-voice-relay-service/internal/models"
	"ai-voice-relay-service/internal/store"
	"ai-voice-relay-service/internal/telephony"
)

// CallPlacer places outbound telephony calls.
type CallPlacer interface {
	PlaceCall(ctx context.Context, req telephony.CallRequest) (telephony.Call, error)
}

// StatusRecorder persists call status changes.
type StatusRecorder interface {
	CallStatus(status models.CallStatus)
}

// Routes holds the handlers and collaborators mounted on the router.
type Routes struct {
	// Relay serves browser clients.
	Relay http.Handler
	// MediaStream serves telephony media streams.
	MediaStream http.Handler
	// Calls is nil when telephony is not configured.
	Calls    CallPlacer
	Recorder StatusRecorder
	Sessions store.Registry
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(application *app.Application, routes Routes) http.Handler {
	r := chi.NewRouter()
	logger := application.Logger.With().Str("component", "http").Logger()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if err := application.Ready(); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// API routes
	r.Route("/v1", func(r chi.Router) {
		if routes.Relay != nil {
			r.Handle("/relay", routes.Relay)
		}
		if routes.MediaStream != nil {
			r.Handle("/media-stream", routes.MediaStream)
		}
		if routes.Sessions != nil {
			r.Get("/sessions/{sessionId}", sessionLookup(routes.Sessions))
		}

		r.Post("/calls", placeCall(routes.Calls, logger))
		r.Post("/twiml", streamTwiML(application.Cfg.Service.PublicBaseURL, logger))
		if routes.Recorder != nil {
			r.Post("/calls/status", callStatus(routes.Recorder, logger))
		}
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func placeCall(calls CallPlacer, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if calls == nil {
			writeError(w, http.StatusServiceUnavailable, "telephony is not configured")
			return
		}

		var req telephony.CallRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		call, err := calls.PlaceCall(r.Context(), req)
		switch {
		case errors.Is(err, telephony.ErrInvalidNumber):
			writeError(w, http.StatusBadRequest, err.Error())
			return
		case err != nil:
			logger.Error().Err(err).Str("assistantId", req.AssistantID).Msg("Failed to place call")
			writeError(w, http.StatusBadGateway, "failed to place call")
			return
		}
		writeJSON(w, http.StatusCreated, call)
	}
}

// streamTwiML answers the provider's voice webhook with instructions to
// stream the call into the relay.
func streamTwiML(publicBaseURL string, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		streamURL, err := telephony.StreamURL(publicBaseURL)
		if err != nil {
			logger.Error().Err(err).Msg("Cannot build media stream URL")
			writeError(w, http.StatusServiceUnavailable, "public base URL is not configured")
			return
		}
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "invalid form")
			return
		}

		body, err := telephony.ConnectStream(streamURL, telephony.StreamParams{
			AssistantID: r.Form.Get("assistantId"),
			UserID:      r.Form.Get("userId"),
		})
		if err != nil {
			logger.Error().Err(err).Msg("Failed to render TwiML")
			writeError(w, http.StatusInternalServerError, "failed to render TwiML")
			return
		}
		w.Header().Set("Content-Type", "text/xml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	}
}

// callStatus records provider status callbacks.
func callStatus(recorder StatusRecorder, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "invalid form")
			return
		}
		callSid := r.Form.Get("CallSid")
		raw := r.Form.Get("CallStatus")
		if callSid == "" || raw == "" {
			writeError(w, http.StatusBadRequest, "CallSid and CallStatus are required")
			return
		}

		duration, _ := strconv.Atoi(r.Form.Get("CallDuration"))
		status := models.CallStatus{
			CallSID:     callSid,
			AssistantID: r.Form.Get("assistantId"),
			Status:      telephony.NormalizeStatus(raw),
			DurationSec: duration,
			Timestamp:   time.Now().UnixMilli(),
		}
		recorder.CallStatus(status)

		logger.Info().
			Str("callSid", callSid).
			Str("status", status.Status).
			Msg("Call status received")
		w.WriteHeader(http.StatusNoContent)
	}
}

func sessionLookup(sessions store.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info, err := sessions.Lookup(r.Context(), chi.URLParam(r, "sessionId"))
		switch {
		case errors.Is(err, store.ErrSessionNotFound):
			writeError(w, http.StatusNotFound, "session not found")
			return
		case err != nil:
			writeError(w, http.StatusInternalServerError, "session lookup failed")
			return
		}
		writeJSON(w, http.StatusOK, info)
	}
}
