// Package gateway accepts client sockets and runs one relay session per
// connection.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"ai-voice-relay-service/internal/config"
	"ai-voice-relay-service/internal/observability/metrics"
	"ai-voice-relay-service/internal/protocol"
	"ai-voice-relay-service/internal/service/session"
)

const flushTimeout = 2 * time.Second

// Handler upgrades client connections and runs their sessions.
type Handler struct {
	cfg     *config.Configuration
	deps    session.Deps
	tracker *Tracker
	logger  zerolog.Logger
	metrics *metrics.Metrics

	// telephony streams do not get relay-dialect handshake messages.
	telephony bool
	upgrader  websocket.Upgrader
}

// NewHandler creates the handler for relay-dialect clients.
func NewHandler(deps session.Deps, tracker *Tracker, logger zerolog.Logger) *Handler {
	h := &Handler{
		cfg:     deps.Config,
		deps:    deps,
		tracker: tracker,
		logger:  logger.With().Str("component", "gateway").Logger(),
		metrics: metrics.DefaultMetrics,
	}
	h.deps.Directory = tracker
	// Origins are enforced before the upgrade.
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	return h
}

// NewTelephonyHandler creates the handler for telephony media streams.
func NewTelephonyHandler(deps session.Deps, tracker *Tracker, logger zerolog.Logger) *Handler {
	h := NewHandler(deps, tracker, logger)
	h.telephony = true
	h.logger = h.logger.With().Bool("telephony", true).Logger()
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		h.metrics.RecordSessionRefused("not_upgrade")
		http.Error(w, "websocket upgrade required", http.StatusUpgradeRequired)
		return
	}
	if !h.originAllowed(r) {
		h.metrics.RecordSessionRefused("origin")
		h.logger.Warn().Str("origin", r.Header.Get("Origin")).Msg("Rejected connection from disallowed origin")
		http.Error(w, "origin is not allowed", http.StatusForbidden)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.metrics.RecordSessionRefused("upgrade_failed")
		h.logger.Debug().Err(err).Msg("Upgrade failed")
		return
	}

	sessionId := uuid.NewString()
	logger := h.logger.With().Str("sessionId", sessionId).Logger()
	conn := newClientConn(ws, connOptions{
		WriteTimeout:   h.cfg.Gateway.WriteTimeout,
		PingInterval:   h.cfg.Gateway.PingInterval,
		MaxMissedPings: h.cfg.Gateway.MaxMissedPings,
		QueueSize:      h.cfg.Gateway.OutboundQueue,
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go conn.writeLoop(cancel)

	if err := h.cfg.ValidateCredentials(); err != nil {
		h.metrics.RecordSessionRefused("fatal_config")
		logger.Error().Err(err).Msg("Refusing session")
		conn.Send(protocol.NewError(err.Error()))
		conn.close(flushTimeout)
		return
	}
	if h.cfg.Gateway.MaxMessageBytes > 0 {
		ws.SetReadLimit(h.cfg.Gateway.MaxMessageBytes)
	}

	sess := session.New(sessionId, h.deps, conn, logger)
	unregister := h.tracker.Register(sessionId, cancel)
	defer unregister()

	if !h.telephony {
		conn.Send(protocol.NewConnectionReady(sessionId))
	}

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		defer cancel()
		h.readLoop(ws, conn, sess, logger)
	}()

	err = sess.Run(ctx)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrStopped):
		logger.Debug().Msg("Stream stopped")
	default:
		logger.Warn().Err(err).Msg("Session ended with error")
	}

	conn.close(flushTimeout)
	<-readerDone
}

// readLoop decodes client frames once and hands them to the session.
// Malformed and unknown frames are logged and ignored.
func (h *Handler) readLoop(ws *websocket.Conn, conn *clientConn, sess *session.Session, logger zerolog.Logger) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug().Err(err).Msg("Client connection lost")
			}
			return
		}
		conn.alive()

		frame, err := protocol.DecodeClientFrame(data)
		if err != nil {
			reason := "malformed"
			if errors.Is(err, protocol.ErrUnknownFrame) {
				reason = "unknown"
			}
			h.metrics.RecordFrameRejected(reason)
			logger.Warn().Err(err).Int("bytes", len(data)).Msg("Ignoring client frame")
			continue
		}
		if !sess.Deliver(frame) {
			return
		}
	}
}

func (h *Handler) originAllowed(r *http.Request) bool {
	allowed := h.cfg.Gateway.AllowedOrigins
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if len(allowed) == 0 || origin == "" {
		return true
	}
	for _, o := range allowed {
		if strings.EqualFold(o, origin) || o == "*" {
			return true
		}
	}
	return false
}
