package gateway

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"ai-voice-relay-service/internal/protocol"
)

// clientConn owns the write side of a client socket. Control messages and
// audio are queued separately; control always goes out first and is never
// discarded to make room for audio.
type clientConn struct {
	ws           *websocket.Conn
	logger       zerolog.Logger
	writeTimeout time.Duration
	pingInterval time.Duration
	maxMissed    int32

	control chan []byte
	media   chan []byte
	missed  atomic.Int32

	closing   chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

type connOptions struct {
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	MaxMissedPings int
	QueueSize      int
}

func newClientConn(ws *websocket.Conn, opts connOptions, logger zerolog.Logger) *clientConn {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 20 * time.Second
	}
	if opts.MaxMissedPings <= 0 {
		opts.MaxMissedPings = 3
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	c := &clientConn{
		ws:           ws,
		logger:       logger,
		writeTimeout: opts.WriteTimeout,
		pingInterval: opts.PingInterval,
		maxMissed:    int32(opts.MaxMissedPings),
		control:      make(chan []byte, opts.QueueSize),
		media:        make(chan []byte, opts.QueueSize),
		closing:      make(chan struct{}),
		done:         make(chan struct{}),
	}
	ws.SetPongHandler(func(string) error {
		c.alive()
		return nil
	})
	return c
}

// Send queues msg without blocking. It returns false when the message was
// dropped because its queue is full or the connection is closing.
func (c *clientConn) Send(msg protocol.ServerMessage) bool {
	select {
	case <-c.closing:
		return false
	default:
	}

	data, err := protocol.Encode(msg)
	if err != nil {
		c.logger.Error().Err(err).Str("type", msg.MessageType()).Msg("Failed to encode outbound message")
		return false
	}

	queue := c.control
	if protocol.Droppable(msg) {
		queue = c.media
	}
	select {
	case queue <- data:
		return true
	default:
		c.logger.Warn().Str("type", msg.MessageType()).Msg("Outbound queue full, dropping message")
		return false
	}
}

// alive records client liveness.
func (c *clientConn) alive() {
	c.missed.Store(0)
}

// writeLoop writes queued messages and pings until close is requested or
// the client stops answering. onDead is called when the client is declared
// gone.
func (c *clientConn) writeLoop(onDead func()) {
	defer close(c.done)

	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		// Drain control first.
		select {
		case data := <-c.control:
			if !c.write(data) {
				onDead()
				return
			}
			continue
		default:
		}

		select {
		case data := <-c.control:
			if !c.write(data) {
				onDead()
				return
			}
		case data := <-c.media:
			if !c.write(data) {
				onDead()
				return
			}
		case <-ticker.C:
			if missed := c.missed.Add(1); missed > c.maxMissed {
				c.logger.Warn().Int32("missedPings", missed-1).Msg("Client stopped answering pings")
				onDead()
				return
			}
			deadline := time.Now().Add(c.writeTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Debug().Err(err).Msg("Ping failed")
				onDead()
				return
			}
		case <-c.closing:
			c.flush()
			return
		}
	}
}

// flush writes whatever is still queued, control first, then says goodbye.
func (c *clientConn) flush() {
	for {
		select {
		case data := <-c.control:
			if !c.write(data) {
				return
			}
			continue
		default:
		}
		select {
		case data := <-c.media:
			if !c.write(data) {
				return
			}
			continue
		default:
		}
		break
	}
	deadline := time.Now().Add(c.writeTimeout)
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
}

func (c *clientConn) write(data []byte) bool {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Debug().Err(err).Msg("Client write failed")
		return false
	}
	return true
}

// close stops accepting messages, flushes the queues and closes the socket.
// It waits at most wait for the flush.
func (c *clientConn) close(wait time.Duration) {
	c.closeOnce.Do(func() { close(c.closing) })
	select {
	case <-c.done:
	case <-time.After(wait):
	}
	_ = c.ws.Close()
}
