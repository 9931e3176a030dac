package upstream

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ai-voice-relay-service/internal/observability/metrics"
)

// ErrReconnectRequested is the disconnect cause after Reconnect.
var ErrReconnectRequested = errors.New("upstream: reconnect requested")

// Supervisor owns one upstream connection and keeps it open until Close.
// It is the only mutator of the connection state.
//
// State transitions:
//
//	DISCONNECTED → CONNECTING → CONNECTED ─┐
//	                   ↑   │               │ drop
//	                   │   └── fail ──→ BACKOFF
//	                   └──── timer ────────┘
//
// Close moves any state to DISCONNECTED.
type Supervisor struct {
	name    string
	dialer  Dialer
	policy  Policy
	logger  zerolog.Logger
	metrics *metrics.Metrics

	events chan Event
	done   chan struct{}

	mu      sync.Mutex
	status  Status
	out     chan Message
	cancel  context.CancelFunc
	drop    context.CancelFunc
	started bool
	closed  bool
}

// NewSupervisor creates a supervisor in DISCONNECTED state. Nothing is dialed
// until Open.
func NewSupervisor(name string, dialer Dialer, policy Policy, logger zerolog.Logger) *Supervisor {
	policy = policy.withDefaults()
	return &Supervisor{
		name:    name,
		dialer:  dialer,
		policy:  policy,
		logger:  logger.With().Str("component", "upstream-supervisor").Logger(),
		metrics: metrics.DefaultMetrics,
		events:  make(chan Event, policy.EventBuffer),
		done:    make(chan struct{}),
		status:  Status{State: StateDisconnected},
	}
}

// Name returns the upstream name used in logs and metrics.
func (s *Supervisor) Name() string {
	return s.name
}

// Events returns the channel of state changes, inbound messages, and sent
// notifications. It is closed once the supervisor is fully stopped.
func (s *Supervisor) Events() <-chan Event {
	return s.events
}

// Status returns the current connection status.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Open starts connecting in the background. Calling Open more than once, or
// after Close, has no effect.
func (s *Supervisor) Open(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	go s.run(ctx)
}

// Send offers a message to the current connection. It never blocks: the
// message is dropped and false returned when the connection is not CONNECTED
// or its send buffer is full. Messages are never carried across a reconnect.
func (s *Supervisor) Send(msg Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status.State != StateConnected || s.out == nil {
		s.metrics.RecordUpstreamDrop(s.name)
		return false
	}
	select {
	case s.out <- msg:
		return true
	default:
		s.metrics.RecordUpstreamDrop(s.name)
		s.logger.Warn().Msg("Upstream send buffer full, dropping message")
		return false
	}
}

// Reconnect drops the current connection. The supervisor backs off and
// dials again as after any other disconnect. It has no effect unless
// CONNECTED.
func (s *Supervisor) Reconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.drop != nil {
		s.drop()
	}
}

// Close stops the supervisor and returns once the connection is
// DISCONNECTED. It is safe to call more than once.
func (s *Supervisor) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	started := s.started
	cancel := s.cancel
	s.mu.Unlock()

	if !started {
		close(s.done)
		close(s.events)
		return
	}
	cancel()
	<-s.done
}

func (s *Supervisor) run(ctx context.Context) {
	defer func() {
		s.setStatus(ctx, Status{State: StateDisconnected})
		close(s.events)
		close(s.done)
	}()

	attempt := 0
	for ctx.Err() == nil {
		s.setStatus(ctx, Status{State: StateConnecting, Attempt: attempt})

		conn, err := s.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn().Err(err).Int("attempt", attempt).Msg("Upstream connect failed")
			if !s.backoff(ctx, attempt, err) {
				return
			}
			attempt++
			continue
		}

		connectedAt := time.Now()
		err = s.serve(ctx, conn)
		if ctx.Err() != nil {
			return
		}

		uptime := time.Since(connectedAt)
		if uptime >= s.policy.StableAfter {
			attempt = 0
		}
		s.logger.Warn().
			Err(err).
			Dur("uptime", uptime).
			Int("attempt", attempt).
			Msg("Upstream disconnected")
		if !s.backoff(ctx, attempt, err) {
			return
		}
		attempt++
	}
}

func (s *Supervisor) dial(ctx context.Context) (Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, s.policy.ConnectTimeout)
	defer cancel()
	return s.dialer.Dial(dialCtx)
}

// backoff waits before the next attempt. It returns false if the supervisor
// was closed while waiting.
func (s *Supervisor) backoff(ctx context.Context, attempt int, cause error) bool {
	delay := s.policy.Backoff.Delay(attempt)
	s.setStatusErr(ctx, Status{
		State:       StateBackoff,
		Attempt:     attempt + 1,
		Delay:       delay,
		NextRetryAt: time.Now().Add(delay),
	}, cause)
	s.metrics.RecordUpstreamReconnect(s.name)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// serve runs one connection until it fails or the supervisor is closed.
func (s *Supervisor) serve(ctx context.Context, conn Conn) error {
	connCtx, cancel := context.WithCancel(ctx)
	out := make(chan Message, s.policy.SendBuffer)

	s.mu.Lock()
	s.out = out
	s.drop = cancel
	s.mu.Unlock()
	s.setStatus(ctx, Status{State: StateConnected})
	s.logger.Info().Msg("Upstream connected")

	errc := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.readLoop(connCtx, conn, errc)
	}()
	go func() {
		defer wg.Done()
		s.writeLoop(connCtx, conn, out, errc)
	}()

	var err error
	select {
	case <-connCtx.Done():
		err = ErrReconnectRequested
	case err = <-errc:
	}

	s.mu.Lock()
	s.out = nil
	s.drop = nil
	s.mu.Unlock()

	cancel()
	_ = conn.Close()
	wg.Wait()
	return err
}

func (s *Supervisor) readLoop(ctx context.Context, conn Conn, errc chan<- error) {
	for {
		msg, err := conn.ReadMessage()
		if err != nil {
			errc <- err
			return
		}
		if !s.emit(ctx, Event{Kind: EventMessage, Message: msg}) {
			return
		}
	}
}

func (s *Supervisor) writeLoop(ctx context.Context, conn Conn, out <-chan Message, errc chan<- error) {
	var keepalive <-chan time.Time
	if s.policy.Keepalive != nil && s.policy.KeepaliveInterval > 0 {
		ticker := time.NewTicker(s.policy.KeepaliveInterval)
		defer ticker.Stop()
		keepalive = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-out:
			if err := conn.WriteMessage(msg); err != nil {
				errc <- err
				return
			}
			if msg.Tag != "" {
				s.emit(ctx, Event{Kind: EventSent, Message: msg})
			}
		case <-keepalive:
			if err := conn.WriteMessage(*s.policy.Keepalive); err != nil {
				errc <- err
				return
			}
			s.metrics.RecordUpstreamKeepalive(s.name)
		}
	}
}

func (s *Supervisor) setStatus(ctx context.Context, st Status) {
	s.setStatusErr(ctx, st, nil)
}

func (s *Supervisor) setStatusErr(ctx context.Context, st Status, cause error) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()

	s.metrics.RecordUpstreamState(s.name, st.State.String())
	ev := Event{Kind: EventState, Status: st, Err: cause}
	if ctx.Err() != nil {
		// Stopping: deliver the final state only if there is room.
		select {
		case s.events <- ev:
		default:
		}
		return
	}
	s.emit(ctx, ev)
}

func (s *Supervisor) emit(ctx context.Context, ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
