// Package mock provides an in-memory upstream for tests and for the simulated
// speech providers. Connections are scriptable: dials can be refused, inbound
// messages injected, and connections dropped as if the remote end went away.
package mock

import (
	"context"
	"errors"
	"sync"

	"ai-voice-relay-service/internal/upstream"
)

var (
	// ErrClosed is returned by a connection after Close or Drop.
	ErrClosed = errors.New("mock: connection closed")
	// ErrRefused is returned by Dial while refusals are scripted.
	ErrRefused = errors.New("mock: connection refused")
)

// Responder is invoked for every message written to a connection. It runs
// on the writer's goroutine.
type Responder func(c *Conn, msg upstream.Message)

// Dialer hands out in-memory connections.
type Dialer struct {
	mu        sync.Mutex
	refuse    int
	dials     int
	conns     []*Conn
	respond   Responder
	connected chan *Conn
}

// NewDialer creates a dialer whose connections call respond on every write.
// respond may be nil.
func NewDialer(respond Responder) *Dialer {
	return &Dialer{
		respond:   respond,
		connected: make(chan *Conn, 16),
	}
}

// RefuseNext makes the next n dial attempts fail.
func (d *Dialer) RefuseNext(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refuse = n
}

// Dial implements upstream.Dialer.
func (d *Dialer) Dial(ctx context.Context) (upstream.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	d.dials++
	if d.refuse > 0 {
		d.refuse--
		d.mu.Unlock()
		return nil, ErrRefused
	}
	c := NewConn(d.respond)
	d.conns = append(d.conns, c)
	d.mu.Unlock()

	select {
	case d.connected <- c:
	default:
	}
	return c, nil
}

// Dials returns the number of dial attempts, refused ones included.
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// Conns returns every connection handed out so far.
func (d *Dialer) Conns() []*Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Conn(nil), d.conns...)
}

// Last returns the most recent connection, or nil.
func (d *Dialer) Last() *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// Connected delivers each new connection as it is dialed.
func (d *Dialer) Connected() <-chan *Conn {
	return d.connected
}

// Conn is an in-memory upstream.Conn.
type Conn struct {
	in        chan upstream.Message
	closed    chan struct{}
	closeOnce sync.Once
	respond   Responder

	mu     sync.Mutex
	writes []upstream.Message
}

// NewConn creates a standalone connection.
func NewConn(respond Responder) *Conn {
	return &Conn{
		in:      make(chan upstream.Message, 64),
		closed:  make(chan struct{}),
		respond: respond,
	}
}

// ReadMessage implements upstream.Conn.
func (c *Conn) ReadMessage() (upstream.Message, error) {
	select {
	case msg := <-c.in:
		return msg, nil
	case <-c.closed:
		return upstream.Message{}, ErrClosed
	}
}

// WriteMessage implements upstream.Conn.
func (c *Conn) WriteMessage(msg upstream.Message) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	c.mu.Lock()
	c.writes = append(c.writes, msg)
	c.mu.Unlock()

	if c.respond != nil {
		c.respond(c, msg)
	}
	return nil
}

// Close implements upstream.Conn.
func (c *Conn) Close() error {
	c.Drop()
	return nil
}

// Drop terminates the connection as if the remote end closed it.
func (c *Conn) Drop() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// IsClosed reports whether the connection was closed or dropped.
func (c *Conn) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Inject queues an inbound message. It returns false if the connection is
// closed.
func (c *Conn) Inject(msg upstream.Message) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.in <- msg:
		return true
	case <-c.closed:
		return false
	}
}

// Writes returns a copy of every message written to the connection.
func (c *Conn) Writes() []upstream.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]upstream.Message(nil), c.writes...)
}
