package upstream

import "time"

// Backoff computes reconnect delays of Base * 2^attempt, capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the wait before the given zero-based retry attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	base, ceiling := b.Base, b.Max
	if base <= 0 {
		base = time.Second
	}
	if ceiling < base {
		ceiling = base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	return d
}

// Policy configures a Supervisor.
type Policy struct {
	Backoff Backoff
	// StableAfter is how long a connection must stay up before the attempt
	// counter resets to zero.
	StableAfter       time.Duration
	ConnectTimeout    time.Duration
	KeepaliveInterval time.Duration
	// Keepalive is written every KeepaliveInterval while connected. Nil
	// disables keepalive.
	Keepalive   *Message
	SendBuffer  int
	EventBuffer int
}

// DefaultPolicy returns the reconnect policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		Backoff:        Backoff{Base: time.Second, Max: 8 * time.Second},
		StableAfter:    3 * time.Second,
		ConnectTimeout: 10 * time.Second,
		SendBuffer:     128,
		EventBuffer:    64,
	}
}

func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.Backoff.Base <= 0 {
		p.Backoff.Base = def.Backoff.Base
	}
	if p.Backoff.Max <= 0 {
		p.Backoff.Max = def.Backoff.Max
	}
	if p.ConnectTimeout <= 0 {
		p.ConnectTimeout = def.ConnectTimeout
	}
	if p.SendBuffer <= 0 {
		p.SendBuffer = def.SendBuffer
	}
	if p.EventBuffer <= 0 {
		p.EventBuffer = def.EventBuffer
	}
	return p
}
