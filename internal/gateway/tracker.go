package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ai-voice-relay-service/internal/store"
)

// Tracker knows every live session of this instance. Sessions are mirrored
// into a shared registry so other instances and operators can find them.
type Tracker struct {
	registry store.Registry
	instance string
	logger   zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*trackedSession
	wg       sync.WaitGroup
}

type trackedSession struct {
	cancel func()
	once   sync.Once
}

// NewTracker creates a tracker. registry may be nil.
func NewTracker(registry store.Registry, instance string, logger zerolog.Logger) *Tracker {
	return &Tracker{
		registry: registry,
		instance: instance,
		logger:   logger.With().Str("component", "session-tracker").Logger(),
		sessions: make(map[string]*trackedSession),
	}
}

// Register adds a session and returns the function that removes it.
func (t *Tracker) Register(sessionId string, cancel func()) (unregister func()) {
	entry := &trackedSession{cancel: cancel}

	t.mu.Lock()
	old := t.sessions[sessionId]
	t.sessions[sessionId] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil {
		t.unregister(sessionId, old)
	}
	t.Describe(store.SessionInfo{ID: sessionId, StartedAt: time.Now()})

	return func() { t.unregister(sessionId, entry) }
}

func (t *Tracker) unregister(sessionId string, entry *trackedSession) {
	entry.once.Do(func() {
		t.mu.Lock()
		if t.sessions[sessionId] == entry {
			delete(t.sessions, sessionId)
		}
		t.mu.Unlock()

		if t.registry != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := t.registry.Deregister(ctx, sessionId); err != nil {
				t.logger.Warn().Err(err).Str("sessionId", sessionId).Msg("Failed to deregister session")
			}
		}
		t.wg.Done()
	})
}

// Describe updates the registry entry of a session.
func (t *Tracker) Describe(info store.SessionInfo) {
	if t.registry == nil {
		return
	}
	info.Instance = t.instance
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := t.registry.Register(ctx, info); err != nil {
		t.logger.Warn().Err(err).Str("sessionId", info.ID).Msg("Failed to register session")
	}
}

// Count returns the number of live sessions.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// CancelAll cancels every live session and returns how many were canceled.
func (t *Tracker) CancelAll() int {
	var cancels []func()
	t.mu.Lock()
	for _, entry := range t.sessions {
		if entry.cancel != nil {
			cancels = append(cancels, entry.cancel)
		}
	}
	t.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	return len(cancels)
}

// Wait blocks until every session has unregistered or ctx is done. It
// reports whether all sessions finished.
func (t *Tracker) Wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
