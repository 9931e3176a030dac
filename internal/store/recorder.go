package store

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ai-voice-relay-service/internal/models"
	"ai-voice-relay-service/internal/observability/metrics"
)

// EventPublisher mirrors records onto the event bus.
type EventPublisher interface {
	PublishTranscript(ctx context.Context, line models.TranscriptLine) error
	PublishCallStatus(ctx context.Context, status models.CallStatus) error
}

// Recorder writes transcript lines and call status rows off the session's
// hot path. Writes never block the caller; failures are logged and counted.
// Records of one session are written one at a time in the order they were
// issued; different sessions write concurrently.
type Recorder struct {
	writer    Writer
	publisher EventPublisher
	timeout   time.Duration
	logger    zerolog.Logger
	metrics   *metrics.Metrics

	mu     sync.Mutex
	queues map[string][]record
	wg     sync.WaitGroup
}

type record struct {
	kind    string
	write   func(context.Context) error
	publish func(context.Context) error
}

// NewRecorder creates a recorder. publisher may be nil.
func NewRecorder(writer Writer, publisher EventPublisher, timeout time.Duration, logger zerolog.Logger) *Recorder {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Recorder{
		writer:    writer,
		publisher: publisher,
		timeout:   timeout,
		logger:    logger.With().Str("component", "recorder").Logger(),
		metrics:   metrics.DefaultMetrics,
		queues:    make(map[string][]record),
	}
}

// Transcript records one conversation line.
func (r *Recorder) Transcript(line models.TranscriptLine) {
	line.EventType = models.EventTypeTranscript
	if line.Timestamp == 0 {
		line.Timestamp = time.Now().UnixMilli()
	}
	r.enqueue(queueKey(line.SessionID, line.CallSID), record{
		kind: "transcript",
		write: func(ctx context.Context) error {
			return r.writer.InsertTranscript(ctx, line)
		},
		publish: func(ctx context.Context) error {
			return r.publisher.PublishTranscript(ctx, line)
		},
	})
}

// CallStatus records one call lifecycle change.
func (r *Recorder) CallStatus(status models.CallStatus) {
	status.EventType = models.EventTypeCallStatus
	if status.Timestamp == 0 {
		status.Timestamp = time.Now().UnixMilli()
	}
	r.enqueue(queueKey(status.SessionID, status.CallSID), record{
		kind: "call_status",
		write: func(ctx context.Context) error {
			return r.writer.InsertCallStatus(ctx, status)
		},
		publish: func(ctx context.Context) error {
			return r.publisher.PublishCallStatus(ctx, status)
		},
	})
}

// Wait blocks until every write issued so far has finished.
func (r *Recorder) Wait() {
	r.wg.Wait()
}

// queueKey groups records by session. Provider status callbacks carry only
// the call SID.
func queueKey(sessionId, callSid string) string {
	if sessionId != "" {
		return sessionId
	}
	return "call:" + callSid
}

// enqueue appends rec to the queue of key and starts a drainer if the queue
// was idle.
func (r *Recorder) enqueue(key string, rec record) {
	r.wg.Add(1)
	r.mu.Lock()
	q, busy := r.queues[key]
	r.queues[key] = append(q, rec)
	r.mu.Unlock()

	if !busy {
		go r.drain(key)
	}
}

// drain writes the queue of key until it is empty, then forgets the key.
func (r *Recorder) drain(key string) {
	for {
		r.mu.Lock()
		q := r.queues[key]
		if len(q) == 0 {
			delete(r.queues, key)
			r.mu.Unlock()
			return
		}
		rec := q[0]
		r.queues[key] = q[1:]
		r.mu.Unlock()

		r.persist(key, rec)
		r.wg.Done()
	}
}

// Writes use their own deadline so records issued during teardown still land.
func (r *Recorder) persist(key string, rec record) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if r.writer != nil {
		if err := rec.write(ctx); err != nil {
			r.metrics.RecordStoreWriteError(rec.kind)
			r.logger.Error().
				Err(err).
				Str("sessionId", key).
				Str("kind", rec.kind).
				Msg("Failed to persist record")
		}
	}
	if r.publisher != nil {
		if err := rec.publish(ctx); err != nil {
			r.logger.Warn().
				Err(err).
				Str("sessionId", key).
				Str("kind", rec.kind).
				Msg("Failed to publish record")
		}
	}
}
