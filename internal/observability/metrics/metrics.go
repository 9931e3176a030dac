// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "voice_relay"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsTotal   prometheus.Counter
	SessionsActive  prometheus.Gauge
	SessionsRefused *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	// Turn metrics
	TurnTransitions   *prometheus.CounterVec
	UtterancesQueued  prometheus.Counter
	UtterancesDropped *prometheus.CounterVec

	// Completion metrics
	CompletionLatency   prometheus.Histogram
	CompletionFallbacks *prometheus.CounterVec
	CompletionsInFlight prometheus.Gauge

	// Upstream metrics
	UpstreamStates        *prometheus.CounterVec
	UpstreamReconnects    *prometheus.CounterVec
	UpstreamFramesDropped *prometheus.CounterVec
	UpstreamKeepalives    *prometheus.CounterVec

	// Transcript metrics
	TranscriptsInterim  prometheus.Counter
	TranscriptsFinal    prometheus.Counter
	UtterancesFinalized prometheus.Counter
	UtterancesAbandoned *prometheus.CounterVec
	STTErrors           *prometheus.CounterVec

	// Audio metrics
	AudioBytesIn   prometheus.Counter
	AudioFramesIn  prometheus.Counter
	AudioChunksOut prometheus.Counter
	TTSErrors      *prometheus.CounterVec

	// Client protocol metrics
	ClientFramesRejected *prometheus.CounterVec
	OutboundDropped      *prometheus.CounterVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// Store metrics
	StoreWriteErrors *prometheus.CounterVec

	// gRPC metrics
	GRPCRequests *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		// Session metrics
		SessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of relay sessions accepted",
		}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently active relay sessions",
		}),
		SessionsRefused: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_refused_total",
			Help:      "Total number of sessions refused before any upstream connected",
		}, []string{"reason"}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of relay sessions in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),

		// Turn metrics
		TurnTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_transitions_total",
			Help:      "Total number of turn state transitions",
		}, []string{"from", "to"}),
		UtterancesQueued: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_queued_total",
			Help:      "Total number of utterances queued behind an in-flight completion",
		}),
		UtterancesDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_dropped_total",
			Help:      "Total number of finalized utterances not answered",
		}, []string{"reason"}),

		// Completion metrics
		CompletionLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "completion_latency_seconds",
			Help:      "Completion service latency in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 15},
		}),
		CompletionFallbacks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completion_fallbacks_total",
			Help:      "Total number of completions answered with the fallback text",
		}, []string{"reason"}),
		CompletionsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "completions_in_flight",
			Help:      "Number of completion calls currently outstanding",
		}),

		// Upstream metrics
		UpstreamStates: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_state_changes_total",
			Help:      "Total number of upstream connection state changes",
		}, []string{"upstream", "state"}),
		UpstreamReconnects: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_reconnects_total",
			Help:      "Total number of upstream reconnect attempts",
		}, []string{"upstream"}),
		UpstreamFramesDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_frames_dropped_total",
			Help:      "Total number of frames dropped because the upstream was not connected",
		}, []string{"upstream"}),
		UpstreamKeepalives: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_keepalives_total",
			Help:      "Total number of upstream keepalive messages sent",
		}, []string{"upstream"}),

		// Transcript metrics
		TranscriptsInterim: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_interim_total",
			Help:      "Total number of interim transcripts received",
		}),
		TranscriptsFinal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcripts_final_total",
			Help:      "Total number of final transcript segments received",
		}),
		UtterancesFinalized: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_finalized_total",
			Help:      "Total number of utterances handed to the turn coordinator",
		}),
		UtterancesAbandoned: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_abandoned_total",
			Help:      "Total number of in-progress utterances dropped",
		}, []string{"reason"}),
		STTErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_errors_total",
			Help:      "Total number of STT errors",
		}, []string{"provider", "error_type"}),

		// Audio metrics
		AudioBytesIn: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_in_total",
			Help:      "Total caller audio bytes received",
		}),
		AudioFramesIn: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_in_total",
			Help:      "Total caller audio frames received",
		}),
		AudioChunksOut: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_out_total",
			Help:      "Total synthesized audio chunks forwarded to clients",
		}),
		TTSErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tts_errors_total",
			Help:      "Total number of TTS errors",
		}, []string{"provider", "error_type"}),

		// Client protocol metrics
		ClientFramesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_frames_rejected_total",
			Help:      "Total number of inbound client frames ignored",
		}, []string{"reason"}),
		OutboundDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_dropped_total",
			Help:      "Total number of outbound client messages dropped on a full queue",
		}, []string{"type"}),

		// Kafka publish metrics
		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		// Store metrics
		StoreWriteErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_write_errors_total",
			Help:      "Total number of failed fire-and-forget store writes",
		}, []string{"kind"}),

		// gRPC metrics
		GRPCRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_requests_total",
			Help:      "Total number of gRPC requests served",
		}, []string{"method", "code"}),
	}
}

// RecordSessionStart records a new session being accepted.
func (m *Metrics) RecordSessionStart() {
	m.SessionsTotal.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session ending.
func (m *Metrics) RecordSessionEnd(durationSeconds float64) {
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordSessionRefused records a session refused before any upstream opened.
func (m *Metrics) RecordSessionRefused(reason string) {
	m.SessionsRefused.WithLabelValues(reason).Inc()
}

// RecordTurnTransition records a turn state machine edge.
func (m *Metrics) RecordTurnTransition(from, to string) {
	m.TurnTransitions.WithLabelValues(from, to).Inc()
}

// RecordUtteranceQueued records an utterance waiting behind a completion.
func (m *Metrics) RecordUtteranceQueued() {
	m.UtterancesQueued.Inc()
}

// RecordUtteranceDropped records a finalized utterance that will not be answered.
func (m *Metrics) RecordUtteranceDropped(reason string) {
	m.UtterancesDropped.WithLabelValues(reason).Inc()
}

// RecordCompletionStart marks a completion call as outstanding.
func (m *Metrics) RecordCompletionStart() {
	m.CompletionsInFlight.Inc()
}

// RecordCompletionEnd records a resolved completion call.
func (m *Metrics) RecordCompletionEnd(latencySeconds float64, fallbackReason string) {
	m.CompletionsInFlight.Dec()
	m.CompletionLatency.Observe(latencySeconds)
	if fallbackReason != "" {
		m.CompletionFallbacks.WithLabelValues(fallbackReason).Inc()
	}
}

// RecordUpstreamState records an upstream connection state change.
func (m *Metrics) RecordUpstreamState(upstream, state string) {
	m.UpstreamStates.WithLabelValues(upstream, state).Inc()
}

// RecordUpstreamReconnect records a reconnect attempt after a failure.
func (m *Metrics) RecordUpstreamReconnect(upstream string) {
	m.UpstreamReconnects.WithLabelValues(upstream).Inc()
}

// RecordUpstreamDrop records a frame offered while the upstream was unavailable.
func (m *Metrics) RecordUpstreamDrop(upstream string) {
	m.UpstreamFramesDropped.WithLabelValues(upstream).Inc()
}

// RecordUpstreamKeepalive records a keepalive message written to an upstream.
func (m *Metrics) RecordUpstreamKeepalive(upstream string) {
	m.UpstreamKeepalives.WithLabelValues(upstream).Inc()
}

// RecordInterimTranscript records an interim transcript received.
func (m *Metrics) RecordInterimTranscript() {
	m.TranscriptsInterim.Inc()
}

// RecordFinalTranscript records a final transcript segment received.
func (m *Metrics) RecordFinalTranscript() {
	m.TranscriptsFinal.Inc()
}

// RecordUtterance records a finalized utterance.
func (m *Metrics) RecordUtterance() {
	m.UtterancesFinalized.Inc()
}

// RecordUtteranceAbandoned records an in-progress utterance being dropped.
func (m *Metrics) RecordUtteranceAbandoned(reason string) {
	m.UtterancesAbandoned.WithLabelValues(reason).Inc()
}

// RecordSTTError records an STT error.
func (m *Metrics) RecordSTTError(provider, errorType string) {
	m.STTErrors.WithLabelValues(provider, errorType).Inc()
}

// RecordTTSError records a TTS error.
func (m *Metrics) RecordTTSError(provider, errorType string) {
	m.TTSErrors.WithLabelValues(provider, errorType).Inc()
}

// RecordAudioReceived records caller audio bytes and frames received.
func (m *Metrics) RecordAudioReceived(bytes int) {
	m.AudioBytesIn.Add(float64(bytes))
	m.AudioFramesIn.Inc()
}

// RecordAudioChunkOut records a synthesized chunk forwarded to the client.
func (m *Metrics) RecordAudioChunkOut() {
	m.AudioChunksOut.Inc()
}

// RecordFrameRejected records an inbound client frame that was ignored.
func (m *Metrics) RecordFrameRejected(reason string) {
	m.ClientFramesRejected.WithLabelValues(reason).Inc()
}

// RecordOutboundDropped records an outbound message dropped on a full queue.
func (m *Metrics) RecordOutboundDropped(msgType string) {
	m.OutboundDropped.WithLabelValues(msgType).Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordStoreWriteError records a failed store write.
func (m *Metrics) RecordStoreWriteError(kind string) {
	m.StoreWriteErrors.WithLabelValues(kind).Inc()
}

// RecordGRPCRequest records a served gRPC request.
func (m *Metrics) RecordGRPCRequest(method, code string) {
	m.GRPCRequests.WithLabelValues(method, code).Inc()
}
