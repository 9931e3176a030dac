// Package events publishes transcript lines and call status changes to Kafka.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"ai-voice-relay-service/internal/models"
	"ai-voice-relay-service/internal/observability/metrics"
	"ai-voice-relay-service/internal/schema"
)

// Publisher publishes relay events to one topic per event kind.
type Publisher struct {
	writerTranscript *kafka.Writer
	writerCallStatus *kafka.Writer
	principal        string
	topicTranscript  string
	topicCallStatus  string
	enabled          bool
	validator        *schema.Validator
	metrics          *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers         []string
	TopicTranscript string
	TopicCallStatus string
	Principal       string
	Enabled         bool
}

// New creates a publisher. A nil or disabled config yields a log-only
// publisher.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics
	v := schema.New()

	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{
			enabled:   false,
			validator: v,
			metrics:   m,
		}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:       cfg.Principal,
			topicTranscript: cfg.TopicTranscript,
			topicCallStatus: cfg.TopicCallStatus,
			enabled:         false,
			validator:       v,
			metrics:         m,
		}
	}

	// Longer dial timeout for DNS resolution in Kubernetes.
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicTranscript", cfg.TopicTranscript).
		Str("topicCallStatus", cfg.TopicCallStatus).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerTranscript: newWriter(cfg.TopicTranscript),
		writerCallStatus: newWriter(cfg.TopicCallStatus),
		principal:        cfg.Principal,
		topicTranscript:  cfg.TopicTranscript,
		topicCallStatus:  cfg.TopicCallStatus,
		enabled:          true,
		validator:        v,
		metrics:          m,
	}
}

// PublishTranscript publishes a transcript line keyed by session, so the
// lines of one conversation stay ordered within a partition.
func (p *Publisher) PublishTranscript(ctx context.Context, line models.TranscriptLine) error {
	if err := p.validator.Validate(line); err != nil {
		return err
	}
	return p.publish(ctx, p.writerTranscript, p.topicTranscript, line.EventType, line.SessionID, line)
}

// PublishCallStatus publishes a call status change keyed by call SID when
// known, otherwise by session.
func (p *Publisher) PublishCallStatus(ctx context.Context, status models.CallStatus) error {
	if err := p.validator.Validate(status); err != nil {
		return err
	}
	key := status.CallSID
	if key == "" {
		key = status.SessionID
	}
	return p.publish(ctx, p.writerCallStatus, p.topicCallStatus, status.EventType, key, status)
}

func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	// Log-only mode.
	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerTranscript != nil {
		if e := p.writerTranscript.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing transcript writer")
			err = e
		}
	}
	if p.writerCallStatus != nil {
		if e := p.writerCallStatus.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing call status writer")
			err = e
		}
	}
	return err
}
