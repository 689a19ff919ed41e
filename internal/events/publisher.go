// Package events provides event publishing functionality.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"voice-transcriber-bot/internal/models"
	"voice-transcriber-bot/internal/observability/metrics"
	"voice-transcriber-bot/internal/schema"
)

// messageWriter is the part of kafka.Writer used by the publisher.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher publishes transcription events to separate Kafka topics.
type Publisher struct {
	writerCompleted messageWriter
	writerFailed    messageWriter
	principal       string
	topicCompleted  string
	topicFailed     string
	enabled         bool
	validator       *schema.Validator
	metrics         *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers        []string
	TopicCompleted string
	TopicFailed    string
	Principal      string
	Enabled        bool
}

// New creates a Kafka event publisher. A nil or disabled config, or one
// without brokers, yields a log-only publisher.
func New(cfg *Config) *Publisher {
	m := metrics.DefaultMetrics

	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{
			enabled:   false,
			validator: schema.New(),
			metrics:   m,
		}
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:      cfg.Principal,
			topicCompleted: cfg.TopicCompleted,
			topicFailed:    cfg.TopicFailed,
			enabled:        false,
			validator:      schema.New(),
			metrics:        m,
		}
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicCompleted", cfg.TopicCompleted).
		Str("topicFailed", cfg.TopicFailed).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerCompleted: newWriter(cfg.Brokers, cfg.TopicCompleted, transport),
		writerFailed:    newWriter(cfg.Brokers, cfg.TopicFailed, transport),
		principal:       cfg.Principal,
		topicCompleted:  cfg.TopicCompleted,
		topicFailed:     cfg.TopicFailed,
		enabled:         true,
		validator:       schema.New(),
		metrics:         m,
	}
}

func newWriter(brokers []string, topic string, transport *kafka.Transport) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}
}

// PublishCompleted publishes a completed transcription event.
func (p *Publisher) PublishCompleted(ctx context.Context, key string, event *models.TranscriptionCompleted) error {
	return p.publish(ctx, p.writerCompleted, p.topicCompleted, models.EventTranscriptionCompleted, key, event)
}

// PublishFailed publishes a failed transcription event.
func (p *Publisher) PublishFailed(ctx context.Context, key string, event *models.TranscriptionFailed) error {
	return p.publish(ctx, p.writerFailed, p.topicFailed, models.EventTranscriptionFailed, key, event)
}

func (p *Publisher) publish(ctx context.Context, writer messageWriter, topic, eventType, key string, event any) error {
	start := time.Now()

	if err := p.validator.Validate(event); err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Rejected invalid event")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

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

	// If Kafka is disabled, just log
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
	var result *multierror.Error
	if p.writerCompleted != nil {
		if err := p.writerCompleted.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing completed writer")
			result = multierror.Append(result, err)
		}
	}
	if p.writerFailed != nil {
		if err := p.writerFailed.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing failed writer")
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
