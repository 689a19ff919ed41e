package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"voice-transcriber-bot/internal/models"
	"voice-transcriber-bot/internal/schema"
)

// messageReader is the part of kafka.Reader used by Tail.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// NewReader returns a partition reader for topic starting at the messages
// written since the given time ago.
func NewReader(ctx context.Context, brokers []string, topic string, since time.Duration) (*kafka.Reader, error) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	if since > 0 {
		if err := reader.SetOffsetAt(ctx, time.Now().Add(-since)); err != nil {
			reader.Close()
			return nil, fmt.Errorf("seek %s: %w", topic, err)
		}
	}
	return reader, nil
}

// Decode parses a message written by Publisher. The event type comes from
// the eventType header and the payload must pass schema validation.
func Decode(msg kafka.Message) (any, error) {
	var eventType string
	for _, h := range msg.Headers {
		if h.Key == "eventType" {
			eventType = string(h.Value)
		}
	}

	var event any
	switch eventType {
	case models.EventTranscriptionCompleted:
		event = &models.TranscriptionCompleted{}
	case models.EventTranscriptionFailed:
		event = &models.TranscriptionFailed{}
	default:
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}
	if err := json.Unmarshal(msg.Value, event); err != nil {
		return nil, fmt.Errorf("decode %s: %w", eventType, err)
	}
	if err := schema.New().Validate(event); err != nil {
		return nil, err
	}
	return event, nil
}

// Tail reads messages until ctx is done, handing every decodable event to
// fn. Undecodable messages are logged and skipped.
func Tail(ctx context.Context, r messageReader, fn func(event any)) error {
	for {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("read message: %w", err)
		}

		event, err := Decode(msg)
		if err != nil {
			log.Warn().Err(err).
				Str("topic", msg.Topic).
				Int64("offset", msg.Offset).
				Msg("Skipping undecodable event")
			continue
		}
		fn(event)
	}
}
