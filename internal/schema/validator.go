// Package schema validates outgoing events before they are published.
package schema

import (
	"errors"
	"fmt"

	"voice-transcriber-bot/internal/models"
)

// ErrInvalidEvent is wrapped by every validation failure.
var ErrInvalidEvent = errors.New("invalid event")

type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// Validate checks the required fields of a known event type. Unknown types
// are rejected.
func (v *Validator) Validate(event any) error {
	switch e := event.(type) {
	case *models.TranscriptionCompleted:
		return v.completed(e)
	case models.TranscriptionCompleted:
		return v.completed(&e)
	case *models.TranscriptionFailed:
		return v.failed(e)
	case models.TranscriptionFailed:
		return v.failed(&e)
	default:
		return fmt.Errorf("%w: unknown type %T", ErrInvalidEvent, event)
	}
}

func (v *Validator) completed(e *models.TranscriptionCompleted) error {
	if e.EventType != models.EventTranscriptionCompleted {
		return invalid("eventType %q", e.EventType)
	}
	if err := common(e.RequestID, e.ChatID, e.AudioDuration); err != nil {
		return err
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return invalid("confidence %v outside [0,1]", e.Confidence)
	}
	if e.Messages < 1 {
		return invalid("messages %d", e.Messages)
	}
	return nil
}

func (v *Validator) failed(e *models.TranscriptionFailed) error {
	if e.EventType != models.EventTranscriptionFailed {
		return invalid("eventType %q", e.EventType)
	}
	if err := common(e.RequestID, e.ChatID, e.AudioDuration); err != nil {
		return err
	}
	if e.Reason == "" {
		return invalid("missing reason")
	}
	return nil
}

func common(requestID string, chatID int64, duration int) error {
	if requestID == "" {
		return invalid("missing requestId")
	}
	if chatID == 0 {
		return invalid("missing chatId")
	}
	if duration < 0 {
		return invalid("negative audioDuration %d", duration)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidEvent, fmt.Sprintf(format, args...))
}
