// Package stt defines the interface for Speech-to-Text adapters and the
// gateway that picks a recognition strategy and assembles results.
package stt

import (
	"context"
	"errors"
	"strings"

	"voice-transcriber-bot/internal/service/audio"
)

// ErrTimeout is returned when the backend does not answer within the
// configured window. Callers may retry; the gateway never does.
var ErrTimeout = errors.New("recognition timed out")

// Encoding names accepted in configuration.
const (
	EncodingOggOpus  = "OGG_OPUS"
	EncodingLinear16 = "LINEAR16"
	EncodingFLAC     = "FLAC"
)

// RecognitionConfig is the per-request backend configuration.
type RecognitionConfig struct {
	Encoding     string
	SampleRateHz uint32
	LanguageCode string
	Punctuation  bool
}

// Segment is one time-ordered piece of a backend response, best alternative only.
type Segment struct {
	Transcript string
	Confidence float64
}

// Words returns the whitespace-separated word count of the segment.
func (s Segment) Words() int {
	return len(strings.Fields(s.Transcript))
}

// Operation is a submitted long-running recognition.
type Operation interface {
	// Name identifies the operation at the backend, for logging.
	Name() string

	// Wait blocks until the operation completes or ctx is done.
	Wait(ctx context.Context) ([]Segment, error)
}

// Adapter defines the interface for STT providers (Google, mock, etc.).
type Adapter interface {
	// Name returns the provider name used in logs and metrics.
	Name() string

	// RecognizeShort performs a synchronous recognition.
	RecognizeShort(ctx context.Context, payload audio.Payload, cfg RecognitionConfig) ([]Segment, error)

	// RecognizeLong submits a long-running recognition.
	RecognizeLong(ctx context.Context, payload audio.Payload, cfg RecognitionConfig) (Operation, error)

	// Close releases resources.
	Close() error
}
