// Package transcription sequences one voice message through recognition and
// delivery: placeholder, gateway call, failure funnel, transcript delivery,
// file cleanup, statistics and events.
package transcription

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"voice-transcriber-bot/internal/models"
	"voice-transcriber-bot/internal/observability/logging"
	"voice-transcriber-bot/internal/observability/metrics"
	"voice-transcriber-bot/internal/service/audio"
	"voice-transcriber-bot/internal/service/delivery"
	"voice-transcriber-bot/internal/service/ogg"
	"voice-transcriber-bot/internal/service/stt"
	"voice-transcriber-bot/internal/store"
)

// User-visible texts.
const (
	PlaceholderShort = "<i>Inizio trascrizione...</i>"
	PlaceholderLong  = "<i>Inizio trascrizione... Per i vocali >1 minuto potrebbe volerci un po' di più</i>"
	FailureText      = "<i>Impossibile trascrivere messaggio vocale</i>"
)

// ErrEmptyResult is returned when the backend recognized no speech.
var ErrEmptyResult = errors.New("no speech recognized")

// Recognizer runs one recognition. *stt.Gateway implements it.
type Recognizer interface {
	Recognize(ctx context.Context, asset *audio.Asset, opts stt.Options) (*stt.Result, error)
}

// Stats stores transcription statistics. *store.Store implements it.
type Stats interface {
	AddTranscription(r *store.TranscriptionRecord) error
	EstimatedDuration(duration, window int) (float64, bool, error)
}

// Publisher emits transcription events. *events.Publisher implements it.
type Publisher interface {
	PublishCompleted(ctx context.Context, key string, event *models.TranscriptionCompleted) error
	PublishFailed(ctx context.Context, key string, event *models.TranscriptionFailed) error
}

// FailureMode decides what happens to the placeholder when nothing can be
// delivered.
type FailureMode int

const (
	// FailureEdit replaces the placeholder with FailureText.
	FailureEdit FailureMode = iota
	// FailureDelete removes the placeholder silently.
	FailureDelete
)

// Config holds file-retention policy.
type Config struct {
	RemoveDownloadedFiles bool
	KeepFilesOnError      bool
	EstimateWindow        int
}

// Request is one voice message to transcribe.
type Request struct {
	ChatID int64
	// MessageID is the voice message the placeholder replies to.
	MessageID int
	Asset     *audio.Asset
	Options   stt.Options
	OnFailure FailureMode
	// Placeholder overrides the default placeholder text.
	Placeholder string
}

// Outcome describes a finished request.
type Outcome struct {
	RequestID   string
	Placeholder delivery.MessageRef
	Result      *stt.Result
	Messages    int
	// Reason is empty on success, otherwise one of the models.Reason* values.
	Reason string
}

// Service orchestrates transcriptions. It holds no per-request state and is
// safe for concurrent use.
type Service struct {
	recognizer Recognizer
	sink       delivery.Sink
	deliverer  *delivery.Deliverer
	stats      Stats
	publisher  Publisher
	cfg        Config
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	newID      func() string
}

// Option configures a Service.
type Option func(*Service)

// WithStats records statistics and enables duration estimates.
func WithStats(s Stats) Option {
	return func(svc *Service) { svc.stats = s }
}

// WithPublisher emits transcription events.
func WithPublisher(p Publisher) Option {
	return func(svc *Service) { svc.publisher = p }
}

// WithMetrics records transcription metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(svc *Service) { svc.metrics = m }
}

// New creates a Service.
func New(recognizer Recognizer, sink delivery.Sink, deliverer *delivery.Deliverer, cfg Config, opts ...Option) *Service {
	if cfg.EstimateWindow <= 0 {
		cfg.EstimateWindow = store.DefaultEstimateWindow
	}
	s := &Service{
		recognizer: recognizer,
		sink:       sink,
		deliverer:  deliverer,
		cfg:        cfg,
		logger:     logging.WithComponent("transcription"),
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Placeholder returns the text shown while a voice message is being
// transcribed. Long audio mentions the estimated wait when one is known.
func (s *Service) Placeholder(duration int) string {
	if duration <= audio.ShortThreshold {
		return PlaceholderShort
	}
	if s.stats == nil {
		return PlaceholderLong
	}
	estimate, ok, err := s.stats.EstimatedDuration(duration, s.cfg.EstimateWindow)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to estimate transcription time")
		return PlaceholderLong
	}
	if !ok {
		return PlaceholderLong
	}
	return fmt.Sprintf("<i>Inizio trascrizione... Per i vocali >1 minuto potrebbe volerci un po' di più (stimato: %.1f s)</i>", estimate)
}

// Transcribe runs the whole pipeline for one voice message. Every failure
// after the placeholder is sent ends with the placeholder edited or deleted
// according to req.OnFailure; the returned error describes what went wrong.
func (s *Service) Transcribe(ctx context.Context, req Request) (*Outcome, error) {
	out := &Outcome{RequestID: s.newID()}
	logger := logging.WithAsset(s.logger, req.Asset.ID, req.Asset.Duration).With().
		Str("requestId", out.RequestID).
		Int64("chatId", req.ChatID).
		Int("messageId", req.MessageID).
		Logger()

	if s.metrics != nil {
		s.metrics.RecordTranscriptionStart(req.Asset.Duration)
		defer s.metrics.RecordTranscriptionEnd()
	}

	text := req.Placeholder
	if text == "" {
		text = s.Placeholder(req.Asset.Duration)
	}
	placeholder, err := s.sink.Reply(ctx, delivery.MessageRef{ChatID: req.ChatID, MessageID: req.MessageID}, text)
	if err != nil {
		s.cleanup(ctx, req.Asset, !s.cfg.KeepFilesOnError, logger)
		return out, fmt.Errorf("send placeholder: %w", err)
	}
	out.Placeholder = placeholder

	start := time.Now()
	result, err := s.recognizer.Recognize(ctx, req.Asset, req.Options)
	if err != nil {
		out.Reason = failureReason(err)
		logger.Error().Err(err).Str("reason", out.Reason).Msg("Recognition failed")
		s.cleanup(ctx, req.Asset, !s.cfg.KeepFilesOnError, logger)
		s.fail(ctx, req, out, time.Since(start), logger)
		return out, err
	}
	out.Result = result

	if result.Empty() {
		out.Reason = models.ReasonEmptyResult
		logger.Warn().Str("path", req.Asset.LocalPath).Msg("Recognition returned empty response (file not deleted)")
		s.record(req, result, false, logger)
		s.fail(ctx, req, out, result.Elapsed, logger)
		return out, ErrEmptyResult
	}

	s.record(req, result, true, logger)

	n, err := s.deliverer.Deliver(ctx, placeholder, delivery.Transcript{
		Text:       result.Transcript,
		Confidence: result.Confidence,
		Elapsed:    result.Elapsed,
	})
	out.Messages = n
	if err != nil {
		out.Reason = models.ReasonDelivery
		logger.Error().Err(err).Int("sent", n).Msg("Transcript delivery failed")
		if n == 0 {
			s.fail(ctx, req, out, result.Elapsed, logger)
		} else {
			s.publishFailed(ctx, req, out, result.Elapsed, logger)
		}
		s.cleanup(ctx, req.Asset, s.cfg.RemoveDownloadedFiles, logger)
		return out, err
	}

	s.cleanup(ctx, req.Asset, s.cfg.RemoveDownloadedFiles, logger)
	s.publishCompleted(ctx, req, out, logger)

	logger.Info().
		Str("strategy", string(result.Strategy)).
		Int("messages", n).
		Dur("elapsed", result.Elapsed).
		Msg("Voice message transcribed")
	return out, nil
}

// fail tells the user nothing could be transcribed and emits the failure event.
func (s *Service) fail(ctx context.Context, req Request, out *Outcome, elapsed time.Duration, logger zerolog.Logger) {
	var err error
	switch req.OnFailure {
	case FailureDelete:
		err = s.sink.Delete(ctx, out.Placeholder)
	default:
		err = s.sink.Edit(ctx, out.Placeholder, FailureText)
	}
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to update placeholder after failure")
	}
	s.publishFailed(ctx, req, out, elapsed, logger)
}

func (s *Service) cleanup(ctx context.Context, asset *audio.Asset, remove bool, logger zerolog.Logger) {
	if !remove {
		s.recordCleanup("kept")
		return
	}
	if err := asset.Cleanup(ctx); err != nil {
		logger.Warn().Err(err).Str("path", asset.LocalPath).Msg("Failed to clean up audio asset")
		s.recordCleanup("error")
		return
	}
	s.recordCleanup("removed")
}

func (s *Service) recordCleanup(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordCleanup(outcome)
	}
}

func (s *Service) record(req Request, result *stt.Result, success bool, logger zerolog.Logger) {
	if s.stats == nil {
		return
	}
	err := s.stats.AddTranscription(&store.TranscriptionRecord{
		ChatID:        req.ChatID,
		AudioDuration: req.Asset.Duration,
		SampleRate:    result.SampleRate,
		Strategy:      string(result.Strategy),
		ResponseTime:  result.Elapsed.Seconds(),
		Success:       success,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to record transcription statistics")
	}
}

func (s *Service) publishCompleted(ctx context.Context, req Request, out *Outcome, logger zerolog.Logger) {
	if s.publisher == nil {
		return
	}
	r := out.Result
	err := s.publisher.PublishCompleted(ctx, eventKey(req.ChatID), &models.TranscriptionCompleted{
		EventType:     models.EventTranscriptionCompleted,
		RequestID:     out.RequestID,
		ChatID:        req.ChatID,
		MessageID:     req.MessageID,
		Timestamp:     time.Now().UnixMilli(),
		AudioDuration: req.Asset.Duration,
		SampleRate:    r.SampleRate,
		Strategy:      string(r.Strategy),
		Confidence:    r.Confidence,
		ElapsedMs:     r.Elapsed.Milliseconds(),
		Words:         r.Words(),
		Messages:      out.Messages,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to publish completed event")
	}
}

func (s *Service) publishFailed(ctx context.Context, req Request, out *Outcome, elapsed time.Duration, logger zerolog.Logger) {
	if s.publisher == nil {
		return
	}
	err := s.publisher.PublishFailed(ctx, eventKey(req.ChatID), &models.TranscriptionFailed{
		EventType:     models.EventTranscriptionFailed,
		RequestID:     out.RequestID,
		ChatID:        req.ChatID,
		MessageID:     req.MessageID,
		Timestamp:     time.Now().UnixMilli(),
		AudioDuration: req.Asset.Duration,
		Reason:        out.Reason,
		ElapsedMs:     elapsed.Milliseconds(),
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to publish failed event")
	}
}

func eventKey(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ogg.ErrUnsupportedFormat):
		return models.ReasonUnsupportedFormat
	case errors.Is(err, stt.ErrTimeout):
		return models.ReasonTimeout
	default:
		return models.ReasonBackend
	}
}
