package stt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"voice-transcriber-bot/internal/observability/logging"
	"voice-transcriber-bot/internal/observability/metrics"
	"voice-transcriber-bot/internal/service/audio"
	"voice-transcriber-bot/internal/service/ogg"
)

// DefaultTimeout bounds both recognition strategies.
const DefaultTimeout = 360 * time.Second

// Strategy is the recognition mode chosen for an asset.
type Strategy string

const (
	StrategyShort Strategy = "short"
	StrategyLong  Strategy = "long"
)

// SelectStrategy picks the short strategy for durations up to
// audio.ShortThreshold seconds and the long-running one above it.
func SelectStrategy(durationSeconds int) Strategy {
	if durationSeconds <= audio.ShortThreshold {
		return StrategyShort
	}
	return StrategyLong
}

// GatewayConfig holds gateway defaults.
type GatewayConfig struct {
	Encoding     string
	LanguageCode string
	Punctuation  bool
	Timeout      time.Duration
}

// DefaultGatewayConfig returns the defaults used when nothing is configured.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		Encoding:     EncodingOggOpus,
		LanguageCode: "it-IT",
		Punctuation:  true,
		Timeout:      DefaultTimeout,
	}
}

// Options are per-request overrides. Zero values fall back to the gateway config.
type Options struct {
	LanguageCode string
	Punctuation  *bool
}

// Result is the outcome of one recognition. An empty transcript means the
// backend heard nothing; it is not an error.
type Result struct {
	Transcript string
	// Confidence is in [0,1]; zero when the result is empty.
	Confidence float64
	Elapsed    time.Duration
	Strategy   Strategy
	SampleRate uint32
	Segments   int
}

// Empty reports whether no speech was recognized.
func (r *Result) Empty() bool {
	return r.Transcript == ""
}

// Words returns the word count of the transcript.
func (r *Result) Words() int {
	return len(strings.Fields(r.Transcript))
}

// Gateway wraps an Adapter with strategy selection, timeouts and result assembly.
// It is safe for concurrent use as long as the adapter is.
type Gateway struct {
	adapter Adapter
	cfg     GatewayConfig
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

// NewGateway creates a gateway. m may be nil.
func NewGateway(adapter Adapter, cfg GatewayConfig, m *metrics.Metrics) *Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Encoding == "" {
		cfg.Encoding = EncodingOggOpus
	}
	return &Gateway{
		adapter: adapter,
		cfg:     cfg,
		metrics: m,
		logger:  logging.WithComponent("stt-gateway"),
		now:     time.Now,
	}
}

// Provider returns the adapter name.
func (g *Gateway) Provider() string {
	return g.adapter.Name()
}

// Recognize parses the asset header, builds the request and runs the strategy
// selected by the asset's duration. Format errors from the parser are returned
// before anything is sent. Timeouts are reported as ErrTimeout.
func (g *Gateway) Recognize(ctx context.Context, asset *audio.Asset, opts Options) (*Result, error) {
	if _, err := asset.ParseHeader(); err != nil {
		if errors.Is(err, ogg.ErrUnsupportedFormat) {
			g.record(SelectStrategy(asset.Duration), "unsupported_format", 0)
		}
		return nil, err
	}
	rate, err := asset.EffectiveSampleRate()
	if err != nil {
		return nil, err
	}

	cfg := RecognitionConfig{
		Encoding:     g.cfg.Encoding,
		SampleRateHz: rate,
		LanguageCode: g.cfg.LanguageCode,
		Punctuation:  g.cfg.Punctuation,
	}
	if opts.LanguageCode != "" {
		cfg.LanguageCode = opts.LanguageCode
	}
	if opts.Punctuation != nil {
		cfg.Punctuation = *opts.Punctuation
	}

	if err := asset.Lifecycle().BeginRecognition(); err != nil {
		return nil, err
	}
	defer asset.Lifecycle().Settle()

	strategy := SelectStrategy(asset.Duration)
	logger := logging.WithAsset(g.logger, asset.ID, asset.Duration).With().
		Str("strategy", string(strategy)).
		Uint32("sampleRate", rate).
		Bool("forcedRate", asset.ForcedSampleRate > 0).
		Logger()

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	start := g.now()
	segments, err := g.run(ctx, strategy, asset, cfg, logger)
	elapsed := g.now().Sub(start)

	if err != nil {
		err = classify(err)
		g.record(strategy, outcomeOf(err), elapsed)
		logger.Warn().Err(err).Dur("elapsed", elapsed).Msg("Recognition failed")
		return nil, err
	}

	transcript, confidence := MergeSegments(segments)
	result := &Result{
		Transcript: transcript,
		Confidence: confidence,
		Elapsed:    elapsed,
		Strategy:   strategy,
		SampleRate: rate,
		Segments:   len(segments),
	}

	if result.Empty() {
		g.record(strategy, "empty", elapsed)
		logger.Info().Dur("elapsed", elapsed).Msg("Recognition returned no transcript")
		return result, nil
	}

	g.record(strategy, "success", elapsed)
	logger.Info().
		Int("segments", len(segments)).
		Int("words", result.Words()).
		Float64("confidence", confidence).
		Dur("elapsed", elapsed).
		Msg("Recognition completed")
	logger.Debug().Str("transcript", transcript).Msg("Recognition transcript")

	return result, nil
}

func (g *Gateway) run(ctx context.Context, strategy Strategy, asset *audio.Asset, cfg RecognitionConfig, logger zerolog.Logger) ([]Segment, error) {
	payload, err := asset.Payload(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare audio: %w", err)
	}

	if strategy == StrategyShort {
		return g.adapter.RecognizeShort(ctx, payload, cfg)
	}

	op, err := g.adapter.RecognizeLong(ctx, payload, cfg)
	if err != nil {
		return nil, err
	}
	logger.Debug().Str("operation", op.Name()).Msg("Long-running recognition submitted")
	return op.Wait(ctx)
}

func (g *Gateway) record(strategy Strategy, outcome string, elapsed time.Duration) {
	if g.metrics == nil {
		return
	}
	g.metrics.RecordRecognition(string(strategy), outcome, elapsed.Seconds())
	if outcome != "success" && outcome != "empty" {
		g.metrics.RecordSTTError(g.adapter.Name(), outcome)
	}
}

// classify maps deadline errors from the context or the RPC layer to ErrTimeout.
func classify(err error) error {
	if errors.Is(err, ErrTimeout) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || status.Code(err) == codes.DeadlineExceeded {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return err
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}

// MergeSegments joins segment transcripts with single spaces and computes the
// aggregate confidence. A single segment keeps its own confidence; several are
// averaged weighted by word count.
func MergeSegments(segments []Segment) (string, float64) {
	switch len(segments) {
	case 0:
		return "", 0
	case 1:
		transcript := strings.TrimSpace(segments[0].Transcript)
		if transcript == "" {
			return "", 0
		}
		return transcript, segments[0].Confidence
	}

	parts := make([]string, 0, len(segments))
	var weighted float64
	var words int
	for _, s := range segments {
		parts = append(parts, s.Transcript)
		n := s.Words()
		weighted += s.Confidence * float64(n)
		words += n
	}

	// a non-empty transcript always has at least one word
	transcript := strings.TrimSpace(strings.Join(parts, " "))
	if transcript == "" {
		return "", 0
	}
	return transcript, weighted / float64(words)
}
