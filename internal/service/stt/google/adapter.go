// Package google provides a Google Cloud Speech-to-Text adapter.
package google

import (
	"context"
	"fmt"
	"sort"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"voice-transcriber-bot/internal/observability/logging"
	"voice-transcriber-bot/internal/service/audio"
	"voice-transcriber-bot/internal/service/stt"
)

// Config holds Google Speech-to-Text client configuration.
type Config struct {
	CredentialsFile string // empty means application default credentials
	Endpoint        string // empty means the public endpoint
	ProfanityFilter bool
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		ProfanityFilter: false,
	}
}

// recognizer is the subset of the speech client the adapter calls.
type recognizer interface {
	Recognize(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error)
	LongRunningRecognize(ctx context.Context, req *speechpb.LongRunningRecognizeRequest) (longOperation, error)
	Close() error
}

type longOperation interface {
	Name() string
	Wait(ctx context.Context) (*speechpb.LongRunningRecognizeResponse, error)
}

// Adapter implements stt.Adapter using Google Cloud Speech-to-Text.
type Adapter struct {
	client recognizer
	cfg    Config
	logger zerolog.Logger
}

// New creates a new Google STT adapter. Extra opts are appended after the ones
// derived from cfg, so callers can add dial options such as interceptors.
func New(ctx context.Context, cfg Config, opts ...option.ClientOption) (*Adapter, error) {
	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(cfg.Endpoint))
	}
	clientOpts = append(clientOpts, opts...)

	c, err := speech.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create speech client: %w", err)
	}
	return newAdapter(&speechClient{c: c}, cfg), nil
}

func newAdapter(client recognizer, cfg Config) *Adapter {
	return &Adapter{
		client: client,
		cfg:    cfg,
		logger: logging.WithComponent("stt-google"),
	}
}

// Name implements stt.Adapter.
func (a *Adapter) Name() string {
	return "google"
}

// RecognizeShort sends a synchronous Recognize request.
func (a *Adapter) RecognizeShort(ctx context.Context, payload audio.Payload, cfg stt.RecognitionConfig) ([]stt.Segment, error) {
	resp, err := a.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: a.recognitionConfig(cfg),
		Audio:  recognitionAudio(payload),
	})
	if err != nil {
		return nil, err
	}
	return a.segments(resp.GetResults()), nil
}

// RecognizeLong submits a LongRunningRecognize request.
func (a *Adapter) RecognizeLong(ctx context.Context, payload audio.Payload, cfg stt.RecognitionConfig) (stt.Operation, error) {
	op, err := a.client.LongRunningRecognize(ctx, &speechpb.LongRunningRecognizeRequest{
		Config: a.recognitionConfig(cfg),
		Audio:  recognitionAudio(payload),
	})
	if err != nil {
		return nil, err
	}
	return &operation{op: op, adapter: a}, nil
}

// Close releases the underlying client.
func (a *Adapter) Close() error {
	return a.client.Close()
}

func (a *Adapter) recognitionConfig(cfg stt.RecognitionConfig) *speechpb.RecognitionConfig {
	return &speechpb.RecognitionConfig{
		Encoding:                   parseAudioEncoding(cfg.Encoding),
		SampleRateHertz:            int32(cfg.SampleRateHz),
		LanguageCode:               cfg.LanguageCode,
		EnableAutomaticPunctuation: cfg.Punctuation,
		ProfanityFilter:            a.cfg.ProfanityFilter,
	}
}

func recognitionAudio(p audio.Payload) *speechpb.RecognitionAudio {
	if p.Inline() {
		return &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: p.Content},
		}
	}
	return &speechpb.RecognitionAudio{
		AudioSource: &speechpb.RecognitionAudio_Uri{Uri: p.URI},
	}
}

// segments keeps the best alternative of each result, ordered by result end time.
func (a *Adapter) segments(results []*speechpb.SpeechRecognitionResult) []stt.Segment {
	results = append([]*speechpb.SpeechRecognitionResult{}, results...)
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].GetResultEndTime().AsDuration() < results[j].GetResultEndTime().AsDuration()
	})

	out := make([]stt.Segment, 0, len(results))
	for i, r := range results {
		alts := r.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		for j, alt := range alts {
			a.logger.Debug().
				Int("result", i).
				Int("alternative", j).
				Float32("confidence", alt.GetConfidence()).
				Dur("endTime", r.GetResultEndTime().AsDuration()).
				Str("transcript", alt.GetTranscript()).
				Msg("Recognition alternative")
		}
		out = append(out, stt.Segment{
			Transcript: alts[0].GetTranscript(),
			Confidence: float64(alts[0].GetConfidence()),
		})
	}
	return out
}

// parseAudioEncoding converts a configuration string to the API enum.
// Unknown values fall back to OGG_OPUS, the format voice messages arrive in.
func parseAudioEncoding(enc string) speechpb.RecognitionConfig_AudioEncoding {
	switch enc {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_OGG_OPUS
	}
}

// operation implements stt.Operation over a long-running speech operation.
type operation struct {
	op      longOperation
	adapter *Adapter
}

func (o *operation) Name() string {
	return o.op.Name()
}

func (o *operation) Wait(ctx context.Context) ([]stt.Segment, error) {
	resp, err := o.op.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return o.adapter.segments(resp.GetResults()), nil
}

// speechClient adapts *speech.Client to recognizer.
type speechClient struct {
	c *speech.Client
}

func (s *speechClient) Recognize(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
	return s.c.Recognize(ctx, req)
}

func (s *speechClient) LongRunningRecognize(ctx context.Context, req *speechpb.LongRunningRecognizeRequest) (longOperation, error) {
	op, err := s.c.LongRunningRecognize(ctx, req)
	if err != nil {
		return nil, err
	}
	return &speechOperation{op: op}, nil
}

func (s *speechClient) Close() error {
	return s.c.Close()
}

type speechOperation struct {
	op *speech.LongRunningRecognizeOperation
}

func (s *speechOperation) Name() string {
	return s.op.Name()
}

func (s *speechOperation) Wait(ctx context.Context) (*speechpb.LongRunningRecognizeResponse, error) {
	return s.op.Wait(ctx)
}
