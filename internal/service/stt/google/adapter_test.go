package google

import (
	"context"
	"errors"
	"testing"
	"time"

	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/protobuf/types/known/durationpb"

	"voice-transcriber-bot/internal/service/audio"
	"voice-transcriber-bot/internal/service/stt"
)

// fakeRecognizer implements recognizer for testing
type fakeRecognizer struct {
	shortReq *speechpb.RecognizeRequest
	longReq  *speechpb.LongRunningRecognizeRequest
	results  []*speechpb.SpeechRecognitionResult
	err      error
	closed   bool
}

func (f *fakeRecognizer) Recognize(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
	f.shortReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &speechpb.RecognizeResponse{Results: f.results}, nil
}

func (f *fakeRecognizer) LongRunningRecognize(ctx context.Context, req *speechpb.LongRunningRecognizeRequest) (longOperation, error) {
	f.longReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &fakeOperation{results: f.results}, nil
}

func (f *fakeRecognizer) Close() error {
	f.closed = true
	return nil
}

type fakeOperation struct {
	results []*speechpb.SpeechRecognitionResult
}

func (o *fakeOperation) Name() string { return "operations/123" }

func (o *fakeOperation) Wait(ctx context.Context) (*speechpb.LongRunningRecognizeResponse, error) {
	return &speechpb.LongRunningRecognizeResponse{Results: o.results}, nil
}

func result(end time.Duration, alts ...*speechpb.SpeechRecognitionAlternative) *speechpb.SpeechRecognitionResult {
	return &speechpb.SpeechRecognitionResult{
		Alternatives:  alts,
		ResultEndTime: durationpb.New(end),
	}
}

func alt(text string, confidence float32) *speechpb.SpeechRecognitionAlternative {
	return &speechpb.SpeechRecognitionAlternative{Transcript: text, Confidence: confidence}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.CredentialsFile != "" {
		t.Errorf("expected no credentials file, got %s", cfg.CredentialsFile)
	}
	if cfg.ProfanityFilter {
		t.Error("expected profanity filter off")
	}
}

func TestParseAudioEncoding(t *testing.T) {
	tests := []struct {
		input    string
		expected speechpb.RecognitionConfig_AudioEncoding
	}{
		{"LINEAR16", speechpb.RecognitionConfig_LINEAR16},
		{"MULAW", speechpb.RecognitionConfig_MULAW},
		{"FLAC", speechpb.RecognitionConfig_FLAC},
		{"AMR", speechpb.RecognitionConfig_AMR},
		{"AMR_WB", speechpb.RecognitionConfig_AMR_WB},
		{"OGG_OPUS", speechpb.RecognitionConfig_OGG_OPUS},
		{"SPEEX_WITH_HEADER_BYTE", speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE},
		{"WEBM_OPUS", speechpb.RecognitionConfig_WEBM_OPUS},
		{"UNKNOWN", speechpb.RecognitionConfig_OGG_OPUS}, // fallback
		{"ogg_opus", speechpb.RecognitionConfig_OGG_OPUS}, // fallback
		{"", speechpb.RecognitionConfig_OGG_OPUS},         // fallback
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseAudioEncoding(tt.input)
			if got != tt.expected {
				t.Errorf("parseAudioEncoding(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestRecognizeShort_BuildsRequest(t *testing.T) {
	fake := &fakeRecognizer{results: []*speechpb.SpeechRecognitionResult{result(2*time.Second, alt("ciao", 0.9))}}
	a := newAdapter(fake, DefaultConfig())
	cfg := stt.RecognitionConfig{Encoding: stt.EncodingOggOpus, SampleRateHz: 48000, LanguageCode: "it-IT", Punctuation: true}

	segs, err := a.RecognizeShort(context.Background(), audio.Payload{Content: []byte("abc")}, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rc := fake.shortReq.GetConfig()
	if rc.GetSampleRateHertz() != 48000 {
		t.Errorf("expected 48000, got %d", rc.GetSampleRateHertz())
	}
	if rc.GetLanguageCode() != "it-IT" {
		t.Errorf("expected it-IT, got %s", rc.GetLanguageCode())
	}
	if !rc.GetEnableAutomaticPunctuation() {
		t.Error("expected punctuation enabled")
	}
	if rc.GetEncoding() != speechpb.RecognitionConfig_OGG_OPUS {
		t.Errorf("expected OGG_OPUS, got %v", rc.GetEncoding())
	}
	if string(fake.shortReq.GetAudio().GetContent()) != "abc" {
		t.Error("expected inline content")
	}
	if len(segs) != 1 || segs[0].Transcript != "ciao" {
		t.Errorf("unexpected segments %+v", segs)
	}
}

func TestRecognizeLong_UsesURI(t *testing.T) {
	fake := &fakeRecognizer{results: []*speechpb.SpeechRecognitionResult{
		result(30*time.Second, alt("seconda", 0.7)),
		result(10*time.Second, alt("prima", 0.8), alt("prime", 0.4)),
	}}
	a := newAdapter(fake, DefaultConfig())

	op, err := a.RecognizeLong(context.Background(), audio.Payload{URI: "gs://bucket/1_2.ogg"}, stt.RecognitionConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fake.longReq.GetAudio().GetUri() != "gs://bucket/1_2.ogg" {
		t.Errorf("expected URI audio, got %v", fake.longReq.GetAudio())
	}
	if op.Name() != "operations/123" {
		t.Errorf("unexpected name %s", op.Name())
	}

	segs, err := op.Wait(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(segs) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segs))
	}
	// ordered by end time, best alternative only
	if segs[0].Transcript != "prima" || segs[1].Transcript != "seconda" {
		t.Errorf("unexpected order %+v", segs)
	}
}

func TestSegments_SkipsResultsWithoutAlternatives(t *testing.T) {
	a := newAdapter(&fakeRecognizer{}, DefaultConfig())

	segs := a.segments([]*speechpb.SpeechRecognitionResult{
		result(time.Second),
		result(2*time.Second, alt("ok", 0.5)),
	})
	if len(segs) != 1 || segs[0].Transcript != "ok" {
		t.Errorf("unexpected segments %+v", segs)
	}
}

func TestRecognize_Errors(t *testing.T) {
	boom := errors.New("unavailable")
	a := newAdapter(&fakeRecognizer{err: boom}, DefaultConfig())

	if _, err := a.RecognizeShort(context.Background(), audio.Payload{}, stt.RecognitionConfig{}); !errors.Is(err, boom) {
		t.Errorf("expected error, got %v", err)
	}
	if _, err := a.RecognizeLong(context.Background(), audio.Payload{}, stt.RecognitionConfig{}); !errors.Is(err, boom) {
		t.Errorf("expected error, got %v", err)
	}
}

func TestClose(t *testing.T) {
	fake := &fakeRecognizer{}
	a := newAdapter(fake, DefaultConfig())
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	if !fake.closed {
		t.Error("expected client to be closed")
	}
	if a.Name() != "google" {
		t.Errorf("unexpected name %s", a.Name())
	}
}
