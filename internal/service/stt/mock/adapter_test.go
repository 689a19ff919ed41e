package mock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"voice-transcriber-bot/internal/service/audio"
	"voice-transcriber-bot/internal/service/stt"
)

func TestAdapter_Name(t *testing.T) {
	if New().Name() != "mock" {
		t.Error("expected name 'mock'")
	}
}

func TestAdapter_ScriptedShort(t *testing.T) {
	a := NewScripted(Response{Segments: []stt.Segment{{Transcript: "hello", Confidence: 0.9}}})
	cfg := stt.RecognitionConfig{SampleRateHz: 48000, LanguageCode: "en-US"}

	segs, err := a.RecognizeShort(context.Background(), audio.Payload{Content: []byte{1}}, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(segs) != 1 || segs[0].Transcript != "hello" {
		t.Errorf("unexpected segments %+v", segs)
	}

	calls := a.Calls()
	if len(calls) != 1 || calls[0].Method != MethodShort || calls[0].Config.SampleRateHz != 48000 {
		t.Errorf("unexpected calls %+v", calls)
	}
}

func TestAdapter_ScriptedLong(t *testing.T) {
	a := NewScripted(Response{Segments: []stt.Segment{{Transcript: "a"}, {Transcript: "b"}}})

	op, err := a.RecognizeLong(context.Background(), audio.Payload{URI: "gs://b/o"}, stt.RecognitionConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if op.Name() != "operations/mock-1" {
		t.Errorf("unexpected operation name %s", op.Name())
	}
	segs, err := op.Wait(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(segs) != 2 {
		t.Errorf("expected 2 segments, got %d", len(segs))
	}
	if a.CallCount(MethodLong) != 1 || a.CallCount(MethodShort) != 0 {
		t.Error("expected exactly one long call")
	}
}

func TestAdapter_ScriptedError(t *testing.T) {
	boom := errors.New("backend unavailable")
	a := NewScripted(Response{Err: boom})

	_, err := a.RecognizeShort(context.Background(), audio.Payload{}, stt.RecognitionConfig{})
	if !errors.Is(err, boom) {
		t.Errorf("expected scripted error, got %v", err)
	}
}

func TestAdapter_DelayHonorsContext(t *testing.T) {
	a := NewScripted(Response{Delay: time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := a.RecognizeShort(ctx, audio.Payload{}, stt.RecognitionConfig{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("delay should have been cut short by the context")
	}
}

func TestAdapter_FallsBackToDefaults(t *testing.T) {
	a := NewScripted(Response{Segments: []stt.Segment{{Transcript: "scripted"}}})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	first, _ := a.RecognizeShort(ctx, audio.Payload{}, stt.RecognitionConfig{})
	if first[0].Transcript != "scripted" {
		t.Fatalf("expected scripted response first, got %+v", first)
	}
	second, err := a.RecognizeShort(ctx, audio.Payload{}, stt.RecognitionConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(second) != len(DefaultResponses[0].Segments) {
		t.Errorf("expected default response, got %+v", second)
	}
}

func TestAdapter_Close(t *testing.T) {
	a := New()
	if err := a.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := a.RecognizeShort(context.Background(), audio.Payload{}, stt.RecognitionConfig{}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if _, err := a.RecognizeLong(context.Background(), audio.Payload{}, stt.RecognitionConfig{}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestAdapter_ConcurrentCalls(t *testing.T) {
	a := New()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = a.RecognizeShort(ctx, audio.Payload{}, stt.RecognitionConfig{})
		}()
	}
	wg.Wait()

	if got := a.CallCount(MethodShort); got != 8 {
		t.Errorf("expected 8 calls, got %d", got)
	}
}
