// Package mock provides a mock STT adapter for running without cloud credentials.
// It answers with canned multi-segment transcripts, or with a script of
// responses supplied by the caller, and records every call it receives.
package mock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"voice-transcriber-bot/internal/service/audio"
	"voice-transcriber-bot/internal/service/stt"
)

// Method names recorded in Call.
const (
	MethodShort = "RecognizeShort"
	MethodLong  = "RecognizeLong"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("mock adapter closed")

// Response is one scripted backend answer.
type Response struct {
	Segments []stt.Segment
	Err      error
	// Delay simulates backend latency; the call returns early if ctx is done.
	Delay time.Duration
}

// Call records one request received by the adapter.
type Call struct {
	Method  string
	Payload audio.Payload
	Config  stt.RecognitionConfig
}

// DefaultResponses provides sample transcripts for simulation.
var DefaultResponses = []Response{
	{
		Segments: []stt.Segment{{Transcript: "ciao come stai tutto bene", Confidence: 0.94}},
		Delay:    200 * time.Millisecond,
	},
	{
		Segments: []stt.Segment{
			{Transcript: "ti volevo dire che domani arrivo un po' più tardi", Confidence: 0.91},
			{Transcript: "perché ho una riunione alle nove", Confidence: 0.87},
		},
		Delay: 400 * time.Millisecond,
	},
	{
		Segments: []stt.Segment{{Transcript: "sì va bene ci vediamo dopo", Confidence: 0.97}},
		Delay:    150 * time.Millisecond,
	},
	{
		// silence
		Delay: 100 * time.Millisecond,
	},
}

// Adapter implements stt.Adapter with scripted responses.
// A scripted adapter pops one response per request; when the script runs out,
// or when none was given, it cycles through DefaultResponses.
type Adapter struct {
	mu       sync.Mutex
	script   []Response
	calls    []Call
	next     int
	opSeq    int
	closed   bool
	scripted bool
}

// New creates a mock adapter cycling through DefaultResponses.
func New() *Adapter {
	return &Adapter{}
}

// NewScripted creates a mock adapter answering with responses in order.
func NewScripted(responses ...Response) *Adapter {
	return &Adapter{script: responses, scripted: true}
}

// Name implements stt.Adapter.
func (a *Adapter) Name() string {
	return "mock"
}

// RecognizeShort implements stt.Adapter.
func (a *Adapter) RecognizeShort(ctx context.Context, payload audio.Payload, cfg stt.RecognitionConfig) ([]stt.Segment, error) {
	resp, err := a.take(MethodShort, payload, cfg)
	if err != nil {
		return nil, err
	}
	return resp.play(ctx)
}

// RecognizeLong implements stt.Adapter.
func (a *Adapter) RecognizeLong(ctx context.Context, payload audio.Payload, cfg stt.RecognitionConfig) (stt.Operation, error) {
	resp, err := a.take(MethodLong, payload, cfg)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.opSeq++
	name := fmt.Sprintf("operations/mock-%d", a.opSeq)
	a.mu.Unlock()

	return &operation{name: name, resp: resp}, nil
}

// Close implements stt.Adapter.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

// Calls returns a copy of the recorded calls.
func (a *Adapter) Calls() []Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Call{}, a.calls...)
}

// CallCount returns how many calls used method.
func (a *Adapter) CallCount(method string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, c := range a.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

func (a *Adapter) take(method string, payload audio.Payload, cfg stt.RecognitionConfig) (Response, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return Response{}, ErrClosed
	}
	a.calls = append(a.calls, Call{Method: method, Payload: payload, Config: cfg})

	if a.scripted && len(a.script) > 0 {
		resp := a.script[0]
		a.script = a.script[1:]
		return resp, nil
	}
	resp := DefaultResponses[a.next%len(DefaultResponses)]
	a.next++
	return resp, nil
}

func (r Response) play(ctx context.Context) ([]stt.Segment, error) {
	if r.Delay > 0 {
		timer := time.NewTimer(r.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if r.Err != nil {
		return nil, r.Err
	}
	return append([]stt.Segment{}, r.Segments...), nil
}

// operation implements stt.Operation.
type operation struct {
	name string
	resp Response
}

func (o *operation) Name() string {
	return o.name
}

func (o *operation) Wait(ctx context.Context) ([]stt.Segment, error) {
	return o.resp.play(ctx)
}
