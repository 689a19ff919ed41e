package audio

import (
	"errors"
	"fmt"
	"sync"
)

// State represents the lifecycle state of an audio asset.
type State int

const (
	// StateDownloaded - File is on disk, nothing has been sent yet.
	StateDownloaded State = iota
	// StateRecognizing - A recognition call is in flight.
	StateRecognizing
	// StateSettled - The recognition call returned, successfully or not.
	StateSettled
	// StateCleaned - Local file and remote copy are gone. Terminal.
	StateCleaned
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateDownloaded:
		return "DOWNLOADED"
	case StateRecognizing:
		return "RECOGNIZING"
	case StateSettled:
		return "SETTLED"
	case StateCleaned:
		return "CLEANED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true if the state is terminal.
func (s State) IsTerminal() bool {
	return s == StateCleaned
}

// Errors for invalid state transitions.
var (
	ErrRecognitionInFlight = errors.New("recognition in flight for this asset")
	ErrAssetCleaned        = errors.New("asset already cleaned up")
)

// Lifecycle manages the state machine for a single audio asset.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	DOWNLOADED → RECOGNIZING → SETTLED → CLEANED
//	     │                                  ▲
//	     └──────────── MarkCleaned() ───────┘
//
// Rules:
//   - RECOGNIZING: cleanup is refused with ErrRecognitionInFlight
//   - SETTLED: a new recognition may start (diagnostic re-runs)
//   - CLEANED: recognition is refused, cleanup is a no-op
type Lifecycle struct {
	mu      sync.RWMutex
	assetId string
	state   State
}

// NewLifecycle creates a new asset lifecycle in DOWNLOADED state.
func NewLifecycle(assetId string) *Lifecycle {
	return &Lifecycle{
		assetId: assetId,
		state:   StateDownloaded,
	}
}

// AssetId returns the asset ID.
func (l *Lifecycle) AssetId() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.assetId
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// IsCleaned returns true once the asset has been removed.
func (l *Lifecycle) IsCleaned() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.IsTerminal()
}

// BeginRecognition transitions to RECOGNIZING.
func (l *Lifecycle) BeginRecognition() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateDownloaded, StateSettled:
		l.state = StateRecognizing
		return nil
	case StateRecognizing:
		return ErrRecognitionInFlight
	case StateCleaned:
		return ErrAssetCleaned
	default:
		return fmt.Errorf("unexpected state: %v", l.state)
	}
}

// Settle marks the in-flight recognition as finished.
// Returns false if no recognition was in flight.
func (l *Lifecycle) Settle() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateRecognizing {
		return false
	}
	l.state = StateSettled
	return true
}

// MarkCleaned transitions to CLEANED.
// Returns false if the asset was already cleaned, and ErrRecognitionInFlight
// while a recognition is running.
func (l *Lifecycle) MarkCleaned() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateRecognizing:
		return false, ErrRecognitionInFlight
	case StateCleaned:
		return false, nil
	default:
		l.state = StateCleaned
		return true, nil
	}
}
