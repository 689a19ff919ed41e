// Package audio models a downloaded voice message for the length of one
// recognition attempt: where its bytes live, what its header says, and when it
// may be removed.
package audio

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"

	"voice-transcriber-bot/internal/service/ogg"
)

// ShortThreshold is the longest duration, in seconds, that is recognized
// synchronously. Anything longer goes through a long-running operation.
const ShortThreshold = 59

// ErrSampleRateUnknown is returned when neither a parsed nor a forced sample
// rate is available.
var ErrSampleRateUnknown = errors.New("sample rate unknown")

// Payload is what a recognition backend receives: either inline bytes or a
// URI of an object the backend can read itself. Exactly one is set.
type Payload struct {
	Content []byte
	URI     string
}

// Inline reports whether the payload carries the audio bytes.
func (p Payload) Inline() bool {
	return p.URI == ""
}

// Asset is one downloaded audio file.
type Asset struct {
	ID        string
	LocalPath string
	// Duration is the declared duration in seconds, from message metadata.
	Duration int
	// SampleRate is only set after a successful ParseHeader.
	SampleRate uint32
	// ForcedSampleRate overrides the parsed rate when non-zero.
	ForcedSampleRate uint32
	Header           *ogg.OpusHead

	source       Source
	remoteObject string
	lifecycle    *Lifecycle
}

// NewAsset creates an asset for a file already on disk. src decides how the
// audio is handed to the backend; nil means inline bytes.
func NewAsset(id, localPath string, duration int, src Source) *Asset {
	if src == nil {
		src = LocalSource{}
	}
	return &Asset{
		ID:        id,
		LocalPath: localPath,
		Duration:  duration,
		source:    src,
		lifecycle: NewLifecycle(id),
	}
}

// Short reports whether the asset qualifies for synchronous recognition.
func (a *Asset) Short() bool {
	return a.Duration <= ShortThreshold
}

// Lifecycle returns the asset's state machine.
func (a *Asset) Lifecycle() *Lifecycle {
	return a.lifecycle
}

// SourceKind returns the name of the source variant backing this asset.
func (a *Asset) SourceKind() string {
	return a.source.Kind()
}

// ParseHeader reads the Opus identification header from the local file and
// records its sample rate. On failure SampleRate is left untouched.
func (a *Asset) ParseHeader() (ogg.OpusHead, error) {
	head, err := ogg.ReadFile(a.LocalPath)
	if err != nil {
		return ogg.OpusHead{}, err
	}
	a.Header = &head
	a.SampleRate = head.SampleRate
	return head, nil
}

// EffectiveSampleRate returns the forced rate if set, else the parsed one.
func (a *Asset) EffectiveSampleRate() (uint32, error) {
	if a.ForcedSampleRate > ogg.MaxSampleRate {
		return 0, fmt.Errorf("forced sample rate %d out of range", a.ForcedSampleRate)
	}
	if a.ForcedSampleRate > 0 {
		return a.ForcedSampleRate, nil
	}
	if a.Header != nil && a.SampleRate > 0 {
		return a.SampleRate, nil
	}
	return 0, ErrSampleRateUnknown
}

// Payload prepares the audio for the backend through the asset's source.
func (a *Asset) Payload(ctx context.Context) (Payload, error) {
	return a.source.Prepare(ctx, a)
}

// Cleanup releases the remote copy, if any, and removes the local file.
// It refuses to run while a recognition is in flight and is a no-op once the
// asset has been cleaned.
func (a *Asset) Cleanup(ctx context.Context) error {
	changed, err := a.lifecycle.MarkCleaned()
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	var result *multierror.Error
	if err := a.source.Release(ctx, a); err != nil {
		result = multierror.Append(result, fmt.Errorf("release %s: %w", a.source.Kind(), err))
	}
	if err := os.Remove(a.LocalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		result = multierror.Append(result, fmt.Errorf("remove %s: %w", a.LocalPath, err))
	}

	log.Debug().
		Str("assetId", a.ID).
		Str("path", a.LocalPath).
		Str("source", a.source.Kind()).
		Msg("Audio asset cleaned up")

	return result.ErrorOrNil()
}
