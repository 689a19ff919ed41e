package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

// Source kinds selectable from configuration.
const (
	SourceLocal  = "local"
	SourceRemote = "remote"
)

// Source hands an asset's audio to the recognition backend and releases
// whatever it created for that purpose.
type Source interface {
	// Kind returns the configuration name of the source.
	Kind() string

	// Prepare builds the payload the backend will read.
	Prepare(ctx context.Context, a *Asset) (Payload, error)

	// Release removes anything Prepare created. Safe to call when Prepare
	// was never called.
	Release(ctx context.Context, a *Asset) error
}

// NewSource returns the source variant named by kind. store is only used for
// the remote variant.
func NewSource(kind string, store BlobStore) (Source, error) {
	switch kind {
	case "", SourceLocal:
		return LocalSource{}, nil
	case SourceRemote:
		if store == nil {
			return nil, errors.New("remote audio source requires a blob store")
		}
		return NewRemoteSource(store), nil
	default:
		return nil, fmt.Errorf("unknown audio source %q", kind)
	}
}

// LocalSource sends the file contents inline with the request.
type LocalSource struct{}

// Kind implements Source.
func (LocalSource) Kind() string { return SourceLocal }

// Prepare implements Source.
func (LocalSource) Prepare(_ context.Context, a *Asset) (Payload, error) {
	content, err := os.ReadFile(a.LocalPath)
	if err != nil {
		return Payload{}, fmt.Errorf("read audio: %w", err)
	}
	return Payload{Content: content}, nil
}

// Release implements Source.
func (LocalSource) Release(context.Context, *Asset) error { return nil }

// BlobStore is the object storage a RemoteSource uploads to.
type BlobStore interface {
	Bucket() string
	Upload(ctx context.Context, object string, r io.Reader) error
	Delete(ctx context.Context, object string) error
}

// RemoteSource uploads the file to a bucket and passes its URI to the backend.
type RemoteSource struct {
	store BlobStore
}

// NewRemoteSource creates a remote source backed by store.
func NewRemoteSource(store BlobStore) *RemoteSource {
	return &RemoteSource{store: store}
}

// Kind implements Source.
func (s *RemoteSource) Kind() string { return SourceRemote }

// Prepare implements Source.
func (s *RemoteSource) Prepare(ctx context.Context, a *Asset) (Payload, error) {
	f, err := os.Open(a.LocalPath)
	if err != nil {
		return Payload{}, fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	object := filepath.Base(a.LocalPath)
	if err := s.store.Upload(ctx, object, f); err != nil {
		return Payload{}, fmt.Errorf("upload %s: %w", object, err)
	}
	a.remoteObject = object

	uri := fmt.Sprintf("gs://%s/%s", s.store.Bucket(), object)
	log.Debug().
		Str("assetId", a.ID).
		Str("uri", uri).
		Msg("Audio uploaded")

	return Payload{URI: uri}, nil
}

// Release implements Source.
func (s *RemoteSource) Release(ctx context.Context, a *Asset) error {
	if a.remoteObject == "" {
		return nil
	}
	if err := s.store.Delete(ctx, a.remoteObject); err != nil {
		return err
	}
	a.remoteObject = ""
	return nil
}

// GCSStore is a BlobStore on a Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore connects to Cloud Storage. Credentials follow the usual
// application-default lookup unless opts say otherwise.
func NewGCSStore(ctx context.Context, bucket string, opts ...option.ClientOption) (*GCSStore, error) {
	if bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

// Bucket implements BlobStore.
func (g *GCSStore) Bucket() string { return g.bucket }

// Upload implements BlobStore.
func (g *GCSStore) Upload(ctx context.Context, object string, r io.Reader) error {
	w := g.client.Bucket(g.bucket).Object(object).NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// Delete implements BlobStore. A missing object is not an error.
func (g *GCSStore) Delete(ctx context.Context, object string) error {
	err := g.client.Bucket(g.bucket).Object(object).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	return err
}

// Close releases the storage client.
func (g *GCSStore) Close() error {
	return g.client.Close()
}
