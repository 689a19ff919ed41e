package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"voice-transcriber-bot/internal/observability/logging"
	"voice-transcriber-bot/internal/observability/metrics"
)

const (
	// DownloadAttempts bounds attempts on files Telegram reports as
	// temporarily unavailable.
	DownloadAttempts = 3
	// DownloadRetryPause is the pause between attempts.
	DownloadRetryPause = 2 * time.Second
)

var errTemporarilyUnavailable = errors.New("file is temporarily unavailable")

// partSuffix marks a download still being written.
const partSuffix = ".part"

// Downloader saves Telegram files into a local directory. A downloaded path
// stays held until Release, and Clean leaves held paths alone.
type Downloader struct {
	api     API
	dir     string
	client  *http.Client
	pause   time.Duration
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu   sync.Mutex
	held map[string]int
}

// NewDownloader creates a downloader writing into dir.
func NewDownloader(api API, dir string, m *metrics.Metrics) *Downloader {
	return &Downloader{
		api:     api,
		dir:     dir,
		client:  &http.Client{Timeout: 2 * time.Minute},
		pause:   DownloadRetryPause,
		metrics: m,
		logger:  logging.WithComponent("downloader"),
		held:    make(map[string]int),
	}
}

// Dir returns the download directory.
func (d *Downloader) Dir() string {
	return d.dir
}

// Download fetches fileID to <dir>/<chatID>_<messageID>.ogg and returns the
// path. On success the path is held and the caller must Release it once the
// file is no longer read.
func (d *Downloader) Download(ctx context.Context, fileID string, chatID int64, messageID int) (string, error) {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}
	path := filepath.Join(d.dir, fmt.Sprintf("%d_%d.ogg", chatID, messageID))
	d.hold(path)

	for attempt := 1; ; attempt++ {
		err := d.fetch(ctx, fileID, path)
		if err == nil {
			return path, nil
		}
		if !temporary(err) || attempt >= DownloadAttempts {
			d.Release(path)
			d.metrics.RecordDownloadError()
			return "", fmt.Errorf("download file %s: %w", fileID, err)
		}

		d.metrics.RecordDownloadRetry()
		d.logger.Warn().Err(err).
			Int64("chatId", chatID).
			Int("messageId", messageID).
			Int("attempt", attempt).
			Msg("File temporarily unavailable, retrying")

		t := time.NewTimer(d.pause)
		select {
		case <-ctx.Done():
			t.Stop()
			d.Release(path)
			return "", ctx.Err()
		case <-t.C:
		}
	}
}

func (d *Downloader) fetch(ctx context.Context, fileID, path string) error {
	url, err := d.api.GetFileDirectURL(fileID)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %s", errTemporarilyUnavailable, resp.Status)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	tmp := path + partSuffix
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func temporary(err error) bool {
	return errors.Is(err, errTemporarilyUnavailable) ||
		strings.Contains(strings.ToLower(err.Error()), "temporarily unavailable")
}

func (d *Downloader) hold(path string) {
	d.mu.Lock()
	d.held[path]++
	d.mu.Unlock()
}

// Release gives back a path returned by Download.
func (d *Downloader) Release(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.held[path] <= 1 {
		delete(d.held, path)
		return
	}
	d.held[path]--
}

// Clean removes the finished downloads no request holds and returns how many
// were deleted.
func (d *Downloader) Clean() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return CleanDir(d.dir, func(name string) bool {
		return d.held[filepath.Join(d.dir, name)] > 0
	})
}

// CleanDir removes the regular files in dir and returns how many were
// deleted. Hidden files, subdirectories, partial downloads and names for
// which skip reports true are left in place.
func CleanDir(dir string, skip func(name string) bool) (int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || strings.HasSuffix(name, partSuffix) {
			continue
		}
		if skip != nil && skip(name) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
