// Package delivery renders a transcript into chat messages and sends them,
// splitting long transcripts into a reply chain of word-aligned slices.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"voice-transcriber-bot/internal/observability/logging"
	"voice-transcriber-bot/internal/observability/metrics"
)

const (
	// MaxMessageLength is Telegram's text message limit, in characters.
	MaxMessageLength = 4096

	// DecorationBudget is reserved in every slice for markup, position
	// markers and the trailing confidence/elapsed annotation.
	DecorationBudget = 100

	// DefaultPace is the pause between consecutive sends of a chain.
	DefaultPace = time.Second
)

var (
	// ErrWordCountMismatch means slicing lost or duplicated words. Nothing is sent.
	ErrWordCountMismatch = errors.New("word count mismatch between transcript and slices")

	// ErrMessageTooLong means a rendered message exceeds the sink limit,
	// usually because of a single oversized word. Nothing is sent.
	ErrMessageTooLong = errors.New("rendered message exceeds message length limit")

	// ErrEmptyTranscript is returned when there is nothing to deliver.
	ErrEmptyTranscript = errors.New("empty transcript")
)

// MessageRef identifies a sent message.
type MessageRef struct {
	ChatID    int64
	MessageID int
}

// Sink is where messages go. Texts use the minimal HTML markup (<i>, <b>).
type Sink interface {
	Send(ctx context.Context, chatID int64, text string) (MessageRef, error)
	Edit(ctx context.Context, ref MessageRef, text string) error
	Reply(ctx context.Context, to MessageRef, text string) (MessageRef, error)
	Delete(ctx context.Context, ref MessageRef) error
	MaxMessageLength() int
}

// Transcript is what gets delivered.
type Transcript struct {
	Text       string
	Confidence float64
	Elapsed    time.Duration
}

// Config holds delivery settings. Zero values take the package defaults.
type Config struct {
	MaxLength        int
	DecorationBudget int
	Pace             time.Duration
}

// Sleeper pauses between sends. It returns early with ctx's error.
type Sleeper func(ctx context.Context, d time.Duration) error

// Deliverer sends transcripts through a Sink.
type Deliverer struct {
	sink    Sink
	cfg     Config
	sleep   Sleeper
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// Option configures a Deliverer.
type Option func(*Deliverer)

// WithSleeper replaces the pause between sends.
func WithSleeper(s Sleeper) Option {
	return func(d *Deliverer) { d.sleep = s }
}

// WithMetrics records delivery metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Deliverer) { d.metrics = m }
}

// New creates a Deliverer.
func New(sink Sink, cfg Config, opts ...Option) *Deliverer {
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = sink.MaxMessageLength()
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = MaxMessageLength
	}
	if cfg.DecorationBudget <= 0 {
		cfg.DecorationBudget = DecorationBudget
	}
	if cfg.Pace <= 0 {
		cfg.Pace = DefaultPace
	}

	d := &Deliverer{
		sink:   sink,
		cfg:    cfg,
		sleep:  sleepContext,
		logger: logging.WithComponent("delivery"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Plan renders the messages Deliver would send, in order.
func (d *Deliverer) Plan(t Transcript) ([]string, error) {
	if len(strings.Fields(t.Text)) == 0 {
		return nil, ErrEmptyTranscript
	}

	single := RenderSingle(t)
	if utf8.RuneCountInString(single) <= d.cfg.MaxLength {
		return []string{single}, nil
	}

	slices := Slice(t.Text, d.cfg.MaxLength-d.cfg.DecorationBudget)
	if err := CheckWordCount(t.Text, slices); err != nil {
		return nil, err
	}
	messages := RenderChain(slices, t)
	for i, m := range messages {
		if n := utf8.RuneCountInString(m); n > d.cfg.MaxLength {
			return nil, fmt.Errorf("%w (message %d/%d: %d > %d)", ErrMessageTooLong, i+1, len(messages), n, d.cfg.MaxLength)
		}
	}
	return messages, nil
}

// Deliver edits placeholder with the transcript. Long transcripts continue as
// a chain of replies, each answering the previous message. It returns the
// number of messages written.
func (d *Deliverer) Deliver(ctx context.Context, placeholder MessageRef, t Transcript) (int, error) {
	messages, err := d.Plan(t)
	if err != nil {
		if errors.Is(err, ErrWordCountMismatch) || errors.Is(err, ErrMessageTooLong) {
			d.logger.Error().Err(err).Int64("chatId", placeholder.ChatID).Msg("Refusing to deliver transcript")
			d.logger.Debug().Str("transcript", t.Text).Msg("Transcript with word count mismatch")
		}
		d.recordError(err)
		return 0, err
	}

	if err := d.sink.Edit(ctx, placeholder, messages[0]); err != nil {
		d.recordError(err)
		return 0, fmt.Errorf("edit placeholder: %w", err)
	}

	prev := placeholder
	for i := 1; i < len(messages); i++ {
		if err := d.sleep(ctx, d.cfg.Pace); err != nil {
			d.recordError(err)
			return i, err
		}
		ref, err := d.sink.Reply(ctx, prev, messages[i])
		if err != nil {
			d.recordError(err)
			return i, fmt.Errorf("send slice %d/%d: %w", i+1, len(messages), err)
		}
		prev = ref
	}

	d.logger.Debug().
		Int64("chatId", placeholder.ChatID).
		Int("messages", len(messages)).
		Msg("Transcript delivered")
	if d.metrics != nil {
		d.metrics.RecordDelivery(len(messages))
	}
	return len(messages), nil
}

func (d *Deliverer) recordError(err error) {
	if d.metrics == nil {
		return
	}
	reason := "send"
	switch {
	case errors.Is(err, ErrWordCountMismatch):
		reason = "word_count_mismatch"
	case errors.Is(err, ErrMessageTooLong):
		reason = "message_too_long"
	case errors.Is(err, ErrEmptyTranscript):
		reason = "empty"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		reason = "canceled"
	}
	d.metrics.RecordDeliveryError(reason)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Slice splits text into HTML-escaped, word-aligned pieces of at most limit
// characters each. Words are joined by single spaces and accumulated greedily.
// A single word longer than limit gets a slice of its own; Plan rejects the
// chain when such a slice no longer fits the message limit.
func Slice(text string, limit int) []string {
	var (
		slices []string
		b      strings.Builder
		n      int
	)
	for _, word := range strings.Fields(text) {
		w := html.EscapeString(word)
		wn := utf8.RuneCountInString(w)
		if n > 0 && n+1+wn > limit {
			slices = append(slices, b.String())
			b.Reset()
			n = 0
		}
		if n > 0 {
			b.WriteByte(' ')
			n++
		}
		b.WriteString(w)
		n += wn
	}
	if n > 0 {
		slices = append(slices, b.String())
	}
	return slices
}

// CheckWordCount verifies that slices hold exactly the words of text.
func CheckWordCount(text string, slices []string) error {
	want := len(strings.Fields(text))
	got := 0
	for _, s := range slices {
		got += len(strings.Fields(s))
	}
	if got != want {
		return fmt.Errorf("%w (full: %d, split: %d)", ErrWordCountMismatch, want, got)
	}
	return nil
}

// RenderSingle renders a transcript that fits in one message.
func RenderSingle(t Transcript) string {
	return fmt.Sprintf("\"<i>%s</i>\" %s %s",
		html.EscapeString(strings.TrimSpace(t.Text)),
		FormatConfidence(t.Confidence),
		FormatElapsed(t.Elapsed))
}

// RenderChain decorates already escaped slices. Only the last one carries
// confidence and elapsed time.
func RenderChain(slices []string, t Transcript) []string {
	total := len(slices)
	out := make([]string, total)
	for i, s := range slices {
		pos := i + 1
		switch {
		case total == 1:
			out[i] = fmt.Sprintf("\"<i>%s</i>\" <b>[1/1] %s %s</b>", s, FormatConfidence(t.Confidence), FormatElapsed(t.Elapsed))
		case i == 0:
			out[i] = fmt.Sprintf("\"<i>%s...</i>\" <b>[%d/%d]</b>", s, pos, total)
		case pos == total:
			out[i] = fmt.Sprintf("\"<i>...%s</i>\" <b>[%d/%d] %s %s</b>", s, pos, total, FormatConfidence(t.Confidence), FormatElapsed(t.Elapsed))
		default:
			out[i] = fmt.Sprintf("\"<i>...%s...</i>\" <b>[%d/%d]</b>", s, pos, total)
		}
	}
	return out
}

// FormatConfidence renders confidence with two decimals in subscript digits.
func FormatConfidence(c float64) string {
	return Subscript(strconv.FormatFloat(c, 'f', 2, 64))
}

// FormatElapsed renders elapsed seconds with one decimal in subscript digits.
func FormatElapsed(d time.Duration) string {
	return Subscript(strconv.FormatFloat(d.Seconds(), 'f', 1, 64))
}

var subscripts = strings.NewReplacer(
	"0", "₀", "1", "₁", "2", "₂", "3", "₃", "4", "₄",
	"5", "₅", "6", "₆", "7", "₇", "8", "₈", "9", "₉",
)

// Subscript replaces ASCII digits with their Unicode subscript forms.
func Subscript(s string) string {
	return subscripts.Replace(s)
}
