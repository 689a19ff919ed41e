package delivery

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voice-transcriber-bot/internal/observability/metrics"
)

type sentMessage struct {
	op      string
	replyTo MessageRef
	ref     MessageRef
	text    string
}

// fakeSink implements Sink for testing
type fakeSink struct {
	maxLen   int
	nextID   int
	messages []sentMessage
	failOn   int // fail the n-th write (1-based), 0 never
	writes   int
}

func newFakeSink(maxLen int) *fakeSink {
	return &fakeSink{maxLen: maxLen, nextID: 100}
}

func (f *fakeSink) write() error {
	f.writes++
	if f.failOn > 0 && f.writes == f.failOn {
		return errors.New("telegram: too many requests")
	}
	return nil
}

func (f *fakeSink) Send(_ context.Context, chatID int64, text string) (MessageRef, error) {
	if err := f.write(); err != nil {
		return MessageRef{}, err
	}
	f.nextID++
	ref := MessageRef{ChatID: chatID, MessageID: f.nextID}
	f.messages = append(f.messages, sentMessage{op: "send", ref: ref, text: text})
	return ref, nil
}

func (f *fakeSink) Edit(_ context.Context, ref MessageRef, text string) error {
	if err := f.write(); err != nil {
		return err
	}
	f.messages = append(f.messages, sentMessage{op: "edit", ref: ref, text: text})
	return nil
}

func (f *fakeSink) Reply(_ context.Context, to MessageRef, text string) (MessageRef, error) {
	if err := f.write(); err != nil {
		return MessageRef{}, err
	}
	f.nextID++
	ref := MessageRef{ChatID: to.ChatID, MessageID: f.nextID}
	f.messages = append(f.messages, sentMessage{op: "reply", replyTo: to, ref: ref, text: text})
	return ref, nil
}

func (f *fakeSink) Delete(_ context.Context, ref MessageRef) error {
	f.messages = append(f.messages, sentMessage{op: "delete", ref: ref})
	return nil
}

func (f *fakeSink) MaxMessageLength() int { return f.maxLen }

// recordingSleeper counts pauses without sleeping.
type recordingSleeper struct {
	pauses []time.Duration
}

func (r *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	r.pauses = append(r.pauses, d)
	return nil
}

var vocabulary = []string{"ciao", "come", "stai", "oggi", "è", "una", "bella", "giornata", "<tag>", "a&b", "perché", "sì", "x"}

func randomText(r *rand.Rand, words int) string {
	out := make([]string, words)
	for i := range out {
		out[i] = vocabulary[r.Intn(len(vocabulary))]
	}
	return strings.Join(out, " ")
}

func TestSlice_Greedy(t *testing.T) {
	slices := Slice("aa bb cc dd", 5)
	assert.Equal(t, []string{"aa bb", "cc dd"}, slices)
}

func TestSlice_NormalizesWhitespace(t *testing.T) {
	slices := Slice("  one\n\ttwo   three ", 100)
	assert.Equal(t, []string{"one two three"}, slices)
}

func TestSlice_EscapesAndMeasuresEscaped(t *testing.T) {
	// "<b>" escapes to "&lt;b&gt;" (9 characters)
	slices := Slice("<b> x", 10)
	assert.Equal(t, []string{"&lt;b&gt;", "x"}, slices)
}

func TestSlice_MeasuresRunes(t *testing.T) {
	// four 2-byte characters still count as four
	slices := Slice("éééé è", 6)
	assert.Equal(t, []string{"éééé è"}, slices)
}

func TestSlice_OversizedWordKeptWhole(t *testing.T) {
	long := strings.Repeat("z", 20)
	slices := Slice("a "+long+" b", 10)
	assert.Equal(t, []string{"a", long, "b"}, slices)
}

func TestSlice_Empty(t *testing.T) {
	assert.Empty(t, Slice("   ", 10))
}

func TestSlice_WordCountRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		text := randomText(r, 1+r.Intn(3000))
		limit := 20 + r.Intn(4000)
		slices := Slice(text, limit)

		require.NoError(t, CheckWordCount(text, slices))
		for _, s := range slices {
			assert.LessOrEqual(t, utf8.RuneCountInString(s), limit)
			assert.NotEmpty(t, s)
		}
	}
}

func TestCheckWordCount_Mismatch(t *testing.T) {
	err := CheckWordCount("one two three", []string{"one", "three"})
	require.ErrorIs(t, err, ErrWordCountMismatch)
	assert.Contains(t, err.Error(), "full: 3, split: 2")
}

func TestSubscript(t *testing.T) {
	assert.Equal(t, "₀.₉₅", Subscript("0.95"))
	assert.Equal(t, "₀.₉₅", FormatConfidence(0.9512))
	assert.Equal(t, "₁₂.₃", FormatElapsed(12340*time.Millisecond))
}

func TestRenderSingle(t *testing.T) {
	got := RenderSingle(Transcript{Text: "ciao <mondo>", Confidence: 0.9, Elapsed: 1500 * time.Millisecond})
	assert.Equal(t, "\"<i>ciao &lt;mondo&gt;</i>\" ₀.₉₀ ₁.₅", got)
}

func TestRenderChain(t *testing.T) {
	got := RenderChain([]string{"a", "b", "c"}, Transcript{Confidence: 0.5, Elapsed: 2 * time.Second})
	assert.Equal(t, []string{
		"\"<i>a...</i>\" <b>[1/3]</b>",
		"\"<i>...b...</i>\" <b>[2/3]</b>",
		"\"<i>...c</i>\" <b>[3/3] ₀.₅₀ ₂.₀</b>",
	}, got)
}

func TestDeliver_SingleMessageEditsPlaceholder(t *testing.T) {
	sink := newFakeSink(MaxMessageLength)
	sleeper := &recordingSleeper{}
	d := New(sink, Config{}, WithSleeper(sleeper.sleep))
	placeholder := MessageRef{ChatID: 1, MessageID: 50}

	n, err := d.Deliver(context.Background(), placeholder, Transcript{Text: "short text", Confidence: 0.8})
	require.NoError(t, err)

	assert.Equal(t, 1, n)
	require.Len(t, sink.messages, 1)
	assert.Equal(t, "edit", sink.messages[0].op)
	assert.Equal(t, placeholder, sink.messages[0].ref)
	assert.Empty(t, sleeper.pauses)
}

func TestDeliver_ShortTranscriptsAlwaysOneMessage(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	for i := 0; i < 50; i++ {
		sink := newFakeSink(MaxMessageLength)
		d := New(sink, Config{}, WithSleeper((&recordingSleeper{}).sleep))
		text := randomText(r, 1+r.Intn(300))

		n, err := d.Deliver(context.Background(), MessageRef{ChatID: 1, MessageID: 1}, Transcript{Text: text})
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	}
}

func TestDeliver_ChainRepliesToPrevious(t *testing.T) {
	sink := newFakeSink(200)
	sleeper := &recordingSleeper{}
	d := New(sink, Config{}, WithSleeper(sleeper.sleep))
	text := strings.TrimSpace(strings.Repeat("parola ", 80)) // 559 characters
	placeholder := MessageRef{ChatID: -100, MessageID: 7}

	n, err := d.Deliver(context.Background(), placeholder, Transcript{Text: text, Confidence: 0.75, Elapsed: 3 * time.Second})
	require.NoError(t, err)
	require.Greater(t, n, 1)
	require.Len(t, sink.messages, n)

	assert.Equal(t, "edit", sink.messages[0].op)
	assert.Equal(t, placeholder, sink.messages[0].ref)
	prev := placeholder
	words := 0
	for i, m := range sink.messages {
		if i > 0 {
			assert.Equal(t, "reply", m.op)
			assert.Equal(t, prev, m.replyTo, "slice %d must reply to the previous message", i+1)
			prev = m.ref
		}
		assert.LessOrEqual(t, utf8.RuneCountInString(m.text), 200)
		words += strings.Count(m.text, "parola")
	}
	assert.Equal(t, 80, words)
	assert.Len(t, sleeper.pauses, n-1)
	for _, p := range sleeper.pauses {
		assert.Equal(t, DefaultPace, p)
	}

	last := sink.messages[n-1].text
	assert.Contains(t, last, FormatConfidence(0.75))
	assert.Contains(t, last, FormatElapsed(3*time.Second))
	assert.NotContains(t, sink.messages[0].text, FormatConfidence(0.75))
}

func TestDeliver_StopsOnSendError(t *testing.T) {
	sink := newFakeSink(200)
	sink.failOn = 2
	d := New(sink, Config{}, WithSleeper((&recordingSleeper{}).sleep))
	text := strings.TrimSpace(strings.Repeat("parola ", 80))

	n, err := d.Deliver(context.Background(), MessageRef{ChatID: 1, MessageID: 1}, Transcript{Text: text})
	require.Error(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, sink.messages, 1)
}

func TestDeliver_CanceledBetweenSlices(t *testing.T) {
	sink := newFakeSink(200)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := New(sink, Config{Pace: time.Hour})
	text := strings.TrimSpace(strings.Repeat("parola ", 80))

	_, err := d.Deliver(ctx, MessageRef{ChatID: 1, MessageID: 1}, Transcript{Text: text})
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, sink.messages, 1)
}

func TestDeliver_EmptyTranscript(t *testing.T) {
	sink := newFakeSink(MaxMessageLength)
	m := metrics.NewMetrics(prometheus.NewRegistry())
	d := New(sink, Config{}, WithMetrics(m))

	_, err := d.Deliver(context.Background(), MessageRef{}, Transcript{Text: "  "})
	require.ErrorIs(t, err, ErrEmptyTranscript)
	assert.Empty(t, sink.messages)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeliveryErrors.WithLabelValues("empty")))
}

func TestDeliver_RecordsMetrics(t *testing.T) {
	sink := newFakeSink(200)
	m := metrics.NewMetrics(prometheus.NewRegistry())
	d := New(sink, Config{}, WithMetrics(m), WithSleeper((&recordingSleeper{}).sleep))
	text := strings.TrimSpace(strings.Repeat("parola ", 80))

	n, err := d.Deliver(context.Background(), MessageRef{ChatID: 1, MessageID: 1}, Transcript{Text: text})
	require.NoError(t, err)
	assert.Equal(t, float64(n), testutil.ToFloat64(m.MessagesDelivered))
}

func TestPlan_UsesSinkLimit(t *testing.T) {
	d := New(newFakeSink(150), Config{})
	text := strings.TrimSpace(strings.Repeat("abc ", 100))

	messages, err := d.Plan(Transcript{Text: text})
	require.NoError(t, err)
	assert.Greater(t, len(messages), 1)
	for _, m := range messages {
		assert.LessOrEqual(t, utf8.RuneCountInString(m), 150)
	}
}

func TestDeliver_OversizedWordSendsNothing(t *testing.T) {
	sink := newFakeSink(200)
	m := metrics.NewMetrics(prometheus.NewRegistry())
	d := New(sink, Config{}, WithMetrics(m), WithSleeper((&recordingSleeper{}).sleep))
	words := strings.TrimSpace(strings.Repeat("parola ", 40))
	text := words + " " + strings.Repeat("x", 190) + " " + words

	_, err := d.Plan(Transcript{Text: text})
	require.ErrorIs(t, err, ErrMessageTooLong)

	n, err := d.Deliver(context.Background(), MessageRef{ChatID: 1, MessageID: 1}, Transcript{Text: text})
	require.ErrorIs(t, err, ErrMessageTooLong)
	assert.Zero(t, n)
	assert.Empty(t, sink.messages)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DeliveryErrors.WithLabelValues("message_too_long")))
}
