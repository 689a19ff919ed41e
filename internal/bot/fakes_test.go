package bot

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"voice-transcriber-bot/internal/observability/metrics"
	"voice-transcriber-bot/internal/service/delivery"
	"voice-transcriber-bot/internal/service/eligibility"
	"voice-transcriber-bot/internal/service/stt"
	"voice-transcriber-bot/internal/service/transcription"
	"voice-transcriber-bot/internal/store"
)

const botID = 999

// fakeAPI implements API for testing
type fakeAPI struct {
	mu        sync.Mutex
	sent      []tgbotapi.Chattable
	requests  []tgbotapi.Chattable
	nextID    int
	fileURL   string
	fileErrs  []error
	fileCalls int
	admins    []tgbotapi.ChatMember
	adminErr  error
	adminCall int
	sendErr   error
	updates   chan tgbotapi.Update
	stopped   bool
}

func newFakeAPI(fileURL string) *fakeAPI {
	return &fakeAPI{fileURL: fileURL, nextID: 1000, updates: make(chan tgbotapi.Update, 8)}
}

func (f *fakeAPI) GetMe() (tgbotapi.User, error) {
	return tgbotapi.User{ID: botID, IsBot: true, UserName: "voice_bot"}, nil
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeAPI) StopReceivingUpdates() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return tgbotapi.Message{}, f.sendErr
	}
	f.sent = append(f.sent, c)
	f.nextID++
	return tgbotapi.Message{MessageID: f.nextID}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetFileDirectURL(string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fileCalls++
	if len(f.fileErrs) > 0 {
		err := f.fileErrs[0]
		f.fileErrs = f.fileErrs[1:]
		if err != nil {
			return "", err
		}
	}
	return f.fileURL, nil
}

func (f *fakeAPI) GetChatAdministrators(tgbotapi.ChatAdministratorsConfig) ([]tgbotapi.ChatMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adminCall++
	return f.admins, f.adminErr
}

// texts returns the text of every message sent or edited, in order.
func (f *fakeAPI) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.sent {
		if m, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, m.Text)
		}
	}
	for _, c := range f.requests {
		if e, ok := c.(tgbotapi.EditMessageTextConfig); ok {
			out = append(out, e.Text)
		}
	}
	return out
}

func (f *fakeAPI) messages() []tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tgbotapi.MessageConfig
	for _, c := range f.sent {
		if m, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeAPI) requestsOf(match func(tgbotapi.Chattable) bool) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.requests {
		if match(c) {
			n++
		}
	}
	return n
}

// fakeTranscriber records requests
type fakeTranscriber struct {
	mu       sync.Mutex
	requests []transcription.Request
	err      error

	// started and release, when set, hold Transcribe until release is closed.
	started chan string
	release chan struct{}
}

func (f *fakeTranscriber) Transcribe(_ context.Context, req transcription.Request) (*transcription.Outcome, error) {
	if f.release != nil {
		f.started <- req.Asset.LocalPath
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	out := &transcription.Outcome{
		RequestID:   "req-1",
		Placeholder: delivery.MessageRef{ChatID: req.ChatID, MessageID: 5000},
		Result:      &stt.Result{Transcript: "ciao a tutti", Confidence: 0.9, Strategy: stt.StrategyShort, SampleRate: 48000},
		Messages:    1,
	}
	return out, f.err
}

func (f *fakeTranscriber) calls() []transcription.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transcription.Request(nil), f.requests...)
}

func opusBytes(rate uint32) []byte {
	var head bytes.Buffer
	head.WriteString("OpusHead")
	head.Write([]byte{1, 1})
	_ = binary.Write(&head, binary.LittleEndian, uint16(312))
	_ = binary.Write(&head, binary.LittleEndian, rate)
	_ = binary.Write(&head, binary.LittleEndian, int16(0))
	head.WriteByte(0)

	var page bytes.Buffer
	page.WriteString("OggS")
	page.Write([]byte{0, 2})
	page.Write(make([]byte, 20))
	page.Write([]byte{1, byte(head.Len())})
	page.Write(head.Bytes())
	return page.Bytes()
}

type testBot struct {
	bot         *Bot
	api         *fakeAPI
	store       *store.Store
	transcriber *fakeTranscriber
	metrics     *metrics.Metrics
}

func newTestBot(t *testing.T, cfg Config) *testBot {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "bot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(opusBytes(48000))
	}))
	t.Cleanup(srv.Close)

	if cfg.DownloadDir == "" {
		cfg.DownloadDir = t.TempDir()
	}
	tb := &testBot{
		api:         newFakeAPI(srv.URL),
		store:       st,
		transcriber: &fakeTranscriber{},
		metrics:     metrics.NewMetrics(prometheus.NewRegistry()),
	}
	tb.bot, err = New(cfg, Deps{
		API:         tb.api,
		Store:       st,
		Evaluator:   eligibility.New(st),
		Transcriber: tb.transcriber,
		Metrics:     tb.metrics,
	})
	require.NoError(t, err)
	tb.bot.downloader.pause = 0
	return tb
}

func (tb *testBot) consent(t *testing.T, userID int64) {
	t.Helper()
	_, err := tb.store.UpdateUser(userID, func(u *store.User) { u.TOSAccepted = true })
	require.NoError(t, err)
}

func (tb *testBot) handle(msg *tgbotapi.Message) {
	tb.bot.Handle(context.Background(), tgbotapi.Update{UpdateID: 1, Message: msg})
}

func user(id int64) *tgbotapi.User {
	return &tgbotapi.User{ID: id, FirstName: "user" + strconv.FormatInt(id, 10)}
}

func privateChat(id int64) *tgbotapi.Chat {
	return &tgbotapi.Chat{ID: id, Type: "private"}
}

func groupChat() *tgbotapi.Chat {
	return &tgbotapi.Chat{ID: -100, Type: "supergroup", Title: "Group"}
}

func voiceMessage(chat *tgbotapi.Chat, from *tgbotapi.User) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: 7,
		Chat:      chat,
		From:      from,
		Voice:     &tgbotapi.Voice{FileID: "voice-1", Duration: 5, FileSize: 2048, MimeType: "audio/ogg"},
	}
}

func commandMessage(chat *tgbotapi.Chat, from *tgbotapi.User, text string) *tgbotapi.Message {
	name := strings.Fields(text)[0]
	return &tgbotapi.Message{
		MessageID: 8,
		Chat:      chat,
		From:      from,
		Text:      text,
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(name)}},
	}
}

var errTemporary = errors.New("Bad Request: file is temporarily unavailable")
