package app

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/health/grpc_health_v1"

	"voice-transcriber-bot/internal/config"
	"voice-transcriber-bot/internal/observability/metrics"
	"voice-transcriber-bot/internal/service/stt/mock"
)

// stubAPI is a Telegram client that never delivers updates.
type stubAPI struct {
	mu      sync.Mutex
	updates chan tgbotapi.Update
	sent    int
}

func (s *stubAPI) GetMe() (tgbotapi.User, error) {
	return tgbotapi.User{ID: 1, IsBot: true, UserName: "stub_bot"}, nil
}

func (s *stubAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel { return s.updates }

func (s *stubAPI) StopReceivingUpdates() {}

func (s *stubAPI) Send(tgbotapi.Chattable) (tgbotapi.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent++
	return tgbotapi.Message{MessageID: s.sent}, nil
}

func (s *stubAPI) Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (s *stubAPI) GetFileDirectURL(string) (string, error) { return "", nil }

func (s *stubAPI) GetChatAdministrators(tgbotapi.ChatAdministratorsConfig) ([]tgbotapi.ChatMember, error) {
	return nil, nil
}

func testConfig(t *testing.T) *config.Configuration {
	t.Helper()
	cfg := config.Defaults()
	dir := t.TempDir()
	cfg.Telegram.Token = "test-token"
	cfg.Service.DownloadDir = filepath.Join(dir, "downloads")
	cfg.Service.MetricsAddr = "127.0.0.1:0"
	cfg.Service.HealthAddr = "127.0.0.1:0"
	cfg.Database.Path = filepath.Join(dir, "bot.db")
	cfg.Observability.LogLevel = "error"
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Configuration) *Application {
	t.Helper()
	reg := prometheus.NewRegistry()
	return New(cfg,
		WithTelegramAPI(&stubAPI{updates: make(chan tgbotapi.Update)}),
		WithSTTAdapter(mock.New()),
		WithMetrics(metrics.NewMetrics(reg), reg),
	)
}

func TestApplication_Lifecycle(t *testing.T) {
	a := newTestApp(t, testConfig(t))

	require.NoError(t, a.Start(context.Background()))
	assert.False(t, a.StartupTime.IsZero())
	require.NotNil(t, a.Store())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.Eventually(t, a.bot.Ready, 2*time.Second, 10*time.Millisecond)
	resp, err := a.health.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: healthService})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.Status)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 2*time.Second)
	defer stop()
	require.NoError(t, a.Shutdown(shutdownCtx))
	assert.Empty(t, a.closers)
}

func TestApplication_RunBeforeStart(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	assert.Error(t, a.Run(context.Background()))
}

func TestApplication_StartFailsOnUnknownProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.STT.Provider = "whisper"
	reg := prometheus.NewRegistry()
	a := New(cfg,
		WithTelegramAPI(&stubAPI{updates: make(chan tgbotapi.Update)}),
		WithMetrics(metrics.NewMetrics(reg), reg),
	)

	err := a.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "whisper")
	assert.Empty(t, a.closers)
}

func TestApplication_StartFailsOnUnknownStorageMode(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Mode = "tape"
	a := newTestApp(t, cfg)

	require.Error(t, a.Start(context.Background()))
}
