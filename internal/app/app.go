// Package app wires the bot's components together and owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"voice-transcriber-bot/internal/bot"
	"voice-transcriber-bot/internal/config"
	"voice-transcriber-bot/internal/events"
	httpapi "voice-transcriber-bot/internal/http"
	"voice-transcriber-bot/internal/observability"
	"voice-transcriber-bot/internal/observability/logging"
	"voice-transcriber-bot/internal/observability/metrics"
	"voice-transcriber-bot/internal/service/audio"
	"voice-transcriber-bot/internal/service/delivery"
	"voice-transcriber-bot/internal/service/eligibility"
	"voice-transcriber-bot/internal/service/stt"
	"voice-transcriber-bot/internal/service/stt/google"
	"voice-transcriber-bot/internal/service/stt/mock"
	"voice-transcriber-bot/internal/service/transcription"
	"voice-transcriber-bot/internal/store"
)

const healthService = "voicebot.TranscriberBot"

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Configuration

	api      bot.API
	adapter  stt.Adapter
	gatherer prometheus.Gatherer
	metrics  *metrics.Metrics

	store     *store.Store
	bot       *bot.Bot
	http      *observability.Server
	grpc      *grpc.Server
	health    *health.Server
	publisher *events.Publisher

	// closers run in reverse order on Shutdown.
	closers []func() error
}

// Option customizes an Application.
type Option func(*Application)

// WithTelegramAPI replaces the Telegram client built from the token.
func WithTelegramAPI(api bot.API) Option {
	return func(a *Application) { a.api = api }
}

// WithSTTAdapter replaces the adapter selected by the STT provider setting.
func WithSTTAdapter(adapter stt.Adapter) Option {
	return func(a *Application) { a.adapter = adapter }
}

// WithMetrics records to m and serves g on /metrics.
func WithMetrics(m *metrics.Metrics, g prometheus.Gatherer) Option {
	return func(a *Application) {
		a.metrics = m
		a.gatherer = g
	}
}

// New constructs a new Application from the provided configuration.
func New(cfg *config.Configuration, opts ...Option) *Application {
	a := &Application{
		Cfg:      cfg,
		metrics:  metrics.DefaultMetrics,
		gatherer: prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.setupLogger()

	appLogger := a.Logger.With().
		Str("method", "New").
		Logger()

	appLogger.Info().Msg("Voice transcriber bot application created")
	return a
}

// setupLogger configures the global zerolog logger and the application's own.
func (a *Application) setupLogger() {
	lc := logging.DefaultConfig()
	lc.Level = a.Cfg.Observability.LogLevel
	lc.Format = a.Cfg.Observability.LogFormat
	if a.Cfg.Service.Environment == "dev" {
		lc.Format = "console"
	}
	logging.Init(lc)

	a.Logger = logging.Logger().With().
		Str("component", "application").
		Logger()

	a.Logger.Info().
		Str("logLevel", zerolog.GlobalLevel().String()).
		Str("environment", a.Cfg.Service.Environment).
		Msg("Logger setup completed")
}

// Start builds every component and starts the observability servers. The bot
// itself starts polling in Run.
func (a *Application) Start(ctx context.Context) error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()

	a.StartupTime = time.Now().UTC()
	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Msg("Voice transcriber bot starting")

	if err := a.build(ctx); err != nil {
		if cerr := a.close(); cerr != nil {
			startLogger.Warn().Err(cerr).Msg("Cleanup after failed start")
		}
		return err
	}

	a.http.Start()
	if err := a.startHealth(); err != nil {
		return err
	}
	return nil
}

func (a *Application) build(ctx context.Context) error {
	cfg := a.Cfg

	if err := os.MkdirAll(cfg.Service.DownloadDir, 0o755); err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	a.store = st
	a.closers = append(a.closers, st.Close)

	adapter, err := a.sttAdapter(ctx)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, adapter.Close)

	gateway := stt.NewGateway(adapter, stt.GatewayConfig{
		Encoding:     cfg.STT.AudioEncoding,
		LanguageCode: cfg.STT.LanguageCode,
		Punctuation:  cfg.STT.Punctuation,
		Timeout:      cfg.STT.Timeout,
	}, a.metrics)

	source, err := a.audioSource(ctx)
	if err != nil {
		return err
	}

	api, err := a.telegramAPI()
	if err != nil {
		return err
	}

	a.publisher = events.New(&events.Config{
		Enabled:        cfg.Kafka.Enabled,
		Brokers:        cfg.Kafka.Brokers,
		TopicCompleted: cfg.Kafka.TopicCompleted,
		TopicFailed:    cfg.Kafka.TopicFailed,
		Principal:      cfg.Kafka.Principal,
	})
	a.closers = append(a.closers, a.publisher.Close)

	sink := bot.NewHTMLSink(api)
	deliverer := delivery.New(sink, delivery.Config{}, delivery.WithMetrics(a.metrics))
	svc := transcription.New(gateway, sink, deliverer, transcription.Config{
		RemoveDownloadedFiles: cfg.Behavior.RemoveDownloadedFiles,
		KeepFilesOnError:      cfg.Behavior.KeepFilesOnError,
	},
		transcription.WithStats(st),
		transcription.WithPublisher(a.publisher),
		transcription.WithMetrics(a.metrics),
	)

	a.bot, err = bot.New(bot.Config{
		Admins:            cfg.Telegram.Admins,
		VoiceMaxSize:      cfg.Telegram.VoiceMaxSize,
		ExitUnknownGroups: cfg.Telegram.ExitUnknownGroups,
		Errors: bot.ErrorPolicy{
			SilencePrivate: cfg.Telegram.SilenceExceptionsPrivate,
			SilenceGroup:   cfg.Telegram.SilenceExceptionsGroup,
		},
		PollTimeout:          cfg.Telegram.PollTimeout,
		MaxConcurrentUpdates: cfg.Telegram.MaxConcurrentUpdates,
		AdminCacheTTL:        cfg.Telegram.AdminCacheTTL,
		DownloadDir:          cfg.Service.DownloadDir,
		ForceSampleRate:      cfg.STT.ForceSampleRate,
	}, bot.Deps{
		API:         api,
		Store:       st,
		Evaluator:   eligibility.New(st),
		Transcriber: svc,
		Source:      source,
		Sink:        sink,
		Metrics:     a.metrics,
	})
	if err != nil {
		return err
	}

	router := httpapi.NewRouter(httpapi.RouterConfig{
		Gatherer: a.gatherer,
		Ready:    a.bot.Ready,
		Stats:    st,
	})
	a.http = observability.NewServer(cfg.Service.MetricsAddr, router)

	log.Info().
		Str("sttProvider", adapter.Name()).
		Str("audioSource", source.Kind()).
		Str("username", a.bot.Self().UserName).
		Msg("Components initialized")
	return nil
}

func (a *Application) sttAdapter(ctx context.Context) (stt.Adapter, error) {
	if a.adapter != nil {
		return a.adapter, nil
	}
	switch a.Cfg.STT.Provider {
	case "google":
		gc := google.DefaultConfig()
		gc.CredentialsFile = a.Cfg.STT.CredentialsFile
		gc.Endpoint = a.Cfg.STT.Endpoint
		interceptor := observability.UnaryClientInterceptor(a.metrics, "google")
		return google.New(ctx, gc, option.WithGRPCDialOption(grpc.WithUnaryInterceptor(interceptor)))
	case "mock", "":
		return mock.New(), nil
	default:
		return nil, fmt.Errorf("unknown STT provider %q", a.Cfg.STT.Provider)
	}
}

func (a *Application) audioSource(ctx context.Context) (audio.Source, error) {
	if a.Cfg.Storage.Mode != audio.SourceRemote {
		return audio.NewSource(a.Cfg.Storage.Mode, nil)
	}

	var opts []option.ClientOption
	if a.Cfg.STT.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(a.Cfg.STT.CredentialsFile))
	}
	blobs, err := audio.NewGCSStore(ctx, a.Cfg.Storage.Bucket, opts...)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, blobs.Close)
	return audio.NewSource(audio.SourceRemote, blobs)
}

func (a *Application) telegramAPI() (bot.API, error) {
	if a.api != nil {
		return a.api, nil
	}
	api, err := tgbotapi.NewBotAPI(a.Cfg.Telegram.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram client: %w", err)
	}
	a.api = api
	return api, nil
}

func (a *Application) startHealth() error {
	if a.Cfg.Service.HealthAddr == "" {
		return nil
	}
	lis, err := net.Listen("tcp", a.Cfg.Service.HealthAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.Cfg.Service.HealthAddr, err)
	}

	a.grpc = grpc.NewServer()
	a.health = health.NewServer()
	grpc_health_v1.RegisterHealthServer(a.grpc, a.health)
	a.setServing(grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	// Enable gRPC reflection for debugging tools like grpcurl
	reflection.Register(a.grpc)

	go func() {
		log.Info().Str("addr", lis.Addr().String()).Msg("Starting gRPC health server")
		if err := a.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Error().Err(err).Msg("gRPC health server error")
		}
	}()
	return nil
}

func (a *Application) setServing(status grpc_health_v1.HealthCheckResponse_ServingStatus) {
	if a.health == nil {
		return
	}
	a.health.SetServingStatus("", status)
	a.health.SetServingStatus(healthService, status)
}

// Run polls Telegram until ctx is canceled.
func (a *Application) Run(ctx context.Context) error {
	if a.bot == nil {
		return errors.New("application not started")
	}
	a.setServing(grpc_health_v1.HealthCheckResponse_SERVING)
	defer a.setServing(grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	return a.bot.Run(ctx)
}

// Store returns the opened database, or nil before Start.
func (a *Application) Store() *store.Store {
	return a.store
}

// Shutdown stops the servers and releases every component.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	shutdownLogger.Info().Msg("Voice transcriber bot shutting down")

	var result *multierror.Error
	if a.grpc != nil {
		a.setServing(grpc_health_v1.HealthCheckResponse_NOT_SERVING)
		a.grpc.GracefulStop()
	}
	if a.http != nil {
		if err := a.http.Shutdown(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("shutdown http: %w", err))
		}
	}
	if err := a.close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func (a *Application) close() error {
	var result *multierror.Error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			result = multierror.Append(result, err)
		}
	}
	a.closers = nil
	return result.ErrorOrNil()
}
