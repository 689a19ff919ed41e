package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"voice-transcriber-bot/internal/app"
	"voice-transcriber-bot/internal/config"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "Path to a YAML configuration file")
	logLevel := pflag.String("log-level", "", "Override the configured log level")
	shutdownTimeout := pflag.Duration("shutdown-timeout", 30*time.Second, "Grace period for in-flight work on shutdown")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *logLevel != "" {
		cfg.Observability.LogLevel = *logLevel
	}

	application := app.New(cfg)
	if err := cfg.Validate(); err != nil {
		application.Logger.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		application.Logger.Fatal().Err(err).Msg("Failed to start")
	}

	runErr := application.Run(ctx)
	if runErr != nil {
		application.Logger.Error().Err(runErr).Msg("Bot stopped with error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), *shutdownTimeout)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		application.Logger.Error().Err(err).Msg("Shutdown completed with errors")
	}
	if runErr != nil {
		os.Exit(1)
	}
}
