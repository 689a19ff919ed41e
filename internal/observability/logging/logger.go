// Package logging provides structured logging with zerolog.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ServiceName tags every line written through Logger.
const ServiceName = "voice-transcriber-bot"

// Config holds logging configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, console
	TimeFormat string // layout for timestamps
	// Output defaults to stdout.
	Output io.Writer
}

// DefaultConfig returns the production logging configuration.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "json",
		TimeFormat: time.RFC3339,
	}
}

// Init initializes the global zerolog logger. An unknown level means info.
func Init(cfg Config) {
	if cfg.TimeFormat == "" {
		cfg.TimeFormat = time.RFC3339
	}
	zerolog.TimeFieldFormat = cfg.TimeFormat

	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	}

	log.Logger = zerolog.New(out).
		With().
		Timestamp().
		Caller().
		Logger()
}

// Logger returns the global logger tagged with the service name.
func Logger() zerolog.Logger {
	return log.With().Str("service", ServiceName).Logger()
}

// WithComponent returns a logger with a component tag.
func WithComponent(component string) zerolog.Logger {
	return log.With().
		Str("component", component).
		Logger()
}

// WithUpdate returns a logger for one Telegram update. Zero chat, message
// and user ids are left out.
func WithUpdate(updateID int, chatID int64, messageID int, userID int64) zerolog.Logger {
	c := log.With().Int("updateId", updateID)
	if chatID != 0 {
		c = c.Int64("chatId", chatID)
	}
	if messageID != 0 {
		c = c.Int("messageId", messageID)
	}
	if userID != 0 {
		c = c.Int64("userId", userID)
	}
	return c.Logger()
}

// WithAsset adds audio asset context to l.
func WithAsset(l zerolog.Logger, assetID string, duration int) zerolog.Logger {
	return l.With().
		Str("assetId", assetID).
		Int("duration", duration).
		Logger()
}
