// Package config loads the bot configuration from defaults, an optional YAML
// file, an optional .env file and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Configuration is the root configuration.
type Configuration struct {
	Service       ServiceConfig       `yaml:"service"`
	Telegram      TelegramConfig      `yaml:"telegram"`
	STT           STTConfig           `yaml:"stt"`
	Storage       StorageConfig       `yaml:"storage"`
	Behavior      BehaviorConfig      `yaml:"behavior"`
	Database      DatabaseConfig      `yaml:"database"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServiceConfig struct {
	Principal   string `yaml:"principal"`
	Environment string `yaml:"environment"`
	DownloadDir string `yaml:"downloadDir"`
	MetricsAddr string `yaml:"metricsAddr"`
	// HealthAddr serves the gRPC health service. Empty disables it.
	HealthAddr string `yaml:"healthAddr"`
}

type TelegramConfig struct {
	Token  string  `yaml:"token"`
	Admins []int64 `yaml:"admins"`
	// VoiceMaxSize is the largest voice file, in bytes, the bot downloads.
	VoiceMaxSize             int64         `yaml:"voiceMaxSize"`
	ExitUnknownGroups        bool          `yaml:"exitUnknownGroups"`
	SilenceExceptionsPrivate bool          `yaml:"silenceExceptionsPrivate"`
	SilenceExceptionsGroup   bool          `yaml:"silenceExceptionsGroup"`
	PollTimeout              int           `yaml:"pollTimeout"`
	MaxConcurrentUpdates     int           `yaml:"maxConcurrentUpdates"`
	AdminCacheTTL            time.Duration `yaml:"adminCacheTTL"`
}

type STTConfig struct {
	Provider        string        `yaml:"provider"`
	LanguageCode    string        `yaml:"languageCode"`
	Punctuation     bool          `yaml:"punctuation"`
	AudioEncoding   string        `yaml:"audioEncoding"`
	Timeout         time.Duration `yaml:"timeout"`
	ForceSampleRate uint32        `yaml:"forceSampleRate"`
	CredentialsFile string        `yaml:"credentialsFile"`
	Endpoint        string        `yaml:"endpoint"`
}

type StorageConfig struct {
	// Mode is "local" (inline audio) or "remote" (uploaded to Bucket).
	Mode   string `yaml:"mode"`
	Bucket string `yaml:"bucket"`
}

type BehaviorConfig struct {
	RemoveDownloadedFiles bool `yaml:"removeDownloadedFiles"`
	KeepFilesOnError      bool `yaml:"keepFilesOnError"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type KafkaConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Brokers        []string `yaml:"brokers"`
	TopicCompleted string   `yaml:"topicCompleted"`
	TopicFailed    string   `yaml:"topicFailed"`
	Principal      string   `yaml:"principal"`
}

type ObservabilityConfig struct {
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`
}

// Defaults returns the built-in configuration.
func Defaults() *Configuration {
	return &Configuration{
		Service: ServiceConfig{
			Principal:   "svc-voice-transcriber",
			Environment: "prod",
			DownloadDir: "downloads",
			MetricsAddr: ":9090",
		},
		Telegram: TelegramConfig{
			VoiceMaxSize:         20 * 1024 * 1024,
			PollTimeout:          60,
			MaxConcurrentUpdates: 16,
			AdminCacheTTL:        10 * time.Minute,
		},
		STT: STTConfig{
			Provider:      "mock",
			LanguageCode:  "it-IT",
			Punctuation:   true,
			AudioEncoding: "OGG_OPUS",
			Timeout:       360 * time.Second,
		},
		Storage: StorageConfig{
			Mode: "local",
		},
		Behavior: BehaviorConfig{
			RemoveDownloadedFiles: true,
			KeepFilesOnError:      true,
		},
		Database: DatabaseConfig{
			Path: "voicebot.db",
		},
		Kafka: KafkaConfig{
			TopicCompleted: "voicebot.transcription.completed",
			TopicFailed:    "voicebot.transcription.failed",
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}

// Load builds the configuration. path may be empty; a missing .env file is
// not an error.
func Load(path string) (*Configuration, error) {
	cfg := Defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Configuration) {
	cfg.Service.Principal = envOrDefault("SERVICE_PRINCIPAL", cfg.Service.Principal)
	cfg.Service.Environment = envOrDefault("ENV", cfg.Service.Environment)
	cfg.Service.DownloadDir = envOrDefault("DOWNLOAD_DIR", cfg.Service.DownloadDir)
	cfg.Service.MetricsAddr = envOrDefault("METRICS_ADDR", cfg.Service.MetricsAddr)
	cfg.Service.HealthAddr = envOrDefault("HEALTH_ADDR", cfg.Service.HealthAddr)

	cfg.Telegram.Token = envOrDefault("TELEGRAM_TOKEN", cfg.Telegram.Token)
	cfg.Telegram.Admins = envOrDefaultInt64s("TELEGRAM_ADMINS", cfg.Telegram.Admins)
	cfg.Telegram.VoiceMaxSize = envOrDefaultInt64("TELEGRAM_VOICE_MAX_SIZE", cfg.Telegram.VoiceMaxSize)
	cfg.Telegram.ExitUnknownGroups = envOrDefaultBool("TELEGRAM_EXIT_UNKNOWN_GROUPS", cfg.Telegram.ExitUnknownGroups)
	cfg.Telegram.SilenceExceptionsPrivate = envOrDefaultBool("TELEGRAM_SILENCE_EXCEPTIONS_PRIVATE", cfg.Telegram.SilenceExceptionsPrivate)
	cfg.Telegram.SilenceExceptionsGroup = envOrDefaultBool("TELEGRAM_SILENCE_EXCEPTIONS_GROUP", cfg.Telegram.SilenceExceptionsGroup)
	cfg.Telegram.PollTimeout = envOrDefaultInt("TELEGRAM_POLL_TIMEOUT", cfg.Telegram.PollTimeout)
	cfg.Telegram.MaxConcurrentUpdates = envOrDefaultInt("TELEGRAM_MAX_CONCURRENT_UPDATES", cfg.Telegram.MaxConcurrentUpdates)
	cfg.Telegram.AdminCacheTTL = envOrDefaultDuration("TELEGRAM_ADMIN_CACHE_TTL", cfg.Telegram.AdminCacheTTL)

	cfg.STT.Provider = envOrDefault("STT_PROVIDER", cfg.STT.Provider)
	cfg.STT.LanguageCode = envOrDefault("STT_LANGUAGE_CODE", cfg.STT.LanguageCode)
	cfg.STT.Punctuation = envOrDefaultBool("STT_PUNCTUATION", cfg.STT.Punctuation)
	cfg.STT.AudioEncoding = envOrDefault("STT_AUDIO_ENCODING", cfg.STT.AudioEncoding)
	cfg.STT.Timeout = envOrDefaultDuration("STT_TIMEOUT", cfg.STT.Timeout)
	cfg.STT.ForceSampleRate = uint32(envOrDefaultInt("STT_FORCE_SAMPLE_RATE", int(cfg.STT.ForceSampleRate)))
	cfg.STT.CredentialsFile = envOrDefault("GOOGLE_APPLICATION_CREDENTIALS", cfg.STT.CredentialsFile)
	cfg.STT.Endpoint = envOrDefault("STT_ENDPOINT", cfg.STT.Endpoint)

	cfg.Storage.Mode = envOrDefault("STORAGE_MODE", cfg.Storage.Mode)
	cfg.Storage.Bucket = envOrDefault("STORAGE_BUCKET", cfg.Storage.Bucket)

	cfg.Behavior.RemoveDownloadedFiles = envOrDefaultBool("REMOVE_DOWNLOADED_FILES", cfg.Behavior.RemoveDownloadedFiles)
	cfg.Behavior.KeepFilesOnError = envOrDefaultBool("KEEP_FILES_ON_ERROR", cfg.Behavior.KeepFilesOnError)

	cfg.Database.Path = envOrDefault("DATABASE_PATH", cfg.Database.Path)

	cfg.Kafka.Enabled = envOrDefaultBool("KAFKA_ENABLED", cfg.Kafka.Enabled)
	cfg.Kafka.Brokers = envOrDefaultStrings("KAFKA_BROKERS", cfg.Kafka.Brokers)
	cfg.Kafka.TopicCompleted = envOrDefault("KAFKA_TOPIC_COMPLETED", cfg.Kafka.TopicCompleted)
	cfg.Kafka.TopicFailed = envOrDefault("KAFKA_TOPIC_FAILED", cfg.Kafka.TopicFailed)
	cfg.Kafka.Principal = envOrDefault("KAFKA_PRINCIPAL", cfg.Kafka.Principal)
	if cfg.Kafka.Principal == "" {
		cfg.Kafka.Principal = cfg.Service.Principal
	}

	cfg.Observability.LogLevel = envOrDefault("LOG_LEVEL", cfg.Observability.LogLevel)
	cfg.Observability.LogFormat = envOrDefault("LOG_FORMAT", cfg.Observability.LogFormat)
}

// Validate reports the first invalid setting.
func (c *Configuration) Validate() error {
	if c.Telegram.Token == "" {
		return errors.New("TELEGRAM_TOKEN is required")
	}
	switch c.STT.Provider {
	case "google", "mock":
	default:
		return fmt.Errorf("invalid STT provider: %s (must be google or mock)", c.STT.Provider)
	}
	switch c.Storage.Mode {
	case "local":
	case "remote":
		if c.Storage.Bucket == "" {
			return errors.New("STORAGE_BUCKET is required in remote mode")
		}
	default:
		return fmt.Errorf("invalid storage mode: %s (must be local or remote)", c.Storage.Mode)
	}
	if c.STT.Timeout <= 0 {
		return fmt.Errorf("invalid STT timeout: %s", c.STT.Timeout)
	}
	if c.Telegram.MaxConcurrentUpdates <= 0 {
		return fmt.Errorf("invalid max concurrent updates: %d", c.Telegram.MaxConcurrentUpdates)
	}
	return nil
}

// IsAdmin reports whether userID is a configured bot administrator.
func (c *Configuration) IsAdmin(userID int64) bool {
	for _, id := range c.Telegram.Admins {
		if id == userID {
			return true
		}
	}
	return false
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envOrDefaultStrings(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// envOrDefaultInt64s parses a comma-separated id list. Any invalid entry
// discards the whole value.
func envOrDefaultInt64s(key string, def []int64) []int64 {
	parts := envOrDefaultStrings(key, nil)
	if parts == nil {
		return def
	}
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return def
		}
		out = append(out, n)
	}
	return out
}
