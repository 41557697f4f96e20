package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	ModioAPIURL string `envconfig:"MODIO_API_URL" default:"https://api.mod.io/v1"`
	ModioAPIKey string `envconfig:"MODIO_API_KEY"`
	ModioToken  string `envconfig:"MODIO_TOKEN"`
	ModioGameID int64  `envconfig:"MODIO_GAME_ID" required:"true"`

	TargetDir         string        `envconfig:"TARGET_DIR" required:"true"`
	ProgressInterval  time.Duration `envconfig:"PROGRESS_INTERVAL" default:"500ms"`
	SpeedSamples      int           `envconfig:"SPEED_SAMPLES" default:"10"`
	KeepStagingFor    time.Duration `envconfig:"KEEP_STAGING_FOR" default:"24h"`
	CleanupInterval   time.Duration `envconfig:"CLEANUP_INTERVAL" default:"10m"`
	LogLevel          string        `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string        `envconfig:"DISCORD_WEBHOOK_URL"`
	DBPath            string        `envconfig:"DB_PATH" default:"downloads.db"`

	Telemetry struct {
		Enabled      bool   `split_words:"true" default:"true"`
		ServiceName  string `split_words:"true" default:"mod_downloader"`
		OTLPEndpoint string `envconfig:"TELEMETRY_OTLP_ENDPOINT"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:9092"`
		Username        string        `split_words:"true"`
		Password        string        `split_words:"true"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if cfg.ModioAPIKey == "" && cfg.ModioToken == "" {
		return nil, fmt.Errorf("one of MODIO_API_KEY or MODIO_TOKEN is required")
	}

	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
