package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"battleground/internal/constants"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

type Config struct {
	DBPath           string
	ServerPort       string
	LogLevel         string
	TickInterval     time.Duration
	AutosaveInterval time.Duration
	WebhookURL       string
}

func Load(logger zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg(".env file not found, using environment variables or defaults")
	}

	cfg := &Config{
		DBPath:           getEnv("DB_PATH", "battleground.db"),
		ServerPort:       getEnv("SERVER_PORT", "8080"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		TickInterval:     getDuration("TICK_INTERVAL", constants.TickInterval),
		AutosaveInterval: getDuration("AUTOSAVE_INTERVAL", constants.AutosaveInterval),
		WebhookURL:       getEnv("WEBHOOK_URL", ""),
	}

	if cfg.TickInterval <= 0 {
		return nil, fmt.Errorf("TICK_INTERVAL must be positive, got %s", cfg.TickInterval)
	}

	logger.Info().
		Str("db_path", cfg.DBPath).
		Str("server_port", cfg.ServerPort).
		Str("log_level", cfg.LogLevel).
		Dur("tick_interval", cfg.TickInterval).
		Dur("autosave_interval", cfg.AutosaveInterval).
		Bool("webhook_enabled", cfg.WebhookURL != "").
		Msg("configuration loaded")

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
