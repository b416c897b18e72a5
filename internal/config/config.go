package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/seantiz/rollout/pkg/objstore"
)

const (
	defaultListenAddr      = ":8080"
	defaultSQLitePath      = "rollouts.db"
	defaultWriteMaxRetries = 5

	envListenAddr      = "ROLLOUT_LISTEN_ADDR"
	envLogLevel        = "ROLLOUT_LOG_LEVEL"
	envStore           = "ROLLOUT_STORE"
	envSQLitePath      = "ROLLOUT_SQLITE_PATH"
	envS3Region        = "ROLLOUT_S3_REGION"
	envS3Endpoint      = "ROLLOUT_S3_ENDPOINT"
	envWriteMaxRetries = "ROLLOUT_WRITE_MAX_RETRIES"
	envInferenceAPIKey = "ROLLOUT_INFERENCE_API_KEY"
)

// Config holds producer configuration loaded from environment variables.
type Config struct {
	ListenAddr      string
	LogLevel        slog.Level
	Store           objstore.Options
	WriteMaxRetries uint64

	// InferenceAPIKey is sent as a bearer token by work units whose rollout
	// config selects bearer inference auth.
	InferenceAPIKey string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	cfg := Config{
		ListenAddr: defaultListenAddr,
		LogLevel:   slog.LevelInfo,
		Store: objstore.Options{
			Kind:       objstore.KindS3,
			SQLitePath: defaultSQLitePath,
		},
		WriteMaxRetries: defaultWriteMaxRetries,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = ParseLogLevel(v)
	}
	if v := os.Getenv(envStore); v != "" {
		cfg.Store.Kind = strings.ToLower(v)
	}
	if v := os.Getenv(envSQLitePath); v != "" {
		cfg.Store.SQLitePath = v
	}
	cfg.Store.S3Region = os.Getenv(envS3Region)
	cfg.Store.S3Endpoint = os.Getenv(envS3Endpoint)
	if v := os.Getenv(envWriteMaxRetries); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.WriteMaxRetries = n
		}
	}
	cfg.InferenceAPIKey = os.Getenv(envInferenceAPIKey)

	return cfg
}

// ParseLogLevel maps a level name to a slog level, defaulting to info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
