package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/seantiz/rollout/pkg/objstore"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		envListenAddr, envLogLevel, envStore, envSQLitePath,
		envS3Region, envS3Endpoint, envWriteMaxRetries, envInferenceAPIKey,
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	got := Load()
	want := Config{
		ListenAddr: defaultListenAddr,
		LogLevel:   slog.LevelInfo,
		Store: objstore.Options{
			Kind:       objstore.KindS3,
			SQLitePath: defaultSQLitePath,
		},
		WriteMaxRetries: defaultWriteMaxRetries,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(envListenAddr, ":9090")
	t.Setenv(envLogLevel, "debug")
	t.Setenv(envStore, "SQLite")
	t.Setenv(envSQLitePath, "/tmp/rollouts-test.db")
	t.Setenv(envS3Region, "us-west-2")
	t.Setenv(envS3Endpoint, "http://localhost:9000")
	t.Setenv(envWriteMaxRetries, "9")
	t.Setenv(envInferenceAPIKey, "sk-test")

	got := Load()
	want := Config{
		ListenAddr: ":9090",
		LogLevel:   slog.LevelDebug,
		Store: objstore.Options{
			Kind:       objstore.KindSQLite,
			SQLitePath: "/tmp/rollouts-test.db",
			S3Region:   "us-west-2",
			S3Endpoint: "http://localhost:9000",
		},
		WriteMaxRetries: 9,
		InferenceAPIKey: "sk-test",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadIgnoresBadRetryCount(t *testing.T) {
	clearEnv(t)
	t.Setenv(envWriteMaxRetries, "lots")

	if got := Load().WriteMaxRetries; got != defaultWriteMaxRetries {
		t.Errorf("WriteMaxRetries = %d, want %d", got, defaultWriteMaxRetries)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		got := ParseLogLevel(tt.input)
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNewLoggerOutputsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo)

	logger.Info("rollout accepted", "task_id", "01J0000000000000000000000")
	logger.Debug("filtered out")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("logger output is not a single JSON line: %v\noutput: %s", err, buf.String())
	}
	for _, key := range []string{"time", "level", "msg", "task_id"} {
		if _, ok := entry[key]; !ok {
			t.Errorf("JSON output missing expected key %q", key)
		}
	}
	if entry["msg"] != "rollout accepted" {
		t.Errorf("msg = %v, want %q", entry["msg"], "rollout accepted")
	}
}
