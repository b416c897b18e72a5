// testserver starts a rollout producer with a stub work unit for E2E testing.
// The payload's "mode" field selects the behavior: echo (default), fail, panic
// or invalid. "delay_ms" sleeps before returning, "reward" sets the outcome
// reward and "logs" lists lines to emit on the task log stream.
// Usage: go run ./cmd/testserver
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"time"

	"github.com/seantiz/rollout/internal/api"
	"github.com/seantiz/rollout/internal/config"
	"github.com/seantiz/rollout/internal/engine"
	"github.com/seantiz/rollout/internal/workunit"
	"github.com/seantiz/rollout/pkg/objstore"
)

// stubUnit is a configurable work unit for E2E tests.
func stubUnit(ctx context.Context, inv *workunit.Invocation) (*workunit.Output, error) {
	if d := number(inv.Payload, "delay_ms"); d > 0 {
		select {
		case <-time.After(time.Duration(d) * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if lines, ok := inv.Payload["logs"].([]any); ok {
		for _, l := range lines {
			if s, ok := l.(string); ok {
				inv.Log(s)
			}
		}
	}

	switch inv.Payload.String("mode") {
	case "fail":
		msg := inv.Payload.String("error")
		if msg == "" {
			msg = "stub failure"
		}
		return nil, errors.New(msg)
	case "panic":
		panic("stub panic")
	case "invalid":
		return workunit.Rollout([]any{"a", "b", "c"}, 1, 0), nil
	}

	reward := 1.0
	if _, ok := inv.Payload["reward"]; ok {
		reward = number(inv.Payload, "reward")
	}
	return workunit.Rollout([]any{map[string]any{"echo": inv.Payload["prompt"]}}, reward), nil
}

// number reads a numeric payload field. Invocation bodies are decoded with
// json.Number so integers survive unchanged.
func number(p workunit.Payload, key string) float64 {
	switch v := p[key].(type) {
	case json.Number:
		f, _ := v.Float64()
		return f
	case float64:
		return v
	default:
		return 0
	}
}

func main() {
	cfg := config.Load()
	if os.Getenv("ROLLOUT_STORE") == "" {
		cfg.Store.Kind = objstore.KindMemory
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	s, err := objstore.Open(context.Background(), cfg.Store)
	if err != nil {
		log.Fatalf("failed to open result store: %v", err)
	}
	defer s.Close()

	eng := engine.NewEngine(workunit.ContextFunc(stubUnit), s, logger, engine.Options{WriteMaxRetries: cfg.WriteMaxRetries})
	srv := api.NewServer(cfg.ListenAddr, eng, logger)

	logger.Info("testserver: starting", "addr", cfg.ListenAddr, "store", cfg.Store.Kind)
	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
