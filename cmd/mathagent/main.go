// mathagent serves the GSM8K math agent as a rollout producer.
// Usage: go run ./cmd/mathagent
package main

import (
	"context"
	"log"
	"os"

	"github.com/seantiz/rollout/internal/api"
	"github.com/seantiz/rollout/internal/config"
	"github.com/seantiz/rollout/internal/engine"
	"github.com/seantiz/rollout/internal/mathagent"
	"github.com/seantiz/rollout/pkg/objstore"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("mathagent: starting",
		"listen_addr", cfg.ListenAddr,
		"store", cfg.Store.Kind,
	)

	s, err := objstore.Open(context.Background(), cfg.Store)
	if err != nil {
		log.Fatalf("failed to open result store: %v", err)
	}
	defer s.Close()

	agent := mathagent.New(cfg.InferenceAPIKey)
	eng := engine.NewEngine(agent, s, logger, engine.Options{WriteMaxRetries: cfg.WriteMaxRetries})
	srv := api.NewServer(cfg.ListenAddr, eng, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
