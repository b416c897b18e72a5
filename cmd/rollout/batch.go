package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/seantiz/rollout/pkg/client"
	"github.com/seantiz/rollout/pkg/rollout"
)

const progressInterval = 5 * time.Second

// itemLine is one line of batch output.
type itemLine struct {
	Index   int             `json:"index"`
	Key     string          `json:"key,omitempty"`
	Success bool            `json:"success"`
	Result  *rollout.Result `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func newItemLine(item client.BatchItem) itemLine {
	l := itemLine{
		Index:   item.Index,
		Key:     item.Key,
		Success: item.Success,
		Result:  item.Result,
	}
	if item.Err != nil {
		l.Error = item.Err.Error()
	}
	return l
}

func newBatchCmd(f *cliFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "batch <payload-file>",
		Short: "Run a batch of payloads with a sliding window",
		Long: "Run every payload in a JSON Lines or YAML file, keeping at most --concurrency\n" +
			"rollouts in flight. One JSON line per rollout is written to stdout in\n" +
			"completion order; progress goes to stderr.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payloads, err := loadPayloads(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			s, err := f.open(ctx, cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			batch := s.client.RunBatch(ctx, payloads, client.BatchOptions{
				MaxConcurrent: *s.cfg.MaxConcurrent,
				Timeout:       *s.cfg.Timeout,
			})

			done := make(chan struct{})
			defer close(done)
			go func() {
				ticker := time.NewTicker(progressInterval)
				defer ticker.Stop()
				for {
					select {
					case <-ticker.C:
						p := batch.Progress()
						s.logger.Info("batch progress",
							"completed", p.Completed,
							"in_flight", p.InFlight,
							"pending", p.Pending,
							"total", p.Total,
						)
					case <-done:
						return
					}
				}
			}()

			start := time.Now()
			enc := json.NewEncoder(cmd.OutOrStdout())
			var succeeded, failed int
			for item := range batch.All() {
				if item.Success {
					succeeded++
				} else {
					failed++
				}
				if err := enc.Encode(newItemLine(item)); err != nil {
					return fmt.Errorf("write batch item: %w", err)
				}
			}

			s.logger.Info("batch finished",
				"total", len(payloads),
				"succeeded", succeeded,
				"failed", failed,
				"peak_in_flight", batch.PeakInFlight(),
				"elapsed", time.Since(start).String(),
			)
			if failed > 0 {
				return fmt.Errorf("%d of %d rollouts failed", failed, len(payloads))
			}
			return nil
		},
	}
}
