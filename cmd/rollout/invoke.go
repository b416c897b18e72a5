package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/seantiz/rollout/pkg/client"
)

func newInvokeCmd(f *cliFlags) *cobra.Command {
	var (
		inline    string
		sessionID string
		inputID   string
	)

	cmd := &cobra.Command{
		Use:   "invoke [payload-file]",
		Short: "Submit one payload and print its result",
		Long: "Submit one payload and wait for its result. The payload is read from a JSON or\n" +
			"YAML file, from stdin when the file is \"-\", or from --payload.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload map[string]any
			switch {
			case inline != "" && len(args) > 0:
				return fmt.Errorf("use either a payload file or --payload, not both")
			case inline != "":
				if err := decodeJSON(strings.NewReader(inline), &payload); err != nil {
					return fmt.Errorf("parse --payload: %w", err)
				}
			case len(args) == 1:
				p, err := loadPayload(args[0], cmd.InOrStdin())
				if err != nil {
					return err
				}
				payload = p
			default:
				return fmt.Errorf("a payload file or --payload is required")
			}

			ctx := cmd.Context()
			s, err := f.open(ctx, cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			var opts []client.InvokeOption
			if sessionID != "" {
				opts = append(opts, client.WithSessionID(sessionID))
			}
			if inputID != "" {
				opts = append(opts, client.WithInputID(inputID))
			}

			fut, err := s.client.Invoke(ctx, payload, opts...)
			if err != nil {
				return err
			}
			s.logger.Info("rollout submitted",
				"task_id", fut.TaskID(),
				"result_store_target", fut.Bucket(),
				"result_key", fut.Key(),
			)

			res, err := fut.Await(ctx, *s.cfg.Timeout)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return fmt.Errorf("write result: %w", err)
			}
			return res.Err()
		},
	}

	cmd.Flags().StringVar(&inline, "payload", "", "Inline JSON payload")
	cmd.Flags().StringVar(&sessionID, "session-id", "", "Session id (generated when empty)")
	cmd.Flags().StringVar(&inputID, "input-id", "", "Input id (generated when empty)")
	return cmd
}
