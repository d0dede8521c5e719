package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mnehpets/onerpc/config"
	"github.com/mnehpets/onerpc/log"
)

func processCmd(load func() (*config.Config, error)) *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Process one JSON-RPC payload from stdin",
		Long: `
Read a JSON-RPC 2.0 payload (a single request or a batch) from stdin and
write the response to stdout. Nothing is written when every request was a
notification.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			logger, err := log.New(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			in, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), cfg.MaxBodyBytes+1))
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			if int64(len(in)) > cfg.MaxBodyBytes {
				return fmt.Errorf("payload exceeds %d bytes", cfg.MaxBodyBytes)
			}

			out, err := newProcessor(cfg, logger).Process(cmd.Context(), session, in)
			if err != nil {
				return err
			}
			if len(out) == 0 {
				return nil
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\n", out)
			return err
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "session id (default: ONERPC_DEFAULT_SESSION)")
	return cmd
}
