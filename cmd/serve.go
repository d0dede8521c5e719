package cmd

import (
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mnehpets/onerpc/config"
	"github.com/mnehpets/onerpc/log"
)

func serveCmd(load func() (*config.Config, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve JSON-RPC over HTTP",
		Long: `
Serve JSON-RPC 2.0 over HTTP POST.

Requests are accepted on ONERPC_RPC_PATH and ONERPC_RPC_PATH/{session}.
Cookie sessions, bearer authentication, CORS and metrics are configured
through ONERPC_* environment variables or a dotenv file.`,
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

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv, err := newServer(ctx, cfg, logger)
			if err != nil {
				return err
			}
			ln, err := net.Listen("tcp", cfg.ListenAddr)
			if err != nil {
				return err
			}
			return srv.run(ctx, ln)
		},
	}
	return cmd
}
