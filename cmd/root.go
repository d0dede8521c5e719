// Package cmd implements the onerpc command line.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/mnehpets/onerpc/config"
)

var (
	Version    = "dev"
	CommitHash = "unknown"
)

func SetVersion(v, commit string) {
	Version = v
	CommitHash = commit
}

func NewRootCmd() *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use:          "onerpc",
		Short:        "JSON-RPC 2.0 request processor",
		Version:      Version + " (" + CommitHash + ")",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load (default .env when present)")

	load := func() (*config.Config, error) {
		if envFile != "" {
			return config.Load(envFile)
		}
		return config.Load()
	}
	cmd.AddCommand(serveCmd(load))
	cmd.AddCommand(processCmd(load))

	return cmd
}
