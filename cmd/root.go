package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/angeloszaimis/rpc-failover/config"
)

type options struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "rpc-failover",
		Short: "Health-aware failover proxy for JSON-RPC endpoints",
		Long: `rpc-failover forwards JSON-RPC calls to the best available endpoint.

Endpoints are probed in the background, retried with exponential backoff
behind a per-endpoint circuit breaker, and abandoned in favour of the next
candidate when they keep failing.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to config.yaml (default: search ./config and .)")

	root.AddCommand(newServeCmd(opts), newCheckCmd(opts))
	return root
}

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func newCheckCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Probe every configured endpoint once and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}
}

func loadConfig(opts *options) (*config.Loader, *config.Resolved, error) {
	loader := config.NewLoader(opts.configPath, slog.Default())

	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}

	resolved, err := cfg.Resolve()
	if err != nil {
		return nil, nil, err
	}

	return loader, resolved, nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
