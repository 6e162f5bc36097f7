// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Command qmresults serves and fetches job results.
//
//	qmresults serve                 # serve the demo store
//	qmresults fetch demo counts     # fetch results of a job as YAML
//	qmresults describe              # list server methods and capabilities
//	qmresults config                # print the effective configuration
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx)
	stop()
	os.Exit(code)
}

func run(ctx context.Context) int {
	root := newRootCmd()
	root.SetArgs(os.Args[1:])
	if err := root.ExecuteContext(ctx); err != nil {
		slog.Error("qmresults command failed", "err", err)
		return 1
	}
	return 0
}

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "qmresults",
		Short:         "Serve and fetch streamed quantum job results",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default ./qmresults.yaml if present)")

	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newFetchCmd(opts))
	root.AddCommand(newDescribeCmd(opts))
	root.AddCommand(newConfigCmd(opts))
	return root
}

// loadConfig loads the configuration and installs the configured logger as
// the slog default.
func (o *rootOptions) loadConfig() (Config, *slog.Logger, error) {
	cfg, err := LoadConfig(o.configPath)
	if err != nil {
		return Config{}, nil, err
	}
	logger, err := cfg.Log.newLogger(os.Stderr)
	if err != nil {
		return Config{}, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}
