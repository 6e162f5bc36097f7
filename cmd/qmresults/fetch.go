package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Query-farm/qmresults/qmresults"
	qmotel "github.com/Query-farm/qmresults/qmresults/otel"
)

func (o *rootOptions) newClient() (*qmresults.Client, Config, *slog.Logger, error) {
	cfg, logger, err := o.loadConfig()
	if err != nil {
		return nil, Config{}, nil, err
	}
	client := qmresults.NewClient(cfg.Client.URL,
		qmresults.WithClientLogger(logger),
		qmresults.WithCallTimeout(cfg.Client.Timeout),
		qmresults.WithClientLogLevel(qmresults.LogLevel(cfg.Client.LogLevel)),
	)
	return client, cfg, logger, nil
}

type fetchFlags struct {
	wait     bool
	from, to int
	item     int
	metadata bool
}

func newFetchCmd(opts *rootOptions) *cobra.Command {
	var f fetchFlags
	cmd := &cobra.Command{
		Use:   "fetch JOB_ID [NAME...]",
		Short: "Fetch job results and print them as YAML",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, cfg, logger, err := opts.newClient()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if cfg.Telemetry.Stdout {
				shutdown, err := setupStdoutTelemetry(cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				defer func() { _ = shutdown(ctx) }()
				qmotel.InstrumentClient(client, qmotel.DefaultConfig())
			}

			caps, err := client.Capabilities(ctx)
			if err != nil {
				return err
			}
			mgr, err := qmresults.NewManager(ctx, client.Job(args[0]), caps, qmresults.WithLogger(logger))
			if err != nil {
				return err
			}

			req := qmresults.FetchRequest{WaitUntilDone: f.wait, Timeout: cfg.Client.Timeout}
			if len(args) > 1 {
				req.Names = args[1:]
			}
			switch {
			case cmd.Flags().Changed("item"):
				req.Item = qmresults.Index(f.item)
			case cmd.Flags().Changed("from") || cmd.Flags().Changed("to"):
				sel := qmresults.From(f.from)
				if cmd.Flags().Changed("to") {
					sel = qmresults.Range(f.from, f.to)
				}
				req.Item = sel
			}
			results, err := mgr.FetchResults(ctx, req)
			if err != nil {
				return err
			}

			out := map[string]any{}
			for name, arr := range results {
				v, err := arr.Tolist()
				if err != nil {
					return fmt.Errorf("result '%s': %w", name, err)
				}
				out[name] = yamlSafe(v)
			}
			if f.metadata {
				meta := map[string]any{}
				for name, fetcher := range mgr.All() {
					if _, ok := out[name]; !ok {
						continue
					}
					sm, err := fetcher.StreamMetadata()
					if err != nil {
						logger.Warn("stream metadata unavailable", "stream", name, "err", err)
						continue
					}
					if sm != nil {
						meta[name] = sm
					}
				}
				out = map[string]any{"results": out, "metadata": meta}
			}
			return writeYAML(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().BoolVar(&f.wait, "wait", false, "wait for the job to finish first")
	cmd.Flags().IntVar(&f.item, "item", 0, "fetch only this item index")
	cmd.Flags().IntVar(&f.from, "from", 0, "first item to fetch")
	cmd.Flags().IntVar(&f.to, "to", 0, "stop before this item")
	cmd.Flags().BoolVar(&f.metadata, "metadata", false, "include program stream metadata")
	cmd.MarkFlagsMutuallyExclusive("item", "from")
	cmd.MarkFlagsMutuallyExclusive("item", "to")
	return cmd
}

func newDescribeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "describe",
		Short: "List the methods and capabilities of the configured server",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, _, err := opts.newClient()
			if err != nil {
				return err
			}
			d, err := client.Describe(cmd.Context())
			if err != nil {
				return err
			}
			return writeYAML(cmd.OutOrStdout(), map[string]any{
				"server_id":    d.ServerID,
				"methods":      d.Methods,
				"capabilities": d.Capabilities.Names(),
			})
		},
	}
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// yamlSafe replaces values YAML cannot represent: complex numbers become
// strings and raw bytes become text.
func yamlSafe(v any) any {
	switch x := v.(type) {
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = yamlSafe(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = yamlSafe(e)
		}
		return out
	case complex64, complex128:
		return fmt.Sprint(x)
	case []byte:
		return string(x)
	}
	return v
}
