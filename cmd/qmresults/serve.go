package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/Query-farm/qmresults/conformance"
	"github.com/Query-farm/qmresults/qmresults"
	qmotel "github.com/Query-farm/qmresults/qmresults/otel"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var legacy bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the demo result store over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if legacy {
				cfg.Server.Legacy = true
			}
			ctx := cmd.Context()

			if cfg.Telemetry.Stdout {
				shutdown, err := setupStdoutTelemetry(cmd.OutOrStdout())
				if err != nil {
					return err
				}
				defer func() {
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := shutdown(sctx); err != nil {
						logger.Warn("telemetry shutdown failed", "err", err)
					}
				}()
			}

			handler := newRouter(cfg.Server, conformance.NewDemoStore(), cfg.Telemetry.Stdout)
			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler}
			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()
			logger.Info("serving results", "addr", cfg.Server.Addr, "prefix", cfg.Server.Prefix, "legacy", cfg.Server.Legacy)

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http serve: %w", err)
				}
				return nil
			case <-ctx.Done():
			}
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			logger.Info("shutting down")
			return srv.Shutdown(sctx)
		},
	}
	cmd.Flags().BoolVar(&legacy, "legacy", false, "serve only the first-generation protocol")
	return cmd
}

// newRouter mounts the result service for src under cfg.Prefix next to a
// health endpoint.
func newRouter(cfg ServerConfig, src qmresults.ResultSource, instrument bool) http.Handler {
	server := qmresults.NewServer()
	server.SetServerID(cfg.ServerID)
	server.SetServiceName("qmresults")
	server.SetDebugErrors(cfg.DebugErrors)
	server.SetPieceSize(cfg.PieceSize)
	var sourceOpts []qmresults.SourceOption
	if cfg.Legacy {
		sourceOpts = append(sourceOpts, qmresults.WithLegacyProtocol())
	}
	qmresults.RegisterResultSource(server, src, sourceOpts...)
	if instrument {
		qmotel.InstrumentServer(server, qmotel.DefaultConfig())
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok\n")
	})
	r.Mount(cfg.Prefix, qmresults.NewHttpServerWithPrefix(server, cfg.Prefix))
	return r
}

// setupStdoutTelemetry installs global trace and meter providers that
// export to w. The returned function flushes and stops them.
func setupStdoutTelemetry(w io.Writer) (func(context.Context) error, error) {
	traceExp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("trace exporter: %w", err)
	}
	metricExp, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("metric exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExp))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)))
	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

