// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package qmotel provides OpenTelemetry instrumentation for qmresults
// servers and clients. Servers get a [qmresults.DispatchHook], clients a
// [qmresults.CallHook]; both add spans and metrics, and the client hook
// injects trace context into the outgoing request headers.
//
// Usage:
//
//	server := qmresults.NewServer()
//	qmresults.RegisterResultSource(server, src)
//	qmotel.InstrumentServer(server, qmotel.DefaultConfig())
//
//	client := qmresults.NewClient(url)
//	qmotel.InstrumentClient(client, qmotel.DefaultConfig())
package qmotel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Query-farm/qmresults/qmresults"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "qm_results"
	rpcSystem           = "qm_results"
)

// OtelConfig configures OpenTelemetry instrumentation.
type OtelConfig struct {
	// TracerProvider supplies the tracer. Defaults to otel.GetTracerProvider().
	TracerProvider trace.TracerProvider
	// MeterProvider supplies the meter. Defaults to otel.GetMeterProvider().
	MeterProvider metric.MeterProvider
	// Propagator moves trace context across the HTTP boundary.
	// Defaults to otel.GetTextMapPropagator().
	Propagator propagation.TextMapPropagator
	EnableTracing    bool
	EnableMetrics    bool
	RecordExceptions bool
	// ServiceName is the rpc.service attribute value. On servers it
	// defaults to Server.ServiceName() or "QmResultServer".
	ServiceName      string
	CustomAttributes []attribute.KeyValue
}

// DefaultConfig returns an OtelConfig with tracing, metrics and exception
// recording on. Providers are resolved from the global SDK when
// instrumenting.
func DefaultConfig() OtelConfig {
	return OtelConfig{
		EnableTracing:    true,
		EnableMetrics:    true,
		RecordExceptions: true,
	}
}

func (cfg *OtelConfig) resolve(defaultService string) {
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}
	if cfg.Propagator == nil {
		cfg.Propagator = otel.GetTextMapPropagator()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = defaultService
	}
}

// InstrumentServer installs a dispatch hook on server.
func InstrumentServer(server *qmresults.Server, cfg OtelConfig) {
	defaultService := server.ServiceName()
	if defaultService == "" {
		defaultService = "QmResultServer"
	}
	cfg.resolve(defaultService)

	hook := &serverHook{
		cfg:    cfg,
		tracer: cfg.TracerProvider.Tracer(instrumentationName),
	}
	if cfg.EnableMetrics {
		meter := cfg.MeterProvider.Meter(instrumentationName)
		hook.requests, _ = meter.Int64Counter("qm.server.requests",
			metric.WithUnit("{request}"),
			metric.WithDescription("Number of result service requests"),
		)
		hook.duration, _ = meter.Float64Histogram("qm.server.duration",
			metric.WithUnit("s"),
			metric.WithDescription("Duration of result service requests"),
		)
	}
	server.SetDispatchHook(hook)
}

type serverHook struct {
	cfg      OtelConfig
	tracer   trace.Tracer
	requests metric.Int64Counter
	duration metric.Float64Histogram
}

// spanToken is the HookToken of both hooks.
type spanToken struct {
	span      trace.Span
	startTime time.Time
}

func (h *serverHook) OnDispatchStart(ctx context.Context, info qmresults.DispatchInfo) (context.Context, qmresults.HookToken) {
	if h.cfg.Propagator != nil && info.TransportMetadata != nil {
		ctx = h.cfg.Propagator.Extract(ctx, propagation.MapCarrier(info.TransportMetadata))
	}
	if !h.cfg.EnableTracing {
		return ctx, &spanToken{startTime: time.Now()}
	}

	attrs := []attribute.KeyValue{
		attribute.String("rpc.system", rpcSystem),
		attribute.String("rpc.service", h.cfg.ServiceName),
		attribute.String("rpc.method", info.Method),
		attribute.String("rpc.qm.method_type", info.MethodType),
		attribute.String("rpc.qm.server_id", info.ServerID),
		attribute.String("rpc.qm.request_id", info.RequestID),
	}
	attrs = append(attrs, h.cfg.CustomAttributes...)
	if v := info.TransportMetadata["remote_addr"]; v != "" {
		attrs = append(attrs, attribute.String("net.peer.ip", v))
	}
	if v := info.TransportMetadata["user_agent"]; v != "" {
		attrs = append(attrs, attribute.String("user_agent.original", v))
	}

	ctx, span := h.tracer.Start(ctx, fmt.Sprintf("%s/%s", rpcSystem, info.Method),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrs...),
	)
	return ctx, &spanToken{span: span, startTime: time.Now()}
}

func (h *serverHook) OnDispatchEnd(ctx context.Context, token qmresults.HookToken, info qmresults.DispatchInfo, stats *qmresults.CallStatistics, err error) {
	st, ok := token.(*spanToken)
	if !ok {
		return
	}
	if h.cfg.EnableMetrics {
		attrs := metric.WithAttributes(
			attribute.String("rpc.system", rpcSystem),
			attribute.String("rpc.service", h.cfg.ServiceName),
			attribute.String("rpc.method", info.Method),
			attribute.String("rpc.qm.method_type", info.MethodType),
			attribute.String("status", statusOf(err)),
		)
		if h.requests != nil {
			h.requests.Add(ctx, 1, attrs)
		}
		if h.duration != nil {
			h.duration.Record(ctx, time.Since(st.startTime).Seconds(), attrs)
		}
	}
	endSpan(st.span, stats, err, h.cfg.RecordExceptions)
}

// InstrumentClient installs a call hook on client. Trace context is
// injected into each request's headers so server spans join the trace.
func InstrumentClient(client *qmresults.Client, cfg OtelConfig) {
	cfg.resolve("QmResultClient")

	hook := &clientHook{
		cfg:    cfg,
		tracer: cfg.TracerProvider.Tracer(instrumentationName),
	}
	if cfg.EnableMetrics {
		meter := cfg.MeterProvider.Meter(instrumentationName)
		hook.requests, _ = meter.Int64Counter("qm.client.requests",
			metric.WithUnit("{request}"),
			metric.WithDescription("Number of result service calls"),
		)
		hook.duration, _ = meter.Float64Histogram("qm.client.duration",
			metric.WithUnit("s"),
			metric.WithDescription("Duration of result service calls"),
		)
		hook.chunks, _ = meter.Int64Counter("qm.client.chunks",
			metric.WithUnit("{chunk}"),
			metric.WithDescription("Result chunks received"),
		)
		hook.bytes, _ = meter.Int64Counter("qm.client.bytes",
			metric.WithUnit("By"),
			metric.WithDescription("Raw result bytes received"),
		)
	}
	client.SetCallHook(hook)
}

type clientHook struct {
	cfg      OtelConfig
	tracer   trace.Tracer
	requests metric.Int64Counter
	duration metric.Float64Histogram
	chunks   metric.Int64Counter
	bytes    metric.Int64Counter
}

func (h *clientHook) OnCallStart(ctx context.Context, info qmresults.CallInfo) (context.Context, qmresults.HookToken) {
	st := &spanToken{startTime: time.Now()}
	if h.cfg.EnableTracing {
		attrs := []attribute.KeyValue{
			attribute.String("rpc.system", rpcSystem),
			attribute.String("rpc.service", h.cfg.ServiceName),
			attribute.String("rpc.method", info.Method),
			attribute.String("rpc.qm.method_type", info.MethodType),
			attribute.String("rpc.qm.request_id", info.RequestID),
			attribute.String("url.full", info.URL),
		}
		if info.JobID != "" {
			attrs = append(attrs, attribute.String("qm.job_id", info.JobID))
		}
		attrs = append(attrs, h.cfg.CustomAttributes...)
		ctx, st.span = h.tracer.Start(ctx, fmt.Sprintf("%s/%s", rpcSystem, info.Method),
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(attrs...),
		)
	}
	if h.cfg.Propagator != nil && info.Header != nil {
		h.cfg.Propagator.Inject(ctx, propagation.HeaderCarrier(info.Header))
	}
	return ctx, st
}

func (h *clientHook) OnCallEnd(ctx context.Context, token qmresults.HookToken, info qmresults.CallInfo, stats *qmresults.CallStatistics, err error) {
	st, ok := token.(*spanToken)
	if !ok {
		return
	}
	if h.cfg.EnableMetrics {
		attrs := metric.WithAttributes(
			attribute.String("rpc.system", rpcSystem),
			attribute.String("rpc.method", info.Method),
			attribute.String("rpc.qm.method_type", info.MethodType),
			attribute.String("status", statusOf(err)),
		)
		if h.requests != nil {
			h.requests.Add(ctx, 1, attrs)
		}
		if h.duration != nil {
			h.duration.Record(ctx, time.Since(st.startTime).Seconds(), attrs)
		}
		if stats != nil && stats.Chunks > 0 {
			if h.chunks != nil {
				h.chunks.Add(ctx, stats.Chunks, attrs)
			}
			if h.bytes != nil {
				h.bytes.Add(ctx, stats.DataBytes, attrs)
			}
		}
	}
	endSpan(st.span, stats, err, h.cfg.RecordExceptions)
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func endSpan(span trace.Span, stats *qmresults.CallStatistics, err error, recordExceptions bool) {
	if span == nil || !span.IsRecording() {
		return
	}
	if stats != nil {
		span.SetAttributes(
			attribute.Int64("rpc.qm.input_batches", stats.InputBatches),
			attribute.Int64("rpc.qm.output_batches", stats.OutputBatches),
			attribute.Int64("rpc.qm.input_rows", stats.InputRows),
			attribute.Int64("rpc.qm.output_rows", stats.OutputRows),
			attribute.Int64("rpc.qm.input_bytes", stats.InputBytes),
			attribute.Int64("rpc.qm.output_bytes", stats.OutputBytes),
			attribute.Int64("rpc.qm.chunks", stats.Chunks),
			attribute.Int64("rpc.qm.data_bytes", stats.DataBytes),
		)
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if recordExceptions {
			span.RecordError(err)
		}
		span.SetAttributes(attribute.String("rpc.qm.error_type", errorType(err)))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func errorType(err error) string {
	var rpcErr *qmresults.RpcError
	if errors.As(err, &rpcErr) {
		return rpcErr.Type
	}
	return fmt.Sprintf("%T", err)
}
