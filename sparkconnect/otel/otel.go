// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package sparkotel provides OpenTelemetry instrumentation for Spark Connect
// sessions. It implements the [sparkconnect.ExecuteHook] interface to add
// distributed tracing and metrics to ExecutePlan calls.
//
// Usage:
//
//	cfg := sparkconnect.DefaultConfig()
//	sparkotel.Instrument(&cfg, sparkotel.DefaultConfig())
//	session, err := sparkconnect.ConnectWithConfig(ctx, cfg)
package sparkotel

import (
	"context"
	"fmt"
	"time"

	"github.com/Query-farm/spark-connect-go/sparkconnect"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/metadata"
)

const instrumentationName = "spark_connect"

// OtelConfig configures OpenTelemetry instrumentation for a session.
type OtelConfig struct {
	// TracerProvider supplies the tracer. Defaults to otel.GetTracerProvider().
	TracerProvider trace.TracerProvider
	// MeterProvider supplies the meter. Defaults to otel.GetMeterProvider().
	MeterProvider metric.MeterProvider
	// Propagator injects trace context into outgoing gRPC metadata.
	// Defaults to otel.GetTextMapPropagator().
	Propagator propagation.TextMapPropagator
	// EnableTracing enables span creation. Default true.
	EnableTracing bool
	// EnableMetrics enables counter and histogram recording. Default true.
	EnableMetrics bool
	// RecordExceptions calls RecordError on the span for failed calls.
	// Default true.
	RecordExceptions bool
	// CustomAttributes are added to every span.
	CustomAttributes []attribute.KeyValue
}

// DefaultConfig returns an OtelConfig with sensible defaults.
// TracerProvider, MeterProvider, and Propagator are resolved from the
// global OTel SDK at instrumentation time.
func DefaultConfig() OtelConfig {
	return OtelConfig{
		EnableTracing:    true,
		EnableMetrics:    true,
		RecordExceptions: true,
	}
}

// Instrument installs an OpenTelemetry hook into cfg. Sessions created from
// cfg afterwards are instrumented.
func Instrument(cfg *sparkconnect.Config, oc OtelConfig) {
	cfg.Hook = NewHook(oc)
}

// NewHook returns the OpenTelemetry hook without installing it.
func NewHook(cfg OtelConfig) sparkconnect.ExecuteHook {
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}
	if cfg.Propagator == nil {
		cfg.Propagator = otel.GetTextMapPropagator()
	}

	hook := &otelHook{
		cfg:    cfg,
		tracer: cfg.TracerProvider.Tracer(instrumentationName),
	}

	if cfg.EnableMetrics {
		meter := cfg.MeterProvider.Meter(instrumentationName)
		hook.requestCounter, _ = meter.Int64Counter("rpc.client.requests",
			metric.WithUnit("{request}"),
			metric.WithDescription("Number of ExecutePlan calls"),
		)
		hook.durationHistogram, _ = meter.Float64Histogram("rpc.client.duration",
			metric.WithUnit("s"),
			metric.WithDescription("Duration of ExecutePlan calls"),
		)
	}
	return hook
}

// otelHook implements sparkconnect.ExecuteHook with OpenTelemetry tracing
// and metrics.
type otelHook struct {
	cfg               OtelConfig
	tracer            trace.Tracer
	requestCounter    metric.Int64Counter
	durationHistogram metric.Float64Histogram
}

// spanToken is the HookToken returned by OnExecuteStart.
type spanToken struct {
	span      trace.Span
	startTime time.Time
}

// OnExecuteStart starts a client span and injects its context into the
// outgoing gRPC metadata.
func (h *otelHook) OnExecuteStart(ctx context.Context, info sparkconnect.ExecuteInfo) (context.Context, sparkconnect.HookToken) {
	if !h.cfg.EnableTracing {
		return ctx, &spanToken{startTime: time.Now()}
	}

	attrs := []attribute.KeyValue{
		attribute.String("rpc.system", "grpc"),
		attribute.String("rpc.service", sparkconnect.ServiceName),
		attribute.String("rpc.method", "ExecutePlan"),
		attribute.String("server.address", info.Remote),
		attribute.String("spark_connect.session_id", info.SessionID),
		attribute.String("spark_connect.operation_type", info.OperationType),
	}
	if info.RelationType != "" {
		attrs = append(attrs, attribute.String("spark_connect.relation_type", info.RelationType))
	}
	attrs = append(attrs, h.cfg.CustomAttributes...)

	ctx, span := h.tracer.Start(ctx, "spark_connect/ExecutePlan",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)

	if h.cfg.Propagator != nil {
		carrier := propagation.MapCarrier{}
		h.cfg.Propagator.Inject(ctx, carrier)
		pairs := make([]string, 0, 2*len(carrier))
		for _, k := range carrier.Keys() {
			pairs = append(pairs, k, carrier.Get(k))
		}
		if len(pairs) > 0 {
			ctx = metadata.AppendToOutgoingContext(ctx, pairs...)
		}
	}

	return ctx, &spanToken{span: span, startTime: time.Now()}
}

// OnExecuteEnd records span attributes, metrics, and ends the span.
func (h *otelHook) OnExecuteEnd(ctx context.Context, token sparkconnect.HookToken, info sparkconnect.ExecuteInfo, stats *sparkconnect.CallStatistics, err error) {
	st, ok := token.(*spanToken)
	if !ok {
		return
	}

	duration := time.Since(st.startTime)

	status := "ok"
	if err != nil {
		status = "error"
	}

	if h.cfg.EnableMetrics {
		metricAttrs := metric.WithAttributes(
			attribute.String("rpc.system", "grpc"),
			attribute.String("rpc.service", sparkconnect.ServiceName),
			attribute.String("rpc.method", "ExecutePlan"),
			attribute.String("spark_connect.operation_type", info.OperationType),
			attribute.String("status", status),
		)
		if h.requestCounter != nil {
			h.requestCounter.Add(ctx, 1, metricAttrs)
		}
		if h.durationHistogram != nil {
			h.durationHistogram.Record(ctx, duration.Seconds(), metricAttrs)
		}
	}

	if st.span == nil {
		return
	}
	if st.span.IsRecording() {
		if stats != nil {
			st.span.SetAttributes(
				attribute.Int64("spark_connect.responses", stats.Responses),
				attribute.Int64("spark_connect.batches", stats.Batches),
				attribute.Int64("spark_connect.rows", stats.Rows),
				attribute.Int64("spark_connect.bytes", stats.Bytes),
			)
		}

		if err != nil {
			st.span.SetStatus(codes.Error, err.Error())
			if h.cfg.RecordExceptions {
				st.span.RecordError(err)
			}
			errType := fmt.Sprintf("%T", err)
			if serr, ok := err.(*sparkconnect.SparkError); ok {
				errType = serr.Kind.String()
			}
			st.span.SetAttributes(attribute.String("spark_connect.error_type", errType))
		} else {
			st.span.SetStatus(codes.Ok, "")
		}
	}
	st.span.End()
}
