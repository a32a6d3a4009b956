// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package sparkotel

import (
	"context"
	"errors"
	"testing"

	"github.com/Query-farm/spark-connect-go/sparkconnect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/metadata"
)

type fixture struct {
	hook     sparkconnect.ExecuteHook
	spans    *tracetest.SpanRecorder
	reader   *sdkmetric.ManualReader
	provider *sdktrace.TracerProvider
}

func newFixture(t *testing.T, mutate func(*OtelConfig)) *fixture {
	t.Helper()
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		_ = mp.Shutdown(context.Background())
	})

	cfg := DefaultConfig()
	cfg.TracerProvider = tp
	cfg.MeterProvider = mp
	cfg.Propagator = propagation.TraceContext{}
	cfg.CustomAttributes = []attribute.KeyValue{attribute.String("env", "test")}
	if mutate != nil {
		mutate(&cfg)
	}
	return &fixture{hook: NewHook(cfg), spans: spans, reader: reader, provider: tp}
}

var info = sparkconnect.ExecuteInfo{
	SessionID:     "sess",
	OperationType: sparkconnect.OperationRoot,
	RelationType:  "project",
	Remote:        "localhost:15002",
}

func attrMap(kvs []attribute.KeyValue) map[attribute.Key]attribute.Value {
	m := make(map[attribute.Key]attribute.Value, len(kvs))
	for _, kv := range kvs {
		m[kv.Key] = kv.Value
	}
	return m
}

func TestInstrumentSetsHook(t *testing.T) {
	cfg := sparkconnect.DefaultConfig()
	Instrument(&cfg, DefaultConfig())
	assert.NotNil(t, cfg.Hook)
}

func TestSpanForSuccessfulCall(t *testing.T) {
	f := newFixture(t, nil)

	ctx, token := f.hook.OnExecuteStart(context.Background(), info)
	assert.True(t, trace.SpanContextFromContext(ctx).IsValid())

	md, ok := metadata.FromOutgoingContext(ctx)
	require.True(t, ok)
	require.Len(t, md.Get("traceparent"), 1)
	assert.Contains(t, md.Get("traceparent")[0], trace.SpanContextFromContext(ctx).TraceID().String())

	stats := &sparkconnect.CallStatistics{Responses: 3, Batches: 1, Rows: 4, Bytes: 100}
	f.hook.OnExecuteEnd(ctx, token, info, stats, nil)

	ended := f.spans.Ended()
	require.Len(t, ended, 1)
	span := ended[0]
	assert.Equal(t, "spark_connect/ExecutePlan", span.Name())
	assert.Equal(t, trace.SpanKindClient, span.SpanKind())
	assert.Equal(t, codes.Ok, span.Status().Code)

	attrs := attrMap(span.Attributes())
	assert.Equal(t, "grpc", attrs["rpc.system"].AsString())
	assert.Equal(t, sparkconnect.ServiceName, attrs["rpc.service"].AsString())
	assert.Equal(t, "sess", attrs["spark_connect.session_id"].AsString())
	assert.Equal(t, "project", attrs["spark_connect.relation_type"].AsString())
	assert.Equal(t, int64(4), attrs["spark_connect.rows"].AsInt64())
	assert.Equal(t, "test", attrs["env"].AsString())
}

func TestSpanForFailedCall(t *testing.T) {
	f := newFixture(t, nil)

	ctx, token := f.hook.OnExecuteStart(context.Background(), info)
	err := &sparkconnect.SparkError{Kind: sparkconnect.KindTableOrViewNotFound, Message: "missing"}
	f.hook.OnExecuteEnd(ctx, token, info, &sparkconnect.CallStatistics{}, err)

	span := f.spans.Ended()[0]
	assert.Equal(t, codes.Error, span.Status().Code)
	assert.Equal(t, "TableOrViewNotFound", attrMap(span.Attributes())["spark_connect.error_type"].AsString())
	require.Len(t, span.Events(), 1)
	assert.Equal(t, "exception", span.Events()[0].Name)

	ctx, token = f.hook.OnExecuteStart(context.Background(), info)
	f.hook.OnExecuteEnd(ctx, token, info, nil, errors.New("plain"))
	require.Len(t, f.spans.Ended(), 2)
	span = f.spans.Ended()[1]
	assert.Equal(t, "*errors.errorString", attrMap(span.Attributes())["spark_connect.error_type"].AsString())
}

func TestMetricsRecorded(t *testing.T) {
	f := newFixture(t, nil)

	for i := 0; i < 2; i++ {
		ctx, token := f.hook.OnExecuteStart(context.Background(), info)
		f.hook.OnExecuteEnd(ctx, token, info, nil, nil)
	}

	var rm metricdata.ResourceMetrics
	require.NoError(t, f.reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	byName := map[string]metricdata.Metrics{}
	for _, m := range rm.ScopeMetrics[0].Metrics {
		byName[m.Name] = m
	}
	requests, ok := byName["rpc.client.requests"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, requests.DataPoints, 1)
	assert.Equal(t, int64(2), requests.DataPoints[0].Value)
	status, _ := requests.DataPoints[0].Attributes.Value("status")
	assert.Equal(t, "ok", status.AsString())

	duration, ok := byName["rpc.client.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, duration.DataPoints, 1)
	assert.Equal(t, uint64(2), duration.DataPoints[0].Count)
}

func TestTracingDisabled(t *testing.T) {
	f := newFixture(t, func(c *OtelConfig) {
		c.EnableTracing = false
	})

	ctx, token := f.hook.OnExecuteStart(context.Background(), info)
	assert.False(t, trace.SpanContextFromContext(ctx).IsValid())
	f.hook.OnExecuteEnd(ctx, token, info, nil, nil)
	assert.Empty(t, f.spans.Ended())

	var rm metricdata.ResourceMetrics
	require.NoError(t, f.reader.Collect(context.Background(), &rm))
	assert.NotEmpty(t, rm.ScopeMetrics)
}

func TestForeignTokenIgnored(t *testing.T) {
	f := newFixture(t, nil)
	f.hook.OnExecuteEnd(context.Background(), "not a token", info, nil, nil)
	assert.Empty(t, f.spans.Ended())
}
