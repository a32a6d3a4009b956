// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package sparkprom exports Spark Connect call metrics to Prometheus.
package sparkprom

import (
	"context"
	"net/http"
	"time"

	"github.com/Query-farm/spark-connect-go/sparkconnect"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Hook is a [sparkconnect.ExecuteHook] recording per-call counters.
type Hook struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	rows     *prometheus.CounterVec
	bytes    *prometheus.CounterVec
}

// NewHook registers the Spark Connect collectors with reg and returns the
// hook feeding them. A nil reg uses prometheus.DefaultRegisterer.
func NewHook(reg prometheus.Registerer) *Hook {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Hook{
		requests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spark_connect_requests_total",
				Help: "Total number of ExecutePlan calls",
			},
			[]string{"operation", "status"},
		),
		duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "spark_connect_request_duration_seconds",
				Help:    "Duration of ExecutePlan calls including the response stream",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		rows: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spark_connect_rows_received_total",
				Help: "Total number of result rows returned to callers",
			},
			[]string{"operation"},
		),
		bytes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "spark_connect_bytes_received_total",
				Help: "Total size of the columnar payloads returned to callers",
			},
			[]string{"operation"},
		),
	}
}

type startToken time.Time

func (h *Hook) OnExecuteStart(ctx context.Context, _ sparkconnect.ExecuteInfo) (context.Context, sparkconnect.HookToken) {
	return ctx, startToken(time.Now())
}

func (h *Hook) OnExecuteEnd(_ context.Context, token sparkconnect.HookToken, info sparkconnect.ExecuteInfo, stats *sparkconnect.CallStatistics, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		if serr, ok := err.(*sparkconnect.SparkError); ok {
			status = serr.Kind.String()
		}
	}
	h.requests.WithLabelValues(info.OperationType, status).Inc()
	if start, ok := token.(startToken); ok {
		h.duration.WithLabelValues(info.OperationType).Observe(time.Since(time.Time(start)).Seconds())
	}
	if stats != nil {
		h.rows.WithLabelValues(info.OperationType).Add(float64(stats.Rows))
		h.bytes.WithLabelValues(info.OperationType).Add(float64(stats.Bytes))
	}
}

// Handler returns the HTTP handler serving the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
