// Package middleware provides cross-cutting concerns for the ranking
// pipeline: metric collection backed by Prometheus.
package middleware

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ahrav/go-consensus/internal/ports"
)

// Namespace prefixes every metric exported by PrometheusMetrics.
const Namespace = "consensus"

// PrometheusMetrics implements the MetricsCollector interface using
// Prometheus. Well-known metric names emitted by the sampler, the fitter
// middleware and the experiment runner are routed to dedicated vectors with
// meaningful labels; anything else lands in the generic operation vectors.
type PrometheusMetrics struct {
	rankingsSampled  *prometheus.CounterVec
	batchesGenerated *prometheus.CounterVec
	batchLatency     *prometheus.HistogramVec
	fits             *prometheus.CounterVec
	posteriorDraws   *prometheus.CounterVec
	cells            *prometheus.CounterVec
	fitLatency       *prometheus.HistogramVec
	consensusError   *prometheus.HistogramVec
	lastAlpha        *prometheus.GaugeVec
	executionLatency *prometheus.HistogramVec
	operationCounter *prometheus.CounterVec
	valueHistogram   *prometheus.HistogramVec
	systemGauges     *prometheus.GaugeVec
}

// NewPrometheusMetrics creates a new PrometheusMetrics instance and registers
// all metrics with reg. Passing prometheus.DefaultRegisterer exports them on
// the default /metrics handler; a nil reg creates unregistered metrics.
// Registering twice on the same registerer panics.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		// Sampling metrics.
		rankingsSampled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "rankings_sampled_total",
				Help:      "Total number of synthetic assessor rankings sampled.",
			},
			[]string{"strategy", "mode"},
		),
		batchesGenerated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "batches_generated_total",
				Help:      "Total number of ranking batches generated, by outcome.",
			},
			[]string{"strategy", "mode", "status"},
		),
		batchLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "batch_generation_duration_seconds",
				Help:      "Duration of successful ranking batch generation.",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
			},
			[]string{"strategy", "mode"},
		),

		// Fitting metrics.
		fits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "fits_total",
				Help:      "Total number of model fits, by backend, metric and outcome.",
			},
			[]string{"backend", "metric", "status"},
		),
		posteriorDraws: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "posterior_draws_total",
				Help:      "Total number of posterior draws returned by fitter backends.",
			},
			[]string{"backend", "metric"},
		),
		fitLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "fit_duration_seconds",
				Help:      "Duration of model fits.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"backend", "metric", "status"},
		),
		lastAlpha: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "fit_last_alpha",
				Help:      "Final dispersion draw of the most recent fit.",
			},
			[]string{"backend", "metric"},
		),

		// Sweep metrics.
		cells: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "cells_completed_total",
				Help:      "Total number of experiment cells processed, by outcome.",
			},
			[]string{"metric", "status"},
		),
		consensusError: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "normalized_error",
				Help:      "Distance between estimated and true consensus divided by the maximum distance.",
				Buckets:   prometheus.LinearBuckets(0, 0.05, 21),
			},
			[]string{"metric"},
		),

		// General execution metrics for everything else.
		executionLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "operation_duration_seconds",
				Help:      "Execution time of pipeline operations.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation", "unit"},
		),
		operationCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "operations_total",
				Help:      "Total number of operations performed, by name.",
			},
			[]string{"operation", "status", "unit"},
		),
		valueHistogram: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "observed_values",
				Help:      "Distribution of values reported without a dedicated histogram.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"metric", "unit"},
		),
		systemGauges: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "system_state",
				Help:      "Current system state values.",
			},
			[]string{"metric", "unit"},
		),
	}
}

// RecordLatency implements the MetricsCollector interface by recording
// execution latency in a Prometheus histogram. Batch generation has its own
// histogram; other operations share operation_duration_seconds.
func (pm *PrometheusMetrics) RecordLatency(
	operation string,
	duration time.Duration,
	labels map[string]string,
) {
	switch operation {
	case "generate_batch":
		pm.batchLatency.WithLabelValues(labels["strategy"], labels["mode"]).Observe(duration.Seconds())
	default:
		pm.executionLatency.WithLabelValues(operation, unitOf(labels)).Observe(duration.Seconds())
	}
}

// RecordCounter implements the MetricsCollector interface by incrementing
// Prometheus counters.
func (pm *PrometheusMetrics) RecordCounter(
	metric string, value float64, labels map[string]string,
) {
	switch metric {
	case "rankings_sampled_total":
		pm.rankingsSampled.WithLabelValues(labels["strategy"], labels["mode"]).Add(value)
	case "batches_generated_total":
		pm.batchesGenerated.WithLabelValues(labels["strategy"], labels["mode"], statusOf(labels)).Add(value)
	case "fits_total":
		pm.fits.WithLabelValues(labels["backend"], labels["metric"], statusOf(labels)).Add(value)
	case "posterior_draws_total":
		pm.posteriorDraws.WithLabelValues(labels["backend"], labels["metric"]).Add(value)
	case "cells_completed_total":
		pm.cells.WithLabelValues(labels["metric"], statusOf(labels)).Add(value)
	default:
		pm.operationCounter.WithLabelValues(metric, statusOf(labels), unitOf(labels)).Add(value)
	}
}

// RecordGauge implements the MetricsCollector interface by setting
// Prometheus gauge values.
func (pm *PrometheusMetrics) RecordGauge(
	metric string, value float64, labels map[string]string,
) {
	switch metric {
	case "fit_last_alpha":
		pm.lastAlpha.WithLabelValues(labels["backend"], labels["metric"]).Set(value)
	default:
		pm.systemGauges.WithLabelValues(metric, unitOf(labels)).Set(value)
	}
}

// RecordHistogram implements the MetricsCollector interface by recording
// values in a Prometheus histogram.
func (pm *PrometheusMetrics) RecordHistogram(
	metric string, value float64, labels map[string]string,
) {
	switch metric {
	case "fit_latency_seconds":
		pm.fitLatency.WithLabelValues(labels["backend"], labels["metric"], statusOf(labels)).Observe(value)
	case "consensus_normalized_error":
		pm.consensusError.WithLabelValues(labels["metric"]).Observe(value)
	default:
		pm.valueHistogram.WithLabelValues(metric, unitOf(labels)).Observe(value)
	}
}

func unitOf(labels map[string]string) string {
	if unit := labels["unit"]; unit != "" {
		return unit
	}
	return "unknown"
}

func statusOf(labels map[string]string) string {
	if status := labels["status"]; status != "" {
		return status
	}
	return "success"
}

// Compile-time verification that PrometheusMetrics implements MetricsCollector.
var _ ports.MetricsCollector = (*PrometheusMetrics)(nil)
