package fitter

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/ahrav/go-consensus/internal/domain"
	"github.com/ahrav/go-consensus/internal/ports"
)

// metricsFitter records fit latency, outcome and posterior size.
type metricsFitter struct {
	next      CoreFitter
	collector ports.MetricsCollector
}

// MetricsMiddleware creates middleware that collects fit metrics:
// fit_latency_seconds, fits_total by status, posterior_draws_total and the
// gauge fit_last_alpha holding the final dispersion draw.
func MetricsMiddleware(collector ports.MetricsCollector) Middleware {
	return func(next CoreFitter) CoreFitter {
		return &metricsFitter{
			next:      next,
			collector: collector,
		}
	}
}

// Fit executes the request while collecting metrics.
func (m *metricsFitter) Fit(
	ctx context.Context,
	batch *domain.RankingBatch,
	metric domain.DistanceMetric,
	opts ports.FitOptions,
) (*domain.PosteriorFit, error) {
	start := time.Now()
	fit, err := m.next.Fit(ctx, batch, metric, opts)

	if m.collector == nil {
		return fit, err
	}

	labels := map[string]string{
		"backend": m.next.Backend(),
		"metric":  metric.String(),
		"status":  fitStatus(ctx, err),
	}
	m.collector.RecordHistogram("fit_latency_seconds", time.Since(start).Seconds(), labels)
	m.collector.RecordCounter("fits_total", 1, labels)

	if err == nil && fit != nil && fit.Iterations() > 0 {
		m.collector.RecordCounter("posterior_draws_total", float64(fit.Iterations()), labels)
		m.collector.RecordGauge("fit_last_alpha", fit.Alpha[fit.Iterations()-1], map[string]string{
			"backend":   m.next.Backend(),
			"metric":    metric.String(),
			"assessors": strconv.Itoa(fit.Assessors),
		})
	}

	return fit, err
}

// fitStatus classifies the outcome of a fit for metric labels.
func fitStatus(ctx context.Context, err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, ports.ErrTimeout), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ports.ErrRateLimited):
		return "rate_limited"
	default:
		return "error"
	}
}

// Backend returns the backend name from the wrapped implementation.
func (m *metricsFitter) Backend() string { return m.next.Backend() }
