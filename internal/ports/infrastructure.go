// Package ports defines the core interfaces that form the contract between
// the domain/application layers and the infrastructure layer.
// These interfaces enable dependency inversion and make the system testable.
package ports

import (
	"context"
	"time"

	"github.com/ahrav/go-consensus/internal/domain"
)

// RandomSource supplies uniformly distributed 64-bit values to samplers.
// It has the same method set as math/rand/v2.Source, so *rand.PCG and
// *rand.ChaCha8 can be passed directly. A RandomSource is not safe for
// concurrent use; parallel callers must give each worker its own stream.
type RandomSource interface {
	Uint64() uint64
}

// FitOptions carries backend-independent fitting parameters.
type FitOptions struct {
	// Iterations is the number of posterior draws to record.
	Iterations int

	// Seed seeds the backend's random stream for reproducible fits.
	Seed uint64
}

// ModelFitter abstracts the external rank-aggregation fitter (for example a
// Mallows model fitted by MCMC). Tests substitute a double for the real
// backend.
type ModelFitter interface {
	// Fit fits the model to the batch under the given distance metric and
	// returns the raw posterior draws.
	Fit(
		ctx context.Context,
		batch *domain.RankingBatch,
		metric domain.DistanceMetric,
		opts FitOptions,
	) (*domain.PosteriorFit, error)

	// ComputeConsensus returns the point-estimate consensus ranking after
	// discarding the first burnin iterations.
	ComputeConsensus(fit *domain.PosteriorFit, burnin int) (*domain.ConsensusEstimate, error)

	// ComputePosteriorIntervals returns equal-tailed credible intervals at
	// the given level (0 < level < 1) for every item's rank and for the
	// dispersion parameter.
	ComputePosteriorIntervals(
		fit *domain.PosteriorFit,
		burnin int,
		level float64,
	) (*domain.PosteriorIntervals, error)

	// AssessConvergence inspects the dispersion trace for convergence.
	AssessConvergence(fit *domain.PosteriorFit) (*domain.ConvergenceReport, error)
}

// BatchStore archives generated batches and experiment results so that a
// sweep can be inspected or re-fitted later.
type BatchStore interface {
	// SaveBatch stores the batch under id, replacing any existing batch.
	SaveBatch(ctx context.Context, id string, batch *domain.RankingBatch) error

	// LoadBatch returns the batch stored under id. A missing id yields an
	// error matching ErrBatchNotFound.
	LoadBatch(ctx context.Context, id string) (*domain.RankingBatch, error)

	// ListBatches returns the ids of all stored batches in ascending order.
	ListBatches(ctx context.Context) ([]string, error)

	// SaveCellResult stores the outcome of one sweep cell.
	SaveCellResult(ctx context.Context, result domain.CellResult) error

	// ListCellResults returns the stored results of an experiment ordered
	// by metric and sample size.
	ListCellResults(ctx context.Context, experiment string) ([]domain.CellResult, error)
}

// MetricsCollector defines the interface for collecting operational metrics.
// Implementations should integrate with observability platforms like
// Prometheus,
// OpenTelemetry, or custom monitoring solutions.
type MetricsCollector interface {
	// RecordLatency records the execution time of an operation.
	// The labels map provides additional context for the metric.
	RecordLatency(operation string, duration time.Duration, labels map[string]string)

	// RecordCounter increments a counter metric.
	// This is useful for tracking events like rankings sampled, errors, etc.
	RecordCounter(metric string, value float64, labels map[string]string)

	// RecordGauge sets the current value of a gauge metric.
	// This is useful for tracking values like the latest dispersion estimate.
	RecordGauge(metric string, value float64, labels map[string]string)

	// RecordHistogram records a value in a histogram.
	// This is useful for tracking distributions like consensus error.
	RecordHistogram(metric string, value float64, labels map[string]string)
}
