package application

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-consensus/infrastructure/sampler"
	"github.com/ahrav/go-consensus/internal/domain"
	"github.com/ahrav/go-consensus/internal/ports"
)

// Runner executes experiment sweeps. For every (metric, sample size) cell it
// generates a batch of synthetic rankings, fits the model, summarizes the
// posterior and measures how far the estimated consensus is from the truth.
type Runner struct {
	generator *sampler.BatchGenerator
	fitter    ports.ModelFitter
	store     ports.BatchStore
	metrics   ports.MetricsCollector
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithStore archives every generated batch and cell result in store.
func WithStore(store ports.BatchStore) RunnerOption {
	return func(r *Runner) { r.store = store }
}

// WithRunnerMetrics reports cell outcomes and consensus error to collector.
func WithRunnerMetrics(collector ports.MetricsCollector) RunnerOption {
	return func(r *Runner) { r.metrics = collector }
}

// WithRunnerLogger sets the logger. Default: slog.Default().
func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = logger }
}

// WithTracerProvider sets the provider of the sweep and cell spans.
// Default: the otel global provider.
func WithTracerProvider(tp trace.TracerProvider) RunnerOption {
	return func(r *Runner) { r.tracer = tp.Tracer("runner") }
}

// NewRunner creates a Runner around a batch generator and a model fitter.
func NewRunner(generator *sampler.BatchGenerator, fitter ports.ModelFitter, opts ...RunnerOption) (*Runner, error) {
	if generator == nil {
		return nil, fmt.Errorf("%w: batch generator is nil", domain.ErrInvalidConfiguration)
	}
	if fitter == nil {
		return nil, fmt.Errorf("%w: model fitter is nil", domain.ErrInvalidConfiguration)
	}

	r := &Runner{
		generator: generator,
		fitter:    fitter,
		logger:    slog.Default(),
		tracer:    otel.Tracer("runner"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// cell is one point of the sweep grid.
type cell struct {
	index     int
	metric    domain.DistanceMetric
	assessors int
	seed      uint64
	batchID   string
}

// experiment holds the inputs shared by every cell of a sweep.
type experiment struct {
	cfg     *ExperimentConfig
	items   domain.ItemSet
	weights domain.WeightVector
	truth   domain.Ranking
}

// Run executes every cell of cfg. Cells are ordered metric-major in the
// configured order; cell i uses seed cfg.Seed+i, so a sweep is reproducible
// for a seed at any concurrency. Up to cfg.Concurrency cells run at once and
// the first failing cell cancels the rest.
//
// Errors:
//   - ErrInvalidConfiguration if cfg is nil or invalid.
//   - The first cell error, wrapped with the cell's metric and size.
func (r *Runner) Run(ctx context.Context, cfg *ExperimentConfig) (*Report, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: experiment config is nil", domain.ErrInvalidConfiguration)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	exp, cells, err := r.plan(cfg)
	if err != nil {
		return nil, err
	}

	ctx, span := r.tracer.Start(ctx, "runner.sweep",
		trace.WithAttributes(
			attribute.String("experiment.name", cfg.Name),
			attribute.Int("experiment.cells", len(cells)),
			attribute.Int("experiment.items", exp.items.Len()),
		),
	)
	defer span.End()

	started := r.now()
	r.logger.Info("experiment started",
		"experiment", cfg.Name,
		"cells", len(cells),
		"items", exp.items.Len(),
		"concurrency", cfg.Concurrency,
	)

	results := make([]domain.CellResult, len(cells))
	batches := make([]*domain.RankingBatch, len(cells))

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(cfg.Concurrency)
	for _, c := range cells {
		eg.Go(func() error {
			result, batch, err := r.runCell(gctx, exp, c)
			if err != nil {
				return fmt.Errorf("cell %s/%d: %w", c.metric, c.assessors, err)
			}
			results[c.index] = *result
			batches[c.index] = batch
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Error("experiment failed", "experiment", cfg.Name, "error", err)
		return nil, err
	}

	report := &Report{
		Experiment: cfg.Name,
		Items:      exp.items.Labels(),
		Weights:    exp.weights.Clone(),
		Seed:       cfg.Seed,
		Backend:    cfg.Fitter.Backend,
		StartedAt:  started,
		Duration:   r.now().Sub(started),
		Cells:      results,
		Summary:    summarize(results),
		Batches:    make(map[string]*domain.RankingBatch, len(cells)),
	}
	for i, c := range cells {
		report.Batches[c.batchID] = batches[i]
	}

	r.logger.Info("experiment completed",
		"experiment", cfg.Name,
		"cells", len(cells),
		"duration", report.Duration,
	)
	return report, nil
}

// plan resolves the experiment inputs and enumerates the sweep grid.
func (r *Runner) plan(cfg *ExperimentConfig) (*experiment, []cell, error) {
	items, err := cfg.ItemSet()
	if err != nil {
		return nil, nil, err
	}
	weights, err := cfg.WeightVector()
	if err != nil {
		return nil, nil, err
	}
	metrics, err := cfg.DistanceMetrics()
	if err != nil {
		return nil, nil, err
	}

	cells := make([]cell, 0, len(metrics)*len(cfg.SampleSizes))
	for _, metric := range metrics {
		for _, m := range cfg.SampleSizes {
			i := len(cells)
			cells = append(cells, cell{
				index:     i,
				metric:    metric,
				assessors: m,
				seed:      cfg.Seed + uint64(i),
				batchID:   fmt.Sprintf("%s/%s/%d", cfg.Name, metric, m),
			})
		}
	}

	return &experiment{
		cfg:     cfg,
		items:   items,
		weights: weights,
		truth:   weights.Consensus(),
	}, cells, nil
}

// runCell generates, archives, fits and evaluates one cell.
func (r *Runner) runCell(ctx context.Context, exp *experiment, c cell) (result *domain.CellResult, batch *domain.RankingBatch, err error) {
	ctx, span := r.tracer.Start(ctx, "runner.cell",
		trace.WithAttributes(
			attribute.String("cell.metric", c.metric.String()),
			attribute.Int("cell.assessors", c.assessors),
			attribute.Int64("cell.seed", int64(c.seed)),
		),
	)
	began := r.now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if r.metrics != nil {
			r.metrics.RecordCounter("cells_completed_total", 1, map[string]string{
				"metric": c.metric.String(),
				"status": status,
			})
		}
	}()

	batch, err = r.generate(ctx, exp, c)
	if err != nil {
		return nil, nil, err
	}
	if r.store != nil {
		if err := r.store.SaveBatch(ctx, c.batchID, batch); err != nil {
			return nil, nil, err
		}
	}

	fitCfg := exp.cfg.Fit
	fit, err := r.fitter.Fit(ctx, batch, c.metric, ports.FitOptions{
		Iterations: fitCfg.Iterations,
		Seed:       c.seed,
	})
	if err != nil {
		return nil, nil, err
	}

	consensus, err := r.fitter.ComputeConsensus(fit, fitCfg.Burnin)
	if err != nil {
		return nil, nil, err
	}
	intervals, err := r.fitter.ComputePosteriorIntervals(fit, fitCfg.Burnin, fitCfg.Level)
	if err != nil {
		return nil, nil, err
	}
	convergence, err := r.fitter.AssessConvergence(fit)
	if err != nil {
		return nil, nil, err
	}

	distance, err := domain.Distance(c.metric, consensus.Ranking, exp.truth)
	if err != nil {
		return nil, nil, err
	}
	maxDistance, err := domain.MaxDistance(c.metric, exp.items.Len())
	if err != nil {
		return nil, nil, err
	}
	var normalized float64
	if maxDistance > 0 {
		normalized = distance / maxDistance
	}

	result = &domain.CellResult{
		Experiment:         exp.cfg.Name,
		BatchID:            c.batchID,
		Metric:             c.metric,
		Assessors:          c.assessors,
		Seed:               c.seed,
		TrueConsensus:      exp.items.LabelsOf(exp.truth),
		EstimatedConsensus: exp.items.LabelsOf(consensus.Ranking),
		Consensus:          *consensus,
		Intervals:          *intervals,
		Convergence:        *convergence,
		Error:              distance,
		NormalizedError:    normalized,
		Duration:           r.now().Sub(began),
	}

	if r.store != nil {
		if err := r.store.SaveCellResult(ctx, *result); err != nil {
			return nil, nil, err
		}
	}
	if r.metrics != nil {
		r.metrics.RecordHistogram("consensus_normalized_error", normalized, map[string]string{
			"metric": c.metric.String(),
		})
	}

	span.SetAttributes(
		attribute.Float64("cell.error", distance),
		attribute.Bool("cell.converged", convergence.Converged),
	)
	r.logger.Debug("cell completed",
		"metric", c.metric,
		"assessors", c.assessors,
		"error", distance,
		"normalized_error", normalized,
		"converged", convergence.Converged,
	)
	if !convergence.Converged {
		r.logger.Warn("dispersion trace did not converge",
			"metric", c.metric,
			"assessors", c.assessors,
			"z_score", convergence.ZScore,
		)
	}
	return result, batch, nil
}

// generate builds the cell's batch, in parallel when generation workers
// are configured.
func (r *Runner) generate(ctx context.Context, exp *experiment, c cell) (*domain.RankingBatch, error) {
	if workers := exp.cfg.GenerationWorkers; workers > 1 {
		return r.generator.GenerateParallel(ctx, exp.items, exp.weights, c.assessors, c.seed, workers)
	}
	return r.generator.Generate(ctx, exp.items, exp.weights, c.assessors, rand.NewPCG(c.seed, uint64(c.index)))
}

// summarize aggregates cell results per metric in first-seen order.
func summarize(results []domain.CellResult) []MetricSummary {
	groups := lo.GroupBy(results, func(r domain.CellResult) domain.DistanceMetric { return r.Metric })
	order := lo.Uniq(lo.Map(results, func(r domain.CellResult, _ int) domain.DistanceMetric { return r.Metric }))

	return lo.Map(order, func(metric domain.DistanceMetric, _ int) MetricSummary {
		cells := groups[metric]
		return MetricSummary{
			Metric:              metric,
			Cells:               len(cells),
			MeanNormalizedError: lo.MeanBy(cells, func(r domain.CellResult) float64 { return r.NormalizedError }),
			ExactRecoveries:     lo.CountBy(cells, func(r domain.CellResult) bool { return r.Error == 0 }),
			Converged:           lo.CountBy(cells, func(r domain.CellResult) bool { return r.Convergence.Converged }),
		}
	})
}
