package sampler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-consensus/internal/domain"
	"github.com/ahrav/go-consensus/internal/ports"
)

// BatchGenerator invokes a RankSampler once per synthetic assessor to build
// a RankingBatch judged against one fixed latent consensus. The first
// sampling failure aborts the whole batch.
type BatchGenerator struct {
	sampler *RankSampler
	sample  func(domain.WeightVector, ports.RandomSource) (domain.Ranking, error)
	metrics ports.MetricsCollector
	logger  *slog.Logger
	tracer  trace.Tracer
}

// GeneratorOption configures a BatchGenerator.
type GeneratorOption func(*BatchGenerator)

// WithMetrics records batch counters and latencies on collector.
func WithMetrics(collector ports.MetricsCollector) GeneratorOption {
	return func(g *BatchGenerator) { g.metrics = collector }
}

// WithLogger sets the structured logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) GeneratorOption {
	return func(g *BatchGenerator) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewBatchGenerator creates a generator around sampler.
func NewBatchGenerator(sampler *RankSampler, opts ...GeneratorOption) (*BatchGenerator, error) {
	if sampler == nil {
		return nil, fmt.Errorf("%w: sampler is nil", domain.ErrInvalidConfiguration)
	}
	g := &BatchGenerator{
		sampler: sampler,
		sample:  sampler.SampleRanking,
		logger:  slog.Default(),
		tracer:  otel.Tracer("batch-generator"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Generate samples m rankings with identical weights from the single stream
// rng. The stream is advanced, never reset, between assessors, so every
// ranking consumes fresh randomness. Results depend on the exact sequence of
// draws and are reproducible for a given stream state.
//
// Errors:
//   - ErrInvalidWeights if weights do not match items in length or are invalid.
//   - ErrInvalidConfiguration if m < 1 or rng is nil.
//   - *domain.SamplingError wrapping the sampler's error for the first
//     assessor that failed.
//   - ctx.Err() if the context is cancelled between assessors.
func (g *BatchGenerator) Generate(
	ctx context.Context,
	items domain.ItemSet,
	weights domain.WeightVector,
	m int,
	rng ports.RandomSource,
) (batch *domain.RankingBatch, err error) {
	ctx, finish := g.start(ctx, "sequential", items.Len(), m)
	defer func() { finish(err) }()

	if err := checkInputs(items, weights, m); err != nil {
		return nil, err
	}
	if isNilSource(rng) {
		return nil, fmt.Errorf("%w: random source is nil", domain.ErrInvalidConfiguration)
	}

	batch = domain.NewRankingBatch(items, m)
	for a := 0; a < m; a++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r, err := g.sample(weights, rng)
		if err != nil {
			return nil, domain.NewSamplingError(a, err)
		}
		if err := batch.Append(r); err != nil {
			return nil, domain.NewSamplingError(a, err)
		}
	}
	batch.Seal()
	return batch, nil
}

// GenerateParallel samples m rankings using up to workers goroutines. Each
// assessor a draws from its own stream AssessorStream(seed, a), so the batch
// is identical for any worker count. This differs from Generate, which
// shares one stream across assessors: the two methods produce different
// batches for the same seed.
func (g *BatchGenerator) GenerateParallel(
	ctx context.Context,
	items domain.ItemSet,
	weights domain.WeightVector,
	m int,
	seed uint64,
	workers int,
) (batch *domain.RankingBatch, err error) {
	ctx, finish := g.start(ctx, "parallel", items.Len(), m)
	defer func() { finish(err) }()

	if err := checkInputs(items, weights, m); err != nil {
		return nil, err
	}
	if workers < 1 {
		return nil, fmt.Errorf("%w: workers must be positive, got %d", domain.ErrInvalidConfiguration, workers)
	}

	rows := make([]domain.Ranking, m)
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for a := 0; a < m; a++ {
		eg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := g.sample(weights, AssessorStream(seed, a))
			if err != nil {
				return domain.NewSamplingError(a, err)
			}
			rows[a] = r
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	batch = domain.NewRankingBatch(items, m)
	for a, r := range rows {
		if err := batch.Append(r); err != nil {
			return nil, domain.NewSamplingError(a, err)
		}
	}
	batch.Seal()
	return batch, nil
}

// AssessorStream returns the independent random stream of assessor a under
// seed. Streams for different assessors never overlap in practice.
func AssessorStream(seed uint64, a int) *rand.PCG {
	return rand.NewPCG(seed, uint64(a))
}

func checkInputs(items domain.ItemSet, weights domain.WeightVector, m int) error {
	if items.Len() != len(weights) {
		return fmt.Errorf("%w: %d weights for %d items", domain.ErrInvalidWeights, len(weights), items.Len())
	}
	if err := weights.Validate(); err != nil {
		return err
	}
	if m < 1 {
		return fmt.Errorf("%w: number of assessors must be positive, got %d", domain.ErrInvalidConfiguration, m)
	}
	return nil
}

// start opens the batch span and returns a function that closes it and
// records logs and metrics for the outcome.
func (g *BatchGenerator) start(ctx context.Context, mode string, n, m int) (context.Context, func(error)) {
	strategy := string(g.sampler.config.Strategy)
	ctx, span := g.tracer.Start(ctx, "sampler.generate_batch",
		trace.WithAttributes(
			attribute.String("sampler.mode", mode),
			attribute.String("sampler.strategy", strategy),
			attribute.Int("batch.items", n),
			attribute.Int("batch.assessors", m),
		),
	)
	began := time.Now()

	// Collectors may retain label maps, so every call gets its own.
	labels := func(extra ...string) map[string]string {
		l := map[string]string{
			"unit":     "batch_generator",
			"mode":     mode,
			"strategy": strategy,
		}
		for i := 0; i+1 < len(extra); i += 2 {
			l[extra[i]] = extra[i+1]
		}
		return l
	}

	return ctx, func(err error) {
		elapsed := time.Since(began)

		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			var se *domain.SamplingError
			if errors.As(err, &se) {
				span.SetAttributes(attribute.Int("sampler.failed_assessor", se.Assessor))
			}
			g.logger.ErrorContext(ctx, "batch generation failed",
				"mode", mode, "items", n, "assessors", m, "error", err)
			if g.metrics != nil {
				g.metrics.RecordCounter("batches_generated_total", 1, labels("status", "error"))
			}
		} else {
			g.logger.DebugContext(ctx, "batch generated",
				"mode", mode, "items", n, "assessors", m, "elapsed", elapsed)
			if g.metrics != nil {
				g.metrics.RecordCounter("batches_generated_total", 1, labels("status", "success"))
				g.metrics.RecordCounter("rankings_sampled_total", float64(m), labels("status", "success"))
				g.metrics.RecordLatency("generate_batch", elapsed, labels("items", strconv.Itoa(n)))
			}
		}
		span.End()
	}
}
