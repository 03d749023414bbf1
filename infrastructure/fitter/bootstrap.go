package fitter

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-consensus/internal/domain"
	"github.com/ahrav/go-consensus/internal/ports"
)

// BackendBootstrap is the registered name of the bootstrap backend.
const BackendBootstrap = "bootstrap"

// Package-level validator instance for configuration validation.
var validate = validator.New()

// Verify interface compliance at compile time.
var _ CoreFitter = (*BootstrapFitter)(nil)

// BootstrapConfig defines the configuration parameters for the
// BootstrapFitter.
type BootstrapConfig struct {
	// SampleFraction is the share of assessors drawn, with replacement, in
	// every resample. Default: 1.0.
	SampleFraction float64 `yaml:"sample_fraction" json:"sample_fraction" validate:"gt=0,lte=1"`

	// Workers bounds how many resamples are computed concurrently. The
	// draws do not depend on it. Default: 1.
	Workers int `yaml:"workers" json:"workers" validate:"min=1,max=256"`
}

// DefaultBootstrapConfig returns full-size resamples computed serially.
func DefaultBootstrapConfig() BootstrapConfig {
	return BootstrapConfig{
		SampleFraction: 1.0,
		Workers:        1,
	}
}

// BootstrapFitter approximates the posterior of a distance-based consensus
// model by resampling assessors. Each iteration draws assessors with
// replacement, takes the mean-rank (Borda) consensus of the resample as the
// consensus draw, and records the mean distance of the resampled rankings to
// that consensus under the requested metric as the dispersion draw.
//
// Iteration i uses its own stream seeded by (opts.Seed, i), so a fit is
// reproducible for a seed regardless of Workers.
type BootstrapFitter struct {
	config BootstrapConfig
}

// NewBootstrapFitter creates a bootstrap backend with the given configuration.
func NewBootstrapFitter(config BootstrapConfig) (*BootstrapFitter, error) {
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &BootstrapFitter{config: config}, nil
}

// Backend returns "bootstrap".
func (b *BootstrapFitter) Backend() string { return BackendBootstrap }

// Config returns the fitter configuration.
func (b *BootstrapFitter) Config() BootstrapConfig { return b.config }

// Fit runs opts.Iterations bootstrap resamples of batch. Invalid requests are
// reported as non-retryable *ports.FitterError values; cancellation returns
// the context error.
func (b *BootstrapFitter) Fit(
	ctx context.Context,
	batch *domain.RankingBatch,
	metric domain.DistanceMetric,
	opts ports.FitOptions,
) (*domain.PosteriorFit, error) {
	if err := checkFitRequest(batch, metric, opts); err != nil {
		return nil, ports.NewFitterError(BackendBootstrap, "fit", err)
	}

	rows := batch.Rows()
	ranks := batch.RankMatrix()
	size := max(1, int(math.Round(b.config.SampleFraction*float64(len(rows)))))

	fit := &domain.PosteriorFit{
		Backend:   BackendBootstrap,
		Metric:    metric,
		Items:     batch.Items(),
		Assessors: len(rows),
		Alpha:     make([]float64, opts.Iterations),
		Consensus: make([]domain.Ranking, opts.Iterations),
	}

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(b.config.Workers)
	for i := 0; i < opts.Iterations; i++ {
		eg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r := rand.New(rand.NewPCG(opts.Seed, uint64(i)))
			consensus, alpha, err := resample(rows, ranks, size, metric, r)
			if err != nil {
				return ports.NewFitterError(BackendBootstrap, "fit", err)
			}
			fit.Consensus[i] = consensus
			fit.Alpha[i] = alpha
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return fit, nil
}

// resample draws size assessors with replacement and returns their
// mean-rank consensus and mean distance to it.
func resample(
	rows []domain.Ranking,
	ranks [][]int,
	size int,
	metric domain.DistanceMetric,
	r *rand.Rand,
) (domain.Ranking, float64, error) {
	picked := make([]int, size)
	for j := range picked {
		picked[j] = r.IntN(len(rows))
	}

	n := len(ranks[0])
	means := make([]float64, n)
	for _, a := range picked {
		for item, rank := range ranks[a] {
			means[item] += float64(rank)
		}
	}
	for i := range means {
		means[i] /= float64(size)
	}
	consensus := orderByMean(means)

	var total float64
	for _, a := range picked {
		d, err := domain.Distance(metric, consensus, rows[a])
		if err != nil {
			return nil, 0, err
		}
		total += d
	}
	return consensus, total / float64(size), nil
}

// UnmarshalParameters decodes YAML parameters into the fitter configuration.
//
// Example YAML:
//
//	sample_fraction: 0.8
//	workers: 4
//
// This method modifies the fitter and is NOT thread-safe.
func (b *BootstrapFitter) UnmarshalParameters(params yaml.Node) error {
	config := DefaultBootstrapConfig()
	if err := params.Decode(&config); err != nil {
		return fmt.Errorf("failed to decode parameters: %w", err)
	}
	if err := validate.Struct(config); err != nil {
		return fmt.Errorf("parameter validation failed: %w", err)
	}
	b.config = config
	return nil
}
