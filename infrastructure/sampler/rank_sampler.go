// Package sampler generates synthetic assessor rankings from a latent weight
// profile by weighted sampling without replacement, and assembles them into
// batches for a rank-aggregation fitter.
package sampler

import (
	"fmt"
	"math"
	"math/rand/v2"
	"reflect"
	"slices"

	"github.com/go-playground/validator/v10"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-consensus/internal/domain"
	"github.com/ahrav/go-consensus/internal/ports"
)

// Package-level validator instance for configuration validation.
var validate = validator.New()

// Strategy selects how a ranking is constructed from the weights.
type Strategy string

// Supported sampling strategies. Both produce the same distribution over
// rankings (Plackett-Luce); they differ in how randomness is consumed.
const (
	// StrategySequential draws one item per step from the normalized
	// remaining weights and zeroes the drawn entry.
	StrategySequential Strategy = "sequential"

	// StrategyGumbel perturbs each log-weight with independent Gumbel noise
	// and sorts items by the perturbed value.
	StrategyGumbel Strategy = "gumbel"
)

// SamplerConfig defines the configuration parameters for the RankSampler.
type SamplerConfig struct {
	// Strategy selects the construction. Default: "sequential".
	Strategy Strategy `yaml:"strategy" json:"strategy" validate:"required,oneof=sequential gumbel"`

	// RenormTolerance bounds how far the normalized step probabilities may
	// drift from summing to one before they are renormalized once more.
	// Zero renormalizes on any deviation. Default: 1e-12.
	RenormTolerance float64 `yaml:"renorm_tolerance" json:"renorm_tolerance" validate:"gte=0,lt=1"`
}

// DefaultSamplerConfig returns the sequential strategy with a 1e-12
// renormalization tolerance.
func DefaultSamplerConfig() SamplerConfig {
	return SamplerConfig{
		Strategy:        StrategySequential,
		RenormTolerance: 1e-12,
	}
}

// StepObserver receives the normalized probabilities used for each draw of
// the sequential strategy. The slice is a copy owned by the observer.
type StepObserver func(step int, probabilities []float64)

// Option configures a RankSampler.
type Option func(*RankSampler)

// WithStepObserver installs an observer called before every sequential draw.
func WithStepObserver(obs StepObserver) Option {
	return func(s *RankSampler) { s.observer = obs }
}

// RankSampler converts a weight vector into one random total order over the
// items: items with larger weight tend to appear earlier, and the
// distribution of orderings is that of Plackett-Luce sequential selection.
//
// A RankSampler holds no mutable state and is safe for concurrent use as
// long as every goroutine supplies its own RandomSource.
type RankSampler struct {
	config   SamplerConfig
	observer StepObserver
}

// NewRankSampler creates a RankSampler with the given configuration.
func NewRankSampler(config SamplerConfig, opts ...Option) (*RankSampler, error) {
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	s := &RankSampler{config: config}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the sampler configuration.
func (s *RankSampler) Config() SamplerConfig { return s.config }

// SampleRanking produces one permutation of {0, ..., N-1} for the given
// weights, consuming entropy from rng. The caller's weights are never
// modified; the sampler works on a private copy.
//
// Errors:
//   - ErrInvalidWeights if weights is empty, has a negative or non-finite
//     entry, or is all zero. Nothing is drawn from rng in that case.
//   - ErrInvalidConfiguration if rng is nil or a nil pointer.
//   - ErrDegenerateDistribution if the remaining positive mass vanishes
//     while positive items remain unplaced (an internal defect).
//
// Once every positive-weight item has been placed, the zero-weight items
// are tied and are appended in uniformly random order.
func (s *RankSampler) SampleRanking(weights domain.WeightVector, rng ports.RandomSource) (domain.Ranking, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	if isNilSource(rng) {
		return nil, fmt.Errorf("%w: random source is nil", domain.ErrInvalidConfiguration)
	}

	switch s.config.Strategy {
	case StrategyGumbel:
		return s.sampleGumbel(weights, rng), nil
	default:
		return s.sampleSequential(weights, rand.New(rng))
	}
}

// isNilSource reports whether rng is nil or holds a nil pointer, such as a
// nil *rand.PCG.
func isNilSource(rng ports.RandomSource) bool {
	if rng == nil {
		return true
	}
	v := reflect.ValueOf(rng)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

// sampleSequential implements weighted sampling without replacement: at
// every step the remaining weights are normalized, one index is drawn from
// the resulting categorical distribution, and its weight is set to exactly 0.
func (s *RankSampler) sampleSequential(weights domain.WeightVector, r *rand.Rand) (domain.Ranking, error) {
	n := len(weights)
	remaining := weights.Clone()
	order := make(domain.Ranking, 0, n)
	probs := make([]float64, n)

	positive := 0
	for _, w := range remaining {
		if w > 0 {
			positive++
		}
	}

	for step := 0; step < n; step++ {
		if positive == 0 {
			return appendTiedZeros(order, weights, r), nil
		}

		total := normalize(probs, remaining)
		if !(total > 0) {
			return nil, fmt.Errorf("%w: step %d: remaining mass %v with %d positive items unplaced",
				domain.ErrDegenerateDistribution, step, total, positive)
		}
		s.renormalize(probs)
		if s.observer != nil {
			s.observer(step, slices.Clone(probs))
		}

		k := draw(probs, r.Float64())
		order = append(order, k)
		remaining[k] = 0
		positive--
	}
	return order, nil
}

// sampleGumbel ranks positive-weight items by log(w) + Gumbel(0, 1) noise,
// which yields the same distribution as the sequential construction.
func (s *RankSampler) sampleGumbel(weights domain.WeightVector, rng ports.RandomSource) domain.Ranking {
	noise := distuv.GumbelRight{Mu: 0, Beta: 1, Src: rng}

	n := len(weights)
	keys := make([]float64, n)
	order := make(domain.Ranking, 0, n)
	for i, w := range weights {
		if w > 0 {
			keys[i] = math.Log(w) + noise.Rand()
			order = append(order, i)
		}
	}
	slices.SortStableFunc(order, func(a, b int) int {
		switch {
		case keys[a] > keys[b]:
			return -1
		case keys[a] < keys[b]:
			return 1
		default:
			return 0
		}
	})
	return appendTiedZeros(order, weights, rand.New(rng))
}

// normalize writes src divided by its sum into dst and returns the sum.
// Sums that overflow are handled by first scaling src by its maximum.
func normalize(dst, src []float64) float64 {
	total := floats.Sum(src)
	if math.IsInf(total, 1) {
		peak := floats.Max(src)
		for i, v := range src {
			dst[i] = v / peak
		}
		src = dst
		total = floats.Sum(dst)
	}
	if !(total > 0) {
		return total
	}
	for i, v := range src {
		dst[i] = v / total
	}
	return total
}

// renormalize divides probs by their sum when it deviates from one by more
// than the configured tolerance.
func (s *RankSampler) renormalize(probs []float64) {
	sum := floats.Sum(probs)
	if math.Abs(sum-1) <= s.config.RenormTolerance || !(sum > 0) {
		return
	}
	for i := range probs {
		probs[i] /= sum
	}
}

// draw returns the index selected by the uniform variate u in [0, 1) under
// the categorical distribution probs. Entries with zero probability are
// never selected; when rounding leaves u beyond the accumulated mass, the
// last positive entry is returned. At least one entry must be positive.
func draw(probs []float64, u float64) int {
	last := -1
	var cum float64
	for i, p := range probs {
		if p == 0 {
			continue
		}
		cum += p
		last = i
		if u < cum {
			return i
		}
	}
	return last
}

// appendTiedZeros appends the zero-weight items to order in uniformly random
// order.
func appendTiedZeros(order domain.Ranking, weights domain.WeightVector, r *rand.Rand) domain.Ranking {
	start := len(order)
	for i, w := range weights {
		if w == 0 {
			order = append(order, i)
		}
	}
	tail := order[start:]
	r.Shuffle(len(tail), func(i, j int) { tail[i], tail[j] = tail[j], tail[i] })
	return order
}

// UnmarshalParameters decodes YAML parameters into the sampler configuration.
//
// Example YAML:
//
//	strategy: gumbel
//	renorm_tolerance: 1e-10
//
// This method modifies the sampler and is NOT thread-safe.
func (s *RankSampler) UnmarshalParameters(params yaml.Node) error {
	config := DefaultSamplerConfig()
	if err := params.Decode(&config); err != nil {
		return fmt.Errorf("failed to decode parameters: %w", err)
	}
	if err := validate.Struct(config); err != nil {
		return fmt.Errorf("parameter validation failed: %w", err)
	}
	s.config = config
	return nil
}
