// Package application orchestrates experiment sweeps: it loads experiment
// configuration, builds the fitter backend, and runs every (metric, sample
// size) cell from batch generation through posterior analysis.
package application

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/ahrav/go-consensus/infrastructure/fitter"
	"github.com/ahrav/go-consensus/infrastructure/sampler"
	"github.com/ahrav/go-consensus/infrastructure/tracing"
	"github.com/ahrav/go-consensus/internal/domain"
	"github.com/ahrav/go-consensus/internal/ports"
)

// Environment variables that override values from the experiment file.
const (
	EnvSeed        = "CONSENSUS_SEED"
	EnvConcurrency = "CONSENSUS_CONCURRENCY"
	EnvDBPath      = "CONSENSUS_DB_PATH"
)

// Weight profiles.
const (
	ProfileExplicit  = "explicit"
	ProfileGeometric = "geometric"
)

// Package-level validator instance for configuration validation.
var validate = validator.New()

// ExperimentConfig describes one experiment sweep: the latent consensus the
// synthetic assessors judge against, the grid of metrics and sample sizes to
// fit, and the infrastructure the run uses.
type ExperimentConfig struct {
	// Name identifies the sweep in reports, batch ids and stored results.
	Name string `yaml:"name" json:"name" validate:"required,max=255"`

	// Items are the item labels, listed in any order.
	Items []string `yaml:"items" json:"items" validate:"required,min=1,dive,required"`

	// Weights defines the latent preference strength of every item.
	Weights WeightsConfig `yaml:"weights" json:"weights"`

	// Metrics lists the distance metrics to fit under. Names are
	// case-insensitive and must name distinct metrics.
	Metrics []string `yaml:"metrics" json:"metrics" validate:"required,min=1,dive,required"`

	// SampleSizes lists the distinct numbers of assessors (M) to simulate.
	SampleSizes []int `yaml:"sample_sizes" json:"sample_sizes" validate:"required,min=1,unique,dive,min=1"`

	// Seed is the base seed; cell i uses Seed+i.
	Seed uint64 `yaml:"seed" json:"seed"`

	// Concurrency bounds how many cells run at once. Default: 1.
	Concurrency int `yaml:"concurrency" json:"concurrency" validate:"min=1,max=256"`

	// GenerationWorkers > 1 generates every batch in parallel with one
	// stream per assessor. 0 or 1 uses a single shared stream per cell.
	GenerationWorkers int `yaml:"generation_workers" json:"generation_workers" validate:"min=0,max=256"`

	// Sampler configures the ranking sampler.
	Sampler sampler.SamplerConfig `yaml:"sampler" json:"sampler"`

	// Fit configures the posterior fit and its analysis.
	Fit FitConfig `yaml:"fit" json:"fit"`

	// Fitter selects and configures the fitter backend.
	Fitter FitterConfig `yaml:"fitter" json:"fitter"`

	// Storage configures the batch archive.
	Storage StorageConfig `yaml:"storage" json:"storage"`

	// Tracing configures span export.
	Tracing tracing.Config `yaml:"tracing" json:"tracing"`
}

// WeightsConfig defines the weight profile of the latent consensus.
type WeightsConfig struct {
	// Profile is "explicit" (Values, one per item) or "geometric"
	// (decay^i for the i-th item). Default: "geometric".
	Profile string `yaml:"profile" json:"profile" validate:"oneof=explicit geometric"`

	// Values holds explicit weights, index-aligned with Items.
	Values []float64 `yaml:"values" json:"values,omitempty"`

	// Decay is the ratio of the geometric profile. Default: 0.8.
	Decay float64 `yaml:"decay" json:"decay,omitempty"`
}

// FitConfig configures how the model is fitted and summarized.
type FitConfig struct {
	// Iterations is the number of posterior draws per fit. The convergence
	// diagnostic needs at least 20. Default: 2000.
	Iterations int `yaml:"iterations" json:"iterations" validate:"min=20,max=10000000"`

	// Burnin is the number of leading draws discarded. Default: 200.
	Burnin int `yaml:"burnin" json:"burnin" validate:"min=0"`

	// Level is the credibility level of the intervals. Default: 0.95.
	Level float64 `yaml:"level" json:"level" validate:"gt=0,lt=1"`
}

// FitterConfig selects a registered backend and the middleware wrapped
// around it. Zero values disable the corresponding middleware.
type FitterConfig struct {
	// Backend names a registered fitter backend. Default: "bootstrap".
	Backend string `yaml:"backend" json:"backend" validate:"required"`

	// Parameters are passed to the backend factory.
	Parameters map[string]any `yaml:"parameters" json:"parameters,omitempty"`

	// Timeout bounds a single fit attempt.
	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"min=0"`

	// MaxRetries is the number of retries of retryable failures.
	MaxRetries int `yaml:"max_retries" json:"max_retries" validate:"min=0,max=10"`

	// RetryBaseDelay and RetryMaxDelay bound the exponential back-off.
	RetryBaseDelay time.Duration `yaml:"retry_base_delay" json:"retry_base_delay" validate:"min=0"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay" json:"retry_max_delay" validate:"min=0"`

	// RateLimit is the sustained number of fits per second; Burst the
	// number admitted at once.
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit" validate:"min=0"`
	Burst     int     `yaml:"burst" json:"burst" validate:"min=0"`

	// CircuitMaxFailures consecutive backend failures open the circuit
	// for CircuitCooldown.
	CircuitMaxFailures int           `yaml:"circuit_max_failures" json:"circuit_max_failures" validate:"min=0"`
	CircuitCooldown    time.Duration `yaml:"circuit_cooldown" json:"circuit_cooldown" validate:"min=0"`
}

// StorageConfig configures the SQLite batch archive.
type StorageConfig struct {
	// Path of the database file. Empty disables archiving.
	Path string `yaml:"path" json:"path,omitempty"`
}

// DefaultExperimentConfig returns the defaults every loaded file is
// merged over.
func DefaultExperimentConfig() ExperimentConfig {
	return ExperimentConfig{
		Weights: WeightsConfig{
			Profile: ProfileGeometric,
			Decay:   0.8,
		},
		Concurrency: 1,
		Sampler:     sampler.DefaultSamplerConfig(),
		Fit: FitConfig{
			Iterations: 2000,
			Burnin:     200,
			Level:      0.95,
		},
		Fitter: FitterConfig{
			Backend:        fitter.BackendBootstrap,
			RetryBaseDelay: 100 * time.Millisecond,
			RetryMaxDelay:  2 * time.Second,
		},
		Tracing: tracing.Config{
			ServiceName:  "rankgen",
			SamplingRate: 1,
		},
	}
}

// LoadConfig reads the experiment file at path, merges it over
// DefaultExperimentConfig, applies environment overrides and validates the
// result. Environment variables take precedence over file values.
//
// Errors:
//   - *ports.ConfigError wrapping ErrConfigNotFound if path does not exist.
//   - *ports.ConfigError if the file cannot be parsed or an override is
//     malformed.
//   - ErrInvalidConfiguration (via *domain.ValidationError) if the merged
//     configuration is invalid.
func LoadConfig(path string) (*ExperimentConfig, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, ports.NewConfigError(path, ports.ErrConfigNotFound)
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, ports.NewConfigError(path, fmt.Errorf("failed to load config file: %w", err))
	}

	cfg := DefaultExperimentConfig()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, ports.NewConfigError(path, fmt.Errorf("failed to decode config: %w", err))
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides replaces file values with the CONSENSUS_* environment
// variables that are set.
func applyEnvOverrides(cfg *ExperimentConfig) error {
	if val := os.Getenv(EnvSeed); val != "" {
		seed, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			return ports.NewConfigError(EnvSeed, fmt.Errorf("must be an unsigned integer: %w", err))
		}
		cfg.Seed = seed
	}
	if val := os.Getenv(EnvConcurrency); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return ports.NewConfigError(EnvConcurrency, fmt.Errorf("must be an integer: %w", err))
		}
		cfg.Concurrency = n
	}
	if val := os.Getenv(EnvDBPath); val != "" {
		cfg.Storage.Path = val
	}
	return nil
}

// Validate checks struct constraints and the cross-field rules between
// items, weights, metrics and the fit settings. All violations are
// reported together.
func (c *ExperimentConfig) Validate() error {
	verr := domain.NewValidationError("experiment")

	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				verr.AddError(fmt.Sprintf("%s failed %q validation", fe.Namespace(), fe.Tag()))
			}
		} else {
			verr.AddError(err.Error())
		}
	}

	if len(c.Items) > 0 {
		if _, err := domain.NewItemSet(c.Items...); err != nil {
			verr.AddError(err.Error())
		}
	}

	switch c.Weights.Profile {
	case ProfileExplicit:
		if len(c.Weights.Values) != len(c.Items) {
			verr.AddError(fmt.Sprintf("explicit profile needs %d weights, got %d", len(c.Items), len(c.Weights.Values)))
		} else if err := domain.WeightVector(c.Weights.Values).Validate(); err != nil {
			verr.AddError(err.Error())
		}
	case ProfileGeometric:
		if !(c.Weights.Decay > 0 && c.Weights.Decay <= 1) {
			verr.AddError(fmt.Sprintf("geometric decay must be in (0, 1], got %v", c.Weights.Decay))
		}
	}

	// Cells are keyed by (metric, size); duplicates would share a batch id.
	seen := make(map[domain.DistanceMetric]string, len(c.Metrics))
	for _, name := range c.Metrics {
		metric, err := domain.ParseDistanceMetric(name)
		if err != nil {
			verr.AddError(err.Error())
			continue
		}
		if prev, ok := seen[metric]; ok {
			verr.AddError(fmt.Sprintf("metrics %q and %q both select %s", prev, name, metric))
			continue
		}
		seen[metric] = name
	}

	if c.Fit.Burnin >= c.Fit.Iterations {
		verr.AddError(fmt.Sprintf("burnin %d must be less than iterations %d", c.Fit.Burnin, c.Fit.Iterations))
	}

	if verr.HasErrors() {
		return verr
	}
	return nil
}

// ItemSet builds the item set of the experiment.
func (c *ExperimentConfig) ItemSet() (domain.ItemSet, error) {
	return domain.NewItemSet(c.Items...)
}

// WeightVector builds the latent weights, index-aligned with ItemSet.
func (c *ExperimentConfig) WeightVector() (domain.WeightVector, error) {
	var w domain.WeightVector
	switch c.Weights.Profile {
	case ProfileExplicit:
		w = domain.WeightVector(c.Weights.Values).Clone()
	case ProfileGeometric:
		w = domain.GeometricWeights(len(c.Items), c.Weights.Decay)
	default:
		return nil, fmt.Errorf("%w: unknown weight profile %q", domain.ErrInvalidConfiguration, c.Weights.Profile)
	}
	if len(w) != len(c.Items) {
		return nil, fmt.Errorf("%w: %d weights for %d items", domain.ErrInvalidWeights, len(w), len(c.Items))
	}
	return w, w.Validate()
}

// DistanceMetrics parses the configured metric names in order.
func (c *ExperimentConfig) DistanceMetrics() ([]domain.DistanceMetric, error) {
	metrics := make([]domain.DistanceMetric, 0, len(c.Metrics))
	for _, name := range c.Metrics {
		m, err := domain.ParseDistanceMetric(name)
		if err != nil {
			return nil, err
		}
		metrics = append(metrics, m)
	}
	return metrics, nil
}
