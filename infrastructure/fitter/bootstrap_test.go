package fitter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-consensus/internal/domain"
	"github.com/ahrav/go-consensus/internal/ports"
)

func newTestBootstrap(t *testing.T, config BootstrapConfig) *BootstrapFitter {
	t.Helper()
	b, err := NewBootstrapFitter(config)
	require.NoError(t, err)
	return b
}

// noisyBatch returns a batch whose assessors mostly agree on 0 > 1 > 2 > 3.
func noisyBatch(t *testing.T) *domain.RankingBatch {
	t.Helper()
	return newTestBatch(t,
		domain.Ranking{0, 1, 2, 3},
		domain.Ranking{0, 1, 2, 3},
		domain.Ranking{0, 1, 2, 3},
		domain.Ranking{1, 0, 2, 3},
		domain.Ranking{0, 2, 1, 3},
		domain.Ranking{0, 1, 3, 2},
		domain.Ranking{0, 1, 2, 3},
		domain.Ranking{1, 0, 3, 2},
	)
}

func TestBootstrapFitter_UnanimousBatch(t *testing.T) {
	b := newTestBootstrap(t, DefaultBootstrapConfig())
	row := domain.Ranking{2, 0, 1}
	batch := newTestBatch(t, row, row, row, row)

	fit, err := b.Fit(context.Background(), batch, domain.MetricKendall, ports.FitOptions{Iterations: 25, Seed: 1})
	require.NoError(t, err)

	assert.Equal(t, BackendBootstrap, fit.Backend)
	assert.Equal(t, domain.MetricKendall, fit.Metric)
	assert.Equal(t, 4, fit.Assessors)
	require.Equal(t, 25, fit.Iterations())
	for i := range fit.Consensus {
		assert.Equal(t, row, fit.Consensus[i])
		assert.Zero(t, fit.Alpha[i], "unanimous assessors have zero dispersion")
	}
	require.NoError(t, fit.Validate())
}

func TestBootstrapFitter_RecoversMajorityConsensus(t *testing.T) {
	b := newTestBootstrap(t, DefaultBootstrapConfig())
	batch := noisyBatch(t)

	for _, metric := range domain.AllMetrics {
		t.Run(metric.String(), func(t *testing.T) {
			fit, err := b.Fit(context.Background(), batch, metric, ports.FitOptions{Iterations: 200, Seed: 42})
			require.NoError(t, err)

			est, err := ComputeConsensus(fit, 20)
			require.NoError(t, err)
			assert.Equal(t, domain.Ranking{0, 1, 2, 3}, est.Ranking)

			maxDist, err := domain.MaxDistance(metric, 4)
			require.NoError(t, err)
			for i, a := range fit.Alpha {
				assert.GreaterOrEqual(t, a, 0.0, "draw %d", i)
				assert.LessOrEqual(t, a, maxDist, "draw %d", i)
			}
		})
	}
}

func TestBootstrapFitter_ReproducibleAcrossWorkers(t *testing.T) {
	batch := noisyBatch(t)
	opts := ports.FitOptions{Iterations: 64, Seed: 7}

	serial := newTestBootstrap(t, BootstrapConfig{SampleFraction: 1, Workers: 1})
	parallel := newTestBootstrap(t, BootstrapConfig{SampleFraction: 1, Workers: 8})

	a, err := serial.Fit(context.Background(), batch, domain.MetricFootrule, opts)
	require.NoError(t, err)
	b, err := parallel.Fit(context.Background(), batch, domain.MetricFootrule, opts)
	require.NoError(t, err)

	assert.Equal(t, a.Alpha, b.Alpha)
	assert.Equal(t, a.Consensus, b.Consensus)

	opts.Seed = 8
	c, err := serial.Fit(context.Background(), batch, domain.MetricFootrule, opts)
	require.NoError(t, err)
	assert.NotEqual(t, a.Alpha, c.Alpha, "a different seed must change the draws")
}

func TestBootstrapFitter_InvalidRequest(t *testing.T) {
	b := newTestBootstrap(t, DefaultBootstrapConfig())
	batch := noisyBatch(t)

	_, err := b.Fit(context.Background(), batch, "manhattan", ports.FitOptions{Iterations: 10})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnknownMetric)
	assert.False(t, ports.IsRetryable(err), "invalid requests must not be retried")

	var fe *ports.FitterError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, BackendBootstrap, fe.Backend)

	_, err = b.Fit(context.Background(), batch, domain.MetricKendall, ports.FitOptions{})
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestBootstrapFitter_Cancelled(t *testing.T) {
	b := newTestBootstrap(t, DefaultBootstrapConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Fit(ctx, noisyBatch(t), domain.MetricKendall, ports.FitOptions{Iterations: 100})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestNewBootstrapFitter_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		config BootstrapConfig
	}{
		{name: "zero fraction", config: BootstrapConfig{SampleFraction: 0, Workers: 1}},
		{name: "fraction above one", config: BootstrapConfig{SampleFraction: 1.5, Workers: 1}},
		{name: "no workers", config: BootstrapConfig{SampleFraction: 1, Workers: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBootstrapFitter(tt.config)
			assert.Error(t, err)
		})
	}
}

func TestBootstrapFitter_UnmarshalParameters(t *testing.T) {
	b := newTestBootstrap(t, DefaultBootstrapConfig())

	var node yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte("sample_fraction: 0.5\nworkers: 4\n"), &node))
	require.NoError(t, b.UnmarshalParameters(node))
	assert.Equal(t, BootstrapConfig{SampleFraction: 0.5, Workers: 4}, b.Config())

	var bad yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte("workers: 0\n"), &bad))
	assert.Error(t, b.UnmarshalParameters(bad))
	assert.Equal(t, 4, b.Config().Workers, "failed update must keep previous config")
}
