package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-consensus/infrastructure/fitter"
	"github.com/ahrav/go-consensus/internal/domain"
	"github.com/ahrav/go-consensus/internal/ports"
)

func TestNewFitterRegistry(t *testing.T) {
	r := NewFitterRegistry()
	assert.Equal(t, []string{"bootstrap"}, r.Backends())
}

func TestFitterRegistry_CreateBootstrap(t *testing.T) {
	r := NewFitterRegistry()

	t.Run("defaults without parameters", func(t *testing.T) {
		core, err := r.Create("bootstrap", nil)
		require.NoError(t, err)

		b, ok := core.(*fitter.BootstrapFitter)
		require.True(t, ok)
		assert.Equal(t, fitter.DefaultBootstrapConfig(), b.Config())
	})

	t.Run("parameters are decoded", func(t *testing.T) {
		core, err := r.Create("bootstrap", map[string]any{"sample_fraction": 0.5, "workers": 4})
		require.NoError(t, err)

		b := core.(*fitter.BootstrapFitter)
		assert.Equal(t, fitter.BootstrapConfig{SampleFraction: 0.5, Workers: 4}, b.Config())
	})

	t.Run("invalid parameters", func(t *testing.T) {
		_, err := r.Create("bootstrap", map[string]any{"sample_fraction": 2.0})
		assert.ErrorContains(t, err, "parameter validation failed")
	})
}

func TestFitterRegistry_UnknownBackend(t *testing.T) {
	_, err := NewFitterRegistry().Create("mallows-mcmc", nil)

	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
	assert.ErrorContains(t, err, "bootstrap")
}

func TestFitterRegistry_Register(t *testing.T) {
	r := NewFitterRegistry()
	mock := fitter.NewMockCoreFitter()

	var got yaml.Node
	require.NoError(t, r.Register("mock", func(params yaml.Node) (fitter.CoreFitter, error) {
		got = params
		return mock, nil
	}))

	core, err := r.Create("mock", map[string]any{"chains": 4})
	require.NoError(t, err)
	assert.Same(t, mock, core)

	var params struct {
		Chains int `yaml:"chains"`
	}
	require.NoError(t, got.Decode(&params))
	assert.Equal(t, 4, params.Chains)
	assert.Equal(t, []string{"bootstrap", "mock"}, r.Backends())

	assert.ErrorIs(t, r.Register("", func(yaml.Node) (fitter.CoreFitter, error) { return mock, nil }), domain.ErrInvalidConfiguration)
	assert.ErrorIs(t, r.Register("x", nil), domain.ErrInvalidConfiguration)
}

func TestNewFitterClient_MiddlewareChain(t *testing.T) {
	// Given: a backend that fails twice with a transient error
	mock := fitter.NewMockCoreFitter()
	mock.FailUntilAttempt = 2
	r := NewFitterRegistry()
	require.NoError(t, r.Register("mock", func(yaml.Node) (fitter.CoreFitter, error) { return mock, nil }))

	recorder := tracetest.NewSpanRecorder()
	tp := trace.NewTracerProvider(trace.WithSpanProcessor(recorder))
	metrics := newRecordingCollector()

	client, err := NewFitterClient(r, FitterConfig{
		Backend:            "mock",
		Timeout:            time.Second,
		MaxRetries:         3,
		RetryBaseDelay:     time.Millisecond,
		RetryMaxDelay:      5 * time.Millisecond,
		RateLimit:          1000,
		CircuitMaxFailures: 5,
		CircuitCooldown:    time.Minute,
	}, metrics, tp, "rankgen-test")
	require.NoError(t, err)

	// When: a fit is requested
	fit, err := client.Fit(context.Background(), testBatch(t), domain.MetricKendall, ports.FitOptions{Iterations: 5})

	// Then: retries recover inside a single traced and measured fit
	require.NoError(t, err)
	assert.Equal(t, 5, fit.Iterations())
	assert.Equal(t, 3, mock.GetCallCount())
	assert.Len(t, recorder.Ended(), 1)
	assert.Equal(t, 1.0, metrics.counter("fits_total", "success"))
}

func TestNewFitterClient_NoMiddleware(t *testing.T) {
	client, err := NewFitterClient(NewFitterRegistry(), FitterConfig{Backend: "bootstrap"}, nil, nil, "")
	require.NoError(t, err)
	assert.Equal(t, "bootstrap", client.Backend())
}

func TestNewFitterClient_UnknownBackend(t *testing.T) {
	_, err := NewFitterClient(NewFitterRegistry(), FitterConfig{Backend: "nope"}, nil, nil, "")
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}
