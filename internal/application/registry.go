package application

import (
	"fmt"
	"slices"
	"sync"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-consensus/infrastructure/fitter"
	"github.com/ahrav/go-consensus/internal/domain"
	"github.com/ahrav/go-consensus/internal/ports"
)

// FitterFactory creates a fitter backend from its YAML parameters. A zero
// yaml.Node means no parameters were given.
type FitterFactory func(params yaml.Node) (fitter.CoreFitter, error)

// FitterRegistry maps backend names to factories. The bootstrap backend is
// registered by default; other backends (for example an adapter around an
// external Mallows sampler) are added with Register.
type FitterRegistry struct {
	// factories maps backend names to their factory functions.
	factories map[string]FitterFactory
	// mu protects concurrent access to the factories map.
	mu sync.RWMutex
}

// NewFitterRegistry creates a registry with the built-in backends.
func NewFitterRegistry() *FitterRegistry {
	r := &FitterRegistry{factories: make(map[string]FitterFactory)}
	r.factories[fitter.BackendBootstrap] = newBootstrapBackend
	return r
}

func newBootstrapBackend(params yaml.Node) (fitter.CoreFitter, error) {
	b, err := fitter.NewBootstrapFitter(fitter.DefaultBootstrapConfig())
	if err != nil {
		return nil, err
	}
	if params.Kind != 0 {
		if err := b.UnmarshalParameters(params); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Register adds or replaces the factory for backend.
func (r *FitterRegistry) Register(backend string, factory FitterFactory) error {
	if backend == "" {
		return fmt.Errorf("%w: backend name cannot be empty", domain.ErrInvalidConfiguration)
	}
	if factory == nil {
		return fmt.Errorf("%w: factory function cannot be nil", domain.ErrInvalidConfiguration)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[backend] = factory
	return nil
}

// Create builds the named backend. params is re-encoded as YAML so each
// factory decodes it into its own typed configuration.
func (r *FitterRegistry) Create(backend string, params map[string]any) (fitter.CoreFitter, error) {
	r.mu.RLock()
	factory, ok := r.factories[backend]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: unsupported fitter backend %q (registered: %v)",
			domain.ErrInvalidConfiguration, backend, r.Backends())
	}

	var node yaml.Node
	if len(params) > 0 {
		if err := node.Encode(params); err != nil {
			return nil, fmt.Errorf("failed to encode parameters for %s: %w", backend, err)
		}
	}

	core, err := factory(node)
	if err != nil {
		return nil, fmt.Errorf("failed to create fitter backend %s: %w", backend, err)
	}
	return core, nil
}

// Backends returns the registered backend names in sorted order.
func (r *FitterRegistry) Backends() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// NewFitterClient creates the configured backend and wraps it in the
// middleware enabled by cfg. From outermost to innermost the chain is:
// tracing, metrics, circuit breaker, retry, rate limit, timeout. The
// timeout bounds each attempt, so retries see a fresh deadline.
func NewFitterClient(
	registry *FitterRegistry,
	cfg FitterConfig,
	metrics ports.MetricsCollector,
	tp trace.TracerProvider,
	serviceName string,
) (*fitter.Client, error) {
	core, err := registry.Create(cfg.Backend, cfg.Parameters)
	if err != nil {
		return nil, err
	}

	var chain []fitter.Middleware
	if tp != nil {
		chain = append(chain, fitter.TracingMiddlewareWithProvider(serviceName, tp))
	}
	if metrics != nil {
		chain = append(chain, fitter.MetricsMiddleware(metrics))
	}
	if cfg.CircuitMaxFailures > 0 {
		chain = append(chain, fitter.CircuitBreakerMiddleware(cfg.CircuitMaxFailures, cfg.CircuitCooldown, metrics))
	}
	if cfg.MaxRetries > 0 {
		chain = append(chain, fitter.RetryMiddleware(cfg.MaxRetries, cfg.RetryBaseDelay, cfg.RetryMaxDelay))
	}
	if cfg.RateLimit > 0 {
		chain = append(chain, fitter.RateLimitMiddleware(rate.Limit(cfg.RateLimit), max(1, cfg.Burst)))
	}
	if cfg.Timeout > 0 {
		chain = append(chain, fitter.TimeoutMiddleware(cfg.Timeout))
	}

	return fitter.NewClient(core, chain...)
}
