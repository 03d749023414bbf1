package fitter

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ahrav/go-consensus/internal/domain"
	"github.com/ahrav/go-consensus/internal/ports"
)

// ErrCircuitOpen indicates that the circuit breaker rejected a fit without
// calling the backend.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerState represents the current state of a circuit breaker.
type CircuitBreakerState int

// Circuit breaker states.
const (
	// StateClosed allows all fits to pass through normally.
	StateClosed CircuitBreakerState = iota

	// StateOpen rejects all fits immediately.
	// The circuit enters this state after too many consecutive failures.
	StateOpen

	// StateHalfOpen lets a single fit probe whether the backend recovered.
	// The circuit transitions to this state after the cooldown period expires.
	StateHalfOpen
)

// String returns the lower-case state name used in metric labels.
func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker tracks consecutive backend failures, opens after
// maxFailures of them and probes for recovery once the cooldown has passed.
// Only backend failures count: invalid requests and caller cancellation
// leave the failure count untouched.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            CircuitBreakerState
	failureCount     int
	maxFailures      int
	cooldownDuration time.Duration
	lastFailure      time.Time
	now              func() time.Time
}

// NewCircuitBreaker creates a circuit breaker with the specified configuration.
func NewCircuitBreaker(maxFailures int, cooldownDuration time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		state:            StateClosed,
		maxFailures:      max(1, maxFailures),
		cooldownDuration: cooldownDuration,
		now:              time.Now,
	}
}

// Call executes fn through the circuit breaker. If the circuit is open, this
// returns ErrCircuitOpen immediately. The mutex is not held while fn runs.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}
	err := fn()
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastFailure) < cb.cooldownDuration {
			return false
		}
		cb.state = StateHalfOpen
		return true
	case StateHalfOpen:
		// A probe is already in flight.
		return false
	default:
		return true
	}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch {
	case err == nil:
		cb.failureCount = 0
		cb.state = StateClosed
		return
	case !countsAsFailure(err):
		// An inconclusive probe lets the next call probe again.
		if cb.state == StateHalfOpen {
			cb.state = StateOpen
		}
		return
	}

	cb.failureCount++
	cb.lastFailure = cb.now()
	if cb.state == StateHalfOpen || cb.failureCount >= cb.maxFailures {
		cb.state = StateOpen
	}
}

// countsAsFailure reports whether err indicates an unhealthy backend rather
// than a bad request or a cancelled caller.
func countsAsFailure(err error) bool {
	var fe *ports.FitterError
	if errors.As(err, &fe) {
		return fe.IsRetryable()
	}
	return !errors.Is(err, context.Canceled) &&
		!errors.Is(err, domain.ErrInvalidConfiguration) &&
		!errors.Is(err, domain.ErrUnknownMetric)
}

// State returns the current circuit breaker state.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// circuitBreakerFitter fails fast while the backend is unhealthy.
type circuitBreakerFitter struct {
	next    CoreFitter
	cb      *CircuitBreaker
	metrics ports.MetricsCollector
}

// CircuitBreakerMiddleware creates middleware that implements the circuit
// breaker pattern. The circuit opens after maxFailures consecutive backend
// failures and stays open for the cooldown duration before probing
// recovery. When metrics is non-nil the state is exported as the gauge
// fitter_circuit_state.
func CircuitBreakerMiddleware(maxFailures int, cooldown time.Duration, metrics ports.MetricsCollector) Middleware {
	cb := NewCircuitBreaker(maxFailures, cooldown)

	return func(next CoreFitter) CoreFitter {
		return &circuitBreakerFitter{
			next:    next,
			cb:      cb,
			metrics: metrics,
		}
	}
}

// Fit executes the request through the circuit breaker.
func (c *circuitBreakerFitter) Fit(
	ctx context.Context,
	batch *domain.RankingBatch,
	metric domain.DistanceMetric,
	opts ports.FitOptions,
) (*domain.PosteriorFit, error) {
	var fit *domain.PosteriorFit
	err := c.cb.Call(func() error {
		var err error
		fit, err = c.next.Fit(ctx, batch, metric, opts)
		return err
	})

	if c.metrics != nil {
		state := c.cb.State()
		c.metrics.RecordGauge("fitter_circuit_state", float64(state), map[string]string{
			"backend": c.next.Backend(),
		})
		if errors.Is(err, ErrCircuitOpen) {
			c.metrics.RecordCounter("fitter_circuit_rejections_total", 1, map[string]string{
				"backend": c.next.Backend(),
			})
		}
	}

	if err != nil {
		return nil, err
	}
	return fit, nil
}

// Backend returns the backend name from the wrapped implementation.
func (c *circuitBreakerFitter) Backend() string { return c.next.Backend() }
