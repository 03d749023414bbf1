package fitter

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/ahrav/go-consensus/internal/domain"
	"github.com/ahrav/go-consensus/internal/ports"
)

// retryFitter retries transient backend failures with exponential backoff.
type retryFitter struct {
	next       CoreFitter
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// RetryMiddleware creates middleware that retries failed fits with
// exponential backoff. Only errors carrying a retryable *ports.FitterError
// (rate limited, unavailable, timed out) are retried; invalid input, invalid
// fits and an open circuit fail immediately.
func RetryMiddleware(maxRetries int, baseDelay, maxDelay time.Duration) Middleware {
	return func(next CoreFitter) CoreFitter {
		return &retryFitter{
			next:       next,
			maxRetries: maxRetries,
			baseDelay:  baseDelay,
			maxDelay:   maxDelay,
		}
	}
}

// Fit executes the request with automatic retry logic. A RetryAfter hint on
// the backend error takes precedence over the computed backoff when longer.
func (r *retryFitter) Fit(
	ctx context.Context,
	batch *domain.RankingBatch,
	metric domain.DistanceMetric,
	opts ports.FitOptions,
) (*domain.PosteriorFit, error) {
	var lastErr error

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		fit, err := r.next.Fit(ctx, batch, metric, opts)
		if err == nil {
			return fit, nil
		}

		lastErr = err

		if !ports.IsRetryable(err) || ctx.Err() != nil {
			return nil, err
		}

		if attempt == r.maxRetries {
			break
		}

		delay := r.calculateDelay(attempt)
		var fe *ports.FitterError
		if errors.As(err, &fe) && fe.RetryAfter != nil && *fe.RetryAfter > delay {
			delay = min(*fe.RetryAfter, r.maxDelay)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("fit failed after %d attempts: %w", r.maxRetries+1, lastErr)
}

func (r *retryFitter) calculateDelay(attempt int) time.Duration {
	// Exponential backoff with jitter.
	attempt = max(0, min(attempt, 30))
	multiplier := 1 << uint(attempt)
	delay := time.Duration(float64(r.baseDelay) * float64(multiplier))

	// Add jitter (±25%)
	// #nosec G404 - Using weak RNG is acceptable for jitter calculation
	jitter := time.Duration(rand.Float64() * float64(delay) * 0.5)
	delay = delay + jitter - (delay / 4)

	if delay > r.maxDelay {
		delay = r.maxDelay
	}

	return delay
}

// Backend returns the backend name from the wrapped implementation.
func (r *retryFitter) Backend() string { return r.next.Backend() }
