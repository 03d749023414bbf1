package fitter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ahrav/go-consensus/internal/domain"
	"github.com/ahrav/go-consensus/internal/ports"
)

// timeoutFitter bounds the duration of a single fit attempt.
type timeoutFitter struct {
	next    CoreFitter
	timeout time.Duration
}

// TimeoutMiddleware creates middleware that enforces a per-attempt timeout.
// An attempt that runs out of time is reported as a retryable
// *ports.FitterError wrapping ports.ErrTimeout, provided the caller's own
// context is still live.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next CoreFitter) CoreFitter {
		return &timeoutFitter{
			next:    next,
			timeout: timeout,
		}
	}
}

// Fit executes the request with a timeout context.
func (t *timeoutFitter) Fit(
	ctx context.Context,
	batch *domain.RankingBatch,
	metric domain.DistanceMetric,
	opts ports.FitOptions,
) (*domain.PosteriorFit, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	fit, err := t.next.Fit(attemptCtx, batch, metric, opts)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && !ports.IsRetryable(err) {
		return nil, ports.NewFitterError(t.next.Backend(), "fit",
			fmt.Errorf("%w after %v: %w", ports.ErrTimeout, t.timeout, err))
	}
	return fit, err
}

// Backend returns the backend name from the wrapped implementation.
func (t *timeoutFitter) Backend() string { return t.next.Backend() }
