package fitter

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/ahrav/go-consensus/internal/domain"
	"github.com/ahrav/go-consensus/internal/ports"
)

// rateLimitedFitter paces fits using a token bucket so a shared backend is
// not flooded when many sweep cells run concurrently.
type rateLimitedFitter struct {
	next    CoreFitter
	limiter *rate.Limiter
}

// RateLimitMiddleware creates middleware that enforces rate limiting using a
// token bucket algorithm. The limit parameter sets fits per second, while
// burst allows temporary spikes above the sustained rate.
func RateLimitMiddleware(limit rate.Limit, burst int) Middleware {
	limiter := rate.NewLimiter(limit, burst)

	return func(next CoreFitter) CoreFitter {
		return &rateLimitedFitter{
			next:    next,
			limiter: limiter,
		}
	}
}

// Fit waits for rate limit permission before forwarding the request.
// This blocks the calling goroutine until a token is available or ctx ends.
func (r *rateLimitedFitter) Fit(
	ctx context.Context,
	batch *domain.RankingBatch,
	metric domain.DistanceMetric,
	opts ports.FitOptions,
) (*domain.PosteriorFit, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	return r.next.Fit(ctx, batch, metric, opts)
}

// Backend returns the backend name from the wrapped implementation.
func (r *rateLimitedFitter) Backend() string { return r.next.Backend() }
