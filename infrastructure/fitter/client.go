// Package fitter provides a rank-aggregation model fitter client with
// pluggable backends and production-ready middleware.
//
// The client follows a middleware architecture: a backend implements the
// minimal CoreFitter interface and cross-cutting concerns such as rate
// limiting, timeouts, retries, circuit breaking, metrics and tracing are
// composed around it. The posterior analysis operations (consensus,
// credible intervals, convergence) are computed by the client from the
// backend's raw draws, so every backend gets them for free.
//
// Usage:
//
//	core, _ := fitter.NewBootstrapFitter(fitter.DefaultBootstrapConfig())
//	client, err := fitter.NewClient(core,
//	    fitter.TracingMiddleware("rankgen"),
//	    fitter.MetricsMiddleware(collector),
//	    fitter.RetryMiddleware(3, 100*time.Millisecond, 2*time.Second),
//	    fitter.TimeoutMiddleware(30*time.Second),
//	)
//	fit, err := client.Fit(ctx, batch, domain.MetricKendall, ports.FitOptions{Iterations: 2000, Seed: 7})
package fitter

import (
	"context"
	"errors"
	"fmt"

	"github.com/ahrav/go-consensus/internal/domain"
	"github.com/ahrav/go-consensus/internal/ports"
)

// Verify interface compliance at compile time.
var _ ports.ModelFitter = (*Client)(nil)

// CoreFitter defines the minimal interface a fitter backend must implement.
// Middleware wraps a CoreFitter and must itself be a CoreFitter, so the
// interface is kept deliberately small.
type CoreFitter interface {
	// Fit fits the model to the batch and returns the raw posterior draws.
	// Transient failures should be reported as *ports.FitterError so the
	// retry middleware can recognize them.
	Fit(
		ctx context.Context,
		batch *domain.RankingBatch,
		metric domain.DistanceMetric,
		opts ports.FitOptions,
	) (*domain.PosteriorFit, error)

	// Backend returns the backend name used in errors, metrics and spans.
	Backend() string
}

// Middleware wraps a CoreFitter implementation to add cross-cutting
// functionality without modifying the backend.
type Middleware func(CoreFitter) CoreFitter

// Client implements the ports.ModelFitter interface on top of a CoreFitter
// wrapped in middleware.
type Client struct {
	core CoreFitter
}

// NewClient creates a new fitter client around core. Middleware is applied
// so that the first middleware is the outermost.
func NewClient(core CoreFitter, middleware ...Middleware) (*Client, error) {
	if core == nil {
		return nil, fmt.Errorf("%w: fitter backend is nil", domain.ErrInvalidConfiguration)
	}

	// Apply middleware in reverse order so the first middleware is the outermost.
	for i := len(middleware) - 1; i >= 0; i-- {
		core = middleware[i](core)
	}

	return &Client{core: core}, nil
}

// Backend returns the name of the wrapped backend.
func (c *Client) Backend() string { return c.core.Backend() }

// Fit validates the request, delegates to the middleware chain and checks
// that the returned posterior is usable.
//
// Errors:
//   - ErrInvalidConfiguration for a nil, empty or unsealed batch, or a
//     non-positive iteration count.
//   - ErrUnknownMetric for a metric outside the supported set.
//   - *ports.FitterError wrapping ErrInvalidFit if the backend returned
//     misaligned or malformed draws.
//   - Any error returned by the middleware chain.
func (c *Client) Fit(
	ctx context.Context,
	batch *domain.RankingBatch,
	metric domain.DistanceMetric,
	opts ports.FitOptions,
) (*domain.PosteriorFit, error) {
	if err := checkFitRequest(batch, metric, opts); err != nil {
		return nil, err
	}

	fit, err := c.core.Fit(ctx, batch, metric, opts)
	if err != nil {
		return nil, err
	}

	if fit != nil && fit.Items.Len() == 0 {
		fit.Items = batch.Items()
	}
	if err := fit.Validate(); err != nil {
		return nil, ports.NewFitterError(c.core.Backend(), "fit", errors.Join(ports.ErrInvalidFit, err))
	}
	return fit, nil
}

// ComputeConsensus returns the posterior mean-rank consensus after
// discarding the first burnin iterations.
func (c *Client) ComputeConsensus(fit *domain.PosteriorFit, burnin int) (*domain.ConsensusEstimate, error) {
	return ComputeConsensus(fit, burnin)
}

// ComputePosteriorIntervals returns equal-tailed credible intervals at level.
func (c *Client) ComputePosteriorIntervals(
	fit *domain.PosteriorFit,
	burnin int,
	level float64,
) (*domain.PosteriorIntervals, error) {
	return ComputePosteriorIntervals(fit, burnin, level)
}

// AssessConvergence compares the early and late dispersion trace segments.
func (c *Client) AssessConvergence(fit *domain.PosteriorFit) (*domain.ConvergenceReport, error) {
	return AssessConvergence(fit)
}

func checkFitRequest(batch *domain.RankingBatch, metric domain.DistanceMetric, opts ports.FitOptions) error {
	if batch == nil || batch.Len() == 0 {
		return fmt.Errorf("%w: batch is empty", domain.ErrInvalidConfiguration)
	}
	if !batch.Sealed() {
		return fmt.Errorf("%w: batch must be sealed before fitting", domain.ErrInvalidConfiguration)
	}
	if !metric.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrUnknownMetric, metric)
	}
	if opts.Iterations < 1 {
		return fmt.Errorf("%w: iterations must be positive, got %d", domain.ErrInvalidConfiguration, opts.Iterations)
	}
	return nil
}
