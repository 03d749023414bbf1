package fitter

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-consensus/internal/domain"
	"github.com/ahrav/go-consensus/internal/ports"
)

// tracedFitter wraps every fit in an OpenTelemetry span.
type tracedFitter struct {
	next        CoreFitter
	serviceName string
	tracer      trace.Tracer
}

// TracingMiddleware creates middleware that records a "fitter.fit" span per
// request using the global tracer provider.
func TracingMiddleware(serviceName string) Middleware {
	return TracingMiddlewareWithProvider(serviceName, otel.GetTracerProvider())
}

// TracingMiddlewareWithProvider is TracingMiddleware with an explicit
// tracer provider.
func TracingMiddlewareWithProvider(serviceName string, provider trace.TracerProvider) Middleware {
	tracer := provider.Tracer("fitter")
	return func(next CoreFitter) CoreFitter {
		return &tracedFitter{
			next:        next,
			serviceName: serviceName,
			tracer:      tracer,
		}
	}
}

// Fit executes the request within a span carrying the request shape and, on
// success, the size of the posterior.
func (t *tracedFitter) Fit(
	ctx context.Context,
	batch *domain.RankingBatch,
	metric domain.DistanceMetric,
	opts ports.FitOptions,
) (*domain.PosteriorFit, error) {
	attrs := []attribute.KeyValue{
		attribute.String("service.name", t.serviceName),
		attribute.String("fitter.backend", t.next.Backend()),
		attribute.String("fitter.metric", metric.String()),
		attribute.Int("fitter.iterations", opts.Iterations),
	}
	if batch != nil {
		attrs = append(attrs,
			attribute.Int("batch.assessors", batch.Len()),
			attribute.Int("batch.items", batch.Width()),
		)
	}

	ctx, span := t.tracer.Start(ctx, "fitter.fit", trace.WithAttributes(attrs...))
	defer span.End()

	fit, err := t.next.Fit(ctx, batch, metric, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if fit != nil && fit.Iterations() > 0 {
		span.SetAttributes(
			attribute.Int("fit.draws", fit.Iterations()),
			attribute.Float64("fit.last_alpha", fit.Alpha[fit.Iterations()-1]),
		)
	}
	return fit, nil
}

// Backend returns the backend name from the wrapped implementation.
func (t *tracedFitter) Backend() string { return t.next.Backend() }
