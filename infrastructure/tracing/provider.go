// Package tracing configures the OpenTelemetry tracer provider used by the
// rankgen command. Spans are produced by the fitter tracing middleware and
// by the experiment runner; this package only decides where they go.
package tracing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/go-consensus/internal/domain"
)

// Supported exporter types.
const (
	ExporterOTLPHTTP = "otlp-http"
	ExporterOTLPGRPC = "otlp-grpc"
)

var validate = validator.New()

// Config holds the tracing settings of an experiment run.
type Config struct {
	// Enabled controls whether spans are exported at all.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// ServiceName identifies the process in traces.
	ServiceName string `yaml:"service_name" json:"service_name" validate:"required_if=Enabled true"`

	// Environment is attached to every span as a resource attribute.
	Environment string `yaml:"environment" json:"environment"`

	// ExporterType selects the OTLP transport. Empty means otlp-http.
	ExporterType string `yaml:"exporter" json:"exporter" validate:"omitempty,oneof=otlp-http otlp-grpc"`

	// OTLPEndpoint is the collector address, e.g. localhost:4318.
	OTLPEndpoint string `yaml:"endpoint" json:"endpoint"`

	// SamplingRate is the fraction of traces kept, between 0 and 1.
	SamplingRate float64 `yaml:"sampling_rate" json:"sampling_rate" validate:"gte=0,lte=1"`

	// Insecure disables TLS towards the collector.
	Insecure bool `yaml:"insecure" json:"insecure"`
}

// Option customizes a Provider.
type Option func(*providerOptions)

type providerOptions struct {
	exporter  sdktrace.SpanExporter
	logger    *slog.Logger
	setGlobal bool
}

// WithExporter replaces the OTLP exporter, e.g. with an in-memory exporter
// in tests.
func WithExporter(exp sdktrace.SpanExporter) Option {
	return func(o *providerOptions) { o.exporter = exp }
}

// WithLogger sets the logger used for lifecycle messages.
func WithLogger(logger *slog.Logger) Option {
	return func(o *providerOptions) { o.logger = logger }
}

// WithoutGlobal keeps the provider out of the otel global registry.
func WithoutGlobal() Option {
	return func(o *providerOptions) { o.setGlobal = false }
}

// Provider owns the SDK tracer provider for the lifetime of a run.
type Provider struct {
	tp     *sdktrace.TracerProvider
	config Config
	logger *slog.Logger
}

// NewProvider validates cfg and builds a tracer provider. A disabled config
// yields a Provider whose tracers come from the global (no-op by default)
// provider. Unless WithoutGlobal is given, an enabled provider is installed
// as the otel global together with the W3C trace-context propagator.
func NewProvider(cfg Config, opts ...Option) (*Provider, error) {
	o := providerOptions{logger: slog.Default(), setGlobal: true}
	for _, opt := range opts {
		opt(&o)
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: tracing: %v", domain.ErrInvalidConfiguration, err)
	}
	if !cfg.Enabled {
		o.logger.Info("tracing disabled")
		return &Provider{config: cfg, logger: o.logger}, nil
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter := o.exporter
	if exporter == nil {
		exporter, err = newExporter(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create exporter: %w", err)
		}
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SamplingRate)),
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(5*time.Second),
			sdktrace.WithMaxExportBatchSize(512),
		),
	)

	if o.setGlobal {
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
	}

	o.logger.Info("tracing initialized",
		"service", cfg.ServiceName,
		"exporter", cfg.ExporterType,
		"endpoint", cfg.OTLPEndpoint,
		"sampling_rate", cfg.SamplingRate,
		"environment", cfg.Environment,
	)

	return &Provider{tp: tp, config: cfg, logger: o.logger}, nil
}

func sampler(rate float64) sdktrace.Sampler {
	switch rate {
	case 1:
		return sdktrace.AlwaysSample()
	case 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

func newExporter(cfg Config) (sdktrace.SpanExporter, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch cfg.ExporterType {
	case ExporterOTLPGRPC:
		var opts []otlptracegrpc.Option
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	default:
		var opts []otlptracehttp.Option
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	}
}

// Shutdown flushes pending spans and stops the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	p.logger.Info("shutting down tracer provider")
	if err := p.tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown tracer provider: %w", err)
	}
	return nil
}

// TracerProvider returns the SDK provider, or the global provider when
// tracing is disabled.
func (p *Provider) TracerProvider() trace.TracerProvider {
	if p.tp == nil {
		return otel.GetTracerProvider()
	}
	return p.tp
}

// Tracer returns a tracer for the given instrumentation name.
func (p *Provider) Tracer(name string) trace.Tracer {
	return p.TracerProvider().Tracer(name)
}

// IsEnabled reports whether spans are being exported.
func (p *Provider) IsEnabled() bool { return p.config.Enabled }
