package tracing

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/ahrav/go-consensus/internal/domain"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewProvider_Disabled(t *testing.T) {
	p, err := NewProvider(Config{}, WithLogger(quietLogger()))
	require.NoError(t, err)

	assert.False(t, p.IsEnabled())
	assert.NotNil(t, p.Tracer("test"))
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProvider_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "missing service name", cfg: Config{Enabled: true, SamplingRate: 0.1}},
		{name: "negative sampling rate", cfg: Config{Enabled: true, ServiceName: "svc", SamplingRate: -0.1}},
		{name: "sampling rate above one", cfg: Config{Enabled: true, ServiceName: "svc", SamplingRate: 1.5}},
		{name: "unsupported exporter", cfg: Config{Enabled: true, ServiceName: "svc", ExporterType: "zipkin"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProvider(tt.cfg, WithLogger(quietLogger()), WithoutGlobal())
			assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
		})
	}
}

func TestNewProvider_ExportsSpans(t *testing.T) {
	// Given: an enabled provider backed by an in-memory exporter
	exporter := tracetest.NewInMemoryExporter()
	p, err := NewProvider(Config{
		Enabled:      true,
		ServiceName:  "rankgen-test",
		Environment:  "test",
		SamplingRate: 1,
	}, WithExporter(exporter), WithLogger(quietLogger()), WithoutGlobal())
	require.NoError(t, err)
	assert.True(t, p.IsEnabled())

	// When: a span is ended and the provider shuts down
	_, span := p.Tracer("test").Start(context.Background(), "cell")
	span.End()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))

	// Then: the span was flushed with the service resource attached
	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "cell", spans[0].Name)

	var service string
	for _, kv := range spans[0].Resource.Attributes() {
		if kv.Key == "service.name" {
			service = kv.Value.AsString()
		}
	}
	assert.Equal(t, "rankgen-test", service)
}

func TestNewProvider_NeverSample(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	p, err := NewProvider(Config{Enabled: true, ServiceName: "svc"},
		WithExporter(exporter), WithLogger(quietLogger()), WithoutGlobal())
	require.NoError(t, err)

	_, span := p.Tracer("test").Start(context.Background(), "dropped")
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))

	assert.Empty(t, exporter.GetSpans())
}

func TestNewProvider_OTLPHTTPExporter(t *testing.T) {
	p, err := NewProvider(Config{
		Enabled:      true,
		ServiceName:  "svc",
		ExporterType: ExporterOTLPHTTP,
		OTLPEndpoint: "localhost:4318",
		Insecure:     true,
		SamplingRate: 0.5,
	}, WithLogger(quietLogger()), WithoutGlobal())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, p.Shutdown(ctx))
}
