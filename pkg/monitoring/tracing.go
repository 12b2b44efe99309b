// Package monitoring wires OpenTelemetry tracing for the daemon. Spans are
// emitted around background jobs; the stdout exporter is the only one
// carried since the daemon has no collector endpoint.
package monitoring

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// TracingConfig configures tracing setup.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Version     string
	SampleRatio float64
}

// InitTracing installs a global tracer provider per cfg. The returned
// shutdown function flushes pending spans; it is a no-op when tracing is
// disabled.
func InitTracing(cfg TracingConfig) (shutdown func(ctx context.Context) error, err error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create stdout trace exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.Version),
	))
	if err != nil {
		return nil, fmt.Errorf("build trace resource: %w", err)
	}

	ratio := cfg.SampleRatio
	if ratio <= 0 {
		ratio = 1.0
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	)
	otel.SetTracerProvider(tp)

	log.Info().
		Str("service", cfg.ServiceName).
		Float64("sample_ratio", ratio).
		Msg("Tracing initialized")

	return tp.Shutdown, nil
}
