// Package telemetry exports traces for the visitq CLI and the queue
// simulator. Spans come from the otelhttp transport and handler plus the
// staff controller.
package telemetry

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.26.0"
)

type Options struct {
	ServiceName string
	Version     string
	// Endpoint is the OTLP gRPC collector address. Empty disables export.
	Endpoint string
	Insecure bool
	// SampleRatio applies to root spans. Values outside (0, 1] sample all.
	SampleRatio float64
}

// Setup installs the global tracer provider and propagator and returns the
// provider's shutdown. Without an endpoint nothing is installed.
func Setup(opts Options, logger zerolog.Logger) func(context.Context) error {
	noop := func(context.Context) error { return nil }
	if opts.Endpoint == "" {
		return noop
	}

	exporterOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(opts.Endpoint)}
	if opts.Insecure {
		exporterOpts = append(exporterOpts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(context.Background(), exporterOpts...)
	if err != nil {
		logger.Warn().Err(err).Str("endpoint", opts.Endpoint).Msg("trace exporter disabled")
		return noop
	}

	res := newResource(opts)
	provider := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.ParentBased(trace.TraceIDRatioBased(sampleRatio(opts.SampleRatio)))),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	logger.Info().
		Str("service", opts.ServiceName).
		Str("version", opts.Version).
		Str("endpoint", opts.Endpoint).
		Msg("trace export enabled")
	return provider.Shutdown
}

// newResource identifies this process. Every run gets its own instance id so
// concurrent CLI sessions stay apart in the collector.
func newResource(opts Options) *resource.Resource {
	version := opts.Version
	if version == "" {
		version = "dev"
	}
	return resource.NewWithAttributes(semconv.SchemaURL,
		semconv.ServiceName(opts.ServiceName),
		semconv.ServiceVersion(version),
		semconv.ServiceInstanceID(uuid.NewString()),
	)
}

func sampleRatio(ratio float64) float64 {
	if ratio <= 0 || ratio > 1 {
		return 1
	}
	return ratio
}
