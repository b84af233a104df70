package telemetry

import (
	"context"
	"fmt"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

/*
LEARNING: TRACING THE REALTIME PATH

  websocket frame → StartSpan("Collab.update") → registry → store save
                                ↓
                  Jaeger exporter (batched) → collector → UI

Every frame is a span, so a busy room produces many short spans.
Production sampling is ratio-based and follows the parent decision.
*/

// Config selects the exporter and sampling.
type Config struct {
	ServiceName string
	Version     string
	Endpoint    string // empty disables tracing
	SampleRatio float64
}

// ShutdownFunc flushes buffered spans.
type ShutdownFunc func(context.Context) error

func noopShutdown(context.Context) error { return nil }

// InitJaeger installs a global tracer provider exporting to Jaeger.
// The returned function must be called on shutdown to flush spans.
func InitJaeger(cfg Config) (ShutdownFunc, error) {
	if cfg.Endpoint == "" {
		log.Println("  Tracing disabled (no JAEGER_ENDPOINT)")
		return noopShutdown, nil
	}

	exp, err := jaeger.New(
		jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.Endpoint)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(cfg.SampleRatio)),
	)
	otel.SetTracerProvider(tp)

	log.Printf("✓ Jaeger tracing initialized: %s (sample ratio %.2f)", cfg.Endpoint, cfg.SampleRatio)
	return tp.Shutdown, nil
}

// samplerFor samples everything at ratio >= 1 and nothing at ratio <= 0.
func samplerFor(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1:
		return sdktrace.AlwaysSample()
	case ratio <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}
