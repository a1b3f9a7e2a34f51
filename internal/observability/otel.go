// Package observability exports dispatcher spans to an OpenTelemetry
// collector over OTLP/HTTP.
//
// # Architecture
//
// The instrument package owns span production; this package owns delivery.
// TraceHandler subscribes to a dispatcher and mirrors every span onto an
// OpenTelemetry span, preserving parent-child structure and timing.
// LogHandler does the same into the structured log for collector-less
// development setups.
//
// # Configuration
//
// An empty endpoint disables export entirely. The collector address is
// plain host:port (default OTLP/HTTP port is 4318); TLS is not used since
// the collector is expected next to the service.
//
// Config file (config.yaml):
//
//	telemetry:
//	  endpoint: "localhost:4318"
//	  service_name: "ragline"
//	  environment: "dev"
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/ragline/ragline/internal/log"
)

// Config for OTLP trace export.
type Config struct {
	// Endpoint is the collector OTLP/HTTP address (host:port). Empty
	// disables export.
	Endpoint string
	// ServiceName is the service name shown in the tracing backend
	// (default: ragline)
	ServiceName string
	// Environment is the deployment environment tag (dev, staging, prod)
	Environment string
}

// DefaultServiceName tags exported spans when Config.ServiceName is empty.
const DefaultServiceName = "ragline"

// Setup installs a global TracerProvider exporting to the configured
// collector. Returns a shutdown function that flushes pending spans.
//
// Export problems never break the service: with an empty endpoint, or when
// the exporter cannot be built, tracing degrades to a no-op and the
// returned shutdown does nothing.
func Setup(ctx context.Context, cfg Config, logger log.Logger) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }

	if logger == nil {
		logger = log.NewNop()
	}
	if cfg.Endpoint == "" {
		logger.Debug("telemetry disabled, no endpoint configured")
		return noop, nil
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = DefaultServiceName
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithInsecure(), // collector runs next to the service
	)
	if err != nil {
		logger.Warn("failed to create trace exporter, tracing disabled", "error", err)
		return noop, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return noop, fmt.Errorf("building trace resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	logger.Debug("telemetry enabled",
		"endpoint", cfg.Endpoint,
		"service", serviceName,
		"environment", cfg.Environment,
	)

	return provider.Shutdown, nil
}
