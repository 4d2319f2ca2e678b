// Package observability wires OpenTelemetry tracing for league agents.
// Spans are exported over OTLP HTTP to a local collector, which buffers and
// forwards to whatever backend the deployment uses.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/parityleague/league/internal/config"
	"github.com/parityleague/league/internal/log"
)

// DefaultEndpoint is the conventional local OTLP HTTP collector address.
const DefaultEndpoint = "localhost:4318"

// Setup installs the global tracer provider. Disabled configuration is not
// an error: spans become no-ops and the returned shutdown does nothing.
// An unreachable collector degrades the same way; agents never fail
// startup over tracing.
func Setup(ctx context.Context, cfg config.ObservabilityConfig, logger log.Logger) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }
	if !cfg.Enabled {
		return noop, nil
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "league"
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(), // local collector, no TLS
	)
	if err != nil {
		logger.Warn("failed to create trace exporter, tracing disabled", "err", err)
		return noop, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", serviceName),
		attribute.String("deployment.environment", cfg.Environment),
	))
	if err != nil {
		return noop, fmt.Errorf("build trace resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	logger.Debug("tracing enabled",
		"endpoint", endpoint, "service", serviceName, "environment", cfg.Environment)
	return provider.Shutdown, nil
}
