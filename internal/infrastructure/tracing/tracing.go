// Package tracing wires OpenTelemetry tracing for devicecore, grounded
// on the teacher's internal/infrastructure/monitoring.TracingManager
// (same Jaeger exporter + sdktrace.TracerProvider setup). It exposes
// StartSpan; no core component (C7's cloud HTTP dance, C5's command
// dispatch or any other) calls it.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/edgeweave/devicecore/internal/config"
	"github.com/edgeweave/devicecore/pkg/logger"
)

// Manager owns the process-wide TracerProvider and hands out Tracers for
// devicecore's components.
type Manager struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
	log      logger.Logger
}

const serviceName = "devicecore"

// New configures tracing from cfg. When cfg.Enabled is false, it returns
// a Manager backed by otel's no-op global tracer so callers don't need
// to branch on whether tracing is on.
func New(cfg config.TracingConfig, log logger.Logger) (*Manager, error) {
	if !cfg.Enabled {
		return &Manager{tracer: otel.Tracer(serviceName), log: log}, nil
	}

	exporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerURL)))
	if err != nil {
		return nil, fmt.Errorf("creating jaeger exporter: %w", err)
	}

	name := cfg.ServiceName
	if name == "" {
		name = serviceName
	}
	res, err := resource.New(context.Background(),
		resource.WithAttributes(semconv.ServiceNameKey.String(name)))
	if err != nil {
		return nil, fmt.Errorf("building trace resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info("tracing initialized", logger.String("jaeger_url", cfg.JaegerURL))

	return &Manager{
		tracer:   provider.Tracer(name),
		provider: provider,
		log:      log,
	}, nil
}

// StartSpan starts a span named spanName as a child of ctx's span.
func (m *Manager) StartSpan(ctx context.Context, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, spanName, trace.WithAttributes(attrs...))
}

// Shutdown flushes and stops the exporter. A no-op if tracing was
// disabled at construction.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}
