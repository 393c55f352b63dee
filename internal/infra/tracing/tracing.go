// Package tracing adapts ports.Tracer to OpenTelemetry, so the pipeline
// stages (ingest, correlate, notify) can be instrumented with spans exported
// via OTLP/HTTP without any of those packages importing otel directly.
//
// Grounded on the teacher's go.mod otel dependency set (otel, otel/sdk,
// otel/trace, otlptracehttp), wired here since the teacher's own code never
// exercised it.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/paperwatch/traceline/internal/domain"
)

// Tracer wraps an otel TracerProvider behind ports.Tracer.
type Tracer struct {
	tracer trace.Tracer
}

// New builds an OTLP/HTTP exporter pipeline reporting to endpoint (host:port,
// no scheme) under serviceName, and returns a Tracer plus a shutdown func.
func New(ctx context.Context, endpoint, serviceName string) (*Tracer, func(context.Context) error, error) {
	exp, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return nil, nil, domain.E("tracing.New", domain.KindTransient, err)
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, nil, domain.E("tracing.New", domain.KindTransient, err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return &Tracer{tracer: tp.Tracer(serviceName)}, tp.Shutdown, nil
}

// StartSpan satisfies ports.Tracer.
func (t *Tracer) StartSpan(ctx context.Context, name string) (context.Context, func()) {
	spanCtx, span := t.tracer.Start(ctx, name)
	return spanCtx, func() { span.End() }
}

// NoOp satisfies ports.Tracer without exporting anywhere; used when no
// tracing endpoint is configured.
type NoOp struct{}

func (NoOp) StartSpan(ctx context.Context, _ string) (context.Context, func()) {
	return ctx, func() {}
}
