// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps an OpenTelemetry tracer provider configured for one
// span-per-phase of the Pattern Executor, Checkpoint & Recovery, and
// Conflict Resolver (spec §2 C13 cross-cutting observability).
type Tracer struct {
	provider        *sdktrace.TracerProvider
	tracer          trace.Tracer
	debugExporter   *DebugExporter
	capturePayloads bool
}

// TracerOption configures a Tracer at construction time.
type TracerOption func(*tracerOptions)

type tracerOptions struct {
	debugExporter   *DebugExporter
	capturePayloads bool
}

// WithDebugExporter attaches an in-memory span exporter for inspection
// tooling, in addition to whichever exporter the configured backend uses.
func WithDebugExporter(exp *DebugExporter) TracerOption {
	return func(o *tracerOptions) { o.debugExporter = exp }
}

// WithCapturePayloads enables recording full pattern execution
// input/output on spans (TracingConfig.CapturePayloads).
func WithCapturePayloads(enabled bool) TracerOption {
	return func(o *tracerOptions) { o.capturePayloads = enabled }
}

// NewTracer builds a Tracer from a TracingConfig. Every exporter value
// (otlp, jaeger, zipkin, stdout) uses stdouttrace: cfg.Exporter and
// cfg.Endpoint are validated but do not select a backend, since gRPC/HTTP
// transport wiring for collectors is outside this module's scope
// (spec.md §1).
func NewTracer(ctx context.Context, cfg *TracingConfig, opts ...TracerOption) (*Tracer, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	var o tracerOptions
	for _, opt := range opts {
		opt(&o)
	}

	exporter, err := stdouttrace.New(stdouttrace.WithoutTimestamps())
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build trace resource: %w", err)
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SamplingRate)),
		sdktrace.WithResource(res),
	}
	if o.debugExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(o.debugExporter))
	}

	provider := sdktrace.NewTracerProvider(tpOpts...)

	return &Tracer{
		provider:        provider,
		tracer:          provider.Tracer(cfg.ServiceName),
		debugExporter:   o.debugExporter,
		capturePayloads: o.capturePayloads,
	}, nil
}

// Start begins a span named for a coordination-engine operation (e.g.
// SpanPatternExecution, SpanCheckpoint, SpanConflictResolve).
func (t *Tracer) Start(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, spanName, opts...)
}

// StartPatternExecution starts a span for one Pattern Executor phase.
func (t *Tracer) StartPatternExecution(ctx context.Context, patternID, phase string) (context.Context, trace.Span) {
	return t.Start(ctx, SpanPatternExecution, trace.WithAttributes(
		attribute.String(AttrPatternID, patternID),
		attribute.String(AttrPatternPhase, phase),
	))
}

// AddPayload records request/response payload strings on a span, gated
// by the CapturePayloads config option.
func (t *Tracer) AddPayload(span trace.Span, inputKey, input string) {
	if t == nil || !t.capturePayloads || span == nil {
		return
	}
	span.SetAttributes(attribute.String(inputKey, input))
}

// RecordError records err on span and marks it failed.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// DebugExporter returns the in-memory span exporter, or nil if not configured.
func (t *Tracer) DebugExporter() *DebugExporter {
	if t == nil {
		return nil
	}
	return t.debugExporter
}

// Shutdown flushes and stops the underlying tracer provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
