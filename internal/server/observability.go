package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	oteltrace "go.opentelemetry.io/otel/trace"

	"sawl-probe/internal/probe"
)

type Observability struct {
	Tracer oteltrace.Tracer
	Meter  metric.Meter

	traceProvider  *sdktrace.TracerProvider
	TrialCounter   metric.Int64Counter
	TrialDuration  metric.Int64Histogram
	SessionCounter metric.Int64Counter
	BoundaryChars  metric.Int64Histogram
	RateLimited    metric.Int64Counter
}

func SetupObservability(ctx context.Context, cfg ObservabilityConfig) (*Observability, error) {
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "sawl-probe-api"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}
	sampler := sdktrace.TraceIDRatioBased(cfg.SampleRatio)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	if cfg.OTLPEndpoint != "" {
		exporter, exportErr := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if exportErr != nil {
			return nil, fmt.Errorf("create otlp trace exporter: %w", exportErr)
		}
		tp = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
			sdktrace.WithSampler(sampler),
		)
	} else {
		slog.Info("otel trace exporter not configured; using local tracer provider")
	}
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	meter := otel.Meter(serviceName)
	tracer := otel.Tracer(serviceName)
	trialCounter, _ := meter.Int64Counter("probe_trial_total")
	trialDuration, _ := meter.Int64Histogram("probe_trial_duration_ms")
	sessionCounter, _ := meter.Int64Counter("probe_session_total")
	boundaryChars, _ := meter.Int64Histogram("probe_boundary_chars")
	rateLimited, _ := meter.Int64Counter("probe_rate_limited_total")
	return &Observability{
		Tracer:         tracer,
		Meter:          meter,
		traceProvider:  tp,
		TrialCounter:   trialCounter,
		TrialDuration:  trialDuration,
		SessionCounter: sessionCounter,
		BoundaryChars:  boundaryChars,
		RateLimited:    rateLimited,
	}, nil
}

func (o *Observability) Shutdown(ctx context.Context) error {
	if o == nil || o.traceProvider == nil {
		return nil
	}
	return o.traceProvider.Shutdown(ctx)
}

func (o *Observability) MarkTrial(ctx context.Context, trial probe.Trial) {
	if o == nil {
		return
	}
	o.TrialCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", string(trial.Outcome)),
	))
	o.TrialDuration.Record(ctx, int64(trial.ElapsedSeconds*1000), metric.WithAttributes(
		attribute.String("outcome", string(trial.Outcome)),
	))
}

func (o *Observability) MarkSession(ctx context.Context, status string) {
	if o == nil {
		return
	}
	o.SessionCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", status),
	))
}

func (o *Observability) MarkBoundary(ctx context.Context, chars int, approximate bool) {
	if o == nil {
		return
	}
	o.BoundaryChars.Record(ctx, int64(chars), metric.WithAttributes(
		attribute.Bool("approximate", approximate),
	))
}

func (o *Observability) MarkRateLimited(ctx context.Context, route string) {
	if o == nil {
		return
	}
	o.RateLimited.Add(ctx, 1, metric.WithAttributes(
		attribute.String("route", route),
	))
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}
