// Package tracing configures OpenTelemetry for pipeline runs.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	otlptracehttp "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	// Common attribute keys.
	RunIDKey     = "litepipe.run.id"
	PipelineKey  = "litepipe.pipeline"
	EventKey     = "litepipe.event"
	BranchKey    = "litepipe.branch"
	JobCountKey  = "litepipe.jobs"
	JobKey       = "litepipe.job"
	RunsOnKey    = "litepipe.runs_on"
	StepIndexKey = "litepipe.step.index"
	StepKindKey  = "litepipe.step.kind"
	ExitCodeKey  = "litepipe.step.exit_code"
	StatusKey    = "litepipe.status"
)

// ShutdownFunc flushes and stops the tracer provider
type ShutdownFunc func(ctx context.Context) error

type Options struct {
	Enabled     bool
	ServiceName string

	// Endpoint overrides OTEL_EXPORTER_OTLP_ENDPOINT, e.g. "localhost:4318"
	Endpoint string
}

// Setup returns a tracer exporting over OTLP/HTTP when enabled and a noop
// tracer otherwise
//
// nolint:ireturn
func Setup(ctx context.Context, opts Options) (trace.Tracer, ShutdownFunc, error) {
	if !opts.Enabled {
		return noop.NewTracerProvider().Tracer(opts.ServiceName), func(context.Context) error { return nil }, nil
	}

	provider, err := newTracerProvider(ctx, opts)
	if err != nil {
		return nil, nil, err
	}

	return provider.Tracer(opts.ServiceName), provider.Shutdown, nil
}

func newTracerProvider(ctx context.Context, opts Options) (*sdktrace.TracerProvider, error) {
	r, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithAttributes(semconv.ServiceName(opts.ServiceName)),
	)
	if err != nil {
		return nil, err
	}

	var exporterOpts []otlptracehttp.Option
	if opts.Endpoint != "" {
		exporterOpts = append(exporterOpts, otlptracehttp.WithEndpoint(opts.Endpoint), otlptracehttp.WithInsecure())
	}

	exporter, err := otlptracehttp.New(ctx, exporterOpts...)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(r),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}))

	return tp, nil
}
