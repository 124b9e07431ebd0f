package llm

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/matiasleandrokruk/voxrelay/internal/infra/llm"

// instrumentation wraps provider calls in a span and records their duration.
// It resolves the global otel providers, which are no-ops until telemetry is enabled.
type instrumentation struct {
	provider string
	tracer   trace.Tracer
	duration metric.Float64Histogram
}

func newInstrumentation(provider string) instrumentation {
	in := instrumentation{
		provider: provider,
		tracer:   otel.Tracer(instrumentationName),
	}
	h, err := otel.Meter(instrumentationName).Float64Histogram(
		"voxrelay.provider.duration_ms",
		metric.WithDescription("Completion provider call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err == nil {
		in.duration = h
	}
	return in
}

func (in instrumentation) start(ctx context.Context, op, model string) (context.Context, trace.Span) {
	return in.tracer.Start(ctx, in.provider+"."+op, trace.WithAttributes(
		attribute.String("llm.provider", in.provider),
		attribute.String("llm.model", model),
	))
}

func (in instrumentation) end(ctx context.Context, span trace.Span, started time.Time, err error) {
	result := resultLabel(err)
	span.SetAttributes(attribute.String("llm.result", result))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
	}
	span.End()

	if in.duration != nil {
		in.duration.Record(ctx, float64(time.Since(started).Milliseconds()), metric.WithAttributes(
			attribute.String("llm.provider", in.provider),
			attribute.String("llm.result", result),
		))
	}
}

func resultLabel(err error) string {
	var provErr *ProviderError
	var netErr *NetworkError
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed"
	case errors.As(err, &provErr):
		return "provider_error"
	case errors.As(err, &netErr):
		return "network_error"
	default:
		return "local_error"
	}
}
