package sqlfluff

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// instrumentationName scopes the spans and metrics of this package.
const instrumentationName = "github.com/jarredhawkins/sqlfluff-lsp/internal/sqlfluff"

// Outcome labels recorded per call.
const (
	outcomeOK        = "ok"
	outcomeFailed    = "failed"
	outcomeCancelled = "cancelled"
)

// Option configures a Client.
type Option func(*options)

type options struct {
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
}

// WithMeterProvider records call metrics with mp instead of the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.meterProvider = mp }
}

// WithTracerProvider records call spans with tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// instruments holds the span and metric handles of one Client.
type instruments struct {
	tracer       trace.Tracer
	callsTotal   metric.Int64Counter
	callDuration metric.Float64Histogram
}

func newInstruments(o options) (*instruments, error) {
	if o.meterProvider == nil {
		o.meterProvider = otel.GetMeterProvider()
	}
	if o.tracerProvider == nil {
		o.tracerProvider = otel.GetTracerProvider()
	}
	meter := o.meterProvider.Meter(instrumentationName)

	callsTotal, err := meter.Int64Counter(
		"sqlfluff_calls_total",
		metric.WithDescription("Total number of sqlfluff invocations"),
	)
	if err != nil {
		return nil, err
	}

	callDuration, err := meter.Float64Histogram(
		"sqlfluff_call_duration_seconds",
		metric.WithDescription("Duration of sqlfluff invocations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &instruments{
		tracer:       o.tracerProvider.Tracer(instrumentationName),
		callsTotal:   callsTotal,
		callDuration: callDuration,
	}, nil
}

func (i *instruments) startCallSpan(ctx context.Context, subcommand, filename string) (context.Context, trace.Span) {
	return i.tracer.Start(ctx, "sqlfluff."+subcommand,
		trace.WithAttributes(
			attribute.String("sqlfluff.subcommand", subcommand),
			attribute.String("sqlfluff.filename", filename),
		),
	)
}

func endCallSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (i *instruments) recordCall(ctx context.Context, subcommand, outcome string, took time.Duration) {
	if i.callsTotal == nil {
		return
	}
	i.callsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("subcommand", subcommand),
		attribute.String("outcome", outcome),
	))
	i.callDuration.Record(ctx, took.Seconds(), metric.WithAttributes(
		attribute.String("subcommand", subcommand),
	))
}
