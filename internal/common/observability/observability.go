package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Observability records per-operation counts and latencies through the OpenTelemetry metric SDK
// (exported on the Prometheus registry) and opens trace spans around service operations.
type Observability struct {
	meterProvider  *metric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	tracer         trace.Tracer
	opCounter      otelmetric.Int64Counter
	opDuration     otelmetric.Float64Histogram
}

// New installs the Prometheus-backed meter provider and an SDK tracer provider globally.
// Spans are sampled with the parent's decision so trace IDs propagate into the service.
func New(serviceName string) (*Observability, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	res := resource.NewSchemaless(attribute.String("service.name", serviceName))
	provider := metric.NewMeterProvider(metric.WithReader(exporter), metric.WithResource(res))
	otel.SetMeterProvider(provider)

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	)
	otel.SetTracerProvider(tracerProvider)

	o, err := newWithMeter(serviceName, provider.Meter(serviceName))
	if err != nil {
		return nil, err
	}
	o.meterProvider = provider
	o.tracerProvider = tracerProvider
	return o, nil
}

// NewNoop returns an Observability backed by the global (noop until configured) providers.
func NewNoop(serviceName string) *Observability {
	o, _ := newWithMeter(serviceName, otel.GetMeterProvider().Meter(serviceName))
	return o
}

func newWithMeter(serviceName string, meter otelmetric.Meter) (*Observability, error) {
	opCounter, err := meter.Int64Counter(
		"adoption.operations",
		otelmetric.WithDescription("Number of service operations processed"),
	)
	if err != nil {
		return nil, err
	}

	opDuration, err := meter.Float64Histogram(
		"adoption.operation.duration",
		otelmetric.WithDescription("Service operation duration"),
		otelmetric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &Observability{
		tracer:     otel.Tracer(serviceName),
		opCounter:  opCounter,
		opDuration: opDuration,
	}, nil
}

// Operation is an in-flight traced and measured operation.
type Operation struct {
	o     *Observability
	name  string
	span  trace.Span
	start time.Time
}

// Start opens a span named after the operation. Call End with the operation's error.
func (o *Observability) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, *Operation) {
	ctx, span := o.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, &Operation{o: o, name: name, span: span, start: time.Now()}
}

func (op *Operation) End(ctx context.Context, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		op.span.RecordError(err)
		op.span.SetStatus(codes.Error, err.Error())
	}
	op.span.End()

	attrs := otelmetric.WithAttributes(
		attribute.String("operation", op.name),
		attribute.String("status", status),
	)
	op.o.opCounter.Add(ctx, 1, attrs)
	op.o.opDuration.Record(ctx, float64(time.Since(op.start).Milliseconds()), attrs)
}

func (o *Observability) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var err error
	if o.tracerProvider != nil {
		err = o.tracerProvider.Shutdown(ctx)
	}
	if o.meterProvider != nil {
		if merr := o.meterProvider.Shutdown(ctx); merr != nil && err == nil {
			err = merr
		}
	}
	return err
}
