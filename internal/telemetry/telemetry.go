// Package telemetry installs OpenTelemetry trace and meter providers that
// export over OTLP gRPC, so the spans and instruments of the pipeline and
// the worker leave the process.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// DefaultMetricInterval is the export period used when Options leaves it 0.
const DefaultMetricInterval = 10 * time.Second

// Options configures Setup.
type Options struct {
	// Endpoint is the OTLP gRPC collector address. Required.
	Endpoint string

	// Insecure disables TLS to the collector.
	Insecure bool

	// ServiceName is reported as the service.name resource attribute.
	ServiceName string

	// ServiceVersion is reported as service.version when set.
	ServiceVersion string

	// MetricInterval is the metric export period.
	MetricInterval time.Duration

	// Logger receives setup messages. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Providers holds the installed SDK providers.
type Providers struct {
	tracer *sdktrace.TracerProvider
	meter  *sdkmetric.MeterProvider
}

// Setup creates OTLP exporters for opts.Endpoint and installs the resulting
// providers and a W3C trace-context propagator as the otel globals. The
// exporters connect lazily, so Setup succeeds without a running collector.
func Setup(ctx context.Context, opts Options) (*Providers, error) {
	if opts.Endpoint == "" {
		return nil, errors.New("telemetry endpoint is required")
	}
	if opts.MetricInterval <= 0 {
		opts.MetricInterval = DefaultMetricInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	res, err := newResource(opts.ServiceName, opts.ServiceVersion)
	if err != nil {
		return nil, err
	}

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(opts.Endpoint)}
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(opts.Endpoint)}
	if opts.Insecure {
		creds := grpc.WithTransportCredentials(insecure.NewCredentials())
		traceOpts = append(traceOpts, otlptracegrpc.WithDialOption(creds))
		metricOpts = append(metricOpts, otlpmetricgrpc.WithDialOption(creds))
	}

	spanExporter, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	metricExporter, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		_ = spanExporter.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	p := install(res,
		sdktrace.WithBatcher(spanExporter),
		sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(opts.MetricInterval)),
	)
	logger.Info("telemetry initialized",
		"endpoint", opts.Endpoint,
		"service", opts.ServiceName,
		"metric_interval", opts.MetricInterval,
	)
	return p, nil
}

func newResource(service, version string) (*resource.Resource, error) {
	attrs := []resource.Option{resource.WithAttributes(semconv.ServiceName(service))}
	if version != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.ServiceVersion(version)))
	}
	res, err := resource.New(context.Background(), attrs...)
	if err != nil {
		return nil, fmt.Errorf("failed to build telemetry resource: %w", err)
	}
	merged, err := resource.Merge(resource.Default(), res)
	if err != nil {
		// Conflicting schema URLs; the service attributes alone still apply.
		return res, nil
	}
	return merged, nil
}

// install builds the providers from a span processor option and a metric
// reader and sets them as the otel globals.
func install(res *resource.Resource, spans sdktrace.TracerProviderOption, reader sdkmetric.Reader) *Providers {
	p := &Providers{
		tracer: sdktrace.NewTracerProvider(spans, sdktrace.WithResource(res)),
		meter:  sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res)),
	}
	otel.SetTracerProvider(p.tracer)
	otel.SetMeterProvider(p.meter)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	return p
}

// Shutdown flushes pending spans and metrics and stops both providers.
// It is safe to call on a nil Providers.
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if err := p.tracer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tracer provider: %w", err))
	}
	if err := p.meter.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("meter provider: %w", err))
	}
	return errors.Join(errs...)
}
