package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/openshelf/circulation-go/circulation/oteladapters"
	"github.com/openshelf/circulation-go/circulation/postgresengine"
	"github.com/openshelf/circulation-go/circulation/promadapters"
)

const serviceName = "circulation-demo"

// ObservabilityProviders holds the OpenTelemetry providers the demo exports
// telemetry through when the otel backend is selected.
type ObservabilityProviders struct {
	TracerProvider *trace.TracerProvider
	MeterProvider  *metric.MeterProvider
	Resource       *resource.Resource
}

// newObservabilityProviders creates OpenTelemetry providers that send traces
// and metrics to the configured OTLP gRPC endpoints and registers them as the
// process-global providers.
func newObservabilityProviders(ctx context.Context, cfg Config) (*ObservabilityProviders, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String("demo"),
		),
	)
	if err != nil {
		return nil, err
	}

	traceExporter, err := otlptracegrpc.New(
		ctx,
		otlptracegrpc.WithEndpoint(cfg.TraceEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	tracerProvider := trace.NewTracerProvider(
		trace.WithBatcher(traceExporter),
		trace.WithResource(res),
	)

	metricExporter, err := otlpmetricgrpc.New(
		ctx,
		otlpmetricgrpc.WithEndpoint(cfg.MetricEndpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	meterProvider := metric.NewMeterProvider(
		metric.WithReader(metric.NewPeriodicReader(metricExporter,
			metric.WithInterval(5*time.Second))),
		metric.WithResource(res),
	)

	otel.SetTracerProvider(tracerProvider)
	otel.SetMeterProvider(meterProvider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return &ObservabilityProviders{
		TracerProvider: tracerProvider,
		MeterProvider:  meterProvider,
		Resource:       res,
	}, nil
}

// Shutdown flushes and stops the OpenTelemetry providers.
func (p *ObservabilityProviders) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	if shutdownErr := p.TracerProvider.Shutdown(ctx); shutdownErr != nil {
		err = shutdownErr
	}

	if shutdownErr := p.MeterProvider.Shutdown(ctx); shutdownErr != nil {
		if err != nil {
			slog.Error("multiple observability shutdown errors",
				"first", err, "second", shutdownErr)
		}
		err = shutdownErr
	}

	return err
}

// buildStoreOptions assembles the store observability options for the
// configured backend. The returned providers are nil unless the otel backend
// is active; the caller shuts them down on exit.
func buildStoreOptions(ctx context.Context, cfg Config, logHandler slog.Handler) ([]postgresengine.Option, *ObservabilityProviders, error) {
	options := []postgresengine.Option{
		postgresengine.WithPolicy(cfg.Policy),
	}

	switch cfg.ObservabilityBackend {
	case backendOTel:
		providers, err := newObservabilityProviders(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}

		tracer := otel.Tracer(serviceName)
		meter := otel.Meter(serviceName)

		options = append(options,
			postgresengine.WithMetrics(oteladapters.NewMetricsCollector(meter)),
			postgresengine.WithTracing(oteladapters.NewTracingCollector(tracer)),
			postgresengine.WithContextualLogger(oteladapters.NewSlogBridgeLogger(serviceName)),
		)

		return options, providers, nil

	case backendPrometheus:
		options = append(options,
			postgresengine.WithMetrics(promadapters.NewMetricsCollector(prometheus.DefaultRegisterer)),
			postgresengine.WithContextualLogger(oteladapters.NewSlogBridgeLoggerWithHandler(logHandler)),
		)

		return options, nil, nil

	default:
		return options, nil, nil
	}
}
