// Package telemetry sets up the OpenTelemetry meter and tracer used by the
// transaction engine. Metrics are exported through a Prometheus registry;
// finished spans are written to the debug log.
package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"txflow/internal/errs"
)

type Config struct {
	Enabled          bool
	ServiceName      string
	TraceSampleRatio float64
}

// Telemetry holds the active meter and tracer. When disabled both are no-ops
// and Handler serves an empty registry.
type Telemetry struct {
	Meter  metric.Meter
	Tracer trace.Tracer

	enabled        bool
	registry       *prometheus.Registry
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
}

type ShutdownFunc func(ctx context.Context) error

func New(cfg Config, processors ...sdktrace.SpanProcessor) (*Telemetry, ShutdownFunc, error) {
	registry := prometheus.NewRegistry()
	if !cfg.Enabled {
		return &Telemetry{
			Meter:    noop.NewMeterProvider().Meter(""),
			Tracer:   nooptrace.NewTracerProvider().Tracer(""),
			registry: registry,
		}, func(context.Context) error { return nil }, nil
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "txflow"
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(serviceName)),
	)
	if err != nil {
		return nil, nil, errs.Wrap(err, "create telemetry resource")
	}

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, nil, errs.Wrap(err, "create prometheus exporter")
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	ratio := cfg.TraceSampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	if len(processors) == 0 {
		processors = []sdktrace.SpanProcessor{NewLogSpanProcessor()}
	}
	traceOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	}
	for _, p := range processors {
		traceOpts = append(traceOpts, sdktrace.WithSpanProcessor(p))
	}
	tracerProvider := sdktrace.NewTracerProvider(traceOpts...)

	tel := &Telemetry{
		Meter:          meterProvider.Meter(serviceName),
		Tracer:         tracerProvider.Tracer(serviceName),
		enabled:        true,
		registry:       registry,
		meterProvider:  meterProvider,
		tracerProvider: tracerProvider,
	}
	shutdown := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		var shutdownErr error
		if err := tracerProvider.Shutdown(ctx); err != nil {
			shutdownErr = errors.Join(shutdownErr, errs.Wrap(err, "shutdown tracer provider"))
		}
		if err := meterProvider.Shutdown(ctx); err != nil {
			shutdownErr = errors.Join(shutdownErr, errs.Wrap(err, "shutdown meter provider"))
		}
		return shutdownErr
	}
	return tel, shutdown, nil
}

func (t *Telemetry) Enabled() bool { return t != nil && t.enabled }

// Handler serves the collected metrics in the Prometheus text format.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}
