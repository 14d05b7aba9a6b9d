// Package telemetry builds the OpenTelemetry providers used by workers and
// the action API server.
//
// Disabled signals get no-op providers, so callers can always ask for a
// tracer or meter:
//
//	p, err := telemetry.New(ctx, telemetry.Config{ServiceName: "jobq", Tracing: true})
//	if err != nil {
//	    return err
//	}
//	defer p.Shutdown(context.Background())
//
//	mw := worker.TracingWithTracer(p.Tracer(worker.InstrumentationName))
//
// Without an explicit span processor or metric reader, spans and metrics go
// to OTLP over HTTP. The exporters read the standard OTEL_EXPORTER_OTLP_*
// variables for the endpoint, headers and TLS settings.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Config selects the signals to record.
type Config struct {
	// Default: jobq
	ServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"jobq" yaml:"service_name"`
	// Record a span per executed job and per action request.
	Tracing bool `env:"JOBQ_TRACING" yaml:"tracing"`
	// Record job and HTTP metrics.
	Metrics bool `env:"JOBQ_METRICS" yaml:"metrics"`
	// Export period of the metric reader. Default: 60s
	MetricsInterval time.Duration `env:"JOBQ_METRICS_INTERVAL" envDefault:"60s" yaml:"metrics_interval"`
}

// Option configures New.
type Option func(*options)

type options struct {
	spanProcessor sdktrace.SpanProcessor
	metricReader  sdkmetric.Reader
}

// WithSpanProcessor sends spans to sp instead of the OTLP exporter.
func WithSpanProcessor(sp sdktrace.SpanProcessor) Option {
	return func(o *options) {
		o.spanProcessor = sp
	}
}

// WithMetricReader collects metrics with r instead of a periodic OTLP reader.
func WithMetricReader(r sdkmetric.Reader) Option {
	return func(o *options) {
		o.metricReader = r
	}
}

// Provider holds the tracer and meter providers of one process.
type Provider struct {
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	shutdown       []func(context.Context) error
	tracing        bool
	metrics        bool
}

// New creates the providers for the signals enabled in cfg.
func New(ctx context.Context, cfg Config, opts ...Option) (*Provider, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "jobq"
	}
	res := resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))

	p := &Provider{
		tracerProvider: tracenoop.NewTracerProvider(),
		meterProvider:  metricnoop.NewMeterProvider(),
		tracing:        cfg.Tracing,
		metrics:        cfg.Metrics,
	}

	if cfg.Tracing {
		sp := o.spanProcessor
		if sp == nil {
			exp, err := otlptracehttp.New(ctx)
			if err != nil {
				return nil, fmt.Errorf("telemetry: trace exporter: %w", err)
			}
			sp = sdktrace.NewBatchSpanProcessor(exp)
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithSpanProcessor(sp),
		)
		p.tracerProvider = tp
		p.shutdown = append(p.shutdown, tp.Shutdown)
	}

	if cfg.Metrics {
		reader := o.metricReader
		if reader == nil {
			exp, err := otlpmetrichttp.New(ctx)
			if err != nil {
				_ = p.Shutdown(ctx)
				return nil, fmt.Errorf("telemetry: metric exporter: %w", err)
			}
			var readerOpts []sdkmetric.PeriodicReaderOption
			if cfg.MetricsInterval > 0 {
				readerOpts = append(readerOpts, sdkmetric.WithInterval(cfg.MetricsInterval))
			}
			reader = sdkmetric.NewPeriodicReader(exp, readerOpts...)
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(reader),
		)
		p.meterProvider = mp
		p.shutdown = append(p.shutdown, mp.Shutdown)
	}

	return p, nil
}

// TracingEnabled reports whether spans are recorded.
func (p *Provider) TracingEnabled() bool { return p.tracing }

// MetricsEnabled reports whether metrics are recorded.
func (p *Provider) MetricsEnabled() bool { return p.metrics }

// TracerProvider returns the tracer provider, a no-op one when tracing is off.
func (p *Provider) TracerProvider() trace.TracerProvider { return p.tracerProvider }

// MeterProvider returns the meter provider, a no-op one when metrics are off.
func (p *Provider) MeterProvider() metric.MeterProvider { return p.meterProvider }

// Tracer returns a named tracer.
func (p *Provider) Tracer(name string) trace.Tracer { return p.tracerProvider.Tracer(name) }

// Meter returns a named meter.
func (p *Provider) Meter(name string) metric.Meter { return p.meterProvider.Meter(name) }

// Install makes the enabled providers the global ones.
func (p *Provider) Install() {
	if p.tracing {
		otel.SetTracerProvider(p.tracerProvider)
	}
	if p.metrics {
		otel.SetMeterProvider(p.meterProvider)
	}
}

// Shutdown flushes and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range p.shutdown {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	p.shutdown = nil
	return errors.Join(errs...)
}
