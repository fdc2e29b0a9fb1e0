// Package observability traces invocations with OpenTelemetry. A span
// opened for a public gateway request is continued by the worker that
// executes it, through the W3C trace context carried on the invocation.
package observability

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/oriys/customruntime"

// Config selects where invocation spans are exported.
type Config struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"` // otlp-http (default) or noop
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// Function describes the function the runtime hosts. It becomes the
// FaaS part of the exported resource.
type Function struct {
	Name     string
	Version  string
	Region   string
	MemoryMB int
}

func (f Function) attributes() []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if f.Name != "" {
		attrs = append(attrs, semconv.FaaSName(f.Name))
	}
	if f.Version != "" {
		attrs = append(attrs, semconv.FaaSVersion(f.Version))
	}
	if f.MemoryMB > 0 {
		attrs = append(attrs, semconv.FaaSMaxMemory(f.MemoryMB<<20))
	}
	if f.Region != "" {
		attrs = append(attrs, semconv.CloudProviderAWS, semconv.CloudRegion(f.Region))
	}
	return attrs
}

type tracing struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

var current atomic.Pointer[tracing]

func init() {
	current.Store(disabled())
}

func disabled() *tracing {
	return &tracing{tracer: noop.NewTracerProvider().Tracer(instrumentationName)}
}

// Init installs the process tracer. With tracing disabled every span is
// a no-op and no trace context leaves the process.
func Init(ctx context.Context, cfg Config, fn Function) error {
	if !cfg.Enabled {
		current.Store(disabled())
		return nil
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return err
	}

	service := cfg.ServiceName
	if service == "" {
		service = "customruntime"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(service)),
		resource.WithAttributes(fn.attributes()...),
	)
	if err != nil {
		return fmt.Errorf("build trace resource: %w", err)
	}

	install(sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(cfg.SampleRate)),
	))
	return nil
}

func newExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "", "otlp", "otlp-http":
		opts := []otlptracehttp.Option{otlptracehttp.WithInsecure()}
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
		}
		exp, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("otlp trace exporter: %w", err)
		}
		return exp, nil
	case "noop":
		return tracetest.NewNoopExporter(), nil
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", cfg.Exporter)
	}
}

// newSampler keeps every trace unless 0 < rate < 1. Sampling follows the
// parent so a gateway decision holds for the worker span.
func newSampler(rate float64) sdktrace.Sampler {
	if rate > 0 && rate < 1 {
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
	return sdktrace.ParentBased(sdktrace.AlwaysSample())
}

func install(tp *sdktrace.TracerProvider) {
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(w3c)
	current.Store(&tracing{provider: tp, tracer: tp.Tracer(instrumentationName)})
}

// Shutdown flushes pending spans and falls back to the no-op tracer.
func Shutdown(ctx context.Context) error {
	t := current.Swap(disabled())
	if t.provider == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return t.provider.Shutdown(ctx)
}

// Tracer returns the process tracer.
func Tracer() trace.Tracer {
	return current.Load().tracer
}

// Enabled reports whether spans are being exported.
func Enabled() bool {
	return current.Load().provider != nil
}
