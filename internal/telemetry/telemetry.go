// Package telemetry configures OpenTelemetry tracing. With no collector
// endpoint configured every tracer is a no-op, so callers never need to
// check whether tracing is enabled.
package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config selects the OTLP/HTTP collector.
type Config struct {
	// Endpoint is host:port of the collector. Empty disables export.
	Endpoint    string
	ServiceName string
	Version     string
	Insecure    bool
	Headers     map[string]string
}

// Option customizes Setup.
type Option func(*options)

type options struct {
	exporter sdktrace.SpanExporter
	global   bool
}

// WithSpanExporter exports synchronously to exp instead of the OTLP
// collector. Export is enabled even when Config.Endpoint is empty.
func WithSpanExporter(exp sdktrace.SpanExporter) Option {
	return func(o *options) { o.exporter = exp }
}

// WithGlobal installs the provider as the otel global tracer provider.
func WithGlobal() Option {
	return func(o *options) { o.global = true }
}

// Provider hands out tracers and flushes pending spans on Shutdown.
type Provider struct {
	tp       trace.TracerProvider
	shutdown func(context.Context) error
	enabled  bool
}

// Setup builds a Provider from cfg.
func Setup(ctx context.Context, cfg Config, opts ...Option) (*Provider, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if cfg.Endpoint == "" && o.exporter == nil {
		return &Provider{
			tp:       noop.NewTracerProvider(),
			shutdown: func(context.Context) error { return nil },
		}, nil
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.Version),
	)

	var spanOpt sdktrace.TracerProviderOption
	if o.exporter != nil {
		spanOpt = sdktrace.WithSyncer(o.exporter)
	} else {
		exp, err := newOTLPExporter(ctx, cfg)
		if err != nil {
			return nil, err
		}
		spanOpt = sdktrace.WithBatcher(exp)
	}

	tp := sdktrace.NewTracerProvider(spanOpt, sdktrace.WithResource(res))
	if o.global {
		otel.SetTracerProvider(tp)
	}
	return &Provider{tp: tp, shutdown: tp.Shutdown, enabled: true}, nil
}

func newOTLPExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	clientOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		clientOpts = append(clientOpts, otlptracehttp.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		clientOpts = append(clientOpts, otlptracehttp.WithHeaders(cfg.Headers))
	}
	exp, err := otlptracehttp.New(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: creating OTLP exporter: %w", err)
	}
	return exp, nil
}

// Tracer returns a named tracer.
func (p *Provider) Tracer(name string) trace.Tracer {
	return p.tp.Tracer(name)
}

// Enabled reports whether spans are exported.
func (p *Provider) Enabled() bool { return p.enabled }

// Shutdown flushes and stops the exporter. Safe to call more than once.
func (p *Provider) Shutdown(ctx context.Context) error {
	err := p.shutdown(ctx)
	p.shutdown = func(context.Context) error { return nil }
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("telemetry: shutdown: %w", err)
	}
	return nil
}
