// Package tracing wraps the OpenTelemetry SDK for the edge service: one
// tracer provider per process, W3C trace-context propagation into both
// upstream transports.
package tracing

import (
	"context"
	"io"
	"net/http"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// Tracer is the narrow tracing surface used by transports and middleware.
type Tracer interface {
	// Start a new span.
	Start(ctx context.Context, spanName string) (context.Context, oteltrace.Span)
	StartSpanFromHeader(ctx context.Context, h http.Header, spanName string) (context.Context, oteltrace.Span)
	InjectHTTP(ctx context.Context, h http.Header)
	InjectMetadata(ctx context.Context, md metadata.MD)
	Shutdown(ctx context.Context) error
}

type tracer struct {
	tracer oteltrace.Tracer
	tp     *trace.TracerProvider
}

var propagator = propagation.NewCompositeTextMapPropagator(
	propagation.TraceContext{},
	propagation.Baggage{},
)

// NewTracer creates a tracer for serviceName. A nil exporter keeps span
// creation and propagation working but exports nothing.
func NewTracer(serviceName string, exporter trace.SpanExporter) Tracer {
	opts := []trace.TracerProviderOption{
		trace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		)),
	}
	if exporter != nil {
		opts = append(opts, trace.WithBatcher(exporter))
	}
	tp := trace.NewTracerProvider(opts...)

	return tracer{
		tracer: tp.Tracer(serviceName),
		tp:     tp,
	}
}

func (t tracer) Start(ctx context.Context, spanName string) (context.Context, oteltrace.Span) {
	return t.tracer.Start(ctx, spanName)
}

func (t tracer) StartSpanFromHeader(
	ctx context.Context,
	h http.Header,
	spanName string,
) (context.Context, oteltrace.Span) {
	return t.Start(propagator.Extract(ctx, propagation.HeaderCarrier(h)), spanName)
}

func (t tracer) InjectHTTP(ctx context.Context, h http.Header) {
	propagator.Inject(ctx, propagation.HeaderCarrier(h))
}

func (t tracer) InjectMetadata(ctx context.Context, md metadata.MD) {
	propagator.Inject(ctx, metadataCarrier(md))
}

func (t tracer) Shutdown(ctx context.Context) error {
	_ = t.tp.ForceFlush(ctx)

	return t.tp.Shutdown(ctx)
}

// Nop returns a tracer that records nothing. Used when a component is built
// without one.
func Nop() Tracer {
	return nopTracer{tracer: noop.NewTracerProvider().Tracer("")}
}

type nopTracer struct {
	tracer oteltrace.Tracer
}

func (n nopTracer) Start(ctx context.Context, spanName string) (context.Context, oteltrace.Span) {
	return n.tracer.Start(ctx, spanName)
}

func (n nopTracer) StartSpanFromHeader(ctx context.Context, _ http.Header, spanName string) (context.Context, oteltrace.Span) {
	return n.tracer.Start(ctx, spanName)
}

func (nopTracer) InjectHTTP(context.Context, http.Header) {}
func (nopTracer) InjectMetadata(context.Context, metadata.MD) {}
func (nopTracer) Shutdown(context.Context) error { return nil }

// ExporterConfig selects where spans go.
type ExporterConfig struct {
	OTLPEndpoint string
	Stdout       bool
	Writer       io.Writer
}

// NewExporter builds the configured span exporter. Both empty means no
// exporter (nil, nil).
func NewExporter(ctx context.Context, cfg ExporterConfig) (trace.SpanExporter, error) {
	switch {
	case cfg.OTLPEndpoint != "":
		return otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()),
		)
	case cfg.Stdout:
		opts := []stdouttrace.Option{stdouttrace.WithPrettyPrint()}
		if cfg.Writer != nil {
			opts = append(opts, stdouttrace.WithWriter(cfg.Writer))
		}
		return stdouttrace.New(opts...)
	default:
		return nil, nil
	}
}

// metadataCarrier adapts gRPC metadata to the TextMapCarrier interface.
type metadataCarrier metadata.MD

func (c metadataCarrier) Get(key string) string {
	if v := metadata.MD(c).Get(key); len(v) > 0 {
		return v[0]
	}
	return ""
}

func (c metadataCarrier) Set(key, value string) {
	metadata.MD(c).Set(key, value)
}

func (c metadataCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
