package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attributes recorded on worker spans.
var (
	AttrHandler     = attribute.Key("runtime.handler")
	AttrHandlerKind = attribute.Key("runtime.handler.kind")
	AttrRequestID   = attribute.Key("runtime.request_id")
	AttrColdStart   = attribute.Key("runtime.cold_start")
	AttrWorker      = attribute.Key("runtime.worker")
)

// StartSpan starts a span for work done inside a worker, such as
// resolving a handler binding.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return start(ctx, name, trace.SpanKindInternal, attrs)
}

// StartConsumerSpan starts the span for one invocation taken off the
// runtime API.
func StartConsumerSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return start(ctx, name, trace.SpanKindConsumer, attrs)
}

func start(ctx context.Context, name string, kind trace.SpanKind, attrs []attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithSpanKind(kind), trace.WithAttributes(attrs...))
}

// SetSpanError records err on span.
func SetSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func SetSpanOK(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
