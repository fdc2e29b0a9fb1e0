package observability

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/oriys/customruntime/internal/domain"
)

// w3c is the only format the runtime propagates. Baggage is not carried
// across the emulator.
var w3c = propagation.TraceContext{}

// TraceContext is the W3C trace context handed from a gateway request to
// the worker that executes it.
type TraceContext struct {
	TraceParent string `json:"traceparent,omitempty"`
	TraceState  string `json:"tracestate,omitempty"`
}

// CurrentTraceContext returns the trace context of the span in ctx, or
// the zero value when tracing is off.
func CurrentTraceContext(ctx context.Context) TraceContext {
	if !Enabled() {
		return TraceContext{}
	}
	h := http.Header{}
	w3c.Inject(ctx, propagation.HeaderCarrier(h))
	return FromHeader(h.Get)
}

// FromHeader reads a trace context through a header getter such as
// http.Header.Get or domain.Invocation.Header.
func FromHeader(get func(string) string) TraceContext {
	return TraceContext{
		TraceParent: get(domain.HeaderTraceparent),
		TraceState:  get(domain.HeaderTracestate),
	}
}

// SetHeaders writes tc to h. An empty trace context writes nothing.
func (tc TraceContext) SetHeaders(h http.Header) {
	if tc.TraceParent == "" {
		return
	}
	h.Set(domain.HeaderTraceparent, tc.TraceParent)
	if tc.TraceState != "" {
		h.Set(domain.HeaderTracestate, tc.TraceState)
	}
}

// Attach returns ctx with the remote span described by tc as parent.
func (tc TraceContext) Attach(ctx context.Context) context.Context {
	if tc.TraceParent == "" {
		return ctx
	}
	h := http.Header{}
	tc.SetHeaders(h)
	return w3c.Extract(ctx, propagation.HeaderCarrier(h))
}

// TraceID returns the hex trace id of the span in ctx, or "".
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// SpanID returns the hex span id of the span in ctx, or "".
func SpanID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasSpanID() {
		return ""
	}
	return sc.SpanID().String()
}
