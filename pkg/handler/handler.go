// Package handler is the registry of user handlers a runtime can invoke.
//
// Handlers are registered explicitly under an identifier, either as a
// Structured handler (typed input decoded from the payload, typed output
// encoded as the response) or as a RawStream handler (payload bytes in,
// response bytes written to a sink). The declared input type of a
// Structured handler is captured from its type parameter at registration.
//
//	reg := handler.NewRegistry()
//	handler.RegisterFunc(reg, "EchoHandler", func(ctx context.Context, lc *handler.Context, in Event) (Reply, error) {
//		...
//	})
package handler

import (
	"context"
	"io"
)

// Kind is the execution path of a binding.
type Kind int

const (
	// Structured handlers take a decoded value and return one.
	Structured Kind = iota
	// RawStream handlers read the payload and write the response body.
	RawStream
)

func (k Kind) String() string {
	switch k {
	case Structured:
		return "structured"
	case RawStream:
		return "raw_stream"
	default:
		return "unknown"
	}
}

// Handler is a Structured handler.
type Handler[In, Out any] interface {
	Handle(ctx context.Context, lc *Context, in In) (Out, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc[In, Out any] func(ctx context.Context, lc *Context, in In) (Out, error)

// Handle calls f.
func (f HandlerFunc[In, Out]) Handle(ctx context.Context, lc *Context, in In) (Out, error) {
	return f(ctx, lc, in)
}

// StreamHandler is a RawStream handler. Whatever it writes to out before
// returning is the response body.
type StreamHandler interface {
	HandleStream(ctx context.Context, lc *Context, in io.Reader, out io.Writer) error
}

// StreamHandlerFunc adapts a function to StreamHandler.
type StreamHandlerFunc func(ctx context.Context, lc *Context, in io.Reader, out io.Writer) error

// HandleStream calls f.
func (f StreamHandlerFunc) HandleStream(ctx context.Context, lc *Context, in io.Reader, out io.Writer) error {
	return f(ctx, lc, in, out)
}

// Invoker is the untyped Structured capability a factory registered with
// RegisterFactory may expose instead of StreamHandler. The payload is
// passed through undecoded and the result is the response body.
type Invoker interface {
	Invoke(ctx context.Context, lc *Context, payload []byte) ([]byte, error)
}
