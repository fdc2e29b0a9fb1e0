package handler

import (
	"bytes"
	"context"
	"io"
	"reflect"
)

// Shape describes the declared input type of a Structured binding.
type Shape struct {
	Name string
	Type reflect.Type
}

func shapeOf(t reflect.Type) *Shape {
	name := t.String()
	if t.Name() != "" {
		name = t.Name()
	}
	return &Shape{Name: name, Type: t}
}

// Binding is a resolved handler ready to run. Exactly one of the two
// execution paths is populated, selected by Kind.
type Binding struct {
	ID    string
	Kind  Kind
	Input *Shape // nil for RawStream

	invoke func(ctx context.Context, lc *Context, payload []byte) ([]byte, error)
	stream StreamHandler
}

// Invoke runs the binding against payload and returns the response body.
// RawStream output is buffered until the handler returns.
func (b *Binding) Invoke(ctx context.Context, lc *Context, payload []byte) ([]byte, error) {
	if b.Kind == RawStream {
		var out bytes.Buffer
		if err := b.Stream(ctx, lc, bytes.NewReader(payload), &out); err != nil {
			return nil, err
		}
		return out.Bytes(), nil
	}
	return b.invoke(ctx, lc, payload)
}

// Stream runs a RawStream binding. For a Structured binding the input is
// read fully and the encoded result written to out.
func (b *Binding) Stream(ctx context.Context, lc *Context, in io.Reader, out io.Writer) error {
	if b.Kind == RawStream {
		return b.stream.HandleStream(ctx, lc, in, out)
	}
	payload, err := io.ReadAll(in)
	if err != nil {
		return err
	}
	result, err := b.invoke(ctx, lc, payload)
	if err != nil {
		return err
	}
	_, err = out.Write(result)
	return err
}
