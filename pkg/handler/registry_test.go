package handler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
)

type greeting struct {
	Name string `json:"name"`
}

type reply struct {
	Message string `json:"message"`
}

func greet(ctx context.Context, lc *Context, in greeting) (reply, error) {
	if in.Name == "" {
		in.Name = "world"
	}
	return reply{Message: "hello " + in.Name}, nil
}

func TestStructured_RoundTrip(t *testing.T) {
	reg := NewRegistry()
	if err := RegisterFunc(reg, "Greeter", greet); err != nil {
		t.Fatalf("RegisterFunc: %v", err)
	}

	b, err := reg.Resolve("Greeter")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if b.Kind != Structured {
		t.Errorf("Kind = %v, want structured", b.Kind)
	}
	if b.Input == nil || b.Input.Type != reflect.TypeOf((*greeting)(nil)).Elem() || b.Input.Name != "greeting" {
		t.Errorf("Input = %+v", b.Input)
	}

	out, err := b.Invoke(context.Background(), &Context{}, []byte(`{"name":"gopher"}`))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if string(out) != `{"message":"hello gopher"}` {
		t.Errorf("out = %s", out)
	}

	// An empty payload decodes to the zero value.
	out, err = b.Invoke(context.Background(), &Context{}, nil)
	if err != nil {
		t.Fatalf("Invoke(nil): %v", err)
	}
	if string(out) != `{"message":"hello world"}` {
		t.Errorf("out = %s", out)
	}
}

func TestStructured_DecodeError(t *testing.T) {
	reg := NewRegistry()
	RegisterFunc(reg, "Greeter", greet)
	b, _ := reg.Resolve("Greeter")

	_, err := b.Invoke(context.Background(), &Context{}, []byte(`not json`))
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("err = %v, want *DecodeError", err)
	}
}

func TestStructured_HandlerError(t *testing.T) {
	reg := NewRegistry()
	boom := errors.New("boom")
	RegisterFunc(reg, "Fails", func(ctx context.Context, lc *Context, in map[string]any) (any, error) {
		return nil, boom
	})
	b, _ := reg.Resolve("Fails")
	if _, err := b.Invoke(context.Background(), &Context{}, []byte(`{}`)); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}

func TestRawStream(t *testing.T) {
	reg := NewRegistry()
	err := RegisterStreamFunc(reg, "Upper", func(ctx context.Context, lc *Context, in io.Reader, out io.Writer) error {
		data, err := io.ReadAll(in)
		if err != nil {
			return err
		}
		_, err = out.Write(bytes.ToUpper(data))
		return err
	})
	if err != nil {
		t.Fatalf("RegisterStreamFunc: %v", err)
	}

	b, err := reg.Resolve("Upper")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if b.Kind != RawStream || b.Input != nil {
		t.Errorf("binding = %+v", b)
	}

	out, err := b.Invoke(context.Background(), &Context{}, []byte("abc"))
	if err != nil || string(out) != "ABC" {
		t.Errorf("Invoke = %q, %v", out, err)
	}

	var sink strings.Builder
	if err := b.Stream(context.Background(), &Context{}, strings.NewReader("xyz"), &sink); err != nil {
		t.Fatal(err)
	}
	if sink.String() != "XYZ" {
		t.Errorf("Stream wrote %q", sink.String())
	}
}

type rawEcho struct{}

func (rawEcho) Invoke(ctx context.Context, lc *Context, payload []byte) ([]byte, error) {
	return payload, nil
}

func TestRegisterFactory_Capabilities(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterFactory("Raw", func() (any, error) { return rawEcho{}, nil })
	reg.RegisterFactory("Stream", func() (any, error) {
		return StreamHandlerFunc(func(ctx context.Context, lc *Context, in io.Reader, out io.Writer) error {
			_, err := io.Copy(out, in)
			return err
		}), nil
	})
	reg.RegisterFactory("Useless", func() (any, error) { return struct{}{}, nil })

	if b, err := reg.Resolve("Raw"); err != nil || b.Kind != Structured {
		t.Errorf("Raw = %+v, %v", b, err)
	}
	if b, err := reg.Resolve("Stream"); err != nil || b.Kind != RawStream {
		t.Errorf("Stream = %+v, %v", b, err)
	}

	_, err := reg.Resolve("Useless")
	var re *ResolutionError
	if !errors.As(err, &re) || re.Reason != ReasonCapability {
		t.Fatalf("err = %v, want capability ResolutionError", err)
	}
	if !errors.Is(err, ErrNoCapability) {
		t.Error("capability error should wrap ErrNoCapability")
	}
}

func TestResolve_Errors(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterFactory("Broken", func() (any, error) { return nil, errors.New("no database") })
	reg.RegisterFactory("Panics", func() (any, error) { panic("bad init") })
	Register(reg, "NilHandler", func() (Handler[greeting, reply], error) { return nil, nil })

	tests := []struct {
		id     string
		reason Reason
	}{
		{"", ReasonMissingID},
		{"Missing", ReasonNotFound},
		{"Broken", ReasonConstruction},
		{"Panics", ReasonConstruction},
		{"NilHandler", ReasonConstruction},
	}
	for _, tt := range tests {
		b, err := reg.Resolve(tt.id)
		if b != nil {
			t.Errorf("Resolve(%q) returned a binding", tt.id)
		}
		var re *ResolutionError
		if !errors.As(err, &re) {
			t.Errorf("Resolve(%q) err = %v, want *ResolutionError", tt.id, err)
			continue
		}
		if re.Reason != tt.reason {
			t.Errorf("Resolve(%q) reason = %v, want %v", tt.id, re.Reason, tt.reason)
		}
		if re.Error() == "" {
			t.Errorf("Resolve(%q) empty message", tt.id)
		}
	}
}

func TestRegister_Duplicate(t *testing.T) {
	reg := NewRegistry()
	if err := RegisterFunc(reg, "Greeter", greet); err != nil {
		t.Fatal(err)
	}
	if err := RegisterFunc(reg, "Greeter", greet); !errors.Is(err, ErrDuplicate) {
		t.Errorf("err = %v, want ErrDuplicate", err)
	}
	if err := RegisterFunc(reg, "", greet); err == nil {
		t.Error("expected error for empty id")
	}
	if got := reg.IDs(); !reflect.DeepEqual(got, []string{"Greeter"}) {
		t.Errorf("IDs = %v", got)
	}
}

type counter struct{ built *int }

func (c counter) Handle(ctx context.Context, lc *Context, in greeting) (int, error) {
	return *c.built, nil
}

func TestResolve_RunsFactoryEachTime(t *testing.T) {
	reg := NewRegistry()
	built := 0
	Register(reg, "Counter", func() (Handler[greeting, int], error) {
		built++
		return counter{&built}, nil
	})
	reg.Resolve("Counter")
	reg.Resolve("Counter")
	if built != 2 {
		t.Errorf("factory ran %d times, want 2", built)
	}
}

type upperCodec struct{ JSONCodec }

func (upperCodec) Marshal(v any) ([]byte, error) {
	data, err := JSONCodec{}.Marshal(v)
	return bytes.ToUpper(data), err
}

func TestWithCodec(t *testing.T) {
	reg := NewRegistry(WithCodec(upperCodec{}))
	RegisterFunc(reg, "Greeter", greet)
	b, _ := reg.Resolve("Greeter")
	out, err := b.Invoke(context.Background(), &Context{}, []byte(`{"name":"x"}`))
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != `{"MESSAGE":"HELLO X"}` {
		t.Errorf("out = %s", out)
	}
}
