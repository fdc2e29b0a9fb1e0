package handler

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Factory constructs a handler value for RegisterFactory. The value must
// implement StreamHandler or Invoker.
type Factory func() (any, error)

type entry struct {
	build func(codec Codec) (*Binding, error)
}

// Registry maps handler identifiers to factories. Registration normally
// happens once at startup; Resolve is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
	codec   Codec
}

// Option configures a Registry.
type Option func(*Registry)

// WithCodec replaces the JSON codec used by Structured handlers.
func WithCodec(c Codec) Option {
	return func(r *Registry) { r.codec = c }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]entry),
		codec:   JSONCodec{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) add(id string, e entry) error {
	if id == "" {
		return fmt.Errorf("register handler: empty identifier")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; ok {
		return fmt.Errorf("register handler %q: %w", id, ErrDuplicate)
	}
	r.entries[id] = e
	return nil
}

// Register adds a Structured handler built by newHandler on each
// resolution. In is the declared input type.
func Register[In, Out any](r *Registry, id string, newHandler func() (Handler[In, Out], error)) error {
	return r.add(id, entry{build: func(codec Codec) (*Binding, error) {
		h, err := newHandler()
		if err != nil {
			return nil, err
		}
		if h == nil {
			return nil, fmt.Errorf("factory returned nil handler")
		}
		return structured[In, Out](id, h, codec), nil
	}})
}

// RegisterFunc adds a stateless Structured handler.
func RegisterFunc[In, Out any](r *Registry, id string, fn HandlerFunc[In, Out]) error {
	return Register(r, id, func() (Handler[In, Out], error) { return fn, nil })
}

// RegisterStream adds a RawStream handler built by newHandler on each
// resolution.
func RegisterStream(r *Registry, id string, newHandler func() (StreamHandler, error)) error {
	return r.add(id, entry{build: func(Codec) (*Binding, error) {
		h, err := newHandler()
		if err != nil {
			return nil, err
		}
		if h == nil {
			return nil, fmt.Errorf("factory returned nil handler")
		}
		return &Binding{ID: id, Kind: RawStream, stream: h}, nil
	}})
}

// RegisterStreamFunc adds a stateless RawStream handler.
func RegisterStreamFunc(r *Registry, id string, fn StreamHandlerFunc) error {
	return RegisterStream(r, id, func() (StreamHandler, error) { return fn, nil })
}

// RegisterFactory adds an untyped factory. Its capability is checked when
// the identifier is resolved.
func (r *Registry) RegisterFactory(id string, f Factory) error {
	return r.add(id, entry{build: func(Codec) (*Binding, error) {
		v, err := f()
		if err != nil {
			return nil, err
		}
		switch h := v.(type) {
		case StreamHandler:
			return &Binding{ID: id, Kind: RawStream, stream: h}, nil
		case Invoker:
			return &Binding{
				ID:     id,
				Kind:   Structured,
				Input:  shapeOf(reflect.TypeOf((*[]byte)(nil)).Elem()),
				invoke: h.Invoke,
			}, nil
		default:
			return nil, errCapability{v}
		}
	}})
}

type errCapability struct{ v any }

func (e errCapability) Error() string {
	return fmt.Sprintf("%T: %v", e.v, ErrNoCapability)
}

func (e errCapability) Unwrap() error { return ErrNoCapability }

func structured[In, Out any](id string, h Handler[In, Out], codec Codec) *Binding {
	return &Binding{
		ID:    id,
		Kind:  Structured,
		Input: shapeOf(reflect.TypeOf((*In)(nil)).Elem()),
		invoke: func(ctx context.Context, lc *Context, payload []byte) ([]byte, error) {
			var in In
			if len(payload) > 0 {
				if err := codec.Unmarshal(payload, &in); err != nil {
					return nil, &DecodeError{Input: reflect.TypeOf((*In)(nil)).Elem().String(), Err: err}
				}
			}
			out, err := h.Handle(ctx, lc, in)
			if err != nil {
				return nil, err
			}
			return codec.Marshal(out)
		},
	}
}

// DecodeError is returned when a payload cannot be decoded into the
// declared input type.
type DecodeError struct {
	Input string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode payload into %s: %v", e.Input, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Resolve constructs a binding for id. Each call runs the factory again;
// callers cache the result.
func (r *Registry) Resolve(id string) (b *Binding, err error) {
	if id == "" {
		return nil, &ResolutionError{Reason: ReasonMissingID}
	}
	r.mu.RLock()
	e, ok := r.entries[id]
	codec := r.codec
	r.mu.RUnlock()
	if !ok {
		return nil, &ResolutionError{ID: id, Reason: ReasonNotFound}
	}

	defer func() {
		if p := recover(); p != nil {
			b = nil
			err = &ResolutionError{ID: id, Reason: ReasonConstruction, Err: fmt.Errorf("factory panicked: %v", p)}
		}
	}()

	b, err = e.build(codec)
	if err != nil {
		reason := ReasonConstruction
		if _, ok := err.(errCapability); ok {
			reason = ReasonCapability
		}
		return nil, &ResolutionError{ID: id, Reason: reason, Err: err}
	}
	return b, nil
}

// IDs returns the registered identifiers in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	_, ok := r.entries[id]
	r.mu.RUnlock()
	return ok
}
