// Package engine runs the invocation loop: poll the runtime API for the
// next invocation, resolve and run the handler, report the outcome.
package engine

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oriys/customruntime/internal/domain"
	"github.com/oriys/customruntime/internal/logging"
	"github.com/oriys/customruntime/pkg/handler"
)

// RuntimeAPI is the control endpoint a worker polls and reports to.
type RuntimeAPI interface {
	Next(ctx context.Context) (*domain.Invocation, error)
	Respond(ctx context.Context, requestID string, body []byte) error
	ReportError(ctx context.Context, requestID string, er *domain.ErrorResponse) error
	ReportInitError(ctx context.Context, er *domain.ErrorResponse) error
}

// Resolver turns a handler identifier into a binding.
type Resolver interface {
	Resolve(id string) (*handler.Binding, error)
}

// Config controls the loop.
type Config struct {
	// HandlerID is the configured handler. In local mode the per-request
	// hint from the emulator takes precedence.
	HandlerID   string
	Local       bool
	Workers     int
	PollBackoff time.Duration
	Environment handler.Environment
}

// Engine owns the workers sharing one runtime API and registry.
type Engine struct {
	api      RuntimeAPI
	resolver Resolver
	cfg      Config

	fatal       func(error)
	fatalOnce   sync.Once
	transform   func(error) error
	requestLogs *logging.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithFatalHandler replaces the fatal-error policy. The default logs and
// exits the process with status 1. The policy runs once per engine; when
// it returns, workers keep polling.
func WithFatalHandler(fn func(error)) Option {
	return func(e *Engine) { e.fatal = fn }
}

// WithErrorTransformer rewrites handler errors before they are reported.
// Returning nil keeps the original error.
func WithErrorTransformer(fn func(error) error) Option {
	return func(e *Engine) { e.transform = fn }
}

// WithRequestLogger sets where per-invocation records go.
func WithRequestLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.requestLogs = l }
}

// New creates an engine.
func New(api RuntimeAPI, resolver Resolver, cfg Config, opts ...Option) *Engine {
	if cfg.PollBackoff <= 0 {
		cfg.PollBackoff = 500 * time.Millisecond
	}
	if cfg.Workers < 1 || !cfg.Local {
		cfg.Workers = 1
	}
	e := &Engine{
		api:         api,
		resolver:    resolver,
		cfg:         cfg,
		requestLogs: logging.Default(),
		fatal: func(err error) {
			logging.Op().Error("fatal initialization error, exiting", "error", err)
			os.Exit(1)
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run starts the workers and blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	logging.Op().Info("invocation loop started", "workers", e.cfg.Workers, "local", e.cfg.Local, "handler", e.cfg.HandlerID)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < e.cfg.Workers; i++ {
		w := e.NewWorker(i)
		g.Go(func() error { return w.Run(gctx) })
	}
	err := g.Wait()
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return nil
	}
	return err
}

// NewWorker creates a worker with an empty binding cache.
func (e *Engine) NewWorker(id int) *Worker {
	return &Worker{engine: e, id: id}
}

func (e *Engine) fail(err error) {
	e.fatalOnce.Do(func() { e.fatal(err) })
}
