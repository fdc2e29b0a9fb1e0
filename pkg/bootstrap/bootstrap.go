// Package bootstrap wires a handler registry into a runnable runtime:
// the invocation loop against a real runtime API, or, when none is
// configured, the loop plus a local gateway emulator.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oriys/customruntime/internal/awsenv"
	"github.com/oriys/customruntime/internal/config"
	"github.com/oriys/customruntime/internal/emulator"
	"github.com/oriys/customruntime/internal/engine"
	"github.com/oriys/customruntime/internal/logging"
	"github.com/oriys/customruntime/internal/metrics"
	"github.com/oriys/customruntime/internal/observability"
	"github.com/oriys/customruntime/internal/router"
	"github.com/oriys/customruntime/internal/runtimeapi"
	"github.com/oriys/customruntime/pkg/handler"
)

// Option customizes the invocation loop.
type Option = engine.Option

// WithFatalHandler replaces the default fatal-error policy of exiting
// the process. If fn returns, the loop keeps running.
func WithFatalHandler(fn func(error)) Option { return engine.WithFatalHandler(fn) }

// WithErrorTransformer rewrites handler errors before they are reported.
func WithErrorTransformer(fn func(error) error) Option { return engine.WithErrorTransformer(fn) }

// Run blocks until ctx is cancelled or a component fails to start.
func Run(ctx context.Context, cfg *config.Config, reg *handler.Registry, opts ...Option) error {
	logging.InitStructured(cfg.Logging.Format, cfg.Logging.Level)
	if cfg.Logging.RequestLogFile != "" {
		if err := logging.Default().SetOutput(cfg.Logging.RequestLogFile); err != nil {
			return fmt.Errorf("open request log: %w", err)
		}
		defer logging.Default().Close()
	}

	metrics.InitPrometheus(cfg.Metrics.Namespace, nil)

	fn := observability.Function{
		Name:     cfg.Function.Name,
		Version:  cfg.Function.Version,
		Region:   cfg.Function.Region,
		MemoryMB: cfg.Function.MemoryMB,
	}
	if err := observability.Init(ctx, cfg.Observability, fn); err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.Shutdown(context.Background())

	local := cfg.IsLocal()
	env := handler.Environment{
		FunctionName:    cfg.Function.Name,
		FunctionVersion: cfg.Function.Version,
		MemoryLimitMB:   cfg.Function.MemoryMB,
		LogGroupName:    cfg.Function.LogGroup,
		LogStreamName:   cfg.Function.LogStream,
		Region:          cfg.Function.Region,
		Local:           local,
		AWSConfig:       awsenv.NewLoader(cfg.Function.Region, local).Config,
	}

	g, gctx := errgroup.WithContext(ctx)

	apiAddr := cfg.Runtime.APIAddr
	if local {
		srv, err := startEmulator(cfg)
		if err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Stop(stopCtx)
		}()
		apiAddr = srv.Addr()
		logging.Op().Info("local mode", "url", "http://"+srv.Addr(), "routes", cfg.Local.RoutesFile)
	}

	client, err := runtimeapi.NewClient(apiAddr)
	if err != nil {
		return err
	}

	if cfg.Metrics.Addr != "" {
		metricsServer := &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsMux()}
		g.Go(func() error {
			logging.Op().Info("metrics server started", "addr", cfg.Metrics.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	eng := engine.New(client, reg, engine.Config{
		HandlerID:   cfg.Runtime.Handler,
		Local:       local,
		Workers:     cfg.WorkerCount(),
		PollBackoff: cfg.Runtime.PollBackoff,
		Environment: env,
	}, opts...)
	g.Go(func() error { return eng.Run(gctx) })

	err = g.Wait()
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return nil
	}
	return err
}

func startEmulator(cfg *config.Config) (*emulator.Server, error) {
	rt, err := loadRouter(cfg)
	if err != nil {
		return nil, err
	}
	srv := emulator.New(emulator.Config{
		Addr:            cfg.ListenAddr(),
		EnqueueTimeout:  cfg.Local.EnqueueTimeout,
		ResponseTimeout: cfg.Local.ResponseTimeout,
		Region:          cfg.Function.Region,
	}, rt)
	if err := srv.Start(); err != nil {
		return nil, err
	}
	return srv, nil
}

func loadRouter(cfg *config.Config) (*router.Router, error) {
	table := config.DefaultRoutes()
	if cfg.Local.RoutesFile != "" {
		t, err := config.LoadRoutes(cfg.Local.RoutesFile)
		if err != nil {
			return nil, err
		}
		table = t
	}
	rt, err := router.FromTable(table)
	if err != nil {
		return nil, fmt.Errorf("build routes: %w", err)
	}
	return rt, nil
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.PrometheusHandler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}
