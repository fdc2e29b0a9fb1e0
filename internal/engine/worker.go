package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/oriys/customruntime/internal/domain"
	"github.com/oriys/customruntime/internal/logging"
	"github.com/oriys/customruntime/internal/metrics"
	"github.com/oriys/customruntime/internal/observability"
	"github.com/oriys/customruntime/pkg/handler"
)

// Worker is one execution slot. It holds at most one binding, resolved
// on first use; local mode clears it after every invocation.
type Worker struct {
	engine  *Engine
	id      int
	binding *handler.Binding
}

// Binding returns the cached binding, if any.
func (w *Worker) Binding() *handler.Binding {
	return w.binding
}

// Run loops over Step until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.Step(ctx); err != nil {
			return err
		}
	}
}

// Step performs one poll-execute-report cycle. It returns an error only
// when ctx is cancelled. Initialization errors go to the fatal policy;
// if the policy returns, the worker stays unbound and keeps polling.
func (w *Worker) Step(ctx context.Context) error {
	e := w.engine
	log := logging.Op().With("worker", w.id)

	inv, err := e.api.Next(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		metrics.RecordPollError("transport")
		log.Warn("poll next invocation failed", "error", err, "backoff", e.cfg.PollBackoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.cfg.PollBackoff):
		}
		return nil
	}

	if !inv.OK() {
		w.rejectPoll(ctx, inv)
		return nil
	}

	coldStart := false
	if w.binding == nil {
		id := e.cfg.HandlerID
		if e.cfg.Local && inv.HandlerHint != "" {
			id = inv.HandlerHint
		}
		b, err := w.resolve(ctx, id)
		if err != nil {
			w.initFailed(ctx, inv, &InitError{HandlerID: id, Err: err})
			return nil
		}
		metrics.RecordResolution(id)
		w.binding = b
		coldStart = true
	}
	if e.cfg.Local {
		defer func() { w.binding = nil }()
	}

	w.execute(ctx, inv, coldStart)
	return nil
}

func (w *Worker) resolve(ctx context.Context, id string) (*handler.Binding, error) {
	_, span := observability.StartSpan(ctx, "resolve "+id,
		observability.AttrHandler.String(id),
		observability.AttrWorker.Int(w.id),
	)
	defer span.End()

	b, err := w.engine.resolver.Resolve(id)
	if err != nil {
		observability.SetSpanError(span, err)
		return nil, err
	}
	return b, nil
}

func (w *Worker) rejectPoll(ctx context.Context, inv *domain.Invocation) {
	metrics.RecordPollError("status")
	err := fmt.Errorf("runtime API returned status %d for next invocation", inv.StatusCode)
	if inv.ID == "" {
		logging.Op().Warn("rejected poll without request id", "worker", w.id, "status", inv.StatusCode)
		return
	}
	ierr := &InvocationError{RequestID: inv.ID, Err: err}
	er := toErrorResponse(ierr, nil)
	er.ErrorType = "Runtime.InvalidInvocation"
	if rerr := w.engine.api.ReportError(ctx, inv.ID, er); rerr != nil {
		logging.Op().Error("report invocation error failed", "request_id", inv.ID, "error", rerr)
	}
}

func (w *Worker) initFailed(ctx context.Context, inv *domain.Invocation, ierr *InitError) {
	e := w.engine
	metrics.RecordInitError(ierr.Reason())
	logging.Op().Error("handler initialization failed", "worker", w.id, "handler", ierr.HandlerID, "error", ierr)

	er := toErrorResponse(ierr, nil)
	var rerr error
	if e.cfg.Local {
		// The emulator has a client waiting on this request id.
		rerr = e.api.ReportError(ctx, inv.ID, er)
	} else {
		rerr = e.api.ReportInitError(ctx, er)
	}
	if rerr != nil {
		logging.Op().Error("report init error failed", "error", rerr)
	}

	w.binding = nil
	e.fail(ierr)
}

func (w *Worker) execute(ctx context.Context, inv *domain.Invocation, coldStart bool) {
	e := w.engine
	b := w.binding
	start := time.Now()

	ctx = observability.FromHeader(inv.Header).Attach(ctx)
	ctx, span := observability.StartConsumerSpan(ctx, "invoke "+b.ID,
		observability.AttrHandler.String(b.ID),
		observability.AttrHandlerKind.String(b.Kind.String()),
		observability.AttrRequestID.String(inv.ID),
		observability.AttrColdStart.Bool(coldStart),
		observability.AttrWorker.Int(w.id),
	)
	defer span.End()

	lc := handler.NewContext(e.cfg.Environment, inv.Header, logging.ForInvocation(b.ID, inv.ID))
	out, err := w.invoke(handler.NewIncomingContext(ctx, lc), lc, inv)

	if err != nil {
		observability.SetSpanError(span, err)
		ierr := err.(*InvocationError)
		er := toErrorResponse(w.transform(ierr.Err), ierr.Stack)
		if ierr.Panic {
			er.ErrorType = ierr.ErrorType()
		}
		logging.Op().Warn("invocation failed", "worker", w.id, "handler", b.ID, "request_id", inv.ID, "error", err)
		if rerr := e.api.ReportError(ctx, inv.ID, er); rerr != nil {
			logging.Op().Error("report invocation error failed", "request_id", inv.ID, "error", rerr)
		}
	} else {
		observability.SetSpanOK(span)
		if rerr := e.api.Respond(ctx, inv.ID, out); rerr != nil {
			logging.Op().Error("report response failed", "request_id", inv.ID, "error", rerr)
		}
	}

	durationMs := time.Since(start).Milliseconds()
	metrics.RecordInvocation(b.ID, b.Kind.String(), durationMs, coldStart, err == nil)

	entry := &logging.RequestLog{
		RequestID:  inv.ID,
		TraceID:    observability.TraceID(ctx),
		Handler:    b.ID,
		Kind:       b.Kind.String(),
		Worker:     w.id,
		DurationMs: durationMs,
		ColdStart:  coldStart,
		Success:    err == nil,
		InputSize:  len(inv.Payload),
		OutputSize: len(out),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	e.requestLogs.Log(entry)
}

// transform applies the error transformer. A nil result or a panic in
// the hook leaves the original error in place.
func (w *Worker) transform(err error) (out error) {
	fn := w.engine.transform
	if fn == nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			logging.Op().Error("error transformer panicked", "worker", w.id, "panic", p)
			out = err
		}
	}()
	if out = fn(err); out == nil {
		return err
	}
	return out
}

// invoke runs the binding, converting errors and panics into an
// *InvocationError.
func (w *Worker) invoke(ctx context.Context, lc *handler.Context, inv *domain.Invocation) (out []byte, err error) {
	defer func() {
		if p := recover(); p != nil {
			out = nil
			err = &InvocationError{
				RequestID: inv.ID,
				Err:       fmt.Errorf("%v", p),
				Panic:     true,
				Stack:     splitStack(debug.Stack()),
			}
		}
	}()

	out, err = w.binding.Invoke(ctx, lc, inv.Payload)
	if err != nil {
		return nil, &InvocationError{RequestID: inv.ID, Err: err}
	}
	return out, nil
}
