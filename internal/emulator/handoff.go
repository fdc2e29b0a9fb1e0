package emulator

import (
	"context"
	"errors"
	"time"

	"github.com/oriys/customruntime/internal/observability"
)

// ErrCapacityExhausted means no worker took the invocation within the
// enqueue timeout.
var ErrCapacityExhausted = errors.New("no worker available to accept the invocation")

// ErrStopped is returned once the emulator has been stopped.
var ErrStopped = errors.New("emulator stopped")

// pendingInvocation travels from a public request to a polling worker.
type pendingInvocation struct {
	requestID string
	handlerID string
	event     []byte
	trace     observability.TraceContext
	enqueued  time.Time
}

// handoff is a zero-capacity rendezvous between public requests and
// workers: an offer succeeds only when a worker is already waiting.
type handoff struct {
	ch   chan *pendingInvocation
	stop <-chan struct{}
}

func newHandoff(stop <-chan struct{}) *handoff {
	return &handoff{ch: make(chan *pendingInvocation), stop: stop}
}

func (h *handoff) offer(p *pendingInvocation, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case h.ch <- p:
		return nil
	case <-timer.C:
		return ErrCapacityExhausted
	case <-h.stop:
		return ErrStopped
	}
}

func (h *handoff) take(ctx context.Context) (*pendingInvocation, error) {
	select {
	case p := <-h.ch:
		return p, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.stop:
		return nil, ErrStopped
	}
}
