package emulator

import (
	"sync"
	"time"

	"github.com/oriys/customruntime/internal/metrics"
)

// TimeoutSentinel is the body returned when no worker reports a result
// before the response timeout.
const TimeoutSentinel = "TIMEOUT"

// entry has exactly one writer (the worker reporting the result) and one
// waiter (the public request).
type entry struct {
	mu        sync.Mutex
	result    []byte
	completed bool
	done      chan struct{}
}

func (e *entry) complete(result []byte) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.completed {
		return false
	}
	e.result = result
	e.completed = true
	close(e.done)
	return true
}

func (e *entry) value() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result
}

// correlations maps request ids to their pending entries.
type correlations struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func newCorrelations() *correlations {
	return &correlations{entries: make(map[string]*entry)}
}

func (c *correlations) insert(id string) *entry {
	e := &entry{result: []byte(TimeoutSentinel), done: make(chan struct{})}
	c.mu.Lock()
	c.entries[id] = e
	n := len(c.entries)
	c.mu.Unlock()
	metrics.SetPendingCorrelations(n)
	return e
}

// complete records result for id. Unknown ids and repeated completions
// are ignored.
func (c *correlations) complete(id string, result []byte) bool {
	c.mu.Lock()
	e, ok := c.entries[id]
	c.mu.Unlock()
	if !ok {
		return false
	}
	return e.complete(result)
}

func (c *correlations) remove(id string) {
	c.mu.Lock()
	delete(c.entries, id)
	n := len(c.entries)
	c.mu.Unlock()
	metrics.SetPendingCorrelations(n)
}

// wait blocks until e is completed, timeout elapses or stop is closed,
// then removes the entry. The result is the sentinel unless completed.
func (c *correlations) wait(id string, e *entry, timeout time.Duration, stop <-chan struct{}) (result []byte, completed bool) {
	defer c.remove(id)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-e.done:
		return e.value(), true
	case <-timer.C:
	case <-stop:
	}
	// A completion may have raced the timer.
	select {
	case <-e.done:
		return e.value(), true
	default:
		return []byte(TimeoutSentinel), false
	}
}

func (c *correlations) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
