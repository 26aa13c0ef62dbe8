package concurrent

import "sync/atomic"

// AtomicCounter abstracts a shared 64-bit counter that may live in external
// shared memory (counters file, metrics registry, plain process memory). The
// consensus module only relies on atomicity of CompareAndSet; it never assumes
// a particular storage medium.
type AtomicCounter interface {
	Get() int64
	Set(v int64)
	CompareAndSet(expected, update int64) bool
	Increment() int64
}

// Counter is the in-process AtomicCounter used by default.
type Counter struct {
	v atomic.Int64
}

func NewCounter() *Counter { return &Counter{} }

func (c *Counter) Get() int64      { return c.v.Load() }
func (c *Counter) Set(v int64)     { c.v.Store(v) }
func (c *Counter) Increment() int64 { return c.v.Add(1) }

func (c *Counter) CompareAndSet(expected, update int64) bool {
	return c.v.CompareAndSwap(expected, update)
}

var _ AtomicCounter = (*Counter)(nil)

// ErrorHandler receives recovered faults that should not stop the caller.
type ErrorHandler func(err error)

// CountedErrorHandler couples an ErrorHandler with an error counter so every
// recorded fault is both counted and delegated.
type CountedErrorHandler struct {
	handler ErrorHandler
	counter AtomicCounter
}

func NewCountedErrorHandler(handler ErrorHandler, counter AtomicCounter) *CountedErrorHandler {
	if counter == nil {
		counter = NewCounter()
	}
	return &CountedErrorHandler{handler: handler, counter: counter}
}

// OnError increments the error counter and delegates to the wrapped handler.
func (h *CountedErrorHandler) OnError(err error) {
	if err == nil {
		return
	}
	h.counter.Increment()
	if h.handler != nil {
		h.handler(err)
	}
}

// ErrorCount returns the number of faults recorded so far.
func (h *CountedErrorHandler) ErrorCount() int64 { return h.counter.Get() }
