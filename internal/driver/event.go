package driver

import (
	"context"
	"sync"
)

// eventFlag is a single-bit latch set from interrupt context and cleared by
// the waking process-context caller. A second Set before the first is
// consumed coalesces with it: at most one outstanding event is represented.
// That can starve a waiter that arrives between two back-to-back signals;
// the behavior is kept deliberately (single-outstanding-event protocol).
type eventFlag struct {
	mu  sync.Mutex
	set bool
	gen chan struct{} // closed on Set to wake every pending waiter
}

// Set latches the event and wakes all pending waiters. Safe from interrupt
// context; never blocks.
func (e *eventFlag) Set() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.set = true
	if e.gen != nil {
		close(e.gen)
		e.gen = nil
	}
}

// Clear drops any latched event without waking anyone.
func (e *eventFlag) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.set = false
}

// IsSet reports whether an event is latched.
func (e *eventFlag) IsSet() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.set
}

// Wait blocks until the event is set, then clears it. Cancellation returns
// ErrInterrupted.
func (e *eventFlag) Wait(ctx context.Context) error {
	e.mu.Lock()
	if e.set {
		e.set = false
		e.mu.Unlock()
		return nil
	}
	if e.gen == nil {
		e.gen = make(chan struct{})
	}
	ch := e.gen
	e.mu.Unlock()

	select {
	case <-ch:
		e.mu.Lock()
		e.set = false
		e.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ErrInterrupted
	}
}
