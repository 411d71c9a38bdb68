package driver

import (
	"context"
	"sync"
)

// semaphore is the counting primitive released from interrupt context and
// consumed from process context. Up never blocks; Down blocks until a unit
// is available or the context is cancelled. The count is never observed
// negative.
type semaphore struct {
	mu      sync.Mutex
	count   uint32
	waiters []chan struct{}
}

// Reset reinitializes the count. Waiters already blocked consume the new
// count immediately, oldest first.
func (s *semaphore) Reset(n uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count = n
	for s.count > 0 && len(s.waiters) > 0 {
		w := s.waiters[0]
		s.waiters = s.waiters[1:]
		close(w)
		s.count--
	}
}

// Up releases one unit: hands it to the oldest waiter if any, otherwise
// increments the count. Safe from interrupt context.
func (s *semaphore) Up() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.waiters) > 0 {
		w := s.waiters[0]
		s.waiters = s.waiters[1:]
		close(w)
		return
	}
	s.count++
}

// TryDown consumes a unit without blocking.
func (s *semaphore) TryDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == 0 {
		return false
	}
	s.count--
	return true
}

// Down blocks until a unit is available. Cancellation returns
// ErrInterrupted unless the unit was already granted.
func (s *semaphore) Down(ctx context.Context) error {
	s.mu.Lock()
	if s.count > 0 {
		s.count--
		s.mu.Unlock()
		return nil
	}
	w := make(chan struct{})
	s.waiters = append(s.waiters, w)
	s.mu.Unlock()

	select {
	case <-w:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		for i, q := range s.waiters {
			if q == w {
				s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
				s.mu.Unlock()
				return ErrInterrupted
			}
		}
		s.mu.Unlock()
		// Up raced the cancellation and already granted our unit.
		return nil
	}
}

// Count returns the current count.
func (s *semaphore) Count() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}
