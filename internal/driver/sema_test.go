package driver

import (
	"context"
	"errors"
	"testing"
	"time"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestSemaphoreCountsDowns(t *testing.T) {
	var s semaphore
	s.Reset(2)

	if !s.TryDown() || !s.TryDown() {
		t.Fatal("expected two immediate downs after Reset(2)")
	}
	if s.TryDown() {
		t.Fatal("third down succeeded on an empty semaphore")
	}
	if got := s.Count(); got != 0 {
		t.Errorf("count = %d, want 0", got)
	}
}

func TestSemaphoreDownBlocksUntilUp(t *testing.T) {
	var s semaphore
	done := make(chan error, 1)
	go func() { done <- s.Down(context.Background()) }()

	select {
	case err := <-done:
		t.Fatalf("down returned %v before any up", err)
	case <-time.After(20 * time.Millisecond):
	}

	s.Up()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("down after up: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("down did not resume after up")
	}
	if got := s.Count(); got != 0 {
		t.Errorf("count = %d after handoff, want 0", got)
	}
}

func TestSemaphoreDownCancelled(t *testing.T) {
	var s semaphore
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Down(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, ErrInterrupted) {
			t.Fatalf("down error = %v, want ErrInterrupted", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("down did not observe cancellation")
	}

	// The abandoned waiter must not swallow later releases.
	s.Up()
	if !s.TryDown() {
		t.Fatal("up after cancelled down was lost")
	}
}

func TestSemaphoreResetWakesWaiters(t *testing.T) {
	var s semaphore

	first := make(chan error, 1)
	second := make(chan error, 1)
	go func() { first <- s.Down(context.Background()) }()
	waitFor(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.waiters) == 1
	})
	go func() { second <- s.Down(context.Background()) }()
	waitFor(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.waiters) == 2
	})

	s.Reset(1)

	select {
	case err := <-first:
		if err != nil {
			t.Fatalf("first down: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reset did not wake the oldest waiter")
	}
	select {
	case err := <-second:
		t.Fatalf("second down returned %v with a count of one", err)
	case <-time.After(20 * time.Millisecond):
	}

	s.Up()
	if err := <-second; err != nil {
		t.Fatalf("second down after up: %v", err)
	}
	if got := s.Count(); got != 0 {
		t.Errorf("count = %d, want 0", got)
	}
}
