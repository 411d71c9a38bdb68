package driver

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestEventWaitConsumesLatchedSet(t *testing.T) {
	var e eventFlag
	e.Set()
	if !e.IsSet() {
		t.Fatal("flag not latched after Set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := e.Wait(ctx); err != nil {
		t.Fatalf("wait on latched flag: %v", err)
	}
	if e.IsSet() {
		t.Fatal("flag still latched after a consuming wait")
	}
}

func TestEventSetWakesAllWaiters(t *testing.T) {
	var e eventFlag

	const waiters = 4
	done := make(chan error, waiters)
	for i := 0; i < waiters; i++ {
		go func() { done <- e.Wait(context.Background()) }()
	}
	waitFor(t, func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.gen != nil
	})

	e.Set()
	for i := 0; i < waiters; i++ {
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("waiter %d: %v", i, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("waiter %d not woken", i)
		}
	}
	if e.IsSet() {
		t.Fatal("flag still latched after waiters consumed it")
	}
}

func TestEventCoalescesBackToBackSets(t *testing.T) {
	var e eventFlag
	e.Set()
	e.Set()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := e.Wait(ctx); err != nil {
		t.Fatalf("first wait: %v", err)
	}

	// The second Set coalesced with the first; a fresh wait must block.
	ctx2, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	if err := e.Wait(ctx2); !errors.Is(err, ErrInterrupted) {
		t.Fatalf("second wait returned %v, want ErrInterrupted timeout", err)
	}
}

func TestEventWaitCancelled(t *testing.T) {
	var e eventFlag
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- e.Wait(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, ErrInterrupted) {
			t.Fatalf("wait error = %v, want ErrInterrupted", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("wait did not observe cancellation")
	}

	// A cancelled waiter must not consume a later event.
	e.Set()
	if !e.IsSet() {
		t.Fatal("event after cancelled wait was lost")
	}
}

func TestEventClearDropsLatch(t *testing.T) {
	var e eventFlag
	e.Set()
	e.Clear()
	if e.IsSet() {
		t.Fatal("flag latched after Clear")
	}
}
