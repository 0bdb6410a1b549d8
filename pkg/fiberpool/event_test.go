package fiberpool

import (
	"context"
	"testing"
	"time"
)

func TestEventAutoResetReleasesOneWaiterAtATime(t *testing.T) {
	e := NewEvent(AutoReset)
	done1 := make(chan struct{})
	done2 := make(chan struct{})
	go func() { e.Wait(); close(done1) }()
	go func() { e.Wait(); close(done2) }()

	time.Sleep(10 * time.Millisecond)
	e.Signal()
	select {
	case <-done1:
	case <-time.After(time.Second):
		t.Fatal("first waiter never woke")
	}

	select {
	case <-done2:
		t.Fatal("second waiter should not have woken from a single AutoReset signal")
	case <-time.After(30 * time.Millisecond):
	}

	e.Signal()
	select {
	case <-done2:
	case <-time.After(time.Second):
		t.Fatal("second waiter never woke after second signal")
	}
}

func TestEventManualResetReleasesEveryWaiter(t *testing.T) {
	e := NewEvent(ManualReset)
	const n = 10
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		go func() { e.Wait(); done <- struct{}{} }()
	}
	time.Sleep(10 * time.Millisecond)
	e.Signal()
	for i := 0; i < n; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("waiter %d never woke", i)
		}
	}
	if !e.IsSignaled() {
		t.Fatal("ManualReset event should remain signaled")
	}
}

func TestEventAnyFansInFirstSignal(t *testing.T) {
	a := NewEvent(ManualReset)
	b := NewEvent(ManualReset)
	c := NewEvent(ManualReset)
	any := Any(a, b, c)

	time.Sleep(5 * time.Millisecond)
	b.Signal()

	if !any.WaitTimeout(time.Second) {
		t.Fatal("Any event should have fired once one source signaled")
	}
}

func TestEventAnyPropagatesEverySignalFromEverySource(t *testing.T) {
	e1 := NewEvent(AutoReset)
	e2 := NewEvent(AutoReset)
	any := Any(e1, e2)

	e2.Signal()
	if !any.WaitTimeout(time.Second) {
		t.Fatal("Any should have fired after e2's first signal")
	}

	e1.Signal()
	if !any.WaitTimeout(time.Second) {
		t.Fatal("Any should fire again after e1 signals, even though e2 signaled first")
	}

	e2.Signal()
	if !any.WaitTimeout(time.Second) {
		t.Fatal("Any should fire a third time after e2 signals again")
	}
}

func TestEventWaitContextDeadline(t *testing.T) {
	e := NewEvent(AutoReset)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := e.WaitContext(ctx); err == nil {
		t.Fatal("expected WaitContext to report a deadline error")
	}
}
