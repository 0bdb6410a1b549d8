package osfiber

import (
	"testing"
	"time"
)

func TestSwitchHandsOffExactlyOnce(t *testing.T) {
	main := CreateFromCurrentThread()

	var order []string
	var worker *Fiber
	worker = Create(func() {
		order = append(order, "worker-start")
		if !Switch(worker, main) {
			return
		}
		order = append(order, "worker-resumed")
		Switch(worker, main)
	})

	order = append(order, "main-switch-1")
	Switch(main, worker)
	order = append(order, "main-back-1")

	order = append(order, "main-switch-2")
	Switch(main, worker)
	order = append(order, "main-back-2")

	want := []string{
		"main-switch-1", "worker-start",
		"main-back-1", "main-switch-2",
		"worker-resumed", "main-back-2",
	}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order[%d] = %q, want %q (full: %v)", i, order[i], want[i], order)
		}
	}
}

func TestRetireNeverStarted(t *testing.T) {
	ran := false
	fib := Create(func() { ran = true })
	Retire(fib)

	time.Sleep(10 * time.Millisecond)
	if ran {
		t.Fatal("retired fiber should never have run its body")
	}
}

func TestRetireParkedMidExecution(t *testing.T) {
	main := CreateFromCurrentThread()
	reachedYield := make(chan struct{})
	returned := make(chan struct{})

	var worker *Fiber
	worker = Create(func() {
		close(reachedYield)
		if !Switch(worker, main) {
			close(returned)
			return
		}
		t.Error("should not have resumed after retire")
	})

	Switch(main, worker)
	<-reachedYield
	// worker has switched back to main already by this point (Switch(main, worker)
	// returns once worker parks on its own Switch call), so it is safe to retire it.
	Retire(worker)

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("retired fiber never unwound")
	}
}
