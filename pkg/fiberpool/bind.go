package fiberpool

import "github.com/recera/fiberpool/internal/gls"

// schedulerKeyT is the gls key a bound goroutine's Scheduler is stored
// under.
type schedulerKeyT struct{}

var schedulerKey schedulerKeyT

// Bind associates the calling goroutine with s, creating a dedicated
// ModeSingleThreaded Worker for it so plain application goroutines can
// use this package's synchronization primitives (Suspend, ConditionVariable,
// Event, ...) without needing to already be running inside a
// MultiThreaded Worker's fiber.
//
// Returns ErrAlreadyBound if the calling goroutine is already bound to
// a Scheduler (the same one or a different one).
func Bind(s *Scheduler) error {
	if gls.Get(schedulerKey) != nil {
		return ErrAlreadyBound
	}
	w := newWorker(-1, ModeSingleThreaded, s)
	gls.Set(schedulerKey, s)
	gls.Set(fiberKey, w.mainFiber)
	gls.Set(workerKey, w)
	return nil
}

// Unbind flushes the calling goroutine's bound single-threaded Worker
// and clears the binding. Returns ErrNotBound if not currently bound,
// or ErrWrongScheduler if bound to a different Scheduler.
func Unbind(s *Scheduler) error {
	bound, _ := gls.Get(schedulerKey).(*Scheduler)
	if bound == nil {
		return ErrNotBound
	}
	if bound != s {
		return ErrWrongScheduler
	}
	w, _ := gls.Get(workerKey).(*Worker)
	if w != nil {
		w.flush()
	}
	gls.Clear()
	return nil
}

// Get returns the Scheduler the calling goroutine is currently bound
// to, or nil.
func Get() *Scheduler {
	s, _ := gls.Get(schedulerKey).(*Scheduler)
	return s
}
