package fiberpool

import (
	"context"
	"sync"
	"time"
)

// EventMode selects what happens to an Event's signaled flag once a
// waiter observes it.
type EventMode int

const (
	// AutoReset clears the flag for the next waiter as soon as one
	// waiter wakes — only one Wait call per Signal is released.
	AutoReset EventMode = iota
	// ManualReset leaves the flag set until Reset is called explicitly
	// — every current and future Wait call returns immediately.
	ManualReset
)

type eventState struct {
	mu         sync.Mutex
	cv         *ConditionVariable
	mode       EventMode
	signaled   bool
	dependents []func()
}

// Event is a small, cheaply-copyable handle onto shared signaling
// state — copying an Event (by value) shares the same underlying
// state, the same way marl's Event is a thin handle onto a
// reference-counted core; Go's garbage collector retires the state
// once every handle referencing it is gone, so there is no explicit
// release.
type Event struct {
	s *eventState
}

// NewEvent creates a new, unsignaled Event.
func NewEvent(mode EventMode) Event {
	return Event{s: &eventState{cv: NewConditionVariable(), mode: mode}}
}

// Signal sets the event. Under AutoReset this wakes exactly one waiter
// (or leaves the flag set for the next Wait, if none is currently
// waiting); under ManualReset it wakes everyone currently waiting and
// every future Wait returns immediately until Reset.
func (e Event) Signal() {
	e.s.mu.Lock()
	e.s.signaled = true
	if e.s.mode == ManualReset {
		e.s.cv.NotifyAll()
	} else {
		e.s.cv.NotifyOne()
	}
	deps := e.s.dependents
	e.s.mu.Unlock()
	// Run outside the lock: a dependent may itself be another Event's
	// Signal, which takes that event's own (different) lock.
	for _, dep := range deps {
		dep()
	}
}

// addDependent registers f to run on every future Signal of e, in
// addition to whatever Wait calls it wakes. Used by Any to fan every
// source's signal out to the composed event, grounded on marl's Event
// deps list, which every source walks and notifies on each signal()
// call rather than just the first. It reports whether e was already
// signaled at the moment f was registered.
func (e Event) addDependent(f func()) (signaled bool) {
	e.s.mu.Lock()
	e.s.dependents = append(e.s.dependents, f)
	signaled = e.s.signaled
	e.s.mu.Unlock()
	return signaled
}

// Reset clears the event.
func (e Event) Reset() {
	e.s.mu.Lock()
	e.s.signaled = false
	e.s.mu.Unlock()
}

// IsSignaled reports the event's current state without waiting.
func (e Event) IsSignaled() bool {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	return e.s.signaled
}

// Wait blocks until the event is signaled.
func (e Event) Wait() {
	e.s.mu.Lock()
	e.s.cv.Wait(&e.s.mu, func() bool { return e.s.signaled })
	if e.s.mode == AutoReset {
		e.s.signaled = false
	}
	e.s.mu.Unlock()
}

// WaitTimeout is Wait bounded by timeout.
func (e Event) WaitTimeout(timeout time.Duration) bool {
	e.s.mu.Lock()
	defer e.s.mu.Unlock()
	ok := e.s.cv.WaitTimeout(&e.s.mu, func() bool { return e.s.signaled }, timeout)
	if ok && e.s.mode == AutoReset {
		e.s.signaled = false
	}
	return ok
}

// WaitContext is Wait bounded by ctx's deadline/cancellation.
func (e Event) WaitContext(ctx context.Context) error {
	if dl, ok := ctx.Deadline(); ok {
		if e.WaitTimeout(time.Until(dl)) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		return context.DeadlineExceeded
	}
	done := make(chan struct{})
	go func() {
		e.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Any returns a new AutoReset Event that becomes signaled as soon as
// any one of events is signaled — a dependent, fan-out event built the
// way marl's Event::any composes a set of sources into one. Every
// source keeps propagating independently for the lifetime of the
// returned Event: a second Signal of source A after source B already
// fired once re-signals out again, since each source calls out.Signal
// directly from within its own Signal rather than this only sampling
// the first wake-up of a polling Wait loop.
func Any(events ...Event) Event {
	out := NewEvent(AutoReset)
	for _, e := range events {
		if e.addDependent(out.Signal) {
			out.Signal()
		}
	}
	return out
}
