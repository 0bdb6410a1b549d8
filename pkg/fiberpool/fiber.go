package fiberpool

import (
	"sync"
	"time"

	"github.com/recera/fiberpool/internal/gls"
	"github.com/recera/fiberpool/internal/osfiber"
)

// fiberKey is the gls key under which a fiber's own goroutine records
// its identity once, the first time it runs.
type fiberKeyT struct{}

var fiberKey fiberKeyT

// Fiber is a unit of cooperative execution owned by exactly one Worker
// for its whole life (spec.md §3's resume-affinity invariant: a fiber
// only ever runs on the Worker's goroutine(s) that created it).
type Fiber struct {
	id    uint64
	owner *Worker
	impl  *osfiber.Fiber

	// state is only ever read or written while owner.work.mu is held.
	state State
	// timedOut records whether the most recent wake-up out of
	// StateWaiting was due to deadline expiry rather than an explicit
	// Wake; also guarded by owner.work.mu.
	timedOut bool
}

// ID returns the fiber's identifier, unique within its owning Worker.
// The Worker's own driving fiber always has ID 0.
func (f *Fiber) ID() uint64 { return f.id }

// Owner returns the Worker this fiber is permanently bound to.
func (f *Fiber) Owner() *Worker { return f.owner }

// State returns the fiber's current bookkeeping state.
func (f *Fiber) State() State {
	f.owner.work.mu.Lock()
	defer f.owner.work.mu.Unlock()
	return f.state
}

// CurrentFiber returns the Fiber hosting the calling goroutine, or nil
// if the calling goroutine is not running as part of any fiberpool
// Worker.
func CurrentFiber() *Fiber {
	v := gls.Get(fiberKey)
	if v == nil {
		return nil
	}
	return v.(*Fiber)
}

// Suspend parks the calling fiber on its owning Worker until some other
// fiber or goroutine calls Wake on it, or — if deadline is non-nil —
// until the deadline passes. It reports false when the deadline elapsed
// first.
//
// Suspend itself knows nothing about why the caller is waiting; a
// caller registers the current fiber onto its own waiter list before
// calling Suspend and re-checks its own condition in a loop after
// Suspend returns. The synchronization primitives in this package
// (Event, WaitGroup, Ticket, Pool) all wait through ConditionVariable,
// which uses SuspendLocked rather than Suspend.
func Suspend(deadline *time.Time) bool {
	f := CurrentFiber()
	if f == nil {
		panic("fiberpool: Suspend called outside of a fiber")
	}
	return f.owner.suspendCurrent(f, deadline)
}

// SuspendLocked is Suspend for a caller that is holding an external
// lock guarding the condition it is about to wait on (every
// ConditionVariable.Wait/WaitTimeout call on the fiber path). lock is
// released only once the fiber is safely parked under its Worker's own
// internal lock, and is reacquired before SuspendLocked returns — the
// same discipline as the plain register-then-Unlock-then-Suspend
// pattern, except with no gap between releasing lock and the fiber
// actually leaving StateRunning, so a concurrent Wake can never be
// dropped by enqueueFiberLocked's Running/Queued guard.
func SuspendLocked(lock *sync.Mutex, deadline *time.Time) bool {
	f := CurrentFiber()
	if f == nil {
		panic("fiberpool: SuspendLocked called outside of a fiber")
	}
	return f.owner.suspendCurrentExternal(f, lock, deadline)
}

// Wake makes a fiber parked in Suspend runnable again on its owning
// Worker. Safe to call from any goroutine, fiber or not.
func (f *Fiber) Wake() {
	f.owner.enqueueFiber(f)
}
