package fiberpool

import (
	"sync"
	"time"
)

// ConditionVariable behaves like a classic condition variable used
// with an external lock, except its waiters may be fibers (suspended
// without blocking their Worker) or plain goroutines (blocked the
// ordinary way) — whichever is waiting, Wait/WaitTimeout re-check the
// predicate under lock after every wake-up so a Notify racing the wait
// can never be lost.
type ConditionVariable struct {
	mu           sync.Mutex
	fiberWaiters []*Fiber
	goWaiters    []chan struct{}
}

// NewConditionVariable returns a ready-to-use ConditionVariable.
func NewConditionVariable() *ConditionVariable {
	return &ConditionVariable{}
}

// Wait releases lock, waits until NotifyOne/NotifyAll wakes this
// waiter and predicate holds, then reacquires lock. predicate is
// evaluated with lock held.
func (c *ConditionVariable) Wait(lock *sync.Mutex, predicate func() bool) {
	for !predicate() {
		if f := CurrentFiber(); f != nil {
			c.mu.Lock()
			c.fiberWaiters = append(c.fiberWaiters, f)
			c.mu.Unlock()
			// lock stays held across registration and is only released
			// by SuspendLocked itself, once this fiber is parked under
			// its Worker's own lock — see suspendCurrentExternal.
			SuspendLocked(lock, nil)
		} else {
			ch := make(chan struct{})
			c.mu.Lock()
			c.goWaiters = append(c.goWaiters, ch)
			c.mu.Unlock()
			lock.Unlock()
			<-ch
			lock.Lock()
		}
	}
}

// WaitTimeout is Wait bounded by timeout; it reports whether predicate
// held by the time it returned (false means the timeout elapsed with
// predicate still false).
func (c *ConditionVariable) WaitTimeout(lock *sync.Mutex, predicate func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for !predicate() {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		if f := CurrentFiber(); f != nil {
			c.mu.Lock()
			c.fiberWaiters = append(c.fiberWaiters, f)
			c.mu.Unlock()
			d := deadline
			woken := SuspendLocked(lock, &d)
			if !woken {
				c.removeFiberWaiter(f)
				return false
			}
		} else {
			ch := make(chan struct{})
			c.mu.Lock()
			c.goWaiters = append(c.goWaiters, ch)
			c.mu.Unlock()
			lock.Unlock()
			timer := time.NewTimer(remaining)
			select {
			case <-ch:
				timer.Stop()
				lock.Lock()
			case <-timer.C:
				lock.Lock()
				c.removeGoWaiter(ch)
				return false
			}
		}
	}
	return true
}

// NotifyOne wakes at most one waiter, preferring a parked fiber over a
// blocked goroutine since waking a fiber is cheaper (no OS scheduler
// round trip).
func (c *ConditionVariable) NotifyOne() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.fiberWaiters) > 0 {
		f := c.fiberWaiters[0]
		c.fiberWaiters = c.fiberWaiters[1:]
		f.Wake()
		return
	}
	if len(c.goWaiters) > 0 {
		ch := c.goWaiters[0]
		c.goWaiters = c.goWaiters[1:]
		close(ch)
	}
}

// NotifyAll wakes every current waiter.
func (c *ConditionVariable) NotifyAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range c.fiberWaiters {
		f.Wake()
	}
	c.fiberWaiters = nil
	for _, ch := range c.goWaiters {
		close(ch)
	}
	c.goWaiters = nil
}

func (c *ConditionVariable) removeFiberWaiter(f *Fiber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, x := range c.fiberWaiters {
		if x == f {
			c.fiberWaiters = append(c.fiberWaiters[:i], c.fiberWaiters[i+1:]...)
			return
		}
	}
}

func (c *ConditionVariable) removeGoWaiter(ch chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, x := range c.goWaiters {
		if x == ch {
			c.goWaiters = append(c.goWaiters[:i], c.goWaiters[i+1:]...)
			return
		}
	}
}
