package fiberpool

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/recera/fiberpool/internal/gls"
	"github.com/recera/fiberpool/internal/osfiber"
)

// workerKey is the gls key a fiber's goroutine records its owning
// Worker under, alongside its own fiberKey identity.
type workerKeyT struct{}

var workerKey workerKeyT

// Mode selects how a Worker drains its queues.
type Mode int

const (
	// ModeMultiThreaded runs its own goroutine that blocks (spins, then
	// parks) when there is nothing to do.
	ModeMultiThreaded Mode = iota
	// ModeSingleThreaded has no goroutine of its own; work only drains
	// when the binding application goroutine calls Unbind (which runs
	// Worker.flush) or yields into the scheduler.
	ModeSingleThreaded
)


// broadcaster is a wait/notify point with an optional deadline, built on
// a channel that is closed and replaced on every broadcast — the usual
// Go stand-in for a condition_variable that also needs wait_until,
// which sync.Cond does not support.
type broadcaster struct {
	ch chan struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{ch: make(chan struct{})}
}

// broadcast must be called with the associated mutex held.
func (b *broadcaster) broadcast() {
	close(b.ch)
	b.ch = make(chan struct{})
}

// wait releases mu, blocks until the next broadcast, then reacquires mu.
func (b *broadcaster) wait(mu *sync.Mutex) {
	ch := b.ch
	mu.Unlock()
	<-ch
	mu.Lock()
}

// waitUntil is wait with a deadline.
func (b *broadcaster) waitUntil(mu *sync.Mutex, deadline time.Time) {
	ch := b.ch
	mu.Unlock()
	d := time.Until(deadline)
	if d <= 0 {
		mu.Lock()
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ch:
	case <-timer.C:
	}
	mu.Lock()
}

// work holds everything guarded by a Worker's single mutex: its two
// FIFOs, its timed-wait set, and the wake point Workers block on when
// idle. Named and shaped after marl's Worker::Work.
type work struct {
	mu      sync.Mutex
	tasks   []Task
	fibers  []*Fiber
	waiting *waitingFibers
	num     atomic.Int64 // len(tasks)+len(fibers), read lock-free for spin checks
	wake    *broadcaster
}

// WorkerStats are cumulative counters for a single Worker, exposed
// through Scheduler.Snapshot for introspection and the dashboard.
type WorkerStats struct {
	TasksRun        atomic.Uint64
	FibersCreated   atomic.Uint64
	StealsAttempted atomic.Uint64
	StealsSucceeded atomic.Uint64
}

// Worker drains a shared task/fiber FIFO, switching between fibers via
// internal/osfiber whenever one suspends instead of blocking its
// goroutine outright.
type Worker struct {
	id        int
	mode      Mode
	scheduler *Scheduler

	mainFiber *Fiber

	// mu-adjacent fiber bookkeeping; all guarded by work.mu.
	ownedFibers  []*Fiber
	idleFibers   map[*Fiber]struct{}
	nextFiberID  uint64
	currentFiber *Fiber
	blockedCount int

	work work
	rng  fastRnd
	Stats WorkerStats

	shuttingDown atomic.Bool
	done         chan struct{} // closed once this Worker's goroutine (if any) has returned
}

func newWorker(id int, mode Mode, sched *Scheduler) *Worker {
	w := &Worker{
		id:        id,
		mode:      mode,
		scheduler: sched,
		idleFibers: make(map[*Fiber]struct{}),
		rng:       newFastRnd(uint64(id)*2654435761 + 1),
		done:      make(chan struct{}),
	}
	w.work.waiting = newWaitingFibers()
	w.work.wake = newBroadcaster()
	w.mainFiber = &Fiber{id: 0, owner: w, impl: osfiber.CreateFromCurrentThread(), state: StateRunning}
	w.ownedFibers = append(w.ownedFibers, w.mainFiber)
	w.currentFiber = w.mainFiber
	return w
}

// ID returns the Worker's index within its Scheduler.
func (w *Worker) ID() int { return w.id }

// start launches the Worker's own goroutine (ModeMultiThreaded only);
// it becomes the driver of mainFiber.
func (w *Worker) start(threadInit func(workerID int)) {
	if w.mode != ModeMultiThreaded {
		close(w.done)
		return
	}
	go func() {
		if threadInit != nil {
			threadInit(w.id)
		}
		gls.Set(fiberKey, w.mainFiber)
		gls.Set(workerKey, w)
		w.runLoop(w.mainFiber)
		gls.Clear()
		close(w.done)
	}()
}

// stop requests shutdown and blocks until the Worker's goroutine (if
// any) has fully drained and returned.
func (w *Worker) stop() {
	w.shuttingDown.Store(true)
	w.work.mu.Lock()
	w.work.wake.broadcast()
	w.work.mu.Unlock()
	if w.mode == ModeMultiThreaded {
		<-w.done
	}
	w.work.mu.Lock()
	for fib := range w.idleFibers {
		delete(w.idleFibers, fib)
		osfiber.Retire(fib.impl)
	}
	w.work.mu.Unlock()
}

func (w *Worker) blockedFiberCountLocked() int { return w.blockedCount }

// stealTask removes and returns a task from the tail of this Worker's
// task FIFO, if any, for a sibling Worker to run. Taking from the tail
// (rather than the front, which the owner itself drains from) keeps
// owner and thief contending on opposite ends of the slice.
func (w *Worker) stealTask() (Task, bool) {
	w.work.mu.Lock()
	defer w.work.mu.Unlock()
	n := len(w.work.tasks)
	if n == 0 {
		return nil, false
	}
	task := w.work.tasks[n-1]
	w.work.tasks = w.work.tasks[:n-1]
	w.work.num.Add(-1)
	return task, true
}

// enqueueTask appends a task to the FIFO and wakes the Worker if idle.
func (w *Worker) enqueueTask(t Task) {
	w.work.mu.Lock()
	w.work.tasks = append(w.work.tasks, t)
	w.work.num.Add(1)
	w.work.wake.broadcast()
	w.work.mu.Unlock()
}

// enqueueFiber transitions a suspended fiber to Queued and wakes the
// Worker if idle. Safe from any goroutine.
func (w *Worker) enqueueFiber(fib *Fiber) {
	w.work.mu.Lock()
	w.enqueueFiberLocked(fib, false)
	w.work.mu.Unlock()
}

// enqueueFiberLocked must be a no-op if fib is already Running or
// Queued: a primitive registers the current fiber on its own waiter
// list before releasing its lock and calling Suspend, so a concurrent
// Notify/Wake can observe the fiber still StateRunning (it hasn't
// reached Suspend yet) or already StateQueued (a previous Notify/Wake
// already requeued it, e.g. a racing timeout and an explicit wake).
// Requeuing it a second time would let the same fiber appear twice in
// the run queue and hand it to osfiber.Switch while its own goroutine
// is independently mid-suspend — grounded on marl's
// Scheduler::Worker::enqueue, which returns immediately in exactly
// this case.
func (w *Worker) enqueueFiberLocked(fib *Fiber, timedOut bool) {
	switch fib.state {
	case StateRunning, StateQueued:
		return
	}
	if fib.state == StateWaiting {
		w.work.waiting.erase(fib)
	}
	if fib.state == StateWaiting || fib.state == StateYielded {
		w.blockedCount--
	}
	fib.timedOut = timedOut
	fib.state = StateQueued
	w.work.fibers = append(w.work.fibers, fib)
	w.work.num.Add(1)
	w.work.wake.broadcast()
}

func (w *Worker) drainExpiredLocked() {
	for _, fib := range w.work.waiting.take(time.Now()) {
		w.enqueueFiberLocked(fib, true)
	}
}

// pickNextLocked returns the next fiber to run: a queued one first
// (FIFO order, spec.md's L1), else a spare idle one, else a freshly
// created one.
func (w *Worker) pickNextLocked() *Fiber {
	if len(w.work.fibers) > 0 {
		fib := w.work.fibers[0]
		w.work.fibers = w.work.fibers[1:]
		w.work.num.Add(-1)
		fib.state = StateRunning
		return fib
	}
	for fib := range w.idleFibers {
		delete(w.idleFibers, fib)
		fib.state = StateRunning
		return fib
	}
	return w.newFiberLocked()
}

func (w *Worker) newFiberLocked() *Fiber {
	w.nextFiberID++
	fib := &Fiber{id: w.nextFiberID, owner: w, state: StateRunning}
	fib.impl = osfiber.Create(func() {
		gls.Set(fiberKey, fib)
		gls.Set(workerKey, w)
		w.runLoop(fib)
		gls.Clear()
	})
	w.ownedFibers = append(w.ownedFibers, fib)
	w.Stats.FibersCreated.Add(1)
	return fib
}

// suspendCurrent parks a running fiber that is waiting; it backs
// Suspend. SuspendLocked goes through suspendCurrentExternal instead,
// and runUntilIdleLocked's fiber-draining step parks the current fiber
// as idle through yieldIdleLocked.
func (w *Worker) suspendCurrent(self *Fiber, deadline *time.Time) bool {
	w.work.mu.Lock()
	return w.suspendLocked(self, deadline)
}

// suspendCurrentExternal is suspendCurrent for a caller that is itself
// holding an external lock guarding the condition being waited on
// (every ConditionVariable.Wait call). It acquires work.mu before
// releasing that external lock, so a concurrent Notify/Wake — which
// must take work.mu to requeue this fiber via enqueueFiberLocked — can
// never land in the gap between "no longer holding the external lock"
// and "actually off the Running state": that gap is exactly what would
// let enqueueFiberLocked's Running/Queued guard silently drop a wake
// that arrives too early. Grounded on marl's Scheduler::Worker::wait
// (scheduler.cpp), whose own comment calls out the identical ordering
// requirement: work.mutex must be locked before the caller's wait lock
// is unlocked, otherwise a racing Fiber::notify() may be ignored.
func (w *Worker) suspendCurrentExternal(self *Fiber, lock *sync.Mutex, deadline *time.Time) bool {
	w.work.mu.Lock()
	lock.Unlock()
	resumed := w.suspendLocked(self, deadline)
	lock.Lock()
	return resumed
}

// suspendLocked requires work.mu held on entry and returns with it
// unlocked; it parks self, switches to whatever runs next, and resumes
// once self is rescheduled.
func (w *Worker) suspendLocked(self *Fiber, deadline *time.Time) bool {
	self.state = StateYielded
	self.timedOut = false
	if deadline != nil {
		self.state = StateWaiting
		w.work.waiting.add(*deadline, self)
	}
	w.blockedCount++
	next := w.pickNextLocked()
	w.currentFiber = next
	w.work.mu.Unlock()

	osfiber.Switch(self.impl, next.impl)

	w.work.mu.Lock()
	w.currentFiber = self
	timedOut := self.timedOut
	self.state = StateRunning
	w.work.mu.Unlock()
	return !timedOut
}

// yieldIdleLocked parks self as a spare, reusable fiber and switches to
// next (already popped from the fiber FIFO by the caller). Unlike
// suspendCurrent, a fiber parked here may be Retire-d during shutdown
// rather than ever resumed again, which is reported back to the caller.
func (w *Worker) yieldIdleLocked(self *Fiber, next *Fiber) (resumed bool) {
	self.state = StateIdle
	w.idleFibers[self] = struct{}{}
	w.currentFiber = next
	w.work.mu.Unlock()

	resumed = osfiber.Switch(self.impl, next.impl)

	w.work.mu.Lock()
	if resumed {
		w.currentFiber = self
		self.state = StateRunning
	}
	return resumed
}

// runUntilIdleLocked drains both FIFOs until empty, executing tasks
// inline and switching into dequeued fibers directly. Requires work.mu
// held on entry; returns with it held. It returns false if self was
// retired mid-drain (shutdown reclaiming a spare fiber).
func (w *Worker) runUntilIdleLocked(self *Fiber) bool {
	for len(w.work.fibers) > 0 || len(w.work.tasks) > 0 {
		for len(w.work.fibers) > 0 {
			next := w.pickNextLocked()
			if !w.yieldIdleLocked(self, next) {
				return false
			}
		}
		if len(w.work.tasks) > 0 {
			task := w.work.tasks[0]
			w.work.tasks = w.work.tasks[1:]
			w.work.num.Add(-1)
			w.work.mu.Unlock()
			runTaskSafely(task)
			w.Stats.TasksRun.Add(1)
			w.work.mu.Lock()
		}
	}
	return true
}

func runTaskSafely(t Task) {
	defer func() {
		if r := recover(); r != nil {
			tracef("fiberpool: task panicked: %v", r)
		}
	}()
	t()
}

// spinForWork busy-polls work.num for a short budget before a
// MultiThreaded Worker parks on its wake broadcaster, grounded on
// marl's spinForWork (1ms total, 256-iteration bursts by default —
// tunable per-Scheduler via Tuning.SpinBudget/SpinBurst).
func (w *Worker) spinForWork() {
	tuning := w.scheduler.getTuning()
	deadline := time.Now().Add(tuning.SpinBudget)
	for time.Now().Before(deadline) {
		for i := 0; i < tuning.SpinBurst; i++ {
			if w.work.num.Load() > 0 {
				return
			}
		}
		runtime.Gosched()
	}
}

// waitForWorkLocked is the MultiThreaded idle path: spin briefly, try
// to steal from a sibling Worker, then park until woken or until the
// earliest timed wait expires.
func (w *Worker) waitForWorkLocked() {
	if w.work.num.Load() > 0 {
		w.drainExpiredLocked()
		return
	}
	if w.mode == ModeMultiThreaded {
		w.scheduler.onBeginSpinning(w.id)
		w.work.mu.Unlock()
		w.spinForWork()
		w.work.mu.Lock()
		if w.work.num.Load() > 0 {
			w.drainExpiredLocked()
			return
		}
		w.Stats.StealsAttempted.Add(1)
		w.work.mu.Unlock()
		task, stolen := w.scheduler.stealWork(w.id)
		w.work.mu.Lock()
		if stolen {
			w.Stats.StealsSucceeded.Add(1)
			w.work.tasks = append(w.work.tasks, task)
			w.work.num.Add(1)
			w.drainExpiredLocked()
			return
		}
	}
	if deadline, ok := w.work.waiting.next(); ok {
		w.work.wake.waitUntil(&w.work.mu, deadline)
	} else if w.work.num.Load() == 0 {
		w.work.wake.wait(&w.work.mu)
	}
	w.drainExpiredLocked()
}

// runLoop is the body every fiber owned by this Worker executes —
// mainFiber directly on the Worker's own goroutine, every other fiber
// on one spawned by internal/osfiber.Create. Control passes between
// them purely by picking the next runnable fiber; there is no
// caller/callee relationship to unwind.
func (w *Worker) runLoop(self *Fiber) {
	w.work.mu.Lock()
	for {
		shutdownComplete := w.shuttingDown.Load() && w.work.num.Load() == 0 && w.blockedCount == 0
		if shutdownComplete {
			break
		}
		w.waitForWorkLocked()
		if !w.runUntilIdleLocked(self) {
			// self was retired mid-drain; its goroutine is done.
			w.work.mu.Unlock()
			return
		}
	}
	w.work.mu.Unlock()
	if self != w.mainFiber {
		// Hand control back to mainFiber (it is parked somewhere inside
		// its own suspend/yield call) so its goroutine gets to notice
		// shutdown is complete and return. self never runs again.
		osfiber.Handoff(w.mainFiber.impl)
	}
}

// flush drains whatever is currently queued without blocking for more —
// the ModeSingleThreaded counterpart to the MultiThreaded loop, run
// synchronously on the binding application goroutine.
func (w *Worker) flush() {
	w.work.mu.Lock()
	w.drainExpiredLocked()
	w.runUntilIdleLocked(w.mainFiber)
	w.work.mu.Unlock()
}
