package fiberpool

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Tuning holds the runtime-tunable knobs a Scheduler's Workers and
// pools consult: how long and how often a Worker spins for new work
// before parking, how many sibling Workers an idle Worker probes when
// stealing, and the chunk size an UnboundedPool grows by. A zero
// Tuning is equivalent to the package defaults — only fields set above
// zero override them, the same convention internal/config's
// applyDefaults uses for a partially-specified fiberpool.yaml.
type Tuning struct {
	// SpinBudget is the total wall-clock time a Worker spends polling
	// for work before it parks and waits to be woken.
	SpinBudget time.Duration
	// SpinBurst is how many no-op iterations a Worker runs per
	// polling burst within SpinBudget.
	SpinBurst int
	// StealFanout caps how many sibling Workers an idle Worker probes
	// in one steal attempt.
	StealFanout int
	// UnboundedChunk is the default chunk size NewUnboundedPoolFromScheduler
	// grows an UnboundedPool by.
	UnboundedChunk int
}

// Defaults grounded on marl's Scheduler::Worker::spinForWork (1ms
// total budget, 256-iteration bursts).
const (
	defaultSpinBudget     = time.Millisecond
	defaultSpinBurst      = 256
	defaultStealFanout    = 4
	defaultUnboundedChunk = 32
)

func defaultTuning() Tuning {
	return Tuning{
		SpinBudget:     defaultSpinBudget,
		SpinBurst:      defaultSpinBurst,
		StealFanout:    defaultStealFanout,
		UnboundedChunk: defaultUnboundedChunk,
	}
}

func (t Tuning) withDefaults() Tuning {
	if t.SpinBudget <= 0 {
		t.SpinBudget = defaultSpinBudget
	}
	if t.SpinBurst <= 0 {
		t.SpinBurst = defaultSpinBurst
	}
	if t.StealFanout <= 0 {
		t.StealFanout = defaultStealFanout
	}
	if t.UnboundedChunk <= 0 {
		t.UnboundedChunk = defaultUnboundedChunk
	}
	return t
}

// Scheduler owns a fixed pool of Workers and routes tasks to them. It
// is the top-level entry point: create one, optionally tune it, start
// submitting work.
type Scheduler struct {
	mu      sync.RWMutex
	workers []*Worker

	threadInit func(workerID int)

	nextWorker    atomic.Uint64
	spinningMu    sync.Mutex
	spinningRing  []int // most-recently-spinning workers, front = most recent
	spinningRingN int

	tuning atomic.Pointer[Tuning]

	closed atomic.Bool
}

// NewScheduler creates a Scheduler with the given number of
// MultiThreaded Workers (minimum 1) and starts them immediately, using
// the default Tuning.
func NewScheduler(numWorkers int) *Scheduler {
	return NewSchedulerWithConfig(numWorkers, Tuning{})
}

// NewSchedulerWithConfig is NewScheduler with explicit Tuning; zero
// fields in tuning fall back to the package defaults.
func NewSchedulerWithConfig(numWorkers int, tuning Tuning) *Scheduler {
	if numWorkers < 1 {
		numWorkers = 1
	}
	s := &Scheduler{}
	s.SetTuning(tuning)
	s.SetWorkerThreadCount(numWorkers)
	return s
}

// SetTuning updates the knobs new and already-running Workers consult
// (spin budget/burst, steal fanout) without needing to rebuild the
// Scheduler — used by cmd/fiberpool's --watch config reload.
func (s *Scheduler) SetTuning(t Tuning) {
	t = t.withDefaults()
	s.tuning.Store(&t)
}

func (s *Scheduler) getTuning() Tuning {
	if t := s.tuning.Load(); t != nil {
		return *t
	}
	return defaultTuning()
}

// WorkerThreadCount returns the current number of MultiThreaded Workers.
func (s *Scheduler) WorkerThreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.workers)
}

// SetThreadInitializer installs a hook run once on each Worker's
// goroutine before it begins servicing work. Must be called before
// SetWorkerThreadCount grows the pool for it to apply to new Workers.
func (s *Scheduler) SetThreadInitializer(fn func(workerID int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threadInit = fn
}

// SetWorkerThreadCount resizes the MultiThreaded Worker pool. Shrinking
// stops and drains the removed Workers first; growing starts new ones.
// A Schedule call racing a shrink can route its task to a Worker that
// is being removed and enqueue it after that Worker has stopped, in
// which case the task never runs. Callers must also not call it from
// inside a task running on one of this Scheduler's own Workers (it
// would deadlock draining itself).
func (s *Scheduler) SetWorkerThreadCount(n int) {
	if n < 1 {
		n = 1
	}
	s.mu.Lock()
	current := len(s.workers)
	switch {
	case n < current:
		removed := s.workers[n:]
		s.workers = s.workers[:n]
		s.mu.Unlock()
		g, _ := errgroup.WithContext(context.Background())
		for _, w := range removed {
			w := w
			g.Go(func() error {
				w.stop()
				return nil
			})
		}
		g.Wait()
		return
	case n > current:
		init := s.threadInit
		for i := current; i < n; i++ {
			w := newWorker(i, ModeMultiThreaded, s)
			s.workers = append(s.workers, w)
			w.start(init)
		}
	}
	s.mu.Unlock()
}

// Schedule enqueues task onto one of this Scheduler's Workers.
// Preference goes to a Worker that was recently spinning (idle,
// actively polling for work) over a strict round robin, so a task
// tends to land where it will be picked up soonest.
func (s *Scheduler) Schedule(task Task) {
	if s.closed.Load() {
		panic(ErrSchedulerClosed)
	}
	w := s.pickWorkerForSchedule()
	w.enqueueTask(task)
}

func (s *Scheduler) pickWorkerForSchedule() *Worker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if w := s.recentlySpinningWorker(); w != nil {
		return w
	}
	i := int(s.nextWorker.Add(1)-1) % len(s.workers)
	return s.workers[i]
}

func (s *Scheduler) recentlySpinningWorker() *Worker {
	s.spinningMu.Lock()
	defer s.spinningMu.Unlock()
	if len(s.spinningRing) == 0 {
		return nil
	}
	id := s.spinningRing[0]
	s.spinningRing = s.spinningRing[1:]
	if id < 0 || id >= len(s.workers) {
		return nil
	}
	return s.workers[id]
}

// onBeginSpinning records that a Worker has started spinning (found
// nothing to do) so Schedule can prefer it next. Each recorded entry is
// consumed by the one Schedule call that uses it.
func (s *Scheduler) onBeginSpinning(workerID int) {
	s.spinningMu.Lock()
	defer s.spinningMu.Unlock()
	const ringCap = 8
	s.spinningRing = append([]int{workerID}, s.spinningRing...)
	if len(s.spinningRing) > ringCap {
		s.spinningRing = s.spinningRing[:ringCap]
	}
}

// stealWork is called by an idle Worker looking for something to do.
// It probes up to Tuning.StealFanout sibling Workers in index order,
// starting from a randomly chosen one, taking from the tail of that Worker's task FIFO (the end its owner
// is least likely to be contending on right now).
func (s *Scheduler) stealWork(requestingWorkerID int) (Task, bool) {
	s.mu.RLock()
	workers := s.workers
	s.mu.RUnlock()
	if len(workers) < 2 {
		return nil, false
	}
	attempts := len(workers) - 1
	if fanout := s.getTuning().StealFanout; fanout > 0 && fanout < attempts {
		attempts = fanout
	}
	rng := newFastRnd(uint64(requestingWorkerID)*31 + uint64(time.Now().UnixNano()))
	start := rng.intn(len(workers))
	tried := 0
	for i := 0; i < len(workers) && tried < attempts; i++ {
		idx := (start + i) % len(workers)
		victim := workers[idx]
		if victim.id == requestingWorkerID {
			continue
		}
		tried++
		if task, ok := victim.stealTask(); ok {
			return task, true
		}
	}
	return nil, false
}

// Close stops every Worker, blocking until each has drained its
// remaining tasks and fibers. After Close, Schedule panics.
func (s *Scheduler) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.mu.Lock()
	workers := s.workers
	s.mu.Unlock()

	var g errgroup.Group
	for _, w := range workers {
		w := w
		g.Go(func() error {
			w.stop()
			return nil
		})
	}
	g.Wait()
}

// WorkerSnapshot is a point-in-time view of one Worker, for
// introspection and the dashboard.
type WorkerSnapshot struct {
	ID              int
	QueuedTasks     int
	QueuedFibers    int
	WaitingFibers   int
	IdleFibers      int
	TasksRun        uint64
	FibersCreated   uint64
	StealsAttempted uint64
	StealsSucceeded uint64
}

// Snapshot is a point-in-time view of the whole Scheduler.
type Snapshot struct {
	Workers       []WorkerSnapshot
	NumGoroutines int
}

// Snapshot captures current Worker statistics. It is a supplemental,
// best-effort read for observability, not a consistent transaction
// across Workers.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.RLock()
	workers := append([]*Worker(nil), s.workers...)
	s.mu.RUnlock()

	out := Snapshot{Workers: make([]WorkerSnapshot, len(workers)), NumGoroutines: runtime.NumGoroutine()}
	for i, w := range workers {
		w.work.mu.Lock()
		out.Workers[i] = WorkerSnapshot{
			ID:              w.id,
			QueuedTasks:     len(w.work.tasks),
			QueuedFibers:    len(w.work.fibers),
			WaitingFibers:   w.work.waiting.len(),
			IdleFibers:      len(w.idleFibers),
			TasksRun:        w.Stats.TasksRun.Load(),
			FibersCreated:   w.Stats.FibersCreated.Load(),
			StealsAttempted: w.Stats.StealsAttempted.Load(),
			StealsSucceeded: w.Stats.StealsSucceeded.Load(),
		}
		w.work.mu.Unlock()
	}
	return out
}
