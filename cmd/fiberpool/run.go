package main

import (
	"fmt"
	"log"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/recera/fiberpool/internal/config"
	"github.com/recera/fiberpool/pkg/fiberpool"
)

type scenario struct {
	name string
	run  func(*fiberpool.Scheduler) error
}

var scenarios = map[string]scenario{
	"helloFanout":            {"helloFanout", scenarioHelloFanout},
	"ticketSerialize":        {"ticketSerialize", scenarioTicketSerialize},
	"timeoutNotify":          {"timeoutNotify", scenarioTimeoutNotify},
	"eventAny":               {"eventAny", scenarioEventAny},
	"boundedPoolConcurrency": {"boundedPoolConcurrency", scenarioBoundedPoolConcurrency},
	"resumeAffinity":         {"resumeAffinity", scenarioResumeAffinity},
}

func newRunCommand() *cobra.Command {
	var cwd string

	cmd := &cobra.Command{
		Use:   "run [scenario]",
		Short: "Run one of the end-to-end scheduler scenarios",
		Long: `Loads fiberpool.yaml (or its defaults), builds a Scheduler, and runs the
named scenario against it, printing pass/fail. With no scenario name,
runs all of them in turn.

Available scenarios: helloFanout, ticketSerialize, timeoutNotify,
eventAny, boundedPoolConcurrency, resumeAffinity.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return runAllScenarios(cwd)
			}
			return runOneScenario(cwd, args[0])
		},
	}

	cmd.Flags().StringVar(&cwd, "cwd", ".", "Project directory containing fiberpool.yaml")

	return cmd
}

func newScheduler(cwd string) *fiberpool.Scheduler {
	cfg, err := config.Load(cwd)
	if err != nil {
		log.Printf("failed to load fiberpool.yaml: %v (using defaults)", err)
		cfg = config.DefaultConfig()
	}
	applyDebugConfig(cfg)
	workers := cfg.Workers.Count
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return fiberpool.NewSchedulerWithConfig(workers, tuningFromConfig(cfg))
}

// applyDebugConfig wires fiberpool.yaml's debug.trace knob into the
// package-level trace hook, on once and never turned back off within
// a single CLI invocation.
func applyDebugConfig(cfg *config.Config) {
	if cfg.Debug != nil && cfg.Debug.Trace {
		fiberpool.SetDebugLog(func(format string, args ...any) {
			log.Printf("[trace] "+format, args...)
		})
	}
}

// tuningFromConfig wires fiberpool.yaml's workers.{spinBurst,spinSleep,
// stealFanout} and pool.unboundedChunk knobs into a fiberpool.Tuning.
// An unparseable or empty spinSleep leaves SpinBudget at zero, which
// Tuning.withDefaults then fills in from the package default.
func tuningFromConfig(cfg *config.Config) fiberpool.Tuning {
	var t fiberpool.Tuning
	if cfg.Workers != nil {
		t.SpinBurst = cfg.Workers.SpinBurst
		t.StealFanout = cfg.Workers.StealFanout
		if d, err := time.ParseDuration(cfg.Workers.SpinSleep); err == nil {
			t.SpinBudget = d
		}
	}
	if cfg.Pool != nil {
		t.UnboundedChunk = cfg.Pool.UnboundedChunk
	}
	return t
}

func runOneScenario(cwd, name string) error {
	sc, ok := scenarios[name]
	if !ok {
		return fmt.Errorf("unknown scenario %q (available: %s)", name, scenarioNames())
	}
	sched := newScheduler(cwd)
	defer sched.Close()

	start := time.Now()
	err := sc.run(sched)
	elapsed := time.Since(start)
	if err != nil {
		fmt.Printf("FAIL %-26s %s (%v)\n", sc.name, elapsed, err)
		return err
	}
	fmt.Printf("PASS %-26s %s\n", sc.name, elapsed)
	return nil
}

func runAllScenarios(cwd string) error {
	var failed []string
	for _, name := range scenarioNames() {
		if err := runOneScenario(cwd, name); err != nil {
			failed = append(failed, name)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d scenario(s) failed: %v", len(failed), failed)
	}
	return nil
}

func scenarioNames() []string {
	names := make([]string, 0, len(scenarios))
	for n := range scenarios {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func scenarioHelloFanout(sched *fiberpool.Scheduler) error {
	const n = 500
	var sum atomic.Int64
	wg := fiberpool.NewWaitGroup()
	wg.Add(n)
	for i := 1; i <= n; i++ {
		i := i
		sched.Schedule(func() {
			sum.Add(int64(i))
			wg.Done()
		})
	}
	if !wg.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("tasks never completed")
	}
	want := int64(n * (n + 1) / 2)
	if sum.Load() != want {
		return fmt.Errorf("sum = %d, want %d", sum.Load(), want)
	}
	return nil
}

func scenarioTicketSerialize(sched *fiberpool.Scheduler) error {
	q := fiberpool.NewTicketQueue()
	const n = 30
	tickets := q.TakeN(n)

	var mu sync.Mutex
	var order []int
	wg := fiberpool.NewWaitGroup()
	wg.Add(n)
	for i := n - 1; i >= 0; i-- {
		i := i
		tk := tickets[i]
		sched.Schedule(func() {
			tk.Wait()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			tk.Done()
			wg.Done()
		})
	}
	if !wg.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("tickets never all completed")
	}
	for i, v := range order {
		if v != i {
			return fmt.Errorf("order[%d] = %d, want %d", i, v, i)
		}
	}
	return nil
}

func scenarioTimeoutNotify(sched *fiberpool.Scheduler) error {
	cv := fiberpool.NewConditionVariable()
	var mu sync.Mutex

	timedOutResult := make(chan bool, 1)
	sched.Schedule(func() {
		mu.Lock()
		ok := cv.WaitTimeout(&mu, func() bool { return false }, 30*time.Millisecond)
		mu.Unlock()
		timedOutResult <- ok
	})
	select {
	case ok := <-timedOutResult:
		if ok {
			return fmt.Errorf("expected WaitTimeout to report expiry, got woken")
		}
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout case never resolved")
	}

	var ready bool
	notifiedResult := make(chan bool, 1)
	sched.Schedule(func() {
		mu.Lock()
		ok := cv.WaitTimeout(&mu, func() bool { return ready }, 5*time.Second)
		mu.Unlock()
		notifiedResult <- ok
	})
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	ready = true
	cv.NotifyAll()
	mu.Unlock()
	select {
	case ok := <-notifiedResult:
		if !ok {
			return fmt.Errorf("expected WaitTimeout to report success, got expiry")
		}
	case <-time.After(5 * time.Second):
		return fmt.Errorf("notify case never resolved")
	}
	return nil
}

func scenarioEventAny(sched *fiberpool.Scheduler) error {
	a := fiberpool.NewEvent(fiberpool.AutoReset)
	b := fiberpool.NewEvent(fiberpool.AutoReset)
	c := fiberpool.NewEvent(fiberpool.AutoReset)
	any := fiberpool.Any(a, b, c)

	done := make(chan struct{})
	sched.Schedule(func() {
		any.Wait()
		close(done)
	})

	time.Sleep(10 * time.Millisecond)
	b.Signal()

	select {
	case <-done:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("Any never woke after one source signaled")
	}
}

func scenarioBoundedPoolConcurrency(sched *fiberpool.Scheduler) error {
	const capacity = 3
	type item struct{ used bool }
	p := fiberpool.NewBoundedPool(capacity, fiberpool.Reconstruct,
		func() *item { return &item{} },
		func(it *item) { it.used = false })

	var mu sync.Mutex
	inUse, maxInUse := 0, 0
	wg := fiberpool.NewWaitGroup()
	const n = 60
	wg.Add(n)
	for i := 0; i < n; i++ {
		sched.Schedule(func() {
			l := p.Take()
			mu.Lock()
			inUse++
			if inUse > maxInUse {
				maxInUse = inUse
			}
			mu.Unlock()

			mu.Lock()
			inUse--
			mu.Unlock()
			l.Release()
			wg.Done()
		})
	}
	if !wg.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("pool tasks never completed")
	}
	if maxInUse > capacity {
		return fmt.Errorf("maxInUse = %d, exceeds capacity %d", maxInUse, capacity)
	}
	return nil
}

func scenarioResumeAffinity(sched *fiberpool.Scheduler) error {
	var mu sync.Mutex
	cv := fiberpool.NewConditionVariable()
	ready := false

	const n = 50
	results := make(chan bool, n)
	for i := 0; i < n; i++ {
		sched.Schedule(func() {
			startWorker := fiberpool.CurrentFiber().Owner()
			mu.Lock()
			cv.Wait(&mu, func() bool { return ready })
			mu.Unlock()
			results <- fiberpool.CurrentFiber().Owner() == startWorker
		})
	}

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	ready = true
	cv.NotifyAll()
	mu.Unlock()

	for i := 0; i < n; i++ {
		select {
		case ok := <-results:
			if !ok {
				return fmt.Errorf("fiber resumed on a different Worker than it started on")
			}
		case <-time.After(5 * time.Second):
			return fmt.Errorf("timed out waiting for results")
		}
	}
	return nil
}
