package fiberpool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// These mirror the scheduler's headline end-to-end scenarios, each
// exercised through a real Scheduler rather than bare goroutines.

func TestScenarioHelloTaskFanOut(t *testing.T) {
	s := NewScheduler(4)
	defer s.Close()

	const n = 200
	var sum atomic.Int64
	wg := NewWaitGroup()
	wg.Add(n)
	for i := 1; i <= n; i++ {
		i := i
		s.Schedule(func() {
			sum.Add(int64(i))
			wg.Done()
		})
	}
	if !wg.WaitTimeout(5 * time.Second) {
		t.Fatal("fan-out tasks never completed")
	}
	want := int64(n * (n + 1) / 2)
	if sum.Load() != want {
		t.Fatalf("sum = %d, want %d", sum.Load(), want)
	}
}

func TestScenarioTicketSerializationUnderScheduler(t *testing.T) {
	s := NewScheduler(4)
	defer s.Close()

	q := NewTicketQueue()
	const n = 30
	tickets := q.TakeN(n)

	var mu sync.Mutex
	var order []int
	wg := NewWaitGroup()
	wg.Add(n)
	for i := n - 1; i >= 0; i-- {
		i := i
		tk := tickets[i]
		s.Schedule(func() {
			tk.Wait()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			tk.Done()
			wg.Done()
		})
	}
	if !wg.WaitTimeout(5 * time.Second) {
		t.Fatal("ticket-serialized tasks never completed")
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("order[%d] = %d, want %d", i, v, i)
		}
	}
}

func TestScenarioBoundedPoolConcurrencyUnderScheduler(t *testing.T) {
	s := NewScheduler(8)
	defer s.Close()

	const capacity = 3
	p := NewBoundedPool(capacity, Reconstruct, func() *buffer { return &buffer{} }, func(b *buffer) { b.used = false })

	var mu sync.Mutex
	inUse, maxInUse := 0, 0
	wg := NewWaitGroup()
	const n = 60
	wg.Add(n)
	for i := 0; i < n; i++ {
		s.Schedule(func() {
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
	if !wg.WaitTimeout(5 * time.Second) {
		t.Fatal("pool tasks never completed")
	}
	if maxInUse > capacity {
		t.Fatalf("maxInUse = %d, exceeds capacity %d", maxInUse, capacity)
	}
}
