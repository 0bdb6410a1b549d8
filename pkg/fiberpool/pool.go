package fiberpool

import (
	"sync"
	"sync/atomic"
	"time"
)

// PoolPolicy controls what happens to an item when it is returned to
// its pool.
type PoolPolicy int

const (
	// Reconstruct runs the pool's reset function on an item before it
	// is handed out again, so borrowers always see a freshly-reset
	// value.
	Reconstruct PoolPolicy = iota
	// Preserve leaves a returned item exactly as the borrower left it.
	Preserve
)

// PoolStats is a point-in-time view of a pool's utilization.
type PoolStats struct {
	Capacity    int
	Available   int
	Outstanding int
	Takes       uint64
}

type releaser[T any] interface {
	release(*T)
}

// Loan is a borrowed item from a BoundedPool or UnboundedPool. The
// borrower must call Release when done; Go has no destructors to do it
// implicitly, so a deferred Release at the call site is the idiom.
//
// Loan is a cheap, copyable handle: its release state lives behind a
// shared pointer, the same way Event and Ticket share state, so that
// copying a Loan (passing it by value, storing it in a slice, handing
// it to another goroutine) never produces two independent "released"
// flags that could each release the same backing item.
type Loan[T any] struct {
	value    *T
	pool     releaser[T]
	released *atomic.Bool
}

func newLoan[T any](p releaser[T], item *T) Loan[T] {
	return Loan[T]{value: item, pool: p, released: new(atomic.Bool)}
}

// Get returns the borrowed item.
func (l Loan[T]) Get() *T { return l.value }

// Release returns the item to its pool. Safe to call more than once,
// including concurrently from copies of the same Loan; only the first
// caller to observe the unreleased state has any effect.
func (l Loan[T]) Release() {
	if l.released == nil || l.released.Swap(true) {
		return
	}
	l.pool.release(l.value)
}

// BoundedPool hands out a fixed number of pre-created items, blocking
// Take when none are free.
type BoundedPool[T any] struct {
	mu       sync.Mutex
	cv       *ConditionVariable
	items    []*T
	reset    func(*T)
	policy   PoolPolicy
	capacity int
	takes    uint64
}

// NewBoundedPool creates capacity items up front via create and returns
// a pool that hands out exactly that many concurrently.
func NewBoundedPool[T any](capacity int, policy PoolPolicy, create func() *T, reset func(*T)) *BoundedPool[T] {
	p := &BoundedPool[T]{cv: NewConditionVariable(), reset: reset, policy: policy, capacity: capacity}
	p.items = make([]*T, 0, capacity)
	for i := 0; i < capacity; i++ {
		p.items = append(p.items, create())
	}
	return p
}

// Take blocks until an item is available, then borrows it.
func (p *BoundedPool[T]) Take() Loan[T] {
	p.mu.Lock()
	p.cv.Wait(&p.mu, func() bool { return len(p.items) > 0 })
	item := p.items[len(p.items)-1]
	p.items = p.items[:len(p.items)-1]
	p.takes++
	p.mu.Unlock()
	return newLoan[T](p, item)
}

// TakeTimeout is Take bounded by timeout.
func (p *BoundedPool[T]) TakeTimeout(timeout time.Duration) (Loan[T], bool) {
	p.mu.Lock()
	ok := p.cv.WaitTimeout(&p.mu, func() bool { return len(p.items) > 0 }, timeout)
	if !ok {
		p.mu.Unlock()
		return Loan[T]{}, false
	}
	item := p.items[len(p.items)-1]
	p.items = p.items[:len(p.items)-1]
	p.takes++
	p.mu.Unlock()
	return newLoan[T](p, item), true
}

func (p *BoundedPool[T]) release(item *T) {
	p.mu.Lock()
	if p.policy == Reconstruct && p.reset != nil {
		p.reset(item)
	}
	p.items = append(p.items, item)
	p.cv.NotifyOne()
	p.mu.Unlock()
}

// Stats returns the pool's current utilization.
func (p *BoundedPool[T]) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Capacity:    p.capacity,
		Available:   len(p.items),
		Outstanding: p.capacity - len(p.items),
		Takes:       p.takes,
	}
}

// UnboundedPool never blocks on Take: when it runs out of free items it
// grows by max(capacity, chunk), doubling its total capacity each time
// it is exhausted.
type UnboundedPool[T any] struct {
	mu       sync.Mutex
	items    []*T
	create   func() *T
	reset    func(*T)
	policy   PoolPolicy
	capacity int
	chunk    int
	takes    uint64
}

// NewUnboundedPool returns an empty pool that creates items lazily,
// growing by chunk items the first time it is exhausted (and doubling
// on every exhaustion after that). chunk <= 0 falls back to the
// package default (matching Config.Pool.UnboundedChunk's default in
// fiberpool.yaml).
func NewUnboundedPool[T any](chunk int, policy PoolPolicy, create func() *T, reset func(*T)) *UnboundedPool[T] {
	if chunk <= 0 {
		chunk = defaultUnboundedChunk
	}
	return &UnboundedPool[T]{create: create, reset: reset, policy: policy, chunk: chunk}
}

// NewUnboundedPoolFromScheduler is NewUnboundedPool using s's current
// Tuning.UnboundedChunk as the growth chunk, so a pool's growth step
// tracks the same fiberpool.yaml knob the Scheduler's Workers do.
func NewUnboundedPoolFromScheduler[T any](s *Scheduler, policy PoolPolicy, create func() *T, reset func(*T)) *UnboundedPool[T] {
	return NewUnboundedPool(s.getTuning().UnboundedChunk, policy, create, reset)
}

// Take borrows an item, growing the pool first if none are free.
func (p *UnboundedPool[T]) Take() Loan[T] {
	p.mu.Lock()
	if len(p.items) == 0 {
		p.growLocked()
	}
	item := p.items[len(p.items)-1]
	p.items = p.items[:len(p.items)-1]
	p.takes++
	p.mu.Unlock()
	return newLoan[T](p, item)
}

func (p *UnboundedPool[T]) growLocked() {
	grow := p.capacity
	if grow < p.chunk {
		grow = p.chunk
	}
	for i := 0; i < grow; i++ {
		p.items = append(p.items, p.create())
	}
	p.capacity += grow
}

func (p *UnboundedPool[T]) release(item *T) {
	p.mu.Lock()
	if p.policy == Reconstruct && p.reset != nil {
		p.reset(item)
	}
	p.items = append(p.items, item)
	p.mu.Unlock()
}

// Stats returns the pool's current utilization.
func (p *UnboundedPool[T]) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Capacity:    p.capacity,
		Available:   len(p.items),
		Outstanding: p.capacity - len(p.items),
		Takes:       p.takes,
	}
}
