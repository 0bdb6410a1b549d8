package fiberpool

import (
	"sync"
	"time"
)

// ticketRecord is one link in a Queue's call-order chain. A record is
// "called" once the work it represents has finished; the next record's
// Wait blocks until its predecessor reaches that state.
type ticketRecord struct {
	mu       sync.Mutex
	cv       *ConditionVariable
	isCalled bool
}

// ticketState is the mutable, shared part of a Ticket, held behind a
// pointer (the same cheap-handle idiom Event uses) so that copying a
// Ticket value never copies a mutex or races on the fields it guards.
type ticketState struct {
	mu         sync.Mutex
	prev       *ticketRecord // nil once there is no predecessor left to wait on
	calledTurn bool          // true once this ticket's turn has been observed to arrive
	callbacks  []func()      // OnCall registrations still pending, in registration order
	waiting    bool          // an OnCall goroutine is already driving the wait
}

// Ticket reserves a position in a TicketQueue's serialized call order.
// Whoever holds a Ticket must eventually call Done (or Close) — every
// later Ticket's Wait blocks on it. Ticket is a cheap, copyable handle;
// every copy shares the same underlying state.
type Ticket struct {
	self  *ticketRecord
	state *ticketState
}

// TicketQueue hands out Tickets in strict FIFO order so that work which
// completes out of order (e.g. across several Workers) can still be
// observed or published in the order it was requested.
type TicketQueue struct {
	mu   sync.Mutex
	tail *ticketRecord
}

// NewTicketQueue returns an empty TicketQueue.
func NewTicketQueue() *TicketQueue {
	return &TicketQueue{}
}

// Take reserves the next position in the queue.
func (q *TicketQueue) Take() Ticket {
	q.mu.Lock()
	defer q.mu.Unlock()
	r := &ticketRecord{cv: NewConditionVariable()}
	prev := q.tail
	q.tail = r
	return Ticket{self: r, state: &ticketState{prev: prev}}
}

// TakeN reserves n consecutive positions, in order.
func (q *TicketQueue) TakeN(n int) []Ticket {
	out := make([]Ticket, n)
	for i := range out {
		out[i] = q.Take()
	}
	return out
}

// Wait blocks until every ticket taken before this one has called Done.
// Safe to call concurrently with itself and with OnCall on the same
// Ticket (or any of its copies).
func (t Ticket) Wait() {
	t.state.mu.Lock()
	p := t.state.prev
	t.state.mu.Unlock()
	if p == nil {
		return
	}
	p.mu.Lock()
	p.cv.Wait(&p.mu, func() bool { return p.isCalled })
	p.mu.Unlock()
	t.state.mu.Lock()
	t.state.prev = nil
	t.state.mu.Unlock()
}

// WaitTimeout is Wait bounded by timeout.
func (t Ticket) WaitTimeout(timeout time.Duration) bool {
	t.state.mu.Lock()
	p := t.state.prev
	t.state.mu.Unlock()
	if p == nil {
		return true
	}
	p.mu.Lock()
	ok := p.cv.WaitTimeout(&p.mu, func() bool { return p.isCalled }, timeout)
	p.mu.Unlock()
	if ok {
		t.state.mu.Lock()
		t.state.prev = nil
		t.state.mu.Unlock()
	}
	return ok
}

// Done marks this ticket's turn complete, releasing whichever ticket
// was taken immediately after it (if any) from its Wait.
func (t Ticket) Done() {
	t.self.mu.Lock()
	t.self.isCalled = true
	t.self.cv.NotifyAll()
	t.self.mu.Unlock()
}

// OnCall schedules f to run once it becomes this ticket's turn — i.e.
// once every earlier ticket has called Done. Multiple OnCall
// registrations on the same Ticket (or its copies) compose into a
// single chain run in registration order, rather than each spawning an
// independent racing waiter.
func (t Ticket) OnCall(f func()) {
	s := t.state
	s.mu.Lock()
	if s.calledTurn {
		s.mu.Unlock()
		f()
		return
	}
	s.callbacks = append(s.callbacks, f)
	alreadyWaiting := s.waiting
	s.waiting = true
	s.mu.Unlock()

	if alreadyWaiting {
		return
	}
	go func() {
		t.Wait()
		s.mu.Lock()
		cbs := s.callbacks
		s.callbacks = nil
		s.calledTurn = true
		s.mu.Unlock()
		for _, cb := range cbs {
			cb()
		}
	}()
}

// Close marks this ticket's turn complete if the holder never called
// Done — Go has no destructors, so this stands in for marl's
// implicit ~Ticket()-triggered done(), called via defer at the call
// site that owns the ticket.
func (t Ticket) Close() {
	t.Done()
}
