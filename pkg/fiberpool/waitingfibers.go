package fiberpool

import (
	"sort"
	"time"
)

// waitingFibers is the dual-index structure backing a Worker's timed
// waits: a deadline-ordered list for "what's next" and a reverse index
// for "cancel this fiber's wait", mirroring marl's WaitingFibers
// (std::set<pair<deadline,id>> plus an unordered_map<id,deadline>).
type waitingFibers struct {
	byDeadline []waitingEntry     // sorted ascending by deadline
	byFiber    map[*Fiber]time.Time
}

type waitingEntry struct {
	deadline time.Time
	fiber    *Fiber
}

func newWaitingFibers() *waitingFibers {
	return &waitingFibers{byFiber: make(map[*Fiber]time.Time)}
}

func (w *waitingFibers) nonEmpty() bool { return len(w.byDeadline) > 0 }
func (w *waitingFibers) len() int       { return len(w.byDeadline) }

// add registers fiber as waiting until deadline. fiber must not already
// be registered.
func (w *waitingFibers) add(deadline time.Time, fiber *Fiber) {
	i := sort.Search(len(w.byDeadline), func(i int) bool {
		return w.byDeadline[i].deadline.After(deadline)
	})
	w.byDeadline = append(w.byDeadline, waitingEntry{})
	copy(w.byDeadline[i+1:], w.byDeadline[i:])
	w.byDeadline[i] = waitingEntry{deadline: deadline, fiber: fiber}
	w.byFiber[fiber] = deadline
}

// erase cancels fiber's registered wait, if any. Used when a fiber is
// notified before its deadline expires.
func (w *waitingFibers) erase(fiber *Fiber) bool {
	deadline, ok := w.byFiber[fiber]
	if !ok {
		return false
	}
	delete(w.byFiber, fiber)
	i := sort.Search(len(w.byDeadline), func(i int) bool {
		return !w.byDeadline[i].deadline.Before(deadline)
	})
	for ; i < len(w.byDeadline); i++ {
		if w.byDeadline[i].fiber == fiber {
			w.byDeadline = append(w.byDeadline[:i], w.byDeadline[i+1:]...)
			return true
		}
	}
	return true
}

// next returns the earliest registered deadline, if any.
func (w *waitingFibers) next() (time.Time, bool) {
	if len(w.byDeadline) == 0 {
		return time.Time{}, false
	}
	return w.byDeadline[0].deadline, true
}

// take removes and returns every fiber whose deadline is <= now.
func (w *waitingFibers) take(now time.Time) []*Fiber {
	var expired []*Fiber
	i := 0
	for ; i < len(w.byDeadline); i++ {
		if w.byDeadline[i].deadline.After(now) {
			break
		}
		f := w.byDeadline[i].fiber
		expired = append(expired, f)
		delete(w.byFiber, f)
	}
	if i > 0 {
		w.byDeadline = append(w.byDeadline[:0], w.byDeadline[i:]...)
	}
	return expired
}
