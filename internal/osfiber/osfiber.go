// Package osfiber implements the scheduler's one OS-specific dependency:
// a "scoped stack with switch-to(other)" primitive (spec.md §6).
//
// Go's runtime has no portable, non-cgo way to switch between two raw
// stacks the way marl's OSFiber does. A goroutine parked on a rendezvous
// channel gives the same observable contract that the rest of the
// scheduler actually relies on — exactly one side of a handoff is ever
// runnable at a time, and switching to a fiber blocks the caller until
// that fiber switches back — without pretending to reimplement real
// stack-switching.
package osfiber

// Fiber is a goroutine wrapped so that exactly one of {caller, fiber} is
// ever runnable at a time. It mirrors marl's OSFiber: created once,
// resumed many times via Switch.
type Fiber struct {
	resume chan bool
}

// CreateFromCurrentThread returns a Fiber representing the calling
// goroutine's own stack. Nothing is spawned for it; Switch-ing into it
// simply unblocks whichever earlier Switch call parked this goroutine.
func CreateFromCurrentThread() *Fiber {
	return &Fiber{resume: make(chan bool)}
}

// Create returns a Fiber that, the first time it is Switch-ed to, begins
// running f on a freshly spawned goroutine. f is expected to cooperate
// with Switch/Retire: every time it wants to yield, it calls Switch from
// inside itself and must stop (return) if that call reports back false.
func Create(f func()) *Fiber {
	fib := &Fiber{resume: make(chan bool)}
	go func() {
		if !<-fib.resume {
			return // retired before it ever ran
		}
		f()
	}()
	return fib
}

// Switch transfers execution to other, blocking the caller (which must
// be running on from's stack) until something switches back into from —
// either another Switch(_, from) call, or a Retire(from). It reports
// whether the resumption was a normal switch-back (true) or a Retire
// (false, meaning: stop, don't keep running this fiber).
func Switch(from, other *Fiber) bool {
	other.resume <- true
	return <-from.resume
}

// Retire wakes a fiber that is currently parked — either never started,
// or mid-execution inside a Switch call — and tells it to stop rather
// than resume, so its goroutine (if any) exits and can be collected. It
// must only be called on a fiber that is not the one currently running.
func Retire(f *Fiber) {
	f.resume <- false
}

// Handoff wakes other but, unlike Switch, does not park the caller
// waiting to be resumed back. The caller must not be resumed again; this
// is only safe when the caller's own stack is about to be abandoned for
// good (the final "pass control back so the root fiber can return"
// handoff at Worker shutdown).
func Handoff(other *Fiber) {
	other.resume <- true
}
