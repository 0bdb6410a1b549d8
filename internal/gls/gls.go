// Package gls provides just enough goroutine-local storage to stand in
// for the thread-local pointers spec.md's design relies on
// (Scheduler::bound, Worker::current, Fiber::current()). Go has no
// first-class TLS; the runtime does expose a stable per-goroutine
// identity through the header line of runtime.Stack, which is the
// narrowest possible hack that gets us a real goroutine-keyed map
// instead of process-wide globals that would be wrong the moment two
// Workers run concurrently.
package gls

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

var (
	mu    sync.RWMutex
	slots = map[uint64]map[any]any{}
)

// id returns the calling goroutine's runtime id, parsed out of the
// "goroutine N [state]:" header that runtime.Stack always writes first.
func id() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]
	const prefix = "goroutine "
	if !bytes.HasPrefix(b, []byte(prefix)) {
		panic("gls: unexpected runtime.Stack header: " + string(b))
	}
	b = b[len(prefix):]
	end := bytes.IndexByte(b, ' ')
	if end < 0 {
		panic("gls: unexpected runtime.Stack header: " + string(buf[:n]))
	}
	n64, err := strconv.ParseUint(string(b[:end]), 10, 64)
	if err != nil {
		panic("gls: unexpected goroutine id: " + err.Error())
	}
	return n64
}

// Set stores value under key for the calling goroutine only.
func Set(key, value any) {
	g := id()
	mu.Lock()
	defer mu.Unlock()
	m, ok := slots[g]
	if !ok {
		m = make(map[any]any, 2)
		slots[g] = m
	}
	m[key] = value
}

// Get returns the value stored by Set for the calling goroutine, or nil.
func Get(key any) any {
	g := id()
	mu.RLock()
	defer mu.RUnlock()
	m, ok := slots[g]
	if !ok {
		return nil
	}
	return m[key]
}

// Clear removes all values stored for the calling goroutine. Workers
// and fibers that finish for good call this to avoid leaking slot
// entries for goroutines that will never run again.
func Clear() {
	g := id()
	mu.Lock()
	defer mu.Unlock()
	delete(slots, g)
}
