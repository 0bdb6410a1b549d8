package fiberpool

import (
	"testing"
	"time"
)

func TestWaitGroupBasic(t *testing.T) {
	g := NewWaitGroup()
	g.Add(3)
	done := make(chan struct{})
	go func() { g.Wait(); close(done) }()

	select {
	case <-done:
		t.Fatal("Wait returned before counter reached zero")
	case <-time.After(20 * time.Millisecond):
	}

	g.Done()
	g.Done()
	g.Done()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait never returned once counter reached zero")
	}
}

func TestWaitGroupNegativePanics(t *testing.T) {
	g := NewWaitGroup()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on negative counter")
		}
	}()
	g.Done()
}

func TestWaitGroupWaitTimeout(t *testing.T) {
	g := NewWaitGroup()
	g.Add(1)
	if g.WaitTimeout(20 * time.Millisecond) {
		t.Fatal("expected WaitTimeout to expire")
	}
	g.Done()
	if !g.WaitTimeout(time.Second) {
		t.Fatal("expected WaitTimeout to succeed once counter reached zero")
	}
}
