package fiberpool

import (
	"sort"
	"sync"
	"testing"
	"time"
)

// order records the sequence in which nodes ran, safe for concurrent
// pushes from whichever Worker happens to run each node.
type order struct {
	mu   sync.Mutex
	logs []string
}

func (o *order) push(s string) {
	o.mu.Lock()
	o.logs = append(o.logs, s)
	o.mu.Unlock()
}

func (o *order) snapshot() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.logs...)
}

func runDAG[T any](t *testing.T, d *DAG[T], data T) {
	t.Helper()
	sched := NewScheduler(4)
	defer sched.Close()

	done := make(chan struct{})
	go func() {
		d.Run(sched, data)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("DAG.Run never completed")
	}
}

func TestDAGChain(t *testing.T) {
	b := NewDAGBuilder[*order]()
	b.Root().
		Then(func(o *order) { o.push("A") }).
		Then(func(o *order) { o.push("B") }).
		Then(func(o *order) { o.push("C") })

	d := b.Build()
	o := &order{}
	runDAG(t, d, o)

	want := []string{"A", "B", "C"}
	got := o.snapshot()
	if !equalStrings(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
}

func TestDAGRunRepeatIsIndependentPerCall(t *testing.T) {
	b := NewDAGBuilder[*order]()
	b.Root().
		Then(func(o *order) { o.push("A") }).
		Then(func(o *order) { o.push("B") })

	d := b.Build()
	oa, ob := &order{}, &order{}
	runDAG(t, d, oa)
	runDAG(t, d, ob)
	runDAG(t, d, oa)

	if got := oa.snapshot(); !equalStrings(got, []string{"A", "B", "A", "B"}) {
		t.Fatalf("oa.order = %v", got)
	}
	if got := ob.snapshot(); !equalStrings(got, []string{"A", "B"}) {
		t.Fatalf("ob.order = %v", got)
	}
}

func TestDAGFanOutFromRoot(t *testing.T) {
	b := NewDAGBuilder[*order]()
	root := b.Root()
	root.Then(func(o *order) { o.push("A") })
	root.Then(func(o *order) { o.push("B") })
	root.Then(func(o *order) { o.push("C") })

	d := b.Build()
	o := &order{}
	runDAG(t, d, o)

	want := []string{"A", "B", "C"}
	got := o.snapshot()
	sort.Strings(got)
	if !equalStrings(got, want) {
		t.Fatalf("order = %v, want (unordered) %v", got, want)
	}
}

// DAGFanOutFanIn builds:
//
//	      /--> A0 --\        /--> C0 --\
//	root--|--> A1 --|-->B ---|--> C1 --|-->D
//	                          \--> C2 --/
//
// and checks that D only ever runs after all of B's children finish.
func TestDAGFanOutFanIn(t *testing.T) {
	b := NewDAGBuilder[*order]()
	root := b.Root()
	a0 := root.Then(func(o *order) { o.push("A0") })
	a1 := root.Then(func(o *order) { o.push("A1") })

	bNode := b.NodeAfter(func(o *order) { o.push("B") }, a0, a1)

	c0 := bNode.Then(func(o *order) { o.push("C0") })
	c1 := bNode.Then(func(o *order) { o.push("C1") })
	c2 := bNode.Then(func(o *order) { o.push("C2") })

	b.NodeAfter(func(o *order) { o.push("D") }, c0, c1, c2)

	d := b.Build()
	o := &order{}
	runDAG(t, d, o)

	got := o.snapshot()
	if len(got) != 7 {
		t.Fatalf("order = %v, want 7 entries", got)
	}
	bIdx := indexOf(got, "B")
	dIdx := indexOf(got, "D")
	if bIdx < 2 {
		t.Fatalf("B ran before both of its dependencies finished: %v", got)
	}
	if dIdx != 6 {
		t.Fatalf("D did not run last: %v", got)
	}
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
