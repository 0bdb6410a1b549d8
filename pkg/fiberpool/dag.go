package fiberpool

import "sync/atomic"

// DAGNode identifies one node within a DAGBuilder's graph. The zero
// value identifies the graph's root.
type DAGNode int

const dagRoot DAGNode = 0
const dagInvalidNode DAGNode = -1

type dagNodeSpec[T any] struct {
	work func(T)
	outs []DAGNode
	ins  int
}

// DAGBuilder assembles a directed acyclic task graph ahead of
// scheduling any of it: add nodes, wire their dependencies with After
// (or DAGNodeBuilder.Then), then Build once into an immutable DAG that
// Run can execute, repeatedly and concurrently, against a Scheduler.
type DAGBuilder[T any] struct {
	nodes []dagNodeSpec[T]
}

// NewDAGBuilder returns a builder containing only the root node.
func NewDAGBuilder[T any]() *DAGBuilder[T] {
	return &DAGBuilder[T]{nodes: []dagNodeSpec[T]{{}}}
}

// Root returns the graph's entry node. Every other node must be
// reachable from it via After or Then for its work to ever run.
func (b *DAGBuilder[T]) Root() DAGNodeBuilder[T] {
	return DAGNodeBuilder[T]{b: b, n: dagRoot}
}

// Node adds a node running work with no initial dependencies. It must
// be wired into the graph with After before Build for work to run.
func (b *DAGBuilder[T]) Node(work func(T)) DAGNodeBuilder[T] {
	b.nodes = append(b.nodes, dagNodeSpec[T]{work: work})
	return DAGNodeBuilder[T]{b: b, n: DAGNode(len(b.nodes) - 1)}
}

// After makes child depend on parent: every dependency a node has
// declared via After must complete before that node is invoked.
func (b *DAGBuilder[T]) After(parent, child DAGNodeBuilder[T]) {
	b.nodes[parent.n] = dagAddOut(b.nodes[parent.n], child.n)
	b.nodes[child.n].ins++
}

// NodeAfter adds a node running work that depends on every node in
// after — all of them must complete before work runs, and no
// particular order among them is guaranteed.
func (b *DAGBuilder[T]) NodeAfter(work func(T), after ...DAGNodeBuilder[T]) DAGNodeBuilder[T] {
	n := b.Node(work)
	for _, p := range after {
		b.After(p, n)
	}
	return n
}

func dagAddOut[T any](n dagNodeSpec[T], out DAGNode) dagNodeSpec[T] {
	n.outs = append(n.outs, out)
	return n
}

// Build freezes the graph into a DAG. No further calls to this
// builder's methods are valid afterwards.
func (b *DAGBuilder[T]) Build() *DAG[T] {
	nodes := make([]dagNode[T], len(b.nodes))
	for i, n := range b.nodes {
		nodes[i] = dagNode[T]{work: n.work, outs: n.outs, ins: n.ins}
	}
	return &DAG[T]{nodes: nodes}
}

// DAGNodeBuilder is a handle to one node while a DAGBuilder's graph is
// still being assembled.
type DAGNodeBuilder[T any] struct {
	b *DAGBuilder[T]
	n DAGNode
}

// Then builds a new node that depends on this one and returns it, so
// a chain of work can be written as root.Then(a).Then(b).Then(c).
func (nb DAGNodeBuilder[T]) Then(work func(T)) DAGNodeBuilder[T] {
	next := nb.b.Node(work)
	nb.b.After(nb, next)
	return next
}

type dagNode[T any] struct {
	work func(T)
	outs []DAGNode
	ins  int
}

// DAG is an immutable, declarative task graph built once by
// DAGBuilder and run any number of times, each run independent of any
// other concurrently in flight.
type DAG[T any] struct {
	nodes []dagNode[T]
}

// Run invokes every reachable node's work, starting at the root,
// scheduling a node as soon as every dependency it declared via After
// has completed, and blocks until the whole graph has finished.
// Concurrent calls to Run on the same DAG (even with different data)
// do not interfere with each other.
func (d *DAG[T]) Run(sched *Scheduler, data T) {
	counters := make([]atomic.Int32, len(d.nodes))
	for i, n := range d.nodes {
		counters[i].Store(int32(n.ins))
	}
	wg := NewWaitGroup()
	d.invoke(sched, counters, dagRoot, data, wg)
	wg.Wait()
}

// notify decrements nodeIdx's dependency counter and reports whether
// every dependency of that node has now completed, i.e. it is ready
// to invoke. A node reachable only via a single After edge (counter
// starting at exactly 1) is ready on its first and only notify. The
// root is never notified: Run invokes it directly.
func (d *DAG[T]) notify(counters []atomic.Int32, idx DAGNode) bool {
	return counters[idx].Add(-1) == 0
}

// invoke runs nodeIdx's work, then notifies every downstream node it
// points to, scheduling all but the last of those that become ready
// onto sched and running the last one directly on this goroutine —
// avoiding scheduling overhead for what is usually the hot path
// through a graph (a chain of single-dependency nodes).
func (d *DAG[T]) invoke(sched *Scheduler, counters []atomic.Int32, idx DAGNode, data T, wg *WaitGroup) {
	node := d.nodes[idx]
	if node.work != nil {
		node.work(data)
	}

	toInvoke := dagInvalidNode
	for _, out := range node.outs {
		if !d.notify(counters, out) {
			continue
		}
		if toInvoke != dagInvalidNode {
			wg.Add(1)
			scheduled := toInvoke
			sched.Schedule(func() {
				defer wg.Done()
				d.invoke(sched, counters, scheduled, data, wg)
			})
		}
		toInvoke = out
	}
	if toInvoke != dagInvalidNode {
		d.invoke(sched, counters, toInvoke, data, wg)
	}
}
