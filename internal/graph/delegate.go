package graph

import (
	"errors"
	"fmt"
	"io"
	"slices"
)

// Delegate is an accelerator that can take over parts of a graph. Prepare is
// called once by ModifyGraphWithDelegate and claims nodes through the
// DelegateContext. Close releases whatever the plugin holds.
type Delegate interface {
	Prepare(ctx DelegateContext) error
	Close() error
}

// DelegateContext is the view of the graph offered to a delegate during a
// rewrite.
type DelegateContext interface {
	ExecutionPlan() []int
	Node(id int) (Node, error)
	TensorInfo(idx int) (TensorInfo, error)
	ReplaceNodeSubsetsWithDelegateKernels(reg DelegateRegistration, nodes []int) error
}

// DelegateRegistration describes the kernel that executes a replaced subset.
// CustomName may be left empty; some plugin builds do not fill it in.
type DelegateRegistration struct {
	CustomName string
	Version    int
	Init       func(p Partition) (DelegateKernel, error)
}

// Partition is one contiguous run of plan nodes handed to a delegate kernel.
// Inputs are tensors read by the run and not produced inside it; Outputs are
// tensors produced by the run and needed after it.
type Partition struct {
	Nodes   []Node
	Inputs  []int
	Outputs []int
	Tensors map[int]TensorInfo
}

// DelegateKernel executes one partition. Prepare runs on every allocation,
// Invoke on every graph invocation. A kernel that also implements io.Closer
// is closed when a failed rewrite discards it.
type DelegateKernel interface {
	Prepare(ctx KernelContext) error
	Invoke(ctx KernelContext) error
}

// KernelContext resolves the partition's boundary tensors to graph storage.
type KernelContext interface {
	Tensor(idx int) (*Tensor, error)
}

// ModifyGraphWithDelegate lets d replace node subsets with delegate kernels.
// On failure, including a panic inside the plugin, the graph is restored and
// the error wraps ErrGraphModification. On success the graph must be
// allocated again before use.
func (g *Graph) ModifyGraphWithDelegate(d Delegate) (err error) {
	if d == nil {
		return fmt.Errorf("%w: nil delegate", ErrGraphModification)
	}

	snap := g.snapshot()
	rc := &rewriteContext{g: g}
	defer func() {
		if rec := recover(); rec != nil {
			g.restore(snap)
			err = fmt.Errorf("%w: panic in delegate prepare: %v", ErrGraphModification, rec)
		}
	}()

	if perr := d.Prepare(rc); perr != nil {
		g.restore(snap)
		if errors.Is(perr, ErrGraphModification) {
			return perr
		}
		return fmt.Errorf("%w: %v", ErrGraphModification, perr)
	}

	g.allocated = false
	return nil
}

type graphSnapshot struct {
	plan      []int
	nodes     int
	allocated bool
}

func (g *Graph) snapshot() graphSnapshot {
	return graphSnapshot{plan: slices.Clone(g.plan), nodes: len(g.nodes), allocated: g.allocated}
}

func (g *Graph) restore(s graphSnapshot) {
	for _, n := range g.nodes[s.nodes:] {
		closeKernel(n.kernel)
	}
	g.plan = s.plan
	g.nodes = g.nodes[:s.nodes]
	g.allocated = s.allocated
}

type rewriteContext struct {
	g *Graph
}

func (rc *rewriteContext) ExecutionPlan() []int                   { return rc.g.ExecutionPlan() }
func (rc *rewriteContext) Node(id int) (Node, error)              { return rc.g.Node(id) }
func (rc *rewriteContext) TensorInfo(idx int) (TensorInfo, error) { return rc.g.TensorInfo(idx) }

// ReplaceNodeSubsetsWithDelegateKernels splits nodes into maximal runs that
// are contiguous in the current plan and replaces each run with one delegate
// node placed where the run started.
func (rc *rewriteContext) ReplaceNodeSubsetsWithDelegateKernels(reg DelegateRegistration, nodes []int) error {
	g := rc.g
	if reg.Init == nil {
		return fmt.Errorf("%w: delegate registration has no Init", ErrGraphModification)
	}
	want := make(map[int]bool, len(nodes))
	for _, id := range nodes {
		if !slices.Contains(g.plan, id) {
			return fmt.Errorf("%w: node %d is not in the execution plan", ErrGraphModification, id)
		}
		if g.nodes[id].kernel != nil {
			return fmt.Errorf("%w: node %d is already delegated", ErrGraphModification, id)
		}
		want[id] = true
	}
	if len(want) == 0 {
		return nil
	}

	var runs [][]int
	var cur []int
	for _, id := range g.plan {
		if want[id] {
			cur = append(cur, id)
			continue
		}
		if len(cur) > 0 {
			runs = append(runs, cur)
			cur = nil
		}
	}
	if len(cur) > 0 {
		runs = append(runs, cur)
	}

	type replacement struct {
		run  []int
		node *Node
	}
	repl := make([]replacement, 0, len(runs))
	for _, run := range runs {
		part := g.partition(run)
		kernel, err := reg.Init(part)
		if err == nil && kernel == nil {
			err = errors.New("delegate returned nil kernel")
		}
		if err != nil {
			for _, r := range repl {
				closeKernel(r.node.kernel)
			}
			return fmt.Errorf("%w: init delegate kernel for nodes %v: %v", ErrGraphModification, run, err)
		}
		n := &Node{
			Index: len(g.nodes) + len(repl),
			Registration: Registration{
				Code:       CodeDelegate,
				CustomName: reg.CustomName,
				Version:    reg.Version,
			},
			Inputs:   part.Inputs,
			Outputs:  part.Outputs,
			Subsumed: slices.Clone(run),
			kernel:   kernel,
		}
		repl = append(repl, replacement{run: run, node: n})
	}

	plan := make([]int, 0, len(g.plan))
	next := 0
	for _, id := range g.plan {
		if !want[id] {
			plan = append(plan, id)
			continue
		}
		if next < len(repl) && repl[next].run[0] == id {
			plan = append(plan, repl[next].node.Index)
			next++
		}
	}
	for _, r := range repl {
		g.nodes = append(g.nodes, r.node)
	}
	g.plan = plan
	return nil
}

func (g *Graph) partition(run []int) Partition {
	inRun := make(map[int]bool, len(run))
	for _, id := range run {
		inRun[id] = true
	}

	produced := make(map[int]bool)
	var inputs []int
	seenIn := make(map[int]bool)
	p := Partition{Tensors: make(map[int]TensorInfo)}
	for _, id := range run {
		n := g.nodes[id]
		p.Nodes = append(p.Nodes, n.clone())
		for _, t := range n.Inputs {
			if t < 0 {
				continue
			}
			if !produced[t] && !seenIn[t] {
				seenIn[t] = true
				inputs = append(inputs, t)
			}
		}
		for _, t := range n.Outputs {
			produced[t] = true
		}
	}

	usedAfter := make(map[int]bool)
	for _, id := range g.plan {
		if inRun[id] {
			continue
		}
		for _, t := range g.nodes[id].Inputs {
			usedAfter[t] = true
		}
	}
	for _, t := range g.outputs {
		usedAfter[t] = true
	}

	var outputs []int
	for _, id := range run {
		for _, t := range g.nodes[id].Outputs {
			if usedAfter[t] {
				outputs = append(outputs, t)
			}
		}
	}

	p.Inputs = inputs
	p.Outputs = outputs
	for _, id := range run {
		n := g.nodes[id]
		for _, t := range append(slices.Clone(n.Inputs), n.Outputs...) {
			if t < 0 {
				continue
			}
			if info, err := g.TensorInfo(t); err == nil {
				p.Tensors[t] = info
			}
		}
	}
	return p
}

type kernelContext struct {
	g       *Graph
	allowed []int
}

func (g *Graph) kernelContext(n *Node) KernelContext {
	allowed := append(slices.Clone(n.Inputs), n.Outputs...)
	return &kernelContext{g: g, allowed: allowed}
}

func (kc *kernelContext) Tensor(idx int) (*Tensor, error) {
	if !slices.Contains(kc.allowed, idx) {
		return nil, fmt.Errorf("tensor %d is not a boundary tensor of this partition", idx)
	}
	return kc.g.tensors[idx], nil
}

func closeKernel(k DelegateKernel) {
	c, ok := k.(io.Closer)
	if !ok {
		return
	}
	defer func() { _ = recover() }()
	_ = c.Close()
}

func safePrepare(n *Node, ctx KernelContext) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in delegate kernel prepare: %v", rec)
		}
	}()
	return n.kernel.Prepare(ctx)
}

func safeInvoke(n *Node, ctx KernelContext) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in delegate kernel invoke: %v", rec)
		}
	}()
	return n.kernel.Invoke(ctx)
}
