package graph

import (
	"fmt"
	"slices"
)

// Graph owns a computation graph, its execution plan and its tensor memory.
// It is not safe for concurrent use.
type Graph struct {
	name    string
	tensors []*Tensor
	nodes   []*Node
	plan    []int
	inputs  []int
	outputs []int

	originalNodes int
	epoch         uint64
	allocated     bool
}

// Builder assembles a Graph in execution order.
type Builder struct {
	name    string
	tensors []*Tensor
	nodes   []*Node
	inputs  []int
	outputs []int
}

func NewBuilder(name string) *Builder {
	return &Builder{name: name}
}

// AddTensor registers a tensor and returns its index.
func (b *Builder) AddTensor(t *Tensor) int {
	b.tensors = append(b.tensors, t)
	return len(b.tensors) - 1
}

// AddNode appends a node to the plan and returns its index. A negative input
// index marks an omitted optional input.
func (b *Builder) AddNode(reg Registration, inputs, outputs []int, act Activation) int {
	idx := len(b.nodes)
	b.nodes = append(b.nodes, &Node{
		Index:        idx,
		Registration: reg,
		Inputs:       append([]int(nil), inputs...),
		Outputs:      append([]int(nil), outputs...),
		Activation:   act,
	})
	return idx
}

func (b *Builder) SetInputs(idx ...int)  { b.inputs = append([]int(nil), idx...) }
func (b *Builder) SetOutputs(idx ...int) { b.outputs = append([]int(nil), idx...) }

// Build validates the graph. Every node input must be a graph input, a
// constant, or produced by an earlier node, and no tensor may be produced twice.
func (b *Builder) Build() (*Graph, error) {
	nt := len(b.tensors)
	inRange := func(i int) bool { return i >= 0 && i < nt }

	available := make([]bool, nt)
	produced := make([]bool, nt)
	for _, i := range b.inputs {
		if !inRange(i) {
			return nil, fmt.Errorf("%w: graph input %d out of range", ErrInvalidGraph, i)
		}
		available[i] = true
	}
	for i, t := range b.tensors {
		if t == nil {
			return nil, fmt.Errorf("%w: tensor %d is nil", ErrInvalidGraph, i)
		}
		if t.Constant {
			if t.data == nil {
				return nil, fmt.Errorf("%w: constant tensor %d (%s) has no data", ErrInvalidGraph, i, t.Name)
			}
			available[i] = true
		}
	}
	for _, n := range b.nodes {
		for _, in := range n.Inputs {
			if in < 0 {
				continue
			}
			if !inRange(in) {
				return nil, fmt.Errorf("%w: node %d input %d out of range", ErrInvalidGraph, n.Index, in)
			}
			if !available[in] {
				return nil, fmt.Errorf("%w: node %d reads tensor %d before it is produced", ErrInvalidGraph, n.Index, in)
			}
		}
		for _, out := range n.Outputs {
			if !inRange(out) {
				return nil, fmt.Errorf("%w: node %d output %d out of range", ErrInvalidGraph, n.Index, out)
			}
			if produced[out] || b.tensors[out].Constant || slices.Contains(b.inputs, out) {
				return nil, fmt.Errorf("%w: tensor %d produced more than once", ErrInvalidGraph, out)
			}
			produced[out] = true
			available[out] = true
		}
	}
	for _, o := range b.outputs {
		if !inRange(o) {
			return nil, fmt.Errorf("%w: graph output %d out of range", ErrInvalidGraph, o)
		}
		if !available[o] {
			return nil, fmt.Errorf("%w: graph output %d is never produced", ErrInvalidGraph, o)
		}
	}

	plan := make([]int, len(b.nodes))
	for i := range plan {
		plan[i] = i
	}
	return &Graph{
		name:          b.name,
		tensors:       b.tensors,
		nodes:         b.nodes,
		plan:          plan,
		inputs:        b.inputs,
		outputs:       b.outputs,
		originalNodes: len(b.nodes),
	}, nil
}

func (g *Graph) Name() string { return g.name }

// OriginalNodeCount is the number of nodes the graph was built with.
func (g *Graph) OriginalNodeCount() int { return g.originalNodes }

// NodeCount includes nodes replaced by a delegate and the delegate nodes
// themselves; use ExecutionPlan for what actually runs.
func (g *Graph) NodeCount() int   { return len(g.nodes) }
func (g *Graph) TensorCount() int { return len(g.tensors) }

func (g *Graph) Inputs() []int  { return slices.Clone(g.inputs) }
func (g *Graph) Outputs() []int { return slices.Clone(g.outputs) }

// ExecutionPlan returns the ordered node ids executed per invocation.
func (g *Graph) ExecutionPlan() []int { return slices.Clone(g.plan) }

// Allocated reports whether tensors are materialized for the current plan.
func (g *Graph) Allocated() bool { return g.allocated }

// Node returns a copy of node id.
func (g *Graph) Node(id int) (Node, error) {
	if id < 0 || id >= len(g.nodes) {
		return Node{}, fmt.Errorf("node %d out of range [0,%d)", id, len(g.nodes))
	}
	return g.nodes[id].clone(), nil
}

// TensorInfo describes a tensor without exposing its storage.
type TensorInfo struct {
	Index    int
	Name     string
	Type     DType
	Shape    []int
	Constant bool
}

func (g *Graph) TensorInfo(idx int) (TensorInfo, error) {
	if idx < 0 || idx >= len(g.tensors) {
		return TensorInfo{}, fmt.Errorf("tensor %d out of range [0,%d)", idx, len(g.tensors))
	}
	t := g.tensors[idx]
	return TensorInfo{
		Index:    idx,
		Name:     t.Name,
		Type:     t.Type,
		Shape:    slices.Clone(t.Shape),
		Constant: t.Constant,
	}, nil
}

// Allocate materializes storage for every tensor referenced by the current
// plan plus the graph inputs and outputs, then prepares delegate kernels.
// Previously returned views become stale.
func (g *Graph) Allocate() error {
	g.allocated = false

	refs := g.referencedTensors()
	sizes := make(map[int]int, len(refs))
	for _, idx := range refs {
		t := g.tensors[idx]
		if t.Constant {
			continue
		}
		size, err := t.byteSize()
		if err != nil {
			return fmt.Errorf("%w: tensor %d: %v", ErrAllocation, idx, err)
		}
		sizes[idx] = size
	}

	for idx, t := range g.tensors {
		if t.Constant {
			continue
		}
		size, ok := sizes[idx]
		if !ok {
			t.data = nil
			continue
		}
		t.data = alignedBytes(size)
	}
	g.epoch++

	for _, id := range g.plan {
		n := g.nodes[id]
		if n.kernel == nil {
			continue
		}
		if err := safePrepare(n, g.kernelContext(n)); err != nil {
			return fmt.Errorf("%w: prepare delegate node %d (%s): %v", ErrAllocation, id, n.Registration.OpName(), err)
		}
	}

	g.allocated = true
	return nil
}

func (g *Graph) referencedTensors() []int {
	seen := make(map[int]bool)
	var out []int
	add := func(i int) {
		if i < 0 || seen[i] {
			return
		}
		seen[i] = true
		out = append(out, i)
	}
	for _, i := range g.inputs {
		add(i)
	}
	for _, id := range g.plan {
		n := g.nodes[id]
		for _, i := range n.Inputs {
			add(i)
		}
		for _, i := range n.Outputs {
			add(i)
		}
	}
	for _, i := range g.outputs {
		add(i)
	}
	slices.Sort(out)
	return out
}

func (g *Graph) view(idx int) TensorView {
	t := g.tensors[idx]
	return TensorView{
		Index: idx,
		Name:  t.Name,
		Type:  t.Type,
		Shape: slices.Clone(t.Shape),
		Bytes: len(t.data),
		data:  t.data,
		epoch: g.epoch,
		owner: g,
	}
}

// InputTensor returns a view of graph input i.
func (g *Graph) InputTensor(i int) (TensorView, error) {
	if !g.allocated {
		return TensorView{}, fmt.Errorf("%w: tensors must be allocated before access", ErrAllocation)
	}
	if i < 0 || i >= len(g.inputs) {
		return TensorView{}, fmt.Errorf("input %d out of range [0,%d)", i, len(g.inputs))
	}
	return g.view(g.inputs[i]), nil
}

// OutputTensor returns a view of graph output i.
func (g *Graph) OutputTensor(i int) (TensorView, error) {
	if !g.allocated {
		return TensorView{}, fmt.Errorf("%w: tensors must be allocated before access", ErrAllocation)
	}
	if i < 0 || i >= len(g.outputs) {
		return TensorView{}, fmt.Errorf("output %d out of range [0,%d)", i, len(g.outputs))
	}
	return g.view(g.outputs[i]), nil
}

// Invoke runs the execution plan in order. It fails with ErrAllocation when
// the graph has not been allocated since the last rewrite.
func (g *Graph) Invoke() error {
	if !g.allocated {
		return fmt.Errorf("%w: invoke called before tensors were allocated", ErrAllocation)
	}
	lookup := func(i int) *Tensor { return g.tensors[i] }
	for _, id := range g.plan {
		n := g.nodes[id]
		var err error
		if n.kernel != nil {
			err = safeInvoke(n, g.kernelContext(n))
		} else {
			err = EvalNode(n, lookup)
		}
		if err != nil {
			return fmt.Errorf("%w: node %d (%s): %v", ErrInvocation, id, n.Registration.OpName(), err)
		}
	}
	return nil
}
