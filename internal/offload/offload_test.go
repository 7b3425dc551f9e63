package offload

import (
	"testing"

	"github.com/samcharles93/offload/internal/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopKernel struct{}

func (nopKernel) Prepare(graph.KernelContext) error { return nil }
func (nopKernel) Invoke(graph.KernelContext) error  { return nil }

type claimer struct {
	name  string
	nodes []int
}

func (c claimer) Prepare(ctx graph.DelegateContext) error {
	return ctx.ReplaceNodeSubsetsWithDelegateKernels(graph.DelegateRegistration{
		CustomName: c.name,
		Init:       func(graph.Partition) (graph.DelegateKernel, error) { return nopKernel{}, nil },
	}, c.nodes)
}

func (claimer) Close() error { return nil }

// chain builds n RELU nodes in sequence.
func chain(t *testing.T, n int) *graph.Graph {
	t.Helper()
	b := graph.NewBuilder("chain")
	prev := -1
	for i := 0; i <= n; i++ {
		tn, err := graph.NewTensor("t", graph.Float32, []int{2})
		require.NoError(t, err)
		idx := b.AddTensor(tn)
		if i == 0 {
			b.SetInputs(idx)
		} else {
			b.AddNode(graph.Registration{Code: graph.CodeRelu}, []int{prev}, []int{idx}, graph.ActNone)
		}
		prev = idx
	}
	b.SetOutputs(prev)
	g, err := b.Build()
	require.NoError(t, err)
	return g
}

func node(code graph.BuiltinCode, name string) graph.Node {
	return graph.Node{Registration: graph.Registration{Code: code, CustomName: name}}
}

func TestNameMarker(t *testing.T) {
	t.Parallel()
	s := NameMarker{Markers: []string{"TIDL", "tidl"}}
	assert.True(t, s.Match(node(graph.CodeDelegate, "TIDL_SubgraphKernel")))
	assert.True(t, s.Match(node(graph.CodeCustom, "my_tidl_op")))
	assert.False(t, s.Match(node(graph.CodeDelegate, "Tidl")), "matching is case sensitive")
	assert.False(t, s.Match(node(graph.CodeDelegate, "")))
	assert.False(t, NameMarker{Markers: []string{""}}.Match(node(graph.CodeCustom, "x")))
}

func TestDelegateCode(t *testing.T) {
	t.Parallel()
	s := DelegateCode{Names: graph.BuiltinName}
	assert.True(t, s.Match(node(graph.CodeDelegate, "")))
	assert.False(t, s.Match(node(graph.CodeDelegate, "SomeVendor")), "named nodes are left to other strategies")
	assert.False(t, s.Match(node(graph.CodeAdd, "")))
	assert.False(t, s.Match(node(graph.CodeCustom, "")))

	// A runtime whose name table knows the delegate code does not need the fallback.
	named := DelegateCode{Names: func(graph.BuiltinCode) string { return "DELEGATE" }}
	assert.False(t, named.Match(node(graph.CodeDelegate, "")))
	assert.True(t, DelegateCode{}.Match(node(graph.CodeDelegate, "")))
}

func TestClassifyFirstMatchWins(t *testing.T) {
	t.Parallel()
	g := chain(t, 5)
	require.NoError(t, g.Allocate())
	require.NoError(t, g.ModifyGraphWithDelegate(claimer{name: "TIDL_Subgraph", nodes: []int{1, 2, 3}}))

	c := NewClassifier()
	plan := g.ExecutionPlan()
	require.Equal(t, []int{0, 5, 4}, plan)
	classes, err := c.Classify(g, plan)
	require.NoError(t, err)
	require.Len(t, classes, 3)

	assert.Equal(t, CPU, classes[0].Placement)
	assert.Equal(t, "RELU", classes[0].Op)
	assert.Equal(t, Accelerator, classes[1].Placement)
	assert.Equal(t, "name-marker", classes[1].Strategy)
	assert.Equal(t, 3, classes[1].Subsumed)
	assert.Equal(t, CPU, classes[2].Placement)

	again, err := c.Classify(g, plan)
	require.NoError(t, err)
	assert.Equal(t, classes, again)
	assert.Equal(t, plan, g.ExecutionPlan())
}

func TestClassifyUnnamedDelegate(t *testing.T) {
	t.Parallel()
	g := chain(t, 3)
	require.NoError(t, g.ModifyGraphWithDelegate(claimer{nodes: []int{0, 1, 2}}))
	classes, err := NewClassifier().Classify(g, g.ExecutionPlan())
	require.NoError(t, err)
	require.Len(t, classes, 1)
	assert.Equal(t, Accelerator, classes[0].Placement)
	assert.Equal(t, "delegate-code", classes[0].Strategy)
}

func TestClassifyUnknownNode(t *testing.T) {
	t.Parallel()
	g := chain(t, 1)
	_, err := NewClassifier().Classify(g, []int{7})
	require.Error(t, err)
}

func TestSummarize(t *testing.T) {
	t.Parallel()
	classes := []NodeClass{{Placement: CPU}, {Placement: Accelerator}, {Placement: CPU}}
	s := Summarize(5, []int{0, 5, 4}, classes, true)
	assert.Equal(t, 3, s.PlanNodes)
	assert.Equal(t, 1, s.DelegateNodes)
	assert.Equal(t, 2, s.CPUNodes)
	assert.Equal(t, s.PlanNodes, s.DelegateNodes+s.CPUNodes)
	assert.Equal(t, 3, s.ApproxDelegatedOps)
	assert.InDelta(t, 0.6, s.ApproxFraction, 1e-9)
	assert.Empty(t, s.Mismatch)
	assert.True(t, s.Delegated())
}

func TestSummarizeMismatch(t *testing.T) {
	t.Parallel()
	classes := []NodeClass{{Placement: CPU}, {Placement: CPU}}
	s := Summarize(2, []int{0, 1}, classes, true)
	assert.NotEmpty(t, s.Mismatch)
	assert.Equal(t, 0, s.ApproxDelegatedOps)

	s = Summarize(2, []int{0, 1}, classes, false)
	assert.Empty(t, s.Mismatch, "no delegate, nothing to mismatch")
	assert.False(t, s.Delegated())
	assert.Zero(t, Summarize(0, nil, nil, false).ApproxFraction)
}

func TestPlacementText(t *testing.T) {
	t.Parallel()
	b, err := Accelerator.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "accelerator", string(b))
	assert.Equal(t, "cpu", CPU.String())

	var p Placement
	require.NoError(t, p.UnmarshalText([]byte("accelerator")))
	assert.Equal(t, Accelerator, p)
	require.Error(t, p.UnmarshalText([]byte("gpu")))
}
