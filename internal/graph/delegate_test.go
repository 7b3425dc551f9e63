package graph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// replayKernel executes the partition's nodes with the reference kernels,
// keeping intermediates in its own scratch tensors.
type replayKernel struct {
	part     Partition
	scratch  map[int]*Tensor
	prepares int
	invokes  int
}

func (k *replayKernel) Prepare(ctx KernelContext) error {
	k.prepares++
	k.scratch = make(map[int]*Tensor)
	boundary := make(map[int]bool)
	for _, t := range append(append([]int(nil), k.part.Inputs...), k.part.Outputs...) {
		boundary[t] = true
	}
	for idx, info := range k.part.Tensors {
		if boundary[idx] {
			continue
		}
		t, err := NewTensor(info.Name, info.Type, info.Shape)
		if err != nil {
			return err
		}
		k.scratch[idx] = t
	}
	return nil
}

func (k *replayKernel) Invoke(ctx KernelContext) error {
	k.invokes++
	lookup := func(idx int) *Tensor {
		if t, ok := k.scratch[idx]; ok {
			return t
		}
		t, err := ctx.Tensor(idx)
		if err != nil {
			return nil
		}
		return t
	}
	for i := range k.part.Nodes {
		if err := EvalNode(&k.part.Nodes[i], lookup); err != nil {
			return err
		}
	}
	return nil
}

// closableKernel records whether a discarded kernel was released.
type closableKernel struct {
	replayKernel
	closed int
}

func (k *closableKernel) Close() error {
	k.closed++
	return nil
}

// partialDelegate hands out closable kernels, failing Init for run failAt and
// optionally failing Prepare after all claims succeed.
type partialDelegate struct {
	claim      []int
	failAt     int
	prepareErr error
	kernels    []*closableKernel
}

func (d *partialDelegate) Prepare(ctx DelegateContext) error {
	err := ctx.ReplaceNodeSubsetsWithDelegateKernels(DelegateRegistration{
		CustomName: "TIDL_Subgraph",
		Init: func(p Partition) (DelegateKernel, error) {
			if len(d.kernels) == d.failAt {
				return nil, errors.New("out of device memory")
			}
			k := &closableKernel{replayKernel: replayKernel{part: p}}
			d.kernels = append(d.kernels, k)
			return k, nil
		},
	}, d.claim)
	if err != nil {
		return err
	}
	return d.prepareErr
}

func (d *partialDelegate) Close() error { return nil }

type testDelegate struct {
	name    string
	claim   []int
	err     error
	panics  bool
	kernels []*replayKernel
	closed  bool
}

func (d *testDelegate) Prepare(ctx DelegateContext) error {
	if d.panics {
		panic("plugin crashed")
	}
	if len(d.claim) > 0 {
		err := ctx.ReplaceNodeSubsetsWithDelegateKernels(DelegateRegistration{
			CustomName: d.name,
			Version:    1,
			Init: func(p Partition) (DelegateKernel, error) {
				k := &replayKernel{part: p}
				d.kernels = append(d.kernels, k)
				return k, nil
			},
		}, d.claim)
		if err != nil {
			return err
		}
	}
	return d.err
}

func (d *testDelegate) Close() error {
	d.closed = true
	return nil
}

func runCPU(t *testing.T, input []float32) []float32 {
	t.Helper()
	g := buildMLP(t)
	require.NoError(t, g.Allocate())
	writeInput(t, g, input)
	require.NoError(t, g.Invoke())
	return readOutput(t, g)
}

func TestDelegateReplacesContiguousRun(t *testing.T) {
	t.Parallel()
	input := []float32{0.3, -1, 2, 0.5}
	want := runCPU(t, input)

	g := buildMLP(t)
	require.NoError(t, g.Allocate())
	d := &testDelegate{name: "TIDL_Subgraph", claim: []int{0, 1}}
	require.NoError(t, g.ModifyGraphWithDelegate(d))

	plan := g.ExecutionPlan()
	require.Len(t, plan, 2)
	assert.Equal(t, 3, plan[0], "delegate node takes the position of the first replaced node")
	assert.Equal(t, 2, plan[1])

	dn, err := g.Node(plan[0])
	require.NoError(t, err)
	assert.Equal(t, CodeDelegate, dn.Registration.Code)
	assert.Equal(t, "TIDL_Subgraph", dn.Registration.CustomName)
	assert.Equal(t, []int{0, 1}, dn.Subsumed)
	assert.True(t, dn.IsDelegate())
	assert.Equal(t, []int{0, 1, 2, 4}, dn.Inputs)
	assert.Equal(t, []int{5}, dn.Outputs)

	// Using the graph without reallocating is an allocation error.
	require.ErrorIs(t, g.Invoke(), ErrAllocation)

	require.NoError(t, g.Allocate())
	writeInput(t, g, input)
	require.NoError(t, g.Invoke())
	assert.InDeltaSlice(t, want, readOutput(t, g), 1e-6)

	require.Len(t, d.kernels, 1)
	assert.Equal(t, 1, d.kernels[0].prepares)
	assert.Equal(t, 1, d.kernels[0].invokes)
	assert.Equal(t, 3, g.OriginalNodeCount())
}

func TestDelegateSplitsNonContiguousClaims(t *testing.T) {
	t.Parallel()
	input := []float32{1, 1, 1, 1}
	want := runCPU(t, input)

	g := buildMLP(t)
	require.NoError(t, g.Allocate())
	d := &testDelegate{claim: []int{0, 2}}
	require.NoError(t, g.ModifyGraphWithDelegate(d))

	plan := g.ExecutionPlan()
	require.Equal(t, []int{3, 1, 4}, plan)
	assert.Len(t, d.kernels, 2)

	require.NoError(t, g.Allocate())
	writeInput(t, g, input)
	require.NoError(t, g.Invoke())
	assert.InDeltaSlice(t, want, readOutput(t, g), 1e-6)
}

func TestDelegateFailureRestoresGraph(t *testing.T) {
	t.Parallel()

	cases := map[string]*testDelegate{
		"prepare error": {claim: []int{0, 1, 2}, err: errors.New("artifacts do not match model")},
		"panic":         {panics: true},
		"unknown node":  {claim: []int{42}},
	}
	for name, d := range cases {
		t.Run(name, func(t *testing.T) {
			g := buildMLP(t)
			require.NoError(t, g.Allocate())
			before := g.ExecutionPlan()

			err := g.ModifyGraphWithDelegate(d)
			require.ErrorIs(t, err, ErrGraphModification)
			assert.Equal(t, before, g.ExecutionPlan())
			assert.Equal(t, 3, g.NodeCount())
			assert.True(t, g.Allocated(), "graph stays usable on the CPU path")

			writeInput(t, g, []float32{1, 2, 3, 4})
			require.NoError(t, g.Invoke())
		})
	}
}

func TestDelegateClaimingNothingKeepsPlan(t *testing.T) {
	t.Parallel()
	g := buildMLP(t)
	require.NoError(t, g.Allocate())
	require.NoError(t, g.ModifyGraphWithDelegate(&testDelegate{}))
	assert.Equal(t, []int{0, 1, 2}, g.ExecutionPlan())
	assert.False(t, g.Allocated())
	require.NoError(t, g.Allocate())
	writeInput(t, g, []float32{1, 2, 3, 4})
	require.NoError(t, g.Invoke())
}

func TestNilDelegate(t *testing.T) {
	t.Parallel()
	g := buildMLP(t)
	require.ErrorIs(t, g.ModifyGraphWithDelegate(nil), ErrGraphModification)
}

func TestKernelContextOnlyExposesBoundaryTensors(t *testing.T) {
	t.Parallel()
	g := buildMLP(t)
	d := &testDelegate{claim: []int{0, 1}}
	require.NoError(t, g.ModifyGraphWithDelegate(d))
	require.NoError(t, g.Allocate())

	n := g.nodes[3]
	ctx := g.kernelContext(n)
	_, err := ctx.Tensor(0)
	require.NoError(t, err)
	_, err = ctx.Tensor(3) // hidden, internal to the partition
	require.Error(t, err)
}

func TestFailedRewriteClosesDiscardedKernels(t *testing.T) {
	t.Parallel()

	t.Run("later init fails", func(t *testing.T) {
		g := buildMLP(t)
		require.NoError(t, g.Allocate())
		d := &partialDelegate{claim: []int{0, 2}, failAt: 1}
		require.ErrorIs(t, g.ModifyGraphWithDelegate(d), ErrGraphModification)
		require.Len(t, d.kernels, 1)
		assert.Equal(t, 1, d.kernels[0].closed)
		assert.Equal(t, []int{0, 1, 2}, g.ExecutionPlan())
	})

	t.Run("prepare fails after claiming", func(t *testing.T) {
		g := buildMLP(t)
		require.NoError(t, g.Allocate())
		d := &partialDelegate{claim: []int{0, 1}, failAt: -1, prepareErr: errors.New("artifacts mismatch")}
		require.ErrorIs(t, g.ModifyGraphWithDelegate(d), ErrGraphModification)
		require.Len(t, d.kernels, 1)
		assert.Equal(t, 1, d.kernels[0].closed)
		assert.Equal(t, 3, g.NodeCount())
	})

	t.Run("success keeps kernels open", func(t *testing.T) {
		g := buildMLP(t)
		require.NoError(t, g.Allocate())
		d := &partialDelegate{claim: []int{0, 2}, failAt: -1}
		require.NoError(t, g.ModifyGraphWithDelegate(d))
		require.Len(t, d.kernels, 2)
		for _, k := range d.kernels {
			assert.Zero(t, k.closed)
		}
	})
}
