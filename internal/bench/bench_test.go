package bench

import (
	"errors"
	"testing"
	"time"

	"github.com/samcharles93/offload/internal/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGraph advances a fake clock by step on every invocation.
type fakeGraph struct {
	clock   *time.Time
	step    time.Duration
	failAt  int
	calls   int
	outputs []*graph.Tensor
}

func (f *fakeGraph) Invoke() error {
	f.calls++
	if f.failAt > 0 && f.calls == f.failAt {
		return errors.New("kernel failed")
	}
	if f.clock != nil {
		*f.clock = f.clock.Add(f.step)
	}
	return nil
}

func (f *fakeGraph) Outputs() []int { return make([]int, len(f.outputs)) }

func (f *fakeGraph) OutputTensor(i int) (graph.TensorView, error) {
	return graph.ViewOf(f.outputs[i]), nil
}

func tensor(t *testing.T, dt graph.DType, shape ...int) *graph.Tensor {
	t.Helper()
	tn, err := graph.NewTensor("out", dt, shape)
	require.NoError(t, err)
	return tn
}

func TestLoadInput(t *testing.T) {
	t.Parallel()
	in := tensor(t, graph.Float32, 1, 940)
	data := make([]float32, 940)
	for i := range data {
		data[i] = float32(i)
	}
	require.NoError(t, LoadInput(graph.ViewOf(in), data))
	assert.Equal(t, data, in.Float32s())
}

func TestLoadInputSizeMismatchCopiesNothing(t *testing.T) {
	t.Parallel()
	in := tensor(t, graph.Float32, 1, 941)
	data := make([]float32, 940)
	for i := range data {
		data[i] = 1
	}
	err := LoadInput(graph.ViewOf(in), data)
	require.ErrorIs(t, err, ErrSizeMismatch)
	for _, v := range in.Float32s() {
		require.Zero(t, v)
	}
}

func TestLoadInputRejectsNonFloat(t *testing.T) {
	t.Parallel()
	in := tensor(t, graph.Int8, 4)
	err := LoadInput(graph.ViewOf(in), []float32{1, 2, 3, 4})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSizeMismatch)
}

func TestLoadInputStaleView(t *testing.T) {
	t.Parallel()
	b := graph.NewBuilder("id")
	in := b.AddTensor(tensor(t, graph.Float32, 2))
	out := b.AddTensor(tensor(t, graph.Float32, 2))
	b.AddNode(graph.Registration{Code: graph.CodeRelu}, []int{in}, []int{out}, graph.ActNone)
	b.SetInputs(in)
	b.SetOutputs(out)
	g, err := b.Build()
	require.NoError(t, err)
	require.NoError(t, g.Allocate())
	v, err := g.InputTensor(0)
	require.NoError(t, err)
	require.NoError(t, g.Allocate())
	require.ErrorIs(t, LoadInput(v, []float32{1, 2}), graph.ErrStaleTensor)
}

func TestRunTimedFixedDuration(t *testing.T) {
	t.Parallel()
	now := time.Unix(1700000000, 0)
	d := 2500 * time.Microsecond
	g := &fakeGraph{clock: &now, step: d}
	b := New(g, WithClock(func() time.Time { return now }))

	timing, err := b.RunTimed(100)
	require.NoError(t, err)
	assert.Equal(t, 100, timing.Iterations)
	assert.Equal(t, 100*d, timing.Total)
	assert.Equal(t, d, timing.AvgLatency)
	assert.InDelta(t, 1/d.Seconds(), timing.Throughput, 1e-9)
	assert.InDelta(t, 2.5, timing.AvgMillis(), 1e-12)
	assert.Equal(t, 100, g.calls)
}

func TestRunTimedAbortsOnFailure(t *testing.T) {
	t.Parallel()
	now := time.Unix(0, 0)
	g := &fakeGraph{clock: &now, step: time.Millisecond, failAt: 4}
	timing, err := New(g, WithClock(func() time.Time { return now })).RunTimed(10)
	require.Error(t, err)
	assert.Equal(t, Timing{}, timing)
	assert.Equal(t, 4, g.calls)

	_, err = New(g).RunTimed(0)
	require.Error(t, err)
}

func TestRunOnceReportsOutputs(t *testing.T) {
	t.Parallel()
	out := tensor(t, graph.Float32, 1, 4)
	copy(out.Float32s(), []float32{0.1, 0.7, 0.7, 0.2})
	g := &fakeGraph{outputs: []*graph.Tensor{out}}

	outs, err := New(g).RunOnce(2)
	require.NoError(t, err)
	require.Len(t, outs, 1)
	assert.Equal(t, 1, g.calls)
	o := outs[0]
	assert.Equal(t, "FLOAT32", o.Type)
	assert.Equal(t, 4, o.Elements)
	assert.InDeltaSlice(t, []float64{0.1, 0.7}, o.Values, 1e-6)
	assert.True(t, o.Truncated())
	require.NotNil(t, o.Prediction)
	assert.Equal(t, 1, o.Prediction.Index, "first maximum wins")
	assert.InDelta(t, 0.7, o.Prediction.Score, 1e-6)

	g.failAt = 2
	_, err = New(g).RunOnce(2)
	require.Error(t, err)
}

func TestDescribeIntegerOutputs(t *testing.T) {
	t.Parallel()
	i8 := tensor(t, graph.Int8, 3)
	copy(i8.Data(), []byte{0xff, 0x7f, 0x80})
	u8 := tensor(t, graph.UInt8, 2)
	copy(u8.Data(), []byte{0xff, 3})
	single := tensor(t, graph.Float32, 1)
	single.Float32s()[0] = 3

	g := &fakeGraph{outputs: []*graph.Tensor{i8, u8, single}}
	outs, err := New(g).ReportOutputs(0)
	require.NoError(t, err)
	require.Len(t, outs, 3)
	assert.Equal(t, []float64{-1, 127, -128}, outs[0].Values)
	assert.Nil(t, outs[0].Prediction)
	assert.Equal(t, []float64{255, 3}, outs[1].Values)
	assert.Equal(t, 2, outs[2].Index)
	assert.Nil(t, outs[2].Prediction, "single element outputs have no prediction")
	assert.False(t, outs[2].Truncated())
}

func TestArgmaxSkipsNaN(t *testing.T) {
	t.Parallel()
	nan := float32(0)
	nan = nan / nan
	p := argmax([]float32{nan, 1, 2})
	require.NotNil(t, p)
	assert.Equal(t, 2, p.Index)
	assert.Nil(t, argmax([]float32{nan}))
}
