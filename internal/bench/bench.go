// Package bench measures steady-state invocation performance of a graph.
package bench

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/samcharles93/offload/internal/graph"
)

// ErrSizeMismatch is fatal: the input data does not fit the input tensor.
var ErrSizeMismatch = errors.New("input size mismatch")

// DefaultPreview is the number of output values reported per tensor.
const DefaultPreview = 20

// Invoker is the part of a graph the benchmark drives.
type Invoker interface {
	Invoke() error
	Outputs() []int
	OutputTensor(i int) (graph.TensorView, error)
}

// Timing is the result of a timed run.
type Timing struct {
	Iterations int           `json:"iterations"`
	Total      time.Duration `json:"total_ns"`
	AvgLatency time.Duration `json:"avg_latency_ns"`
	// Throughput is invocations per second.
	Throughput float64 `json:"throughput"`
}

// AvgMillis is the average latency in milliseconds.
func (t Timing) AvgMillis() float64 {
	return float64(t.AvgLatency) / float64(time.Millisecond)
}

// Prediction is the arg-max of a float output.
type Prediction struct {
	Index int     `json:"index"`
	Score float32 `json:"score"`
}

// Output is a preview of one output tensor.
type Output struct {
	Index      int         `json:"index"`
	Name       string      `json:"name"`
	Type       string      `json:"type"`
	Shape      []int       `json:"shape"`
	Elements   int         `json:"elements"`
	Values     []float64   `json:"values,omitempty"`
	Prediction *Prediction `json:"prediction,omitempty"`
}

// Truncated reports whether Values holds fewer than all elements.
func (o Output) Truncated() bool { return len(o.Values) < o.Elements }

// Option configures a Benchmark.
type Option func(*Benchmark)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Benchmark) { b.now = now }
}

// Benchmark runs a graph repeatedly. The graph must be allocated and its
// inputs loaded.
type Benchmark struct {
	g   Invoker
	now func() time.Time
}

func New(g Invoker, opts ...Option) *Benchmark {
	b := &Benchmark{g: g, now: time.Now}
	for _, o := range opts {
		o(b)
	}
	return b
}

// LoadInput copies data into the tensor behind v. The element count must
// match exactly; on mismatch nothing is written.
func LoadInput(v graph.TensorView, data []float32) error {
	want := v.NumElements()
	if len(data) != want {
		return fmt.Errorf("%w: tensor %q expects %d elements, got %d", ErrSizeMismatch, v.Name, want, len(data))
	}
	dst, err := v.Float32s()
	if err != nil {
		return err
	}
	if len(dst) != want {
		return fmt.Errorf("%w: tensor %q storage holds %d elements, shape needs %d", ErrSizeMismatch, v.Name, len(dst), want)
	}
	copy(dst, data)
	return nil
}

// RunOnce performs one untimed invocation and returns output previews.
func (b *Benchmark) RunOnce(preview int) ([]Output, error) {
	if err := b.g.Invoke(); err != nil {
		return nil, fmt.Errorf("warm-up: %w", err)
	}
	return b.ReportOutputs(preview)
}

// RunTimed invokes the graph iterations times back to back. Any failure
// discards the timing.
func (b *Benchmark) RunTimed(iterations int) (Timing, error) {
	if iterations <= 0 {
		return Timing{}, fmt.Errorf("iterations must be positive, got %d", iterations)
	}
	start := b.now()
	for i := range iterations {
		if err := b.g.Invoke(); err != nil {
			return Timing{}, fmt.Errorf("iteration %d: %w", i, err)
		}
	}
	total := b.now().Sub(start)

	t := Timing{Iterations: iterations, Total: total, AvgLatency: total / time.Duration(iterations)}
	if total > 0 {
		t.Throughput = float64(iterations) / total.Seconds()
	}
	return t, nil
}

// ReportOutputs previews every output tensor. preview <= 0 means
// DefaultPreview.
func (b *Benchmark) ReportOutputs(preview int) ([]Output, error) {
	if preview <= 0 {
		preview = DefaultPreview
	}
	outs := make([]Output, 0, len(b.g.Outputs()))
	for i := range b.g.Outputs() {
		v, err := b.g.OutputTensor(i)
		if err != nil {
			return nil, err
		}
		o, err := Describe(v, preview)
		if err != nil {
			return nil, err
		}
		o.Index = i
		outs = append(outs, o)
	}
	return outs, nil
}

// Describe decodes up to preview values of v in storage order.
func Describe(v graph.TensorView, preview int) (Output, error) {
	o := Output{
		Index:    v.Index,
		Name:     v.Name,
		Type:     v.Type.String(),
		Shape:    append([]int(nil), v.Shape...),
		Elements: v.NumElements(),
	}
	raw, err := v.Data()
	if err != nil {
		return o, err
	}
	width := v.Type.Size()
	if width == 0 {
		return o, nil
	}
	n := min(preview, len(raw)/width)
	switch v.Type {
	case graph.Float32:
		fs, _ := v.Float32s()
		o.Values = make([]float64, n)
		for i := range n {
			o.Values[i] = float64(fs[i])
		}
		if len(fs) > 1 {
			o.Prediction = argmax(fs)
		}
	case graph.Int8:
		o.Values = make([]float64, n)
		for i := range n {
			o.Values[i] = float64(int8(raw[i]))
		}
	case graph.UInt8, graph.Bool:
		o.Values = make([]float64, n)
		for i := range n {
			o.Values[i] = float64(raw[i])
		}
	case graph.Int32:
		o.Values = make([]float64, n)
		for i := range n {
			o.Values[i] = float64(int32(binary.NativeEndian.Uint32(raw[i*4:])))
		}
	case graph.Int64:
		o.Values = make([]float64, n)
		for i := range n {
			o.Values[i] = float64(int64(binary.NativeEndian.Uint64(raw[i*8:])))
		}
	}
	return o, nil
}

// argmax returns the first maximum. NaNs never win.
func argmax(v []float32) *Prediction {
	best := -1
	for i, x := range v {
		if math.IsNaN(float64(x)) {
			continue
		}
		if best < 0 || x > v[best] {
			best = i
		}
	}
	if best < 0 {
		return nil
	}
	return &Prediction{Index: best, Score: v[best]}
}
