package graph

import (
	"fmt"
	"math"
)

// kernelFunc evaluates a builtin node. in entries are nil for omitted optional
// inputs.
type kernelFunc func(n *Node, in, out []*Tensor) error

var builtinKernels = map[BuiltinCode]kernelFunc{
	CodeAdd:            binaryKernel(func(a, b float32) float32 { return a + b }),
	CodeMul:            binaryKernel(func(a, b float32) float32 { return a * b }),
	CodeFullyConnected: fullyConnected,
	CodeRelu:           unaryKernel(relu),
	CodeRelu6:          unaryKernel(relu6),
	CodeLogistic:       unaryKernel(func(x float32) float32 { return float32(1 / (1 + math.Exp(-float64(x)))) }),
	CodeTanh:           unaryKernel(func(x float32) float32 { return float32(math.Tanh(float64(x))) }),
	CodeReshape:        reshape,
	CodeSoftmax:        softmax,
}

// HasKernel reports whether the reference runtime can execute code.
func HasKernel(code BuiltinCode) bool {
	_, ok := builtinKernels[code]
	return ok
}

// EvalNode runs a builtin node with the reference kernels, resolving tensor
// indices through lookup. Delegates use it to execute claimed nodes on their
// own storage.
func EvalNode(n *Node, lookup func(int) *Tensor) (err error) {
	k, ok := builtinKernels[n.Registration.Code]
	if !ok {
		return fmt.Errorf("no kernel registered for %s", n.Registration.OpName())
	}
	in := make([]*Tensor, len(n.Inputs))
	for i, idx := range n.Inputs {
		if idx < 0 {
			continue
		}
		t := lookup(idx)
		if t == nil || t.data == nil {
			return fmt.Errorf("input tensor %d is not allocated", idx)
		}
		in[i] = t
	}
	out := make([]*Tensor, len(n.Outputs))
	for i, idx := range n.Outputs {
		t := lookup(idx)
		if t == nil || t.data == nil {
			return fmt.Errorf("output tensor %d is not allocated", idx)
		}
		out[i] = t
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in %s kernel: %v", n.Registration.OpName(), rec)
		}
	}()
	return k(n, in, out)
}

func relu(x float32) float32 {
	if x < 0 {
		return 0
	}
	return x
}

func relu6(x float32) float32 {
	return min(max(x, 0), 6)
}

func activate(act Activation, v []float32) {
	switch act {
	case ActRelu:
		for i, x := range v {
			v[i] = relu(x)
		}
	case ActRelu6:
		for i, x := range v {
			v[i] = relu6(x)
		}
	}
}

func floats(name string, t *Tensor) ([]float32, error) {
	if t == nil {
		return nil, fmt.Errorf("missing %s tensor", name)
	}
	if t.Type != Float32 {
		return nil, fmt.Errorf("%s tensor %q is %s, only FLOAT32 is supported", name, t.Name, t.Type)
	}
	return t.Float32s(), nil
}

func arity(n *Node, in, out []*Tensor, nin, nout int) error {
	if len(in) < nin || len(out) < nout {
		return fmt.Errorf("%s expects %d inputs and %d outputs, got %d and %d",
			n.Registration.OpName(), nin, nout, len(in), len(out))
	}
	return nil
}

func unaryKernel(f func(float32) float32) kernelFunc {
	return func(n *Node, in, out []*Tensor) error {
		if err := arity(n, in, out, 1, 1); err != nil {
			return err
		}
		x, err := floats("input", in[0])
		if err != nil {
			return err
		}
		y, err := floats("output", out[0])
		if err != nil {
			return err
		}
		if len(x) != len(y) {
			return fmt.Errorf("element count mismatch: %d in, %d out", len(x), len(y))
		}
		for i, v := range x {
			y[i] = f(v)
		}
		return nil
	}
}

// binaryKernel broadcasts b over a when len(b) divides len(a).
func binaryKernel(f func(a, b float32) float32) kernelFunc {
	return func(n *Node, in, out []*Tensor) error {
		if err := arity(n, in, out, 2, 1); err != nil {
			return err
		}
		a, err := floats("lhs", in[0])
		if err != nil {
			return err
		}
		b, err := floats("rhs", in[1])
		if err != nil {
			return err
		}
		y, err := floats("output", out[0])
		if err != nil {
			return err
		}
		if len(b) == 0 || len(a)%len(b) != 0 || len(y) != len(a) {
			return fmt.Errorf("cannot broadcast %d over %d into %d elements", len(b), len(a), len(y))
		}
		for i, v := range a {
			y[i] = f(v, b[i%len(b)])
		}
		activate(n.Activation, y)
		return nil
	}
}

// fullyConnected computes out[b,n] = sum_k in[b,k]*w[n,k] + bias[n] with the
// weight layout [units, depth].
func fullyConnected(n *Node, in, out []*Tensor) error {
	if err := arity(n, in, out, 2, 1); err != nil {
		return err
	}
	x, err := floats("input", in[0])
	if err != nil {
		return err
	}
	wt := in[1]
	w, err := floats("weights", wt)
	if err != nil {
		return err
	}
	if len(wt.Shape) != 2 {
		return fmt.Errorf("weights must be rank 2, got shape %v", wt.Shape)
	}
	units, depth := wt.Shape[0], wt.Shape[1]
	if depth == 0 || len(x)%depth != 0 {
		return fmt.Errorf("input of %d elements is not a multiple of depth %d", len(x), depth)
	}
	var bias []float32
	if len(in) > 2 && in[2] != nil {
		bias, err = floats("bias", in[2])
		if err != nil {
			return err
		}
		if len(bias) != units {
			return fmt.Errorf("bias has %d elements, want %d", len(bias), units)
		}
	}
	y, err := floats("output", out[0])
	if err != nil {
		return err
	}
	batch := len(x) / depth
	if len(y) != batch*units {
		return fmt.Errorf("output has %d elements, want %d", len(y), batch*units)
	}
	for b := range batch {
		row := x[b*depth : (b+1)*depth]
		for u := range units {
			wr := w[u*depth : (u+1)*depth]
			var sum float32
			for k, v := range row {
				sum += v * wr[k]
			}
			if bias != nil {
				sum += bias[u]
			}
			y[b*units+u] = sum
		}
	}
	activate(n.Activation, y)
	return nil
}

func reshape(n *Node, in, out []*Tensor) error {
	if err := arity(n, in, out, 1, 1); err != nil {
		return err
	}
	src, dst := in[0], out[0]
	if src.Type != dst.Type || len(src.data) != len(dst.data) {
		return fmt.Errorf("reshape %v (%s) to %v (%s) changes size", src.Shape, src.Type, dst.Shape, dst.Type)
	}
	copy(dst.data, src.data)
	return nil
}

// softmax normalizes over the last dimension.
func softmax(n *Node, in, out []*Tensor) error {
	if err := arity(n, in, out, 1, 1); err != nil {
		return err
	}
	x, err := floats("input", in[0])
	if err != nil {
		return err
	}
	y, err := floats("output", out[0])
	if err != nil {
		return err
	}
	if len(x) != len(y) {
		return fmt.Errorf("element count mismatch: %d in, %d out", len(x), len(y))
	}
	shape := in[0].Shape
	inner := len(x)
	if len(shape) > 0 {
		inner = shape[len(shape)-1]
	}
	if inner <= 0 || len(x)%inner != 0 {
		return fmt.Errorf("invalid softmax shape %v", shape)
	}
	for off := 0; off < len(x); off += inner {
		row, dst := x[off:off+inner], y[off:off+inner]
		peak := row[0]
		for _, v := range row[1:] {
			peak = max(peak, v)
		}
		var sum float64
		for i, v := range row {
			e := math.Exp(float64(v - peak))
			dst[i] = float32(e)
			sum += e
		}
		for i := range dst {
			dst[i] = float32(float64(dst[i]) / sum)
		}
	}
	return nil
}
