package modelsrc

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/samcharles93/offload/internal/graph"
)

// Manifest describes a graph: tensors, operators in execution order, and the
// graph inputs and outputs as tensor indices.
type Manifest struct {
	Name      string         `json:"name" yaml:"name"`
	Tensors   []TensorSpec   `json:"tensors" yaml:"tensors"`
	Operators []OperatorSpec `json:"operators" yaml:"operators"`
	Inputs    []int          `json:"inputs" yaml:"inputs"`
	Outputs   []int          `json:"outputs" yaml:"outputs"`
}

// TensorSpec declares a tensor. A tensor with Data or Seed is constant; Seed
// fills a float32 tensor with deterministic values in [-Scale, Scale].
type TensorSpec struct {
	Name  string    `json:"name" yaml:"name"`
	Type  string    `json:"type" yaml:"type"`
	Shape []int     `json:"shape" yaml:"shape"`
	Data  []float64 `json:"data,omitempty" yaml:"data,omitempty"`
	Seed  *uint64   `json:"seed,omitempty" yaml:"seed,omitempty"`
	Scale float64   `json:"scale,omitempty" yaml:"scale,omitempty"`
}

// OperatorSpec declares a node. Op is a builtin name, or "CUSTOM" together
// with Custom. Code overrides Op with a raw operator code.
type OperatorSpec struct {
	Op         string `json:"op" yaml:"op"`
	Code       *int   `json:"code,omitempty" yaml:"code,omitempty"`
	Custom     string `json:"custom,omitempty" yaml:"custom,omitempty"`
	Version    int    `json:"version,omitempty" yaml:"version,omitempty"`
	Inputs     []int  `json:"inputs" yaml:"inputs"`
	Outputs    []int  `json:"outputs" yaml:"outputs"`
	Activation string `json:"activation,omitempty" yaml:"activation,omitempty"`
}

const defaultSeedScale = 0.1

// Build turns a manifest into a validated graph.
func Build(m *Manifest) (*graph.Graph, error) {
	b := graph.NewBuilder(m.Name)
	for i, ts := range m.Tensors {
		t, err := buildTensor(ts)
		if err != nil {
			return nil, fmt.Errorf("tensor %d: %w", i, err)
		}
		b.AddTensor(t)
	}
	for i, op := range m.Operators {
		reg, err := registration(op)
		if err != nil {
			return nil, fmt.Errorf("operator %d: %w", i, err)
		}
		act, err := graph.ParseActivation(op.Activation)
		if err != nil {
			return nil, fmt.Errorf("operator %d: %w", i, err)
		}
		b.AddNode(reg, op.Inputs, op.Outputs, act)
	}
	b.SetInputs(m.Inputs...)
	b.SetOutputs(m.Outputs...)
	return b.Build()
}

func registration(op OperatorSpec) (graph.Registration, error) {
	reg := graph.Registration{CustomName: op.Custom, Version: max(op.Version, 1)}
	if op.Code != nil {
		reg.Code = graph.BuiltinCode(*op.Code)
		return reg, nil
	}
	if op.Op == "" && op.Custom != "" {
		reg.Code = graph.CodeCustom
		return reg, nil
	}
	code, err := graph.ParseBuiltin(op.Op)
	if err != nil {
		return reg, err
	}
	if code == graph.CodeCustom && op.Custom == "" {
		return reg, fmt.Errorf("custom operator needs a custom name")
	}
	reg.Code = code
	return reg, nil
}

func buildTensor(ts TensorSpec) (*graph.Tensor, error) {
	dt, err := graph.ParseDType(ts.Type)
	if err != nil {
		return nil, err
	}
	t := &graph.Tensor{Name: ts.Name, Type: dt, Shape: append([]int(nil), ts.Shape...)}

	switch {
	case len(ts.Data) > 0 && ts.Seed != nil:
		return nil, fmt.Errorf("tensor %q sets both data and seed", ts.Name)
	case len(ts.Data) > 0:
		buf, err := encode(dt, ts.Data)
		if err != nil {
			return nil, fmt.Errorf("tensor %q: %w", ts.Name, err)
		}
		t.Constant = true
		if err := t.SetData(buf); err != nil {
			return nil, err
		}
	case ts.Seed != nil:
		if dt != graph.Float32 {
			return nil, fmt.Errorf("tensor %q: seeded fill needs float32, got %s", ts.Name, dt)
		}
		n := t.NumElements()
		if n < 0 {
			return nil, fmt.Errorf("tensor %q: seeded fill needs a static shape, got %v", ts.Name, ts.Shape)
		}
		scale := ts.Scale
		if scale == 0 {
			scale = defaultSeedScale
		}
		vals := seeded(*ts.Seed, n, scale)
		buf, _ := encode(graph.Float32, vals)
		t.Constant = true
		if err := t.SetData(buf); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func seeded(seed uint64, n int, scale float64) []float64 {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	out := make([]float64, n)
	for i := range out {
		out[i] = (rng.Float64()*2 - 1) * scale
	}
	return out
}

// encode lays values out in host byte order, matching the tensor views.
func encode(dt graph.DType, vals []float64) ([]byte, error) {
	buf := make([]byte, len(vals)*dt.Size())
	for i, v := range vals {
		switch dt {
		case graph.Float32:
			binary.NativeEndian.PutUint32(buf[4*i:], math.Float32bits(float32(v)))
		case graph.Int32:
			binary.NativeEndian.PutUint32(buf[4*i:], uint32(int32(v)))
		case graph.Int64:
			binary.NativeEndian.PutUint64(buf[8*i:], uint64(int64(v)))
		case graph.Int8:
			buf[i] = byte(int8(v))
		case graph.UInt8, graph.Bool:
			buf[i] = byte(uint8(v))
		default:
			return nil, fmt.Errorf("explicit data is not supported for %s", dt)
		}
	}
	return buf, nil
}
