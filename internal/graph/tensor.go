package graph

import (
	"fmt"
	"unsafe"
)

// Tensor is a named, typed, shaped buffer. Storage is owned by the graph and is
// replaced on every allocation event; constant tensors keep their data.
type Tensor struct {
	Name     string
	Type     DType
	Shape    []int
	Constant bool

	data []byte
}

// NewTensor returns a tensor with freshly allocated storage. Delegates use it
// for scratch buffers that live outside the graph.
func NewTensor(name string, dt DType, shape []int) (*Tensor, error) {
	t := &Tensor{Name: name, Type: dt, Shape: append([]int(nil), shape...)}
	size, err := t.byteSize()
	if err != nil {
		return nil, err
	}
	t.data = alignedBytes(size)
	return t, nil
}

// NumElements returns the product of the shape, or -1 when any dimension is
// unresolved.
func (t *Tensor) NumElements() int {
	return numElements(t.Shape)
}

// Bytes returns the storage length in bytes (0 when unallocated).
func (t *Tensor) Bytes() int {
	return len(t.data)
}

// Data returns the raw storage.
func (t *Tensor) Data() []byte {
	return t.data
}

// Float32s reinterprets the storage as float32 values. It returns nil for other
// dtypes.
func (t *Tensor) Float32s() []float32 {
	if t.Type != Float32 {
		return nil
	}
	return float32View(t.data)
}

// SetData installs constant data. The length must match the declared shape.
func (t *Tensor) SetData(b []byte) error {
	size, err := t.byteSize()
	if err != nil {
		return err
	}
	if len(b) != size {
		return fmt.Errorf("tensor %q: data has %d bytes, shape %v needs %d", t.Name, len(b), t.Shape, size)
	}
	t.data = alignedBytes(size)
	copy(t.data, b)
	return nil
}

func (t *Tensor) byteSize() (int, error) {
	n := t.NumElements()
	if n < 0 {
		return 0, fmt.Errorf("tensor %q has unresolved shape %v", t.Name, t.Shape)
	}
	width := t.Type.Size()
	if width == 0 {
		return 0, fmt.Errorf("tensor %q has unknown dtype", t.Name)
	}
	return n * width, nil
}

func numElements(shape []int) int {
	n := 1
	for _, d := range shape {
		if d <= 0 {
			return -1
		}
		n *= d
	}
	return n
}

// alignedBytes returns a zeroed byte slice backed by 8-byte aligned memory so it
// can be reinterpreted as any supported element type.
func alignedBytes(n int) []byte {
	if n == 0 {
		return []byte{}
	}
	words := make([]uint64, (n+7)/8)
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(words))), n)
}

func float32View(b []byte) []float32 {
	if len(b) < 4 {
		return []float32{}
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(unsafe.SliceData(b))), len(b)/4)
}

// TensorView is a typed view into allocated storage. A view is tied to the
// allocation epoch it was taken in; once the graph reallocates, Data reports
// ErrStaleTensor instead of handing out relocated memory.
type TensorView struct {
	Index int
	Name  string
	Type  DType
	Shape []int
	Bytes int

	data  []byte
	epoch uint64
	owner *Graph
}

// ViewOf returns a detached view over t that never goes stale.
func ViewOf(t *Tensor) TensorView {
	return TensorView{
		Index: -1,
		Name:  t.Name,
		Type:  t.Type,
		Shape: append([]int(nil), t.Shape...),
		Bytes: len(t.data),
		data:  t.data,
	}
}

// NumElements returns the declared element count.
func (v TensorView) NumElements() int {
	return numElements(v.Shape)
}

// Valid reports whether the view still points at live storage.
func (v TensorView) Valid() bool {
	if v.owner == nil {
		return true
	}
	return v.owner.allocated && v.owner.epoch == v.epoch
}

// Data returns the raw storage.
func (v TensorView) Data() ([]byte, error) {
	if !v.Valid() {
		return nil, fmt.Errorf("%w: %q taken at epoch %d", ErrStaleTensor, v.Name, v.epoch)
	}
	return v.data, nil
}

// Float32s returns the storage as float32 values.
func (v TensorView) Float32s() ([]float32, error) {
	if v.Type != Float32 {
		return nil, fmt.Errorf("tensor %q is %s, not FLOAT32", v.Name, v.Type)
	}
	b, err := v.Data()
	if err != nil {
		return nil, err
	}
	return float32View(b), nil
}
