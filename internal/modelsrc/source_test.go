package modelsrc

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/offload/internal/graph"
)

func TestLoadJSONManifest(t *testing.T) {
	t.Parallel()
	g, err := FileSource{}.LoadGraph(filepath.Join("testdata", "kws.json"))
	require.NoError(t, err)

	assert.Equal(t, "kws", g.Name())
	assert.Equal(t, 4, g.OriginalNodeCount())
	assert.Equal(t, []int{0, 1, 2, 3}, g.ExecutionPlan())

	require.NoError(t, g.Allocate())
	in, err := g.InputTensor(0)
	require.NoError(t, err)
	assert.Equal(t, 940, in.NumElements())
	assert.Equal(t, 940*4, in.Bytes)

	require.NoError(t, g.Invoke())
	out, err := g.OutputTensor(0)
	require.NoError(t, err)
	probs, err := out.Float32s()
	require.NoError(t, err)
	var sum float32
	for _, p := range probs {
		sum += p
	}
	assert.InDelta(t, 1.0, sum, 1e-5)
}

func TestLoadYAMLManifest(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "tiny.yaml")
	doc := `
tensors:
  - {name: x, type: float32, shape: [1, 2]}
  - {name: y, type: float32, shape: [1, 2]}
  - {name: z, type: float32, shape: [1, 2]}
operators:
  - {op: relu, inputs: [0], outputs: [1]}
  - {op: CUSTOM, custom: VendorPostProcess, inputs: [1], outputs: [2]}
inputs: [0]
outputs: [2]
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	g, err := FileSource{}.LoadGraph(path)
	require.NoError(t, err)
	assert.Equal(t, "tiny", g.Name())

	n, err := g.Node(1)
	require.NoError(t, err)
	assert.Equal(t, graph.CodeCustom, n.Registration.Code)
	assert.Equal(t, "VendorPostProcess", n.Registration.OpName())
}

func TestSeededTensorsAreDeterministic(t *testing.T) {
	t.Parallel()
	a := seeded(7, 32, 0.5)
	b := seeded(7, 32, 0.5)
	assert.Equal(t, a, b)
	for _, v := range a {
		assert.LessOrEqual(t, v, 0.5)
		assert.GreaterOrEqual(t, v, -0.5)
	}
	assert.NotEqual(t, a, seeded(8, 32, 0.5))
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	cases := map[string]string{
		"bad json":     `{"tensors": [`,
		"unknown op":   `{"tensors":[{"name":"a","type":"float32","shape":[1]},{"name":"b","type":"float32","shape":[1]}],"operators":[{"op":"WARP_DRIVE","inputs":[0],"outputs":[1]}],"inputs":[0],"outputs":[1]}`,
		"bad dtype":    `{"tensors":[{"name":"a","type":"complex128","shape":[1]}]}`,
		"data length":  `{"tensors":[{"name":"a","type":"float32","shape":[3],"data":[1,2]}]}`,
		"broken graph": `{"tensors":[{"name":"a","type":"float32","shape":[1]},{"name":"b","type":"float32","shape":[1]}],"operators":[{"op":"RELU","inputs":[0],"outputs":[1]}],"outputs":[1]}`,
	}
	for name, body := range cases {
		path := filepath.Join(dir, name+".json")
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		_, err := FileSource{}.LoadGraph(path)
		require.ErrorIs(t, err, ErrLoad, name)
	}

	_, err := FileSource{}.LoadGraph(filepath.Join(dir, "missing.json"))
	require.ErrorIs(t, err, ErrLoad)
	_, err = FileSource{}.LoadGraph("")
	require.ErrorIs(t, err, ErrLoad)
}

func TestRawOperatorCode(t *testing.T) {
	t.Parallel()
	code := 200
	reg, err := registration(OperatorSpec{Code: &code})
	require.NoError(t, err)
	assert.Equal(t, graph.BuiltinCode(200), reg.Code)
	assert.Equal(t, "UNKNOWN(200)", reg.OpName())
}

func TestEncodeUsesTensorByteOrder(t *testing.T) {
	t.Parallel()
	buf, err := encode(graph.Float32, []float64{1.5, -2, 0.25})
	require.NoError(t, err)
	tn, err := graph.NewTensor("w", graph.Float32, []int{3})
	require.NoError(t, err)
	require.NoError(t, tn.SetData(buf))
	assert.Equal(t, []float32{1.5, -2, 0.25}, tn.Float32s())

	buf, err = encode(graph.Int32, []float64{-7})
	require.NoError(t, err)
	assert.Equal(t, int32(-7), int32(binary.NativeEndian.Uint32(buf)))
}
