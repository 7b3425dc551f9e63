// Package inputdata reads flat float32 feature vectors for the input tensor.
package inputdata

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

var ErrInvalidInput = errors.New("invalid input data")

// Load reads path according to its extension:
//   - .bin, .raw, .f32: little-endian float32 values
//   - .json: a JSON array of numbers
//   - anything else: numbers separated by whitespace or commas
func Load(path string) ([]float32, error) {
	data, release, err := mapFile(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = release() }()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".bin", ".raw", ".f32":
		return decodeRaw(data)
	case ".json":
		var vals []float32
		if err := json.Unmarshal(data, &vals); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidInput, path, err)
		}
		return vals, nil
	default:
		return decodeText(data)
	}
}

func decodeRaw(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("%w: raw float32 data has %d bytes, not a multiple of 4", ErrInvalidInput, len(data))
	}
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return out, nil
}

func decodeText(data []byte) ([]float32, error) {
	fields := bytes.FieldsFunc(data, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t' || r == '\r'
	})
	out := make([]float32, 0, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSuffix(string(f), "f"), 32)
		if err != nil {
			return nil, fmt.Errorf("%w: value %d: %v", ErrInvalidInput, i, err)
		}
		out = append(out, float32(v))
	}
	return out, nil
}

// EncodeRaw is the inverse of the .bin decoder.
func EncodeRaw(vals []float32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}

// Synthetic returns n deterministic values shaped like normalized MFCC
// features, for runs without a recorded input.
func Synthetic(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(math.Sin(float64(i)*0.37) * math.Exp(-float64(i%20)/10))
	}
	return out
}
