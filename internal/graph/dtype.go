package graph

import (
	"fmt"
	"strings"
)

// DType is the element type of a tensor.
type DType uint8

const (
	Unknown DType = iota
	Float32
	Float16
	Int8
	UInt8
	Int32
	Int64
	Bool
)

// Size returns the element width in bytes, or 0 for Unknown.
func (d DType) Size() int {
	switch d {
	case Float32, Int32:
		return 4
	case Float16:
		return 2
	case Int8, UInt8, Bool:
		return 1
	case Int64:
		return 8
	default:
		return 0
	}
}

func (d DType) String() string {
	switch d {
	case Float32:
		return "FLOAT32"
	case Float16:
		return "FLOAT16"
	case Int8:
		return "INT8"
	case UInt8:
		return "UINT8"
	case Int32:
		return "INT32"
	case Int64:
		return "INT64"
	case Bool:
		return "BOOL"
	default:
		return "UNKNOWN"
	}
}

// ParseDType accepts the lower or upper case type names used by model manifests.
func ParseDType(s string) (DType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "float32", "f32":
		return Float32, nil
	case "float16", "f16":
		return Float16, nil
	case "int8", "i8":
		return Int8, nil
	case "uint8", "u8":
		return UInt8, nil
	case "int32", "i32":
		return Int32, nil
	case "int64", "i64":
		return Int64, nil
	case "bool":
		return Bool, nil
	default:
		return Unknown, fmt.Errorf("unknown dtype %q", s)
	}
}
