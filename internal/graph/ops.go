package graph

import (
	"fmt"
	"strings"
)

// BuiltinCode identifies an operator kind. The numbering follows the builtin
// operator table used by the flatbuffer model format so that plugins and
// manifests agree on codes.
type BuiltinCode int32

const (
	CodeAdd            BuiltinCode = 0
	CodeAveragePool2D  BuiltinCode = 1
	CodeConcatenation  BuiltinCode = 2
	CodeConv2D         BuiltinCode = 3
	CodeDepthwiseConv  BuiltinCode = 4
	CodeDequantize     BuiltinCode = 6
	CodeFullyConnected BuiltinCode = 9
	CodeLogistic       BuiltinCode = 14
	CodeMaxPool2D      BuiltinCode = 17
	CodeMul            BuiltinCode = 18
	CodeRelu           BuiltinCode = 19
	CodeRelu6          BuiltinCode = 21
	CodeReshape        BuiltinCode = 22
	CodeSoftmax        BuiltinCode = 25
	CodeTanh           BuiltinCode = 28
	CodeCustom         BuiltinCode = 32
	CodeMean           BuiltinCode = 40
	CodeQuantize       BuiltinCode = 114

	// CodeDelegate is reserved for nodes produced by a delegate rewrite. It is
	// intentionally absent from the standard name table: runtimes disagree on
	// whether it has a printable name.
	CodeDelegate BuiltinCode = 51
)

var builtinNames = map[BuiltinCode]string{
	CodeAdd:            "ADD",
	CodeAveragePool2D:  "AVERAGE_POOL_2D",
	CodeConcatenation:  "CONCATENATION",
	CodeConv2D:         "CONV_2D",
	CodeDepthwiseConv:  "DEPTHWISE_CONV_2D",
	CodeDequantize:     "DEQUANTIZE",
	CodeFullyConnected: "FULLY_CONNECTED",
	CodeLogistic:       "LOGISTIC",
	CodeMaxPool2D:      "MAX_POOL_2D",
	CodeMul:            "MUL",
	CodeRelu:           "RELU",
	CodeRelu6:          "RELU6",
	CodeReshape:        "RESHAPE",
	CodeSoftmax:        "SOFTMAX",
	CodeTanh:           "TANH",
	CodeCustom:         "CUSTOM",
	CodeMean:           "MEAN",
	CodeQuantize:       "QUANTIZE",
}

// BuiltinName returns the standard name for code, or "" when the code is not in
// the standard table.
func BuiltinName(code BuiltinCode) string {
	return builtinNames[code]
}

// ParseBuiltin resolves a standard operator name (case-insensitive).
func ParseBuiltin(name string) (BuiltinCode, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for code, n := range builtinNames {
		if n == upper {
			return code, nil
		}
	}
	return 0, fmt.Errorf("unknown builtin operator %q", name)
}

// Registration describes what executes a node. Delegate nodes carry the
// plugin-provided CustomName when the plugin sets one.
type Registration struct {
	Code       BuiltinCode
	CustomName string
	Version    int
}

// OpName returns a printable operator name.
func (r Registration) OpName() string {
	if r.CustomName != "" {
		return r.CustomName
	}
	if name := BuiltinName(r.Code); name != "" {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", r.Code)
}

// Activation is a fused activation applied to an operator's output.
type Activation uint8

const (
	ActNone Activation = iota
	ActRelu
	ActRelu6
)

// ParseActivation accepts "", "none", "relu" and "relu6".
func ParseActivation(s string) (Activation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return ActNone, nil
	case "relu":
		return ActRelu, nil
	case "relu6":
		return ActRelu6, nil
	default:
		return ActNone, fmt.Errorf("unknown fused activation %q", s)
	}
}

// Node is one operation in the graph.
type Node struct {
	Index        int
	Registration Registration
	Inputs       []int
	Outputs      []int
	Activation   Activation

	// Subsumed lists the original node ids a delegate node replaced.
	Subsumed []int

	kernel DelegateKernel
}

// IsDelegate reports whether the node was produced by a delegate rewrite.
func (n *Node) IsDelegate() bool {
	return len(n.Subsumed) > 0
}

func (n *Node) clone() Node {
	c := *n
	c.Inputs = append([]int(nil), n.Inputs...)
	c.Outputs = append([]int(nil), n.Outputs...)
	c.Subsumed = append([]int(nil), n.Subsumed...)
	c.kernel = nil
	return c
}
