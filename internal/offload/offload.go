// Package offload decides which nodes of a rewritten execution plan run on
// the accelerator. Plugins do not always fill in delegate metadata, so the
// decision is made by an ordered list of heuristics.
package offload

import (
	"fmt"
	"strings"

	"github.com/samcharles93/offload/internal/graph"
)

// Placement is where a plan node executes.
type Placement int

const (
	CPU Placement = iota
	Accelerator
)

func (p Placement) String() string {
	if p == Accelerator {
		return "accelerator"
	}
	return "cpu"
}

func (p Placement) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Placement) UnmarshalText(b []byte) error {
	switch string(b) {
	case "accelerator":
		*p = Accelerator
	case "cpu":
		*p = CPU
	default:
		return fmt.Errorf("unknown placement %q", b)
	}
	return nil
}

// Strategy recognizes delegate nodes.
type Strategy interface {
	Name() string
	Match(n graph.Node) bool
}

// NameMarker matches a node whose custom name contains any marker. Matching is
// case sensitive.
type NameMarker struct {
	Markers []string
}

func (NameMarker) Name() string { return "name-marker" }

func (s NameMarker) Match(n graph.Node) bool {
	name := n.Registration.CustomName
	if name == "" {
		return false
	}
	for _, m := range s.Markers {
		if m != "" && strings.Contains(name, m) {
			return true
		}
	}
	return false
}

// DelegateCode matches unnamed nodes carrying the reserved delegate code,
// provided that code has no standard operator name.
type DelegateCode struct {
	Names func(graph.BuiltinCode) string
}

func (DelegateCode) Name() string { return "delegate-code" }

func (s DelegateCode) Match(n graph.Node) bool {
	reg := n.Registration
	if reg.CustomName != "" || reg.Code != graph.CodeDelegate {
		return false
	}
	names := s.Names
	if names == nil {
		names = graph.BuiltinName
	}
	return names(reg.Code) == ""
}

// DefaultStrategies returns the strategies used for TIDL plugins.
func DefaultStrategies() []Strategy {
	return []Strategy{
		NameMarker{Markers: []string{"TIDL", "tidl"}},
		DelegateCode{Names: graph.BuiltinName},
	}
}

// NodeClass is the classification of one plan entry.
type NodeClass struct {
	Position  int       `json:"position"`
	NodeID    int       `json:"node"`
	Op        string    `json:"op"`
	Placement Placement `json:"placement"`
	Strategy  string    `json:"strategy,omitempty"`
	Subsumed  int       `json:"subsumed,omitempty"`
}

// Classifier applies strategies in order; the first match wins.
type Classifier struct {
	Strategies []Strategy
}

func NewClassifier(s ...Strategy) *Classifier {
	if len(s) == 0 {
		s = DefaultStrategies()
	}
	return &Classifier{Strategies: s}
}

// Classify labels every entry of plan. It does not modify g.
func (c *Classifier) Classify(g *graph.Graph, plan []int) ([]NodeClass, error) {
	out := make([]NodeClass, 0, len(plan))
	for pos, id := range plan {
		n, err := g.Node(id)
		if err != nil {
			return nil, fmt.Errorf("classify plan entry %d: %w", pos, err)
		}
		nc := NodeClass{
			Position: pos,
			NodeID:   id,
			Op:       n.Registration.OpName(),
			Subsumed: len(n.Subsumed),
		}
		for _, s := range c.Strategies {
			if s.Match(n) {
				nc.Placement = Accelerator
				nc.Strategy = s.Name()
				break
			}
		}
		out = append(out, nc)
	}
	return out, nil
}

// Summary is an immutable count of the classification.
type Summary struct {
	OriginalNodes int `json:"original_nodes"`
	PlanNodes     int `json:"plan_nodes"`
	DelegateNodes int `json:"delegate_nodes"`
	CPUNodes      int `json:"cpu_nodes"`
	// ApproxDelegatedOps is original minus CPU nodes. It assumes the rewrite
	// only removes nodes, so it is an estimate, not a count.
	ApproxDelegatedOps int     `json:"approx_delegated_ops"`
	ApproxFraction     float64 `json:"approx_fraction"`
	Mismatch           string  `json:"mismatch,omitempty"`
}

// Summarize counts classes. Mismatch is set when a delegate was applied but
// no node was recognized as delegated.
func Summarize(original int, plan []int, classes []NodeClass, applied bool) Summary {
	s := Summary{OriginalNodes: original, PlanNodes: len(plan)}
	for _, c := range classes {
		if c.Placement == Accelerator {
			s.DelegateNodes++
		} else {
			s.CPUNodes++
		}
	}
	s.ApproxDelegatedOps = original - s.CPUNodes
	if original > 0 {
		s.ApproxFraction = float64(s.ApproxDelegatedOps) / float64(original)
	}
	if applied && s.DelegateNodes == 0 {
		s.Mismatch = "delegate was applied but no delegate nodes were detected in the execution plan"
	}
	return s
}

// Delegated reports whether any plan node runs on the accelerator.
func (s Summary) Delegated() bool { return s.DelegateNodes > 0 }
