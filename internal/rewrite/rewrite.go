// Package rewrite applies an accelerator delegate to an allocated graph and
// restores tensor memory afterwards.
package rewrite

import (
	"errors"
	"fmt"
	"slices"

	"github.com/samcharles93/offload/internal/graph"
)

// ErrGraphModification is recoverable: the graph is left as it was and can
// still run on the CPU.
var ErrGraphModification = graph.ErrGraphModification

// ErrNotAllocated is returned when a rewrite is attempted before the first
// allocation.
var ErrNotAllocated = errors.New("graph must be allocated before applying a delegate")

// Result describes what a rewrite did.
type Result struct {
	Applied    bool     `json:"applied"`
	PlanBefore int      `json:"plan_before"`
	PlanAfter  int      `json:"plan_after"`
	Warnings   []string `json:"warnings,omitempty"`
}

// Apply lets d rewrite g. A nil delegate is a no-op. The graph needs to be
// reallocated after a successful rewrite.
func Apply(g *graph.Graph, d graph.Delegate) (Result, error) {
	before := g.ExecutionPlan()
	res := Result{PlanBefore: len(before)}
	res.PlanAfter = res.PlanBefore
	if d == nil {
		return res, nil
	}
	if err := g.ModifyGraphWithDelegate(d); err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("delegate rewrite failed, continuing on CPU: %v", err))
		return res, err
	}
	res.Applied = true
	after := g.ExecutionPlan()
	res.PlanAfter = len(after)
	// Single-node runs keep the plan length, so compare contents.
	if slices.Equal(before, after) {
		res.Warnings = append(res.Warnings, "delegate did not claim any nodes")
	}
	return res, nil
}

// ApplyAndReallocate runs the full sequence: the graph must already be
// allocated, d rewrites it, and tensors are allocated again. A failed rewrite
// still leaves an allocated graph and returns an error wrapping
// ErrGraphModification; a failed reallocation wraps graph.ErrAllocation and is
// not recoverable.
func ApplyAndReallocate(g *graph.Graph, d graph.Delegate) (Result, error) {
	if !g.Allocated() {
		return Result{PlanBefore: len(g.ExecutionPlan()), PlanAfter: len(g.ExecutionPlan())}, ErrNotAllocated
	}
	res, err := Apply(g, d)
	if err != nil {
		return res, err
	}
	if !res.Applied {
		return res, nil
	}
	if err := g.Allocate(); err != nil {
		return res, fmt.Errorf("reallocate after delegate rewrite: %w", err)
	}
	return res, nil
}
