package graph

import "errors"

var (
	// ErrInvalidGraph reports a structurally invalid graph (bad indices, cycles,
	// tensors produced twice).
	ErrInvalidGraph = errors.New("invalid graph")
	// ErrAllocation reports that tensor storage could not be materialized, or that
	// the graph was used while it required (re)allocation.
	ErrAllocation = errors.New("tensor allocation failed")
	// ErrInvocation reports an operator failure while executing the plan.
	ErrInvocation = errors.New("graph invocation failed")
	// ErrGraphModification reports a rejected delegate rewrite. The graph is left
	// exactly as it was before the rewrite was attempted.
	ErrGraphModification = errors.New("graph modification failed")
	// ErrStaleTensor reports use of a tensor view captured before the latest
	// allocation event.
	ErrStaleTensor = errors.New("stale tensor view")
)
