package engine

import (
	"errors"
	"fmt"
)

// ErrorClass buckets runtime failures for the trace and for disposition
// decisions. Load/config problems never reach here; they are rejected by
// graph.Build before a run exists.
type ErrorClass string

const (
	// ClassNode is an ordinary single-node runtime failure.
	ClassNode ErrorClass = "node_error"
	// ClassIterationBound marks a loop exceeding its configured cap.
	ClassIterationBound ErrorClass = "iteration_bound"
	// ClassCancelled marks work interrupted by an honored stop request.
	ClassCancelled ErrorClass = "cancelled"
	// ClassInternal marks scheduler invariant violations. Always fatal;
	// indicates a bug in graph validation, not a runtime condition.
	ClassInternal ErrorClass = "internal"
)

// NodeError attributes a runtime failure to one node.
type NodeError struct {
	NodeID string
	Class  ErrorClass
	Err    error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %v", e.NodeID, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }

// ErrStopped is the terminal error of a run that honored a stop request.
var ErrStopped = errors.New("run stopped by request")

func classOf(err error) ErrorClass {
	var ne *NodeError
	if errors.As(err, &ne) {
		return ne.Class
	}
	return ClassNode
}
