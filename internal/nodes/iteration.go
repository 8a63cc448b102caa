package nodes

import (
	"fmt"

	"github.com/specialistvlad/flowgrid/internal/expr"
)

// DefaultMaxIterations bounds a loop that declares no cap of its own.
const DefaultMaxIterations = 100

// IterationConfig drives a sub-graph once per element of an input
// collection. The scheduler owns the execution (a fresh pool scope per
// index); this config only declares what to iterate and what to collect.
type IterationConfig struct {
	// Input selects the collection to iterate over.
	Input Mapping `json:"input"`
	// OutputSelector names the inner (nodeId, variableName) collected into
	// the iteration node's "output" list, one element per iteration.
	OutputSelector []string `json:"output_selector"`
	// MaxIterations caps the loop; 0 means DefaultMaxIterations. Exceeding
	// the cap fails the node with a bounded-iteration error.
	MaxIterations int `json:"max_iterations,omitempty"`
	// BreakCondition, when set, is evaluated against the iteration scope
	// after each pass; a true result terminates the loop early.
	BreakCondition string `json:"break_condition,omitempty"`
}

// Validate implements Config.
func (c *IterationConfig) Validate() error {
	if err := c.Input.Validate(); err != nil {
		return fmt.Errorf("input: %w", err)
	}
	if len(c.OutputSelector) != 0 && len(c.OutputSelector) != 2 {
		return fmt.Errorf("output_selector must be [nodeId, variableName]")
	}
	if c.MaxIterations < 0 {
		return fmt.Errorf("max_iterations must not be negative")
	}
	if c.BreakCondition != "" {
		if err := expr.CheckExpression(c.BreakCondition); err != nil {
			return fmt.Errorf("break_condition: %w", err)
		}
	}
	return nil
}

// Bound returns the effective iteration cap.
func (c *IterationConfig) Bound() int {
	if c.MaxIterations > 0 {
		return c.MaxIterations
	}
	return DefaultMaxIterations
}
