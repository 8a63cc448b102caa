package nodes

import (
	"context"
	"fmt"

	"dario.cat/mergo"
	"github.com/zclconf/go-cty/cty"

	"github.com/specialistvlad/flowgrid/internal/vars"
)

// Assignment writes one source value to a named target variable.
type Assignment struct {
	Target string  `json:"target"`
	Source Mapping `json:"source"`
	// Mode is "overwrite" (default), "append" (accumulate a list across
	// assignments to the same target) or "merge" (deep-merge objects).
	Mode string `json:"mode,omitempty"`
}

const (
	ModeOverwrite = "overwrite"
	ModeAppend    = "append"
	ModeMerge     = "merge"
)

// AssignerConfig rewires pool values: its outputs are the assigned targets,
// published under the assigner's own node id.
type AssignerConfig struct {
	Assignments []Assignment `json:"assignments"`
}

// Validate implements Config.
func (c *AssignerConfig) Validate() error {
	if len(c.Assignments) == 0 {
		return fmt.Errorf("at least one assignment is required")
	}
	for i, a := range c.Assignments {
		if a.Target == "" {
			return fmt.Errorf("assignments[%d]: target is required", i)
		}
		switch a.Mode {
		case "", ModeOverwrite, ModeAppend, ModeMerge:
		default:
			return fmt.Errorf("assignments[%d]: unknown mode %q", i, a.Mode)
		}
		if err := a.Source.Validate(); err != nil {
			return fmt.Errorf("assignments[%d]: %w", i, err)
		}
	}
	return nil
}

func runAssigner(_ context.Context, req *Request) (*Response, error) {
	cfg := req.Config.(*AssignerConfig)
	outputs := make(map[string]cty.Value, len(cfg.Assignments))

	for i, a := range cfg.Assignments {
		v, err := a.Source.Resolve(req.Pool)
		if err != nil {
			return nil, fmt.Errorf("assignments[%d]: %w", i, err)
		}

		switch a.Mode {
		case "", ModeOverwrite:
			outputs[a.Target] = v

		case ModeAppend:
			existing, ok := outputs[a.Target]
			if !ok {
				outputs[a.Target] = cty.TupleVal([]cty.Value{v})
				continue
			}
			elems := existing.AsValueSlice()
			outputs[a.Target] = cty.TupleVal(append(elems, v))

		case ModeMerge:
			existing, ok := outputs[a.Target]
			if !ok {
				outputs[a.Target] = v
				continue
			}
			merged, err := mergeObjects(existing, v)
			if err != nil {
				return nil, fmt.Errorf("assignments[%d]: %w", i, err)
			}
			outputs[a.Target] = merged
		}
	}
	return &Response{Outputs: outputs}, nil
}

// mergeObjects deep-merges two object values, with attributes of b winning.
func mergeObjects(a, b cty.Value) (cty.Value, error) {
	aGo, err := vars.ToGo(a)
	if err != nil {
		return cty.NilVal, err
	}
	bGo, err := vars.ToGo(b)
	if err != nil {
		return cty.NilVal, err
	}
	aMap, aOK := aGo.(map[string]any)
	bMap, bOK := bGo.(map[string]any)
	if !aOK || !bOK {
		return cty.NilVal, fmt.Errorf("merge mode requires object values")
	}
	if err := mergo.Merge(&aMap, bMap, mergo.WithOverride); err != nil {
		return cty.NilVal, fmt.Errorf("merging objects: %w", err)
	}
	return vars.FromGo(aMap)
}
