package nodes

import (
	"context"
	"fmt"

	"github.com/zclconf/go-cty/cty"

	"github.com/specialistvlad/flowgrid/internal/ctxlog"
	"github.com/specialistvlad/flowgrid/internal/vars"
)

// InputField declares one run input the Start node accepts.
type InputField struct {
	Name     string    `json:"name"`
	Type     ValueType `json:"type,omitempty"`
	Required bool      `json:"required,omitempty"`
	Default  any       `json:"default,omitempty"`
}

// StartConfig declares the run's input surface. The Start node turns the
// caller's initial inputs into pool entries under its own node id.
type StartConfig struct {
	Fields []InputField `json:"fields"`
}

// Validate implements Config.
func (c *StartConfig) Validate() error {
	seen := make(map[string]struct{}, len(c.Fields))
	for i, f := range c.Fields {
		if f.Name == "" {
			return fmt.Errorf("fields[%d]: name is required", i)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("fields: duplicate name %q", f.Name)
		}
		seen[f.Name] = struct{}{}
		if err := f.Type.validate(); err != nil {
			return fmt.Errorf("field %q: %w", f.Name, err)
		}
		if f.Required && f.Default != nil {
			return fmt.Errorf("field %q: required fields cannot carry a default", f.Name)
		}
	}
	return nil
}

func runStart(ctx context.Context, req *Request) (*Response, error) {
	cfg := req.Config.(*StartConfig)
	logger := ctxlog.FromContext(ctx)

	outputs := make(map[string]cty.Value, len(cfg.Fields))
	for _, f := range cfg.Fields {
		v, provided := req.RunInputs[f.Name]
		if !provided || v.IsNull() {
			if f.Required {
				return nil, fmt.Errorf("missing required input %q", f.Name)
			}
			if f.Default != nil {
				dv, err := vars.FromGo(f.Default)
				if err != nil {
					return nil, fmt.Errorf("input %q default: %w", f.Name, err)
				}
				outputs[f.Name] = dv
				continue
			}
			outputs[f.Name] = cty.NullVal(cty.DynamicPseudoType)
			continue
		}
		coerced, err := f.Type.coerce(v)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", f.Name, err)
		}
		outputs[f.Name] = coerced
	}

	// Inputs not declared by any field still pass through; the declared
	// fields only add validation and defaults.
	for name, v := range req.RunInputs {
		if _, ok := outputs[name]; !ok {
			outputs[name] = v
		}
	}

	logger.Debug("Start node admitted run inputs.", "count", len(outputs))
	return &Response{Outputs: outputs}, nil
}
