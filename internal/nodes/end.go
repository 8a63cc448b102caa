package nodes

import (
	"context"
	"fmt"

	"github.com/zclconf/go-cty/cty"

	"github.com/specialistvlad/flowgrid/internal/expr"
)

// EndConfig selects which pool entries become the run's final outputs.
type EndConfig struct {
	Outputs []Mapping `json:"outputs"`
}

// Validate implements Config.
func (c *EndConfig) Validate() error {
	return validateMappings("outputs", c.Outputs)
}

func runEnd(_ context.Context, req *Request) (*Response, error) {
	cfg := req.Config.(*EndConfig)
	outputs := make(map[string]cty.Value, len(cfg.Outputs))
	for i := range cfg.Outputs {
		m := &cfg.Outputs[i]
		v, err := m.Resolve(req.Pool)
		if err != nil {
			return nil, fmt.Errorf("resolving output %q: %w", m.Name, err)
		}
		outputs[m.Name] = v
	}
	return &Response{Outputs: outputs}, nil
}

// AnswerConfig renders a template into the run's "answer" output, the
// conversational counterpart of the End node.
type AnswerConfig struct {
	Template string `json:"template"`
}

// Validate implements Config.
func (c *AnswerConfig) Validate() error {
	if c.Template == "" {
		return fmt.Errorf("template is required")
	}
	return expr.CheckTemplate(c.Template)
}

func runAnswer(_ context.Context, req *Request) (*Response, error) {
	cfg := req.Config.(*AnswerConfig)
	rendered, err := expr.EvalTemplate(cfg.Template, req.Pool)
	if err != nil {
		return nil, err
	}
	return &Response{Outputs: map[string]cty.Value{"answer": cty.StringVal(rendered)}}, nil
}
