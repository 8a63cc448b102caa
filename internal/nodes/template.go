package nodes

import (
	"context"
	"fmt"

	"github.com/zclconf/go-cty/cty"

	"github.com/specialistvlad/flowgrid/internal/expr"
)

// TemplateConfig renders a string template over the pool into a single
// "output" variable. Pure transformation, no external I/O.
type TemplateConfig struct {
	Template string `json:"template"`
}

// Validate implements Config.
func (c *TemplateConfig) Validate() error {
	if c.Template == "" {
		return fmt.Errorf("template is required")
	}
	return expr.CheckTemplate(c.Template)
}

func runTemplate(_ context.Context, req *Request) (*Response, error) {
	cfg := req.Config.(*TemplateConfig)
	rendered, err := expr.EvalTemplate(cfg.Template, req.Pool)
	if err != nil {
		return nil, err
	}
	return &Response{Outputs: map[string]cty.Value{"output": cty.StringVal(rendered)}}, nil
}
