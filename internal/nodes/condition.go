package nodes

import (
	"context"
	"fmt"

	"github.com/zclconf/go-cty/cty"

	"github.com/specialistvlad/flowgrid/internal/ctxlog"
	"github.com/specialistvlad/flowgrid/internal/expr"
)

// Branch handles taken by a Condition node.
const (
	BranchTrue  = "true"
	BranchFalse = "false"
)

// ConditionConfig evaluates a boolean expression over the pool and routes
// execution down exactly one of its "true"/"false" handles.
type ConditionConfig struct {
	Expression string `json:"expression"`
}

// Validate implements Config.
func (c *ConditionConfig) Validate() error {
	if c.Expression == "" {
		return fmt.Errorf("expression is required")
	}
	return expr.CheckExpression(c.Expression)
}

func runCondition(ctx context.Context, req *Request) (*Response, error) {
	cfg := req.Config.(*ConditionConfig)
	result, err := expr.EvalBool(cfg.Expression, req.Pool)
	if err != nil {
		return nil, err
	}
	branch := BranchFalse
	if result {
		branch = BranchTrue
	}
	ctxlog.FromContext(ctx).Debug("Condition evaluated.", "expression", cfg.Expression, "result", result)
	return &Response{
		Outputs: map[string]cty.Value{"result": cty.BoolVal(result)},
		Branch:  branch,
	}, nil
}
