// Package expr evaluates HCL-syntax expressions and string templates
// against the run's Variable Pool. Every completed node is exposed as an
// object named by its node id, and document environment variables live
// under "env", so a condition can read `classifier.score > 0.5` and a
// template can interpolate `Hello ${start.name}`.
package expr

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/specialistvlad/flowgrid/internal/vars"
)

// ValidIdentifier reports whether a node id can be referenced from
// expressions. Graph validation rejects ids that fail this check.
func ValidIdentifier(name string) bool {
	return hclsyntax.ValidIdentifier(name)
}

// BuildEvalContext assembles the evaluation context for one scope of the
// pool. Inner iteration scopes shadow outer entries by construction of
// Pool.NodeValues.
func BuildEvalContext(pool *vars.Pool) *hcl.EvalContext {
	variables := make(map[string]cty.Value)
	for nodeID, byName := range pool.NodeValues() {
		variables[nodeID] = cty.ObjectVal(byName)
	}
	env := pool.EnvValues()
	if len(env) > 0 {
		variables["env"] = cty.ObjectVal(env)
	} else {
		variables["env"] = cty.EmptyObjectVal
	}
	return &hcl.EvalContext{Variables: variables}
}

// Eval parses and evaluates a single expression string.
func Eval(src string, pool *vars.Pool) (cty.Value, error) {
	e, diags := hclsyntax.ParseExpression([]byte(src), "<expr>", hcl.InitialPos)
	if diags.HasErrors() {
		return cty.NilVal, fmt.Errorf("parsing expression %q: %w", src, diags)
	}
	val, diags := e.Value(BuildEvalContext(pool))
	if diags.HasErrors() {
		return cty.NilVal, fmt.Errorf("evaluating expression %q: %w", src, diags)
	}
	return val, nil
}

// EvalBool evaluates an expression and converts the result to a boolean.
func EvalBool(src string, pool *vars.Pool) (bool, error) {
	val, err := Eval(src, pool)
	if err != nil {
		return false, err
	}
	converted, err := convert.Convert(val, cty.Bool)
	if err != nil {
		return false, fmt.Errorf("expression %q did not produce a boolean: %w", src, err)
	}
	if converted.IsNull() {
		return false, fmt.Errorf("expression %q produced a null boolean", src)
	}
	return converted.True(), nil
}

// EvalTemplate renders a string template with ${...} interpolations.
// A plain string with no interpolation markers passes through unchanged.
func EvalTemplate(src string, pool *vars.Pool) (string, error) {
	t, diags := hclsyntax.ParseTemplate([]byte(src), "<template>", hcl.InitialPos)
	if diags.HasErrors() {
		return "", fmt.Errorf("parsing template %q: %w", src, diags)
	}
	val, diags := t.Value(BuildEvalContext(pool))
	if diags.HasErrors() {
		return "", fmt.Errorf("rendering template %q: %w", src, diags)
	}
	converted, err := convert.Convert(val, cty.String)
	if err != nil {
		return "", fmt.Errorf("template %q did not produce a string: %w", src, err)
	}
	if converted.IsNull() {
		return "", nil
	}
	return converted.AsString(), nil
}

// CheckExpression statically parses an expression so malformed syntax is a
// load-time config error rather than a runtime one.
func CheckExpression(src string) error {
	_, diags := hclsyntax.ParseExpression([]byte(src), "<expr>", hcl.InitialPos)
	if diags.HasErrors() {
		return fmt.Errorf("invalid expression %q: %w", src, diags)
	}
	return nil
}

// CheckTemplate statically parses a template string.
func CheckTemplate(src string) error {
	_, diags := hclsyntax.ParseTemplate([]byte(src), "<template>", hcl.InitialPos)
	if diags.HasErrors() {
		return fmt.Errorf("invalid template %q: %w", src, diags)
	}
	return nil
}
