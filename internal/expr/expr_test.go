package expr

import (
	"testing"

	"github.com/zclconf/go-cty/cty"

	"github.com/specialistvlad/flowgrid/internal/vars"
)

func poolWith(t *testing.T, nodeID string, entries map[string]cty.Value) *vars.Pool {
	t.Helper()
	pool := vars.NewPool(map[string]cty.Value{"REGION": cty.StringVal("eu")})
	if err := pool.SetAll(nodeID, entries); err != nil {
		t.Fatal(err)
	}
	return pool
}

func TestEvalBool(t *testing.T) {
	t.Parallel()
	pool := poolWith(t, "classifier", map[string]cty.Value{
		"score": cty.NumberFloatVal(0.8),
	})

	cases := []struct {
		expr string
		want bool
	}{
		{"classifier.score > 0.5", true},
		{"classifier.score > 0.9", false},
		{"classifier.score > 0.5 && classifier.score < 0.9", true},
	}
	for _, tc := range cases {
		got, err := EvalBool(tc.expr, pool)
		if err != nil {
			t.Fatalf("EvalBool(%q): %v", tc.expr, err)
		}
		if got != tc.want {
			t.Errorf("EvalBool(%q) = %v, want %v", tc.expr, got, tc.want)
		}
	}
}

func TestEvalBool_NonBooleanResult(t *testing.T) {
	t.Parallel()
	pool := poolWith(t, "n", map[string]cty.Value{"s": cty.StringVal("hello")})

	if _, err := EvalBool("n.s", pool); err == nil {
		t.Fatal("expected error for non-boolean expression result")
	}
}

func TestEvalTemplate(t *testing.T) {
	t.Parallel()
	pool := poolWith(t, "start", map[string]cty.Value{
		"name": cty.StringVal("Ada"),
	})

	got, err := EvalTemplate("Hello ${start.name}, region ${env.REGION}", pool)
	if err != nil {
		t.Fatalf("EvalTemplate: %v", err)
	}
	if got != "Hello Ada, region eu" {
		t.Errorf("got %q", got)
	}
}

func TestEvalTemplate_PlainStringPassesThrough(t *testing.T) {
	t.Parallel()
	pool := vars.NewPool(nil)

	got, err := EvalTemplate("no interpolation here", pool)
	if err != nil {
		t.Fatalf("EvalTemplate: %v", err)
	}
	if got != "no interpolation here" {
		t.Errorf("got %q", got)
	}
}

func TestEval_UnknownReferenceFails(t *testing.T) {
	t.Parallel()
	pool := vars.NewPool(nil)

	if _, err := Eval("ghost.value", pool); err == nil {
		t.Fatal("expected error for reference to unknown node")
	}
}

func TestCheckExpression(t *testing.T) {
	t.Parallel()

	if err := CheckExpression("a.b > 1 && c.d"); err != nil {
		t.Errorf("valid expression rejected: %v", err)
	}
	if err := CheckExpression("a.b >"); err == nil {
		t.Error("malformed expression accepted")
	}
}

func TestCheckTemplate(t *testing.T) {
	t.Parallel()

	if err := CheckTemplate("Hi ${a.b}"); err != nil {
		t.Errorf("valid template rejected: %v", err)
	}
	if err := CheckTemplate("Hi ${a.b"); err == nil {
		t.Error("malformed template accepted")
	}
}

func TestValidIdentifier(t *testing.T) {
	t.Parallel()

	if !ValidIdentifier("node_1") {
		t.Error("node_1 should be a valid identifier")
	}
	if ValidIdentifier("1node") {
		t.Error("1node should not be a valid identifier")
	}
	if ValidIdentifier("a b") {
		t.Error("identifiers cannot contain spaces")
	}
}
