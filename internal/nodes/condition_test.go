package nodes

import (
	"context"
	"testing"

	"github.com/zclconf/go-cty/cty"

	"github.com/specialistvlad/flowgrid/internal/capability"
)

func TestRunCondition_SelectsBranch(t *testing.T) {
	t.Parallel()
	pool := poolWithEntries(t, "score", map[string]cty.Value{"value": cty.NumberFloatVal(0.7)})

	cases := []struct {
		expression string
		wantBranch string
		wantResult bool
	}{
		{"score.value > 0.5", BranchTrue, true},
		{"score.value > 0.9", BranchFalse, false},
	}
	for _, tc := range cases {
		cfg := &ConditionConfig{Expression: tc.expression}
		req, _ := testRequest(cfg, pool, capability.Set{})

		res, err := runCondition(context.Background(), req)
		if err != nil {
			t.Fatalf("runCondition(%q): %v", tc.expression, err)
		}
		if res.Branch != tc.wantBranch {
			t.Errorf("branch = %q, want %q", res.Branch, tc.wantBranch)
		}
		if res.Outputs["result"].True() != tc.wantResult {
			t.Errorf("result = %v, want %v", res.Outputs["result"].True(), tc.wantResult)
		}
	}
}

func TestRunCondition_EvaluationError(t *testing.T) {
	t.Parallel()
	cfg := &ConditionConfig{Expression: "ghost.value > 1"}
	req, _ := testRequest(cfg, poolWithEntries(t, "n", map[string]cty.Value{"x": cty.True}), capability.Set{})

	if _, err := runCondition(context.Background(), req); err == nil {
		t.Fatal("expected error for unresolvable reference")
	}
}

func TestRunTemplate(t *testing.T) {
	t.Parallel()
	pool := poolWithEntries(t, "start", map[string]cty.Value{"name": cty.StringVal("Ada")})
	cfg := &TemplateConfig{Template: "Hello ${start.name}!"}
	req, _ := testRequest(cfg, pool, capability.Set{})

	res, err := runTemplate(context.Background(), req)
	if err != nil {
		t.Fatalf("runTemplate: %v", err)
	}
	if got := res.Outputs["output"].AsString(); got != "Hello Ada!" {
		t.Errorf("output = %q", got)
	}
}

func TestRunEnd_SelectsOutputs(t *testing.T) {
	t.Parallel()
	pool := poolWithEntries(t, "render", map[string]cty.Value{"output": cty.StringVal("final text")})
	cfg := &EndConfig{Outputs: []Mapping{
		{Name: "text", Selector: []string{"render", "output"}},
		{Name: "version", Literal: []byte(`2`)},
	}}
	req, _ := testRequest(cfg, pool, capability.Set{})

	res, err := runEnd(context.Background(), req)
	if err != nil {
		t.Fatalf("runEnd: %v", err)
	}
	if got := res.Outputs["text"].AsString(); got != "final text" {
		t.Errorf("text = %q", got)
	}
	version, _ := res.Outputs["version"].AsBigFloat().Int64()
	if version != 2 {
		t.Errorf("version = %d", version)
	}
}

func TestRunEnd_UnresolvedSelector(t *testing.T) {
	t.Parallel()
	cfg := &EndConfig{Outputs: []Mapping{{Name: "text", Selector: []string{"ghost", "output"}}}}
	req, _ := testRequest(cfg, poolWithEntries(t, "n", nil), capability.Set{})

	if _, err := runEnd(context.Background(), req); err == nil {
		t.Fatal("expected error for unresolved selector")
	}
}

func TestRunAnswer(t *testing.T) {
	t.Parallel()
	pool := poolWithEntries(t, "llm", map[string]cty.Value{"text": cty.StringVal("42")})
	cfg := &AnswerConfig{Template: "The answer is ${llm.text}"}
	req, _ := testRequest(cfg, pool, capability.Set{})

	res, err := runAnswer(context.Background(), req)
	if err != nil {
		t.Fatalf("runAnswer: %v", err)
	}
	if got := res.Outputs["answer"].AsString(); got != "The answer is 42" {
		t.Errorf("answer = %q", got)
	}
}
