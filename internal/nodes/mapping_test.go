package nodes

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"
	"github.com/zclconf/go-cty/cty"

	"github.com/specialistvlad/flowgrid/internal/vars"
)

func TestMapping_UnmarshalSelectorAndValue(t *testing.T) {
	t.Parallel()

	var sel Mapping
	if err := json.Unmarshal([]byte(`{"name": "q", "selector": ["start", "query"]}`), &sel); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"start", "query"}, sel.Selector); diff != "" {
		t.Errorf("selector mismatch (-want +got):\n%s", diff)
	}
	if sel.SourceNode() != "start" {
		t.Errorf("SourceNode = %q", sel.SourceNode())
	}

	var lit Mapping
	if err := json.Unmarshal([]byte(`{"name": "k", "value": {"a": 1}}`), &lit); err != nil {
		t.Fatal(err)
	}
	if lit.SourceNode() != "" {
		t.Error("literal mapping should have no source node")
	}
}

func TestMapping_Validate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		m    Mapping
		ok   bool
	}{
		{"selector", Mapping{Selector: []string{"a", "b"}}, true},
		{"literal", Mapping{Literal: []byte(`1`)}, true},
		{"both", Mapping{Selector: []string{"a", "b"}, Literal: []byte(`1`)}, false},
		{"neither", Mapping{}, false},
		{"short selector", Mapping{Selector: []string{"a"}}, false},
	}
	for _, tc := range cases {
		err := tc.m.Validate()
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestMapping_ResolveLiteral(t *testing.T) {
	t.Parallel()

	m := Mapping{Name: "cfg", Literal: []byte(`{"retries": 3, "tags": ["a"]}`)}
	v, err := m.Resolve(vars.NewPool(nil))
	if err != nil {
		t.Fatal(err)
	}
	retries, _ := v.GetAttr("retries").AsBigFloat().Int64()
	if retries != 3 {
		t.Errorf("retries = %d", retries)
	}
}

func TestMapping_ResolveString(t *testing.T) {
	t.Parallel()
	pool := vars.NewPool(nil)
	if err := pool.Set("n", "s", cty.StringVal("text")); err != nil {
		t.Fatal(err)
	}
	if err := pool.Set("n", "num", cty.NumberIntVal(1)); err != nil {
		t.Fatal(err)
	}

	m := Mapping{Selector: []string{"n", "s"}}
	got, err := m.ResolveString(pool)
	if err != nil || got != "text" {
		t.Errorf("ResolveString = %q, %v", got, err)
	}

	bad := Mapping{Selector: []string{"n", "num"}}
	if _, err := bad.ResolveString(pool); err == nil {
		t.Error("expected error for non-string value")
	}
}
