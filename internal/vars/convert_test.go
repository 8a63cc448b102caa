package vars

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/zclconf/go-cty/cty"
)

func TestFromGo_RoundTrip(t *testing.T) {
	t.Parallel()

	in := map[string]any{
		"name":   "ada",
		"age":    float64(36),
		"active": true,
		"tags":   []any{"a", "b"},
		"nested": map[string]any{"k": float64(1)},
		"none":   nil,
	}

	v, err := FromGo(in)
	if err != nil {
		t.Fatalf("FromGo: %v", err)
	}
	back, err := ToGo(v)
	if err != nil {
		t.Fatalf("ToGo: %v", err)
	}
	if diff := cmp.Diff(in, back); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestFromGo_HeterogeneousList(t *testing.T) {
	t.Parallel()

	v, err := FromGo([]any{"a", float64(1), true})
	if err != nil {
		t.Fatalf("FromGo: %v", err)
	}
	if !v.Type().IsTupleType() {
		t.Fatalf("want tuple, got %s", v.Type().FriendlyName())
	}
	if v.LengthInt() != 3 {
		t.Errorf("length = %d, want 3", v.LengthInt())
	}
}

func TestFromGo_RejectsUnsupportedType(t *testing.T) {
	t.Parallel()

	if _, err := FromGo(make(chan int)); err == nil {
		t.Fatal("expected error for unsupported type")
	}
}

func TestFileVal(t *testing.T) {
	t.Parallel()

	f := FileVal("report.pdf", "https://files.example.com/report.pdf", "application/pdf")
	if !IsFileVal(f) {
		t.Fatal("FileVal not recognized by IsFileVal")
	}
	if got := f.GetAttr("name").AsString(); got != "report.pdf" {
		t.Errorf("name = %q", got)
	}

	plain := cty.ObjectVal(map[string]cty.Value{"name": cty.StringVal("x")})
	if IsFileVal(plain) {
		t.Error("plain object misidentified as file")
	}
	if IsFileVal(cty.StringVal("file")) {
		t.Error("string misidentified as file")
	}
}
