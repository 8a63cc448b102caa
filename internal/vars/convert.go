package vars

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/zclconf/go-cty/cty"
)

// FromGo converts a plain Go value (as produced by JSON decoding: nil, bool,
// float64, string, []any, map[string]any) into its cty equivalent. Maps
// become objects, slices become tuples, so heterogeneous collections survive.
func FromGo(v any) (cty.Value, error) {
	switch val := v.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType), nil
	case bool:
		return cty.BoolVal(val), nil
	case string:
		return cty.StringVal(val), nil
	case int:
		return cty.NumberIntVal(int64(val)), nil
	case int64:
		return cty.NumberIntVal(val), nil
	case float64:
		return cty.NumberVal(big.NewFloat(val)), nil
	case []any:
		if len(val) == 0 {
			return cty.EmptyTupleVal, nil
		}
		elems := make([]cty.Value, 0, len(val))
		for i, e := range val {
			ev, err := FromGo(e)
			if err != nil {
				return cty.NilVal, fmt.Errorf("element %d: %w", i, err)
			}
			elems = append(elems, ev)
		}
		return cty.TupleVal(elems), nil
	case map[string]any:
		if len(val) == 0 {
			return cty.EmptyObjectVal, nil
		}
		attrs := make(map[string]cty.Value, len(val))
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			av, err := FromGo(val[k])
			if err != nil {
				return cty.NilVal, fmt.Errorf("attribute %q: %w", k, err)
			}
			attrs[k] = av
		}
		return cty.ObjectVal(attrs), nil
	case cty.Value:
		return val, nil
	default:
		return cty.NilVal, fmt.Errorf("unsupported Go type %T", v)
	}
}

// ToGo converts a cty.Value to a plain Go value suitable for JSON encoding
// and trace payloads.
func ToGo(val cty.Value) (any, error) {
	if val == cty.NilVal || !val.IsKnown() || val.IsNull() {
		return nil, nil
	}
	ty := val.Type()
	if ty.IsPrimitiveType() {
		switch ty {
		case cty.String:
			return val.AsString(), nil
		case cty.Number:
			f, _ := val.AsBigFloat().Float64()
			return f, nil
		case cty.Bool:
			return val.True(), nil
		default:
			return nil, fmt.Errorf("unsupported primitive type: %s", ty.FriendlyName())
		}
	}
	if ty.IsObjectType() || ty.IsMapType() {
		out := make(map[string]any)
		for it := val.ElementIterator(); it.Next(); {
			k, v := it.Element()
			goVal, err := ToGo(v)
			if err != nil {
				return nil, err
			}
			out[k.AsString()] = goVal
		}
		return out, nil
	}
	if ty.IsTupleType() || ty.IsListType() || ty.IsSetType() {
		out := []any{}
		for it := val.ElementIterator(); it.Next(); {
			_, v := it.Element()
			goVal, err := ToGo(v)
			if err != nil {
				return nil, err
			}
			out = append(out, goVal)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported cty.Type for conversion: %s", ty.FriendlyName())
}

// FileVal builds a file-reference value. File references travel through the
// pool as tagged objects rather than opaque handles so templates can still
// reach their fields.
func FileVal(name, url, mimeType string) cty.Value {
	return cty.ObjectVal(map[string]cty.Value{
		"__type":    cty.StringVal("file"),
		"name":      cty.StringVal(name),
		"url":       cty.StringVal(url),
		"mime_type": cty.StringVal(mimeType),
	})
}

// IsFileVal reports whether a value carries the file-reference tag.
func IsFileVal(val cty.Value) bool {
	if val == cty.NilVal || val.IsNull() || !val.Type().IsObjectType() {
		return false
	}
	if !val.Type().HasAttribute("__type") {
		return false
	}
	tag := val.GetAttr("__type")
	return tag.Type() == cty.String && !tag.IsNull() && tag.AsString() == "file"
}
