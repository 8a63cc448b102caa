package nodes

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/specialistvlad/flowgrid/internal/vars"
)

// ValueType names the declarable variable types of the pool's data model.
type ValueType string

const (
	TypeString  ValueType = "string"
	TypeNumber  ValueType = "number"
	TypeBoolean ValueType = "boolean"
	TypeObject  ValueType = "object"
	TypeArray   ValueType = "array"
	TypeFile    ValueType = "file"
	TypeAny     ValueType = "any"
)

func (t ValueType) validate() error {
	switch t {
	case TypeString, TypeNumber, TypeBoolean, TypeObject, TypeArray, TypeFile, TypeAny, "":
		return nil
	}
	return fmt.Errorf("unknown type %q", t)
}

// coerce converts a value to the declared type, where the declaration is
// statically checkable. Object, array, file and any pass through with only
// a shape check; primitives use cty conversion so "5" satisfies number.
func (t ValueType) coerce(v cty.Value) (cty.Value, error) {
	if v.IsNull() {
		return v, nil
	}
	switch t {
	case TypeString:
		return convert.Convert(v, cty.String)
	case TypeNumber:
		return convert.Convert(v, cty.Number)
	case TypeBoolean:
		return convert.Convert(v, cty.Bool)
	case TypeObject:
		if !v.Type().IsObjectType() && !v.Type().IsMapType() {
			return cty.NilVal, fmt.Errorf("expected object, got %s", v.Type().FriendlyName())
		}
		return v, nil
	case TypeArray:
		if !v.Type().IsTupleType() && !v.Type().IsListType() && !v.Type().IsSetType() {
			return cty.NilVal, fmt.Errorf("expected array, got %s", v.Type().FriendlyName())
		}
		return v, nil
	case TypeFile:
		if !vars.IsFileVal(v) {
			return cty.NilVal, fmt.Errorf("expected file reference, got %s", v.Type().FriendlyName())
		}
		return v, nil
	case TypeAny, "":
		return v, nil
	}
	return cty.NilVal, fmt.Errorf("unknown type %q", t)
}
