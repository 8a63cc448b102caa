package nodes

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/zclconf/go-cty/cty"

	"github.com/specialistvlad/flowgrid/internal/vars"
)

// Mapping is a named input reference: either a selector into the Variable
// Pool ([nodeID, variableName]) or an inline literal. Exactly one of the
// two must be present.
type Mapping struct {
	Name     string
	Selector []string
	Literal  json.RawMessage
}

type mappingJSON struct {
	Name     string          `json:"name,omitempty"`
	Selector []string        `json:"selector,omitempty"`
	Value    json.RawMessage `json:"value,omitempty"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Mapping) UnmarshalJSON(data []byte) error {
	var raw mappingJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Name = raw.Name
	m.Selector = raw.Selector
	m.Literal = raw.Value
	return nil
}

// MarshalJSON implements json.Marshaler.
func (m Mapping) MarshalJSON() ([]byte, error) {
	return json.Marshal(mappingJSON{Name: m.Name, Selector: m.Selector, Value: m.Literal})
}

// Validate checks the mapping's static shape.
func (m *Mapping) Validate() error {
	switch {
	case len(m.Selector) > 0 && m.Literal != nil:
		return fmt.Errorf("mapping %q: selector and value are mutually exclusive", m.Name)
	case len(m.Selector) > 0 && len(m.Selector) != 2:
		return fmt.Errorf("mapping %q: selector must be [nodeId, variableName]", m.Name)
	case len(m.Selector) == 0 && m.Literal == nil:
		return fmt.Errorf("mapping %q: either selector or value is required", m.Name)
	}
	return nil
}

// SourceNode returns the referenced node id, or "" for literal mappings.
// Graph validation uses this to check that references point upstream.
func (m *Mapping) SourceNode() string {
	if len(m.Selector) == 2 {
		return m.Selector[0]
	}
	return ""
}

// Resolve produces the mapping's value against a pool scope.
func (m *Mapping) Resolve(pool *vars.Pool) (cty.Value, error) {
	if len(m.Selector) == 2 {
		return pool.Get(vars.Ref{NodeID: m.Selector[0], Name: m.Selector[1]})
	}
	var goVal any
	if err := json.Unmarshal(m.Literal, &goVal); err != nil {
		return cty.NilVal, fmt.Errorf("mapping %q: decoding literal: %w", m.Name, err)
	}
	return vars.FromGo(goVal)
}

// ResolveGo resolves the mapping and converts it to a plain Go value.
func (m *Mapping) ResolveGo(pool *vars.Pool) (any, error) {
	v, err := m.Resolve(pool)
	if err != nil {
		return nil, err
	}
	return vars.ToGo(v)
}

// ResolveString resolves the mapping and requires a string result.
func (m *Mapping) ResolveString(pool *vars.Pool) (string, error) {
	v, err := m.Resolve(pool)
	if err != nil {
		return "", err
	}
	if v.IsNull() {
		return "", nil
	}
	if v.Type() != cty.String {
		return "", fmt.Errorf("mapping %q: expected string, got %s", m.Name, v.Type().FriendlyName())
	}
	return v.AsString(), nil
}

// validateMappings runs Validate over a mapping list and requires unique,
// non-empty names.
func validateMappings(field string, ms []Mapping) error {
	seen := make(map[string]struct{}, len(ms))
	for i := range ms {
		m := &ms[i]
		if m.Name == "" {
			return fmt.Errorf("%s[%d]: name is required", field, i)
		}
		if _, dup := seen[m.Name]; dup {
			return fmt.Errorf("%s: duplicate name %q", field, m.Name)
		}
		seen[m.Name] = struct{}{}
		if err := m.Validate(); err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
	}
	return nil
}
