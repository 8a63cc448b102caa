package nodes

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/kaptinlin/jsonrepair"
	"github.com/zclconf/go-cty/cty"

	"github.com/specialistvlad/flowgrid/internal/ctxlog"
	"github.com/specialistvlad/flowgrid/internal/vars"
)

// ParamDecl declares one parameter the extractor pulls from its input.
type ParamDecl struct {
	Name     string    `json:"name"`
	Type     ValueType `json:"type,omitempty"`
	Required bool      `json:"required,omitempty"`
	Default  any       `json:"default,omitempty"`
}

// ExtractorConfig pulls declared parameters out of a JSON-shaped input
// string. Model output upstream is often almost-JSON (markdown fences,
// trailing commas, single quotes), so parsing goes through jsonrepair
// before failing. Pure function of its input.
type ExtractorConfig struct {
	Input      Mapping     `json:"input"`
	Parameters []ParamDecl `json:"parameters"`
}

// Validate implements Config.
func (c *ExtractorConfig) Validate() error {
	if err := c.Input.Validate(); err != nil {
		return fmt.Errorf("input: %w", err)
	}
	if len(c.Parameters) == 0 {
		return fmt.Errorf("at least one parameter is required")
	}
	seen := make(map[string]struct{}, len(c.Parameters))
	for i, p := range c.Parameters {
		if p.Name == "" {
			return fmt.Errorf("parameters[%d]: name is required", i)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("parameters: duplicate name %q", p.Name)
		}
		seen[p.Name] = struct{}{}
		if err := p.Type.validate(); err != nil {
			return fmt.Errorf("parameter %q: %w", p.Name, err)
		}
	}
	return nil
}

func runExtractor(ctx context.Context, req *Request) (*Response, error) {
	cfg := req.Config.(*ExtractorConfig)
	logger := ctxlog.FromContext(ctx)

	text, err := cfg.Input.ResolveString(req.Pool)
	if err != nil {
		return nil, fmt.Errorf("resolving input: %w", err)
	}

	fields, err := parseLooseJSON(text)
	if err != nil {
		return nil, fmt.Errorf("input is not extractable JSON: %w", err)
	}

	outputs := make(map[string]cty.Value, len(cfg.Parameters))
	for _, p := range cfg.Parameters {
		raw, present := fields[p.Name]
		if !present {
			if p.Required {
				return nil, fmt.Errorf("required parameter %q not present in input", p.Name)
			}
			raw = p.Default
		}
		v, err := vars.FromGo(raw)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", p.Name, err)
		}
		coerced, err := p.Type.coerce(v)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", p.Name, err)
		}
		outputs[p.Name] = coerced
	}

	logger.Debug("Extracted parameters.", "count", len(outputs))
	return &Response{Outputs: outputs}, nil
}

// parseLooseJSON decodes a JSON object, repairing sloppy input if a strict
// parse fails.
func parseLooseJSON(text string) (map[string]any, error) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(text), &fields); err == nil {
		return fields, nil
	}
	repaired, err := jsonrepair.JSONRepair(text)
	if err != nil {
		return nil, fmt.Errorf("repairing JSON: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), &fields); err != nil {
		return nil, fmt.Errorf("parsing repaired JSON: %w", err)
	}
	return fields, nil
}
