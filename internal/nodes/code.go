package nodes

import (
	"context"
	"fmt"

	"github.com/zclconf/go-cty/cty"

	"github.com/specialistvlad/flowgrid/internal/capability"
	"github.com/specialistvlad/flowgrid/internal/ctxlog"
	"github.com/specialistvlad/flowgrid/internal/vars"
)

// OutputDecl declares one named, typed output of a Code node.
type OutputDecl struct {
	Name string    `json:"name"`
	Type ValueType `json:"type,omitempty"`
}

// CodeConfig executes source in the caller's sandbox capability and maps
// declared outputs back into the pool.
type CodeConfig struct {
	Language string       `json:"language"`
	Source   string       `json:"source"`
	Inputs   []Mapping    `json:"inputs,omitempty"`
	Outputs  []OutputDecl `json:"outputs"`
}

// Validate implements Config.
func (c *CodeConfig) Validate() error {
	if c.Language == "" {
		return fmt.Errorf("language is required")
	}
	if c.Source == "" {
		return fmt.Errorf("source is required")
	}
	if err := validateMappings("inputs", c.Inputs); err != nil {
		return err
	}
	if len(c.Outputs) == 0 {
		return fmt.Errorf("at least one output must be declared")
	}
	seen := make(map[string]struct{}, len(c.Outputs))
	for i, o := range c.Outputs {
		if o.Name == "" {
			return fmt.Errorf("outputs[%d]: name is required", i)
		}
		if _, dup := seen[o.Name]; dup {
			return fmt.Errorf("outputs: duplicate name %q", o.Name)
		}
		seen[o.Name] = struct{}{}
		if err := o.Type.validate(); err != nil {
			return fmt.Errorf("output %q: %w", o.Name, err)
		}
	}
	return nil
}

func runCode(ctx context.Context, req *Request) (*Response, error) {
	cfg := req.Config.(*CodeConfig)
	logger := ctxlog.FromContext(ctx)
	if req.Caps.Sandbox == nil {
		return nil, fmt.Errorf("code sandbox capability is not configured")
	}

	inputs := make(map[string]any, len(cfg.Inputs))
	for i := range cfg.Inputs {
		m := &cfg.Inputs[i]
		v, err := m.ResolveGo(req.Pool)
		if err != nil {
			return nil, fmt.Errorf("resolving input %q: %w", m.Name, err)
		}
		inputs[m.Name] = v
	}

	logger.Debug("Dispatching code to sandbox.", "language", cfg.Language)
	resp, err := req.Caps.Sandbox.RunCode(ctx, capability.CodeRequest{
		Language: cfg.Language,
		Source:   cfg.Source,
		Inputs:   inputs,
	})
	if err != nil {
		return nil, fmt.Errorf("code execution: %w", err)
	}

	outputs := make(map[string]cty.Value, len(cfg.Outputs))
	for _, decl := range cfg.Outputs {
		raw, ok := resp.Outputs[decl.Name]
		if !ok {
			return nil, fmt.Errorf("code did not produce declared output %q", decl.Name)
		}
		v, err := vars.FromGo(raw)
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", decl.Name, err)
		}
		coerced, err := decl.Type.coerce(v)
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", decl.Name, err)
		}
		outputs[decl.Name] = coerced
	}
	return &Response{Outputs: outputs}, nil
}
