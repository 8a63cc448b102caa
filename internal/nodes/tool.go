package nodes

import (
	"context"
	"fmt"

	"github.com/zclconf/go-cty/cty"

	"github.com/specialistvlad/flowgrid/internal/ctxlog"
	"github.com/specialistvlad/flowgrid/internal/vars"
)

// ToolConfig invokes a named tool through the tool capability.
type ToolConfig struct {
	Tool      string       `json:"tool"`
	Arguments []Mapping    `json:"arguments,omitempty"`
	Retry     *RetryConfig `json:"retry,omitempty"`
}

// Validate implements Config.
func (c *ToolConfig) Validate() error {
	if c.Tool == "" {
		return fmt.Errorf("tool is required")
	}
	if err := validateMappings("arguments", c.Arguments); err != nil {
		return err
	}
	return c.Retry.validate()
}

// RetryPolicy implements Fallible.
func (c *ToolConfig) RetryPolicy() *RetryConfig { return c.Retry }

func runTool(ctx context.Context, req *Request) (*Response, error) {
	cfg := req.Config.(*ToolConfig)
	logger := ctxlog.FromContext(ctx)
	if req.Caps.Tools == nil {
		return nil, fmt.Errorf("tool capability is not configured")
	}

	args := make(map[string]any, len(cfg.Arguments))
	for i := range cfg.Arguments {
		m := &cfg.Arguments[i]
		v, err := m.ResolveGo(req.Pool)
		if err != nil {
			return nil, fmt.Errorf("resolving argument %q: %w", m.Name, err)
		}
		args[m.Name] = v
	}

	logger.Debug("Invoking tool.", "tool", cfg.Tool, "args", len(args))
	result, err := req.Caps.Tools.InvokeTool(ctx, cfg.Tool, args)
	if err != nil {
		return nil, fmt.Errorf("tool %q: %w", cfg.Tool, err)
	}

	outputs := make(map[string]cty.Value, len(result))
	for name, raw := range result {
		v, err := vars.FromGo(raw)
		if err != nil {
			return nil, fmt.Errorf("tool output %q: %w", name, err)
		}
		outputs[name] = v
	}
	return &Response{Outputs: outputs}, nil
}
