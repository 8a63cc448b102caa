package nodes

import (
	"context"
	"fmt"

	"github.com/zclconf/go-cty/cty"

	"github.com/specialistvlad/flowgrid/internal/capability"
	"github.com/specialistvlad/flowgrid/internal/ctxlog"
	"github.com/specialistvlad/flowgrid/internal/expr"
)

// PromptMessage is one templated chat message of an LLM node's prompt.
type PromptMessage struct {
	Role     string `json:"role"`
	Template string `json:"template"`
}

// LLMConfig invokes the model-provider capability with a rendered prompt.
type LLMConfig struct {
	Provider   string          `json:"provider,omitempty"`
	Model      string          `json:"model"`
	Parameters map[string]any  `json:"parameters,omitempty"`
	Prompt     []PromptMessage `json:"prompt"`
	// Stream surfaces partial output into the trace as node_chunk events
	// while the completion is in flight.
	Stream bool `json:"stream,omitempty"`
}

// Validate implements Config.
func (c *LLMConfig) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if len(c.Prompt) == 0 {
		return fmt.Errorf("prompt must contain at least one message")
	}
	for i, m := range c.Prompt {
		switch m.Role {
		case "system", "user", "assistant":
		default:
			return fmt.Errorf("prompt[%d]: unknown role %q", i, m.Role)
		}
		if err := expr.CheckTemplate(m.Template); err != nil {
			return fmt.Errorf("prompt[%d]: %w", i, err)
		}
	}
	return nil
}

func runLLM(ctx context.Context, req *Request) (*Response, error) {
	cfg := req.Config.(*LLMConfig)
	logger := ctxlog.FromContext(ctx)
	if req.Caps.Model == nil {
		return nil, fmt.Errorf("model capability is not configured")
	}

	messages := make([]capability.Message, 0, len(cfg.Prompt))
	for i, m := range cfg.Prompt {
		content, err := expr.EvalTemplate(m.Template, req.Pool)
		if err != nil {
			return nil, fmt.Errorf("rendering prompt[%d]: %w", i, err)
		}
		messages = append(messages, capability.Message{Role: m.Role, Content: content})
	}

	modelReq := capability.ModelRequest{
		Provider:   cfg.Provider,
		Model:      cfg.Model,
		Messages:   messages,
		Parameters: cfg.Parameters,
	}
	if cfg.Stream {
		modelReq.OnDelta = req.EmitChunk
	}

	logger.Debug("Invoking model.", "model", cfg.Model, "messages", len(messages), "stream", cfg.Stream)
	resp, err := req.Caps.Model.Invoke(ctx, modelReq)
	if err != nil {
		return nil, fmt.Errorf("model invocation: %w", err)
	}

	return &Response{
		Outputs: map[string]cty.Value{"text": cty.StringVal(resp.Text)},
		Usage:   resp.Usage,
	}, nil
}
