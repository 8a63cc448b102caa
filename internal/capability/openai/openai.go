// Package openai implements the model-invocation capability over an
// OpenAI-compatible chat completions API. Custom base URLs are supported so
// any provider speaking the same wire format can be plugged in.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/specialistvlad/flowgrid/internal/capability"
)

// Invoker calls an OpenAI-compatible endpoint.
type Invoker struct {
	client *goopenai.Client
}

// New creates an Invoker. baseURL may be empty for the default endpoint.
func New(apiKey, baseURL string) (*Invoker, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: api key is required")
	}
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &Invoker{client: goopenai.NewClientWithConfig(cfg)}, nil
}

// Invoke implements capability.ModelInvoker. When req.OnDelta is set the
// completion is streamed and chunks are forwarded as they arrive.
func (i *Invoker) Invoke(ctx context.Context, req capability.ModelRequest) (*capability.ModelResponse, error) {
	chatReq := goopenai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: toChatMessages(req.Messages),
	}
	applyParameters(&chatReq, req.Parameters)

	if req.OnDelta == nil {
		return i.invokeBlocking(ctx, chatReq)
	}
	return i.invokeStreaming(ctx, chatReq, req.OnDelta)
}

func (i *Invoker) invokeBlocking(ctx context.Context, chatReq goopenai.ChatCompletionRequest) (*capability.ModelResponse, error) {
	resp, err := i.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: completion returned no choices")
	}
	return &capability.ModelResponse{
		Text: resp.Choices[0].Message.Content,
		Usage: capability.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func (i *Invoker) invokeStreaming(ctx context.Context, chatReq goopenai.ChatCompletionRequest, onDelta func(string)) (*capability.ModelResponse, error) {
	chatReq.Stream = true
	chatReq.StreamOptions = &goopenai.StreamOptions{IncludeUsage: true}

	stream, err := i.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("openai: opening completion stream: %w", err)
	}
	defer stream.Close()

	var sb strings.Builder
	var usage capability.Usage
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("openai: reading completion stream: %w", err)
		}
		if chunk.Usage != nil {
			usage = capability.Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		sb.WriteString(delta)
		onDelta(delta)
	}

	return &capability.ModelResponse{Text: sb.String(), Usage: usage}, nil
}

func toChatMessages(msgs []capability.Message) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, goopenai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// applyParameters maps the generic parameter bag onto the request fields the
// wire format understands. Unknown keys are ignored rather than rejected;
// the document validates node config, not provider capabilities.
func applyParameters(req *goopenai.ChatCompletionRequest, params map[string]any) {
	for key, raw := range params {
		switch key {
		case "temperature":
			if f, ok := toFloat(raw); ok {
				req.Temperature = float32(f)
			}
		case "top_p":
			if f, ok := toFloat(raw); ok {
				req.TopP = float32(f)
			}
		case "max_tokens":
			if f, ok := toFloat(raw); ok {
				req.MaxTokens = int(f)
			}
		case "presence_penalty":
			if f, ok := toFloat(raw); ok {
				req.PresencePenalty = float32(f)
			}
		case "frequency_penalty":
			if f, ok := toFloat(raw); ok {
				req.FrequencyPenalty = float32(f)
			}
		case "stop":
			if s, ok := raw.(string); ok {
				req.Stop = []string{s}
			}
		}
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
