// Package capability declares the collaborator interfaces a run is invoked
// with. The engine never reaches out to the world on its own: model calls,
// knowledge retrieval, sandboxed code execution, tool invocation and HTTP
// egress all go through the Set supplied by the caller, which is also what
// makes every fallible node trivially stubbable in tests.
package capability

import (
	"context"
	"net/http"
)

// Usage accounts for one model invocation.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates another usage record into this one.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// Message is a single chat message sent to a model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ModelRequest describes one model invocation.
type ModelRequest struct {
	Provider   string
	Model      string
	Messages   []Message
	Parameters map[string]any

	// OnDelta, when non-nil, receives incremental output chunks as the
	// model streams them. The final Text still contains the full output.
	OnDelta func(delta string)
}

// ModelResponse is the completed result of a model invocation.
type ModelResponse struct {
	Text  string
	Usage Usage
}

// ModelInvoker abstracts the model-provider layer.
type ModelInvoker interface {
	Invoke(ctx context.Context, req ModelRequest) (*ModelResponse, error)
}

// Passage is one ranked retrieval result.
type Passage struct {
	Content  string         `json:"content"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// KnowledgeRetriever answers queries against the caller's knowledge bases.
type KnowledgeRetriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]Passage, error)
}

// CodeRequest describes one sandboxed execution.
type CodeRequest struct {
	Language string
	Source   string
	Inputs   map[string]any
}

// CodeResponse carries the sandbox result. Outputs holds the returned
// values; Stdout is whatever the program printed.
type CodeResponse struct {
	Outputs map[string]any
	Stdout  string
}

// CodeSandbox executes untrusted code in isolation.
type CodeSandbox interface {
	RunCode(ctx context.Context, req CodeRequest) (*CodeResponse, error)
}

// ToolInvoker dispatches a named tool call with structured arguments.
type ToolInvoker interface {
	InvokeTool(ctx context.Context, tool string, args map[string]any) (map[string]any, error)
}

// Set bundles all collaborator interfaces for one run. Nil members are
// permitted; a node needing an absent capability fails with a node error.
type Set struct {
	Model     ModelInvoker
	Knowledge KnowledgeRetriever
	Sandbox   CodeSandbox
	Tools     ToolInvoker
	HTTP      *http.Client
}

// HTTPClient returns the configured HTTP client or the default one.
func (s Set) HTTPClient() *http.Client {
	if s.HTTP != nil {
		return s.HTTP
	}
	return http.DefaultClient
}
