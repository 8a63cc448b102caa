// Package testutil provides deterministic capability stubs for engine and
// node tests. Nothing here touches the network.
package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/specialistvlad/flowgrid/internal/capability"
)

// EchoModel is a ModelInvoker that returns a canned reply, or echoes the
// last user message when no replies are scripted. When the request asks
// for streaming, the reply is delivered rune by rune before the final
// response, mimicking a provider stream.
type EchoModel struct {
	mu      sync.Mutex
	Replies []string
	Usage   capability.Usage

	Requests []capability.ModelRequest
}

func (m *EchoModel) Invoke(ctx context.Context, req capability.ModelRequest) (*capability.ModelResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	var text string
	if len(m.Replies) > 0 {
		text = m.Replies[0]
		m.Replies = m.Replies[1:]
	} else {
		for _, msg := range req.Messages {
			if msg.Role == "user" {
				text = msg.Content
			}
		}
	}
	usage := m.Usage
	m.mu.Unlock()

	if req.OnDelta != nil {
		for _, r := range text {
			req.OnDelta(string(r))
		}
	}
	return &capability.ModelResponse{Text: text, Usage: usage}, nil
}

// FailingModel always returns the configured error.
type FailingModel struct {
	Err error
}

func (m *FailingModel) Invoke(ctx context.Context, req capability.ModelRequest) (*capability.ModelResponse, error) {
	return nil, m.Err
}

// StaticRetriever returns the same passages for every query, truncated to
// topK, and records the queries it saw.
type StaticRetriever struct {
	Passages []capability.Passage

	mu      sync.Mutex
	Queries []string
}

func (r *StaticRetriever) Retrieve(ctx context.Context, query string, topK int) ([]capability.Passage, error) {
	r.mu.Lock()
	r.Queries = append(r.Queries, query)
	r.mu.Unlock()
	if topK > len(r.Passages) {
		topK = len(r.Passages)
	}
	out := make([]capability.Passage, topK)
	copy(out, r.Passages[:topK])
	return out, nil
}

// FakeSandbox delegates to Handler, or reflects the request inputs back as
// outputs when Handler is nil.
type FakeSandbox struct {
	Handler func(ctx context.Context, req capability.CodeRequest) (*capability.CodeResponse, error)

	mu       sync.Mutex
	Requests []capability.CodeRequest
}

func (s *FakeSandbox) RunCode(ctx context.Context, req capability.CodeRequest) (*capability.CodeResponse, error) {
	s.mu.Lock()
	s.Requests = append(s.Requests, req)
	s.mu.Unlock()
	if s.Handler != nil {
		return s.Handler(ctx, req)
	}
	return &capability.CodeResponse{Outputs: req.Inputs}, nil
}

// Call records one tool invocation.
type Call struct {
	Tool string
	Args map[string]any
}

// FakeTools dispatches to per-tool handler funcs and records every call.
type FakeTools struct {
	Handlers map[string]func(ctx context.Context, args map[string]any) (map[string]any, error)

	mu    sync.Mutex
	Calls []Call
}

func (t *FakeTools) InvokeTool(ctx context.Context, tool string, args map[string]any) (map[string]any, error) {
	t.mu.Lock()
	t.Calls = append(t.Calls, Call{Tool: tool, Args: args})
	t.mu.Unlock()
	h, ok := t.Handlers[tool]
	if !ok {
		return nil, fmt.Errorf("no handler for tool %q", tool)
	}
	return h(ctx, args)
}

// Caps assembles a fully stubbed capability set.
func Caps() capability.Set {
	return capability.Set{
		Model:     &EchoModel{},
		Knowledge: &StaticRetriever{},
		Sandbox:   &FakeSandbox{},
		Tools:     &FakeTools{},
	}
}
