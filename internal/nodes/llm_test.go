package nodes

import (
	"context"
	"strings"
	"testing"

	"github.com/zclconf/go-cty/cty"

	"github.com/specialistvlad/flowgrid/internal/capability"
	"github.com/specialistvlad/flowgrid/internal/testutil"
)

func llmConfig(stream bool) *LLMConfig {
	return &LLMConfig{
		Model: "gpt-4o-mini",
		Prompt: []PromptMessage{
			{Role: "system", Template: "You are terse."},
			{Role: "user", Template: "Summarize: ${start.topic}"},
		},
		Stream: stream,
	}
}

func TestRunLLM_RendersPromptsAndPublishesText(t *testing.T) {
	t.Parallel()
	pool := poolWithEntries(t, "start", map[string]cty.Value{"topic": cty.StringVal("goroutines")})
	model := &testutil.EchoModel{
		Replies: []string{"short summary"},
		Usage:   capability.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}
	req, _ := testRequest(llmConfig(false), pool, capability.Set{Model: model})

	res, err := runLLM(context.Background(), req)
	if err != nil {
		t.Fatalf("runLLM: %v", err)
	}

	if got := res.Outputs["text"].AsString(); got != "short summary" {
		t.Errorf("text = %q", got)
	}
	if res.Usage.TotalTokens != 15 {
		t.Errorf("usage = %+v", res.Usage)
	}
	sent := model.Requests[0]
	if sent.Messages[1].Content != "Summarize: goroutines" {
		t.Errorf("rendered prompt = %q", sent.Messages[1].Content)
	}
	if sent.OnDelta != nil {
		t.Error("non-streaming request should not carry a delta callback")
	}
}

func TestRunLLM_StreamingEmitsChunks(t *testing.T) {
	t.Parallel()
	pool := poolWithEntries(t, "start", map[string]cty.Value{"topic": cty.StringVal("x")})
	model := &testutil.EchoModel{Replies: []string{"abc"}}
	req, chunks := testRequest(llmConfig(true), pool, capability.Set{Model: model})

	res, err := runLLM(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(*chunks, ""); got != "abc" {
		t.Errorf("chunks = %q, want the full text streamed", got)
	}
	if res.Outputs["text"].AsString() != "abc" {
		t.Error("final text must still carry the full output")
	}
}

func TestRunLLM_MissingCapability(t *testing.T) {
	t.Parallel()
	pool := poolWithEntries(t, "start", map[string]cty.Value{"topic": cty.StringVal("x")})
	req, _ := testRequest(llmConfig(false), pool, capability.Set{})

	if _, err := runLLM(context.Background(), req); err == nil {
		t.Fatal("expected error when model capability is absent")
	}
}

func TestLLMConfig_Validate(t *testing.T) {
	t.Parallel()

	noModel := &LLMConfig{Prompt: []PromptMessage{{Role: "user", Template: "x"}}}
	if err := noModel.Validate(); err == nil {
		t.Error("missing model accepted")
	}
	badRole := &LLMConfig{Model: "m", Prompt: []PromptMessage{{Role: "narrator", Template: "x"}}}
	if err := badRole.Validate(); err == nil {
		t.Error("unknown role accepted")
	}
}
