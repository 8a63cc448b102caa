// Package nodes defines the closed set of workflow node variants: their
// configuration schemas, load-time validation, and runtime handlers. The
// scheduler dispatches through the Registry's definition table, so adding a
// variant means adding an entry here, not teaching the engine new behavior.
package nodes

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/zclconf/go-cty/cty"

	"github.com/specialistvlad/flowgrid/internal/capability"
	"github.com/specialistvlad/flowgrid/internal/vars"
)

// Kind tags a node variant.
type Kind string

const (
	KindStart      Kind = "start"
	KindEnd        Kind = "end"
	KindAnswer     Kind = "answer"
	KindLLM        Kind = "llm"
	KindCode       Kind = "code"
	KindHTTP       Kind = "http_request"
	KindCondition  Kind = "condition"
	KindIteration  Kind = "iteration"
	KindAssigner   Kind = "variable_assigner"
	KindExtractor  Kind = "parameter_extractor"
	KindClassifier Kind = "question_classifier"
	KindTemplate   Kind = "template_transform"
	KindTool       Kind = "tool_call"
	KindRetrieval  Kind = "knowledge_retrieval"
)

// Config is a variant-specific configuration block, decoded from the
// document's node data and validated before any node executes.
type Config interface {
	Validate() error
}

// Fallible is implemented by configs that carry a retry/continue policy
// (HTTP-Request and Tool-Call).
type Fallible interface {
	RetryPolicy() *RetryConfig
}

// RetryConfig controls failure handling for fallible nodes.
type RetryConfig struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int `json:"max_retries"`
	// IntervalMS is the delay before the first retry.
	IntervalMS int `json:"interval_ms"`
	// BackoffFactor multiplies the delay after each attempt. Values below 1
	// are treated as 1 (constant delay).
	BackoffFactor float64 `json:"backoff_factor"`
	// ErrorStrategy is "fail" (default) or "default_value".
	ErrorStrategy string `json:"error_strategy"`
	// DefaultOutputs substitutes the node's outputs when ErrorStrategy is
	// "default_value" and all attempts failed.
	DefaultOutputs map[string]any `json:"default_outputs"`
}

const (
	StrategyFail         = "fail"
	StrategyDefaultValue = "default_value"
)

func (r *RetryConfig) validate() error {
	if r == nil {
		return nil
	}
	if r.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	if r.IntervalMS < 0 {
		return fmt.Errorf("interval_ms must not be negative")
	}
	switch r.ErrorStrategy {
	case "", StrategyFail:
	case StrategyDefaultValue:
		if len(r.DefaultOutputs) == 0 {
			return fmt.Errorf("error_strategy %q requires default_outputs", StrategyDefaultValue)
		}
	default:
		return fmt.Errorf("unknown error_strategy %q", r.ErrorStrategy)
	}
	return nil
}

// DefaultValues converts the configured default outputs to pool values.
func (r *RetryConfig) DefaultValues() (map[string]cty.Value, error) {
	out := make(map[string]cty.Value, len(r.DefaultOutputs))
	for name, raw := range r.DefaultOutputs {
		v, err := vars.FromGo(raw)
		if err != nil {
			return nil, fmt.Errorf("default output %q: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

// Request carries everything a handler may need for one execution.
type Request struct {
	NodeID string
	Title  string
	Config Config

	// Pool is the variable scope the node resolves references against.
	Pool *vars.Pool
	// Caps bundles the caller-supplied collaborator interfaces.
	Caps capability.Set
	// RunInputs holds the run's initial inputs; only the Start node reads it.
	RunInputs map[string]cty.Value
	// EmitChunk surfaces incremental output into the trace. Never nil.
	EmitChunk func(delta string)
}

// Response is a successful execution result.
type Response struct {
	// Outputs are committed to the Variable Pool under the node's id once
	// the scheduler marks the node Succeeded.
	Outputs map[string]cty.Value
	// Branch names the taken sourceHandle on branching variants; empty
	// otherwise.
	Branch string
	// Usage accounts for model tokens consumed by this execution.
	Usage capability.Usage
}

// RunFunc executes one node. Errors returned here are node-local; the
// scheduler turns them into Failed status plus a trace event.
type RunFunc func(ctx context.Context, req *Request) (*Response, error)

// Definition describes one variant for the dispatch table.
type Definition struct {
	Kind      Kind
	NewConfig func() Config
	// Run is nil only for the iteration variant, which the scheduler drives
	// itself because it owns a sub-graph.
	Run RunFunc
	// Branching variants select one outgoing sourceHandle per execution.
	Branching bool
	// Terminal variants end a path through the graph.
	Terminal bool
	// Fallible variants honor a RetryConfig.
	Fallible bool
}

// Registry is the closed dispatch table from kind to definition.
type Registry struct {
	defs map[Kind]*Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[Kind]*Definition)}
}

// Register adds a definition. Registering the same kind twice panics; the
// table is assembled once at startup from a fixed set.
func (r *Registry) Register(def *Definition) {
	if _, exists := r.defs[def.Kind]; exists {
		panic(fmt.Sprintf("nodes: duplicate registration for kind %q", def.Kind))
	}
	r.defs[def.Kind] = def
}

// Lookup returns the definition for a kind.
func (r *Registry) Lookup(kind Kind) (*Definition, bool) {
	def, ok := r.defs[kind]
	return def, ok
}

// Decode unmarshals and returns a variant config without validating it.
func (r *Registry) Decode(kind Kind, raw json.RawMessage) (Config, error) {
	def, ok := r.defs[kind]
	if !ok {
		return nil, fmt.Errorf("unknown node type %q", kind)
	}
	cfg := def.NewConfig()
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("decoding %s config: %w", kind, err)
		}
	}
	return cfg, nil
}

// DefaultRegistry assembles the builtin variant set.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(&Definition{Kind: KindStart, NewConfig: func() Config { return &StartConfig{} }, Run: runStart})
	r.Register(&Definition{Kind: KindEnd, NewConfig: func() Config { return &EndConfig{} }, Run: runEnd, Terminal: true})
	r.Register(&Definition{Kind: KindAnswer, NewConfig: func() Config { return &AnswerConfig{} }, Run: runAnswer, Terminal: true})
	r.Register(&Definition{Kind: KindLLM, NewConfig: func() Config { return &LLMConfig{} }, Run: runLLM})
	r.Register(&Definition{Kind: KindCode, NewConfig: func() Config { return &CodeConfig{} }, Run: runCode})
	r.Register(&Definition{Kind: KindHTTP, NewConfig: func() Config { return &HTTPConfig{} }, Run: runHTTP, Fallible: true})
	r.Register(&Definition{Kind: KindCondition, NewConfig: func() Config { return &ConditionConfig{} }, Run: runCondition, Branching: true})
	r.Register(&Definition{Kind: KindIteration, NewConfig: func() Config { return &IterationConfig{} }})
	r.Register(&Definition{Kind: KindAssigner, NewConfig: func() Config { return &AssignerConfig{} }, Run: runAssigner})
	r.Register(&Definition{Kind: KindExtractor, NewConfig: func() Config { return &ExtractorConfig{} }, Run: runExtractor})
	r.Register(&Definition{Kind: KindClassifier, NewConfig: func() Config { return &ClassifierConfig{} }, Run: runClassifier, Branching: true})
	r.Register(&Definition{Kind: KindTemplate, NewConfig: func() Config { return &TemplateConfig{} }, Run: runTemplate})
	r.Register(&Definition{Kind: KindTool, NewConfig: func() Config { return &ToolConfig{} }, Run: runTool, Fallible: true})
	r.Register(&Definition{Kind: KindRetrieval, NewConfig: func() Config { return &RetrievalConfig{} }, Run: runRetrieval})
	return r
}
