package nodes

import (
	"context"
	"fmt"

	"github.com/zclconf/go-cty/cty"

	"github.com/specialistvlad/flowgrid/internal/ctxlog"
	"github.com/specialistvlad/flowgrid/internal/vars"
)

// RetrievalConfig queries the knowledge-retrieval capability and publishes
// the ranked passages.
type RetrievalConfig struct {
	Query          Mapping `json:"query"`
	TopK           int     `json:"top_k,omitempty"`
	ScoreThreshold float64 `json:"score_threshold,omitempty"`
}

// Validate implements Config.
func (c *RetrievalConfig) Validate() error {
	if err := c.Query.Validate(); err != nil {
		return fmt.Errorf("query: %w", err)
	}
	if c.TopK < 0 {
		return fmt.Errorf("top_k must not be negative")
	}
	if c.ScoreThreshold < 0 || c.ScoreThreshold > 1 {
		return fmt.Errorf("score_threshold must be within [0, 1]")
	}
	return nil
}

func runRetrieval(ctx context.Context, req *Request) (*Response, error) {
	cfg := req.Config.(*RetrievalConfig)
	logger := ctxlog.FromContext(ctx)
	if req.Caps.Knowledge == nil {
		return nil, fmt.Errorf("knowledge retrieval capability is not configured")
	}

	query, err := cfg.Query.ResolveString(req.Pool)
	if err != nil {
		return nil, fmt.Errorf("resolving query: %w", err)
	}
	topK := cfg.TopK
	if topK == 0 {
		topK = 4
	}

	passages, err := req.Caps.Knowledge.Retrieve(ctx, query, topK)
	if err != nil {
		return nil, fmt.Errorf("retrieval: %w", err)
	}

	elems := make([]cty.Value, 0, len(passages))
	for _, p := range passages {
		if p.Score < cfg.ScoreThreshold {
			continue
		}
		meta := cty.EmptyObjectVal
		if len(p.Metadata) > 0 {
			mv, err := vars.FromGo(map[string]any(p.Metadata))
			if err != nil {
				return nil, fmt.Errorf("passage metadata: %w", err)
			}
			meta = mv
		}
		elems = append(elems, cty.ObjectVal(map[string]cty.Value{
			"content":  cty.StringVal(p.Content),
			"score":    cty.NumberFloatVal(p.Score),
			"metadata": meta,
		}))
	}
	result := cty.EmptyTupleVal
	if len(elems) > 0 {
		result = cty.TupleVal(elems)
	}

	logger.Debug("Knowledge retrieval completed.", "query", query, "passages", len(elems))
	return &Response{Outputs: map[string]cty.Value{"result": result}}, nil
}
