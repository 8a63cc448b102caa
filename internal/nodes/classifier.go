package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/zclconf/go-cty/cty"

	"github.com/specialistvlad/flowgrid/internal/ctxlog"
)

// Class is one classification target. Keywords are matched
// case-insensitively against the input text.
type Class struct {
	ID       string   `json:"id"`
	Name     string   `json:"name,omitempty"`
	Keywords []string `json:"keywords"`
}

// ClassifierConfig scores the input text against each class's keyword set
// and routes execution down the winning class's handle. Classification is a
// pure function of its input, so re-running it is always deterministic.
type ClassifierConfig struct {
	Input   Mapping `json:"input"`
	Classes []Class `json:"classes"`
	// DefaultClass receives inputs that match no keywords. Defaults to the
	// first declared class.
	DefaultClass string `json:"default_class,omitempty"`
}

// Validate implements Config.
func (c *ClassifierConfig) Validate() error {
	if err := c.Input.Validate(); err != nil {
		return fmt.Errorf("input: %w", err)
	}
	if len(c.Classes) == 0 {
		return fmt.Errorf("at least one class is required")
	}
	seen := make(map[string]struct{}, len(c.Classes))
	for i, cl := range c.Classes {
		if cl.ID == "" {
			return fmt.Errorf("classes[%d]: id is required", i)
		}
		if _, dup := seen[cl.ID]; dup {
			return fmt.Errorf("classes: duplicate id %q", cl.ID)
		}
		seen[cl.ID] = struct{}{}
		if len(cl.Keywords) == 0 {
			return fmt.Errorf("class %q: at least one keyword is required", cl.ID)
		}
	}
	if c.DefaultClass != "" {
		if _, ok := seen[c.DefaultClass]; !ok {
			return fmt.Errorf("default_class %q is not a declared class", c.DefaultClass)
		}
	}
	return nil
}

// Handles lists the sourceHandles this node can take, for edge validation.
func (c *ClassifierConfig) Handles() []string {
	out := make([]string, 0, len(c.Classes))
	for _, cl := range c.Classes {
		out = append(out, cl.ID)
	}
	return out
}

func runClassifier(ctx context.Context, req *Request) (*Response, error) {
	cfg := req.Config.(*ClassifierConfig)
	text, err := cfg.Input.ResolveString(req.Pool)
	if err != nil {
		return nil, fmt.Errorf("resolving input: %w", err)
	}
	lowered := strings.ToLower(text)

	best := -1
	bestScore := 0
	for i, cl := range cfg.Classes {
		score := 0
		for _, kw := range cl.Keywords {
			score += strings.Count(lowered, strings.ToLower(kw))
		}
		// Ties resolve to the earliest declared class.
		if score > bestScore {
			best, bestScore = i, score
		}
	}

	var chosen Class
	if best >= 0 {
		chosen = cfg.Classes[best]
	} else if cfg.DefaultClass != "" {
		for _, cl := range cfg.Classes {
			if cl.ID == cfg.DefaultClass {
				chosen = cl
				break
			}
		}
	} else {
		chosen = cfg.Classes[0]
	}

	ctxlog.FromContext(ctx).Debug("Classifier selected class.", "class", chosen.ID, "score", bestScore)
	name := chosen.Name
	if name == "" {
		name = chosen.ID
	}
	return &Response{
		Outputs: map[string]cty.Value{
			"class_id":   cty.StringVal(chosen.ID),
			"class_name": cty.StringVal(name),
		},
		Branch: chosen.ID,
	}, nil
}
