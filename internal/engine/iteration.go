package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/zclconf/go-cty/cty"

	"github.com/specialistvlad/flowgrid/internal/ctxlog"
	"github.com/specialistvlad/flowgrid/internal/expr"
	"github.com/specialistvlad/flowgrid/internal/nodes"
	"github.com/specialistvlad/flowgrid/internal/vars"
)

// runIteration drives one iteration node: it resolves the input collection
// and runs the child sub-graph once per element, sequentially, each pass in
// a forked pool scope carrying that pass's item and index. Passes beyond
// the configured bound fail the node rather than silently truncating.
func (ex *execution) runIteration(ctx context.Context, lr *levelRun, st *nodeState) (*nodes.Response, error) {
	cfg := st.node.Config.(*nodes.IterationConfig)
	iterID := st.node.ID
	logger := ctxlog.FromContext(ctx).With("node_id", iterID)

	coll, err := cfg.Input.Resolve(lr.pool)
	if err != nil {
		return nil, fmt.Errorf("resolving iteration input: %w", err)
	}
	source := strings.Join(cfg.Input.Selector, ".")
	if coll.IsNull() {
		return nil, fmt.Errorf("iteration input %s is null", source)
	}
	ty := coll.Type()
	if !ty.IsTupleType() && !ty.IsListType() && !ty.IsSetType() {
		return nil, fmt.Errorf("iteration input %s is %s, want an array", source, ty.FriendlyName())
	}
	elems := coll.AsValueSlice()
	bound := cfg.Bound()
	collect := len(cfg.OutputSelector) == 2
	children := ex.graph.Children(iterID)
	logger.Debug("Starting iteration.", "elements", len(elems), "bound", bound)

	results := make([]cty.Value, 0, len(elems))
	for idx, elem := range elems {
		if ex.stopRequested() {
			return nil, &NodeError{NodeID: iterID, Class: ClassCancelled, Err: ErrStopped}
		}
		if idx >= bound {
			return nil, &NodeError{
				NodeID: iterID,
				Class:  ClassIterationBound,
				Err:    fmt.Errorf("collection of %d elements exceeds iteration bound %d", len(elems), bound),
			}
		}

		scope := lr.pool.Fork(idx)
		if err := scope.Set(iterID, "item", elem); err != nil {
			return nil, &NodeError{NodeID: iterID, Class: ClassInternal, Err: err}
		}
		if err := scope.Set(iterID, "index", cty.NumberIntVal(int64(idx))); err != nil {
			return nil, &NodeError{NodeID: iterID, Class: ClassInternal, Err: err}
		}

		pass := idx
		child := newLevelRun(ex, scope, &pass, children)
		if err := child.run(ctx); err != nil {
			return nil, fmt.Errorf("iteration %d: %w", idx, err)
		}
		if ex.stopRequested() {
			return nil, &NodeError{NodeID: iterID, Class: ClassCancelled, Err: ErrStopped}
		}

		if collect {
			v, gerr := scope.Get(vars.Ref{NodeID: cfg.OutputSelector[0], Name: cfg.OutputSelector[1]})
			if gerr != nil {
				// The selected node may have been skipped this pass.
				v = cty.NullVal(cty.DynamicPseudoType)
			}
			results = append(results, v)
		}

		if cfg.BreakCondition != "" {
			stop, berr := expr.EvalBool(cfg.BreakCondition, scope)
			if berr != nil {
				return nil, fmt.Errorf("iteration %d: evaluating break condition: %w", idx, berr)
			}
			if stop {
				logger.Debug("Break condition satisfied, ending iteration early.", "index", idx)
				break
			}
		}
	}

	output := cty.EmptyTupleVal
	if len(results) > 0 {
		output = cty.TupleVal(results)
	}
	return &nodes.Response{Outputs: map[string]cty.Value{"output": output}}, nil
}
