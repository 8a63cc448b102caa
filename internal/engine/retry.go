package engine

import (
	"context"
	"time"

	"github.com/specialistvlad/flowgrid/internal/nodes"
	"github.com/specialistvlad/flowgrid/internal/trace"
)

// runWithRetry executes a node body under its retry policy. Nodes without
// a policy run exactly once. Retries back off geometrically, never fire
// after a stop request, and an exhausted default_value policy substitutes
// the configured outputs instead of failing the node.
func (lr *levelRun) runWithRetry(ctx context.Context, st *nodeState, run nodes.RunFunc, req *nodes.Request, policy *nodes.RetryConfig) (*nodes.Response, error) {
	attempts := 1
	if policy != nil {
		attempts += policy.MaxRetries
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		st.attempts = attempt
		res, err := run(ctx, req)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if ctx.Err() != nil || lr.ex.stopRequested() {
			return nil, err
		}
		if attempt == attempts {
			break
		}

		lr.emit(st, trace.NodeRetried, map[string]any{
			"attempt": attempt,
			"error":   err.Error(),
		})
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-lr.ex.stopCh:
			return nil, ErrStopped
		case <-time.After(retryDelay(policy, attempt)):
		}
	}

	if policy != nil && policy.ErrorStrategy == nodes.StrategyDefaultValue {
		defaults, derr := policy.DefaultValues()
		if derr != nil {
			return nil, derr
		}
		st.substituted = true
		return &nodes.Response{Outputs: defaults}, nil
	}
	return nil, lastErr
}

// retryDelay computes the wait before the attempt following the given one.
func retryDelay(policy *nodes.RetryConfig, attempt int) time.Duration {
	interval := time.Duration(policy.IntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	factor := policy.BackoffFactor
	if factor <= 0 {
		factor = 1
	}
	d := interval
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * factor)
	}
	return d
}
