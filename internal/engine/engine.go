// Package engine schedules and executes one workflow graph run. The
// scheduler walks the validated graph from Start, dispatches nodes whose
// incoming edges have all resolved onto a bounded worker pool, propagates
// skips down non-taken branches, drives iteration sub-graphs as bounded
// unrollings with per-index pool scopes, and finalizes the run as
// Succeeded, Failed or Stopped with a totally ordered trace.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zclconf/go-cty/cty"

	"github.com/specialistvlad/flowgrid/internal/capability"
	"github.com/specialistvlad/flowgrid/internal/ctxlog"
	"github.com/specialistvlad/flowgrid/internal/graph"
	"github.com/specialistvlad/flowgrid/internal/trace"
	"github.com/specialistvlad/flowgrid/internal/vars"
)

// NodeStatus is the runtime state of one node instance.
type NodeStatus int32

const (
	StatusPending NodeStatus = iota
	StatusRunning
	StatusSucceeded
	StatusFailed
	StatusSkipped
)

func (s NodeStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	}
	return "unknown"
}

// RunStatus is the overall state of a run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunStopped   RunStatus = "stopped"
)

// Options tunes one engine instance.
type Options struct {
	// MaxParallelism bounds concurrently executing sibling branches.
	// Zero means DefaultMaxParallelism.
	MaxParallelism int
	// Sink receives trace events live, in addition to the recorder's
	// in-memory copy. Optional.
	Sink trace.Sink
}

// DefaultMaxParallelism is the worker count used when Options does not
// set one.
const DefaultMaxParallelism = 10

func (o Options) parallelism() int {
	if o.MaxParallelism > 0 {
		return o.MaxParallelism
	}
	return DefaultMaxParallelism
}

// RunResult is the outcome of one run.
type RunResult struct {
	RunID      string
	Status     RunStatus
	Outputs    map[string]cty.Value
	Err        error
	Usage      capability.Usage
	Trace      []trace.Event
	Statuses   map[string]NodeStatus
	StartedAt  time.Time
	FinishedAt time.Time
}

// Engine executes workflow graphs.
type Engine struct {
	opts Options
}

// New creates an Engine.
func New(opts Options) *Engine {
	return &Engine{opts: opts}
}

// Run is one in-flight or finished execution. Create with NewRun, drive
// with Execute, interrupt with Stop.
type Run struct {
	ID string

	engine *Engine
	graph  *graph.Graph
	caps   capability.Set
	inputs map[string]any

	stopOnce sync.Once
	stopCh   chan struct{}

	mu     sync.Mutex
	status RunStatus
	result *RunResult
}

// NewRun prepares a run with a fresh id. Nothing executes until Execute.
func (e *Engine) NewRun(g *graph.Graph, inputs map[string]any, caps capability.Set) *Run {
	return &Run{
		ID:     uuid.NewString(),
		engine: e,
		graph:  g,
		caps:   caps,
		inputs: inputs,
		stopCh: make(chan struct{}),
		status: RunRunning,
	}
}

// Execute runs the graph to completion and returns the result. It blocks;
// Stop may be called concurrently from another goroutine. The returned
// error is the run's root cause when Status is Failed, ErrStopped when
// Stopped, nil when Succeeded.
func (r *Run) Execute(ctx context.Context) (*RunResult, error) {
	logger := ctxlog.FromContext(ctx).With("run_id", r.ID)
	ctx = ctxlog.WithLogger(ctx, logger)

	started := time.Now().UTC()
	rec := trace.NewRecorder(r.ID, r.engine.opts.Sink)

	runInputs := make(map[string]cty.Value, len(r.inputs))
	for name, raw := range r.inputs {
		v, err := vars.FromGo(raw)
		if err != nil {
			return nil, fmt.Errorf("initial input %q: %w", name, err)
		}
		runInputs[name] = v
	}

	ex := &execution{
		engine:    r.engine,
		graph:     r.graph,
		caps:      r.caps,
		rec:       rec,
		pool:      vars.NewPool(r.graph.Env),
		runInputs: runInputs,
		stopCh:    r.stopCh,
		finals:    make(map[string]cty.Value),
	}

	// Stop requests cancel in-flight node work cooperatively.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-r.stopCh:
			cancel()
		case <-runCtx.Done():
		}
	}()

	rec.Record("", nil, trace.RunStarted, map[string]any{"inputs": snapshotGo(runInputs)})
	logger.Info("Run started.", "nodes", len(r.graph.Order))

	top := newLevelRun(ex, ex.pool, nil, r.graph.Level(""))
	rootErr := top.run(runCtx)

	status := RunSucceeded
	var runErr error
	switch {
	case ex.stopRequested():
		status = RunStopped
		runErr = ErrStopped
	case rootErr != nil:
		status = RunFailed
		runErr = rootErr
	}

	result := &RunResult{
		RunID:      r.ID,
		Status:     status,
		Outputs:    ex.finalOutputs(),
		Err:        runErr,
		Usage:      ex.usageTotal(),
		Statuses:   top.statuses(),
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
	}

	payload := map[string]any{
		"status":    string(status),
		"usage":     result.Usage,
		"variables": ex.pool.Snapshot(),
	}
	if runErr != nil {
		payload["error"] = runErr.Error()
		payload["error_class"] = string(classOf(runErr))
	} else {
		payload["outputs"] = snapshotGo(result.Outputs)
	}
	rec.Record("", nil, trace.RunCompleted, payload)
	result.Trace = rec.Events()

	r.mu.Lock()
	r.status = status
	r.result = result
	r.mu.Unlock()

	logger.Info("Run finished.", "status", status)
	return result, runErr
}

// Stop requests cooperative cancellation: no new nodes are dispatched and
// in-flight work is cancelled where it honors context. Safe to call any
// number of times, from any goroutine.
func (r *Run) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// Status reports the run's current overall state.
func (r *Run) Status() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Result returns the finished result, or nil while the run is in flight.
func (r *Run) Result() *RunResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

func snapshotGo(values map[string]cty.Value) map[string]any {
	out := make(map[string]any, len(values))
	for name, v := range values {
		goVal, err := vars.ToGo(v)
		if err != nil {
			out[name] = fmt.Sprintf("<unrepresentable: %v>", err)
			continue
		}
		out[name] = goVal
	}
	return out
}
