package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/specialistvlad/flowgrid/internal/capability"
	"github.com/specialistvlad/flowgrid/internal/graph"
)

// Runner tracks runs by id so callers holding only an id can stop a run
// or inspect its state. One Runner serves one process.
type Runner struct {
	engine *Engine

	mu   sync.Mutex
	runs map[string]*Run
}

// NewRunner creates a Runner backed by the given engine.
func NewRunner(engine *Engine) *Runner {
	return &Runner{engine: engine, runs: make(map[string]*Run)}
}

// Start registers a new run and executes it on the calling goroutine,
// returning its result. The run stays registered after completion so its
// status and result remain queryable.
func (rn *Runner) Start(ctx context.Context, g *graph.Graph, inputs map[string]any, caps capability.Set) (*RunResult, error) {
	run := rn.engine.NewRun(g, inputs, caps)
	rn.mu.Lock()
	rn.runs[run.ID] = run
	rn.mu.Unlock()
	return run.Execute(ctx)
}

// Launch registers a new run and executes it in the background, returning
// immediately with the run handle.
func (rn *Runner) Launch(ctx context.Context, g *graph.Graph, inputs map[string]any, caps capability.Set) *Run {
	run := rn.engine.NewRun(g, inputs, caps)
	rn.mu.Lock()
	rn.runs[run.ID] = run
	rn.mu.Unlock()
	go func() {
		_, _ = run.Execute(ctx)
	}()
	return run
}

// Stop requests cooperative cancellation of the run with the given id.
func (rn *Runner) Stop(id string) error {
	run, ok := rn.lookup(id)
	if !ok {
		return fmt.Errorf("unknown run %q", id)
	}
	run.Stop()
	return nil
}

// Status reports the overall state of the run with the given id.
func (rn *Runner) Status(id string) (RunStatus, error) {
	run, ok := rn.lookup(id)
	if !ok {
		return "", fmt.Errorf("unknown run %q", id)
	}
	return run.Status(), nil
}

// Result returns the finished result of the run with the given id, or nil
// while it is still in flight.
func (rn *Runner) Result(id string) (*RunResult, error) {
	run, ok := rn.lookup(id)
	if !ok {
		return nil, fmt.Errorf("unknown run %q", id)
	}
	return run.Result(), nil
}

// IDs lists every registered run id.
func (rn *Runner) IDs() []string {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	ids := make([]string, 0, len(rn.runs))
	for id := range rn.runs {
		ids = append(ids, id)
	}
	return ids
}

func (rn *Runner) lookup(id string) (*Run, bool) {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	run, ok := rn.runs[id]
	return run, ok
}
