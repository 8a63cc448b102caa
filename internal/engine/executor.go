package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zclconf/go-cty/cty"

	"github.com/specialistvlad/flowgrid/internal/capability"
	"github.com/specialistvlad/flowgrid/internal/ctxlog"
	"github.com/specialistvlad/flowgrid/internal/graph"
	"github.com/specialistvlad/flowgrid/internal/nodes"
	"github.com/specialistvlad/flowgrid/internal/trace"
	"github.com/specialistvlad/flowgrid/internal/vars"
)

// execution is the run-scoped mutable state shared by all levels of one
// run: the root pool, the recorder, usage counters and the failure/stop
// flags. Mutation is confined to atomics and small locked sections; node
// outputs are only ever committed by the completing node's own goroutine.
type execution struct {
	engine    *Engine
	graph     *graph.Graph
	caps      capability.Set
	rec       *trace.Recorder
	pool      *vars.Pool
	runInputs map[string]cty.Value
	stopCh    <-chan struct{}

	failed atomic.Bool

	promptTokens     atomic.Int64
	completionTokens atomic.Int64
	totalTokens      atomic.Int64

	finalsMu sync.Mutex
	finals   map[string]cty.Value
}

func (ex *execution) stopRequested() bool {
	select {
	case <-ex.stopCh:
		return true
	default:
		return false
	}
}

func (ex *execution) addUsage(u capability.Usage) {
	ex.promptTokens.Add(int64(u.PromptTokens))
	ex.completionTokens.Add(int64(u.CompletionTokens))
	ex.totalTokens.Add(int64(u.TotalTokens))
}

func (ex *execution) usageTotal() capability.Usage {
	return capability.Usage{
		PromptTokens:     int(ex.promptTokens.Load()),
		CompletionTokens: int(ex.completionTokens.Load()),
		TotalTokens:      int(ex.totalTokens.Load()),
	}
}

// mergeFinal folds a terminal node's outputs into the run outputs.
func (ex *execution) mergeFinal(outputs map[string]cty.Value) {
	ex.finalsMu.Lock()
	defer ex.finalsMu.Unlock()
	for name, v := range outputs {
		ex.finals[name] = v
	}
}

func (ex *execution) finalOutputs() map[string]cty.Value {
	ex.finalsMu.Lock()
	defer ex.finalsMu.Unlock()
	out := make(map[string]cty.Value, len(ex.finals))
	for name, v := range ex.finals {
		out[name] = v
	}
	return out
}

// nodeState is the runtime instance of one node within one level. A node
// re-entered by a loop is a fresh nodeState in a fresh level, never a
// reused one.
type nodeState struct {
	node *graph.Node

	status  atomic.Int32
	pending atomic.Int32 // unresolved incoming edges
	taken   atomic.Int32 // incoming edges resolved as taken

	// done guards the single terminal transition (succeed/fail/skip).
	done sync.Once

	branch      string
	attempts    int
	substituted bool
	startedAt   time.Time
}

func (st *nodeState) getStatus() NodeStatus { return NodeStatus(st.status.Load()) }

// levelRun executes one level of the graph: the top-level nodes, or one
// iteration pass over a sub-graph, against its own pool scope.
type levelRun struct {
	ex        *execution
	pool      *vars.Pool
	iteration *int
	order     []string
	states    map[string]*nodeState
	ready     chan *nodeState
	wg        sync.WaitGroup

	errMu    sync.Mutex
	firstErr error
}

func newLevelRun(ex *execution, pool *vars.Pool, iteration *int, members []string) *levelRun {
	lr := &levelRun{
		ex:        ex,
		pool:      pool,
		iteration: iteration,
		order:     members,
		states:    make(map[string]*nodeState, len(members)),
	}
	for _, id := range members {
		st := &nodeState{node: ex.graph.Nodes[id]}
		st.pending.Store(int32(len(ex.graph.Incoming(id))))
		lr.states[id] = st
	}
	return lr
}

func (lr *levelRun) noteFailure(err error) {
	lr.errMu.Lock()
	defer lr.errMu.Unlock()
	if lr.firstErr == nil {
		lr.firstErr = err
	}
}

// run drives the level to completion: seed roots, spin up the worker pool,
// wait for every member to reach a terminal status. Roots and edges are
// walked in document order, so simultaneously-ready siblings dispatch
// deterministically under the parallelism cap.
func (lr *levelRun) run(ctx context.Context) error {
	if len(lr.order) == 0 {
		return nil
	}
	logger := ctxlog.FromContext(ctx)

	lr.ready = make(chan *nodeState, len(lr.order))
	for _, id := range lr.order {
		if st := lr.states[id]; st.pending.Load() == 0 {
			lr.ready <- st
		}
	}

	lr.wg.Add(len(lr.order))
	workers := lr.ex.engine.opts.parallelism()
	if workers > len(lr.order) {
		workers = len(lr.order)
	}
	logger.Debug("Starting level worker pool.", "workers", workers, "nodes", len(lr.order))
	for i := 0; i < workers; i++ {
		go lr.worker(ctx, i)
	}

	lr.wg.Wait()
	close(lr.ready)

	lr.errMu.Lock()
	defer lr.errMu.Unlock()
	return lr.firstErr
}

// worker is the processing loop for one concurrent worker.
func (lr *levelRun) worker(ctx context.Context, workerID int) {
	logger := ctxlog.FromContext(ctx).With("worker_id", workerID)
	for st := range lr.ready {
		lr.dispatch(ctx, logger, st)
	}
}

func (lr *levelRun) dispatch(ctx context.Context, logger *slog.Logger, st *nodeState) {
	nodeID := st.node.ID

	// A stop or a sibling failure does not cancel in-flight work, but it
	// does keep newly ready nodes from dispatching.
	if lr.ex.stopRequested() {
		lr.skip(st, "run_stopped")
		return
	}
	if lr.ex.failed.Load() {
		lr.skip(st, "upstream_failed")
		return
	}
	if got := st.getStatus(); got != StatusPending {
		err := &NodeError{NodeID: nodeID, Class: ClassInternal, Err: errors.New("ready node is not pending")}
		lr.ex.failed.Store(true)
		lr.noteFailure(err)
		lr.fail(st, err)
		return
	}

	st.status.Store(int32(StatusRunning))
	st.startedAt = time.Now().UTC()
	lr.emit(st, trace.NodeStarted, map[string]any{
		"type":  string(st.node.Kind),
		"title": st.node.Title,
	})
	logger.Debug("Worker picked up node for execution.", "node_id", nodeID)

	res, err := lr.execute(ctx, st)

	switch {
	case err != nil && (lr.ex.stopRequested() || errors.Is(err, context.Canceled)):
		// Outputs of work interrupted by stop are discarded.
		lr.fail(st, &NodeError{NodeID: nodeID, Class: ClassCancelled, Err: err})

	case err != nil:
		nerr := asNodeError(nodeID, err)
		lr.ex.failed.Store(true)
		lr.noteFailure(nerr)
		lr.fail(st, nerr)

	default:
		if lr.ex.stopRequested() {
			lr.fail(st, &NodeError{NodeID: nodeID, Class: ClassCancelled, Err: ErrStopped})
			return
		}
		if cerr := lr.pool.SetAll(nodeID, res.Outputs); cerr != nil {
			nerr := &NodeError{NodeID: nodeID, Class: ClassInternal, Err: cerr}
			lr.ex.failed.Store(true)
			lr.noteFailure(nerr)
			lr.fail(st, nerr)
			return
		}
		st.branch = res.Branch
		lr.ex.addUsage(res.Usage)
		if st.node.Def.Terminal && lr.iteration == nil {
			lr.ex.mergeFinal(res.Outputs)
		}
		lr.succeed(st, res)
	}
}

// execute runs the node body, routing iteration nodes to the loop driver
// and everything else through the dispatch table with its retry policy.
func (lr *levelRun) execute(ctx context.Context, st *nodeState) (*nodes.Response, error) {
	if st.node.Kind == nodes.KindIteration {
		return lr.ex.runIteration(ctx, lr, st)
	}

	req := &nodes.Request{
		NodeID:    st.node.ID,
		Title:     st.node.Title,
		Config:    st.node.Config,
		Pool:      lr.pool,
		Caps:      lr.ex.caps,
		RunInputs: lr.ex.runInputs,
		EmitChunk: func(delta string) {
			lr.emit(st, trace.NodeChunk, map[string]any{"delta": delta})
		},
	}

	var policy *nodes.RetryConfig
	if st.node.Def.Fallible {
		if f, ok := st.node.Config.(nodes.Fallible); ok {
			policy = f.RetryPolicy()
		}
	}
	return lr.runWithRetry(ctx, st, st.node.Def.Run, req, policy)
}

func (lr *levelRun) succeed(st *nodeState, res *nodes.Response) {
	st.done.Do(func() {
		st.status.Store(int32(StatusSucceeded))
		payload := map[string]any{
			"outputs":    snapshotGo(res.Outputs),
			"attempts":   st.attempts,
			"elapsed_ms": time.Since(st.startedAt).Milliseconds(),
		}
		if st.branch != "" {
			payload["branch"] = st.branch
		}
		if st.substituted {
			payload["substituted_default"] = true
		}
		lr.emit(st, trace.NodeSucceeded, payload)
		lr.resolveOutgoing(st, true)
		lr.wg.Done()
	})
}

func (lr *levelRun) fail(st *nodeState, err *NodeError) {
	st.done.Do(func() {
		st.status.Store(int32(StatusFailed))
		lr.emit(st, trace.NodeFailed, map[string]any{
			"error":       err.Err.Error(),
			"error_class": string(err.Class),
			"attempts":    st.attempts,
		})
		lr.resolveOutgoing(st, false)
		lr.wg.Done()
	})
}

func (lr *levelRun) skip(st *nodeState, cause string) {
	st.done.Do(func() {
		st.status.Store(int32(StatusSkipped))
		lr.emit(st, trace.NodeSkipped, map[string]any{"cause": cause})
		lr.resolveOutgoing(st, false)
		lr.wg.Done()
	})
}

// resolveOutgoing resolves every outgoing edge of a terminal node. An edge
// is taken only when the node succeeded and, on branching nodes, the
// edge's handle matches the selected branch.
func (lr *levelRun) resolveOutgoing(st *nodeState, succeeded bool) {
	for _, e := range lr.ex.graph.Outgoing(st.node.ID) {
		taken := succeeded && (e.SourceHandle == "" || e.SourceHandle == st.branch)
		lr.resolveEdge(e.Target, taken)
	}
}

// resolveEdge records one incoming-edge resolution on the target. Only when
// every incoming edge has resolved does the target become ready (at least
// one edge taken) or skipped (none taken) — join semantics and transitive
// skip propagation fall out of the same counter.
func (lr *levelRun) resolveEdge(targetID string, taken bool) {
	ts := lr.states[targetID]
	if taken {
		ts.taken.Add(1)
	}
	if ts.pending.Add(-1) == 0 {
		if ts.taken.Load() > 0 {
			lr.ready <- ts
		} else {
			lr.skip(ts, lr.skipCause())
		}
	}
}

func (lr *levelRun) skipCause() string {
	switch {
	case lr.ex.stopRequested():
		return "run_stopped"
	case lr.ex.failed.Load():
		return "upstream_failed"
	default:
		return "branch_not_taken"
	}
}

func (lr *levelRun) emit(st *nodeState, kind trace.Kind, payload map[string]any) {
	lr.ex.rec.Record(st.node.ID, lr.iteration, kind, payload)
}

// statuses reports each member's final status, keyed by node id.
func (lr *levelRun) statuses() map[string]NodeStatus {
	out := make(map[string]NodeStatus, len(lr.states))
	for id, st := range lr.states {
		out[id] = st.getStatus()
	}
	return out
}

func asNodeError(nodeID string, err error) *NodeError {
	var ne *NodeError
	if errors.As(err, &ne) {
		return ne
	}
	return &NodeError{NodeID: nodeID, Class: ClassNode, Err: err}
}
