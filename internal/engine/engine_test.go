package engine

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/specialistvlad/flowgrid/internal/capability"
	"github.com/specialistvlad/flowgrid/internal/document"
	"github.com/specialistvlad/flowgrid/internal/graph"
	"github.com/specialistvlad/flowgrid/internal/nodes"
	"github.com/specialistvlad/flowgrid/internal/testutil"
	"github.com/specialistvlad/flowgrid/internal/trace"
	"github.com/specialistvlad/flowgrid/internal/vars"
)

func buildGraph(t *testing.T, src string) *graph.Graph {
	t.Helper()
	doc, err := document.Parse([]byte(src))
	require.NoError(t, err)
	g, err := graph.Build(doc, nodes.DefaultRegistry())
	require.NoError(t, err)
	return g
}

func execute(t *testing.T, g *graph.Graph, inputs map[string]any, caps capability.Set) (*RunResult, error) {
	t.Helper()
	eng := New(Options{})
	run := eng.NewRun(g, inputs, caps)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return run.Execute(ctx)
}

func eventsOf(result *RunResult, nodeID string, kind trace.Kind) []trace.Event {
	var out []trace.Event
	for _, ev := range result.Trace {
		if ev.NodeID == nodeID && ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func outputString(t *testing.T, result *RunResult, name string) string {
	t.Helper()
	v, ok := result.Outputs[name]
	require.True(t, ok, "missing run output %q", name)
	require.Equal(t, cty.String, v.Type())
	return v.AsString()
}

const linearDoc = `{
	"nodes": [
		{"id": "begin", "type": "start", "data": {"fields": [{"name": "topic", "type": "string", "required": true}]}},
		{"id": "summarize", "type": "llm", "data": {
			"model": "test-model",
			"stream": true,
			"prompt": [{"role": "user", "template": "Summarize: ${begin.topic}"}]
		}},
		{"id": "finish", "type": "end", "data": {"outputs": [{"name": "text", "selector": ["summarize", "text"]}]}}
	],
	"edges": [
		{"id": "e1", "source": "begin", "target": "summarize"},
		{"id": "e2", "source": "summarize", "target": "finish"}
	]
}`

func TestRun_LinearHappyPath(t *testing.T) {
	t.Parallel()
	g := buildGraph(t, linearDoc)
	model := &testutil.EchoModel{
		Replies: []string{"a short summary"},
		Usage:   capability.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}

	result, err := execute(t, g, map[string]any{"topic": "goroutines"}, capability.Set{Model: model})
	require.NoError(t, err)

	require.Equal(t, RunSucceeded, result.Status)
	require.Equal(t, "a short summary", outputString(t, result, "text"))
	require.Equal(t, 15, result.Usage.TotalTokens)
	for _, id := range []string{"begin", "summarize", "finish"} {
		require.Equal(t, StatusSucceeded, result.Statuses[id], "node %s", id)
	}

	// The trace is totally ordered: run_started first, run_completed last,
	// and sequence numbers strictly increase.
	require.Equal(t, trace.RunStarted, result.Trace[0].Kind)
	completed := result.Trace[len(result.Trace)-1]
	require.Equal(t, trace.RunCompleted, completed.Kind)

	// The final event carries a full pool snapshot.
	variables, ok := completed.Payload["variables"].(map[string]map[string]any)
	require.True(t, ok, "run_completed must carry the pool snapshot")
	require.Equal(t, "goroutines", variables["begin"]["topic"])
	require.Equal(t, "a short summary", variables["summarize"]["text"])
	for i := 1; i < len(result.Trace); i++ {
		require.Greater(t, result.Trace[i].Sequence, result.Trace[i-1].Sequence)
	}

	// Streaming surfaced chunks between started and succeeded.
	chunks := eventsOf(result, "summarize", trace.NodeChunk)
	require.NotEmpty(t, chunks)
	started := eventsOf(result, "summarize", trace.NodeStarted)[0]
	succeeded := eventsOf(result, "summarize", trace.NodeSucceeded)[0]
	for _, ch := range chunks {
		require.Greater(t, ch.Sequence, started.Sequence)
		require.Less(t, ch.Sequence, succeeded.Sequence)
	}
}

func TestRun_MissingRequiredInputFailsRun(t *testing.T) {
	t.Parallel()
	g := buildGraph(t, linearDoc)

	result, err := execute(t, g, nil, capability.Set{Model: &testutil.EchoModel{}})
	require.Error(t, err)
	require.Equal(t, RunFailed, result.Status)
	require.Equal(t, StatusFailed, result.Statuses["begin"])
	require.Equal(t, StatusSkipped, result.Statuses["summarize"])
	require.Equal(t, StatusSkipped, result.Statuses["finish"])
}

const branchDoc = `{
	"nodes": [
		{"id": "begin", "type": "start", "data": {"fields": [{"name": "ok", "type": "boolean"}]}},
		{"id": "gate", "type": "condition", "data": {"expression": "begin.ok"}},
		{"id": "yes", "type": "template_transform", "data": {"template": "took yes"}},
		{"id": "no", "type": "template_transform", "data": {"template": "took no"}},
		{"id": "after_yes", "type": "template_transform", "data": {"template": "after ${yes.output}"}},
		{"id": "finish", "type": "answer", "data": {"template": "done"}}
	],
	"edges": [
		{"id": "e1", "source": "begin", "target": "gate"},
		{"id": "e2", "source": "gate", "target": "yes", "source_handle": "true"},
		{"id": "e3", "source": "gate", "target": "no", "source_handle": "false"},
		{"id": "e4", "source": "yes", "target": "after_yes"},
		{"id": "e5", "source": "after_yes", "target": "finish"},
		{"id": "e6", "source": "no", "target": "finish"}
	]
}`

func TestRun_BranchNotTakenSkipsTransitively(t *testing.T) {
	t.Parallel()
	g := buildGraph(t, branchDoc)

	result, err := execute(t, g, map[string]any{"ok": false}, capability.Set{})
	require.NoError(t, err)

	require.Equal(t, RunSucceeded, result.Status)
	require.Equal(t, StatusSucceeded, result.Statuses["gate"])
	require.Equal(t, StatusSucceeded, result.Statuses["no"])
	require.Equal(t, StatusSkipped, result.Statuses["yes"])
	require.Equal(t, StatusSkipped, result.Statuses["after_yes"])
	// The join still ran: one of its incoming edges was taken.
	require.Equal(t, StatusSucceeded, result.Statuses["finish"])

	skip := eventsOf(result, "yes", trace.NodeSkipped)
	require.Len(t, skip, 1)
	require.Equal(t, "branch_not_taken", skip[0].Payload["cause"])
	require.Empty(t, eventsOf(result, "yes", trace.NodeStarted), "skipped node must not start")
}

const joinDoc = `{
	"nodes": [
		{"id": "begin", "type": "start", "data": {}},
		{"id": "left", "type": "template_transform", "data": {"template": "L"}},
		{"id": "right", "type": "template_transform", "data": {"template": "R"}},
		{"id": "finish", "type": "end", "data": {"outputs": [
			{"name": "l", "selector": ["left", "output"]},
			{"name": "r", "selector": ["right", "output"]}
		]}}
	],
	"edges": [
		{"id": "e1", "source": "begin", "target": "left"},
		{"id": "e2", "source": "begin", "target": "right"},
		{"id": "e3", "source": "left", "target": "finish"},
		{"id": "e4", "source": "right", "target": "finish"}
	]
}`

func TestRun_JoinWaitsForAllIncomingEdges(t *testing.T) {
	t.Parallel()
	g := buildGraph(t, joinDoc)

	result, err := execute(t, g, nil, capability.Set{})
	require.NoError(t, err)

	require.Equal(t, "L", outputString(t, result, "l"))
	require.Equal(t, "R", outputString(t, result, "r"))
	// The join dispatched exactly once, after both producers committed.
	require.Len(t, eventsOf(result, "finish", trace.NodeStarted), 1)
	finishStart := eventsOf(result, "finish", trace.NodeStarted)[0].Sequence
	for _, id := range []string{"left", "right"} {
		require.Less(t, eventsOf(result, id, trace.NodeSucceeded)[0].Sequence, finishStart)
	}
}

func TestRun_FailureLetsInflightFinishAndSkipsNewlyReady(t *testing.T) {
	t.Parallel()
	g := buildGraph(t, `{
		"nodes": [
			{"id": "begin", "type": "start", "data": {}},
			{"id": "slow", "type": "tool_call", "data": {"tool": "slow"}},
			{"id": "boom", "type": "code", "data": {"language": "python3", "source": "raise", "outputs": [{"name": "x"}]}},
			{"id": "finish", "type": "end", "data": {"outputs": [{"name": "s", "selector": ["slow", "out"]}]}}
		],
		"edges": [
			{"id": "e1", "source": "begin", "target": "slow"},
			{"id": "e2", "source": "begin", "target": "boom"},
			{"id": "e3", "source": "slow", "target": "finish"},
			{"id": "e4", "source": "boom", "target": "finish"}
		]
	}`)

	slowStarted := make(chan struct{})
	var once sync.Once
	tools := &testutil.FakeTools{Handlers: map[string]func(context.Context, map[string]any) (map[string]any, error){
		"slow": func(ctx context.Context, _ map[string]any) (map[string]any, error) {
			once.Do(func() { close(slowStarted) })
			time.Sleep(20 * time.Millisecond)
			return map[string]any{"out": "finished"}, nil
		},
	}}
	sandbox := &testutil.FakeSandbox{Handler: func(ctx context.Context, _ capability.CodeRequest) (*capability.CodeResponse, error) {
		<-slowStarted
		return nil, errors.New("kaboom")
	}}

	result, err := execute(t, g, nil, capability.Set{Tools: tools, Sandbox: sandbox})
	require.Error(t, err)

	var ne *NodeError
	require.ErrorAs(t, err, &ne)
	require.Equal(t, "boom", ne.NodeID)
	require.Equal(t, ClassNode, ne.Class)

	require.Equal(t, RunFailed, result.Status)
	require.Equal(t, StatusFailed, result.Statuses["boom"])
	// The in-flight sibling finished and committed its outputs.
	require.Equal(t, StatusSucceeded, result.Statuses["slow"])
	// The join became ready only after the failure, so it was skipped.
	require.Equal(t, StatusSkipped, result.Statuses["finish"])
	skip := eventsOf(result, "finish", trace.NodeSkipped)
	require.Len(t, skip, 1)
	require.Equal(t, "upstream_failed", skip[0].Payload["cause"])
}

func TestRun_HTTPRetrySucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		io.WriteString(w, "finally")
	}))
	defer srv.Close()

	g := buildGraph(t, `{
		"nodes": [
			{"id": "begin", "type": "start", "data": {}},
			{"id": "fetch", "type": "http_request", "data": {
				"method": "GET", "url": "`+srv.URL+`",
				"retry": {"max_retries": 2, "interval_ms": 1}
			}},
			{"id": "finish", "type": "end", "data": {"outputs": [{"name": "body", "selector": ["fetch", "body"]}]}}
		],
		"edges": [
			{"id": "e1", "source": "begin", "target": "fetch"},
			{"id": "e2", "source": "fetch", "target": "finish"}
		]
	}`)

	result, err := execute(t, g, nil, capability.Set{})
	require.NoError(t, err)

	require.Equal(t, RunSucceeded, result.Status)
	require.Equal(t, "finally", outputString(t, result, "body"))
	require.Equal(t, int32(3), calls.Load())
	require.Len(t, eventsOf(result, "fetch", trace.NodeRetried), 2)
	succeeded := eventsOf(result, "fetch", trace.NodeSucceeded)[0]
	require.Equal(t, 3, succeeded.Payload["attempts"])
}

func TestRun_HTTPDefaultValueSubstitutionAfterExhaustion(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g := buildGraph(t, `{
		"nodes": [
			{"id": "begin", "type": "start", "data": {}},
			{"id": "fetch", "type": "http_request", "data": {
				"method": "GET", "url": "`+srv.URL+`",
				"retry": {
					"max_retries": 1, "interval_ms": 1,
					"error_strategy": "default_value",
					"default_outputs": {"body": "fallback"}
				}
			}},
			{"id": "finish", "type": "end", "data": {"outputs": [{"name": "body", "selector": ["fetch", "body"]}]}}
		],
		"edges": [
			{"id": "e1", "source": "begin", "target": "fetch"},
			{"id": "e2", "source": "fetch", "target": "finish"}
		]
	}`)

	result, err := execute(t, g, nil, capability.Set{})
	require.NoError(t, err)

	require.Equal(t, RunSucceeded, result.Status)
	require.Equal(t, "fallback", outputString(t, result, "body"))
	require.Equal(t, StatusSucceeded, result.Statuses["fetch"])
	succeeded := eventsOf(result, "fetch", trace.NodeSucceeded)[0]
	require.Equal(t, true, succeeded.Payload["substituted_default"])
}

const iterationDoc = `{
	"nodes": [
		{"id": "begin", "type": "start", "data": {"fields": [{"name": "items", "type": "array"}]}},
		{"id": "loop", "type": "iteration", "data": {
			"input": {"selector": ["begin", "items"]},
			"output_selector": ["render", "output"]
		}},
		{"id": "render", "type": "template_transform", "parent_id": "loop", "data": {"template": "v${loop.item}"}},
		{"id": "finish", "type": "end", "data": {"outputs": [{"name": "all", "selector": ["loop", "output"]}]}}
	],
	"edges": [
		{"id": "e1", "source": "begin", "target": "loop"},
		{"id": "e2", "source": "loop", "target": "finish"}
	]
}`

func TestRun_IterationCollectsPerIndexOutputs(t *testing.T) {
	t.Parallel()
	g := buildGraph(t, iterationDoc)

	result, err := execute(t, g, map[string]any{"items": []any{float64(1), float64(2), float64(3)}}, capability.Set{})
	require.NoError(t, err)

	all, convErr := vars.ToGo(result.Outputs["all"])
	require.NoError(t, convErr)
	require.Equal(t, []any{"v1", "v2", "v3"}, all)

	// Inner events carry their iteration index.
	starts := eventsOf(result, "render", trace.NodeStarted)
	require.Len(t, starts, 3)
	for i, ev := range starts {
		require.NotNil(t, ev.Iteration)
		require.Equal(t, i, *ev.Iteration)
	}
}

func TestRun_IterationBreakCondition(t *testing.T) {
	t.Parallel()
	g := buildGraph(t, `{
		"nodes": [
			{"id": "begin", "type": "start", "data": {"fields": [{"name": "items", "type": "array"}]}},
			{"id": "loop", "type": "iteration", "data": {
				"input": {"selector": ["begin", "items"]},
				"output_selector": ["render", "output"],
				"break_condition": "loop.index >= 1"
			}},
			{"id": "render", "type": "template_transform", "parent_id": "loop", "data": {"template": "v${loop.item}"}},
			{"id": "finish", "type": "end", "data": {"outputs": [{"name": "all", "selector": ["loop", "output"]}]}}
		],
		"edges": [
			{"id": "e1", "source": "begin", "target": "loop"},
			{"id": "e2", "source": "loop", "target": "finish"}
		]
	}`)

	result, err := execute(t, g, map[string]any{"items": []any{float64(1), float64(2), float64(3)}}, capability.Set{})
	require.NoError(t, err)

	all, convErr := vars.ToGo(result.Outputs["all"])
	require.NoError(t, convErr)
	require.Equal(t, []any{"v1", "v2"}, all, "loop must stop after the break condition holds")
}

func TestRun_IterationBoundExceededFailsRun(t *testing.T) {
	t.Parallel()
	g := buildGraph(t, `{
		"nodes": [
			{"id": "begin", "type": "start", "data": {"fields": [{"name": "items", "type": "array"}]}},
			{"id": "loop", "type": "iteration", "data": {
				"input": {"selector": ["begin", "items"]},
				"max_iterations": 2
			}},
			{"id": "render", "type": "template_transform", "parent_id": "loop", "data": {"template": "v${loop.item}"}},
			{"id": "finish", "type": "end", "data": {"outputs": []}}
		],
		"edges": [
			{"id": "e1", "source": "begin", "target": "loop"},
			{"id": "e2", "source": "loop", "target": "finish"}
		]
	}`)

	result, err := execute(t, g, map[string]any{"items": []any{float64(1), float64(2), float64(3)}}, capability.Set{})
	require.Error(t, err)

	var ne *NodeError
	require.ErrorAs(t, err, &ne)
	require.Equal(t, ClassIterationBound, ne.Class)
	require.Equal(t, RunFailed, result.Status)
	failed := eventsOf(result, "loop", trace.NodeFailed)
	require.Len(t, failed, 1)
	require.Equal(t, string(ClassIterationBound), failed[0].Payload["error_class"])
}

func TestRun_StopDiscardsInflightAndSkipsDownstream(t *testing.T) {
	t.Parallel()
	g := buildGraph(t, `{
		"nodes": [
			{"id": "begin", "type": "start", "data": {}},
			{"id": "waiter", "type": "code", "data": {"language": "python3", "source": "wait()", "outputs": [{"name": "x"}]}},
			{"id": "finish", "type": "end", "data": {"outputs": []}}
		],
		"edges": [
			{"id": "e1", "source": "begin", "target": "waiter"},
			{"id": "e2", "source": "waiter", "target": "finish"}
		]
	}`)

	started := make(chan struct{})
	var once sync.Once
	sandbox := &testutil.FakeSandbox{Handler: func(ctx context.Context, _ capability.CodeRequest) (*capability.CodeResponse, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	eng := New(Options{})
	run := eng.NewRun(g, nil, capability.Set{Sandbox: sandbox})

	done := make(chan struct{})
	var result *RunResult
	var runErr error
	go func() {
		defer close(done)
		result, runErr = run.Execute(context.Background())
	}()

	<-started
	run.Stop()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop in time")
	}

	require.ErrorIs(t, runErr, ErrStopped)
	require.Equal(t, RunStopped, result.Status)
	require.Equal(t, RunStopped, run.Status())

	// The interrupted node is recorded as cancelled, not as a plain failure,
	// and its outputs never reached the pool.
	failed := eventsOf(result, "waiter", trace.NodeFailed)
	require.Len(t, failed, 1)
	require.Equal(t, string(ClassCancelled), failed[0].Payload["error_class"])
	require.Empty(t, result.Outputs)

	skip := eventsOf(result, "finish", trace.NodeSkipped)
	require.Len(t, skip, 1)
	require.Equal(t, "run_stopped", skip[0].Payload["cause"])

	// Stop is idempotent.
	run.Stop()
}

func TestRun_StopMidIterationRetainsCompletedPasses(t *testing.T) {
	t.Parallel()
	g := buildGraph(t, `{
		"nodes": [
			{"id": "begin", "type": "start", "data": {"fields": [{"name": "items", "type": "array"}]}},
			{"id": "loop", "type": "iteration", "data": {
				"input": {"selector": ["begin", "items"]},
				"output_selector": ["work", "out"]
			}},
			{"id": "work", "type": "code", "parent_id": "loop", "data": {"language": "python3", "source": "f()", "outputs": [{"name": "out"}]}},
			{"id": "finish", "type": "end", "data": {"outputs": [{"name": "all", "selector": ["loop", "output"]}]}}
		],
		"edges": [
			{"id": "e1", "source": "begin", "target": "loop"},
			{"id": "e2", "source": "loop", "target": "finish"}
		]
	}`)

	// The first pass completes normally; the second blocks until cancelled.
	secondPass := make(chan struct{})
	var calls atomic.Int32
	sandbox := &testutil.FakeSandbox{Handler: func(ctx context.Context, _ capability.CodeRequest) (*capability.CodeResponse, error) {
		if calls.Add(1) == 1 {
			return &capability.CodeResponse{Outputs: map[string]any{"out": "done"}}, nil
		}
		close(secondPass)
		<-ctx.Done()
		return nil, ctx.Err()
	}}

	eng := New(Options{})
	run := eng.NewRun(g, map[string]any{"items": []any{float64(1), float64(2), float64(3)}}, capability.Set{Sandbox: sandbox})

	done := make(chan struct{})
	var result *RunResult
	var runErr error
	go func() {
		defer close(done)
		result, runErr = run.Execute(context.Background())
	}()

	<-secondPass
	run.Stop()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop in time")
	}

	require.ErrorIs(t, runErr, ErrStopped)
	require.Equal(t, RunStopped, result.Status)

	// The completed pass stays in the trace with its index.
	succeeded := eventsOf(result, "work", trace.NodeSucceeded)
	require.Len(t, succeeded, 1)
	require.Equal(t, 0, *succeeded[0].Iteration)

	// Later passes were never dispatched.
	for _, ev := range eventsOf(result, "work", trace.NodeStarted) {
		require.Less(t, *ev.Iteration, 2)
	}

	failed := eventsOf(result, "loop", trace.NodeFailed)
	require.Len(t, failed, 1)
	require.Equal(t, string(ClassCancelled), failed[0].Payload["error_class"])

	skip := eventsOf(result, "finish", trace.NodeSkipped)
	require.Len(t, skip, 1)
	require.Equal(t, "run_stopped", skip[0].Payload["cause"])
}

func TestRun_SingleWorkerDispatchesInDocumentOrder(t *testing.T) {
	t.Parallel()
	g := buildGraph(t, `{
		"nodes": [
			{"id": "begin", "type": "start", "data": {}},
			{"id": "t1", "type": "template_transform", "data": {"template": "1"}},
			{"id": "t2", "type": "template_transform", "data": {"template": "2"}},
			{"id": "t3", "type": "template_transform", "data": {"template": "3"}},
			{"id": "finish", "type": "end", "data": {"outputs": []}}
		],
		"edges": [
			{"id": "e1", "source": "begin", "target": "t1"},
			{"id": "e2", "source": "begin", "target": "t2"},
			{"id": "e3", "source": "begin", "target": "t3"},
			{"id": "e4", "source": "t1", "target": "finish"},
			{"id": "e5", "source": "t2", "target": "finish"},
			{"id": "e6", "source": "t3", "target": "finish"}
		]
	}`)

	eng := New(Options{MaxParallelism: 1})
	run := eng.NewRun(g, nil, capability.Set{})
	result, err := run.Execute(context.Background())
	require.NoError(t, err)

	var order []string
	for _, ev := range result.Trace {
		if ev.Kind == trace.NodeStarted {
			order = append(order, ev.NodeID)
		}
	}
	require.Equal(t, []string{"begin", "t1", "t2", "t3", "finish"}, order)
}

func TestRun_EnvironmentVariablesVisibleInTemplates(t *testing.T) {
	t.Parallel()
	g := buildGraph(t, `{
		"nodes": [
			{"id": "begin", "type": "start", "data": {}},
			{"id": "finish", "type": "answer", "data": {"template": "region is ${env.REGION}"}}
		],
		"edges": [{"id": "e1", "source": "begin", "target": "finish"}],
		"environment_variables": [{"name": "REGION", "value": "eu-west"}]
	}`)

	result, err := execute(t, g, nil, capability.Set{})
	require.NoError(t, err)
	require.Equal(t, "region is eu-west", outputString(t, result, "answer"))
}
