package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/specialistvlad/flowgrid/internal/capability"
	"github.com/specialistvlad/flowgrid/internal/testutil"
)

func TestRunner_StartKeepsFinishedRunQueryable(t *testing.T) {
	t.Parallel()
	g := buildGraph(t, joinDoc)
	rn := NewRunner(New(Options{}))

	result, err := rn.Start(context.Background(), g, nil, capability.Set{})
	require.NoError(t, err)
	require.Equal(t, RunSucceeded, result.Status)

	require.Equal(t, []string{result.RunID}, rn.IDs())
	status, err := rn.Status(result.RunID)
	require.NoError(t, err)
	require.Equal(t, RunSucceeded, status)
	kept, err := rn.Result(result.RunID)
	require.NoError(t, err)
	require.Equal(t, result, kept)
}

func TestRunner_UnknownID(t *testing.T) {
	t.Parallel()
	rn := NewRunner(New(Options{}))

	_, err := rn.Status("nope")
	require.EqualError(t, err, `unknown run "nope"`)
	_, err = rn.Result("nope")
	require.EqualError(t, err, `unknown run "nope"`)
	require.EqualError(t, rn.Stop("nope"), `unknown run "nope"`)
}

func TestRunner_LaunchAndStop(t *testing.T) {
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

	rn := NewRunner(New(Options{}))
	run := rn.Launch(context.Background(), g, nil, capability.Set{Sandbox: sandbox})

	<-started
	require.Nil(t, run.Result(), "result must be nil while the run is in flight")
	require.NoError(t, rn.Stop(run.ID))

	deadline := time.After(5 * time.Second)
	for run.Result() == nil {
		select {
		case <-deadline:
			t.Fatal("run did not finish after stop")
		case <-time.After(5 * time.Millisecond):
		}
	}

	status, err := rn.Status(run.ID)
	require.NoError(t, err)
	require.Equal(t, RunStopped, status)
	require.ErrorIs(t, run.Result().Err, ErrStopped)
}
