// Package trace defines the run lifecycle event stream. Every observable
// moment of a run (node started, retried, streamed a chunk, finished, the
// run itself completing) is an Event stamped with a monotonic sequence
// number at emission time, so the full trace is totally ordered and a
// replay never depends on which branch happened to log first.
package trace

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Kind enumerates the event types a run can emit.
type Kind string

const (
	RunStarted    Kind = "run_started"
	RunCompleted  Kind = "run_completed"
	NodeStarted   Kind = "node_started"
	NodeChunk     Kind = "node_chunk"
	NodeRetried   Kind = "node_retried"
	NodeSucceeded Kind = "node_succeeded"
	NodeFailed    Kind = "node_failed"
	NodeSkipped   Kind = "node_skipped"
)

// Event is a single entry in a run's trace.
type Event struct {
	Sequence  uint64         `json:"sequence"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"run_id"`
	NodeID    string         `json:"node_id,omitempty"`
	Iteration *int           `json:"iteration,omitempty"`
	Kind      Kind           `json:"kind"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Sink consumes events as they are emitted. Implementations must be safe
// for concurrent use; the engine calls Emit from many node goroutines.
type Sink interface {
	Emit(Event)
}

// NopSink discards all events.
type NopSink struct{}

// Emit implements Sink.
func (NopSink) Emit(Event) {}

// Recorder assigns sequence numbers, retains the full ordered trace in
// memory, and forwards each event to an optional downstream sink for live
// consumption.
type Recorder struct {
	runID   string
	forward Sink

	seq    atomic.Uint64
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates a Recorder for one run. forward may be nil.
func NewRecorder(runID string, forward Sink) *Recorder {
	return &Recorder{runID: runID, forward: forward}
}

// Record stamps the event with the run id, the next sequence number and the
// emission time, stores it, and forwards it.
func (r *Recorder) Record(nodeID string, iteration *int, kind Kind, payload map[string]any) Event {
	ev := Event{
		Sequence:  r.seq.Add(1),
		Timestamp: time.Now().UTC(),
		RunID:     r.runID,
		NodeID:    nodeID,
		Iteration: iteration,
		Kind:      kind,
		Payload:   payload,
	}

	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()

	if r.forward != nil {
		r.forward.Emit(ev)
	}
	return ev
}

// Events returns a copy of the full trace recorded so far, in sequence order.
// Concurrent emitters may append slightly out of order; the copy is sorted
// so consumers always see the sequence-numbered total order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}
