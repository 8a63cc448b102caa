// Package graph builds the immutable Graph entity from a parsed document
// and enforces every structural invariant before a single node executes:
// exactly one Start, a reachable terminal node, no dangling edges, no
// cycles outside iteration boundaries, and per-node config validity.
// Anything that passes Build is safe for the scheduler to run without
// re-checking structure at runtime.
package graph

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"

	"github.com/specialistvlad/flowgrid/internal/document"
	"github.com/specialistvlad/flowgrid/internal/nodes"
)

// Node is one validated node of the graph.
type Node struct {
	ID       string
	Kind     nodes.Kind
	Title    string
	ParentID string
	Config   nodes.Config
	Def      *nodes.Definition
}

// Edge is one validated directed edge.
type Edge struct {
	ID           string
	Source       string
	SourceHandle string
	Target       string
}

// Graph is the immutable workflow definition. All maps and slices are
// fixed after Build returns; the scheduler only reads.
type Graph struct {
	Nodes   map[string]*Node
	Order   []string // node ids in document order
	Edges   []*Edge
	Env     map[string]cty.Value
	StartID string

	outgoing map[string][]*Edge
	incoming map[string][]*Edge
	children map[string][]string
}

// Outgoing returns a node's outgoing edges in document order.
func (g *Graph) Outgoing(nodeID string) []*Edge { return g.outgoing[nodeID] }

// Incoming returns a node's incoming edges in document order.
func (g *Graph) Incoming(nodeID string) []*Edge { return g.incoming[nodeID] }

// Children returns the ids of an iteration node's sub-graph members in
// document order.
func (g *Graph) Children(iterationID string) []string { return g.children[iterationID] }

// Level returns the node ids sharing a parent ("" for top level) in
// document order.
func (g *Graph) Level(parentID string) []string {
	var out []string
	for _, id := range g.Order {
		if g.Nodes[id].ParentID == parentID {
			out = append(out, id)
		}
	}
	return out
}

// ErrorClass buckets load failures per the error taxonomy.
type ErrorClass string

const (
	// ClassLoad marks structural graph problems.
	ClassLoad ErrorClass = "load"
	// ClassConfig marks invalid static node configuration.
	ClassConfig ErrorClass = "config"
)

// Problem is one load-time finding, attributed to a node where possible.
type Problem struct {
	Class  ErrorClass
	NodeID string
	Detail string
}

func (p Problem) String() string {
	if p.NodeID == "" {
		return fmt.Sprintf("[%s] %s", p.Class, p.Detail)
	}
	return fmt.Sprintf("[%s] node %s: %s", p.Class, p.NodeID, p.Detail)
}

// LoadError aggregates every problem found during Build, so a caller sees
// the whole picture in one pass rather than fixing findings one at a time.
type LoadError struct {
	Problems []Problem
}

func (e *LoadError) Error() string {
	msg := fmt.Sprintf("graph validation failed with %d problem(s):", len(e.Problems))
	for _, p := range e.Problems {
		msg += "\n- " + p.String()
	}
	return msg
}

// Build constructs and fully validates a Graph from its document form.
// Build is deterministic: the same document always yields the same graph
// or the same set of problems.
func Build(doc *document.Document, reg *nodes.Registry) (*Graph, error) {
	v := &validator{reg: reg}
	g := v.build(doc)
	if len(v.problems) > 0 {
		return nil, &LoadError{Problems: v.problems}
	}
	return g, nil
}
