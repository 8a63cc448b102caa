package graph

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"

	"github.com/specialistvlad/flowgrid/internal/document"
	"github.com/specialistvlad/flowgrid/internal/expr"
	"github.com/specialistvlad/flowgrid/internal/nodes"
	"github.com/specialistvlad/flowgrid/internal/vars"
)

type validator struct {
	reg      *nodes.Registry
	problems []Problem
}

func (v *validator) loadf(nodeID, format string, args ...any) {
	v.problems = append(v.problems, Problem{Class: ClassLoad, NodeID: nodeID, Detail: fmt.Sprintf(format, args...)})
}

func (v *validator) configf(nodeID, format string, args ...any) {
	v.problems = append(v.problems, Problem{Class: ClassConfig, NodeID: nodeID, Detail: fmt.Sprintf(format, args...)})
}

func (v *validator) build(doc *document.Document) *Graph {
	g := &Graph{
		Nodes:    make(map[string]*Node, len(doc.Nodes)),
		Env:      make(map[string]cty.Value, len(doc.EnvironmentVariables)),
		outgoing: make(map[string][]*Edge),
		incoming: make(map[string][]*Edge),
		children: make(map[string][]string),
	}

	v.buildNodes(doc, g)
	v.buildEnv(doc, g)
	v.buildEdges(doc, g)
	if len(v.problems) > 0 {
		// Structural wreckage makes the remaining checks noise.
		return g
	}
	v.checkStart(g)
	v.checkIterationBoundaries(g)
	v.checkIncoming(g)
	v.checkBranchHandles(g)
	v.checkAcyclic(g)
	if len(v.problems) > 0 {
		return g
	}
	v.checkTerminalReachable(g)
	v.checkReferences(g)
	return g
}

func (v *validator) buildNodes(doc *document.Document, g *Graph) {
	for i, dn := range doc.Nodes {
		if dn.ID == "" {
			v.loadf("", "nodes[%d]: id is required", i)
			continue
		}
		if _, dup := g.Nodes[dn.ID]; dup {
			v.loadf(dn.ID, "duplicate node id")
			continue
		}
		if !expr.ValidIdentifier(dn.ID) {
			v.loadf(dn.ID, "node id is not a valid identifier")
			continue
		}
		kind := nodes.Kind(dn.Type)
		def, ok := v.reg.Lookup(kind)
		if !ok {
			v.loadf(dn.ID, "unknown node type %q", dn.Type)
			continue
		}
		cfg, err := v.reg.Decode(kind, dn.Data)
		if err != nil {
			v.configf(dn.ID, "%v", err)
			continue
		}
		if err := cfg.Validate(); err != nil {
			v.configf(dn.ID, "%v", err)
			continue
		}
		g.Nodes[dn.ID] = &Node{
			ID:       dn.ID,
			Kind:     kind,
			Title:    dn.Title,
			ParentID: dn.ParentID,
			Config:   cfg,
			Def:      def,
		}
		g.Order = append(g.Order, dn.ID)
	}

	for _, id := range g.Order {
		n := g.Nodes[id]
		if n.ParentID == "" {
			continue
		}
		parent, ok := g.Nodes[n.ParentID]
		switch {
		case !ok:
			v.loadf(id, "parent %q does not exist", n.ParentID)
		case parent.Kind != nodes.KindIteration:
			v.loadf(id, "parent %q is not an iteration node", n.ParentID)
		case parent.ParentID != "":
			v.loadf(id, "iteration nodes cannot nest")
		default:
			g.children[n.ParentID] = append(g.children[n.ParentID], id)
		}
	}
}

func (v *validator) buildEnv(doc *document.Document, g *Graph) {
	for i, ev := range doc.EnvironmentVariables {
		if ev.Name == "" {
			v.loadf("", "environment_variables[%d]: name is required", i)
			continue
		}
		if !expr.ValidIdentifier(ev.Name) {
			v.loadf("", "environment variable %q is not a valid identifier", ev.Name)
			continue
		}
		if _, dup := g.Env[ev.Name]; dup {
			v.loadf("", "duplicate environment variable %q", ev.Name)
			continue
		}
		val, err := vars.FromGo(ev.Value)
		if err != nil {
			v.loadf("", "environment variable %q: %v", ev.Name, err)
			continue
		}
		g.Env[ev.Name] = val
	}
}

func (v *validator) buildEdges(doc *document.Document, g *Graph) {
	seen := make(map[string]struct{}, len(doc.Edges))
	for i, de := range doc.Edges {
		if de.ID == "" {
			v.loadf("", "edges[%d]: id is required", i)
			continue
		}
		if _, dup := seen[de.ID]; dup {
			v.loadf("", "duplicate edge id %q", de.ID)
			continue
		}
		seen[de.ID] = struct{}{}
		if _, ok := g.Nodes[de.Source]; !ok {
			v.loadf("", "edge %s: source %q does not exist", de.ID, de.Source)
			continue
		}
		if _, ok := g.Nodes[de.Target]; !ok {
			v.loadf("", "edge %s: target %q does not exist", de.ID, de.Target)
			continue
		}
		if de.Source == de.Target {
			v.loadf("", "edge %s: self-referential edge not allowed", de.ID)
			continue
		}
		e := &Edge{ID: de.ID, Source: de.Source, SourceHandle: de.SourceHandle, Target: de.Target}
		g.Edges = append(g.Edges, e)
		g.outgoing[e.Source] = append(g.outgoing[e.Source], e)
		g.incoming[e.Target] = append(g.incoming[e.Target], e)
	}
}

func (v *validator) checkStart(g *Graph) {
	var starts []string
	for _, id := range g.Order {
		n := g.Nodes[id]
		if n.Kind == nodes.KindStart && n.ParentID == "" {
			starts = append(starts, id)
		}
	}
	switch len(starts) {
	case 0:
		v.loadf("", "graph has no start node")
	case 1:
		g.StartID = starts[0]
		if len(g.incoming[g.StartID]) > 0 {
			v.loadf(g.StartID, "start node cannot have incoming edges")
		}
	default:
		v.loadf("", "graph has %d start nodes, exactly one is required", len(starts))
	}

	for _, id := range g.Order {
		n := g.Nodes[id]
		if n.Kind == nodes.KindStart && n.ParentID != "" {
			v.loadf(id, "start nodes cannot live inside an iteration")
		}
		if n.Def.Terminal && len(g.outgoing[id]) > 0 {
			v.loadf(id, "terminal node cannot have outgoing edges")
		}
	}
}

// checkIterationBoundaries rejects edges crossing into or out of an
// iteration sub-graph. The iteration node itself is the only connection
// point between the two levels.
func (v *validator) checkIterationBoundaries(g *Graph) {
	for _, e := range g.Edges {
		src := g.Nodes[e.Source]
		dst := g.Nodes[e.Target]
		if src.ParentID != dst.ParentID {
			v.loadf("", "edge %s crosses an iteration boundary (%s -> %s)", e.ID, e.Source, e.Target)
		}
	}
}

// checkIncoming enforces that every top-level non-start node is connected.
// Inside an iteration, nodes without incoming sibling edges are the
// sub-graph's entry points and are allowed.
func (v *validator) checkIncoming(g *Graph) {
	for _, id := range g.Order {
		n := g.Nodes[id]
		if n.ParentID != "" || n.Kind == nodes.KindStart {
			continue
		}
		if len(g.incoming[id]) == 0 {
			v.loadf(id, "node is unreachable: no incoming edges")
		}
	}
}

// checkBranchHandles verifies handle usage: branching sources must label
// every outgoing edge with a declared handle, and non-branching sources
// must not use handles at all.
func (v *validator) checkBranchHandles(g *Graph) {
	for _, id := range g.Order {
		n := g.Nodes[id]
		edges := g.outgoing[id]
		if !n.Def.Branching {
			for _, e := range edges {
				if e.SourceHandle != "" {
					v.loadf(id, "edge %s: source handle %q on a non-branching node", e.ID, e.SourceHandle)
				}
			}
			continue
		}
		allowed := branchHandles(n)
		for _, e := range edges {
			if e.SourceHandle == "" {
				v.loadf(id, "edge %s: branching node requires a source handle", e.ID)
				continue
			}
			if _, ok := allowed[e.SourceHandle]; !ok {
				v.loadf(id, "edge %s: unknown source handle %q", e.ID, e.SourceHandle)
			}
		}
	}
}

func branchHandles(n *Node) map[string]struct{} {
	out := make(map[string]struct{})
	switch cfg := n.Config.(type) {
	case *nodes.ConditionConfig:
		out[nodes.BranchTrue] = struct{}{}
		out[nodes.BranchFalse] = struct{}{}
	case *nodes.ClassifierConfig:
		for _, h := range cfg.Handles() {
			out[h] = struct{}{}
		}
	}
	return out
}

// checkAcyclic runs a depth-first search per level: top-level edges and
// each iteration's internal edges form independent DAGs. Classic
// three-color DFS, following successors.
func (v *validator) checkAcyclic(g *Graph) {
	levels := map[string][]string{"": g.Level("")}
	for _, id := range g.Order {
		if g.Nodes[id].Kind == nodes.KindIteration {
			levels[id] = g.Children(id)
		}
	}

	for _, members := range levels {
		permanent := make(map[string]bool)
		temporary := make(map[string]bool)

		var visit func(id string) bool
		visit = func(id string) bool {
			if permanent[id] {
				return true
			}
			if temporary[id] {
				v.loadf(id, "cycle detected involving this node")
				return false
			}
			temporary[id] = true
			for _, e := range g.outgoing[id] {
				if !visit(e.Target) {
					return false
				}
			}
			delete(temporary, id)
			permanent[id] = true
			return true
		}

		for _, id := range members {
			if !permanent[id] {
				if !visit(id) {
					break
				}
			}
		}
	}
}

// checkTerminalReachable requires at least one End or Answer node reachable
// from Start.
func (v *validator) checkTerminalReachable(g *Graph) {
	if g.StartID == "" {
		return
	}
	seen := map[string]bool{g.StartID: true}
	queue := []string{g.StartID}
	foundTerminal := g.Nodes[g.StartID].Def.Terminal
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, e := range g.outgoing[id] {
			if seen[e.Target] {
				continue
			}
			seen[e.Target] = true
			if g.Nodes[e.Target].Def.Terminal {
				foundTerminal = true
			}
			queue = append(queue, e.Target)
		}
	}
	if !foundTerminal {
		v.loadf("", "no end or answer node is reachable from start")
	}
}

// checkReferences verifies that every static variable selector points to a
// node the consumer can actually observe: an ancestor on its own level, the
// enclosing iteration node, or an ancestor of that iteration. This is what
// makes "producer has not run yet" impossible at runtime.
func (v *validator) checkReferences(g *Graph) {
	for _, id := range g.Order {
		n := g.Nodes[id]
		refs, ok := n.Config.(nodes.Sourced)
		if !ok {
			continue
		}
		allowed := v.visibleSources(g, id)
		for _, sel := range refs.SourceRefs() {
			if len(sel) != 2 {
				continue // shape already rejected by config validation
			}
			src := sel[0]
			if src == id {
				v.loadf(id, "selector references the node's own output")
				continue
			}
			if _, ok := g.Nodes[src]; !ok {
				v.loadf(id, "selector references unknown node %q", src)
				continue
			}
			if !allowed[src] {
				v.loadf(id, "selector references %q, which is not upstream", src)
			}
		}
	}
}

// visibleSources returns every node id whose committed outputs the given
// node may read: transitive predecessors on its level, plus the enclosing
// iteration chain and its predecessors.
func (v *validator) visibleSources(g *Graph, id string) map[string]bool {
	out := make(map[string]bool)
	var collect func(id string)
	collect = func(id string) {
		for _, e := range g.incoming[id] {
			if !out[e.Source] {
				out[e.Source] = true
				collect(e.Source)
			}
		}
	}
	collect(id)
	if parent := g.Nodes[id].ParentID; parent != "" {
		out[parent] = true
		for src := range v.visibleSources(g, parent) {
			out[src] = true
		}
	}
	return out
}
