// Package vars implements the run-scoped Variable Pool: a typed key-value
// store addressed by (nodeID, variableName) paths. Values use the cty type
// system so objects, lists and primitives flow between nodes without
// lossy round-trips through interface{}.
//
// Pools form a scope chain. The root scope holds top-level node outputs and
// the document's environment variables; each loop iteration runs against a
// forked child scope so inner outputs are versioned by iteration index and
// shadow same-named entries from outer scopes.
package vars

import (
	"fmt"
	"sort"
	"sync"

	"github.com/zclconf/go-cty/cty"
)

// Ref addresses one entry in the pool.
type Ref struct {
	NodeID string
	Name   string
}

func (r Ref) String() string {
	return r.NodeID + "." + r.Name
}

// NotFoundError reports a read of an entry whose producing node has not
// committed it. Outside iteration re-entry this indicates a graph
// validation gap, not a normal runtime condition.
type NotFoundError struct {
	Ref Ref
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("variable %s not found in pool", e.Ref)
}

// Pool is one scope in the chain. Safe for concurrent use.
type Pool struct {
	mu        sync.RWMutex
	parent    *Pool
	iteration int // -1 for the root scope
	entries   map[Ref]cty.Value
	env       map[string]cty.Value // root scope only
}

// NewPool creates a root scope holding the given environment variables.
func NewPool(env map[string]cty.Value) *Pool {
	if env == nil {
		env = map[string]cty.Value{}
	}
	return &Pool{
		parent:    nil,
		iteration: -1,
		entries:   make(map[Ref]cty.Value),
		env:       env,
	}
}

// Fork creates a child scope for one loop iteration. Writes go to the child;
// reads fall back to enclosing scopes.
func (p *Pool) Fork(iteration int) *Pool {
	return &Pool{
		parent:    p,
		iteration: iteration,
		entries:   make(map[Ref]cty.Value),
	}
}

// Iteration returns the iteration index this scope was forked for, or -1
// for the root scope.
func (p *Pool) Iteration() int {
	return p.iteration
}

// Set commits one output entry into this scope. Entries are write-once per
// scope: a second write for the same (nodeID, name) is an invariant
// violation and returns an error. Loop re-entry must fork a fresh scope
// instead of overwriting.
func (p *Pool) Set(nodeID, name string, v cty.Value) error {
	ref := Ref{NodeID: nodeID, Name: name}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.entries[ref]; exists {
		return fmt.Errorf("variable %s already committed in this scope", ref)
	}
	p.entries[ref] = v
	return nil
}

// SetAll commits a node's full output map in one call.
func (p *Pool) SetAll(nodeID string, outputs map[string]cty.Value) error {
	names := make([]string, 0, len(outputs))
	for name := range outputs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := p.Set(nodeID, name, outputs[name]); err != nil {
			return err
		}
	}
	return nil
}

// Get resolves a reference against the nearest enclosing scope. Reads never
// block beyond the scope's read lock.
func (p *Pool) Get(ref Ref) (cty.Value, error) {
	for scope := p; scope != nil; scope = scope.parent {
		scope.mu.RLock()
		v, ok := scope.entries[ref]
		scope.mu.RUnlock()
		if ok {
			return v, nil
		}
	}
	return cty.NilVal, &NotFoundError{Ref: ref}
}

// Env returns the value of a document environment variable.
func (p *Pool) Env(name string) (cty.Value, bool) {
	root := p
	for root.parent != nil {
		root = root.parent
	}
	v, ok := root.env[name]
	return v, ok
}

// EnvValues returns all environment variables as a single map.
func (p *Pool) EnvValues() map[string]cty.Value {
	root := p
	for root.parent != nil {
		root = root.parent
	}
	out := make(map[string]cty.Value, len(root.env))
	for k, v := range root.env {
		out[k] = v
	}
	return out
}

// NodeValues returns every visible entry grouped by node id, with inner
// scopes shadowing outer ones. This is the raw material for expression
// evaluation contexts.
func (p *Pool) NodeValues() map[string]map[string]cty.Value {
	out := make(map[string]map[string]cty.Value)
	// Walk outermost-first so nearer scopes overwrite.
	var chain []*Pool
	for scope := p; scope != nil; scope = scope.parent {
		chain = append(chain, scope)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		scope := chain[i]
		scope.mu.RLock()
		for ref, v := range scope.entries {
			byName, ok := out[ref.NodeID]
			if !ok {
				byName = make(map[string]cty.Value)
				out[ref.NodeID] = byName
			}
			byName[ref.Name] = v
		}
		scope.mu.RUnlock()
	}
	return out
}

// Snapshot converts every visible entry to plain Go values for trace
// capture. The returned structure shares nothing with the pool.
func (p *Pool) Snapshot() map[string]map[string]any {
	values := p.NodeValues()
	out := make(map[string]map[string]any, len(values))
	for nodeID, byName := range values {
		snap := make(map[string]any, len(byName))
		for name, v := range byName {
			goVal, err := ToGo(v)
			if err != nil {
				snap[name] = fmt.Sprintf("<unrepresentable: %v>", err)
				continue
			}
			snap[name] = goVal
		}
		out[nodeID] = snap
	}
	return out
}
