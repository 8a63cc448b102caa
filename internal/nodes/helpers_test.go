package nodes

import (
	"testing"

	"github.com/zclconf/go-cty/cty"

	"github.com/specialistvlad/flowgrid/internal/capability"
	"github.com/specialistvlad/flowgrid/internal/vars"
)

// testRequest assembles a Request against a fresh pool, returning the
// request plus the slice streaming chunks get appended to.
func testRequest(cfg Config, pool *vars.Pool, caps capability.Set) (*Request, *[]string) {
	chunks := &[]string{}
	return &Request{
		NodeID:    "under_test",
		Config:    cfg,
		Pool:      pool,
		Caps:      caps,
		EmitChunk: func(delta string) { *chunks = append(*chunks, delta) },
	}, chunks
}

func poolWithEntries(t *testing.T, nodeID string, entries map[string]cty.Value) *vars.Pool {
	t.Helper()
	pool := vars.NewPool(nil)
	if err := pool.SetAll(nodeID, entries); err != nil {
		t.Fatal(err)
	}
	return pool
}

func selector(nodeID, name string) Mapping {
	return Mapping{Selector: []string{nodeID, name}}
}
