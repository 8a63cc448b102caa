// Package document defines the serialized form of a workflow graph: the
// shape produced by the editor and persisted by the storage layer. Parsing
// here is purely syntactic; structural and semantic validation happens when
// the graph entity is built from the document.
package document

import (
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
)

// Document is the transported form of a workflow graph.
type Document struct {
	Nodes                []Node   `json:"nodes"`
	Edges                []Edge   `json:"edges"`
	EnvironmentVariables []EnvVar `json:"environment_variables,omitempty"`
}

// Node is one entry in the document's node array. Data carries the
// variant-specific configuration and is decoded by the node registry.
type Node struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Title    string          `json:"title,omitempty"`
	ParentID string          `json:"parent_id,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// Edge is a directed edge between two nodes. SourceHandle selects a branch
// on branching nodes ("true"/"false" on a condition, a class id on a
// classifier).
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"source_handle,omitempty"`
}

// EnvVar is a read-only global available to all nodes as env.<name>.
type EnvVar struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Parse decodes a document from its JSON form.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing graph document: %w", err)
	}
	if len(doc.Nodes) == 0 {
		return nil, fmt.Errorf("parsing graph document: no nodes")
	}
	return &doc, nil
}

// ParseReader decodes a document from a stream.
func ParseReader(r io.Reader) (*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading graph document: %w", err)
	}
	return Parse(data)
}

// Load reads and parses a document file.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading graph document %s: %w", path, err)
	}
	return Parse(data)
}

// Marshal encodes a document back to JSON.
func (d *Document) Marshal() ([]byte, error) {
	return json.Marshal(d)
}
