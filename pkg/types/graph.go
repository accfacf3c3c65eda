package types

import "errors"

// EdgeKind classifies a relationship between two file nodes.
type EdgeKind string

const (
	EdgeImports       EdgeKind = "imports"
	EdgeSiblingModule EdgeKind = "sibling_module"
	EdgeParentModule  EdgeKind = "parent_module"
	EdgeChildModule   EdgeKind = "child_module"
)

// GraphNode is one file in the knowledge graph. NodeID is the
// repo-relative path.
type GraphNode struct {
	ID          string
	Description string // AI-generated prose; empty when LLM disabled
	Symbols     []string
	Imports     []string
	Exports     []string
	Language    string
	Embedding   []float32
}

// GraphEdge links two nodes. Structural edges carry weight and
// confidence 1.0; LLM-derived edges carry the model's confidence.
type GraphEdge struct {
	SourceID   string
	TargetID   string
	Kind       EdgeKind
	Weight     float64
	Confidence float64
}

// Validate rejects self-loops and out-of-range weights.
func (e *GraphEdge) Validate() error {
	if e.SourceID == e.TargetID {
		return errors.New("graph edge cannot be a self-loop")
	}
	if e.SourceID == "" || e.TargetID == "" {
		return errors.New("graph edge endpoints are required")
	}
	if e.Weight < 0 || e.Weight > 1 {
		return errors.New("graph edge weight must be in [0,1]")
	}
	return nil
}
