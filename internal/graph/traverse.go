package graph

import (
	"context"
	"sort"

	"github.com/dshills/semcode/internal/embedder"
	"github.com/dshills/semcode/internal/storage"
	"github.com/dshills/semcode/pkg/types"
)

// DefaultMaxDepth bounds edge-following during retrieval.
const DefaultMaxDepth = 3

// SearchResult is one graph retrieval hit with its traversal distance.
type SearchResult struct {
	Node       types.GraphNode
	Similarity float64
	Depth      int // 0 = direct KNN hit
}

// Search embeds the query, finds the nearest nodes, and optionally
// expands along edges up to maxDepth.
func (b *Builder) Search(ctx context.Context, query string, limit, maxDepth int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 5
	}
	if maxDepth < 0 {
		maxDepth = DefaultMaxDepth
	}
	vecs, err := b.text.Embed(ctx, []string{query}, embedder.InputQuery)
	if err != nil {
		return nil, err
	}
	hits, err := b.store.NodeKNN(ctx, vecs[0], limit)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(hits))
	seen := map[string]bool{}
	for _, h := range hits {
		results = append(results, SearchResult{Node: h.Node, Similarity: h.Similarity})
		seen[h.Node.ID] = true
	}

	if maxDepth > 0 {
		frontier := make([]string, 0, len(results))
		for _, r := range results {
			frontier = append(frontier, r.Node.ID)
		}
		for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
			var next []string
			for _, id := range frontier {
				neighbors, nerr := b.neighborIDs(ctx, id)
				if nerr != nil {
					return nil, nerr
				}
				for _, n := range neighbors {
					if seen[n] {
						continue
					}
					seen[n] = true
					node, gerr := b.store.GetNode(ctx, n)
					if gerr == storage.ErrNotFound {
						continue
					}
					if gerr != nil {
						return nil, gerr
					}
					results = append(results, SearchResult{Node: *node, Depth: depth})
					next = append(next, n)
				}
			}
			frontier = next
		}
	}
	return results, nil
}

// Node returns one node by id.
func (b *Builder) Node(ctx context.Context, id string) (*types.GraphNode, error) {
	return b.store.GetNode(ctx, id)
}

// Relationships returns a node's edges in both directions.
func (b *Builder) Relationships(ctx context.Context, id string) ([]types.GraphEdge, error) {
	return b.store.Edges(ctx, id, "both")
}

// Overview summarizes the graph.
func (b *Builder) Overview(ctx context.Context) (storage.GraphStats, error) {
	return b.store.GraphStats(ctx)
}

// neighborIDs returns ids adjacent to a node in the undirected
// projection.
func (b *Builder) neighborIDs(ctx context.Context, id string) ([]string, error) {
	edges, err := b.store.Edges(ctx, id, "both")
	if err != nil {
		return nil, err
	}
	set := map[string]bool{}
	for _, e := range edges {
		if e.SourceID != id {
			set[e.SourceID] = true
		}
		if e.TargetID != id {
			set[e.TargetID] = true
		}
	}
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}

// FindPath returns the shortest node path between two files by BFS in
// the undirected projection, or nil when none exists within maxDepth.
// Cycles are fine; the visited set terminates the walk.
func (b *Builder) FindPath(ctx context.Context, sourceID, targetID string, maxDepth int) ([]string, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if sourceID == targetID {
		return []string{sourceID}, nil
	}

	parent := map[string]string{sourceID: ""}
	frontier := []string{sourceID}

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, id := range frontier {
			neighbors, err := b.neighborIDs(ctx, id)
			if err != nil {
				return nil, err
			}
			for _, n := range neighbors {
				if _, visited := parent[n]; visited {
					continue
				}
				parent[n] = id
				if n == targetID {
					return reconstructPath(parent, sourceID, targetID), nil
				}
				next = append(next, n)
			}
		}
		frontier = next
	}
	return nil, nil
}

func reconstructPath(parent map[string]string, source, target string) []string {
	var rev []string
	for cur := target; cur != ""; cur = parent[cur] {
		rev = append(rev, cur)
		if cur == source {
			break
		}
	}
	out := make([]string, 0, len(rev))
	for i := len(rev) - 1; i >= 0; i-- {
		out = append(out, rev[i])
	}
	return out
}
