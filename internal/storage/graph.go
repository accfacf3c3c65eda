package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/dshills/semcode/pkg/types"
)

const graphNodesTable = "graph_nodes"

// UpsertNode stores or refreshes a graph node and runs the optimizer
// over the node table.
func (s *Store) UpsertNode(ctx context.Context, n *types.GraphNode) error {
	symbols, err := json.Marshal(emptyIfNil(n.Symbols))
	if err != nil {
		return err
	}
	imports, err := json.Marshal(emptyIfNil(n.Imports))
	if err != nil {
		return err
	}
	exports, err := json.Marshal(emptyIfNil(n.Exports))
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx, _ := s.opt.searchPlan(ctx, graphNodesTable)
	partition := -1
	if idx != nil && len(n.Embedding) == idx.dim {
		partition = nearestCentroid(n.Embedding, idx.centroids)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO graph_nodes (id, description, symbols, imports, exports, language, embedding, partition)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			description = excluded.description,
			symbols = excluded.symbols,
			imports = excluded.imports,
			exports = excluded.exports,
			language = excluded.language,
			embedding = excluded.embedding,
			partition = excluded.partition
	`, n.ID, n.Description, string(symbols), string(imports), string(exports),
		n.Language, serializeVector(n.Embedding), partition)
	if err != nil {
		return fmt.Errorf("failed to upsert graph node: %w", err)
	}

	if len(n.Embedding) > 0 {
		s.opt.maybeRebuildLocked(ctx, graphNodesTable, len(n.Embedding))
	}
	return nil
}

// GetNode returns one node or ErrNotFound.
func (s *Store) GetNode(ctx context.Context, id string) (*types.GraphNode, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, description, symbols, imports, exports, language, embedding
		FROM graph_nodes WHERE id = ?`, id)
	n, err := scanNodeRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNodeRow(r rowScanner) (*types.GraphNode, error) {
	var n types.GraphNode
	var symbols, imports, exports string
	var blob []byte
	if err := r.Scan(&n.ID, &n.Description, &symbols, &imports, &exports, &n.Language, &blob); err != nil {
		return nil, err
	}
	n.Embedding = deserializeVector(blob)
	for _, pair := range []struct {
		raw string
		dst *[]string
	}{{symbols, &n.Symbols}, {imports, &n.Imports}, {exports, &n.Exports}} {
		if err := json.Unmarshal([]byte(pair.raw), pair.dst); err != nil {
			return nil, fmt.Errorf("corrupt node column: %w", err)
		}
	}
	return &n, nil
}

// ListNodeIDs returns every node id.
func (s *Store) ListNodeIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM graph_nodes")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// DeleteNode removes a node and every edge incident to it.
func (s *Store) DeleteNode(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM graph_nodes WHERE id = ?", id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM graph_edges WHERE source_id = ? OR target_id = ?", id, id); err != nil {
		return err
	}
	return tx.Commit()
}

// UpsertEdges replaces all of a source's outgoing edges, of every kind,
// with the provided set.
func (s *Store) UpsertEdges(ctx context.Context, sourceID string, edges []types.GraphEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM graph_edges WHERE source_id = ?", sourceID); err != nil {
		return err
	}
	for _, e := range edges {
		if err := e.Validate(); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO graph_edges (source_id, target_id, kind, weight, confidence)
			VALUES (?, ?, ?, ?, ?)`,
			e.SourceID, e.TargetID, e.Kind, e.Weight, e.Confidence); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Edges returns a node's edges. direction: "out", "in" or "both".
func (s *Store) Edges(ctx context.Context, nodeID, direction string) ([]types.GraphEdge, error) {
	var where string
	var args []any
	switch direction {
	case "out":
		where = "source_id = ?"
		args = []any{nodeID}
	case "in":
		where = "target_id = ?"
		args = []any{nodeID}
	default:
		where = "source_id = ? OR target_id = ?"
		args = []any{nodeID, nodeID}
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT source_id, target_id, kind, weight, confidence FROM graph_edges WHERE "+where, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []types.GraphEdge
	for rows.Next() {
		var e types.GraphEdge
		if err := rows.Scan(&e.SourceID, &e.TargetID, &e.Kind, &e.Weight, &e.Confidence); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// NodeKNNResult is one graph retrieval hit.
type NodeKNNResult struct {
	Node       types.GraphNode
	Similarity float64
}

// NodeKNN returns the k nearest graph nodes by description embedding.
func (s *Store) NodeKNN(ctx context.Context, queryVec []float32, k int) ([]NodeKNNResult, error) {
	candidates, err := s.knnRowIDs(ctx, graphNodesTable, queryVec, k, nil)
	if err != nil {
		return nil, err
	}
	out := make([]NodeKNNResult, 0, len(candidates))
	for _, c := range candidates {
		row := s.db.QueryRowContext(ctx, `
			SELECT id, description, symbols, imports, exports, language, embedding
			FROM graph_nodes WHERE rowid = ?`, c.rowid)
		n, err := scanNodeRow(row)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, NodeKNNResult{Node: *n, Similarity: c.score})
	}
	return out, nil
}

// GraphStats summarizes the graph for the overview operation.
type GraphStats struct {
	Nodes int
	Edges int
}

// GraphStats counts nodes and edges.
func (s *Store) GraphStats(ctx context.Context) (GraphStats, error) {
	var st GraphStats
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM graph_nodes").Scan(&st.Nodes); err != nil {
		return st, err
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM graph_edges").Scan(&st.Edges); err != nil {
		return st, err
	}
	return st, nil
}

// ClearGraph empties the graph tables.
func (s *Store) ClearGraph(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, "DELETE FROM graph_nodes"); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM graph_edges"); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM vector_index_meta WHERE table_name = ?", graphNodesTable)
	return err
}
