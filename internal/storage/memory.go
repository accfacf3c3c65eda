package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dshills/semcode/pkg/types"
)

const memoriesTable = "memories"

// InsertMemory stores a new memory record and runs the optimizer over
// the memories table.
func (s *Store) InsertMemory(ctx context.Context, m *types.Memory) error {
	if err := m.Validate(); err != nil {
		return err
	}
	tags, err := json.Marshal(emptyIfNil(m.Tags))
	if err != nil {
		return err
	}
	files, err := json.Marshal(emptyIfNil(m.RelatedFiles))
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx, _ := s.opt.searchPlan(ctx, memoriesTable)
	partition := -1
	if idx != nil && len(m.Embedding) == idx.dim {
		partition = nearestCentroid(m.Embedding, idx.centroids)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO memories
		(id, title, content, memory_type, importance, tags, related_files,
		 git_commit, created_at, updated_at, embedding, partition)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Title, m.Content, string(m.MemoryType), m.Importance,
		string(tags), string(files), m.GitCommit, m.CreatedAt, m.UpdatedAt,
		serializeVector(m.Embedding), partition)
	if err != nil {
		return fmt.Errorf("failed to insert memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAlreadyExists
	}

	if len(m.Embedding) > 0 {
		s.opt.maybeRebuildLocked(ctx, memoriesTable, len(m.Embedding))
	}
	return nil
}

// UpdateMemory rewrites an existing record.
func (s *Store) UpdateMemory(ctx context.Context, m *types.Memory) error {
	if err := m.Validate(); err != nil {
		return err
	}
	tags, err := json.Marshal(emptyIfNil(m.Tags))
	if err != nil {
		return err
	}
	files, err := json.Marshal(emptyIfNil(m.RelatedFiles))
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `
		UPDATE memories SET title = ?, content = ?, memory_type = ?, importance = ?,
			tags = ?, related_files = ?, git_commit = ?, updated_at = ?, embedding = ?
		WHERE id = ?`,
		m.Title, m.Content, string(m.MemoryType), m.Importance,
		string(tags), string(files), m.GitCommit, m.UpdatedAt,
		serializeVector(m.Embedding), m.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteMemory removes a record and its links.
func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, "DELETE FROM memories WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM memory_links WHERE source_id = ? OR target_id = ?", id, id); err != nil {
		return err
	}
	return tx.Commit()
}

// GetMemory fetches one record or ErrNotFound.
func (s *Store) GetMemory(ctx context.Context, id string) (*types.Memory, error) {
	row := s.db.QueryRowContext(ctx, memorySelect+" WHERE id = ?", id)
	m, err := scanMemoryRow(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return m, err
}

const memorySelect = `
	SELECT id, title, content, memory_type, importance, tags, related_files,
	       git_commit, created_at, updated_at, embedding
	FROM memories`

func scanMemoryRow(r rowScanner) (*types.Memory, error) {
	var m types.Memory
	var memType, tags, files string
	var blob []byte
	if err := r.Scan(&m.ID, &m.Title, &m.Content, &memType, &m.Importance,
		&tags, &files, &m.GitCommit, &m.CreatedAt, &m.UpdatedAt, &blob); err != nil {
		return nil, err
	}
	m.MemoryType = types.MemoryType(memType)
	m.Embedding = deserializeVector(blob)
	if err := json.Unmarshal([]byte(tags), &m.Tags); err != nil {
		return nil, fmt.Errorf("corrupt tags column: %w", err)
	}
	if err := json.Unmarshal([]byte(files), &m.RelatedFiles); err != nil {
		return nil, fmt.Errorf("corrupt related_files column: %w", err)
	}
	return &m, nil
}

// MemoryFilter narrows ListMemories.
type MemoryFilter struct {
	Type         types.MemoryType
	Tags         []string // any-of
	RelatedFiles []string // any-of
	Limit        int
	OrderRecent  bool
}

// ListMemories returns records matching the filter.
func (s *Store) ListMemories(ctx context.Context, filter MemoryFilter) ([]types.Memory, error) {
	query := memorySelect + " WHERE 1=1"
	var args []any
	if filter.Type != "" {
		query += " AND memory_type = ?"
		args = append(args, string(filter.Type))
	}
	if len(filter.Tags) > 0 {
		var clauses []string
		for _, t := range filter.Tags {
			clauses = append(clauses, "tags LIKE ?")
			args = append(args, `%"`+escapeLike(t)+`"%`)
		}
		query += " AND (" + strings.Join(clauses, " OR ") + ")"
	}
	if len(filter.RelatedFiles) > 0 {
		var clauses []string
		for _, f := range filter.RelatedFiles {
			clauses = append(clauses, "related_files LIKE ?")
			args = append(args, `%"`+escapeLike(f)+`"%`)
		}
		query += " AND (" + strings.Join(clauses, " OR ") + ")"
	}
	if filter.OrderRecent {
		query += " ORDER BY updated_at DESC"
	} else {
		query += " ORDER BY created_at"
	}
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []types.Memory
	for rows.Next() {
		m, err := scanMemoryRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// MemoryKNNResult is one recall hit before importance weighting.
type MemoryKNNResult struct {
	Memory     types.Memory
	Similarity float64
}

// MemoryKNN returns the k nearest memories by embedding.
func (s *Store) MemoryKNN(ctx context.Context, queryVec []float32, k int) ([]MemoryKNNResult, error) {
	candidates, err := s.knnRowIDs(ctx, memoriesTable, queryVec, k, nil)
	if err != nil {
		return nil, err
	}
	out := make([]MemoryKNNResult, 0, len(candidates))
	for _, c := range candidates {
		row := s.db.QueryRowContext(ctx, memorySelect+" WHERE rowid = ?", c.rowid)
		m, err := scanMemoryRow(row)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, MemoryKNNResult{Memory: *m, Similarity: c.score})
	}
	return out, nil
}

// LinkMemories records a directed relation between two memories.
func (s *Store) LinkMemories(ctx context.Context, sourceID, targetID string) error {
	if sourceID == targetID {
		return fmt.Errorf("memory link cannot be a self-loop")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO memory_links (source_id, target_id) VALUES (?, ?)",
		sourceID, targetID)
	return err
}

// MemoryLinks returns target ids linked from a memory.
func (s *Store) MemoryLinks(ctx context.Context, sourceID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT target_id FROM memory_links WHERE source_id = ?", sourceID)
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

// MemoryStats aggregates the memory table.
type MemoryStats struct {
	Total   int
	ByType  map[string]int
	AvgImp  float64
	Oldest  int64
	Newest  int64
}

// MemoryStats summarizes stored memories.
func (s *Store) MemoryStats(ctx context.Context) (MemoryStats, error) {
	st := MemoryStats{ByType: map[string]int{}}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(AVG(importance), 0),
		       COALESCE(MIN(created_at), 0), COALESCE(MAX(created_at), 0)
		FROM memories`).Scan(&st.Total, &st.AvgImp, &st.Oldest, &st.Newest)
	if err != nil {
		return st, err
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT memory_type, COUNT(*) FROM memories GROUP BY memory_type")
	if err != nil {
		return st, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return st, err
		}
		st.ByType[t] = n
	}
	return st, rows.Err()
}

// CleanupMemories deletes low-importance records not touched since
// cutoff. Returns the number removed.
func (s *Store) CleanupMemories(ctx context.Context, importanceBelow float64, updatedBefore int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM memories WHERE importance < ? AND updated_at < ?`,
		importanceBelow, updatedBefore)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ClearMemories empties the memory tables.
func (s *Store) ClearMemories(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, "DELETE FROM memories"); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM memory_links"); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM vector_index_meta WHERE table_name = ?", memoriesTable)
	return err
}

// CountMemories returns the number of stored memories.
func (s *Store) CountMemories(ctx context.Context) (int, error) {
	return s.CountRows(ctx, memoriesTable)
}
