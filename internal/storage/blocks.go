package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/dshills/semcode/pkg/types"
)

// StoreBlocks appends a batch of blocks with their embeddings to the
// kind's table. Blocks whose id already exists are skipped
// (content-hash dedup). After the batch the vector optimizer runs with
// the new row count. Returns the number of rows actually inserted.
func (s *Store) StoreBlocks(ctx context.Context, kind types.BlockKind, blocks []types.Block, embeddings [][]float32) (int, error) {
	if len(blocks) != len(embeddings) {
		return 0, fmt.Errorf("%w: %d blocks, %d embeddings", ErrBatchShape, len(blocks), len(embeddings))
	}
	table := blockTables[kind]
	if table == "" {
		return 0, fmt.Errorf("unknown block kind %q", kind)
	}

	dim, err := s.tableDim(ctx, table)
	if err != nil {
		return 0, err
	}
	for i, e := range embeddings {
		if dim > 0 && len(e) != dim {
			return 0, fmt.Errorf("%w: table %s expects %d, got %d at index %d",
				ErrDimensionMismatch, table, dim, len(e), i)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	// new rows join the current partitioning immediately when an index
	// exists; otherwise they stay unassigned until the next build
	idx, _ := s.opt.searchPlan(ctx, table)

	inserted := 0
	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO `+table+`
		(id, path, language, symbols, start_line, end_line, content, embedding, partition)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, err
	}
	defer func() { _ = stmt.Close() }()

	for i, b := range blocks {
		if err := b.Validate(); err != nil {
			return 0, fmt.Errorf("invalid block %s: %w", b.ID, err)
		}
		symbols, err := json.Marshal(emptyIfNil(b.Symbols))
		if err != nil {
			return 0, err
		}
		partition := -1
		if idx != nil {
			partition = nearestCentroid(embeddings[i], idx.centroids)
		}
		res, err := stmt.ExecContext(ctx, b.ID, b.Path, b.Language, string(symbols),
			b.StartLine, b.EndLine, b.Content, serializeVector(embeddings[i]), partition)
		if err != nil {
			return 0, fmt.Errorf("failed to insert block: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}

	if inserted > 0 {
		// non-fatal: retrieval falls back to brute force
		s.opt.maybeRebuildLocked(ctx, table, len(embeddings[0]))
	}
	return inserted, nil
}

// tableDim returns the embedding dimension of a vector table, derived
// from its index metadata or any existing row. Zero means the table is
// empty and unindexed; the first batch sets the dimension.
func (s *Store) tableDim(ctx context.Context, table string) (int, error) {
	var dim int
	err := s.db.QueryRowContext(ctx,
		"SELECT dim FROM vector_index_meta WHERE table_name = ?", table).Scan(&dim)
	if err == nil {
		return dim, nil
	}
	if err != sql.ErrNoRows {
		return 0, err
	}
	var blob []byte
	err = s.db.QueryRowContext(ctx,
		"SELECT embedding FROM "+table+" LIMIT 1").Scan(&blob)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return len(blob) / 4, nil
}

// DeleteByPath removes everything owned by a path, in ownership order:
// blocks in every block table, then the graph node, then every edge into
// or out of it, then the file row.
func (s *Store) DeleteByPath(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range blockTables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE path = ?", path); err != nil {
			return fmt.Errorf("failed to delete blocks for %s: %w", path, err)
		}
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM graph_nodes WHERE id = ?", path); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM graph_edges WHERE source_id = ? OR target_id = ?", path, path); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM files WHERE path = ?", path); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteBlocksByPath removes a path's blocks from one kind table only,
// used for differential replacement before re-inserting.
func (s *Store) DeleteBlocksByPath(ctx context.Context, kind types.BlockKind, path string) error {
	table := blockTables[kind]
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE path = ?", path)
	return err
}

// DeleteBlock removes a single block by id from the kind's table.
func (s *Store) DeleteBlock(ctx context.Context, kind types.BlockKind, id string) error {
	table := blockTables[kind]
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", id)
	return err
}

// HasBlock reports whether an id exists in the kind's table.
func (s *Store) HasBlock(ctx context.Context, kind types.BlockKind, id string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM "+blockTables[kind]+" WHERE id = ?", id).Scan(&n)
	return n > 0, err
}

// BlocksByPath returns a path's blocks from one kind table, ordered by
// start line.
func (s *Store) BlocksByPath(ctx context.Context, kind types.BlockKind, path string) ([]types.Block, error) {
	return s.queryBlocks(ctx, kind,
		"WHERE path = ? ORDER BY start_line", path)
}

// BlocksByIDs fetches specific blocks from one kind table.
func (s *Store) BlocksByIDs(ctx context.Context, kind types.BlockKind, ids []string) ([]types.Block, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := ""
	args := make([]any, len(ids))
	for i, id := range ids {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args[i] = id
	}
	return s.queryBlocks(ctx, kind, "WHERE id IN ("+placeholders+")", args...)
}

func (s *Store) queryBlocks(ctx context.Context, kind types.BlockKind, where string, args ...any) ([]types.Block, error) {
	table := blockTables[kind]
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, path, language, symbols, start_line, end_line, content, embedding
		FROM `+table+" "+where, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []types.Block
	for rows.Next() {
		b, err := scanBlock(rows, kind)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBlock(rows *sql.Rows, kind types.BlockKind) (types.Block, error) {
	var b types.Block
	var symbolsJSON string
	var blob []byte
	if err := rows.Scan(&b.ID, &b.Path, &b.Language, &symbolsJSON,
		&b.StartLine, &b.EndLine, &b.Content, &blob); err != nil {
		return b, err
	}
	b.Kind = kind
	b.Embedding = deserializeVector(blob)
	if err := json.Unmarshal([]byte(symbolsJSON), &b.Symbols); err != nil {
		return b, fmt.Errorf("corrupt symbols column: %w", err)
	}
	return b, nil
}

// KNNResult is one nearest-neighbor hit.
type KNNResult struct {
	Block      types.Block
	Similarity float64 // in [0,1]
}

// KNN returns the k nearest blocks of a kind by cosine similarity,
// optionally filtered.
func (s *Store) KNN(ctx context.Context, kind types.BlockKind, queryVec []float32, k int, filters *Filters) ([]KNNResult, error) {
	table := blockTables[kind]
	if table == "" {
		return nil, fmt.Errorf("unknown block kind %q", kind)
	}
	candidates, err := s.knnRowIDs(ctx, table, queryVec, k, filters)
	if err != nil {
		return nil, err
	}

	out := make([]KNNResult, 0, len(candidates))
	for _, c := range candidates {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, path, language, symbols, start_line, end_line, content, embedding
			FROM `+table+" WHERE rowid = ?", c.rowid)
		if err != nil {
			return nil, err
		}
		if rows.Next() {
			b, serr := scanBlock(rows, kind)
			if serr != nil {
				_ = rows.Close()
				return nil, serr
			}
			out = append(out, KNNResult{Block: b, Similarity: c.score})
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return nil, err
		}
		_ = rows.Close()
	}
	return out, nil
}

// UpsertFile records or refreshes a file row. At most one row per path.
func (s *Store) UpsertFile(ctx context.Context, f *types.FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files (path, language, content_hash, last_modified, last_commit)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			language = excluded.language,
			content_hash = excluded.content_hash,
			last_modified = excluded.last_modified,
			last_commit = excluded.last_commit
	`, f.Path, f.Language, f.ContentHash, f.LastModified, f.LastCommit)
	if err != nil {
		return fmt.Errorf("failed to upsert file: %w", err)
	}
	return nil
}

// GetFile returns the record for a path or ErrNotFound.
func (s *Store) GetFile(ctx context.Context, path string) (*types.FileRecord, error) {
	var f types.FileRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT path, language, content_hash, last_modified, last_commit
		FROM files WHERE path = ?`, path).
		Scan(&f.Path, &f.Language, &f.ContentHash, &f.LastModified, &f.LastCommit)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// Snapshot loads every file record keyed by path, the prior-state map
// the indexer consults for change detection.
func (s *Store) Snapshot(ctx context.Context) (map[string]types.FileRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT path, language, content_hash, last_modified, last_commit FROM files")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	snapshot := make(map[string]types.FileRecord)
	for rows.Next() {
		var f types.FileRecord
		if err := rows.Scan(&f.Path, &f.Language, &f.ContentHash, &f.LastModified, &f.LastCommit); err != nil {
			return nil, err
		}
		snapshot[f.Path] = f
	}
	return snapshot, rows.Err()
}

// ClearBlocks empties every block table and the files table.
func (s *Store) ClearBlocks(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, table := range blockTables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx,
			"DELETE FROM vector_index_meta WHERE table_name = ?", table); err != nil {
			return err
		}
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM files")
	return err
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
