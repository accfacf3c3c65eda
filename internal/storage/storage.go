// Package storage is the embedded vector store: SQLite tables for
// blocks, files, graph nodes and edges, and memories, each vector table
// carrying little-endian f32 embedding blobs under a cosine distance
// model, plus the VectorOptimizer that switches between brute-force
// scans and a coarse IVF index as tables grow.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dshills/semcode/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when trying to create a duplicate entity.
	ErrAlreadyExists = errors.New("already exists")
	// ErrDimensionMismatch is returned when a vector's length doesn't
	// match the table's embedding dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrBatchShape is returned when blocks and embeddings differ in length.
	ErrBatchShape = errors.New("blocks and embeddings must have equal length")
)

// DatabaseFile is the store's file name inside the state directory.
const DatabaseFile = "index.db"

// Store is the single-writer, multi-reader vector store. Writes are
// serialized through mu; reads go straight to the pool.
type Store struct {
	db   *sql.DB
	mu   sync.Mutex
	opt  *VectorOptimizer
	path string
}

// blockTables maps a block kind to its table.
var blockTables = map[types.BlockKind]string{
	types.KindCode: "code_blocks",
	types.KindDoc:  "doc_blocks",
	types.KindText: "text_blocks",
}

// TableFor returns the table name for a block kind.
func TableFor(kind types.BlockKind) string { return blockTables[kind] }

// openDatabase opens SQLite with the settings the store needs.
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// WAL lets searches read a consistent snapshot while a cycle writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite benefits from a single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return db, nil
}

// Open creates or opens the store under dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	dbPath := filepath.Join(dir, DatabaseFile)
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	s := &Store{db: db, path: dbPath}
	s.opt = newVectorOptimizer(s)
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Flush forces WAL content into the main database file, bounding the
// data-at-risk window between batch writes.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(PASSIVE)")
	return err
}

// Optimizer exposes the vector optimizer, mostly for tests.
func (s *Store) Optimizer() *VectorOptimizer { return s.opt }

// CountRows returns the row count of a vector table.
func (s *Store) CountRows(ctx context.Context, table string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n)
	return n, err
}
