package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// CurrentSchemaVersion tracks the database schema version.
const CurrentSchemaVersion = "1.0.0"

// Migration represents a database schema migration.
type Migration struct {
	Version string
	Up      string
}

// AllMigrations contains all database migrations in order.
var AllMigrations = []Migration{
	{Version: "1.0.0", Up: migrationV1Up},
}

const migrationV1Up = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- One row per indexed path
CREATE TABLE IF NOT EXISTS files (
    path TEXT PRIMARY KEY,
    language TEXT NOT NULL DEFAULT '',
    content_hash TEXT NOT NULL,
    last_modified INTEGER NOT NULL DEFAULT 0,
    last_commit TEXT NOT NULL DEFAULT ''
);

-- Block tables: one per kind, same shape. embedding is a little-endian
-- f32 blob; partition is the IVF coarse assignment (-1 = unassigned).
CREATE TABLE IF NOT EXISTS code_blocks (
    id TEXT PRIMARY KEY,
    path TEXT NOT NULL,
    language TEXT NOT NULL DEFAULT '',
    symbols TEXT NOT NULL DEFAULT '[]',
    start_line INTEGER NOT NULL,
    end_line INTEGER NOT NULL,
    content TEXT NOT NULL,
    embedding BLOB NOT NULL,
    partition INTEGER NOT NULL DEFAULT -1
);
CREATE INDEX IF NOT EXISTS idx_code_blocks_path ON code_blocks(path);
CREATE INDEX IF NOT EXISTS idx_code_blocks_partition ON code_blocks(partition);

CREATE TABLE IF NOT EXISTS doc_blocks (
    id TEXT PRIMARY KEY,
    path TEXT NOT NULL,
    language TEXT NOT NULL DEFAULT '',
    symbols TEXT NOT NULL DEFAULT '[]',
    start_line INTEGER NOT NULL,
    end_line INTEGER NOT NULL,
    content TEXT NOT NULL,
    embedding BLOB NOT NULL,
    partition INTEGER NOT NULL DEFAULT -1
);
CREATE INDEX IF NOT EXISTS idx_doc_blocks_path ON doc_blocks(path);
CREATE INDEX IF NOT EXISTS idx_doc_blocks_partition ON doc_blocks(partition);

CREATE TABLE IF NOT EXISTS text_blocks (
    id TEXT PRIMARY KEY,
    path TEXT NOT NULL,
    language TEXT NOT NULL DEFAULT '',
    symbols TEXT NOT NULL DEFAULT '[]',
    start_line INTEGER NOT NULL,
    end_line INTEGER NOT NULL,
    content TEXT NOT NULL,
    embedding BLOB NOT NULL,
    partition INTEGER NOT NULL DEFAULT -1
);
CREATE INDEX IF NOT EXISTS idx_text_blocks_path ON text_blocks(path);
CREATE INDEX IF NOT EXISTS idx_text_blocks_partition ON text_blocks(partition);

-- GraphRAG
CREATE TABLE IF NOT EXISTS graph_nodes (
    id TEXT PRIMARY KEY,
    description TEXT NOT NULL DEFAULT '',
    symbols TEXT NOT NULL DEFAULT '[]',
    imports TEXT NOT NULL DEFAULT '[]',
    exports TEXT NOT NULL DEFAULT '[]',
    language TEXT NOT NULL DEFAULT '',
    embedding BLOB NOT NULL,
    partition INTEGER NOT NULL DEFAULT -1
);
CREATE INDEX IF NOT EXISTS idx_graph_nodes_partition ON graph_nodes(partition);

CREATE TABLE IF NOT EXISTS graph_edges (
    source_id TEXT NOT NULL,
    target_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    weight REAL NOT NULL DEFAULT 1.0,
    confidence REAL NOT NULL DEFAULT 1.0,
    PRIMARY KEY (source_id, target_id, kind)
);
CREATE INDEX IF NOT EXISTS idx_graph_edges_source ON graph_edges(source_id);
CREATE INDEX IF NOT EXISTS idx_graph_edges_target ON graph_edges(target_id);

-- Memory subsystem
CREATE TABLE IF NOT EXISTS memories (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    content TEXT NOT NULL,
    memory_type TEXT NOT NULL,
    importance REAL NOT NULL DEFAULT 0.5,
    tags TEXT NOT NULL DEFAULT '[]',
    related_files TEXT NOT NULL DEFAULT '[]',
    git_commit TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    embedding BLOB NOT NULL,
    partition INTEGER NOT NULL DEFAULT -1
);
CREATE INDEX IF NOT EXISTS idx_memories_type ON memories(memory_type);
CREATE INDEX IF NOT EXISTS idx_memories_updated ON memories(updated_at);
CREATE INDEX IF NOT EXISTS idx_memories_partition ON memories(partition);

CREATE TABLE IF NOT EXISTS memory_links (
    source_id TEXT NOT NULL,
    target_id TEXT NOT NULL,
    PRIMARY KEY (source_id, target_id)
);

-- Per-table IVF index bookkeeping. centroids holds num_partitions
-- little-endian f32 vectors of dim each.
CREATE TABLE IF NOT EXISTS vector_index_meta (
    table_name TEXT PRIMARY KEY,
    dim INTEGER NOT NULL,
    num_partitions INTEGER NOT NULL,
    num_sub_vectors INTEGER NOT NULL,
    built_rows INTEGER NOT NULL,
    milestone INTEGER NOT NULL,
    centroids BLOB NOT NULL
);
`

// ApplyMigrations brings the schema up to CurrentSchemaVersion.
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	for _, m := range AllMigrations {
		applied, err := migrationApplied(ctx, db, m.Version)
		if err != nil {
			return err
		}
		if applied {
			continue
		}
		if _, err := db.ExecContext(ctx, m.Up); err != nil {
			return fmt.Errorf("migration %s: %w", m.Version, err)
		}
		if _, err := db.ExecContext(ctx,
			"INSERT OR IGNORE INTO schema_version (version) VALUES (?)", m.Version); err != nil {
			return fmt.Errorf("record migration %s: %w", m.Version, err)
		}
	}
	return nil
}

func migrationApplied(ctx context.Context, db *sql.DB, version string) (bool, error) {
	var exists int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'`).Scan(&exists)
	if err != nil {
		return false, err
	}
	if exists == 0 {
		return false, nil
	}
	var n int
	err = db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
