package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/semcode/internal/chunker"
	"github.com/dshills/semcode/internal/config"
	"github.com/dshills/semcode/internal/embedder"
	"github.com/dshills/semcode/internal/language"
	"github.com/dshills/semcode/internal/storage"
	"github.com/dshills/semcode/internal/walker"
	"github.com/dshills/semcode/pkg/types"
)

func walkerIgnorer(root string) (*walker.Ignorer, error) {
	return walker.NewIgnorer(root, walker.Options{})
}

// testEnv wires a full pipeline over a temp root with local providers.
type testEnv struct {
	root     string
	stateDir string
	store    *storage.Store
	idx      *Indexer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()
	stateDir := t.TempDir()

	store, err := storage.Open(stateDir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := config.Default()
	cfg.Index.RequireGit = false
	cfg.Embedding.CodeModel = "local:hash-384"
	cfg.Embedding.TextModel = "local:hash-384"

	local, err := embedder.New(embedder.Config{ModelSpec: "local:hash-384"})
	require.NoError(t, err)

	registry := language.NewRegistry()
	ch := chunker.New(registry, cfg.Index.ChunkSize, cfg.Index.ChunkOverlap)

	return &testEnv{
		root:     root,
		stateDir: stateDir,
		store:    store,
		idx:      New(root, stateDir, store, ch, local, local, cfg),
	}
}

func (e *testEnv) write(t *testing.T, rel, content string) {
	t.Helper()
	path := filepath.Join(e.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func (e *testEnv) run(t *testing.T) *Statistics {
	t.Helper()
	stats, err := e.idx.Run(context.Background(), Options{NoGit: true})
	require.NoError(t, err)
	return stats
}

func (e *testEnv) codeBlocks(t *testing.T, rel string) []types.Block {
	t.Helper()
	blocks, err := e.store.BlocksByPath(context.Background(), types.KindCode, rel)
	require.NoError(t, err)
	return blocks
}

func TestIndexSingleRustFile(t *testing.T) {
	e := newTestEnv(t)
	e.write(t, "src/lib.rs", "pub fn add(a: i32, b: i32) -> i32 { a + b }")

	stats := e.run(t)
	assert.Equal(t, 1, stats.FilesIndexed)

	blocks := e.codeBlocks(t, "src/lib.rs")
	require.Len(t, blocks, 1)

	b := blocks[0]
	assert.Equal(t, "rust", b.Language)
	assert.Equal(t, 1, b.StartLine)
	assert.Equal(t, 1, b.EndLine)
	assert.Contains(t, b.Symbols, "add")
	assert.Equal(t, types.ComputeID(b.Path, b.Kind, b.StartLine, b.EndLine, b.Content), b.ID)

	rec, err := e.store.GetFile(context.Background(), "src/lib.rs")
	require.NoError(t, err)
	assert.Equal(t, "rust", rec.Language)
}

func TestReindexIsNoOp(t *testing.T) {
	e := newTestEnv(t)
	e.write(t, "src/lib.rs", "pub fn add(a: i32, b: i32) -> i32 { a + b }")
	e.run(t)

	before, err := e.store.CountRows(context.Background(), "code_blocks")
	require.NoError(t, err)
	snapBefore, err := e.store.Snapshot(context.Background())
	require.NoError(t, err)

	stats := e.run(t)
	assert.Equal(t, 0, stats.FilesIndexed)
	assert.Equal(t, 1, stats.FilesSkipped)
	assert.Equal(t, 0, stats.BlocksCreated)

	after, err := e.store.CountRows(context.Background(), "code_blocks")
	require.NoError(t, err)
	assert.Equal(t, before, after)

	snapAfter, err := e.store.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, snapBefore["src/lib.rs"].LastModified, snapAfter["src/lib.rs"].LastModified)
}

func TestEditReplacesBlocks(t *testing.T) {
	e := newTestEnv(t)
	e.write(t, "src/lib.rs", "pub fn add(a: i32, b: i32) -> i32 { a + b }")
	e.run(t)
	oldID := e.codeBlocks(t, "src/lib.rs")[0].ID

	e.write(t, "src/lib.rs", "pub fn add(a: i64, b: i64) -> i64 { a + b }")
	e.run(t)

	blocks := e.codeBlocks(t, "src/lib.rs")
	require.Len(t, blocks, 1)
	assert.NotEqual(t, oldID, blocks[0].ID)
	assert.Contains(t, blocks[0].Content, "i64")

	// old id is gone from the table
	has, err := e.store.HasBlock(context.Background(), types.KindCode, oldID)
	require.NoError(t, err)
	assert.False(t, has)

	// exactly one file row remains
	snapshot, err := e.store.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Len(t, snapshot, 1)
}

func TestDeleteRemovesAllState(t *testing.T) {
	e := newTestEnv(t)
	e.write(t, "src/lib.rs", "pub fn add(a: i32, b: i32) -> i32 { a + b }")
	e.run(t)

	require.NoError(t, os.Remove(filepath.Join(e.root, "src", "lib.rs")))
	stats := e.run(t)
	assert.Equal(t, 1, stats.FilesDeleted)

	assert.Empty(t, e.codeBlocks(t, "src/lib.rs"))
	_, err := e.store.GetFile(context.Background(), "src/lib.rs")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestIndexMixedKinds(t *testing.T) {
	e := newTestEnv(t)
	e.write(t, "main.go", "package main\n\nfunc main() {}\n")
	e.write(t, "README.md", "# Project\n\nSome docs about the project that are long enough to chunk.\n")
	e.write(t, "notes.txt", "plain text notes\n")

	stats := e.run(t)
	assert.Equal(t, 3, stats.FilesIndexed)

	ctx := context.Background()
	code, err := e.store.CountRows(ctx, "code_blocks")
	require.NoError(t, err)
	docs, err := e.store.CountRows(ctx, "doc_blocks")
	require.NoError(t, err)
	text, err := e.store.CountRows(ctx, "text_blocks")
	require.NoError(t, err)

	assert.Greater(t, code, 0)
	assert.Greater(t, docs, 0)
	assert.Greater(t, text, 0)
}

func TestIndexHonorsIgnoreRules(t *testing.T) {
	e := newTestEnv(t)
	e.write(t, ".gitignore", "vendor-ish/\n")
	e.write(t, "vendor-ish/dep.go", "package dep")
	e.write(t, "main.go", "package main\n\nfunc main() {}\n")

	e.run(t)

	assert.Empty(t, e.codeBlocks(t, "vendor-ish/dep.go"))
	assert.NotEmpty(t, e.codeBlocks(t, "main.go"))
}

func TestRequireGitRefusesPlainDir(t *testing.T) {
	e := newTestEnv(t)
	e.idx.cfg.Index.RequireGit = true
	e.write(t, "main.go", "package main")

	_, err := e.idx.Run(context.Background(), Options{})
	assert.ErrorIs(t, err, ErrNotARepository)

	// --no-git bypasses the refusal
	_, err = e.idx.Run(context.Background(), Options{NoGit: true})
	assert.NoError(t, err)
}

func TestConcurrentRunIsLockedOut(t *testing.T) {
	e := newTestEnv(t)
	e.write(t, "main.go", "package main")

	lock, err := storage.AcquireLock(e.stateDir)
	require.NoError(t, err)
	defer func() { _ = lock.Release() }()

	_, err = e.idx.Run(context.Background(), Options{NoGit: true})
	assert.ErrorIs(t, err, storage.ErrLocked)
}

func TestApplyHint(t *testing.T) {
	e := newTestEnv(t)
	e.write(t, ".gitignore", "*.log\n")
	e.write(t, "a.go", "package a")
	e.write(t, "noise.log", "x")

	ig, err := walkerIgnorer(e.root)
	require.NoError(t, err)

	snapshot := map[string]types.FileRecord{"gone.go": {Path: "gone.go"}}
	candidates, deletions, err := e.idx.applyHint(
		[]string{"a.go", "noise.log", "gone.go", "never-indexed.go"}, ig, snapshot)
	require.NoError(t, err)

	assert.Equal(t, []string{"a.go"}, candidates)
	assert.Equal(t, []string{"gone.go"}, deletions)
}

func TestStateSidecarRoundTrip(t *testing.T) {
	dir := t.TempDir()
	st, err := LoadState(dir)
	require.NoError(t, err)
	assert.Empty(t, st.LastIndexedCommit)

	st.LastIndexedCommit = "abc123"
	require.NoError(t, SaveState(dir, st))

	st2, err := LoadState(dir)
	require.NoError(t, err)
	assert.Equal(t, "abc123", st2.LastIndexedCommit)
	assert.Equal(t, ConfigVersion, st2.ConfigVersion)
}
