package storage

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/semcode/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// testVec builds a deterministic vector of the given dim; distinct
// seeds yield distinct directions.
func testVec(dim, seed int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(((seed+1)*(i+7))%101) - 50
	}
	v[0] = float32(seed%1000) + 0.5
	return v
}

func testBlock(path string, line int, content string) types.Block {
	b := types.Block{
		Kind:      types.KindCode,
		Path:      path,
		Language:  "go",
		Symbols:   []string{"sym"},
		StartLine: line,
		EndLine:   line,
		Content:   content,
	}
	b.SealID()
	return b
}

func TestStoreBlocksAndDedup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	blocks := []types.Block{
		testBlock("a.go", 1, "func A() {}"),
		testBlock("a.go", 3, "func B() {}"),
	}
	embeddings := [][]float32{testVec(8, 1), testVec(8, 2)}

	n, err := s.StoreBlocks(ctx, types.KindCode, blocks, embeddings)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// identical ids skip silently
	n, err = s.StoreBlocks(ctx, types.KindCode, blocks, embeddings)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	count, err := s.CountRows(ctx, "code_blocks")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestStoreBlocksRejectsBadShapes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	blocks := []types.Block{testBlock("a.go", 1, "x")}

	_, err := s.StoreBlocks(ctx, types.KindCode, blocks, nil)
	assert.ErrorIs(t, err, ErrBatchShape)

	// first batch fixes the table dimension
	_, err = s.StoreBlocks(ctx, types.KindCode, blocks, [][]float32{testVec(8, 1)})
	require.NoError(t, err)

	other := []types.Block{testBlock("b.go", 1, "y")}
	_, err = s.StoreBlocks(ctx, types.KindCode, other, [][]float32{testVec(16, 1)})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestKNNBruteForce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	target := testVec(8, 42)
	blocks := []types.Block{
		testBlock("match.go", 1, "the match"),
		testBlock("other.go", 1, "unrelated one"),
		testBlock("third.go", 1, "unrelated two"),
	}
	embeddings := [][]float32{target, testVec(8, 7), testVec(8, 99)}
	_, err := s.StoreBlocks(ctx, types.KindCode, blocks, embeddings)
	require.NoError(t, err)

	results, err := s.KNN(ctx, types.KindCode, target, 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// exact vector match ranks first with similarity 1
	assert.Equal(t, "match.go", results[0].Block.Path)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-6)
	assert.GreaterOrEqual(t, results[0].Similarity, results[1].Similarity)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Similarity, 0.0)
		assert.LessOrEqual(t, r.Similarity, 1.0)
	}
}

func TestKNNFilters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := testBlock("a.go", 1, "alpha")
	a.Language = "go"
	a.Symbols = []string{"Alpha"}
	b := testBlock("b.rs", 1, "beta")
	b.Language = "rust"
	b.Symbols = []string{"Beta"}
	_, err := s.StoreBlocks(ctx, types.KindCode,
		[]types.Block{a, b}, [][]float32{testVec(8, 1), testVec(8, 2)})
	require.NoError(t, err)

	q := testVec(8, 1)
	results, err := s.KNN(ctx, types.KindCode, q, 10, &Filters{Language: "rust"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b.rs", results[0].Block.Path)

	results, err = s.KNN(ctx, types.KindCode, q, 10, &Filters{SymbolContains: "Alpha"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a.go", results[0].Block.Path)

	results, err = s.KNN(ctx, types.KindCode, q, 10, &Filters{Path: "a.go"})
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestDeleteByPathRemovesEverything(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	blocks := []types.Block{testBlock("gone.go", 1, "x")}
	_, err := s.StoreBlocks(ctx, types.KindCode, blocks, [][]float32{testVec(8, 1)})
	require.NoError(t, err)

	require.NoError(t, s.UpsertFile(ctx, &types.FileRecord{
		Path: "gone.go", Language: "go", ContentHash: "h", LastModified: 1,
	}))
	require.NoError(t, s.UpsertNode(ctx, &types.GraphNode{
		ID: "gone.go", Embedding: testVec(8, 1),
	}))
	require.NoError(t, s.UpsertNode(ctx, &types.GraphNode{
		ID: "stays.go", Embedding: testVec(8, 2),
	}))
	require.NoError(t, s.UpsertEdges(ctx, "stays.go", []types.GraphEdge{{
		SourceID: "stays.go", TargetID: "gone.go",
		Kind: types.EdgeImports, Weight: 1, Confidence: 1,
	}}))

	require.NoError(t, s.DeleteByPath(ctx, "gone.go"))

	got, err := s.BlocksByPath(ctx, types.KindCode, "gone.go")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = s.GetFile(ctx, "gone.go")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetNode(ctx, "gone.go")
	assert.ErrorIs(t, err, ErrNotFound)

	// inbound edges disappear with the node
	edges, err := s.Edges(ctx, "stays.go", "both")
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestUpsertFileSingleRow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := &types.FileRecord{Path: "f.go", Language: "go", ContentHash: "h1", LastModified: 1}
	require.NoError(t, s.UpsertFile(ctx, rec))
	rec.ContentHash = "h2"
	rec.LastModified = 2
	require.NoError(t, s.UpsertFile(ctx, rec))

	snapshot, err := s.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snapshot, 1)
	assert.Equal(t, "h2", snapshot["f.go"].ContentHash)
	assert.EqualValues(t, 2, snapshot["f.go"].LastModified)
}

func TestVectorRoundTrip(t *testing.T) {
	v := []float32{0.5, -1.25, 3.75, 0}
	assert.Equal(t, v, deserializeVector(serializeVector(v)))
}

func TestSimilarityFromCosine(t *testing.T) {
	assert.InDelta(t, 1.0, similarityFromCosine(1), 1e-9)
	assert.InDelta(t, 0.5, similarityFromCosine(0), 1e-9)
	assert.InDelta(t, 0.0, similarityFromCosine(-1), 1e-9)
}

func TestLockExcludesSecondAcquirer(t *testing.T) {
	dir := t.TempDir()
	l1, err := AcquireLock(dir)
	require.NoError(t, err)

	_, err = AcquireLock(dir)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, l1.Release())
	l2, err := AcquireLock(dir)
	require.NoError(t, err)
	require.NoError(t, l2.Release())
}

func TestCycleLock(t *testing.T) {
	var l CycleLock
	assert.True(t, l.TryAcquire())
	assert.False(t, l.TryAcquire())
	l.Release()
	assert.True(t, l.TryAcquire())
}

// fillBlocks inserts n distinct rows into code_blocks.
func fillBlocks(t *testing.T, s *Store, start, n, dim int) {
	t.Helper()
	ctx := context.Background()
	const batch = 250
	for off := 0; off < n; off += batch {
		size := batch
		if off+size > n {
			size = n - off
		}
		blocks := make([]types.Block, size)
		embeddings := make([][]float32, size)
		for i := 0; i < size; i++ {
			id := start + off + i
			blocks[i] = testBlock(fmt.Sprintf("f%d.go", id), 1, fmt.Sprintf("func F%d() {}", id))
			embeddings[i] = testVec(dim, id)
		}
		_, err := s.StoreBlocks(ctx, types.KindCode, blocks, embeddings)
		require.NoError(t, err)
	}
}

func indexMeta(t *testing.T, s *Store, table string) (builtRows, milestone, partitions int, exists bool) {
	t.Helper()
	err := s.db.QueryRow(
		"SELECT built_rows, milestone, num_partitions FROM vector_index_meta WHERE table_name = ?",
		table).Scan(&builtRows, &milestone, &partitions)
	if err != nil {
		return 0, 0, 0, false
	}
	return builtRows, milestone, partitions, true
}

func TestOptimizerBelowThresholdNoIndex(t *testing.T) {
	s := openTestStore(t)
	fillBlocks(t, s, 0, 999, 8)

	_, _, _, exists := indexMeta(t, s, "code_blocks")
	assert.False(t, exists, "999 rows must stay brute force")

	// search still returns correct K-NN
	results, err := s.KNN(context.Background(), types.KindCode, testVec(8, 500), 5, nil)
	require.NoError(t, err)
	require.Len(t, results, 5)
	assert.Equal(t, "f500.go", results[0].Block.Path)
}

func TestOptimizerBuildsOnceAtThreshold(t *testing.T) {
	s := openTestStore(t)
	fillBlocks(t, s, 0, 1001, 8)

	builtRows, milestone, partitions, exists := indexMeta(t, s, "code_blocks")
	require.True(t, exists, "crossing 1000 must build the index")
	assert.Equal(t, 1000, milestone)
	assert.GreaterOrEqual(t, partitions, 16)
	assert.LessOrEqual(t, partitions, 256)
	firstBuild := builtRows

	// subsequent writes below the next milestone do not rebuild
	fillBlocks(t, s, 2000, 50, 8)
	builtRows, milestone, _, exists = indexMeta(t, s, "code_blocks")
	require.True(t, exists)
	assert.Equal(t, 1000, milestone)
	assert.Equal(t, firstBuild, builtRows, "no rebuild without a milestone crossing")

	// indexed search still finds the exact match
	results, err := s.KNN(context.Background(), types.KindCode, testVec(8, 123), 3, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "f123.go", results[0].Block.Path)
}

func TestKNNRefineFactorFallsBackOnThinProbes(t *testing.T) {
	s := openTestStore(t)
	fillBlocks(t, s, 0, 1001, 8)

	_, _, _, exists := indexMeta(t, s, "code_blocks")
	require.True(t, exists)

	// k * refine_factor far exceeds what a handful of probed
	// partitions can hold, so the query must widen to a full scan and
	// still return k exact results
	results, err := s.KNN(context.Background(), types.KindCode, testVec(8, 321), 300, nil)
	require.NoError(t, err)
	assert.Len(t, results, 300)
	assert.Equal(t, "f321.go", results[0].Block.Path)

	// a selective filter thins the probed pool the same way; the
	// fallback keeps the single matching row reachable
	filtered, err := s.KNN(context.Background(), types.KindCode, testVec(8, 321),
		5, &Filters{Path: "f777.go"})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "f777.go", filtered[0].Block.Path)
}

func TestCalculateIndexParams(t *testing.T) {
	p := CalculateIndexParams(999, 768)
	assert.False(t, p.ShouldCreate)

	p = CalculateIndexParams(1000, 768)
	assert.True(t, p.ShouldCreate)
	assert.Equal(t, 31, p.NumPartitions) // sqrt(1000) = 31

	p = CalculateIndexParams(100, 768)
	assert.False(t, p.ShouldCreate)

	p = CalculateIndexParams(1_000_000, 768)
	assert.Equal(t, 256, p.NumPartitions) // clamped

	p = CalculateIndexParams(1100, 768)
	assert.Equal(t, 33, p.NumPartitions)
}

func TestSubVectorsFor(t *testing.T) {
	// largest of {8,16,32,64} dividing dim and <= dim/8
	assert.Equal(t, 64, subVectorsFor(1024))
	assert.Equal(t, 64, subVectorsFor(512))
	assert.Equal(t, 32, subVectorsFor(384)) // 64 exceeds 384/8 = 48
	assert.Equal(t, 16, subVectorsFor(128))
	assert.Equal(t, 8, subVectorsFor(64))
	assert.Equal(t, 8, subVectorsFor(100))
}

func TestCalculateSearchParams(t *testing.T) {
	sp := CalculateSearchParams(100, 50_000)
	assert.Equal(t, 10, sp.NProbes) // 10% of 100
	assert.Equal(t, 2, sp.RefineFactor)

	sp = CalculateSearchParams(16, 5_000)
	assert.Equal(t, 4, sp.NProbes) // clamped low

	sp = CalculateSearchParams(256, 200_000)
	assert.Equal(t, 13, sp.NProbes) // 5% of 256
	assert.Equal(t, 4, sp.RefineFactor)
}

func TestMilestoneFor(t *testing.T) {
	assert.Equal(t, 0, milestoneFor(999))
	assert.Equal(t, 1_000, milestoneFor(1_000))
	assert.Equal(t, 1_000, milestoneFor(9_999))
	assert.Equal(t, 10_000, milestoneFor(10_001))
	assert.Equal(t, 100_000, milestoneFor(100_001))
	assert.Equal(t, 1_000_000, milestoneFor(5_000_000))
}
