package indexer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/semcode/internal/embedder"
	"github.com/dshills/semcode/pkg/types"
)

// fakeSink records StoreBlocks calls.
type fakeSink struct {
	batches [][]types.Block
	flushes int
}

func (f *fakeSink) StoreBlocks(_ context.Context, _ types.BlockKind, blocks []types.Block, embeddings [][]float32) (int, error) {
	if len(blocks) != len(embeddings) {
		return 0, errors.New("shape mismatch")
	}
	f.batches = append(f.batches, blocks)
	return len(blocks), nil
}

func (f *fakeSink) Flush(_ context.Context) error {
	f.flushes++
	return nil
}

// fakeProvider embeds deterministically and can be told to fail.
type fakeProvider struct {
	fail  bool
	calls int
}

func (f *fakeProvider) Embed(_ context.Context, texts []string, _ embedder.InputType) ([][]float32, error) {
	f.calls++
	if f.fail {
		return nil, errors.New("provider down")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (f *fakeProvider) Dim() int                 { return 2 }
func (f *fakeProvider) ModelID() string          { return "fake:fake" }
func (f *fakeProvider) MaxTokensPerRequest() int { return 1 << 20 }
func (f *fakeProvider) Close() error             { return nil }

func blockWithContent(path string, line int, content string) types.Block {
	b := types.Block{
		Kind: types.KindCode, Path: path, Language: "go",
		StartLine: line, EndLine: line, Content: content,
	}
	b.SealID()
	return b
}

func TestBatcherCountBudget(t *testing.T) {
	sink := &fakeSink{}
	provider := &fakeProvider{}
	b := newBatcher(sink, func(types.BlockKind) embedder.Provider { return provider }, 4, 1_000_000)

	ctx := context.Background()
	for i := 0; i < 9; i++ {
		require.NoError(t, b.Add(ctx, blockWithContent("f.go", i+1, "func X() {}")))
	}
	require.NoError(t, b.FlushAll(ctx))

	// 9 blocks at count budget 4: two full batches plus the remainder
	require.Len(t, sink.batches, 3)
	assert.Len(t, sink.batches[0], 4)
	assert.Len(t, sink.batches[1], 4)
	assert.Len(t, sink.batches[2], 1)
}

func TestBatcherTokenBudget(t *testing.T) {
	sink := &fakeSink{}
	provider := &fakeProvider{}
	// token budget 100; each block is ~200 bytes = ~50 tokens
	b := newBatcher(sink, func(types.BlockKind) embedder.Provider { return provider }, 100, 100)

	ctx := context.Background()
	content := string(make([]byte, 200))
	for i := 0; i < 4; i++ {
		require.NoError(t, b.Add(ctx, blockWithContent("f.go", i+1, content)))
	}
	require.NoError(t, b.FlushAll(ctx))

	// no batch may exceed the token budget
	for _, batch := range sink.batches {
		total := 0
		for _, blk := range batch {
			total += blk.EstimateTokens()
		}
		assert.LessOrEqual(t, total, 100)
	}
	assert.GreaterOrEqual(t, len(sink.batches), 2)
}

func TestBatcherDurableFlushEveryTwoBatches(t *testing.T) {
	sink := &fakeSink{}
	provider := &fakeProvider{}
	b := newBatcher(sink, func(types.BlockKind) embedder.Provider { return provider }, 2, 1_000_000)

	ctx := context.Background()
	for i := 0; i < 8; i++ {
		require.NoError(t, b.Add(ctx, blockWithContent("f.go", i+1, "func X() {}")))
	}
	// 4 batches of 2: durable flush after batches 2 and 4
	assert.Equal(t, 4, len(sink.batches))
	assert.Equal(t, 2, sink.flushes)
}

func TestBatcherEmbeddingFailureSkipsBatch(t *testing.T) {
	sink := &fakeSink{}
	provider := &fakeProvider{fail: true}
	b := newBatcher(sink, func(types.BlockKind) embedder.Provider { return provider }, 2, 1_000_000)

	ctx := context.Background()
	require.NoError(t, b.Add(ctx, blockWithContent("bad.go", 1, "func X() {}")))
	require.NoError(t, b.Add(ctx, blockWithContent("bad.go", 2, "func Y() {}")))
	require.NoError(t, b.FlushAll(ctx))

	assert.Empty(t, sink.batches, "failed batch must not half-write")
	assert.True(t, b.failedPaths["bad.go"])
	assert.Equal(t, 0, b.blocksStored)
}

func TestBatcherKindsSeparate(t *testing.T) {
	sink := &fakeSink{}
	provider := &fakeProvider{}
	b := newBatcher(sink, func(types.BlockKind) embedder.Provider { return provider }, 10, 1_000_000)

	ctx := context.Background()
	code := blockWithContent("a.go", 1, "func X() {}")
	doc := types.Block{Kind: types.KindDoc, Path: "a.md", StartLine: 1, EndLine: 1, Content: "# x"}
	doc.SealID()

	require.NoError(t, b.Add(ctx, code))
	require.NoError(t, b.Add(ctx, doc))
	require.NoError(t, b.FlushAll(ctx))

	require.Len(t, sink.batches, 2)
	assert.NotEqual(t, sink.batches[0][0].Kind, sink.batches[1][0].Kind)
}
