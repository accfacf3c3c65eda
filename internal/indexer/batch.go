package indexer

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/dshills/semcode/internal/embedder"
	"github.com/dshills/semcode/pkg/types"
)

// flushesPerDurable forces a store flush every N embedding batches,
// bounding the data-at-risk window.
const flushesPerDurable = 2

// batcher accumulates blocks per kind and flushes them through the
// embedding provider into the store when either the count budget or
// the token budget trips.
type batcher struct {
	store       blockSink
	providerFor func(kind types.BlockKind) embedder.Provider
	batchSize   int
	maxTokens   int

	pending map[types.BlockKind][]types.Block
	tokens  map[types.BlockKind]int
	flushes int

	// paths whose blocks were dropped by a failed embedding batch;
	// their file rows must not be updated this cycle
	failedPaths map[string]bool

	blocksStored int
}

// blockSink is the slice of the store the batcher needs.
type blockSink interface {
	StoreBlocks(ctx context.Context, kind types.BlockKind, blocks []types.Block, embeddings [][]float32) (int, error)
	Flush(ctx context.Context) error
}

func newBatcher(store blockSink, providerFor func(types.BlockKind) embedder.Provider, batchSize, maxTokens int) *batcher {
	return &batcher{
		store:       store,
		providerFor: providerFor,
		batchSize:   batchSize,
		maxTokens:   maxTokens,
		pending:     map[types.BlockKind][]types.Block{},
		tokens:      map[types.BlockKind]int{},
		failedPaths: map[string]bool{},
	}
}

// Add queues one block, flushing first if the addition would burst the
// token budget and after if either budget is reached.
func (b *batcher) Add(ctx context.Context, block types.Block) error {
	kind := block.Kind
	cost := block.EstimateTokens()

	if len(b.pending[kind]) > 0 && b.tokens[kind]+cost > b.maxTokens {
		if err := b.flushKind(ctx, kind); err != nil {
			return err
		}
	}

	b.pending[kind] = append(b.pending[kind], block)
	b.tokens[kind] += cost

	if len(b.pending[kind]) >= b.batchSize || b.tokens[kind] >= b.maxTokens {
		return b.flushKind(ctx, kind)
	}
	return nil
}

// FlushAll drains every pending batch.
func (b *batcher) FlushAll(ctx context.Context) error {
	for _, kind := range types.AllBlockKinds {
		if len(b.pending[kind]) == 0 {
			continue
		}
		if err := b.flushKind(ctx, kind); err != nil {
			return err
		}
	}
	return nil
}

// flushKind embeds and stores one kind's pending batch. An embedding
// failure skips the batch (the affected files keep their prior rows);
// a store failure is fatal for the cycle.
func (b *batcher) flushKind(ctx context.Context, kind types.BlockKind) error {
	blocks := b.pending[kind]
	if len(blocks) == 0 {
		return nil
	}
	b.pending[kind] = nil
	b.tokens[kind] = 0

	texts := make([]string, len(blocks))
	for i, blk := range blocks {
		texts[i] = blk.Content
	}

	provider := b.providerFor(kind)
	vectors, err := provider.Embed(ctx, texts, embedder.InputDocument)
	if err != nil {
		for _, blk := range blocks {
			b.failedPaths[blk.Path] = true
		}
		logrus.WithError(err).WithFields(logrus.Fields{
			"kind":   string(kind),
			"blocks": len(blocks),
		}).Warn("embedding batch failed, skipping")
		return nil
	}

	stored, err := b.store.StoreBlocks(ctx, kind, blocks, vectors)
	if err != nil {
		return err // store write failures are fatal for the cycle
	}
	b.blocksStored += stored

	b.flushes++
	if b.flushes%flushesPerDurable == 0 {
		if err := b.store.Flush(ctx); err != nil {
			return err
		}
	}
	return nil
}
