// Package memory is the persistent, searchable memory store: typed
// records with importance and tags, semantic recall over the same
// vector substrate the indexer uses, and housekeeping.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/oklog/ulid/v2"

	"github.com/dshills/semcode/internal/embedder"
	"github.com/dshills/semcode/internal/storage"
	"github.com/dshills/semcode/pkg/types"
)

var (
	// ErrConfirmationRequired guards ClearAll.
	ErrConfirmationRequired = errors.New("clear-all requires explicit confirmation")
	// ErrMemoryLimit is returned when max_memories is reached.
	ErrMemoryLimit = errors.New("memory limit reached")
)

// Recall tuning.
const (
	// cleanupThreshold: records below this importance are cleanup
	// candidates.
	cleanupThreshold = 0.3
	// cleanupAge: cleanup only touches records untouched this long.
	cleanupAge = 90 * 24 * time.Hour

	boostAlpha = 0.2
)

// Manager owns memory CRUD and recall.
type Manager struct {
	root        string
	store       *storage.Store
	text        embedder.Provider
	maxMemories int
}

// New creates a Manager. maxMemories <= 0 means unbounded.
func New(root string, store *storage.Store, text embedder.Provider, maxMemories int) *Manager {
	return &Manager{root: root, store: store, text: text, maxMemories: maxMemories}
}

// MemorizeInput is the caller-supplied part of a new record.
type MemorizeInput struct {
	Title        string
	Content      string
	MemoryType   types.MemoryType
	Importance   float64
	Tags         []string
	RelatedFiles []string
}

// Memorize stores a new memory: assigns an id and timestamps, captures
// the current git commit when the root is a repository, and embeds
// title + content with the text model.
func (m *Manager) Memorize(ctx context.Context, in MemorizeInput) (*types.Memory, error) {
	if m.maxMemories > 0 {
		n, err := m.store.CountMemories(ctx)
		if err != nil {
			return nil, err
		}
		if n >= m.maxMemories {
			return nil, fmt.Errorf("%w: %d records", ErrMemoryLimit, n)
		}
	}

	now := time.Now().Unix()
	rec := &types.Memory{
		ID:           ulid.Make().String(),
		Title:        in.Title,
		Content:      in.Content,
		MemoryType:   in.MemoryType,
		Importance:   in.Importance,
		Tags:         in.Tags,
		RelatedFiles: in.RelatedFiles,
		GitCommit:    m.currentCommit(),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if rec.MemoryType == "" {
		rec.MemoryType = types.MemoryInsight
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	vecs, err := m.text.Embed(ctx, []string{rec.EmbedText()}, embedder.InputDocument)
	if err != nil {
		return nil, err
	}
	rec.Embedding = vecs[0]

	if err := m.store.InsertMemory(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Update rewrites a record's mutable fields and refreshes its
// embedding and updated_at.
func (m *Manager) Update(ctx context.Context, id string, mutate func(*types.Memory)) (*types.Memory, error) {
	rec, err := m.store.GetMemory(ctx, id)
	if err != nil {
		return nil, err
	}
	mutate(rec)
	rec.UpdatedAt = time.Now().Unix()

	vecs, err := m.text.Embed(ctx, []string{rec.EmbedText()}, embedder.InputDocument)
	if err != nil {
		return nil, err
	}
	rec.Embedding = vecs[0]

	if err := m.store.UpdateMemory(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Forget deletes a record.
func (m *Manager) Forget(ctx context.Context, id string) error {
	return m.store.DeleteMemory(ctx, id)
}

// Get fetches one record.
func (m *Manager) Get(ctx context.Context, id string) (*types.Memory, error) {
	return m.store.GetMemory(ctx, id)
}

// List returns records matching a filter.
func (m *Manager) List(ctx context.Context, filter storage.MemoryFilter) ([]types.Memory, error) {
	return m.store.ListMemories(ctx, filter)
}

// ByType lists records of one type.
func (m *Manager) ByType(ctx context.Context, t types.MemoryType, limit int) ([]types.Memory, error) {
	return m.store.ListMemories(ctx, storage.MemoryFilter{Type: t, Limit: limit})
}

// ByTags lists records carrying any of the tags.
func (m *Manager) ByTags(ctx context.Context, tags []string, limit int) ([]types.Memory, error) {
	return m.store.ListMemories(ctx, storage.MemoryFilter{Tags: tags, Limit: limit})
}

// ForFiles lists records citing any of the paths.
func (m *Manager) ForFiles(ctx context.Context, paths []string, limit int) ([]types.Memory, error) {
	return m.store.ListMemories(ctx, storage.MemoryFilter{RelatedFiles: paths, Limit: limit})
}

// Recent lists the most recently updated records.
func (m *Manager) Recent(ctx context.Context, limit int) ([]types.Memory, error) {
	return m.store.ListMemories(ctx, storage.MemoryFilter{OrderRecent: true, Limit: limit})
}

// Relate links two memories.
func (m *Manager) Relate(ctx context.Context, sourceID, targetID string) error {
	if _, err := m.store.GetMemory(ctx, sourceID); err != nil {
		return err
	}
	if _, err := m.store.GetMemory(ctx, targetID); err != nil {
		return err
	}
	return m.store.LinkMemories(ctx, sourceID, targetID)
}

// Stats summarizes stored memories.
func (m *Manager) Stats(ctx context.Context) (storage.MemoryStats, error) {
	return m.store.MemoryStats(ctx)
}

// Cleanup removes low-importance records whose updated_at is older
// than the configured age. Returns the number removed.
func (m *Manager) Cleanup(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-cleanupAge).Unix()
	return m.store.CleanupMemories(ctx, cleanupThreshold, cutoff)
}

// ClearAll wipes every memory. confirm must be true.
func (m *Manager) ClearAll(ctx context.Context, confirm bool) error {
	if !confirm {
		return ErrConfirmationRequired
	}
	return m.store.ClearMemories(ctx)
}

// RecallResult is one recall hit.
type RecallResult struct {
	Memory     types.Memory
	Similarity float64 // best single-query similarity
	Score      float64 // combined score × importance weighting
	QueryHits  int
}

// RememberFilters narrow recall candidates after scoring.
type RememberFilters struct {
	Type types.MemoryType
	Tags []string
}

// Remember runs the multi-query recall: per query KNN over memories,
// dedup with the bounded boost, then an importance multiplier
// combined · (0.5 + 0.5·importance).
func (m *Manager) Remember(ctx context.Context, queries []string, filters RememberFilters, limit int, minRelevance float64) ([]RecallResult, error) {
	if len(queries) == 0 {
		return nil, types.ErrBlankQuery
	}
	if len(queries) > 5 {
		return nil, types.ErrTooManyQueries
	}
	for _, q := range queries {
		if strings.TrimSpace(q) == "" {
			return nil, types.ErrBlankQuery
		}
	}
	if minRelevance < 0 || minRelevance > 1 {
		return nil, types.ErrThresholdOutOfRange
	}
	if limit <= 0 {
		limit = 5
	}

	type hit struct {
		mem    types.Memory
		maxSim float64
		count  int
	}
	hits := map[string]*hit{}
	k := limit * max(2, len(queries))

	for _, q := range queries {
		vecs, err := m.text.Embed(ctx, []string{q}, embedder.InputQuery)
		if err != nil {
			return nil, err
		}
		results, err := m.store.MemoryKNN(ctx, vecs[0], k)
		if err != nil {
			return nil, err
		}
		for _, r := range results {
			h, ok := hits[r.Memory.ID]
			if !ok {
				h = &hit{mem: r.Memory}
				hits[r.Memory.ID] = h
			}
			if r.Similarity > h.maxSim {
				h.maxSim = r.Similarity
			}
			h.count++
		}
	}

	var out []RecallResult
	for _, h := range hits {
		if h.maxSim < minRelevance {
			continue
		}
		if filters.Type != "" && h.mem.MemoryType != filters.Type {
			continue
		}
		if len(filters.Tags) > 0 && !hasAnyTag(h.mem.Tags, filters.Tags) {
			continue
		}
		combined := h.maxSim + boostAlpha*float64(h.count-1)*(1-h.maxSim)
		out = append(out, RecallResult{
			Memory:     h.mem,
			Similarity: h.maxSim,
			Score:      combined * (0.5 + 0.5*h.mem.Importance),
			QueryHits:  h.count,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Memory.ID < out[j].Memory.ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func hasAnyTag(have, want []string) bool {
	set := map[string]bool{}
	for _, t := range have {
		set[t] = true
	}
	for _, t := range want {
		if set[t] {
			return true
		}
	}
	return false
}

// currentCommit captures HEAD when the root is a git repository,
// otherwise "".
func (m *Manager) currentCommit() string {
	repo, err := git.PlainOpenWithOptions(m.root, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return ""
	}
	ref, err := repo.Head()
	if err != nil {
		return ""
	}
	return ref.Hash().String()
}
