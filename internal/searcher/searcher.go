// Package searcher answers natural-language queries over the vector
// store: multi-query retrieval with deduplication and a bounded
// relevance boost, mode filtering, and detail-level rendering.
package searcher

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dshills/semcode/internal/embedder"
	"github.com/dshills/semcode/internal/storage"
	"github.com/dshills/semcode/pkg/types"
)

const (
	// MaxQueries caps how many queries one search may carry.
	MaxQueries = 5
	// MaxResultsCap bounds max_results.
	MaxResultsCap = 20
	// DefaultMaxResults applies when the request leaves it zero.
	DefaultMaxResults = 3

	// boostAlpha scales the multi-query boost; the combined score
	// max + α·(count−1)·(1−max) never exceeds 1.
	boostAlpha = 0.2

	// expansionCap bounds symbol-expansion blocks per result.
	expansionCap = 3
)

// Request describes one search.
type Request struct {
	Queries       []string
	Mode          types.SearchMode
	Detail        types.DetailLevel
	MaxResults    int
	Threshold     float64 // minimum similarity
	ExpandSymbols bool
}

// Response carries ranked results.
type Response struct {
	Results  []types.SearchResult
	Duration time.Duration
}

// Searcher coordinates retrieval across the kind tables.
type Searcher struct {
	store *storage.Store
	code  embedder.Provider
	text  embedder.Provider
}

// New creates a Searcher over the store and the two providers.
func New(store *storage.Store, code, text embedder.Provider) *Searcher {
	return &Searcher{store: store, code: code, text: text}
}

func (s *Searcher) providerFor(kind types.BlockKind) embedder.Provider {
	if kind == types.KindCode {
		return s.code
	}
	return s.text
}

// validate rejects malformed requests synchronously.
func (s *Searcher) validate(req *Request) error {
	if len(req.Queries) == 0 {
		return types.ErrBlankQuery
	}
	if len(req.Queries) > MaxQueries {
		return types.ErrTooManyQueries
	}
	for _, q := range req.Queries {
		if strings.TrimSpace(q) == "" {
			return types.ErrBlankQuery
		}
	}
	if req.Threshold < 0 || req.Threshold > 1 {
		return types.ErrThresholdOutOfRange
	}
	if req.Mode == "" {
		req.Mode = types.ModeAll
	}
	if !req.Mode.Valid() {
		return types.ErrInvalidMode
	}
	if req.Detail == "" {
		req.Detail = types.DetailPartial
	}
	if !req.Detail.Valid() {
		return types.ErrInvalidDetailLevel
	}
	if req.MaxResults <= 0 {
		req.MaxResults = DefaultMaxResults
	}
	if req.MaxResults > MaxResultsCap {
		req.MaxResults = MaxResultsCap
	}
	return nil
}

// hit accumulates per-block state across queries.
type hit struct {
	block  types.Block
	maxSim float64
	count  int
}

// Search runs the multi-query algorithm and returns the ranked top N.
func (s *Searcher) Search(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	if err := s.validate(&req); err != nil {
		return nil, fmt.Errorf("invalid search request: %w", err)
	}

	kinds := req.Mode.Kinds()
	k := req.MaxResults * max(2, len(req.Queries))

	// one embedding per (query, provider); doc and text share the text
	// provider so the vector is computed once
	type qvecKey struct {
		query   string
		modelID string
	}
	vecs := map[qvecKey][]float32{}
	embedFor := func(query string, kind types.BlockKind) ([]float32, error) {
		p := s.providerFor(kind)
		key := qvecKey{query: query, modelID: p.ModelID()}
		if v, ok := vecs[key]; ok {
			return v, nil
		}
		out, err := p.Embed(ctx, []string{query}, embedder.InputQuery)
		if err != nil {
			return nil, err
		}
		vecs[key] = out[0]
		return out[0], nil
	}

	hits := map[string]*hit{}
	for _, query := range req.Queries {
		for _, kind := range kinds {
			vec, err := embedFor(query, kind)
			if err != nil {
				return nil, fmt.Errorf("failed to embed query: %w", err)
			}
			results, err := s.store.KNN(ctx, kind, vec, k, nil)
			if err != nil {
				return nil, err
			}
			seenThisQuery := map[string]bool{}
			for _, r := range results {
				h, ok := hits[r.Block.ID]
				if !ok {
					h = &hit{block: r.Block}
					hits[r.Block.ID] = h
				}
				if r.Similarity > h.maxSim {
					h.maxSim = r.Similarity
				}
				if !seenThisQuery[r.Block.ID] {
					seenThisQuery[r.Block.ID] = true
					h.count++
				}
			}
		}
	}

	ranked := make([]types.SearchResult, 0, len(hits))
	for _, h := range hits {
		score := h.maxSim + boostAlpha*float64(h.count-1)*(1-h.maxSim)
		if h.maxSim < req.Threshold {
			continue
		}
		ranked = append(ranked, types.SearchResult{
			Block:      h.block,
			Similarity: h.maxSim,
			Score:      score,
			QueryHits:  h.count,
		})
	}

	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if ap, bp := a.Block.Kind.Priority(), b.Block.Kind.Priority(); ap != bp {
			return ap < bp
		}
		if a.Block.Path != b.Block.Path {
			return a.Block.Path < b.Block.Path
		}
		return a.Block.StartLine < b.Block.StartLine
	})
	if len(ranked) > req.MaxResults {
		ranked = ranked[:req.MaxResults]
	}

	if req.ExpandSymbols {
		for i := range ranked {
			related, err := s.expandSymbols(ctx, &ranked[i].Block)
			if err != nil {
				return nil, err
			}
			ranked[i].Related = related
		}
	}

	return &Response{Results: ranked, Duration: time.Since(start)}, nil
}

// expandSymbols collects same-file blocks whose symbols intersect the
// result's symbols, up to expansionCap.
func (s *Searcher) expandSymbols(ctx context.Context, block *types.Block) ([]types.Block, error) {
	if len(block.Symbols) == 0 {
		return nil, nil
	}
	want := map[string]bool{}
	for _, sym := range block.Symbols {
		want[sym] = true
	}
	siblings, err := s.store.BlocksByPath(ctx, block.Kind, block.Path)
	if err != nil {
		return nil, err
	}
	var related []types.Block
	for _, sib := range siblings {
		if sib.ID == block.ID {
			continue
		}
		for _, sym := range sib.Symbols {
			if want[sym] {
				related = append(related, sib)
				break
			}
		}
		if len(related) >= expansionCap {
			break
		}
	}
	return related, nil
}
