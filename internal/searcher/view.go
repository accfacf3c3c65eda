package searcher

import (
	"context"
	"path"
	"sort"

	"github.com/dshills/semcode/pkg/types"
)

// View renders the indexed blocks of every file matching the glob, in
// path and line order. It reads only committed index state; files never
// indexed produce nothing.
func (s *Searcher) View(ctx context.Context, glob string, opts RenderOptions) (string, error) {
	snapshot, err := s.store.Snapshot(ctx)
	if err != nil {
		return "", err
	}

	var paths []string
	for p := range snapshot {
		ok, merr := path.Match(glob, p)
		if merr != nil {
			return "", merr
		}
		if ok || glob == p {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)

	var results []types.SearchResult
	for _, p := range paths {
		for _, kind := range types.AllBlockKinds {
			blocks, berr := s.store.BlocksByPath(ctx, kind, p)
			if berr != nil {
				return "", berr
			}
			for _, b := range blocks {
				results = append(results, types.SearchResult{Block: b, Score: 1, Similarity: 1})
			}
		}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Block.Path != results[j].Block.Path {
			return results[i].Block.Path < results[j].Block.Path
		}
		return results[i].Block.StartLine < results[j].Block.StartLine
	})
	return Render(results, opts)
}
