// Package indexer orchestrates the incremental pipeline: enumerate →
// change-detect → parse+chunk → embed in batches → persist, with
// git-aware skipping and differential replacement per file.
package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/semcode/internal/chunker"
	"github.com/dshills/semcode/internal/config"
	"github.com/dshills/semcode/internal/embedder"
	"github.com/dshills/semcode/internal/storage"
	"github.com/dshills/semcode/internal/walker"
	"github.com/dshills/semcode/pkg/types"
)

// GraphReconciler is invoked at the end of a cycle with the changed
// path set. The GraphRAG builder satisfies it.
type GraphReconciler interface {
	Reconcile(ctx context.Context, changed map[string]bool, deleted []string) error
}

// Indexer coordinates the pipeline over one root.
type Indexer struct {
	root     string
	stateDir string
	store    *storage.Store
	chunker  *chunker.Chunker
	code     embedder.Provider
	text     embedder.Provider
	cfg      *config.Config
	graph    GraphReconciler
	workers  int
}

// Options tune one invocation.
type Options struct {
	Reindex bool     // force full enumeration
	NoGit   bool     // skip VCS change detection
	Hint    []string // changed-path hint from the watch supervisor
}

// Statistics summarizes one cycle.
type Statistics struct {
	FilesIndexed  int
	FilesSkipped  int
	FilesFailed   int
	FilesDeleted  int
	BlocksCreated int
	Duration      time.Duration
}

// New builds an Indexer.
func New(root, stateDir string, store *storage.Store, ch *chunker.Chunker, code, text embedder.Provider, cfg *config.Config) *Indexer {
	return &Indexer{
		root:     root,
		stateDir: stateDir,
		store:    store,
		chunker:  ch,
		code:     code,
		text:     text,
		cfg:      cfg,
		workers:  runtime.NumCPU(),
	}
}

// SetGraphBuilder wires the optional GraphRAG reconciler.
func (idx *Indexer) SetGraphBuilder(g GraphReconciler) { idx.graph = g }

func (idx *Indexer) providerFor(kind types.BlockKind) embedder.Provider {
	if kind == types.KindCode {
		return idx.code
	}
	return idx.text
}

// fileResult is the parallel stage's output for one candidate path.
type fileResult struct {
	relPath  string
	language string
	hash     string
	modTime  int64
	blocks   []types.Block
	skipped  bool
	err      error
}

// Run executes one indexing cycle. Exactly one cycle runs per root;
// a concurrent invocation from another process fails with
// storage.ErrLocked.
func (idx *Indexer) Run(ctx context.Context, opts Options) (*Statistics, error) {
	start := time.Now()
	stats := &Statistics{}

	lock, err := storage.AcquireLock(idx.stateDir)
	if err != nil {
		return nil, err
	}
	defer func() { _ = lock.Release() }()

	st, err := LoadState(idx.stateDir)
	if err != nil {
		return nil, err
	}
	snapshot, err := idx.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	repo, head, err := idx.openVCS(opts)
	if err != nil {
		return nil, err
	}

	candidates, deletions, err := idx.collectWork(opts, st, snapshot, repo, head)
	if err != nil {
		return nil, err
	}

	for _, path := range deletions {
		if err := idx.store.DeleteByPath(ctx, path); err != nil {
			return nil, fmt.Errorf("delete %s: %w", path, err)
		}
		stats.FilesDeleted++
	}

	results := make(chan fileResult, idx.workers*2)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.workers)

	go func() {
		for _, rel := range candidates {
			rel := rel
			g.Go(func() error {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}
				results <- idx.processFile(rel, snapshot)
				return nil
			})
		}
		_ = g.Wait()
		close(results)
	}()

	b := newBatcher(idx.store, idx.providerFor, idx.cfg.Index.EmbeddingsBatchSize, idx.cfg.Index.MaxBatchTokens)
	changed := map[string]bool{}
	var records []types.FileRecord

	for res := range results {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		switch {
		case res.err != nil:
			// parse or read failure: keep the file's prior blocks
			logrus.WithError(res.err).WithField("path", res.relPath).Warn("skipping file")
			stats.FilesFailed++
			continue
		case res.skipped:
			stats.FilesSkipped++
			continue
		}

		// differential replacement: old blocks go before new ones land
		for _, kind := range types.AllBlockKinds {
			if err := idx.store.DeleteBlocksByPath(ctx, kind, res.relPath); err != nil {
				return nil, err
			}
		}
		for _, blk := range res.blocks {
			if err := b.Add(ctx, blk); err != nil {
				return nil, err
			}
		}
		changed[res.relPath] = true
		records = append(records, types.FileRecord{
			Path:         res.relPath,
			Language:     res.language,
			ContentHash:  res.hash,
			LastModified: res.modTime,
			LastCommit:   head,
		})
		stats.FilesIndexed++
	}
	if err := g.Wait(); err != nil && err != context.Canceled {
		return nil, err
	}

	if err := b.FlushAll(ctx); err != nil {
		return nil, err
	}
	stats.BlocksCreated = b.blocksStored

	// file rows only for files whose batches all made it in
	for _, rec := range records {
		if b.failedPaths[rec.Path] {
			stats.FilesFailed++
			stats.FilesIndexed--
			delete(changed, rec.Path)
			continue
		}
		if err := idx.store.UpsertFile(ctx, &rec); err != nil {
			return nil, err
		}
	}
	if err := idx.store.Flush(ctx); err != nil {
		return nil, err
	}

	if idx.cfg.Index.GraphRAGEnabled && idx.graph != nil {
		if err := idx.graph.Reconcile(ctx, changed, deletions); err != nil {
			// graph failures are non-fatal; structural data refreshes
			// on the next cycle
			logrus.WithError(err).Warn("graph reconcile failed")
		}
	}

	if head != "" {
		st.LastIndexedCommit = head
		if err := SaveState(idx.stateDir, st); err != nil {
			return nil, err
		}
	}

	stats.Duration = time.Since(start)
	logrus.WithFields(logrus.Fields{
		"indexed": stats.FilesIndexed,
		"skipped": stats.FilesSkipped,
		"deleted": stats.FilesDeleted,
		"failed":  stats.FilesFailed,
		"blocks":  stats.BlocksCreated,
		"elapsed": stats.Duration.String(),
	}).Info("index cycle complete")
	return stats, nil
}

// openVCS resolves the repository and HEAD per the require_git policy.
func (idx *Indexer) openVCS(opts Options) (repo *git.Repository, head string, err error) {
	if opts.NoGit {
		return nil, "", nil
	}
	r, rerr := openRepo(idx.root)
	if rerr != nil {
		if rerr == ErrNotARepository {
			if idx.cfg.Index.RequireGit {
				return nil, "", fmt.Errorf("%w: pass --no-git to index anyway", ErrNotARepository)
			}
			return nil, "", nil
		}
		return nil, "", rerr
	}
	h, herr := headCommit(r)
	if herr != nil {
		return nil, "", herr
	}
	return r, h, nil
}

// collectWork picks the candidate and deletion sets, from the git diff
// when possible and a full walk otherwise.
func (idx *Indexer) collectWork(opts Options, st State, snapshot map[string]types.FileRecord, repo *git.Repository, head string) (candidates, deletions []string, err error) {
	ig, err := walker.NewIgnorer(idx.root, walker.Options{})
	if err != nil {
		return nil, nil, err
	}

	useDiff := repo != nil && st.LastIndexedCommit != "" && head != "" && !opts.Reindex
	if useDiff {
		if head == st.LastIndexedCommit {
			// nothing moved commit-wise; hints still process
			return idx.applyHint(opts.Hint, ig, snapshot)
		}
		changes, derr := changedPaths(repo, st.LastIndexedCommit, head)
		if derr != nil {
			logrus.WithError(derr).Warn("git diff failed, falling back to full enumeration")
		} else {
			seen := map[string]bool{}
			for path, kind := range changes {
				if kind == ChangeDeleted {
					if _, ok := snapshot[path]; ok {
						deletions = append(deletions, path)
					}
					continue
				}
				if ig.Ignored(path, false) || seen[path] {
					continue
				}
				seen[path] = true
				candidates = append(candidates, path)
			}
			hintC, hintD, herr := idx.applyHint(opts.Hint, ig, snapshot)
			if herr != nil {
				return nil, nil, herr
			}
			for _, c := range hintC {
				if !seen[c] {
					seen[c] = true
					candidates = append(candidates, c)
				}
			}
			deletions = append(deletions, hintD...)
			sort.Strings(candidates)
			sort.Strings(deletions)
			return candidates, deletions, nil
		}
	}

	entries, err := walker.Walk(idx.root, walker.Options{})
	if err != nil {
		return nil, nil, err
	}
	present := make(map[string]bool, len(entries))
	for _, e := range entries {
		present[e.RelPath] = true
		candidates = append(candidates, e.RelPath)
	}
	for path := range snapshot {
		if !present[path] {
			deletions = append(deletions, path)
		}
	}
	sort.Strings(candidates)
	sort.Strings(deletions)
	return candidates, deletions, nil
}

// applyHint turns watcher-supplied paths into candidates/deletions.
func (idx *Indexer) applyHint(hint []string, ig *walker.Ignorer, snapshot map[string]types.FileRecord) (candidates, deletions []string, err error) {
	for _, rel := range hint {
		abs := filepath.Join(idx.root, filepath.FromSlash(rel))
		info, serr := walker.Stat(abs)
		if serr != nil {
			return nil, nil, serr
		}
		if info == nil {
			if _, ok := snapshot[rel]; ok {
				deletions = append(deletions, rel)
			}
			continue
		}
		if info.IsDir() || ig.Ignored(rel, false) || info.Size() > ig.MaxFileSize() {
			continue
		}
		candidates = append(candidates, rel)
	}
	sort.Strings(candidates)
	sort.Strings(deletions)
	return candidates, deletions, nil
}

// processFile hashes, change-detects and chunks one candidate.
func (idx *Indexer) processFile(rel string, snapshot map[string]types.FileRecord) fileResult {
	res := fileResult{relPath: rel}
	abs := filepath.Join(idx.root, filepath.FromSlash(rel))

	info, err := os.Stat(abs)
	if err != nil {
		res.err = err
		return res
	}
	res.modTime = info.ModTime().Unix()

	data, err := os.ReadFile(abs)
	if err != nil {
		res.err = err
		return res
	}
	sum := sha256.Sum256(data)
	res.hash = hex.EncodeToString(sum[:])

	if prior, ok := snapshot[rel]; ok &&
		prior.ContentHash == res.hash && prior.LastModified == res.modTime {
		res.skipped = true
		return res
	}

	blocks, lang, err := idx.chunker.ChunkFile(rel, data)
	if err != nil {
		res.err = err
		return res
	}
	res.language = lang
	res.blocks = blocks
	return res
}
