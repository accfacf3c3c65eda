// Package graph maintains the file-level knowledge graph: one node per
// indexed file with description, symbols and import/export lists, and
// structural plus import edges between files.
package graph

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/dshills/semcode/internal/chunker"
	"github.com/dshills/semcode/internal/embedder"
	"github.com/dshills/semcode/internal/language"
	"github.com/dshills/semcode/internal/storage"
	"github.com/dshills/semcode/pkg/types"
)

// Builder reconciles the graph after an indexing cycle.
type Builder struct {
	root       string
	store      *storage.Store
	registry   *language.Registry
	text       embedder.Provider
	llm        LLM // nil disables descriptions
	confidence float64
}

// New creates a Builder. llm may be nil; descriptions stay empty then.
func New(root string, store *storage.Store, registry *language.Registry, text embedder.Provider, llm LLM, confidenceThreshold float64) *Builder {
	if confidenceThreshold <= 0 {
		confidenceThreshold = 0.8
	}
	return &Builder{
		root:       root,
		store:      store,
		registry:   registry,
		text:       text,
		llm:        llm,
		confidence: confidenceThreshold,
	}
}

// Reconcile updates the graph for the changed file set and removes
// nodes for deleted files. Runs at the end of an indexing cycle.
func (b *Builder) Reconcile(ctx context.Context, changed map[string]bool, deleted []string) error {
	for _, p := range deleted {
		if err := b.store.DeleteNode(ctx, p); err != nil {
			return err
		}
	}
	if len(changed) == 0 {
		return nil
	}

	paths := make([]string, 0, len(changed))
	for p := range changed {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	descriptions := b.describe(ctx, paths)

	// known nodes for import resolution: everything already in the
	// graph plus this cycle's additions
	known, err := b.store.ListNodeIDs(ctx)
	if err != nil {
		return err
	}
	knownSet := make(map[string]bool, len(known)+len(paths))
	for _, id := range known {
		knownSet[id] = true
	}
	for _, p := range paths {
		knownSet[p] = true
	}

	aiEdges := b.discoverRelationships(ctx, paths, knownSet)

	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		node, err := b.buildNode(ctx, p, descriptions[p])
		if err != nil {
			logrus.WithError(err).WithField("path", p).Warn("graph node build failed")
			continue
		}
		if err := b.store.UpsertNode(ctx, node); err != nil {
			return err
		}
		edges := b.deriveEdges(node, knownSet)
		// a structural edge outranks a model-proposed duplicate
		have := map[string]bool{}
		for _, e := range edges {
			have[e.TargetID+"\x00"+string(e.Kind)] = true
		}
		for _, e := range aiEdges[p] {
			if !have[e.TargetID+"\x00"+string(e.Kind)] {
				edges = append(edges, e)
			}
		}
		if err := b.store.UpsertEdges(ctx, node.ID, edges); err != nil {
			return err
		}
	}
	return nil
}

// buildNode assembles one file's node from its blocks and adapter
// extraction.
func (b *Builder) buildNode(ctx context.Context, relPath, description string) (*types.GraphNode, error) {
	node := &types.GraphNode{ID: relPath, Description: description}

	// symbols: union of the file's block symbols
	symbolSet := map[string]bool{}
	for _, kind := range types.AllBlockKinds {
		blocks, err := b.store.BlocksByPath(ctx, kind, relPath)
		if err != nil {
			return nil, err
		}
		for _, blk := range blocks {
			node.Language = blk.Language
			for _, s := range blk.Symbols {
				symbolSet[s] = true
			}
		}
	}
	for s := range symbolSet {
		node.Symbols = append(node.Symbols, s)
	}
	sort.Strings(node.Symbols)

	// imports/exports via the language adapter
	lang := b.registry.ForPath(relPath)
	if lang != nil {
		src, err := os.ReadFile(filepath.Join(b.root, filepath.FromSlash(relPath)))
		if err != nil {
			return nil, err
		}
		if lang.Grammar() != nil {
			tree, terr := chunker.ParseTree(lang, src)
			if terr == nil && tree != nil {
				root := tree.RootNode()
				node.Imports = lang.ExtractImports(root, src)
				node.Exports = lang.ExtractExports(root, src)
				tree.Close()
			}
		} else {
			node.Imports = lang.ExtractImports(nil, src)
			node.Exports = lang.ExtractExports(nil, src)
		}
	}

	// the node embedding carries the description when one exists and
	// falls back to path + symbols so retrieval still has a vector
	embedText := node.Description
	if embedText == "" {
		embedText = relPath
		for _, s := range node.Symbols {
			embedText += "\n" + s
		}
	}
	vecs, err := b.text.Embed(ctx, []string{embedText}, embedder.InputDocument)
	if err != nil {
		return nil, err
	}
	node.Embedding = vecs[0]
	return node, nil
}

// deriveEdges computes the node's structural outgoing edges: resolved
// imports and path-layout relations, all weight and confidence 1.0.
// Model-derived edges come from discoverRelationships, which applies
// the confidence threshold to them.
func (b *Builder) deriveEdges(node *types.GraphNode, known map[string]bool) []types.GraphEdge {
	var edges []types.GraphEdge
	add := func(target string, kind types.EdgeKind) {
		if target == node.ID {
			return
		}
		edges = append(edges, types.GraphEdge{
			SourceID:   node.ID,
			TargetID:   target,
			Kind:       kind,
			Weight:     1.0,
			Confidence: 1.0,
		})
	}

	for _, imp := range node.Imports {
		if target, ok := resolveImport(node.ID, imp, known); ok {
			add(target, types.EdgeImports)
		}
	}

	dir := path.Dir(node.ID)
	parent := path.Dir(dir)
	for other := range known {
		if other == node.ID {
			continue
		}
		otherDir := path.Dir(other)
		switch {
		case otherDir == dir:
			add(other, types.EdgeSiblingModule)
		case dir != "." && otherDir == parent:
			add(other, types.EdgeParentModule)
		case path.Dir(otherDir) == dir:
			add(other, types.EdgeChildModule)
		}
	}
	return edges
}
