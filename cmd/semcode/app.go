package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/dshills/semcode/internal/chunker"
	"github.com/dshills/semcode/internal/config"
	"github.com/dshills/semcode/internal/embedder"
	"github.com/dshills/semcode/internal/graph"
	"github.com/dshills/semcode/internal/indexer"
	"github.com/dshills/semcode/internal/language"
	"github.com/dshills/semcode/internal/memory"
	"github.com/dshills/semcode/internal/searcher"
	"github.com/dshills/semcode/internal/storage"
)

// app wires the core components for one invocation. The CLI is a thin
// wrapper; everything of substance lives in internal/.
type app struct {
	root     string
	stateDir string
	cfg      *config.Config
	store    *storage.Store
	registry *language.Registry
	chunker  *chunker.Chunker
	code     embedder.Provider
	text     embedder.Provider
}

func newApp() (*app, error) {
	root, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	root, err = filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(config.DefaultPath(root))
	if err != nil {
		return nil, err
	}

	stateDir := config.StateDir(root)
	store, err := storage.Open(stateDir)
	if err != nil {
		return nil, err
	}

	code, err := buildProvider(cfg, cfg.Embedding.CodeModel)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	text, err := buildProvider(cfg, cfg.Embedding.TextModel)
	if err != nil {
		_ = store.Close()
		_ = code.Close()
		return nil, err
	}

	registry := language.NewRegistry()
	return &app{
		root:     root,
		stateDir: stateDir,
		cfg:      cfg,
		store:    store,
		registry: registry,
		chunker:  chunker.New(registry, cfg.Index.ChunkSize, cfg.Index.ChunkOverlap),
		code:     code,
		text:     text,
	}, nil
}

func buildProvider(cfg *config.Config, modelSpec string) (embedder.Provider, error) {
	spec, err := embedder.ParseSpec(modelSpec)
	if err != nil {
		return nil, err
	}
	return embedder.New(embedder.Config{
		ModelSpec: modelSpec,
		APIKey:    cfg.APIKey(spec.Provider),
		CacheSize: 10000,
	})
}

func (a *app) close() {
	_ = a.code.Close()
	_ = a.text.Close()
	_ = a.store.Close()
}

func (a *app) indexer() *indexer.Indexer {
	idx := indexer.New(a.root, a.stateDir, a.store, a.chunker, a.code, a.text, a.cfg)
	if a.cfg.Index.GraphRAGEnabled {
		idx.SetGraphBuilder(a.graphBuilder())
	}
	return idx
}

func (a *app) graphBuilder() *graph.Builder {
	var llm graph.LLM
	if a.cfg.GraphRAG.UseLLM {
		llm = graph.NewLLMFromEnv(a.cfg.APIKey("openai"))
		if llm == nil {
			logrus.Warn("graphrag.use_llm is set but no completion credentials found; building structural edges only")
		}
	}
	return graph.New(a.root, a.store, a.registry, a.text, llm, a.cfg.GraphRAG.ConfidenceThreshold)
}

func (a *app) searcher() *searcher.Searcher {
	return searcher.New(a.store, a.code, a.text)
}

func (a *app) memory() (*memory.Manager, error) {
	if !a.cfg.Memory.Enabled {
		return nil, fmt.Errorf("memory subsystem is disabled in configuration")
	}
	return memory.New(a.root, a.store, a.text, a.cfg.Memory.MaxMemories), nil
}
