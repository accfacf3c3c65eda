// Package config loads and validates semcode configuration.
//
// Configuration is TOML. Unknown keys are rejected rather than ignored;
// the shipped template (Template) lists every recognized key. Provider
// API keys may come from the environment, where <PROVIDER>_API_KEY
// takes precedence over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Common errors.
var (
	ErrUnknownKey = errors.New("unknown configuration key")
	ErrInvalid    = errors.New("invalid configuration")
)

// Config is the full recognized option set.
type Config struct {
	Embedding EmbeddingConfig `toml:"embedding"`
	Index     IndexConfig     `toml:"index"`
	Search    SearchConfig    `toml:"search"`
	GraphRAG  GraphRAGConfig  `toml:"graphrag"`
	Memory    MemoryConfig    `toml:"memory"`
	Watch     WatchConfig     `toml:"watch"`
}

// EmbeddingConfig selects the two embedding models and their credentials.
type EmbeddingConfig struct {
	CodeModel string                    `toml:"code_model"`
	TextModel string                    `toml:"text_model"`
	Providers map[string]ProviderConfig `toml:"-"`
}

// ProviderConfig carries per-provider credentials.
type ProviderConfig struct {
	APIKey string `toml:"api_key"`
}

// IndexConfig tunes the indexing pipeline.
type IndexConfig struct {
	ChunkSize           int  `toml:"chunk_size"`
	ChunkOverlap        int  `toml:"chunk_overlap"`
	EmbeddingsBatchSize int  `toml:"embeddings_batch_size"`
	MaxBatchTokens      int  `toml:"max_batch_tokens"`
	RequireGit          bool `toml:"require_git"`
	GraphRAGEnabled     bool `toml:"graphrag_enabled"`
}

// SearchConfig tunes retrieval defaults.
type SearchConfig struct {
	MaxResults          int     `toml:"max_results"`
	SimilarityThreshold float64 `toml:"similarity_threshold"`
	OutputFormat        string  `toml:"output_format"`
}

// GraphRAGConfig tunes the knowledge-graph builder.
type GraphRAGConfig struct {
	UseLLM              bool    `toml:"use_llm"`
	ConfidenceThreshold float64 `toml:"confidence_threshold"`
}

// MemoryConfig tunes the memory subsystem.
type MemoryConfig struct {
	Enabled     bool `toml:"enabled"`
	MaxMemories int  `toml:"max_memories"`
}

// WatchConfig tunes the watch supervisor debounce.
type WatchConfig struct {
	DebounceSeconds   int `toml:"debounce_seconds"`
	AdditionalDelayMS int `toml:"additional_delay_ms"`
}

// Default returns the configuration the template ships with.
func Default() *Config {
	return &Config{
		Embedding: EmbeddingConfig{
			CodeModel: "voyage:voyage-code-3",
			TextModel: "voyage:voyage-3.5",
			Providers: map[string]ProviderConfig{},
		},
		Index: IndexConfig{
			ChunkSize:           2000,
			ChunkOverlap:        100,
			EmbeddingsBatchSize: 16,
			MaxBatchTokens:      100000,
			RequireGit:          true,
			GraphRAGEnabled:     false,
		},
		Search: SearchConfig{
			MaxResults:          20,
			SimilarityThreshold: 0.65,
			OutputFormat:        "text",
		},
		GraphRAG: GraphRAGConfig{
			UseLLM:              false,
			ConfidenceThreshold: 0.8,
		},
		Memory: MemoryConfig{
			Enabled:     true,
			MaxMemories: 10000,
		},
		Watch: WatchConfig{
			DebounceSeconds:   2,
			AdditionalDelayMS: 1000,
		},
	}
}

// knownProviders are the embedding providers that may carry an api_key
// block under [embedding.<provider>].
var knownProviders = []string{"voyage", "jina", "google", "openai", "local"}

// rawConfig mirrors Config but keeps the embedding table loose so
// per-provider sub-tables can be decoded by hand.
type rawConfig struct {
	Embedding map[string]toml.Primitive `toml:"embedding"`
	Index     IndexConfig               `toml:"index"`
	Search    SearchConfig              `toml:"search"`
	GraphRAG  GraphRAGConfig            `toml:"graphrag"`
	Memory    MemoryConfig              `toml:"memory"`
	Watch     WatchConfig               `toml:"watch"`
}

// Load reads the config file at path, applies environment overrides,
// and validates. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnv(cfg)
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	var raw rawConfig
	md, err := toml.Decode(string(data), &raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if err := mergeRaw(cfg, &raw, &md); err != nil {
		return nil, err
	}

	// Unknown keys are a config error, never silently ignored.
	if undec := md.Undecoded(); len(undec) > 0 {
		keys := make([]string, 0, len(undec))
		for _, k := range undec {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, strings.Join(keys, ", "))
	}

	applyEnv(cfg)
	return cfg, cfg.Validate()
}

// mergeRaw folds the decoded file into the default config.
func mergeRaw(cfg *Config, raw *rawConfig, md *toml.MetaData) error {
	cfg.Index = merged(cfg.Index, raw.Index, md, "index")
	cfg.Search = merged(cfg.Search, raw.Search, md, "search")
	cfg.GraphRAG = merged(cfg.GraphRAG, raw.GraphRAG, md, "graphrag")
	cfg.Memory = merged(cfg.Memory, raw.Memory, md, "memory")
	cfg.Watch = merged(cfg.Watch, raw.Watch, md, "watch")

	for key, prim := range raw.Embedding {
		switch key {
		case "code_model":
			if err := md.PrimitiveDecode(prim, &cfg.Embedding.CodeModel); err != nil {
				return fmt.Errorf("%w: embedding.code_model: %v", ErrInvalid, err)
			}
		case "text_model":
			if err := md.PrimitiveDecode(prim, &cfg.Embedding.TextModel); err != nil {
				return fmt.Errorf("%w: embedding.text_model: %v", ErrInvalid, err)
			}
		default:
			if !isKnownProvider(key) {
				return fmt.Errorf("%w: embedding.%s", ErrUnknownKey, key)
			}
			var pc ProviderConfig
			if err := md.PrimitiveDecode(prim, &pc); err != nil {
				return fmt.Errorf("%w: embedding.%s: %v", ErrInvalid, key, err)
			}
			cfg.Embedding.Providers[key] = pc
		}
	}
	return nil
}

// merged returns file values where the file set them, defaults otherwise.
func merged[T any](def, file T, md *toml.MetaData, table string) T {
	if md.IsDefined(table) {
		return overlay(def, file, md, table)
	}
	return def
}

// overlay copies only the keys the file actually defined. Decoding into
// a zero struct would otherwise clobber defaults with zero values.
func overlay[T any](def, file T, md *toml.MetaData, table string) T {
	// toml.Primitive decoding already produced `file` with zero values
	// for unset keys. Re-decode selectively via IsDefined.
	switch d := any(&def).(type) {
	case *IndexConfig:
		f := any(file).(IndexConfig)
		if md.IsDefined(table, "chunk_size") {
			d.ChunkSize = f.ChunkSize
		}
		if md.IsDefined(table, "chunk_overlap") {
			d.ChunkOverlap = f.ChunkOverlap
		}
		if md.IsDefined(table, "embeddings_batch_size") {
			d.EmbeddingsBatchSize = f.EmbeddingsBatchSize
		}
		if md.IsDefined(table, "max_batch_tokens") {
			d.MaxBatchTokens = f.MaxBatchTokens
		}
		if md.IsDefined(table, "require_git") {
			d.RequireGit = f.RequireGit
		}
		if md.IsDefined(table, "graphrag_enabled") {
			d.GraphRAGEnabled = f.GraphRAGEnabled
		}
	case *SearchConfig:
		f := any(file).(SearchConfig)
		if md.IsDefined(table, "max_results") {
			d.MaxResults = f.MaxResults
		}
		if md.IsDefined(table, "similarity_threshold") {
			d.SimilarityThreshold = f.SimilarityThreshold
		}
		if md.IsDefined(table, "output_format") {
			d.OutputFormat = f.OutputFormat
		}
	case *GraphRAGConfig:
		f := any(file).(GraphRAGConfig)
		if md.IsDefined(table, "use_llm") {
			d.UseLLM = f.UseLLM
		}
		if md.IsDefined(table, "confidence_threshold") {
			d.ConfidenceThreshold = f.ConfidenceThreshold
		}
	case *MemoryConfig:
		f := any(file).(MemoryConfig)
		if md.IsDefined(table, "enabled") {
			d.Enabled = f.Enabled
		}
		if md.IsDefined(table, "max_memories") {
			d.MaxMemories = f.MaxMemories
		}
	case *WatchConfig:
		f := any(file).(WatchConfig)
		if md.IsDefined(table, "debounce_seconds") {
			d.DebounceSeconds = f.DebounceSeconds
		}
		if md.IsDefined(table, "additional_delay_ms") {
			d.AdditionalDelayMS = f.AdditionalDelayMS
		}
	}
	return def
}

func isKnownProvider(name string) bool {
	for _, p := range knownProviders {
		if p == name {
			return true
		}
	}
	return false
}

// applyEnv overlays <PROVIDER>_API_KEY environment variables. The env
// var takes precedence over the file.
func applyEnv(cfg *Config) {
	for _, p := range knownProviders {
		envKey := strings.ToUpper(p) + "_API_KEY"
		if v := os.Getenv(envKey); v != "" {
			pc := cfg.Embedding.Providers[p]
			pc.APIKey = v
			cfg.Embedding.Providers[p] = pc
		}
	}
}

// APIKey returns the credential for a provider, or "".
func (c *Config) APIKey(provider string) string {
	return c.Embedding.Providers[provider].APIKey
}

// Validate checks option ranges. Fatal at startup on failure.
func (c *Config) Validate() error {
	if c.Embedding.CodeModel == "" || c.Embedding.TextModel == "" {
		return fmt.Errorf("%w: embedding models must be set", ErrInvalid)
	}
	if c.Index.ChunkSize <= 0 {
		return fmt.Errorf("%w: index.chunk_size must be positive", ErrInvalid)
	}
	if c.Index.ChunkOverlap < 0 || c.Index.ChunkOverlap >= c.Index.ChunkSize {
		return fmt.Errorf("%w: index.chunk_overlap must be in [0, chunk_size)", ErrInvalid)
	}
	if c.Index.EmbeddingsBatchSize <= 0 {
		return fmt.Errorf("%w: index.embeddings_batch_size must be positive", ErrInvalid)
	}
	if c.Index.MaxBatchTokens <= 0 {
		return fmt.Errorf("%w: index.max_batch_tokens must be positive", ErrInvalid)
	}
	if c.Search.MaxResults < 1 || c.Search.MaxResults > 20 {
		return fmt.Errorf("%w: search.max_results must be in [1,20]", ErrInvalid)
	}
	if c.Search.SimilarityThreshold < 0 || c.Search.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: search.similarity_threshold must be in [0,1]", ErrInvalid)
	}
	if !validFormat(c.Search.OutputFormat) {
		return fmt.Errorf("%w: search.output_format must be text, markdown or json", ErrInvalid)
	}
	if c.GraphRAG.ConfidenceThreshold < 0 || c.GraphRAG.ConfidenceThreshold > 1 {
		return fmt.Errorf("%w: graphrag.confidence_threshold must be in [0,1]", ErrInvalid)
	}
	if c.Watch.DebounceSeconds < 1 || c.Watch.DebounceSeconds > 30 {
		return fmt.Errorf("%w: watch.debounce_seconds must be in [1,30]", ErrInvalid)
	}
	if c.Watch.AdditionalDelayMS < 0 || c.Watch.AdditionalDelayMS > 5000 {
		return fmt.Errorf("%w: watch.additional_delay_ms must be in [0,5000]", ErrInvalid)
	}
	return nil
}

func validFormat(format string) bool {
	switch format {
	case "text", "markdown", "json":
		return true
	}
	return false
}

// DefaultPath returns the config file location for a root:
// <root>/.semcode.toml.
func DefaultPath(root string) string {
	return filepath.Join(root, ".semcode.toml")
}
