// Package embedder turns text batches into dense vectors through
// pluggable providers selected by a provider:model string.
//
// Providers preserve batch order, normalize vectors for cosine
// distance, and tag inputs as documents or queries when the model
// distinguishes them. Failures are batch-scoped: a provider error fails
// the whole batch and never half-writes.
package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Common errors.
var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrProviderFailed   = errors.New("embedding provider failed")
	ErrUnsupportedModel = errors.New("unsupported model")
	ErrEmptyText        = errors.New("text cannot be empty")
)

// InputType tags a batch as documents to index or queries to match.
type InputType string

const (
	InputDocument InputType = "document"
	InputQuery    InputType = "query"
)

// Provider is the embedding capability.
type Provider interface {
	// Embed returns one vector per input, in input order.
	Embed(ctx context.Context, texts []string, input InputType) ([][]float32, error)
	// Dim is the fixed vector dimension for this model.
	Dim() int
	// ModelID is the provider:model string this provider serves.
	ModelID() string
	// MaxTokensPerRequest is the provider's per-request token budget.
	MaxTokensPerRequest() int
	// Close releases held resources.
	Close() error
}

// EstimateTokens estimates the token count of a text. Bytes/4; code
// and prose tokens average ~4 bytes.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// ComputeHash computes the SHA-256 cache key of a text.
func ComputeHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// normalize scales v to unit L2 length in place and returns it.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1.0 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}

// validateBatch rejects empty batches and empty texts.
func validateBatch(texts []string) error {
	if len(texts) == 0 {
		return fmt.Errorf("%w: no texts provided", ErrInvalidInput)
	}
	for i, t := range texts {
		if t == "" {
			return fmt.Errorf("%w: text at index %d is empty", ErrInvalidInput, i)
		}
	}
	return nil
}

// Cache provides in-memory LRU caching of vectors by content hash and
// input type.
type Cache struct {
	cache *lru.Cache[string, []float32]
}

// NewCache creates an embedding cache with LRU eviction.
func NewCache(maxLen int) *Cache {
	if maxLen <= 0 {
		maxLen = 10000
	}
	cache, err := lru.New[string, []float32](maxLen)
	if err != nil {
		cache, _ = lru.New[string, []float32](10000)
	}
	return &Cache{cache: cache}
}

func cacheKey(text string, input InputType) string {
	return string(input) + ":" + ComputeHash(text)
}

// Get returns a copy of a cached vector so caller mutations cannot
// pollute the cache.
func (c *Cache) Get(text string, input InputType) ([]float32, bool) {
	v, ok := c.cache.Get(cacheKey(text, input))
	if !ok {
		return nil, false
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out, true
}

// Set stores a vector.
func (c *Cache) Set(text string, input InputType, v []float32) {
	c.cache.Add(cacheKey(text, input), v)
}

// Len returns the current cache size.
func (c *Cache) Len() int { return c.cache.Len() }

// cachingProvider wraps a Provider with the LRU cache. Only texts
// missing from the cache reach the underlying provider; results merge
// back in input order.
type cachingProvider struct {
	inner Provider
	cache *Cache
}

// WithCache wraps a provider in an LRU cache.
func WithCache(p Provider, cache *Cache) Provider {
	if cache == nil {
		return p
	}
	return &cachingProvider{inner: p, cache: cache}
}

func (c *cachingProvider) Embed(ctx context.Context, texts []string, input InputType) ([][]float32, error) {
	if err := validateBatch(texts); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, t := range texts {
		if v, ok := c.cache.Get(t, input); ok {
			out[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}
	if len(missTexts) > 0 {
		vecs, err := c.inner.Embed(ctx, missTexts, input)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(missTexts) {
			return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrProviderFailed, len(vecs), len(missTexts))
		}
		for j, v := range vecs {
			out[missIdx[j]] = v
			c.cache.Set(missTexts[j], input, v)
		}
	}
	return out, nil
}

func (c *cachingProvider) Dim() int                 { return c.inner.Dim() }
func (c *cachingProvider) ModelID() string          { return c.inner.ModelID() }
func (c *cachingProvider) MaxTokensPerRequest() int { return c.inner.MaxTokensPerRequest() }
func (c *cachingProvider) Close() error             { return c.inner.Close() }
