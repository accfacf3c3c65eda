package embedder

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalProviderShape(t *testing.T) {
	p := newLocalProvider("")
	vecs, err := p.Embed(context.Background(), []string{"hello", "world"}, InputDocument)
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	for _, v := range vecs {
		assert.Len(t, v, LocalDimension)
	}
	assert.Equal(t, LocalDimension, p.Dim())
	assert.Equal(t, "local:hash-384", p.ModelID())
}

func TestLocalProviderDeterministic(t *testing.T) {
	p := newLocalProvider("")
	a, err := p.Embed(context.Background(), []string{"same text"}, InputDocument)
	require.NoError(t, err)
	b, err := p.Embed(context.Background(), []string{"same text"}, InputQuery)
	require.NoError(t, err)
	assert.Equal(t, a[0], b[0])

	c, err := p.Embed(context.Background(), []string{"other text"}, InputDocument)
	require.NoError(t, err)
	assert.NotEqual(t, a[0], c[0])
}

func TestLocalProviderNormalized(t *testing.T) {
	p := newLocalProvider("")
	vecs, err := p.Embed(context.Background(), []string{"normalize me"}, InputDocument)
	require.NoError(t, err)

	var sum float64
	for _, x := range vecs[0] {
		sum += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
}

func TestLocalProviderPreservesOrder(t *testing.T) {
	p := newLocalProvider("")
	texts := []string{"alpha", "beta", "gamma"}
	batch, err := p.Embed(context.Background(), texts, InputDocument)
	require.NoError(t, err)

	for i, text := range texts {
		single, err := p.Embed(context.Background(), []string{text}, InputDocument)
		require.NoError(t, err)
		assert.Equal(t, single[0], batch[i], "order must be preserved for %q", text)
	}
}

func TestEmbedRejectsEmptyBatch(t *testing.T) {
	p := newLocalProvider("")
	_, err := p.Embed(context.Background(), nil, InputDocument)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = p.Embed(context.Background(), []string{"ok", ""}, InputDocument)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

// countingProvider wraps the local provider and counts Embed calls.
type countingProvider struct {
	Provider
	calls int
}

func (c *countingProvider) Embed(ctx context.Context, texts []string, input InputType) ([][]float32, error) {
	c.calls++
	return c.Provider.Embed(ctx, texts, input)
}

func TestCachingProvider(t *testing.T) {
	inner := &countingProvider{Provider: newLocalProvider("")}
	p := WithCache(inner, NewCache(100))

	first, err := p.Embed(context.Background(), []string{"a", "b"}, InputDocument)
	require.NoError(t, err)
	require.Equal(t, 1, inner.calls)

	// full cache hit: no provider call
	second, err := p.Embed(context.Background(), []string{"a", "b"}, InputDocument)
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, first, second)

	// partial miss embeds only the missing text
	third, err := p.Embed(context.Background(), []string{"a", "c"}, InputDocument)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
	assert.Equal(t, first[0], third[0])

	// input type participates in the cache key
	_, err = p.Embed(context.Background(), []string{"a"}, InputQuery)
	require.NoError(t, err)
	assert.Equal(t, 3, inner.calls)
}

func TestParseSpec(t *testing.T) {
	spec, err := ParseSpec("voyage:voyage-code-3")
	require.NoError(t, err)
	assert.Equal(t, "voyage", spec.Provider)
	assert.Equal(t, "voyage-code-3", spec.Model)

	for _, bad := range []string{"", "voyage", ":model", "provider:"} {
		_, err := ParseSpec(bad)
		assert.ErrorIs(t, err, ErrUnsupportedModel, "spec %q", bad)
	}
}

func TestNewProviderSelection(t *testing.T) {
	p, err := New(Config{ModelSpec: "local:hash-384"})
	require.NoError(t, err)
	assert.Equal(t, LocalDimension, p.Dim())

	_, err = New(Config{ModelSpec: "voyage:voyage-code-3"})
	assert.Error(t, err, "cloud provider without API key must fail")

	p, err = New(Config{ModelSpec: "voyage:voyage-code-3", APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, 1024, p.Dim())

	_, err = New(Config{ModelSpec: "acme:model", APIKey: "k"})
	assert.ErrorIs(t, err, ErrUnsupportedModel)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 25, EstimateTokens(string(make([]byte, 100))))
}

func TestRetryWithBackoff(t *testing.T) {
	attempts := 0
	result, err := retryWithBackoff(context.Background(), RetryConfig{
		MaxRetries: 3, BaseDelay: 1, MaxDelay: 10, Multiplier: 2,
	}, func() (string, error) {
		attempts++
		if attempts < 3 {
			return "", assert.AnError
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, attempts)
}

func TestRetryGivesUp(t *testing.T) {
	attempts := 0
	_, err := retryWithBackoff(context.Background(), RetryConfig{
		MaxRetries: 3, BaseDelay: 1, MaxDelay: 10, Multiplier: 2,
	}, func() (int, error) {
		attempts++
		return 0, assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 3, attempts)
}
