package graph

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/semcode/internal/embedder"
	"github.com/dshills/semcode/internal/language"
	"github.com/dshills/semcode/internal/storage"
	"github.com/dshills/semcode/pkg/types"
)

func newTestBuilder(t *testing.T) (*Builder, *storage.Store, string) {
	t.Helper()
	root := t.TempDir()
	store, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	local, err := embedder.New(embedder.Config{ModelSpec: "local:hash-384"})
	require.NoError(t, err)

	b := New(root, store, language.NewRegistry(), local, nil, 0.8)
	return b, store, root
}

func write(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestReconcileBuildsNodesAndStructuralEdges(t *testing.T) {
	b, store, root := newTestBuilder(t)
	ctx := context.Background()

	write(t, root, "src/a.py", "import b\n\ndef alpha():\n    pass\n")
	write(t, root, "src/b.py", "def beta():\n    pass\n")

	changed := map[string]bool{"src/a.py": true, "src/b.py": true}
	require.NoError(t, b.Reconcile(ctx, changed, nil))

	nodeA, err := store.GetNode(ctx, "src/a.py")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, nodeA.Imports)
	assert.Contains(t, nodeA.Exports, "alpha")
	assert.Empty(t, nodeA.Description, "no LLM capability means empty description")
	assert.NotEmpty(t, nodeA.Embedding)

	edges, err := store.Edges(ctx, "src/a.py", "out")
	require.NoError(t, err)

	var kinds []types.EdgeKind
	var targets []string
	for _, e := range edges {
		require.NoError(t, e.Validate())
		assert.NotEqual(t, e.SourceID, e.TargetID)
		kinds = append(kinds, e.Kind)
		targets = append(targets, e.TargetID)
	}
	assert.Contains(t, kinds, types.EdgeImports)
	assert.Contains(t, kinds, types.EdgeSiblingModule)
	assert.Contains(t, targets, "src/b.py")
}

func TestReconcileDeleteRemovesNodeAndEdges(t *testing.T) {
	b, store, root := newTestBuilder(t)
	ctx := context.Background()

	write(t, root, "a.py", "import b\n")
	write(t, root, "b.py", "x = 1\n")
	require.NoError(t, b.Reconcile(ctx, map[string]bool{"a.py": true, "b.py": true}, nil))

	require.NoError(t, b.Reconcile(ctx, nil, []string{"b.py"}))

	_, err := store.GetNode(ctx, "b.py")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	edges, err := store.Edges(ctx, "b.py", "both")
	require.NoError(t, err)
	assert.Empty(t, edges, "no dangling edges after node deletion")
}

func TestFindPathBFS(t *testing.T) {
	b, store, _ := newTestBuilder(t)
	ctx := context.Background()

	// a -> b -> c plus a cycle c -> a
	for _, id := range []string{"a.py", "b.py", "c.py"} {
		require.NoError(t, store.UpsertNode(ctx, &types.GraphNode{
			ID: id, Embedding: []float32{1, 0},
		}))
	}
	link := func(from, to string) {
		require.NoError(t, store.UpsertEdges(ctx, from, []types.GraphEdge{{
			SourceID: from, TargetID: to,
			Kind: types.EdgeImports, Weight: 1, Confidence: 1,
		}}))
	}
	link("a.py", "b.py")
	link("b.py", "c.py")
	link("c.py", "a.py")

	path, err := b.FindPath(ctx, "a.py", "c.py", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.py", "c.py"}, path)

	// undirected projection: the reverse direction works too
	path, err = b.FindPath(ctx, "c.py", "b.py", 3)
	require.NoError(t, err)
	require.NotNil(t, path)
	assert.Equal(t, "c.py", path[0])
	assert.Equal(t, "b.py", path[len(path)-1])

	// depth bound cuts long paths off
	path, err = b.FindPath(ctx, "a.py", "c.py", 1)
	require.NoError(t, err)
	// c is reachable within 1 hop through the cycle edge c->a
	if path != nil {
		assert.Equal(t, []string{"a.py", "c.py"}, path)
	}

	// identical endpoints
	path, err = b.FindPath(ctx, "a.py", "a.py", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.py"}, path)
}

func TestGraphSearchReturnsNearestNodes(t *testing.T) {
	b, store, root := newTestBuilder(t)
	ctx := context.Background()

	write(t, root, "auth.py", "def login():\n    pass\n")
	require.NoError(t, b.Reconcile(ctx, map[string]bool{"auth.py": true}, nil))

	node, err := store.GetNode(ctx, "auth.py")
	require.NoError(t, err)
	require.NotEmpty(t, node.Embedding)

	results, err := b.Search(ctx, "anything", 5, 0)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "auth.py", results[0].Node.ID)
}

// stubLLM answers description and relationship prompts with canned
// JSON, keyed off the system prompt.
type stubLLM struct {
	descJSON  string
	edgesJSON string
	calls     int
	err       error
}

func (s *stubLLM) Complete(_ context.Context, system, _ string, _ int) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	if strings.Contains(system, "JSON array") {
		return s.edgesJSON, nil
	}
	return s.descJSON, nil
}

func newTestBuilderWithLLM(t *testing.T, llm LLM, confidence float64) (*Builder, *storage.Store, string) {
	t.Helper()
	root := t.TempDir()
	store, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	local, err := embedder.New(embedder.Config{ModelSpec: "local:hash-384"})
	require.NoError(t, err)

	return New(root, store, language.NewRegistry(), local, llm, confidence), store, root
}

func TestReconcileWithLLMDescriptionsAndEdges(t *testing.T) {
	llm := &stubLLM{
		descJSON: `{"src/a.py": "Handles authentication."}`,
		// one edge above the 0.8 threshold, one below, one self-loop
		edgesJSON: `[
			{"source": "src/a.py", "target": "lib/c.py", "confidence": 0.9},
			{"source": "src/a.py", "target": "web/b.py", "confidence": 0.5},
			{"source": "src/a.py", "target": "src/a.py", "confidence": 0.95}
		]`,
	}
	b, store, root := newTestBuilderWithLLM(t, llm, 0.8)
	ctx := context.Background()

	write(t, root, "src/a.py", "def login():\n    pass\n")
	write(t, root, "web/b.py", "def render():\n    pass\n")
	write(t, root, "lib/c.py", "def token():\n    pass\n")

	changed := map[string]bool{"src/a.py": true, "web/b.py": true, "lib/c.py": true}
	require.NoError(t, b.Reconcile(ctx, changed, nil))
	assert.GreaterOrEqual(t, llm.calls, 2, "descriptions and discovery both call the model")

	node, err := store.GetNode(ctx, "src/a.py")
	require.NoError(t, err)
	assert.Equal(t, "Handles authentication.", node.Description)

	edges, err := store.Edges(ctx, "src/a.py", "out")
	require.NoError(t, err)

	var toC, toB *types.GraphEdge
	for i := range edges {
		switch edges[i].TargetID {
		case "lib/c.py":
			toC = &edges[i]
		case "web/b.py":
			toB = &edges[i]
		}
		assert.NotEqual(t, edges[i].SourceID, edges[i].TargetID)
	}

	// the confident model edge survives with the model's confidence;
	// src/ and lib/ are not structurally related, so it can only come
	// from discovery
	require.NotNil(t, toC, "model-derived edge above threshold must be stored")
	assert.Equal(t, types.EdgeImports, toC.Kind)
	assert.InDelta(t, 0.9, toC.Confidence, 1e-9)
	assert.InDelta(t, 0.9, toC.Weight, 1e-9)

	// the low-confidence edge is dropped by the threshold
	assert.Nil(t, toB, "edge below confidence_threshold must be dropped")
}

func TestReconcileLLMFailureKeepsStructuralEdges(t *testing.T) {
	llm := &stubLLM{err: assert.AnError}
	b, store, root := newTestBuilderWithLLM(t, llm, 0.8)
	ctx := context.Background()

	write(t, root, "src/a.py", "import b\n")
	write(t, root, "src/b.py", "x = 1\n")

	changed := map[string]bool{"src/a.py": true, "src/b.py": true}
	require.NoError(t, b.Reconcile(ctx, changed, nil))

	node, err := store.GetNode(ctx, "src/a.py")
	require.NoError(t, err)
	assert.Empty(t, node.Description, "failed completion degrades to empty description")

	edges, err := store.Edges(ctx, "src/a.py", "out")
	require.NoError(t, err)
	assert.NotEmpty(t, edges, "structural edges survive an LLM failure")
}

func TestEdgeFromRelationshipValidation(t *testing.T) {
	b, _, _ := newTestBuilderWithLLM(t, &stubLLM{}, 0.8)
	known := map[string]bool{"a.py": true, "b.py": true}

	_, ok := b.edgeFromRelationship(aiRelationship{Source: "a.py", Target: "a.py", Confidence: 0.9}, known)
	assert.False(t, ok, "self-loops rejected")

	_, ok = b.edgeFromRelationship(aiRelationship{Source: "a.py", Target: "ghost.py", Confidence: 0.9}, known)
	assert.False(t, ok, "unknown endpoints rejected")

	_, ok = b.edgeFromRelationship(aiRelationship{Source: "a.py", Target: "b.py", Confidence: 1.5}, known)
	assert.False(t, ok, "out-of-range confidence rejected")

	_, ok = b.edgeFromRelationship(aiRelationship{Source: "a.py", Target: "b.py", Confidence: 0.7}, known)
	assert.False(t, ok, "below-threshold confidence rejected")

	edge, ok := b.edgeFromRelationship(aiRelationship{Source: "a.py", Target: "b.py", Confidence: 0.85}, known)
	require.True(t, ok)
	require.NoError(t, edge.Validate())
	assert.Equal(t, 0.85, edge.Confidence)
}

func TestNewLLMFromEnv(t *testing.T) {
	t.Setenv(EnvAnthropicAPIKey, "")
	t.Setenv(EnvOpenAIAPIKey, "")
	assert.Nil(t, NewLLMFromEnv(""))

	assert.NotNil(t, NewLLMFromEnv("config-key"), "config OpenAI key is the fallback")

	t.Setenv(EnvOpenAIAPIKey, "env-openai")
	assert.IsType(t, &openaiLLM{}, NewLLMFromEnv(""))

	t.Setenv(EnvAnthropicAPIKey, "env-anthropic")
	assert.IsType(t, &anthropicLLM{}, NewLLMFromEnv(""))
}

func TestExtractJSONArray(t *testing.T) {
	assert.Equal(t, `[{"a":1}]`, extractJSONArray("Here you go:\n```json\n[{\"a\":1}]\n```"))
	assert.Equal(t, `[]`, extractJSONArray("[]"))
	assert.Equal(t, "no array here", extractJSONArray("no array here"))
}

func TestResolveImport(t *testing.T) {
	known := map[string]bool{
		"src/app.py":          true,
		"src/utils/helper.py": true,
		"lib/parser.rs":       true,
		"web/index.ts":        true,
		"web/api.ts":          true,
	}

	tests := []struct {
		from   string
		imp    string
		want   string
		wantOK bool
	}{
		{"src/main.py", "app", "src/app.py", true},
		{"src/main.py", "utils.helper", "src/utils/helper.py", true},
		{"web/app.ts", "./api", "web/api.ts", true},
		{"web/app.ts", "./", "web/index.ts", true},
		{"main.rs", "crate::parser", "lib/parser.rs", true}, // by stem
		{"web/main.ts", "./missing", "", false},
		{"any.py", "totally_unknown", "", false},
	}
	for _, tt := range tests {
		got, ok := resolveImport(tt.from, tt.imp, known)
		assert.Equal(t, tt.wantOK, ok, "%s imports %q", tt.from, tt.imp)
		if tt.wantOK {
			assert.Equal(t, tt.want, got, "%s imports %q", tt.from, tt.imp)
		}
	}
}

func TestResolveImportDirectoryEntryPoints(t *testing.T) {
	known := map[string]bool{"src/widgets/index.ts": true}
	got, ok := resolveImport("src/app.ts", "./widgets", known)
	require.True(t, ok)
	assert.Equal(t, "src/widgets/index.ts", got)
}

func TestNormalizeImport(t *testing.T) {
	assert.Equal(t, "a/b", normalizeImport("crate::a::b::Thing"))
	assert.Equal(t, "a/b", normalizeImport("a::b::*"))
	assert.Equal(t, "pkg/mod", normalizeImport("pkg.mod"))
	assert.Equal(t, "./x", normalizeImport("./x"))
	assert.Equal(t, "./App.svelte", normalizeImport("./App.svelte"))
}
