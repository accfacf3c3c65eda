package language

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/semcode/pkg/types"
)

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		path string
		lang string
	}{
		{"src/lib.rs", "rust"},
		{"app/main.py", "python"},
		{"web/app.js", "javascript"},
		{"web/app.tsx", "tsx"},
		{"web/app.ts", "typescript"},
		{"cmd/main.go", "go"},
		{"api/index.php", "php"},
		{"core/engine.hpp", "cpp"},
		{"lib/task.rb", "ruby"},
		{"package.json", "json"},
		{"scripts/deploy.sh", "bash"},
		{"README.md", "markdown"},
		{"styles/site.css", "css"},
		{"styles/site.scss", "scss"},
		{"ui/App.svelte", "svelte"},
	}
	for _, tt := range tests {
		lang := r.ForPath(tt.path)
		require.NotNil(t, lang, "no adapter for %s", tt.path)
		assert.Equal(t, tt.lang, lang.Name(), tt.path)
	}
}

func TestRegistryUnknownExtension(t *testing.T) {
	r := NewRegistry()
	assert.Nil(t, r.ForPath("data.bin"))
	assert.Nil(t, r.ForPath("Makefile"))
}

func TestEllipsize(t *testing.T) {
	assert.Equal(t, "one\ntwo", Ellipsize("one\ntwo", 5))

	long := "l1\nl2\nl3\nl4\nl5\nl6\nl7"
	got := Ellipsize(long, 5)
	assert.Equal(t, "l1\nl2\nl3\nl4\n...", got)
}

func TestMarkdownScanSections(t *testing.T) {
	src := []byte(`# Title

Intro paragraph long enough to matter for the minimum chunk size check,
padded with several clauses so the top section stands on its own feet
and is not merged away into a neighboring chunk by the bottom-up pass,
because the merge rule only folds genuinely short leaves upward here.

## Install

Short.

## Usage

Usage section body, also long enough to stay a separate chunk when the
scanner applies the minimum size rule to the leaves of the header tree,
so this paragraph rambles on for a few more words than strictly needed.
`)
	md := newMarkdown().(*markdownAdapter)
	regions := md.Scan(src)
	require.NotEmpty(t, regions)

	for _, r := range regions {
		assert.Equal(t, types.KindDoc, r.Kind)
		assert.GreaterOrEqual(t, r.StartLine, 1)
		assert.GreaterOrEqual(t, r.EndLine, r.StartLine)
	}

	// a region titled only "Install" carries content
	for _, r := range regions {
		if len(r.Symbols) == 1 && r.Symbols[0] == "Install" {
			assert.GreaterOrEqual(t, len(r.Content), 1)
		}
	}
}

func TestMarkdownHeaderInFenceIgnored(t *testing.T) {
	src := []byte("# Real\n\ntext\n\n```\n# not a header\n```\nmore text\n")
	md := newMarkdown().(*markdownAdapter)
	regions := md.Scan(src)

	for _, r := range regions {
		for _, s := range r.Symbols {
			assert.NotEqual(t, "not a header", s)
		}
	}
}

func TestHeaderLine(t *testing.T) {
	level, title := headerLine("## Usage")
	assert.Equal(t, 2, level)
	assert.Equal(t, "Usage", title)

	level, _ = headerLine("####### too deep")
	assert.Equal(t, 0, level)

	level, _ = headerLine("#nospace")
	assert.Equal(t, 0, level)

	level, _ = headerLine("plain text")
	assert.Equal(t, 0, level)
}

func TestSvelteScan(t *testing.T) {
	src := []byte(`<script>
import App from './App.svelte';
let count = 0;
</script>

<main>
  <h1>{count}</h1>
</main>

<style>
main { margin: 0; }
</style>
`)
	sv := newSvelte().(*svelteAdapter)
	regions := sv.Scan(src)
	require.Len(t, regions, 3)

	var names []string
	for _, r := range regions {
		require.Len(t, r.Symbols, 1)
		names = append(names, r.Symbols[0])
	}
	assert.Contains(t, names, "script")
	assert.Contains(t, names, "style")
	assert.Contains(t, names, "template")

	imports := sv.ExtractImports(nil, src)
	assert.Equal(t, []string{"./App.svelte"}, imports)
}

func TestSCSSScan(t *testing.T) {
	src := []byte(`@use "sass:math";

.button {
  color: red;
  &:hover { color: blue; }
}

.card {
  padding: 1rem;
}
`)
	sc := newSCSS().(*scssAdapter)
	regions := sc.Scan(src)
	require.Len(t, regions, 2)
	assert.Equal(t, []string{".button"}, regions[0].Symbols)
	assert.Equal(t, []string{".card"}, regions[1].Symbols)

	imports := sc.ExtractImports(nil, src)
	assert.Equal(t, []string{"sass:math"}, imports)
}

func TestTrimQuotes(t *testing.T) {
	assert.Equal(t, "path", trimQuotes(`"path"`))
	assert.Equal(t, "path", trimQuotes(`'path'`))
	assert.Equal(t, "stdio.h", trimQuotes("<stdio.h>"))
	assert.Equal(t, "bare", trimQuotes("bare"))
}

func TestGoAdapterExtraction(t *testing.T) {
	src := []byte(`package demo

import (
	"fmt"
	"strings"
)

// Add sums two ints.
func Add(a, b int) int { return a + b }

func private() { fmt.Println(strings.ToUpper("x")) }

type Counter struct{ n int }
`)
	goLang := newGo()
	require.NotNil(t, goLang.Grammar())

	tree, err := parseForTest(goLang, src)
	require.NoError(t, err)
	defer tree.Close()
	root := tree.RootNode()

	imports := goLang.ExtractImports(root, src)
	assert.ElementsMatch(t, []string{"fmt", "strings"}, imports)

	exports := goLang.ExtractExports(root, src)
	assert.Contains(t, exports, "Add")
	assert.Contains(t, exports, "Counter")
	assert.NotContains(t, exports, "private")
}
