package language

import (
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/dshills/semcode/pkg/types"
)

// svelteAdapter carves a component into its script, style and template
// blocks by scanning. No Go bindings exist for the svelte grammar.
type svelteAdapter struct{}

func newSvelte() Language { return &svelteAdapter{} }

func (s *svelteAdapter) Name() string                   { return "svelte" }
func (s *svelteAdapter) Grammar() *tree_sitter.Language { return nil }
func (s *svelteAdapter) MeaningfulKinds() map[string]bool {
	return map[string]bool{"script": true, "style": true, "template": true}
}
func (s *svelteAdapter) ExtractExports(_ *tree_sitter.Node, _ []byte) []string { return nil }
func (s *svelteAdapter) Signature(_ *tree_sitter.Node, _ []byte) string        { return "" }
func (s *svelteAdapter) SymbolName(_ *tree_sitter.Node, _ []byte) (string, bool) {
	return "", false
}

// ExtractImports scans the script block for ES imports.
func (s *svelteAdapter) ExtractImports(_ *tree_sitter.Node, src []byte) []string {
	var out []string
	for _, line := range strings.Split(string(src), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "import ") {
			continue
		}
		if idx := strings.Index(line, " from "); idx >= 0 {
			out = append(out, trimQuotes(strings.TrimSuffix(strings.TrimSpace(line[idx+6:]), ";")))
		}
	}
	return dedupe(out)
}

// Scan splits the component into <script>, <style> and template regions.
func (s *svelteAdapter) Scan(src []byte) []Region {
	lines := strings.Split(string(src), "\n")
	var regions []Region

	type open struct {
		tag   string
		start int
	}
	var current *open
	segStart := 0 // start of the pending template segment

	flushTemplate := func(endExclusive int) {
		text := strings.TrimSpace(strings.Join(lines[segStart:endExclusive], "\n"))
		if text == "" {
			return
		}
		regions = append(regions, Region{
			Kind:      types.KindCode,
			StartLine: segStart + 1,
			EndLine:   endExclusive,
			Content:   strings.Join(lines[segStart:endExclusive], "\n"),
			Symbols:   []string{"template"},
		})
	}

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if current == nil {
			for _, tag := range []string{"script", "style"} {
				if strings.HasPrefix(trimmed, "<"+tag) {
					flushTemplate(i)
					current = &open{tag: tag, start: i}
					break
				}
			}
			continue
		}
		if strings.HasPrefix(trimmed, "</"+current.tag) {
			regions = append(regions, Region{
				Kind:      types.KindCode,
				StartLine: current.start + 1,
				EndLine:   i + 1,
				Content:   strings.Join(lines[current.start:i+1], "\n"),
				Symbols:   []string{current.tag},
			})
			segStart = i + 1
			current = nil
		}
	}
	if current == nil {
		flushTemplate(len(lines))
	}
	return regions
}
