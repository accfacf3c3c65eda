package language

import (
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/dshills/semcode/pkg/types"
)

// scssAdapter carves top-level rule blocks by brace matching. The css
// grammar does not accept SCSS nesting syntax, so SCSS scans directly.
type scssAdapter struct{}

func newSCSS() Language { return &scssAdapter{} }

func (s *scssAdapter) Name() string                   { return "scss" }
func (s *scssAdapter) Grammar() *tree_sitter.Language { return nil }
func (s *scssAdapter) MeaningfulKinds() map[string]bool {
	return map[string]bool{"rule_set": true}
}
func (s *scssAdapter) ExtractExports(_ *tree_sitter.Node, _ []byte) []string { return nil }
func (s *scssAdapter) Signature(_ *tree_sitter.Node, _ []byte) string        { return "" }
func (s *scssAdapter) SymbolName(_ *tree_sitter.Node, _ []byte) (string, bool) {
	return "", false
}

// ExtractImports returns @import/@use/@forward targets.
func (s *scssAdapter) ExtractImports(_ *tree_sitter.Node, src []byte) []string {
	var out []string
	for _, line := range strings.Split(string(src), "\n") {
		line = strings.TrimSpace(line)
		for _, directive := range []string{"@import ", "@use ", "@forward "} {
			if strings.HasPrefix(line, directive) {
				rest := strings.TrimSuffix(strings.TrimPrefix(line, directive), ";")
				out = append(out, trimQuotes(strings.TrimSpace(rest)))
			}
		}
	}
	return dedupe(out)
}

// Scan emits one region per top-level brace block, with the selector
// text as the symbol.
func (s *scssAdapter) Scan(src []byte) []Region {
	lines := strings.Split(string(src), "\n")
	var regions []Region

	depth := 0
	start := -1
	var selector string
	for i, line := range lines {
		for _, ch := range line {
			switch ch {
			case '{':
				if depth == 0 {
					start = i
					selector = strings.TrimSpace(strings.TrimSuffix(strings.SplitN(line, "{", 2)[0], "{"))
					// selector may begin on an earlier line
					for j := i - 1; j >= 0 && selector == ""; j-- {
						selector = strings.TrimSpace(lines[j])
						start = j
					}
				}
				depth++
			case '}':
				depth--
				if depth == 0 && start >= 0 {
					var symbols []string
					if selector != "" {
						symbols = []string{selector}
					}
					regions = append(regions, Region{
						Kind:      types.KindCode,
						StartLine: start + 1,
						EndLine:   i + 1,
						Content:   strings.Join(lines[start:i+1], "\n"),
						Symbols:   symbols,
					})
					start = -1
					selector = ""
				}
			}
		}
	}
	return regions
}
