package language

import (
	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_json "github.com/tree-sitter/tree-sitter-json/bindings/go"
)

// newJSON treats top-level object keys as meaningful regions. Nested
// pairs are swallowed by their top-level ancestor because region
// extraction never descends into a matched node.
func newJSON() Language {
	return &adapter{
		name:    "json",
		grammar: tree_sitter.NewLanguage(tree_sitter_json.Language()),
		meaningful: map[string]bool{
			"pair": true,
		},
		symbolFn: jsonSymbol,
	}
}

func jsonSymbol(node *tree_sitter.Node, src []byte) (string, bool) {
	if node.Kind() != "pair" {
		return "", false
	}
	if key := node.ChildByFieldName("key"); key != nil {
		return trimQuotes(key.Utf8Text(src)), true
	}
	return "", false
}
