package language

import (
	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_css "github.com/tree-sitter/tree-sitter-css/bindings/go"
)

func newCSS() Language {
	return &adapter{
		name:    "css",
		grammar: tree_sitter.NewLanguage(tree_sitter_css.Language()),
		meaningful: map[string]bool{
			"rule_set":            true,
			"media_statement":     true,
			"keyframes_statement": true,
			"supports_statement":  true,
			"import_statement":    true,
		},
		importsFn: cssImports,
		symbolFn:  cssSymbol,
	}
}

func cssImports(root *tree_sitter.Node, src []byte) []string {
	var out []string
	walkNodes(root, func(n *tree_sitter.Node) bool {
		if n.Kind() != "import_statement" {
			return true
		}
		out = append(out, collectKind(n, src, "string_value", trimQuotes)...)
		return false
	})
	return out
}

func cssSymbol(node *tree_sitter.Node, src []byte) (string, bool) {
	if node.Kind() != "rule_set" {
		return "", false
	}
	for i := uint(0); i < node.NamedChildCount(); i++ {
		child := node.NamedChild(i)
		if child != nil && child.Kind() == "selectors" {
			return child.Utf8Text(src), true
		}
	}
	return "", false
}
