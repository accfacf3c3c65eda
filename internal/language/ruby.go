package language

import (
	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_ruby "github.com/tree-sitter/tree-sitter-ruby/bindings/go"
)

func newRuby() Language {
	return &adapter{
		name:    "ruby",
		grammar: tree_sitter.NewLanguage(tree_sitter_ruby.Language()),
		meaningful: map[string]bool{
			"method":           true,
			"singleton_method": true,
			"class":            true,
			"module":           true,
		},
		importsFn: rubyImports,
		exportsFn: rubyExports,
	}
}

func rubyImports(root *tree_sitter.Node, src []byte) []string {
	var out []string
	walkNodes(root, func(n *tree_sitter.Node) bool {
		if n.Kind() != "call" {
			return true
		}
		method := n.ChildByFieldName("method")
		if method == nil {
			return true
		}
		switch method.Utf8Text(src) {
		case "require", "require_relative":
			out = append(out, collectKind(n, src, "string_content", nil)...)
		}
		return false
	})
	return out
}

func rubyExports(root *tree_sitter.Node, src []byte) []string {
	kinds := map[string]bool{"method": true, "class": true, "module": true}
	return topLevelPublicNames(root, src, kinds, func(_ *tree_sitter.Node, _ string) bool {
		return true
	})
}
