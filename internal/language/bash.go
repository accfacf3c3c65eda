package language

import (
	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_bash "github.com/tree-sitter/tree-sitter-bash/bindings/go"
)

func newBash() Language {
	return &adapter{
		name:    "bash",
		grammar: tree_sitter.NewLanguage(tree_sitter_bash.Language()),
		meaningful: map[string]bool{
			"function_definition": true,
		},
		importsFn: bashImports,
	}
}

func bashImports(root *tree_sitter.Node, src []byte) []string {
	var out []string
	walkNodes(root, func(n *tree_sitter.Node) bool {
		if n.Kind() != "command" {
			return true
		}
		name := n.ChildByFieldName("name")
		if name == nil {
			return false
		}
		switch name.Utf8Text(src) {
		case "source", ".":
			for i := uint(0); i < n.NamedChildCount(); i++ {
				child := n.NamedChild(i)
				if child != nil && child.Kind() == "word" && child.Utf8Text(src) != "source" {
					out = append(out, child.Utf8Text(src))
				}
			}
		}
		return false
	})
	return out
}
