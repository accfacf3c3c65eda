package language

import (
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_rust "github.com/tree-sitter/tree-sitter-rust/bindings/go"
)

func newRust() Language {
	return &adapter{
		name:    "rust",
		grammar: tree_sitter.NewLanguage(tree_sitter_rust.Language()),
		meaningful: map[string]bool{
			"function_item":    true,
			"struct_item":      true,
			"enum_item":        true,
			"trait_item":       true,
			"impl_item":        true,
			"mod_item":         true,
			"use_declaration":  true,
			"macro_definition": true,
			"const_item":       true,
			"static_item":      true,
			"type_item":        true,
		},
		importsFn: rustImports,
		exportsFn: rustExports,
		symbolFn:  rustSymbol,
	}
}

func rustImports(root *tree_sitter.Node, src []byte) []string {
	var out []string
	walkNodes(root, func(n *tree_sitter.Node) bool {
		if n.Kind() != "use_declaration" {
			return true
		}
		if arg := n.ChildByFieldName("argument"); arg != nil {
			out = append(out, arg.Utf8Text(src))
		}
		return false
	})
	return out
}

func rustExports(root *tree_sitter.Node, src []byte) []string {
	kinds := map[string]bool{
		"function_item": true, "struct_item": true, "enum_item": true,
		"trait_item": true, "mod_item": true, "const_item": true,
		"static_item": true, "type_item": true,
	}
	return topLevelPublicNames(root, src, kinds, func(n *tree_sitter.Node, _ string) bool {
		return strings.HasPrefix(strings.TrimSpace(n.Utf8Text(src)), "pub ")
	})
}

func rustSymbol(node *tree_sitter.Node, src []byte) (string, bool) {
	switch node.Kind() {
	case "impl_item":
		if t := node.ChildByFieldName("type"); t != nil {
			return t.Utf8Text(src), true
		}
		return "", false
	case "use_declaration":
		return "", false
	}
	return fieldName(node, src)
}
