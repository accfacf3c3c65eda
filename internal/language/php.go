package language

import (
	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_php "github.com/tree-sitter/tree-sitter-php/bindings/go"
)

func newPHP() Language {
	return &adapter{
		name:    "php",
		grammar: tree_sitter.NewLanguage(tree_sitter_php.LanguagePHP()),
		meaningful: map[string]bool{
			"function_definition":       true,
			"method_declaration":        true,
			"class_declaration":         true,
			"interface_declaration":     true,
			"trait_declaration":         true,
			"enum_declaration":          true,
			"namespace_definition":      true,
			"namespace_use_declaration": true,
		},
		importsFn: phpImports,
		exportsFn: phpExports,
	}
}

func phpImports(root *tree_sitter.Node, src []byte) []string {
	var out []string
	walkNodes(root, func(n *tree_sitter.Node) bool {
		switch n.Kind() {
		case "namespace_use_clause":
			out = append(out, collectKind(n, src, "qualified_name", nil)...)
			out = append(out, collectKind(n, src, "name", nil)...)
			return false
		case "require_expression", "require_once_expression",
			"include_expression", "include_once_expression":
			out = append(out, collectKind(n, src, "string", trimQuotes)...)
			return false
		}
		return true
	})
	return out
}

func phpExports(root *tree_sitter.Node, src []byte) []string {
	kinds := map[string]bool{
		"function_definition": true, "class_declaration": true,
		"interface_declaration": true, "trait_declaration": true,
		"enum_declaration": true,
	}
	return topLevelPublicNames(root, src, kinds, func(_ *tree_sitter.Node, _ string) bool {
		return true
	})
}
