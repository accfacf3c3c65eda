package language

import (
	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_cpp "github.com/tree-sitter/tree-sitter-cpp/bindings/go"
)

func newCPP() Language {
	return &adapter{
		name:    "cpp",
		grammar: tree_sitter.NewLanguage(tree_sitter_cpp.Language()),
		meaningful: map[string]bool{
			"function_definition":  true,
			"class_specifier":      true,
			"struct_specifier":     true,
			"enum_specifier":       true,
			"namespace_definition": true,
			"template_declaration": true,
			"preproc_include":      true,
			// header prototypes
			"declaration": true,
		},
		importsFn: cppImports,
		exportsFn: cppExports,
		symbolFn:  cppSymbol,
	}
}

func cppImports(root *tree_sitter.Node, src []byte) []string {
	var out []string
	walkNodes(root, func(n *tree_sitter.Node) bool {
		if n.Kind() != "preproc_include" {
			return true
		}
		if path := n.ChildByFieldName("path"); path != nil {
			out = append(out, trimQuotes(path.Utf8Text(src)))
		}
		return false
	})
	return out
}

func cppExports(root *tree_sitter.Node, src []byte) []string {
	kinds := map[string]bool{
		"function_definition": true, "class_specifier": true,
		"struct_specifier": true, "enum_specifier": true,
	}
	var out []string
	walkNodes(root, func(n *tree_sitter.Node) bool {
		if !kinds[n.Kind()] {
			return true
		}
		if name, ok := cppSymbol(n, src); ok {
			out = append(out, name)
		}
		return false
	})
	return out
}

func cppSymbol(node *tree_sitter.Node, src []byte) (string, bool) {
	switch node.Kind() {
	case "function_definition", "declaration":
		decl := node.ChildByFieldName("declarator")
		for decl != nil {
			if inner := decl.ChildByFieldName("declarator"); inner != nil {
				decl = inner
				continue
			}
			break
		}
		if decl != nil {
			return decl.Utf8Text(src), true
		}
		return "", false
	case "preproc_include":
		return "", false
	}
	return fieldName(node, src)
}
