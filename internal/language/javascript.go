package language

import (
	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_javascript "github.com/tree-sitter/tree-sitter-javascript/bindings/go"
)

func newJavaScript() Language {
	return &adapter{
		name:    "javascript",
		grammar: tree_sitter.NewLanguage(tree_sitter_javascript.Language()),
		meaningful: map[string]bool{
			"function_declaration":           true,
			"generator_function_declaration": true,
			"class_declaration":              true,
			"method_definition":              true,
			"lexical_declaration":            true,
			"variable_declaration":           true,
			"import_statement":               true,
			"export_statement":               true,
		},
		importsFn: jsImports,
		exportsFn: jsExports,
		symbolFn:  jsSymbol,
	}
}

func jsImports(root *tree_sitter.Node, src []byte) []string {
	var out []string
	walkNodes(root, func(n *tree_sitter.Node) bool {
		switch n.Kind() {
		case "import_statement", "export_statement":
			if source := n.ChildByFieldName("source"); source != nil {
				out = append(out, trimQuotes(source.Utf8Text(src)))
			}
			return false
		case "call_expression":
			// require("mod")
			fn := n.ChildByFieldName("function")
			if fn != nil && fn.Utf8Text(src) == "require" {
				if args := n.ChildByFieldName("arguments"); args != nil && args.NamedChildCount() > 0 {
					if arg := args.NamedChild(0); arg != nil && arg.Kind() == "string" {
						out = append(out, trimQuotes(arg.Utf8Text(src)))
					}
				}
			}
			return false
		}
		return true
	})
	return out
}

func jsExports(root *tree_sitter.Node, src []byte) []string {
	var out []string
	walkNodes(root, func(n *tree_sitter.Node) bool {
		if n.Kind() != "export_statement" {
			return true
		}
		if decl := n.ChildByFieldName("declaration"); decl != nil {
			if name, ok := jsDeclName(decl, src); ok {
				out = append(out, name)
			}
		}
		out = append(out, collectKind(n, src, "export_specifier", func(s string) string {
			return s
		})...)
		return false
	})
	return out
}

func jsSymbol(node *tree_sitter.Node, src []byte) (string, bool) {
	switch node.Kind() {
	case "lexical_declaration", "variable_declaration":
		for i := uint(0); i < node.NamedChildCount(); i++ {
			child := node.NamedChild(i)
			if child != nil && child.Kind() == "variable_declarator" {
				return fieldName(child, src)
			}
		}
		return "", false
	case "export_statement":
		if decl := node.ChildByFieldName("declaration"); decl != nil {
			return jsDeclName(decl, src)
		}
		return "", false
	case "import_statement":
		return "", false
	}
	return fieldName(node, src)
}

func jsDeclName(decl *tree_sitter.Node, src []byte) (string, bool) {
	switch decl.Kind() {
	case "lexical_declaration", "variable_declaration":
		return jsSymbol(decl, src)
	}
	return fieldName(decl, src)
}
