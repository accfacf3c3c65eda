package language

import (
	"unicode"
	"unicode/utf8"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_go "github.com/tree-sitter/tree-sitter-go/bindings/go"
)

func newGo() Language {
	return &adapter{
		name:    "go",
		grammar: tree_sitter.NewLanguage(tree_sitter_go.Language()),
		meaningful: map[string]bool{
			"function_declaration": true,
			"method_declaration":   true,
			"type_declaration":     true,
			"const_declaration":    true,
			"var_declaration":      true,
			"import_declaration":   true,
		},
		importsFn: goImports,
		exportsFn: goExports,
		symbolFn:  goSymbol,
	}
}

func goImports(root *tree_sitter.Node, src []byte) []string {
	return collectKind(root, src, "import_spec", func(s string) string {
		// strip an optional alias: `alias "path"` or just `"path"`
		if i := lastQuoted(s); i != "" {
			return i
		}
		return trimQuotes(s)
	})
}

func goExports(root *tree_sitter.Node, src []byte) []string {
	kinds := map[string]bool{
		"function_declaration": true,
		"method_declaration":   true,
		"type_spec":            true,
		"const_spec":           true,
		"var_spec":             true,
	}
	return topLevelPublicNames(root, src, kinds, func(_ *tree_sitter.Node, name string) bool {
		return isGoExported(name)
	})
}

func goSymbol(node *tree_sitter.Node, src []byte) (string, bool) {
	switch node.Kind() {
	case "type_declaration", "const_declaration", "var_declaration":
		// name lives on the inner *_spec child
		for i := uint(0); i < node.ChildCount(); i++ {
			child := node.Child(i)
			if child == nil {
				continue
			}
			switch child.Kind() {
			case "type_spec", "const_spec", "var_spec":
				return fieldName(child, src)
			}
		}
		return "", false
	case "import_declaration":
		return "", false
	}
	return fieldName(node, src)
}

func isGoExported(name string) bool {
	r, _ := utf8.DecodeRuneInString(name)
	return unicode.IsUpper(r)
}

// lastQuoted returns the content of the last quoted literal in s, or "".
func lastQuoted(s string) string {
	end := -1
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '"' {
			if end < 0 {
				end = i
				continue
			}
			return s[i+1 : end]
		}
	}
	return ""
}
