package language

import (
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"
)

func newPython() Language {
	return &adapter{
		name:    "python",
		grammar: tree_sitter.NewLanguage(tree_sitter_python.Language()),
		meaningful: map[string]bool{
			"function_definition":   true,
			"class_definition":      true,
			"decorated_definition":  true,
			"import_statement":      true,
			"import_from_statement": true,
		},
		importsFn: pythonImports,
		exportsFn: pythonExports,
		symbolFn:  pythonSymbol,
	}
}

func pythonImports(root *tree_sitter.Node, src []byte) []string {
	var out []string
	walkNodes(root, func(n *tree_sitter.Node) bool {
		switch n.Kind() {
		case "import_statement":
			out = append(out, collectKind(n, src, "dotted_name", nil)...)
			return false
		case "import_from_statement":
			if mod := n.ChildByFieldName("module_name"); mod != nil {
				out = append(out, mod.Utf8Text(src))
			}
			return false
		}
		return true
	})
	return out
}

func pythonExports(root *tree_sitter.Node, src []byte) []string {
	kinds := map[string]bool{"function_definition": true, "class_definition": true}
	return topLevelPublicNames(root, src, kinds, func(_ *tree_sitter.Node, name string) bool {
		return !strings.HasPrefix(name, "_")
	})
}

func pythonSymbol(node *tree_sitter.Node, src []byte) (string, bool) {
	if node.Kind() == "decorated_definition" {
		if def := node.ChildByFieldName("definition"); def != nil {
			return fieldName(def, src)
		}
		return "", false
	}
	if strings.HasPrefix(node.Kind(), "import") {
		return "", false
	}
	return fieldName(node, src)
}
