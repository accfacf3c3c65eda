package language

import (
	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"
)

func newTypeScript(tsx bool) Language {
	grammar := tree_sitter_typescript.LanguageTypescript()
	name := "typescript"
	if tsx {
		grammar = tree_sitter_typescript.LanguageTSX()
		name = "tsx"
	}
	return &adapter{
		name:    name,
		grammar: tree_sitter.NewLanguage(grammar),
		meaningful: map[string]bool{
			"function_declaration":           true,
			"generator_function_declaration": true,
			"class_declaration":              true,
			"abstract_class_declaration":     true,
			"method_definition":              true,
			"interface_declaration":          true,
			"type_alias_declaration":         true,
			"enum_declaration":               true,
			"module":                         true,
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
