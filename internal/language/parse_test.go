package language

import (
	"errors"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
)

// parseForTest parses src with the adapter's grammar. Test helper only;
// production parsing lives in the chunker.
func parseForTest(lang Language, src []byte) (*tree_sitter.Tree, error) {
	parser := tree_sitter.NewParser()
	defer parser.Close()
	if err := parser.SetLanguage(lang.Grammar()); err != nil {
		return nil, err
	}
	tree := parser.Parse(src, nil)
	if tree == nil {
		return nil, errors.New("parse returned nil tree")
	}
	return tree, nil
}
