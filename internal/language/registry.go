// Package language wires per-language tree-sitter grammars and exposes
// a uniform adapter capability set: meaningful AST kinds, import/export
// extraction, signature rendering, and symbol naming.
//
// Adapters are values. Adding a language is adding one adapter and one
// registry entry. Markdown, Svelte and SCSS carve regions by scanning
// source text directly; their Grammar() is nil and they implement
// Scanner instead.
package language

import (
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/dshills/semcode/pkg/types"
)

// Language is the adapter capability set for one source language.
type Language interface {
	// Name is the language tag stored on blocks (e.g. "rust").
	Name() string
	// Grammar returns the parse table, or nil for scanner adapters.
	Grammar() *tree_sitter.Language
	// MeaningfulKinds is the set of AST node kinds treated as top-level
	// semantic regions.
	MeaningfulKinds() map[string]bool
	// ExtractImports returns the module/file references the source pulls in.
	ExtractImports(root *tree_sitter.Node, src []byte) []string
	// ExtractExports returns the public symbols the source offers.
	ExtractExports(root *tree_sitter.Node, src []byte) []string
	// Signature renders a short human-readable header for a region,
	// at most 5 lines, ellipsized with "...".
	Signature(node *tree_sitter.Node, src []byte) string
	// SymbolName extracts the region's identifier, if it has one.
	SymbolName(node *tree_sitter.Node, src []byte) (string, bool)
}

// Region is a carved source region produced by scanner adapters.
type Region struct {
	Kind      types.BlockKind
	StartLine int // 1-indexed inclusive
	EndLine   int
	Content   string
	Symbols   []string
}

// Scanner is implemented by adapters that carve regions without a
// parse table (markdown, svelte, scss).
type Scanner interface {
	Scan(src []byte) []Region
}

// Registry maps file extensions to language adapters.
type Registry struct {
	byExt map[string]Language
}

// NewRegistry returns the registry with every supported language wired.
func NewRegistry() *Registry {
	r := &Registry{byExt: map[string]Language{}}

	register := func(lang Language, exts ...string) {
		for _, e := range exts {
			r.byExt[e] = lang
		}
	}

	register(newGo(), ".go")
	register(newRust(), ".rs")
	register(newPython(), ".py")
	register(newJavaScript(), ".js", ".mjs", ".cjs", ".jsx")
	register(newTypeScript(false), ".ts", ".mts", ".cts")
	register(newTypeScript(true), ".tsx")
	register(newPHP(), ".php")
	register(newCPP(), ".cpp", ".cc", ".cxx", ".hpp", ".hh", ".hxx", ".h", ".c")
	register(newRuby(), ".rb", ".rake")
	register(newJSON(), ".json")
	register(newBash(), ".sh", ".bash")
	register(newMarkdown(), ".md", ".markdown")
	register(newCSS(), ".css")
	register(newSCSS(), ".scss", ".sass")
	register(newSvelte(), ".svelte")

	return r
}

// ForPath returns the adapter for a file path, or nil when the
// extension is unknown (plain-text fallback).
func (r *Registry) ForPath(path string) Language {
	idx := strings.LastIndex(path, ".")
	if idx < 0 {
		return nil
	}
	return r.byExt[strings.ToLower(path[idx:])]
}

// Extensions returns every registered extension.
func (r *Registry) Extensions() []string {
	exts := make([]string, 0, len(r.byExt))
	for e := range r.byExt {
		exts = append(exts, e)
	}
	return exts
}

// adapter is the shared tree-backed implementation. Behavior is
// parameterized per language through function fields.
type adapter struct {
	name       string
	grammar    *tree_sitter.Language
	meaningful map[string]bool
	importsFn  func(root *tree_sitter.Node, src []byte) []string
	exportsFn  func(root *tree_sitter.Node, src []byte) []string
	symbolFn   func(node *tree_sitter.Node, src []byte) (string, bool)
}

func (a *adapter) Name() string                     { return a.name }
func (a *adapter) Grammar() *tree_sitter.Language   { return a.grammar }
func (a *adapter) MeaningfulKinds() map[string]bool { return a.meaningful }

func (a *adapter) ExtractImports(root *tree_sitter.Node, src []byte) []string {
	if a.importsFn == nil || root == nil {
		return nil
	}
	return dedupe(a.importsFn(root, src))
}

func (a *adapter) ExtractExports(root *tree_sitter.Node, src []byte) []string {
	if a.exportsFn == nil || root == nil {
		return nil
	}
	return dedupe(a.exportsFn(root, src))
}

func (a *adapter) SymbolName(node *tree_sitter.Node, src []byte) (string, bool) {
	if node == nil {
		return "", false
	}
	if a.symbolFn != nil {
		return a.symbolFn(node, src)
	}
	return fieldName(node, src)
}

// maxSignatureLines bounds Signature output.
const maxSignatureLines = 5

func (a *adapter) Signature(node *tree_sitter.Node, src []byte) string {
	if node == nil {
		return ""
	}
	return Ellipsize(node.Utf8Text(src), maxSignatureLines)
}

// Ellipsize truncates text to n lines, appending a literal "..." when
// anything was cut.
func Ellipsize(text string, n int) string {
	lines := strings.Split(text, "\n")
	if len(lines) <= n {
		return text
	}
	return strings.Join(lines[:n-1], "\n") + "\n..."
}

// fieldName reads the node's "name" field, falling back to "type".
func fieldName(node *tree_sitter.Node, src []byte) (string, bool) {
	for _, field := range []string{"name", "type"} {
		if n := node.ChildByFieldName(field); n != nil {
			return n.Utf8Text(src), true
		}
	}
	return "", false
}

// walkNodes visits every node pre-order, calling fn; fn returning false
// prunes the subtree.
func walkNodes(root *tree_sitter.Node, fn func(n *tree_sitter.Node) bool) {
	if root == nil {
		return
	}
	cursor := root.Walk()
	defer cursor.Close()

	var visit func() bool
	visit = func() bool {
		node := cursor.Node()
		descend := fn(node)
		if descend && cursor.GotoFirstChild() {
			for {
				if !visit() {
					return false
				}
				if !cursor.GotoNextSibling() {
					break
				}
			}
			cursor.GotoParent()
		}
		return true
	}
	visit()
}

// collectKind gathers the text of every node of the given kind,
// transformed by clean.
func collectKind(root *tree_sitter.Node, src []byte, kind string, clean func(string) string) []string {
	var out []string
	walkNodes(root, func(n *tree_sitter.Node) bool {
		if n.Kind() == kind {
			text := n.Utf8Text(src)
			if clean != nil {
				text = clean(text)
			}
			if text != "" {
				out = append(out, text)
			}
			return false
		}
		return true
	})
	return out
}

// trimQuotes strips one layer of single, double or angle quoting.
func trimQuotes(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') ||
			(first == '`' && last == '`') || (first == '<' && last == '>') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

func dedupe(in []string) []string {
	if len(in) < 2 {
		return in
	}
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// topLevelPublicNames walks direct and near-top declarations and keeps
// names the isPublic predicate accepts.
func topLevelPublicNames(root *tree_sitter.Node, src []byte, kinds map[string]bool, isPublic func(node *tree_sitter.Node, name string) bool) []string {
	var out []string
	walkNodes(root, func(n *tree_sitter.Node) bool {
		if !kinds[n.Kind()] {
			return true
		}
		if name, ok := fieldName(n, src); ok && isPublic(n, name) {
			out = append(out, name)
		}
		return false
	})
	return out
}
