package language

import (
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/dshills/semcode/pkg/types"
)

// minMarkdownChunk is the minimum section size in characters. A section
// whose whole subtree is shorter emits as one region, never across a
// higher-level header boundary. A short leaf under a larger parent is
// not merged into the parent; it emits as its own region.
const minMarkdownChunk = 200

// markdownAdapter carves ATX-header sections without a parse table.
type markdownAdapter struct{}

func newMarkdown() Language { return &markdownAdapter{} }

func (m *markdownAdapter) Name() string                     { return "markdown" }
func (m *markdownAdapter) Grammar() *tree_sitter.Language   { return nil }
func (m *markdownAdapter) MeaningfulKinds() map[string]bool { return map[string]bool{"section": true} }

func (m *markdownAdapter) ExtractImports(_ *tree_sitter.Node, _ []byte) []string { return nil }
func (m *markdownAdapter) ExtractExports(_ *tree_sitter.Node, _ []byte) []string { return nil }

func (m *markdownAdapter) Signature(_ *tree_sitter.Node, _ []byte) string { return "" }

func (m *markdownAdapter) SymbolName(_ *tree_sitter.Node, _ []byte) (string, bool) {
	return "", false
}

// section is one node of the header tree.
type section struct {
	level     int // 0 = preamble before the first header
	title     string
	startLine int
	endLine   int
	content   []string
	children  []*section
}

func (s *section) chars() int {
	n := 0
	for _, l := range s.content {
		n += len(l) + 1
	}
	for _, c := range s.children {
		n += c.chars()
	}
	return n
}

func (s *section) text() string {
	var b strings.Builder
	for _, l := range s.content {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	for _, c := range s.children {
		b.WriteString(c.text())
	}
	return b.String()
}

func (s *section) lastLine() int {
	last := s.endLine
	for _, c := range s.children {
		if cl := c.lastLine(); cl > last {
			last = cl
		}
	}
	return last
}

func (s *section) titles() []string {
	out := []string{}
	if s.title != "" {
		out = append(out, s.title)
	}
	for _, c := range s.children {
		out = append(out, c.titles()...)
	}
	return out
}

// Scan builds a header tree and emits section chunks; a subtree shorter
// than minMarkdownChunk emits whole, and short leaves are not folded
// upward into a larger parent.
func (m *markdownAdapter) Scan(src []byte) []Region {
	lines := strings.Split(string(src), "\n")
	root := &section{level: 0, startLine: 1}
	stack := []*section{root}
	inFence := false

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
		}
		level, title := headerLine(trimmed)
		if inFence || level == 0 {
			top := stack[len(stack)-1]
			top.content = append(top.content, line)
			top.endLine = i + 1
			continue
		}
		for len(stack) > 1 && stack[len(stack)-1].level >= level {
			stack = stack[:len(stack)-1]
		}
		sec := &section{
			level:     level,
			title:     title,
			startLine: i + 1,
			endLine:   i + 1,
			content:   []string{line},
		}
		parent := stack[len(stack)-1]
		parent.children = append(parent.children, sec)
		stack = append(stack, sec)
	}

	var regions []Region
	emitSections(root, &regions)
	return regions
}

// emitSections walks the tree bottom-up. A section whose whole subtree
// is under the minimum emits as one merged region; otherwise its own
// content emits (when non-blank) and children recurse.
func emitSections(s *section, out *[]Region) {
	if s.level > 0 && s.chars() < minMarkdownChunk {
		emitRegion(s.text(), s.startLine, s.titles(), out)
		return
	}
	if len(s.children) == 0 {
		var titles []string
		if s.title != "" {
			titles = []string{s.title}
		}
		emitRegion(strings.Join(s.content, "\n"), s.startLine, titles, out)
		return
	}
	// own content first (header + prose before the first subsection)
	var titles []string
	if s.title != "" {
		titles = []string{s.title}
	}
	emitRegion(strings.Join(s.content, "\n"), s.startLine, titles, out)
	for _, c := range s.children {
		emitSections(c, out)
	}
}

func emitRegion(text string, startLine int, symbols []string, out *[]Region) {
	trimmed := strings.TrimRight(text, "\n")
	if strings.TrimSpace(trimmed) == "" {
		return
	}
	lineCount := strings.Count(trimmed, "\n") + 1
	*out = append(*out, Region{
		Kind:      types.KindDoc,
		StartLine: startLine,
		EndLine:   startLine + lineCount - 1,
		Content:   trimmed,
		Symbols:   symbols,
	})
}

// headerLine parses an ATX header, returning (level, title) or (0, "").
func headerLine(line string) (int, string) {
	if !strings.HasPrefix(line, "#") {
		return 0, ""
	}
	level := 0
	for level < len(line) && line[level] == '#' {
		level++
	}
	if level > 6 || level == len(line) || line[level] != ' ' {
		return 0, ""
	}
	return level, strings.TrimSpace(line[level:])
}
