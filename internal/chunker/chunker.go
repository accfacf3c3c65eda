// Package chunker carves source files into semantically coherent
// blocks: tree-sitter regions for parsed languages, header sections for
// markdown, and a whole-file fallback for plain text.
package chunker

import (
	"errors"
	"fmt"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/dshills/semcode/internal/language"
	"github.com/dshills/semcode/pkg/types"
)

// Merge budget for adjacent tiny declarations (import blocks and the
// like).
const (
	mergeMaxLines = 25
	mergeMaxChars = 2000
)

var (
	// ErrParseFailed is returned when tree-sitter could not produce a
	// tree. The caller leaves prior blocks intact.
	ErrParseFailed = errors.New("parse failed")
)

// Chunker turns file contents into blocks.
type Chunker struct {
	registry     *language.Registry
	chunkSize    int
	chunkOverlap int
}

// New creates a Chunker. chunkSize/chunkOverlap follow the index config.
func New(registry *language.Registry, chunkSize, chunkOverlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 2000
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = 100
	}
	return &Chunker{registry: registry, chunkSize: chunkSize, chunkOverlap: chunkOverlap}
}

// Registry exposes the language registry for callers that need adapter
// capabilities (import extraction, signatures).
func (c *Chunker) Registry() *language.Registry { return c.registry }

// ChunkFile produces the ordered block sequence for one file. The
// blocks carry sealed ids and no embeddings.
func (c *Chunker) ChunkFile(relPath string, src []byte) ([]types.Block, string, error) {
	lang := c.registry.ForPath(relPath)
	if lang == nil {
		return c.wholeFile(relPath, src, "text", types.KindText), "text", nil
	}

	var regions []language.Region
	if scanner, ok := lang.(language.Scanner); ok {
		regions = scanner.Scan(src)
	} else {
		var err error
		regions, err = c.treeRegions(lang, src)
		if err != nil {
			return nil, lang.Name(), err
		}
	}

	if len(regions) == 0 {
		return c.wholeFile(relPath, src, lang.Name(), types.KindCode), lang.Name(), nil
	}

	regions = mergeTinyNeighbors(regions)
	regions = c.splitHuge(regions)

	blocks := make([]types.Block, 0, len(regions))
	for _, r := range regions {
		if strings.TrimSpace(r.Content) == "" {
			continue
		}
		b := types.Block{
			Kind:      r.Kind,
			Path:      relPath,
			Language:  lang.Name(),
			Symbols:   r.Symbols,
			StartLine: r.StartLine,
			EndLine:   r.EndLine,
			Content:   r.Content,
		}
		b.SealID()
		blocks = append(blocks, b)
	}
	if len(blocks) == 0 {
		return c.wholeFile(relPath, src, lang.Name(), regionKindFor(lang)), lang.Name(), nil
	}
	return blocks, lang.Name(), nil
}

// treeRegions parses src and emits one region per meaningful node,
// pre-order, never descending into a matched node.
func (c *Chunker) treeRegions(lang language.Language, src []byte) ([]language.Region, error) {
	parser := tree_sitter.NewParser()
	defer parser.Close()

	if err := parser.SetLanguage(lang.Grammar()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseFailed, err)
	}
	tree := parser.Parse(src, nil)
	if tree == nil {
		return nil, ErrParseFailed
	}
	defer tree.Close()

	root := tree.RootNode()
	kinds := lang.MeaningfulKinds()
	var regions []language.Region

	cursor := root.Walk()
	defer cursor.Close()
	collectRegions(cursor, src, lang, kinds, &regions)
	return regions, nil
}

func collectRegions(cursor *tree_sitter.TreeCursor, src []byte, lang language.Language, kinds map[string]bool, out *[]language.Region) {
	node := cursor.Node()
	if kinds[node.Kind()] {
		*out = append(*out, regionFromNode(node, src, lang))
		return // matched regions swallow their descendants
	}
	if cursor.GotoFirstChild() {
		for {
			collectRegions(cursor, src, lang, kinds, out)
			if !cursor.GotoNextSibling() {
				break
			}
		}
		cursor.GotoParent()
	}
}

func regionFromNode(node *tree_sitter.Node, src []byte, lang language.Language) language.Region {
	start := int(node.StartPosition().Row) + 1
	end := int(node.EndPosition().Row) + 1
	content := node.Utf8Text(src)

	var symbols []string
	if name, ok := lang.SymbolName(node, src); ok && name != "" {
		symbols = []string{name}
	}
	return language.Region{
		Kind:      types.KindCode,
		StartLine: start,
		EndLine:   end,
		Content:   content,
		Symbols:   symbols,
	}
}

// mergeTinyNeighbors folds runs of adjacent single-line regions (import
// blocks, constant lists) into one region, bounded by the merge budget.
func mergeTinyNeighbors(regions []language.Region) []language.Region {
	if len(regions) < 2 {
		return regions
	}
	out := make([]language.Region, 0, len(regions))
	cur := regions[0]
	curRun := cur.EndLine == cur.StartLine // cur holds only single-line regions
	for _, next := range regions[1:] {
		nextTiny := next.EndLine == next.StartLine
		adjacent := next.StartLine-cur.EndLine <= 1
		merged := mergedSpan(cur, next)
		within := merged.EndLine-merged.StartLine+1 <= mergeMaxLines && len(merged.Content) <= mergeMaxChars
		if curRun && nextTiny && adjacent && cur.Kind == next.Kind && within {
			cur = merged
			continue
		}
		out = append(out, cur)
		cur = next
		curRun = nextTiny
	}
	out = append(out, cur)
	return out
}

func mergedSpan(a, b language.Region) language.Region {
	gap := b.StartLine - a.EndLine - 1
	content := a.Content
	for i := 0; i < gap; i++ {
		content += "\n"
	}
	content += "\n" + b.Content
	return language.Region{
		Kind:      a.Kind,
		StartLine: a.StartLine,
		EndLine:   b.EndLine,
		Content:   content,
		Symbols:   append(append([]string{}, a.Symbols...), b.Symbols...),
	}
}

// splitHuge splits regions whose content exceeds chunkSize along blank
// lines, carrying chunkOverlap characters of trailing context into the
// next piece. The union of split line ranges covers the original.
func (c *Chunker) splitHuge(regions []language.Region) []language.Region {
	var out []language.Region
	for _, r := range regions {
		if len(r.Content) <= c.chunkSize {
			out = append(out, r)
			continue
		}
		out = append(out, c.splitRegion(r)...)
	}
	return out
}

func (c *Chunker) splitRegion(r language.Region) []language.Region {
	lines := strings.Split(r.Content, "\n")
	var pieces []language.Region

	start := 0 // line offset within r
	for start < len(lines) {
		size := 0
		end := start
		lastBlank := -1
		for end < len(lines) && size <= c.chunkSize {
			if strings.TrimSpace(lines[end]) == "" {
				lastBlank = end
			}
			size += len(lines[end]) + 1
			end++
		}
		if end < len(lines) && lastBlank > start {
			end = lastBlank // cut at the last blank line inside budget
		}
		if end == start {
			end = start + 1
		}
		content := strings.Join(lines[start:end], "\n")
		pieces = append(pieces, language.Region{
			Kind:      r.Kind,
			StartLine: r.StartLine + start,
			EndLine:   r.StartLine + end - 1,
			Content:   content,
			Symbols:   r.Symbols,
		})
		if end >= len(lines) {
			break
		}
		// back up to overlap the tail of this piece into the next
		overlap := 0
		back := end
		for back > start && overlap < c.chunkOverlap {
			back--
			overlap += len(lines[back]) + 1
		}
		if back <= start {
			back = end
		}
		start = back
	}
	return pieces
}

func (c *Chunker) wholeFile(relPath string, src []byte, langName string, kind types.BlockKind) []types.Block {
	content := strings.TrimRight(string(src), "\n")
	if strings.TrimSpace(content) == "" {
		return nil
	}
	lineCount := strings.Count(content, "\n") + 1
	b := types.Block{
		Kind:      kind,
		Path:      relPath,
		Language:  langName,
		StartLine: 1,
		EndLine:   lineCount,
		Content:   content,
	}
	b.SealID()
	blocks := []types.Block{b}
	// a whole-file block above chunkSize still gets split
	if len(content) > c.chunkSize {
		regions := c.splitRegion(language.Region{
			Kind: kind, StartLine: 1, EndLine: lineCount, Content: content,
		})
		blocks = blocks[:0]
		for _, r := range regions {
			nb := types.Block{
				Kind:      r.Kind,
				Path:      relPath,
				Language:  langName,
				StartLine: r.StartLine,
				EndLine:   r.EndLine,
				Content:   r.Content,
			}
			nb.SealID()
			blocks = append(blocks, nb)
		}
	}
	return blocks
}

func regionKindFor(lang language.Language) types.BlockKind {
	if lang.Name() == "markdown" {
		return types.KindDoc
	}
	return types.KindCode
}

// ParseTree parses src with the language's grammar for callers that
// need adapter extraction (imports/exports). Returns nil for scanner
// adapters. The caller must Close the returned tree.
func ParseTree(lang language.Language, src []byte) (*tree_sitter.Tree, error) {
	if lang == nil || lang.Grammar() == nil {
		return nil, nil
	}
	parser := tree_sitter.NewParser()
	defer parser.Close()
	if err := parser.SetLanguage(lang.Grammar()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseFailed, err)
	}
	tree := parser.Parse(src, nil)
	if tree == nil {
		return nil, ErrParseFailed
	}
	return tree, nil
}
