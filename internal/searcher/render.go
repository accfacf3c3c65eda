package searcher

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dshills/semcode/internal/embedder"
	"github.com/dshills/semcode/internal/language"
	"github.com/dshills/semcode/pkg/types"
)

// RenderOptions shape the final payload.
type RenderOptions struct {
	Format    types.OutputFormat
	Detail    types.DetailLevel
	MaxTokens int // 0 = unbounded; truncation keeps top-ranked items whole
}

// Render produces the user-facing payload for a result set.
func Render(results []types.SearchResult, opts RenderOptions) (string, error) {
	if opts.Format == "" {
		opts.Format = types.FormatText
	}
	if opts.Detail == "" {
		opts.Detail = types.DetailPartial
	}

	switch opts.Format {
	case types.FormatJSON:
		return renderJSON(results, opts)
	case types.FormatMarkdown:
		return renderItems(results, opts, markdownItem), nil
	default:
		return renderItems(results, opts, textItem), nil
	}
}

// renderItems emits items in rank order until the token budget runs
// out; an item never renders partially.
func renderItems(results []types.SearchResult, opts RenderOptions, render func(types.SearchResult, types.DetailLevel) string) string {
	var b strings.Builder
	used := 0
	for _, r := range results {
		item := render(r, opts.Detail)
		cost := embedder.EstimateTokens(item)
		if opts.MaxTokens > 0 && used+cost > opts.MaxTokens && b.Len() > 0 {
			break
		}
		used += cost
		b.WriteString(item)
	}
	return b.String()
}

func locationOf(blk *types.Block) string {
	return fmt.Sprintf("%s:%d-%d", blk.Path, blk.StartLine, blk.EndLine)
}

// detailContent renders a block's content at the requested level.
func detailContent(blk *types.Block, detail types.DetailLevel) string {
	switch detail {
	case types.DetailSignatures:
		return language.Ellipsize(blk.Content, 5)
	case types.DetailFull:
		return blk.Content
	default:
		return partialContent(blk.Content)
	}
}

// partialContent shows the first 2 and last 2 lines with an ellipsis
// when the block exceeds 5 lines.
func partialContent(content string) string {
	lines := strings.Split(content, "\n")
	if len(lines) <= 5 {
		return content
	}
	out := make([]string, 0, 5)
	out = append(out, lines[0], lines[1], "...")
	out = append(out, lines[len(lines)-2], lines[len(lines)-1])
	return strings.Join(out, "\n")
}

func textItem(r types.SearchResult, detail types.DetailLevel) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  (score %.3f)\n", locationOf(&r.Block), r.Score)
	b.WriteString(detailContent(&r.Block, detail))
	b.WriteString("\n\n")
	for _, rel := range r.Related {
		fmt.Fprintf(&b, "  related: %s\n", locationOf(&rel))
	}
	return b.String()
}

func markdownItem(r types.SearchResult, detail types.DetailLevel) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### `%s` (score %.3f)\n\n", locationOf(&r.Block), r.Score)
	lang := r.Block.Language
	fmt.Fprintf(&b, "```%s\n%s\n```\n\n", lang, detailContent(&r.Block, detail))
	for _, rel := range r.Related {
		fmt.Fprintf(&b, "- related: `%s`\n", locationOf(&rel))
	}
	return b.String()
}

// jsonResult is the wire shape of one hit.
type jsonResult struct {
	Path       string   `json:"path"`
	StartLine  int      `json:"start_line"`
	EndLine    int      `json:"end_line"`
	Kind       string   `json:"kind"`
	Language   string   `json:"language"`
	Symbols    []string `json:"symbols,omitempty"`
	Score      float64  `json:"score"`
	Similarity float64  `json:"similarity"`
	Content    string   `json:"content"`
	Related    []string `json:"related,omitempty"`
}

func renderJSON(results []types.SearchResult, opts RenderOptions) (string, error) {
	items := make([]jsonResult, 0, len(results))
	used := 0
	for _, r := range results {
		content := detailContent(&r.Block, opts.Detail)
		cost := embedder.EstimateTokens(content)
		if opts.MaxTokens > 0 && used+cost > opts.MaxTokens && len(items) > 0 {
			break
		}
		used += cost
		item := jsonResult{
			Path:       r.Block.Path,
			StartLine:  r.Block.StartLine,
			EndLine:    r.Block.EndLine,
			Kind:       string(r.Block.Kind),
			Language:   r.Block.Language,
			Symbols:    r.Block.Symbols,
			Score:      r.Score,
			Similarity: r.Similarity,
			Content:    content,
		}
		for _, rel := range r.Related {
			item.Related = append(item.Related, locationOf(&rel))
		}
		items = append(items, item)
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
