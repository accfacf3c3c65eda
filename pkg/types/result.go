package types

// SearchResult is one ranked retrieval hit.
type SearchResult struct {
	Block      Block
	Similarity float64 // best single-query similarity in [0,1]
	Score      float64 // combined multi-query score in [0,1]
	QueryHits  int     // number of distinct queries that matched
	Related    []Block // same-file blocks sharing symbols, when expansion is on
}

// DetailLevel controls how much of a block's content is rendered.
type DetailLevel string

const (
	DetailSignatures DetailLevel = "signatures"
	DetailPartial    DetailLevel = "partial"
	DetailFull       DetailLevel = "full"
)

// Valid reports whether the detail level is recognized.
func (d DetailLevel) Valid() bool {
	switch d {
	case DetailSignatures, DetailPartial, DetailFull:
		return true
	}
	return false
}

// OutputFormat selects the rendered payload encoding.
type OutputFormat string

const (
	FormatText     OutputFormat = "text"
	FormatMarkdown OutputFormat = "markdown"
	FormatJSON     OutputFormat = "json"
)

// Valid reports whether the output format is recognized.
func (f OutputFormat) Valid() bool {
	switch f {
	case FormatText, FormatMarkdown, FormatJSON:
		return true
	}
	return false
}

// SearchMode restricts which block kinds are searched.
type SearchMode string

const (
	ModeAll  SearchMode = "all"
	ModeCode SearchMode = "code"
	ModeDocs SearchMode = "docs"
	ModeText SearchMode = "text"
)

// Kinds returns the block kinds a mode covers.
func (m SearchMode) Kinds() []BlockKind {
	switch m {
	case ModeCode:
		return []BlockKind{KindCode}
	case ModeDocs:
		return []BlockKind{KindDoc}
	case ModeText:
		return []BlockKind{KindText}
	default:
		return []BlockKind{KindCode, KindDoc, KindText}
	}
}

// Valid reports whether the mode is recognized.
func (m SearchMode) Valid() bool {
	switch m {
	case ModeAll, ModeCode, ModeDocs, ModeText:
		return true
	}
	return false
}
