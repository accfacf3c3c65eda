package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/dshills/semcode/pkg/types"
)

const discoverSystem = `You are given source files, each introduced by a line "=== <path> ===".
Identify dependency relationships between the given files that are not visible as
literal import statements (shared protocols, runtime wiring, config coupling).
Return a JSON array of objects {"source": "<path>", "target": "<path>", "confidence": <0..1>}.
Only use paths from the input. Return only the JSON array.`

// aiRelationship is the wire shape the discovery prompt asks for.
type aiRelationship struct {
	Source     string  `json:"source"`
	Target     string  `json:"target"`
	Confidence float64 `json:"confidence"`
}

// discoverRelationships asks the model for dependency edges between the
// changed files. Edges carry the model's confidence; anything below the
// configured threshold, self-loops, and paths outside the known node
// set are dropped. LLM disabled or any failure yields no edges —
// structural edges are built regardless.
func (b *Builder) discoverRelationships(ctx context.Context, paths []string, known map[string]bool) map[string][]types.GraphEdge {
	out := map[string][]types.GraphEdge{}
	if b.llm == nil {
		return out
	}

	for start := 0; start < len(paths); start += describeBatchSize {
		end := start + describeBatchSize
		if end > len(paths) {
			end = len(paths)
		}
		batch := paths[start:end]
		if len(batch) < 2 {
			continue // relationships need at least two files
		}

		var prompt strings.Builder
		for _, p := range batch {
			data, err := os.ReadFile(filepath.Join(b.root, filepath.FromSlash(p)))
			if err != nil {
				continue
			}
			if len(data) > excerptBytes {
				data = data[:excerptBytes]
			}
			fmt.Fprintf(&prompt, "=== %s ===\n%s\n\n", p, data)
		}
		if prompt.Len() == 0 {
			continue
		}

		reqCtx, cancel := context.WithTimeout(ctx, describeTimeout)
		resp, err := b.llm.Complete(reqCtx, discoverSystem, prompt.String(), describeMaxTokens)
		cancel()
		if err != nil {
			logrus.WithError(err).Warn("relationship discovery batch failed")
			continue
		}

		var parsed []aiRelationship
		if err := json.Unmarshal([]byte(extractJSONArray(resp)), &parsed); err != nil {
			logrus.WithError(err).Warn("relationship discovery response was not JSON")
			continue
		}
		for _, rel := range parsed {
			edge, ok := b.edgeFromRelationship(rel, known)
			if !ok {
				continue
			}
			out[edge.SourceID] = append(out[edge.SourceID], edge)
		}
	}
	return out
}

// edgeFromRelationship validates one model-proposed relationship
// against the known node set and the confidence threshold.
func (b *Builder) edgeFromRelationship(rel aiRelationship, known map[string]bool) (types.GraphEdge, bool) {
	if rel.Source == rel.Target {
		return types.GraphEdge{}, false
	}
	if !known[rel.Source] || !known[rel.Target] {
		return types.GraphEdge{}, false
	}
	if rel.Confidence < 0 || rel.Confidence > 1 {
		return types.GraphEdge{}, false
	}
	if rel.Confidence < b.confidence {
		return types.GraphEdge{}, false
	}
	return types.GraphEdge{
		SourceID:   rel.Source,
		TargetID:   rel.Target,
		Kind:       types.EdgeImports,
		Weight:     rel.Confidence,
		Confidence: rel.Confidence,
	}, true
}

// extractJSONArray pulls the outermost JSON array from a completion
// that may wrap it in prose or a code fence.
func extractJSONArray(s string) string {
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}
