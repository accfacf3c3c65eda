package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// LLM is the injected completion capability used for file descriptions.
// The graph depends only on this interface and is indifferent to the
// concrete provider.
type LLM interface {
	Complete(ctx context.Context, system, user string, maxTokens int) (string, error)
}

// Description batching defaults.
const (
	describeBatchSize = 8
	describeMaxTokens = 16384
	describeTimeout   = 60 * time.Second

	// excerptBytes caps how much of each file reaches the model.
	excerptBytes = 2000
)

const describeSystem = `You are given source files, each introduced by a line "=== <path> ===".
Return a JSON object mapping each path to a one-sentence description of what the file does.
Return only the JSON object.`

// describe produces descriptions for the given paths. LLM disabled or
// any failure yields empty descriptions; structural edges are built
// regardless.
func (b *Builder) describe(ctx context.Context, paths []string) map[string]string {
	out := map[string]string{}
	if b.llm == nil {
		return out
	}

	for start := 0; start < len(paths); start += describeBatchSize {
		end := start + describeBatchSize
		if end > len(paths) {
			end = len(paths)
		}
		batch := paths[start:end]

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
		resp, err := b.llm.Complete(reqCtx, describeSystem, prompt.String(), describeMaxTokens)
		cancel()
		if err != nil {
			logrus.WithError(err).Warn("file description batch failed")
			continue
		}

		var parsed map[string]string
		if err := json.Unmarshal([]byte(extractJSON(resp)), &parsed); err != nil {
			logrus.WithError(err).Warn("file description response was not JSON")
			continue
		}
		for p, d := range parsed {
			out[p] = strings.TrimSpace(d)
		}
	}
	return out
}

// extractJSON pulls the outermost JSON object from a completion that
// may wrap it in prose or a code fence.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}
