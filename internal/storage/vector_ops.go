package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
)

// serializeVector converts a float32 slice to a byte blob (little-endian).
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice.
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// cosineSimilarity computes the cosine of the angle between two vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// similarityFromCosine maps cosine [-1,1] through distance d = 1-cos to
// the [0,1] similarity the query API returns: 1 - d/2.
func similarityFromCosine(cos float64) float64 {
	return (1 + cos) / 2
}

// Filters is an optional AND of equality predicates applied to KNN.
type Filters struct {
	Path           string
	Language       string
	SymbolContains string
}

func (f *Filters) apply(query string, args []any) (string, []any) {
	if f == nil {
		return query, args
	}
	if f.Path != "" {
		query += " AND path = ?"
		args = append(args, f.Path)
	}
	if f.Language != "" {
		query += " AND language = ?"
		args = append(args, f.Language)
	}
	if f.SymbolContains != "" {
		// symbols is a JSON array of strings; match the quoted element
		query += " AND symbols LIKE ?"
		args = append(args, `%"`+escapeLike(f.SymbolContains)+`"%`)
	}
	return query, args
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `%`, ``)
	return strings.ReplaceAll(s, `_`, ``)
}

// scored pairs a row id with its similarity during ranking.
type scored struct {
	rowid int64
	score float64
}

// scanCandidates runs the candidate query, scoring each row's
// embedding against the query vector.
func scanCandidates(ctx context.Context, db *sql.DB, query string, args []any, queryVec []float32) ([]scored, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []scored
	for rows.Next() {
		var rowid int64
		var blob []byte
		if err := rows.Scan(&rowid, &blob); err != nil {
			return nil, err
		}
		vec := deserializeVector(blob)
		if len(vec) != len(queryVec) {
			continue // dimension mismatch, skip
		}
		out = append(out, scored{
			rowid: rowid,
			score: similarityFromCosine(cosineSimilarity(queryVec, vec)),
		})
	}
	return out, rows.Err()
}

func sortScored(candidates []scored) {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].rowid < candidates[j].rowid
	})
}

// knnRowIDs returns the rowids of the k nearest rows in table, using
// the IVF index when the optimizer has built one and falling back to a
// full scan otherwise.
func (s *Store) knnRowIDs(ctx context.Context, table string, queryVec []float32, k int, filters *Filters) ([]scored, error) {
	if k <= 0 {
		return nil, nil
	}

	idx, search := s.opt.searchPlan(ctx, table)
	base := "SELECT rowid, embedding FROM " + table + " WHERE 1=1"

	if idx != nil {
		parts := idx.nearestPartitions(queryVec, search.NProbes)
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(parts)), ",")
		// unassigned rows (-1) predate the current index; always probe them
		query := base + " AND (partition IN (" + placeholders + ") OR partition = -1)"
		args := make([]any, 0, len(parts)+2)
		for _, p := range parts {
			args = append(args, p)
		}
		query, args = filters.apply(query, args)

		candidates, err := scanCandidates(ctx, s.db, query, args, queryVec)
		if err == nil && len(candidates) > 0 {
			// the probed partitions must supply a refine_factor
			// multiple of k exact-scored candidates; a thinner pool
			// (filters, skewed partitions) falls back to the full scan
			// rather than silently losing recall
			probedAll := len(parts) >= len(idx.centroids)
			if len(candidates) >= k*search.RefineFactor || probedAll {
				sortScored(candidates)
				return candidates[:min(k, len(candidates))], nil
			}
		}
		// thin, empty or failed probe: fall through to the brute-force scan
	}

	query, args := filters.apply(base, nil)
	candidates, err := scanCandidates(ctx, s.db, query, args, queryVec)
	if err != nil {
		return nil, err
	}
	sortScored(candidates)
	return candidates[:min(k, len(candidates))], nil
}
