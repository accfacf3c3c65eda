package storage

import (
	"context"
	"database/sql"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Index policy thresholds. Below minIndexRows a brute-force scan beats
// index build + lookup; milestones trigger parameter recomputation.
const (
	minIndexRows = 1000
	largeRows    = 100_000
)

var milestones = []int{1_000, 10_000, 100_000, 1_000_000}

// IndexParams are the IVF parameters chosen for a table size.
type IndexParams struct {
	ShouldCreate  bool
	NumPartitions int
	NumSubVectors int
}

// SearchParams tune probing for a built index.
type SearchParams struct {
	NProbes      int
	RefineFactor int
}

// CalculateIndexParams picks index parameters purely from dataset size
// and vector dimension. No user configuration.
func CalculateIndexParams(rowCount, dim int) IndexParams {
	if rowCount < minIndexRows {
		return IndexParams{ShouldCreate: false}
	}
	partitions := clamp(int(math.Sqrt(float64(rowCount))), 16, 256)
	return IndexParams{
		ShouldCreate:  true,
		NumPartitions: partitions,
		NumSubVectors: subVectorsFor(dim),
	}
}

// subVectorsFor returns the largest of {8,16,32,64} that divides dim
// and is at most dim/8. Falls back to 8 for odd dimensions.
func subVectorsFor(dim int) int {
	best := 8
	for _, sv := range []int{8, 16, 32, 64} {
		if dim%sv == 0 && sv <= dim/8 {
			best = sv
		}
	}
	return best
}

// CalculateSearchParams picks probing parameters for a built index.
func CalculateSearchParams(numPartitions, rowCount int) SearchParams {
	if rowCount >= largeRows {
		return SearchParams{
			NProbes:      clamp(int(math.Round(0.05*float64(numPartitions))), 8, 64),
			RefineFactor: 4,
		}
	}
	return SearchParams{
		NProbes:      clamp(int(math.Round(0.10*float64(numPartitions))), 4, 32),
		RefineFactor: 2,
	}
}

// milestoneFor returns the highest milestone at or below n, 0 below 1000.
func milestoneFor(n int) int {
	m := 0
	for _, ms := range milestones {
		if n >= ms {
			m = ms
		}
	}
	return m
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ivfIndex is an in-memory view of one table's coarse quantizer.
type ivfIndex struct {
	dim       int
	centroids [][]float32
	rows      int
}

// nearestPartitions returns the n partition ids whose centroids are
// closest to the query vector.
func (idx *ivfIndex) nearestPartitions(queryVec []float32, n int) []int {
	type pd struct {
		part int
		cos  float64
	}
	dists := make([]pd, len(idx.centroids))
	for i, c := range idx.centroids {
		dists[i] = pd{part: i, cos: cosineSimilarity(queryVec, c)}
	}
	sort.Slice(dists, func(i, j int) bool { return dists[i].cos > dists[j].cos })
	if n > len(dists) {
		n = len(dists)
	}
	out := make([]int, n)
	for i := 0; i < n; i++ {
		out[i] = dists[i].part
	}
	return out
}

// VectorOptimizer decides, per table, between brute-force scans and an
// IVF coarse index, rebuilding at growth milestones. Index failures are
// never fatal; retrieval falls back to scanning.
type VectorOptimizer struct {
	store *Store

	mu    sync.RWMutex
	cache map[string]*ivfIndex // loaded centroids per table
}

func newVectorOptimizer(s *Store) *VectorOptimizer {
	return &VectorOptimizer{store: s, cache: map[string]*ivfIndex{}}
}

// maybeRebuildLocked runs the policy after a batch insert. The caller
// holds the store's write lock.
func (o *VectorOptimizer) maybeRebuildLocked(ctx context.Context, table string, dim int) {
	n, err := o.store.CountRows(ctx, table)
	if err != nil {
		logrus.WithError(err).WithField("table", table).Warn("optimizer: row count failed")
		return
	}

	params := CalculateIndexParams(n, dim)
	if !params.ShouldCreate {
		return
	}

	lastMilestone, hasIndex := o.builtMilestone(ctx, table)
	current := milestoneFor(n)
	if hasIndex && current <= lastMilestone {
		return // no upward milestone crossing since the last build
	}

	if err := o.build(ctx, table, dim, n, params, current); err != nil {
		logrus.WithError(err).WithField("table", table).Warn("optimizer: index build failed, staying on brute force")
	}
}

// builtMilestone returns the milestone recorded at the last build.
func (o *VectorOptimizer) builtMilestone(ctx context.Context, table string) (int, bool) {
	var m int
	err := o.store.db.QueryRowContext(ctx,
		"SELECT milestone FROM vector_index_meta WHERE table_name = ?", table).Scan(&m)
	if err != nil {
		return 0, false
	}
	return m, true
}

// build trains the coarse quantizer and assigns every row a partition.
func (o *VectorOptimizer) build(ctx context.Context, table string, dim, n int, params IndexParams, milestone int) error {
	start := time.Now()

	rowids, vectors, err := o.loadVectors(ctx, table)
	if err != nil {
		return err
	}
	if len(vectors) == 0 {
		return nil
	}

	centroids := kmeans(vectors, params.NumPartitions, dim)

	tx, err := o.store.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, "UPDATE "+table+" SET partition = ? WHERE rowid = ?")
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for i, v := range vectors {
		part := nearestCentroid(v, centroids)
		if _, err := stmt.ExecContext(ctx, part, rowids[i]); err != nil {
			return err
		}
	}

	blob := make([]byte, 0, len(centroids)*dim*4)
	for _, c := range centroids {
		blob = append(blob, serializeVector(c)...)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO vector_index_meta
		(table_name, dim, num_partitions, num_sub_vectors, built_rows, milestone, centroids)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(table_name) DO UPDATE SET
			dim = excluded.dim,
			num_partitions = excluded.num_partitions,
			num_sub_vectors = excluded.num_sub_vectors,
			built_rows = excluded.built_rows,
			milestone = excluded.milestone,
			centroids = excluded.centroids
	`, table, dim, len(centroids), params.NumSubVectors, n, milestone, blob); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	o.mu.Lock()
	o.cache[table] = &ivfIndex{dim: dim, centroids: centroids, rows: n}
	o.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"table":       table,
		"rows":        n,
		"partitions":  len(centroids),
		"sub_vectors": params.NumSubVectors,
		"elapsed":     time.Since(start).String(),
	}).Info("vector index built")
	return nil
}

func (o *VectorOptimizer) loadVectors(ctx context.Context, table string) ([]int64, [][]float32, error) {
	rows, err := o.store.db.QueryContext(ctx, "SELECT rowid, embedding FROM "+table)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = rows.Close() }()

	var rowids []int64
	var vectors [][]float32
	for rows.Next() {
		var rowid int64
		var blob []byte
		if err := rows.Scan(&rowid, &blob); err != nil {
			return nil, nil, err
		}
		rowids = append(rowids, rowid)
		vectors = append(vectors, deserializeVector(blob))
	}
	return rowids, vectors, rows.Err()
}

// searchPlan returns the loaded index and its search parameters, or
// (nil, zero) when the table should be scanned brute-force.
func (o *VectorOptimizer) searchPlan(ctx context.Context, table string) (*ivfIndex, SearchParams) {
	o.mu.RLock()
	idx := o.cache[table]
	o.mu.RUnlock()

	if idx == nil {
		loaded, err := o.loadIndex(ctx, table)
		if err != nil || loaded == nil {
			return nil, SearchParams{}
		}
		o.mu.Lock()
		o.cache[table] = loaded
		o.mu.Unlock()
		idx = loaded
	}
	return idx, CalculateSearchParams(len(idx.centroids), idx.rows)
}

func (o *VectorOptimizer) loadIndex(ctx context.Context, table string) (*ivfIndex, error) {
	var dim, partitions, builtRows int
	var blob []byte
	err := o.store.db.QueryRowContext(ctx, `
		SELECT dim, num_partitions, built_rows, centroids
		FROM vector_index_meta WHERE table_name = ?`, table).
		Scan(&dim, &partitions, &builtRows, &blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if dim <= 0 || partitions <= 0 || len(blob) != partitions*dim*4 {
		return nil, nil // corrupt metadata: scan instead
	}
	centroids := make([][]float32, partitions)
	for i := 0; i < partitions; i++ {
		centroids[i] = deserializeVector(blob[i*dim*4 : (i+1)*dim*4])
	}
	return &ivfIndex{dim: dim, centroids: centroids, rows: builtRows}, nil
}

// Invalidate drops a table's cached index, forcing a metadata reload.
func (o *VectorOptimizer) Invalidate(table string) {
	o.mu.Lock()
	delete(o.cache, table)
	o.mu.Unlock()
}

// kmeansIterations bounds Lloyd's algorithm; centroid training doesn't
// need convergence, only balanced partitions.
const kmeansIterations = 8

// kmeansSample caps how many vectors train the quantizer.
const kmeansSample = 20_000

// kmeans trains k centroids over the vectors with a fixed seed so
// rebuilds are reproducible.
func kmeans(vectors [][]float32, k, dim int) [][]float32 {
	if k > len(vectors) {
		k = len(vectors)
	}
	rng := rand.New(rand.NewSource(0x5eed))

	training := vectors
	if len(training) > kmeansSample {
		training = make([][]float32, kmeansSample)
		perm := rng.Perm(len(vectors))
		for i := 0; i < kmeansSample; i++ {
			training[i] = vectors[perm[i]]
		}
	}

	centroids := make([][]float32, k)
	perm := rng.Perm(len(training))
	for i := 0; i < k; i++ {
		src := training[perm[i%len(perm)]]
		c := make([]float32, dim)
		copy(c, src)
		centroids[i] = c
	}

	assignments := make([]int, len(training))
	for iter := 0; iter < kmeansIterations; iter++ {
		changed := false
		for i, v := range training {
			best := nearestCentroid(v, centroids)
			if best != assignments[i] {
				assignments[i] = best
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}
		sums := make([][]float64, k)
		counts := make([]int, k)
		for i := range sums {
			sums[i] = make([]float64, dim)
		}
		for i, v := range training {
			a := assignments[i]
			counts[a]++
			for d := 0; d < dim && d < len(v); d++ {
				sums[a][d] += float64(v[d])
			}
		}
		for i := range centroids {
			if counts[i] == 0 {
				// re-seed an empty cluster from a random vector
				copy(centroids[i], training[rng.Intn(len(training))])
				continue
			}
			for d := 0; d < dim; d++ {
				centroids[i][d] = float32(sums[i][d] / float64(counts[i]))
			}
		}
	}
	return centroids
}

func nearestCentroid(v []float32, centroids [][]float32) int {
	best := 0
	bestCos := math.Inf(-1)
	for i, c := range centroids {
		if cos := cosineSimilarity(v, c); cos > bestCos {
			bestCos = cos
			best = i
		}
	}
	return best
}
