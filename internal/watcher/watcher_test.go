package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/semcode/internal/walker"
)

// cycleRecorder collects reindex invocations.
type cycleRecorder struct {
	mu     sync.Mutex
	cycles [][]string
	block  chan struct{} // non-nil: the first cycle blocks until closed
}

func (c *cycleRecorder) reindex(_ context.Context, changed []string) error {
	c.mu.Lock()
	first := len(c.cycles) == 0
	sort.Strings(changed)
	c.cycles = append(c.cycles, changed)
	block := c.block
	c.mu.Unlock()

	if first && block != nil {
		<-block
	}
	return nil
}

func (c *cycleRecorder) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cycles)
}

func (c *cycleRecorder) cycle(i int) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cycles[i]
}

func newTestSupervisor(t *testing.T, root string, rec *cycleRecorder) *Supervisor {
	t.Helper()
	ig, err := walker.NewIgnorer(root, walker.Options{})
	require.NoError(t, err)

	// minimum debounce, zero settle keeps the test fast
	s, err := New(root, ig, rec.reindex, 1*time.Second, 0)
	require.NoError(t, err)
	return s
}

func write(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestBurstCollapsesToOneCycle(t *testing.T) {
	root := t.TempDir()
	rec := &cycleRecorder{}
	s := newTestSupervisor(t, root, rec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	// five files in rapid succession inside one debounce window
	for i := 0; i < 5; i++ {
		write(t, root, "f"+string(rune('a'+i))+".txt", "content")
	}

	require.Eventually(t, func() bool { return rec.count() >= 1 },
		5*time.Second, 50*time.Millisecond)

	// the burst produced exactly one cycle carrying all five paths
	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
	assert.Len(t, rec.cycle(0), 5)
}

func TestIgnoredPathsDropBeforeDebounce(t *testing.T) {
	root := t.TempDir()
	write(t, root, ".gitignore", "*.log\n")
	rec := &cycleRecorder{}
	s := newTestSupervisor(t, root, rec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	write(t, root, "noise.log", "ignored")
	write(t, root, "real.txt", "indexed")

	require.Eventually(t, func() bool { return rec.count() >= 1 },
		5*time.Second, 50*time.Millisecond)

	paths := rec.cycle(0)
	assert.Contains(t, paths, "real.txt")
	assert.NotContains(t, paths, "noise.log")
}

func TestEventsDuringCycleQueueOnce(t *testing.T) {
	root := t.TempDir()
	rec := &cycleRecorder{block: make(chan struct{})}
	s := newTestSupervisor(t, root, rec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	write(t, root, "first.txt", "x")
	require.Eventually(t, func() bool { return rec.count() == 1 },
		5*time.Second, 50*time.Millisecond)

	// while the first cycle is blocked, two more bursts arrive; they
	// coalesce into a single pending cycle
	write(t, root, "second.txt", "x")
	time.Sleep(1200 * time.Millisecond)
	write(t, root, "third.txt", "x")
	time.Sleep(1200 * time.Millisecond)

	assert.Equal(t, 1, rec.count(), "no concurrent cycle while one is in flight")

	close(rec.block)
	require.Eventually(t, func() bool { return rec.count() == 2 },
		5*time.Second, 50*time.Millisecond)

	second := rec.cycle(1)
	assert.Contains(t, second, "second.txt")
	assert.Contains(t, second, "third.txt")
}

func TestClampBounds(t *testing.T) {
	root := t.TempDir()
	ig, err := walker.NewIgnorer(root, walker.Options{})
	require.NoError(t, err)

	s, err := New(root, ig, func(context.Context, []string) error { return nil },
		100*time.Millisecond, 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, MinDebounce, s.debounce)
	assert.Equal(t, MaxSettle, s.settle)
	_ = s.fsw.Close()
}
