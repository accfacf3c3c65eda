// Package watcher turns filesystem events into serialized reindex
// cycles through a two-stage debounce: a per-window collapse of events,
// then a settle delay so bulk operations (branch switches) finish
// before a cycle starts.
package watcher

import (
	"context"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/dshills/semcode/internal/storage"
	"github.com/dshills/semcode/internal/walker"
)

// Debounce bounds.
const (
	MinDebounce = 1 * time.Second
	MaxDebounce = 30 * time.Second

	MinSettle = 0
	MaxSettle = 5 * time.Second
)

// ReindexFunc runs one indexing cycle over the hinted paths.
type ReindexFunc func(ctx context.Context, changed []string) error

// Supervisor owns the event loop for one root. Two cycles never run
// concurrently; while one is in flight at most one more is queued and
// further events coalesce into it.
type Supervisor struct {
	root     string
	ignorer  *walker.Ignorer
	reindex  ReindexFunc
	debounce time.Duration
	settle   time.Duration

	fsw    *fsnotify.Watcher
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	timer   *time.Timer
	pending map[string]bool // collapsed per-path events this window

	inFlight storage.CycleLock
	queued   map[string]bool // single-slot queue for the next cycle
	queueMu  sync.Mutex
}

// New creates a Supervisor. Debounce and settle are clamped to their
// bounds.
func New(root string, ignorer *walker.Ignorer, reindex ReindexFunc, debounce, settle time.Duration) (*Supervisor, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Supervisor{
		root:     root,
		ignorer:  ignorer,
		reindex:  reindex,
		debounce: clampDuration(debounce, MinDebounce, MaxDebounce),
		settle:   clampDuration(settle, MinSettle, MaxSettle),
		fsw:      fsw,
		pending:  map[string]bool{},
		queued:   map[string]bool{},
	}, nil
}

func clampDuration(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}

// Start begins watching the root tree and dispatching cycles.
func (s *Supervisor) Start(ctx context.Context) error {
	if err := s.addRecursive(s.root); err != nil {
		return err
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)

	logrus.WithFields(logrus.Fields{
		"root":     s.root,
		"debounce": s.debounce.String(),
		"settle":   s.settle.String(),
	}).Info("watch supervisor started")
	return nil
}

// Stop shuts the supervisor down and waits for the loop to exit. An
// in-flight cycle finishes through its own context.
func (s *Supervisor) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	_ = s.fsw.Close()

	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()
}

// addRecursive watches every non-ignored directory under dir.
func (s *Supervisor) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != s.root && s.ignorer.IgnoredAbs(path, true) {
			return filepath.SkipDir
		}
		if werr := s.fsw.Add(path); werr != nil {
			logrus.WithError(werr).WithField("path", path).Warn("cannot watch directory")
		}
		return nil
	})
}

func (s *Supervisor) loop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-s.fsw.Events:
			if !ok {
				return
			}
			s.handleEvent(ctx, event)
		case err, ok := <-s.fsw.Errors:
			if !ok {
				return
			}
			logrus.WithError(err).Warn("watch error")
		}
	}
}

func (s *Supervisor) handleEvent(ctx context.Context, event fsnotify.Event) {
	rel, err := filepath.Rel(s.root, event.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	// ignored paths drop before debouncing
	if s.ignorer.Ignored(rel, false) {
		return
	}

	// new directories join the watch set
	if event.Op&fsnotify.Create != 0 {
		if info, serr := walker.Stat(event.Name); serr == nil && info != nil && info.IsDir() {
			if !s.ignorer.IgnoredAbs(event.Name, true) {
				_ = s.addRecursive(event.Name)
			}
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[rel] = true
	if s.timer != nil {
		// same-window events collapse; the window restarts
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, func() {
		// stage two: let bulk operations settle before dispatch
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.settle):
		}
		s.dispatch(ctx)
	})
}

// dispatch drains the collected set into a cycle, or into the
// single-slot queue when a cycle is already running.
func (s *Supervisor) dispatch(ctx context.Context) {
	s.mu.Lock()
	changed := s.pending
	s.pending = map[string]bool{}
	s.timer = nil
	s.mu.Unlock()

	if len(changed) == 0 {
		return
	}

	s.queueMu.Lock()
	for p := range changed {
		s.queued[p] = true
	}
	s.queueMu.Unlock()

	s.runQueued(ctx)
}

// runQueued starts a cycle when none is in flight; otherwise the queued
// set waits for the running cycle to finish.
func (s *Supervisor) runQueued(ctx context.Context) {
	if !s.inFlight.TryAcquire() {
		return // the running cycle's completion re-checks the queue
	}

	s.queueMu.Lock()
	batch := make([]string, 0, len(s.queued))
	for p := range s.queued {
		batch = append(batch, p)
	}
	s.queued = map[string]bool{}
	s.queueMu.Unlock()

	if len(batch) == 0 {
		s.inFlight.Release()
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.reindex(ctx, batch); err != nil {
			logrus.WithError(err).Warn("reindex cycle failed")
		}
		s.inFlight.Release()

		// events that arrived during the cycle run next
		select {
		case <-ctx.Done():
		default:
			s.runQueued(ctx)
		}
	}()
}
