package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"
)

// ErrLocked is returned when another process holds the store's write lock.
var ErrLocked = errors.New("store is locked by another process")

// LockFile is the lock's file name inside the state directory.
const LockFile = "index.lock"

// StoreLock enforces single-writer access across processes with an
// advisory file lock on the state directory.
type StoreLock struct {
	fl *flock.Flock
}

// AcquireLock takes the write lock without blocking. A second indexer
// on the same root gets ErrLocked and must exit.
func AcquireLock(stateDir string) (*StoreLock, error) {
	fl := flock.New(filepath.Join(stateDir, LockFile))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire store lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return &StoreLock{fl: fl}, nil
}

// Release gives the lock back.
func (l *StoreLock) Release() error {
	return l.fl.Unlock()
}

// CycleLock provides non-blocking in-process lock semantics using
// atomic operations. The watch supervisor uses it as the "reindex in
// flight" flag.
type CycleLock struct {
	state atomic.Int32 // 0 = unlocked, 1 = locked
}

// TryAcquire attempts to acquire the lock without blocking.
func (l *CycleLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release releases the lock. Must only be called by the goroutine that
// successfully acquired it.
func (l *CycleLock) Release() {
	l.state.Store(0)
}
