package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	kberrors "github.com/Aman-CERP/ragkb/internal/errors"
)

// LockFileName sits in the data directory while a writer holds it.
const LockFileName = ".ragkb.lock"

// DirLock is a cross-process exclusive lock on a data directory. The vector
// store keeps its graphs in memory and saves on close, so two writers on the
// same directory would overwrite each other's indexes.
type DirLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewDirLock creates an unacquired lock for dataDir.
func NewDirLock(dataDir string) *DirLock {
	path := filepath.Join(dataDir, LockFileName)
	return &DirLock{path: path, flock: flock.New(path)}
}

// Lock blocks until the lock is held.
func (l *DirLock) Lock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	if err := l.flock.Lock(); err != nil {
		return kberrors.StorageError("failed to acquire data directory lock", err)
	}
	l.locked = true
	return nil
}

// TryLock acquires the lock without blocking. A lock held elsewhere is
// reported as ErrCodeStoreLocked.
func (l *DirLock) TryLock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	acquired, err := l.flock.TryLock()
	if err != nil {
		return kberrors.StorageError("failed to acquire data directory lock", err)
	}
	if !acquired {
		return kberrors.New(kberrors.ErrCodeStoreLocked, "data directory is in use by another ragkb process", nil).
			WithDetail("lock", l.path).
			WithSuggestion("stop the other process (ragkb serve or ragkb watch) or use a different --data-dir")
	}
	l.locked = true
	return nil
}

// Unlock releases the lock. Safe to call when not held.
func (l *DirLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *DirLock) Path() string { return l.path }

// IsLocked reports whether this handle holds the lock.
func (l *DirLock) IsLocked() bool { return l.locked }
