package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// lockFileName is created inside the local index directory.
const lockFileName = ".lock"

// DirLock is a cross-process lock on a local index directory. The watcher
// and one-shot CLI commands may share a LocalStore directory; writers take
// the exclusive lock and readers the shared one.
type DirLock struct {
	path  string
	flock *flock.Flock
}

// NewDirLock returns the lock for dir. Nothing is created until locked.
func NewDirLock(dir string) *DirLock {
	path := filepath.Join(dir, lockFileName)
	return &DirLock{path: path, flock: flock.New(path)}
}

func (l *DirLock) ensureDir() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	return nil
}

// Lock blocks until the exclusive lock is held.
func (l *DirLock) Lock() error {
	if err := l.ensureDir(); err != nil {
		return err
	}
	if err := l.flock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	return nil
}

// RLock blocks until a shared lock is held.
func (l *DirLock) RLock() error {
	if err := l.ensureDir(); err != nil {
		return err
	}
	if err := l.flock.RLock(); err != nil {
		return fmt.Errorf("failed to acquire shared lock: %w", err)
	}
	return nil
}

// TryLock attempts the exclusive lock without blocking.
func (l *DirLock) TryLock() (bool, error) {
	if err := l.ensureDir(); err != nil {
		return false, err
	}
	ok, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	return ok, nil
}

// Unlock releases whichever lock is held. Safe on an unlocked DirLock.
func (l *DirLock) Unlock() error {
	if !l.flock.Locked() && !l.flock.RLocked() {
		return nil
	}
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *DirLock) Path() string {
	return l.path
}
