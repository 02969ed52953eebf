// Package lock provides the process-exclusive file lock that keeps two
// pipeline runs from working on the same state at once.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/ysmr3104/atomcam-meteor-detector/internal/errors"
)

// ErrLocked is returned when another process holds the lock.
var ErrLocked = errors.NewStd("another instance is already running")

// FileLock is an exclusive, non-blocking flock on a file.
type FileLock struct {
	path string
	mu   sync.Mutex
	file *os.File
}

// New creates a lock for path. Nothing is acquired until Lock is called.
func New(path string) *FileLock {
	return &FileLock{path: path}
}

// Path returns the lock file path
func (l *FileLock) Path() string {
	return l.path
}

// Lock acquires the lock or fails immediately with ErrLocked.
func (l *FileLock) Lock() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return lockError(fmt.Errorf("%w: lock already held by this process", ErrLocked), l.path)
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return lockError(err, l.path)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return lockError(err, l.path)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return lockError(ErrLocked, l.path)
		}
		return lockError(fmt.Errorf("flock: %w", err), l.path)
	}

	// pid is informational only
	_ = f.Truncate(0)
	_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())

	l.file = f
	return nil
}

// Unlock releases the lock. Unlocking a lock that is not held is a no-op.
func (l *FileLock) Unlock() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil

	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		_ = f.Close()
		return lockError(fmt.Errorf("unlock: %w", err), l.path)
	}
	return f.Close()
}

// WithLock runs fn while holding the lock at path.
func WithLock(path string, fn func() error) error {
	l := New(path)
	if err := l.Lock(); err != nil {
		return err
	}
	defer func() { _ = l.Unlock() }()
	return fn()
}

func lockError(err error, path string) error {
	return errors.New(err).
		Component("lock").
		Category(errors.CategoryLock).
		Context("path", path).
		Build()
}
