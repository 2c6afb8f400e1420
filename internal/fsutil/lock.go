package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Lock serializes writers of one logical file. It combines an in-process
// mutex with an advisory lock on a sibling ".lock" file so that the CLI
// and the daemon never interleave read-modify-write cycles.
type Lock struct {
	path string
	mu   sync.Mutex
}

// NewLock returns a lock guarding target. The lock file is target+".lock".
func NewLock(target string) *Lock {
	return &Lock{path: target + ".lock"}
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Do runs fn while holding the lock.
func (l *Lock) Do(fn func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("creating lock directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("opening lock file %s: %w", l.path, err)
	}
	defer f.Close()

	if err := lockFile(f); err != nil {
		return fmt.Errorf("acquiring lock %s: %w", l.path, err)
	}
	defer func() { _ = unlockFile(f) }()

	return fn()
}
