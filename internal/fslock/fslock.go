// Package fslock guards a database directory against being opened by two
// handles at once, in this process or another.
package fslock

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	kberrors "github.com/Aman-CERP/kbindex/internal/errors"
)

// FileName is the lock file created inside every database directory.
const FileName = ".lock"

// Lock is an exclusive advisory lock on a directory.
type Lock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// Acquire creates dir if needed and takes its lock without blocking.
// A lock already held elsewhere yields ERR_211_DATABASE_LOCKED.
func Acquire(dir string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, kberrors.New(kberrors.ErrCodeFilePermission,
			fmt.Sprintf("create database directory %s", dir), err)
	}

	path := filepath.Join(dir, FileName)
	l := &Lock{path: path, flock: flock.New(path)}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return nil, kberrors.New(kberrors.ErrCodeFilePermission,
			fmt.Sprintf("lock %s", path), err)
	}
	if !acquired {
		return nil, kberrors.New(kberrors.ErrCodeDatabaseLocked,
			fmt.Sprintf("database at %s is already open", dir), nil).
			WithSuggestion("close the other handle or kbindex process using this directory")
	}

	l.locked = true
	return l, nil
}

// Release unlocks. Calling it more than once is harmless.
func (l *Lock) Release() error {
	if l == nil || !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the path to the lock file.
func (l *Lock) Path() string {
	return l.path
}
