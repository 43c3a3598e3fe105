package logging

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// RotationPolicy bounds the log file on disk.
type RotationPolicy struct {
	// MaxBytes is the size at which the file is rotated.
	MaxBytes int64

	// Keep is how many rotated generations survive as <file>.1 (newest)
	// through <file>.Keep. With 0 the file is truncated instead.
	Keep int

	// SyncInterval is the minimum time between fsyncs. 0 syncs after every
	// write, which is what `kbindex logs -f` in another terminal wants.
	SyncInterval time.Duration
}

// DefaultRotation keeps five 10MB generations and syncs every write.
func DefaultRotation() RotationPolicy {
	return RotationPolicy{MaxBytes: 10 << 20, Keep: 5}
}

func (p RotationPolicy) withDefaults() RotationPolicy {
	def := DefaultRotation()
	if p.MaxBytes <= 0 {
		p.MaxBytes = def.MaxBytes
	}
	if p.Keep < 0 {
		p.Keep = 0
	}
	if p.SyncInterval < 0 {
		p.SyncInterval = 0
	}
	return p
}

// RotatingWriter is an io.Writer over a log file that rotates by size.
// It is safe for concurrent use.
type RotatingWriter struct {
	path   string
	policy RotationPolicy
	now    func() time.Time

	mu       sync.Mutex
	file     *os.File
	size     int64
	lastSync time.Time
}

// NewRotatingWriter opens path for appending, creating its directory.
func NewRotatingWriter(path string, policy RotationPolicy) (*RotatingWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	w := &RotatingWriter{path: path, policy: policy.withDefaults(), now: time.Now}
	if err := w.open(os.O_APPEND); err != nil {
		return nil, err
	}
	return w, nil
}

// Write appends p. A record that would push a non-empty file past
// MaxBytes rotates the file first; a record larger than MaxBytes still
// goes into a fresh file whole.
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return 0, fs.ErrClosed
	}

	if w.size > 0 && w.size+int64(len(p)) > w.policy.MaxBytes {
		if err := w.rotateLocked(); err != nil {
			// keep logging into whatever file is open
			_, _ = fmt.Fprintf(os.Stderr, "kbindex: log rotation failed: %v\n", err)
			if w.file == nil {
				return 0, err
			}
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	if err == nil {
		w.maybeSyncLocked()
	}
	return n, err
}

func (w *RotatingWriter) maybeSyncLocked() {
	now := w.now()
	if w.policy.SyncInterval > 0 && now.Sub(w.lastSync) < w.policy.SyncInterval {
		return
	}
	_ = w.file.Sync()
	w.lastSync = now
}

// Sync flushes the file to disk.
func (w *RotatingWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	w.lastSync = w.now()
	return w.file.Sync()
}

// Close syncs and closes the file. Later writes fail.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	_ = w.file.Sync()
	err := w.file.Close()
	w.file = nil
	return err
}

// Generations returns the rotated files that exist, newest first.
func (w *RotatingWriter) Generations() []string {
	var out []string
	for i := 1; i <= w.policy.Keep; i++ {
		if _, err := os.Stat(generation(w.path, i)); err == nil {
			out = append(out, generation(w.path, i))
		}
	}
	return out
}

func (w *RotatingWriter) open(mode int) error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|mode, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	w.file = f
	w.size = info.Size()
	return nil
}

// rotateLocked shifts <file>.i to <file>.i+1, dropping the oldest, and
// starts an empty file.
func (w *RotatingWriter) rotateLocked() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close log file: %w", err)
	}
	w.file = nil

	if w.policy.Keep == 0 {
		return w.open(os.O_TRUNC)
	}

	if err := os.Remove(generation(w.path, w.policy.Keep)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Join(err, w.open(os.O_APPEND))
	}
	for i := w.policy.Keep - 1; i >= 1; i-- {
		if err := os.Rename(generation(w.path, i), generation(w.path, i+1)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return errors.Join(err, w.open(os.O_APPEND))
		}
	}
	if err := os.Rename(w.path, generation(w.path, 1)); err != nil {
		return errors.Join(err, w.open(os.O_APPEND))
	}
	return w.open(os.O_APPEND)
}

func generation(path string, i int) string {
	return fmt.Sprintf("%s.%d", path, i)
}
