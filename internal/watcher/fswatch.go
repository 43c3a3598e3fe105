package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Aman-CERP/kbindex/internal/ignore"
)

// Watcher reports debounced changes under one root directory.
type Watcher struct {
	opts      Options
	fsWatcher *fsnotify.Watcher
	poller    *PollingWatcher
	debouncer *Debouncer
	events    chan []FileEvent
	errors    chan error
	stopCh    chan struct{}

	mu      sync.RWMutex
	root    string
	matcher *ignore.Matcher
	renamed []renameCandidate
	stopped bool
	dropped atomic.Uint64
}

// renameCandidate is the old half of a rename, waiting for its create.
type renameCandidate struct {
	path  string
	isDir bool
	at    time.Time
}

// New creates a watcher, falling back to polling when fsnotify cannot be
// initialized or opts.ForcePolling is set.
func New(opts Options) (*Watcher, error) {
	opts = opts.WithDefaults()
	w := &Watcher{
		opts:      opts,
		debouncer: NewDebouncer(opts.DebounceWindow),
		events:    make(chan []FileEvent, opts.EventBufferSize),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
		matcher:   ignore.New(opts.IgnorePatterns...),
	}

	if !opts.ForcePolling {
		fsw, err := fsnotify.NewWatcher()
		if err == nil {
			w.fsWatcher = fsw
			return w, nil
		}
		slog.Warn("watcher_fsnotify_unavailable", slog.String("error", err.Error()))
	}
	w.poller = NewPollingWatcher(opts.PollInterval, w.Ignored)
	return w, nil
}

// Start watches root until ctx is cancelled or Stop is called. It blocks.
func (w *Watcher) Start(ctx context.Context, root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve absolute path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("stat watch root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch root %s is not a directory", abs)
	}

	w.mu.Lock()
	w.root = abs
	w.mu.Unlock()
	w.reloadIgnores()

	go w.forward(ctx)

	if w.fsWatcher != nil {
		return w.runFsnotify(ctx)
	}
	return w.runPolling(ctx)
}

// Ignored reports whether the absolute path is excluded from indexing.
func (w *Watcher) Ignored(path string, isDir bool) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return true
	}
	return w.matcher.Match(rel, isDir)
}

// Root returns the absolute watched directory.
func (w *Watcher) Root() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.root
}

// Mode returns "fsnotify" or "polling".
func (w *Watcher) Mode() string {
	if w.fsWatcher != nil {
		return "fsnotify"
	}
	return "polling"
}

// Events returns batches of debounced events. It is closed by Stop.
func (w *Watcher) Events() <-chan []FileEvent { return w.events }

// Errors returns non-fatal watcher errors. It is closed by Stop.
func (w *Watcher) Errors() <-chan error { return w.errors }

// DroppedBatches counts batches lost to a full Events channel.
func (w *Watcher) DroppedBatches() uint64 { return w.dropped.Load() }

// Stop releases the watcher. Safe to call more than once.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	w.debouncer.Stop()
	if w.fsWatcher != nil {
		_ = w.fsWatcher.Close()
	}
	if w.poller != nil {
		_ = w.poller.Stop()
	}
	close(w.events)
	close(w.errors)
	return nil
}

func (w *Watcher) runFsnotify(ctx context.Context) error {
	if err := w.addTree(w.Root()); err != nil {
		return fmt.Errorf("add directories to watcher: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case ev, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

func (w *Watcher) runPolling(ctx context.Context) error {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			case ev, ok := <-w.poller.Events():
				if !ok {
					return
				}
				if filepath.Base(ev.Path) == ignore.FileName {
					w.ignoreChanged(ev.Path)
					continue
				}
				w.debouncer.Add(ev)
			case err, ok := <-w.poller.Errors():
				if !ok {
					return
				}
				w.emitError(err)
			}
		}
	}()
	return w.poller.Start(ctx, w.Root())
}

// handle converts one fsnotify event. Removed paths can no longer be
// stat'ed, so a delete is a directory only if it was being watched.
func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return
	}

	isDir := false
	if info, err := os.Stat(ev.Name); err == nil {
		isDir = info.IsDir()
	} else if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		isDir = w.isWatchedDir(ev.Name)
	}

	if filepath.Base(ev.Name) == ignore.FileName {
		w.ignoreChanged(ev.Name)
		return
	}
	if w.Ignored(ev.Name, isDir) {
		return
	}

	now := time.Now()
	switch {
	case ev.Has(fsnotify.Create):
		if isDir {
			if err := w.addTree(ev.Name); err != nil {
				w.emitError(err)
			}
		}
		if old, ok := w.takeRename(isDir, now); ok && w.debouncer.Forget(old) {
			w.debouncer.Add(FileEvent{Path: ev.Name, OldPath: old, Operation: OpRename, IsDir: isDir, Timestamp: now})
			return
		}
		w.debouncer.Add(FileEvent{Path: ev.Name, Operation: OpCreate, IsDir: isDir, Timestamp: now})
		if isDir {
			w.createContents(ev.Name)
		}
	case ev.Has(fsnotify.Write):
		if !isDir {
			w.debouncer.Add(FileEvent{Path: ev.Name, Operation: OpModify, Timestamp: now})
		}
	case ev.Has(fsnotify.Rename):
		w.mu.Lock()
		w.renamed = append(w.renamed, renameCandidate{path: ev.Name, isDir: isDir, at: now})
		w.mu.Unlock()
		// Reported as a delete unless a create claims it first.
		w.debouncer.Add(FileEvent{Path: ev.Name, Operation: OpDelete, IsDir: isDir, Timestamp: now})
	case ev.Has(fsnotify.Remove):
		w.debouncer.Add(FileEvent{Path: ev.Name, Operation: OpDelete, IsDir: isDir, Timestamp: now})
	}
}

// takeRename pops the newest rename of the same kind seen within the
// debounce window, discarding stale ones.
func (w *Watcher) takeRename(isDir bool, now time.Time) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	fresh := w.renamed[:0]
	for _, c := range w.renamed {
		if now.Sub(c.at) <= w.opts.DebounceWindow {
			fresh = append(fresh, c)
		}
	}
	w.renamed = fresh

	for i := len(w.renamed) - 1; i >= 0; i-- {
		if w.renamed[i].isDir == isDir {
			old := w.renamed[i].path
			w.renamed = append(w.renamed[:i], w.renamed[i+1:]...)
			return old, true
		}
	}
	return "", false
}

// createContents reports files already present in a new directory, which
// fsnotify misses when they land before the directory is watched.
func (w *Watcher) createContents(dir string) {
	now := time.Now()
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || path == dir {
			return nil
		}
		if w.Ignored(path, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			w.debouncer.Add(FileEvent{Path: path, Operation: OpCreate, Timestamp: now})
		}
		return nil
	})
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			slog.Warn("watcher_walk_skipped", slog.String("path", path), slog.String("error", err.Error()))
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.Root() && w.Ignored(path, true) {
			return filepath.SkipDir
		}
		return w.fsWatcher.Add(path)
	})
}

func (w *Watcher) isWatchedDir(path string) bool {
	for _, p := range w.fsWatcher.WatchList() {
		if p == path {
			return true
		}
	}
	return false
}

func (w *Watcher) ignoreChanged(path string) {
	w.reloadIgnores()
	w.debouncer.Add(FileEvent{Path: path, Operation: OpIgnoreChange, Timestamp: time.Now()})
}

// reloadIgnores rebuilds the matcher from the configured patterns and every
// .kbindexignore under the root.
func (w *Watcher) reloadIgnores() {
	root := w.Root()
	m := ignore.New(w.opts.IgnorePatterns...)
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		if d.IsDir() {
			if rel != "." && m.Match(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() != ignore.FileName {
			return nil
		}
		base := filepath.Dir(rel)
		if base == "." {
			base = ""
		}
		if err := m.AddFile(path, base); err != nil {
			slog.Warn("watcher_ignore_file_unreadable", slog.String("path", path), slog.String("error", err.Error()))
		}
		return nil
	})

	w.mu.Lock()
	w.matcher = m
	w.mu.Unlock()
}

func (w *Watcher) forward(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case batch, ok := <-w.debouncer.Output():
			if !ok {
				return
			}
			if len(batch) > 0 {
				w.emit(batch)
			}
		}
	}
}

func (w *Watcher) emit(batch []FileEvent) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return
	}
	select {
	case w.events <- batch:
	default:
		n := w.dropped.Add(1)
		slog.Warn("watcher_batch_dropped",
			slog.Int("batch_size", len(batch)),
			slog.Uint64("total_dropped_batches", n))
	}
}

func (w *Watcher) emitError(err error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.stopped {
		return
	}
	select {
	case w.errors <- err:
	default:
	}
}
