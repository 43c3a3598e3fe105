package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperation_String(t *testing.T) {
	tests := []struct {
		op   Operation
		want string
	}{
		{OpCreate, "CREATE"},
		{OpModify, "MODIFY"},
		{OpDelete, "DELETE"},
		{OpRename, "RENAME"},
		{OpIgnoreChange, "IGNORE_CHANGE"},
		{Operation(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.op.String())
	}
}

func TestOptions_WithDefaults(t *testing.T) {
	opts := Options{DebounceWindow: 10 * time.Millisecond}.WithDefaults()

	assert.Equal(t, 10*time.Millisecond, opts.DebounceWindow)
	assert.Equal(t, DefaultOptions().PollInterval, opts.PollInterval)
	assert.Equal(t, DefaultOptions().EventBufferSize, opts.EventBufferSize)
}

// startWatcher runs w on dir and waits until it is ready.
func startWatcher(t *testing.T, opts Options, dir string) *Watcher {
	t.Helper()
	w, err := New(opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx, dir) }()
	t.Cleanup(func() {
		cancel()
		_ = w.Stop()
		<-done
	})

	// fsnotify needs its watches registered; the poller its baseline.
	time.Sleep(150 * time.Millisecond)
	return w
}

// collect gathers events until one matches want or the timeout passes.
func collect(t *testing.T, w *Watcher, timeout time.Duration, want func(FileEvent) bool) (FileEvent, bool) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case batch, ok := <-w.Events():
			if !ok {
				return FileEvent{}, false
			}
			for _, ev := range batch {
				if want(ev) {
					return ev, true
				}
			}
		case <-deadline:
			return FileEvent{}, false
		}
	}
}

// TS01: A new file is reported once with its absolute path
func TestWatcher_DetectsCreate(t *testing.T) {
	// Given: a running watcher
	dir := t.TempDir()
	w := startWatcher(t, Options{DebounceWindow: 20 * time.Millisecond}, dir)
	assert.Equal(t, "fsnotify", w.Mode())

	// When: a file is created
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	// Then: a create event arrives for it
	ev, ok := collect(t, w, 2*time.Second, func(ev FileEvent) bool { return ev.Path == path })
	require.True(t, ok, "no event for %s", path)
	assert.Equal(t, OpCreate, ev.Operation)
}

func TestWatcher_DetectsModifyAndDelete(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))
	w := startWatcher(t, Options{DebounceWindow: 20 * time.Millisecond}, dir)

	require.NoError(t, os.WriteFile(path, []byte("v2"), 0o644))
	ev, ok := collect(t, w, 2*time.Second, func(ev FileEvent) bool { return ev.Path == path })
	require.True(t, ok)
	assert.Equal(t, OpModify, ev.Operation)

	require.NoError(t, os.Remove(path))
	ev, ok = collect(t, w, 2*time.Second, func(ev FileEvent) bool { return ev.Path == path })
	require.True(t, ok)
	assert.Equal(t, OpDelete, ev.Operation)
}

// TS02: A move inside the tree is one rename with both paths
func TestWatcher_PairsRename(t *testing.T) {
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "old.txt")
	newPath := filepath.Join(dir, "new.txt")
	require.NoError(t, os.WriteFile(oldPath, []byte("content"), 0o644))
	w := startWatcher(t, Options{DebounceWindow: 100 * time.Millisecond}, dir)

	require.NoError(t, os.Rename(oldPath, newPath))

	ev, ok := collect(t, w, 2*time.Second, func(ev FileEvent) bool {
		return ev.Path == newPath || ev.Path == oldPath
	})
	require.True(t, ok)
	assert.Equal(t, OpRename, ev.Operation)
	assert.Equal(t, newPath, ev.Path)
	assert.Equal(t, oldPath, ev.OldPath)
}

func TestWatcher_IgnoresExcludedPaths(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".kbindexignore"), []byte("*.tmp\n"), 0o644))
	w := startWatcher(t, Options{
		DebounceWindow: 20 * time.Millisecond,
		IgnorePatterns: []string{"drafts/"},
	}, dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "skip.tmp"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "drafts"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "drafts", "d.txt"), []byte("x"), 0o644))
	keep := filepath.Join(dir, "keep.txt")
	require.NoError(t, os.WriteFile(keep, []byte("x"), 0o644))

	var seen []string
	_, ok := collect(t, w, 2*time.Second, func(ev FileEvent) bool {
		seen = append(seen, ev.Path)
		return ev.Path == keep
	})
	require.True(t, ok)
	assert.NotContains(t, seen, filepath.Join(dir, "skip.tmp"))
	assert.NotContains(t, seen, filepath.Join(dir, "drafts"))
	assert.NotContains(t, seen, filepath.Join(dir, "drafts", "d.txt"))

	assert.True(t, w.Ignored(filepath.Join(dir, "x.tmp"), false))
	assert.True(t, w.Ignored(filepath.Join(filepath.Dir(dir), "outside.txt"), false))
	assert.False(t, w.Ignored(keep, false))
}

func TestWatcher_IgnoreFileChange(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, Options{DebounceWindow: 20 * time.Millisecond}, dir)
	ignoreFile := filepath.Join(dir, ".kbindexignore")

	require.NoError(t, os.WriteFile(ignoreFile, []byte("*.md\n"), 0o644))

	ev, ok := collect(t, w, 2*time.Second, func(ev FileEvent) bool { return ev.Operation == OpIgnoreChange })
	require.True(t, ok)
	assert.Equal(t, ignoreFile, ev.Path)
	assert.True(t, w.Ignored(filepath.Join(dir, "readme.md"), false))
}

func TestWatcher_Polling(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, Options{
		DebounceWindow: 20 * time.Millisecond,
		PollInterval:   30 * time.Millisecond,
		ForcePolling:   true,
		IgnorePatterns: []string{"*.log"},
	}, dir)
	assert.Equal(t, "polling", w.Mode())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.log"), []byte("x"), 0o644))
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	var seen []string
	ev, ok := collect(t, w, 2*time.Second, func(ev FileEvent) bool {
		seen = append(seen, ev.Path)
		return ev.Path == path
	})
	require.True(t, ok)
	assert.Equal(t, OpCreate, ev.Operation)
	assert.NotContains(t, seen, filepath.Join(dir, "app.log"))
}

func TestWatcher_StartInvalidRoot(t *testing.T) {
	w, err := New(DefaultOptions())
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	err = w.Start(context.Background(), filepath.Join(t.TempDir(), "missing"))

	require.Error(t, err)
	assert.False(t, errors.Is(err, context.Canceled))
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	w, err := New(DefaultOptions())
	require.NoError(t, err)

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())

	_, ok := <-w.Events()
	assert.False(t, ok)
	_, ok = <-w.Errors()
	assert.False(t, ok)
}
