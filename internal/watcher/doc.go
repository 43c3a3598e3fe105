// Package watcher reports file changes under a directory tree as debounced
// batches of FileEvent, for `kbindex watch` to feed into the indexer.
//
// fsnotify is used when available; otherwise the tree is polled. Paths
// matched by the configured exclude patterns or by .kbindexignore files are
// never reported. A fsnotify rename followed by a create is reported as one
// OpRename carrying both paths.
//
// Usage:
//
//	w, err := watcher.New(watcher.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//	go w.Start(ctx, "/path/to/docs")
//
//	for batch := range w.Events() {
//	    for _, ev := range batch {
//	        // ev.Path is absolute
//	    }
//	}
package watcher
