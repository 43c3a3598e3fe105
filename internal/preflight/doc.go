// Package preflight checks that kbindex can run on this machine before
// an ingest or server start.
//
// The package validates:
//   - Disk space at the data directory (minimum 100MB)
//   - Write permissions in the data directory
//   - File descriptor limits (the watcher holds one per directory)
//   - Embedder reachability
//
// Use the Checker type to run all validations:
//
//	checker := preflight.New(preflight.WithEmbedder(e))
//	results := checker.RunAll(ctx, dataDir)
//	if checker.HasCriticalFailures(results) {
//	    // Handle failures
//	}
package preflight
