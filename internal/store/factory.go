package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// Backend names a SnapshotStore implementation.
type Backend string

const (
	// BackendJSON writes each snapshot as <dir>/<name> (default).
	BackendJSON Backend = "json"

	// BackendSQLite stores snapshots as rows in <dir>/snapshots.db.
	BackendSQLite Backend = "sqlite"
)

// Open creates the SnapshotStore for backend inside dir.
func Open(dir string, backend Backend) (SnapshotStore, error) {
	switch backend {
	case BackendJSON, "":
		return NewFileStore(dir)
	case BackendSQLite:
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
		}
		return NewSQLiteStore(filepath.Join(dir, SQLiteFileName))
	default:
		return nil, fmt.Errorf("unknown snapshot backend: %s (valid options: json, sqlite)", backend)
	}
}

// ValidBackend reports whether name is a known backend.
func ValidBackend(name string) bool {
	switch Backend(name) {
	case BackendJSON, BackendSQLite, "":
		return true
	}
	return false
}
