// Package store persists the engines' snapshot documents (index.json,
// vocabulary.json, dbindex.json) to a pluggable backend.
package store

import (
	"context"
	"errors"
)

// ErrNotExist is returned by Load when no snapshot with that name was saved.
var ErrNotExist = errors.New("snapshot does not exist")

// SnapshotStore saves and loads whole named documents.
//
// Save replaces the previous document atomically: a reader sees either the
// old or the new bytes, never a mix.
type SnapshotStore interface {
	// Load returns the stored bytes, or ErrNotExist.
	Load(ctx context.Context, name string) ([]byte, error)

	// Save replaces the document.
	Save(ctx context.Context, name string, data []byte) error

	// Close releases the backend.
	Close() error
}
