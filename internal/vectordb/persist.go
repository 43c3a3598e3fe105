package vectordb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	kberrors "github.com/Aman-CERP/kbindex/internal/errors"
	"github.com/Aman-CERP/kbindex/internal/store"
)

// IndexFile is the snapshot document holding every record.
const IndexFile = "dbindex.json"

type indexSnapshot struct {
	Index map[string]*Record `json:"index"`
	Dirty bool               `json:"dirty"`
}

// artifacts stores each record's source text as text_<hash>.txt.
type artifacts struct {
	dir string

	// writeFile defaults to os.WriteFile.
	writeFile func(name string, data []byte, perm os.FileMode) error
}

func (a *artifacts) path(hash string) string {
	return filepath.Join(a.dir, "text_"+hash+".txt")
}

func (a *artifacts) write(hash, text string) error {
	writeFile := a.writeFile
	if writeFile == nil {
		writeFile = os.WriteFile
	}
	if err := writeFile(a.path(hash), []byte(text), 0o644); err != nil {
		return kberrors.New(kberrors.ErrCodeArtifactWrite,
			fmt.Sprintf("write text for vector %s", hash), err).WithDetail("hash", hash)
	}
	return nil
}

func (a *artifacts) read(hash string) (string, error) {
	data, err := os.ReadFile(a.path(hash))
	if err != nil {
		return "", kberrors.New(kberrors.ErrCodeArtifactRead,
			fmt.Sprintf("read text for vector %s", hash), err).WithDetail("hash", hash)
	}
	return string(data), nil
}

// remove fails when the file is already missing, so a record never loses
// its text silently.
func (a *artifacts) remove(hash string) error {
	if err := os.Remove(a.path(hash)); err != nil {
		return kberrors.New(kberrors.ErrCodeArtifactDelete,
			fmt.Sprintf("delete text for vector %s", hash), err).WithDetail("hash", hash)
	}
	return nil
}

// load replaces the in-memory index with the stored snapshot. Any failure
// leaves the database empty.
func (db *DB) load(ctx context.Context) {
	data, err := db.snapshots.Load(ctx, IndexFile)
	if errors.Is(err, store.ErrNotExist) {
		db.logger.Info("vectordb_database_created", slog.String("path", db.opts.Path))
		return
	}

	var snap indexSnapshot
	if err == nil {
		err = json.Unmarshal(data, &snap)
	}
	if err == nil {
		err = validateSnapshot(snap.Index)
	}
	if err != nil {
		kerr := kberrors.New(kberrors.ErrCodeCorruptIndex, "load vector index, using an empty database", err).
			WithDetail("path", db.opts.Path)
		db.logger.Warn("vectordb_snapshot_load_failed", kberrors.LogAttrs(kerr)...)
		return
	}

	for hash, rec := range snap.Index {
		if rec.Metadata == nil {
			rec.Metadata = make(Metadata)
		}
		db.index[hash] = rec
	}
	db.logger.Debug("vectordb_snapshot_loaded",
		slog.String("path", db.opts.Path),
		slog.Int("records", len(db.index)))
}

// validateSnapshot rejects records whose key or dimension disagree.
func validateSnapshot(index map[string]*Record) error {
	dims := -1
	for hash, rec := range index {
		if rec == nil || rec.Hash != hash {
			return fmt.Errorf("record %s is keyed inconsistently", hash)
		}
		if dims >= 0 && len(rec.Vector) != dims {
			return kberrors.DimensionMismatch(dims, len(rec.Vector))
		}
		dims = len(rec.Vector)
	}
	return nil
}

// Flush writes the index now, dirty or not.
func (db *DB) Flush(ctx context.Context) error {
	db.saveMu.Lock()
	defer db.saveMu.Unlock()

	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return kberrors.ErrClosed
	}
	db.dirty = false
	data, err := db.encodeLocked()
	db.mu.Unlock()
	return db.writeSnapshot(ctx, data, err)
}

// saveIfDirty clears the dirty flag and writes the index, setting the flag
// again if the write fails so the next tick retries.
func (db *DB) saveIfDirty(ctx context.Context) error {
	db.saveMu.Lock()
	defer db.saveMu.Unlock()

	db.mu.Lock()
	if !db.dirty {
		db.mu.Unlock()
		return nil
	}
	db.dirty = false
	data, err := db.encodeLocked()
	db.mu.Unlock()
	return db.writeSnapshot(ctx, data, err)
}

func (db *DB) encodeLocked() ([]byte, error) {
	return json.Marshal(indexSnapshot{Index: db.index, Dirty: false})
}

func (db *DB) writeSnapshot(ctx context.Context, data []byte, encodeErr error) error {
	err := encodeErr
	if err == nil {
		err = db.snapshots.Save(ctx, IndexFile, data)
	}
	if err != nil {
		db.mu.Lock()
		db.dirty = true
		db.mu.Unlock()
		return kberrors.New(kberrors.ErrCodeSnapshotWrite, "write "+IndexFile, err)
	}
	return nil
}

func (db *DB) autosaveLoop() {
	defer close(db.autosaveDone)
	ticker := time.NewTicker(db.opts.AutosaveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-db.stopAutosave:
			return
		case <-ticker.C:
			if err := db.saveIfDirty(context.Background()); err != nil {
				db.logger.Warn("vectordb_autosave_failed", kberrors.LogAttrs(err)...)
			}
		}
	}
}
