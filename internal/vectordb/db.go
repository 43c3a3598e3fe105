// Package vectordb implements an embedded vector database with exhaustive
// cosine-similarity search.
//
// Records live in memory keyed by the hash of their vector; each record's
// source text is kept in a text_<hash>.txt file beside the index snapshot.
// In multithreaded mode queries fan out over a pool of worker goroutines,
// each holding a read-only snapshot of the records that is replaced after
// every mutation.
package vectordb

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Aman-CERP/kbindex/internal/embed"
	kberrors "github.com/Aman-CERP/kbindex/internal/errors"
	"github.com/Aman-CERP/kbindex/internal/fslock"
	"github.com/Aman-CERP/kbindex/internal/store"
)

// Options configures a DB.
type Options struct {
	// Path is the database directory. Required.
	Path string

	// Embedder turns text into vectors when Add is called without one.
	Embedder embed.Embedder

	// Multithreaded fans queries out across a worker pool.
	Multithreaded bool

	// Workers sizes the pool (DefaultWorkers when <= 0).
	Workers int

	// Autosave writes the index on a timer whenever it is dirty.
	Autosave bool

	// AutosaveInterval is the timer period.
	AutosaveInterval time.Duration

	// Backend selects where the index snapshot is kept. Text artifacts are
	// always plain files.
	Backend store.Backend

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultOptions returns the options used when only a path is known.
func DefaultOptions(path string) Options {
	return Options{
		Path:             path,
		Autosave:         true,
		AutosaveInterval: 500 * time.Millisecond,
		Backend:          store.BackendJSON,
	}
}

// DB is an open vector database. It holds an exclusive lock on its
// directory until Close.
type DB struct {
	opts      Options
	logger    *slog.Logger
	lock      *fslock.Lock
	snapshots store.SnapshotStore
	artifacts *artifacts
	embedder  embed.Embedder
	pool      *pool

	mu     sync.RWMutex
	index  map[string]*Record
	dirty  bool
	closed bool

	saveMu       sync.Mutex
	stopAutosave chan struct{}
	autosaveDone chan struct{}
}

// Stats summarizes the database.
type Stats struct {
	Records    int  `json:"records"`
	Dimensions int  `json:"dimensions"`
	Dirty      bool `json:"dirty"`
	Workers    int  `json:"workers"`
}

// Open loads the database at opts.Path, creating it when absent. A missing
// or unreadable index yields an empty database and a warning.
func Open(ctx context.Context, opts Options) (*DB, error) {
	if opts.Path == "" {
		return nil, kberrors.ValidationError("vector database path is required", nil)
	}
	if opts.AutosaveInterval <= 0 {
		opts.AutosaveInterval = DefaultOptions("").AutosaveInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	lock, err := fslock.Acquire(opts.Path)
	if err != nil {
		return nil, err
	}
	snapshots, err := store.Open(opts.Path, opts.Backend)
	if err != nil {
		_ = lock.Release()
		return nil, kberrors.ConfigError("open vector snapshot store", err)
	}

	db := &DB{
		opts:      opts,
		logger:    opts.Logger,
		lock:      lock,
		snapshots: snapshots,
		artifacts: &artifacts{dir: opts.Path},
		embedder:  opts.Embedder,
		index:     make(map[string]*Record),
	}
	db.load(ctx)

	if opts.Multithreaded {
		workers := opts.Workers
		if workers <= 0 {
			workers = DefaultWorkers()
		}
		db.pool = newPool(workers)
		db.pool.replace(db.snapshotLocked())
		db.logger.Debug("vectordb_workers_started",
			slog.String("path", opts.Path),
			slog.Int("workers", workers))
	}

	if opts.Autosave {
		db.stopAutosave = make(chan struct{})
		db.autosaveDone = make(chan struct{})
		go db.autosaveLoop()
	}
	return db, nil
}

// Add stores vector with metadata and text. With a nil vector the text is
// embedded first. Adding a vector that is already stored returns it
// unchanged without touching its metadata or text.
func (db *DB) Add(ctx context.Context, vector []float32, metadata Metadata, text string) ([]float32, error) {
	vector, err := db.vectorFor(ctx, vector, text)
	if err != nil {
		return nil, err
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, kberrors.ErrClosed
	}
	_, err = db.addLocked(vector, metadata, text)
	if err != nil {
		return nil, err
	}
	return vector, nil
}

// vectorFor returns vector, or the embedding of text when vector is nil.
func (db *DB) vectorFor(ctx context.Context, vector []float32, text string) ([]float32, error) {
	if len(vector) > 0 {
		return vector, nil
	}
	if db.embedder == nil || text == "" {
		return nil, kberrors.New(kberrors.ErrCodeNoVector,
			"no vector supplied and none could be generated", nil).
			WithSuggestion("pass a vector, or configure an embedder and pass text")
	}
	v, err := db.embedder.Embed(ctx, text)
	if err != nil {
		return nil, kberrors.New(kberrors.ErrCodeEmbeddingFailed, "embedding generation failed", err)
	}
	if len(v) == 0 {
		return nil, kberrors.New(kberrors.ErrCodeNoVector, "embedder returned an empty vector", nil)
	}
	return v, nil
}

// addLocked reports whether a new record was created.
func (db *DB) addLocked(vector []float32, metadata Metadata, text string) (bool, error) {
	if dims := db.dimensionsLocked(); dims > 0 && dims != len(vector) {
		return false, kberrors.DimensionMismatch(dims, len(vector))
	}

	rec := newRecord(vector, metadata)
	if _, ok := db.index[rec.Hash]; ok {
		return false, nil
	}

	db.index[rec.Hash] = rec
	if err := db.artifacts.write(rec.Hash, text); err != nil {
		delete(db.index, rec.Hash)
		return false, err
	}
	db.markChangedLocked()
	return true, nil
}

// Read returns the record for vector, with its text unless skipText.
func (db *DB) Read(vector []float32, skipText bool) (*Entry, error) {
	hash := VectorHash(vector)

	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, kberrors.ErrClosed
	}
	rec, ok := db.index[hash]
	if !ok {
		return nil, vectorNotFound(hash)
	}

	e := rec.entry()
	if !skipText {
		text, err := db.artifacts.read(hash)
		if err != nil {
			return nil, err
		}
		e.Text = text
	}
	return &e, nil
}

// Update replaces the metadata and text stored for vector. If writing the
// new text fails the previous record and text are restored.
func (db *DB) Update(_ context.Context, vector []float32, metadata Metadata, text string) ([]float32, error) {
	if len(vector) == 0 {
		return nil, kberrors.ValidationError("update requires the vector to update", nil)
	}
	hash := VectorHash(vector)

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, kberrors.ErrClosed
	}
	old, ok := db.index[hash]
	if !ok {
		return nil, vectorNotFound(hash)
	}
	oldText, err := db.artifacts.read(hash)
	if err != nil {
		return nil, err
	}

	delete(db.index, hash)
	if _, err := db.addLocked(vector, metadata, text); err != nil {
		db.index[hash] = old
		if rerr := db.artifacts.write(hash, oldText); rerr != nil {
			db.logger.Error("vectordb_update_restore_failed",
				slog.String("hash", hash),
				slog.String("error", rerr.Error()))
		}
		return nil, err
	}
	return vector, nil
}

// Delete removes vector and its text. Nothing changes if the vector is
// unknown or its text file cannot be removed.
func (db *DB) Delete(vector []float32) error {
	hash := VectorHash(vector)

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return kberrors.ErrClosed
	}
	return db.deleteLocked(hash)
}

func (db *DB) deleteLocked(hash string) error {
	if _, ok := db.index[hash]; !ok {
		db.logger.Debug("vectordb_delete_missing", slog.String("hash", hash))
		return vectorNotFound(hash)
	}
	if err := db.artifacts.remove(hash); err != nil {
		return err
	}
	delete(db.index, hash)
	db.markChangedLocked()
	return nil
}

// List returns every record accepted by filter (all when nil), ordered by
// hash, with text unless skipText.
func (db *DB) List(filter func(Metadata) bool, skipText bool) ([]Entry, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, kberrors.ErrClosed
	}

	out := make([]Entry, 0)
	for _, rec := range db.snapshotLocked() {
		if filter != nil && !filter(rec.Metadata) {
			continue
		}
		e := rec.entry()
		if !skipText {
			text, err := db.artifacts.read(rec.Hash)
			if err != nil {
				return nil, err
			}
			e.Text = text
		}
		out = append(out, e)
	}
	return out, nil
}

// Stats returns database counters.
func (db *DB) Stats() Stats {
	db.mu.RLock()
	defer db.mu.RUnlock()
	st := Stats{
		Records:    len(db.index),
		Dimensions: db.dimensionsLocked(),
		Dirty:      db.dirty,
	}
	if db.pool != nil {
		st.Workers = db.pool.len()
	}
	return st
}

// Path returns the database directory.
func (db *DB) Path() string { return db.opts.Path }

// Embedder returns the configured embedder, possibly nil.
func (db *DB) Embedder() embed.Embedder { return db.embedder }

// Close stops autosave and the worker pool, writes the index if it is
// dirty and releases the directory lock. The embedder is not closed.
func (db *DB) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	db.mu.Unlock()

	if db.stopAutosave != nil {
		close(db.stopAutosave)
		<-db.autosaveDone
	}

	err := db.saveIfDirty(context.Background())
	if db.pool != nil {
		db.pool.close()
	}
	if cerr := db.snapshots.Close(); err == nil {
		err = cerr
	}

	db.mu.Lock()
	db.index = make(map[string]*Record)
	db.mu.Unlock()

	if rerr := db.lock.Release(); err == nil {
		err = rerr
	}
	return err
}

// markChangedLocked flags the index for autosave and, in multithreaded
// mode, hands every worker the new snapshot before returning.
func (db *DB) markChangedLocked() {
	db.dirty = true
	if db.pool != nil {
		db.pool.replace(db.snapshotLocked())
	}
}

// snapshotLocked returns the records ordered by hash.
func (db *DB) snapshotLocked() []*Record {
	records := make([]*Record, 0, len(db.index))
	for _, r := range db.index {
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Hash < records[j].Hash })
	return records
}

// dimensionsLocked is the length shared by all stored vectors, 0 when empty.
func (db *DB) dimensionsLocked() int {
	for _, r := range db.index {
		return len(r.Vector)
	}
	return 0
}

func vectorNotFound(hash string) error {
	return kberrors.New(kberrors.ErrCodeVectorNotFound,
		fmt.Sprintf("vector %s not found", hash), nil).WithDetail("hash", hash)
}
