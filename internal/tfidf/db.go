// Package tfidf implements an in-memory TF-IDF document index with
// best-effort snapshot persistence.
//
// Every ingest recomputes the weights of the whole corpus, so the index
// favors small and medium knowledge bases where query latency matters more
// than ingest throughput.
package tfidf

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	kberrors "github.com/Aman-CERP/kbindex/internal/errors"
	"github.com/Aman-CERP/kbindex/internal/fslock"
	"github.com/Aman-CERP/kbindex/internal/lexical"
	"github.com/Aman-CERP/kbindex/internal/store"
)

// DefaultDocIDKey is the metadata field used as the document key.
const DefaultDocIDKey = "aidb_docid"

// Options configures a DB.
type Options struct {
	// Path is the database directory. Required.
	Path string

	// DocIDKey names the metadata field holding the document key.
	DocIDKey string

	// Lang is the default language for normalization and key folding.
	Lang string

	// Autosave schedules a snapshot write after every mutation.
	Autosave bool

	// AutosaveInterval is the delay between a mutation and its write.
	AutosaveInterval time.Duration

	// Backend selects where snapshots are kept.
	Backend store.Backend

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultOptions returns the options used when only a path is known.
func DefaultOptions(path string) Options {
	return Options{
		Path:             path,
		DocIDKey:         DefaultDocIDKey,
		Lang:             lexical.DefaultLang,
		Autosave:         true,
		AutosaveInterval: 500 * time.Millisecond,
		Backend:          store.BackendJSON,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions(o.Path)
	if o.DocIDKey == "" {
		o.DocIDKey = d.DocIDKey
	}
	if o.Lang == "" {
		o.Lang = d.Lang
	}
	if o.AutosaveInterval <= 0 {
		o.AutosaveInterval = d.AutosaveInterval
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// DB is an open TF-IDF database. It holds an exclusive lock on its
// directory until Close.
type DB struct {
	opts      Options
	logger    *slog.Logger
	lock      *fslock.Lock
	snapshots store.SnapshotStore

	mu            sync.RWMutex
	docs          map[string]*Document
	wordDocCounts map[int]int
	vocab         *Vocabulary
	closed        bool

	// saveMu serializes snapshot writes; storeClosed is guarded by it.
	saveMu      sync.Mutex
	storeClosed bool

	timerMu sync.Mutex
	timer   *time.Timer
	stopped bool
}

// Stats summarizes the index.
type Stats struct {
	Documents      int `json:"documents"`
	Vocabulary     int `json:"vocabulary"`
	IndexedWords   int `json:"indexed_words"`
	TotalWordCount int `json:"total_word_count"`
}

// Open loads the database at opts.Path, creating it when absent. A missing
// or unreadable snapshot yields an empty database and a warning.
func Open(ctx context.Context, opts Options) (*DB, error) {
	if opts.Path == "" {
		return nil, kberrors.ValidationError("tfidf database path is required", nil)
	}
	opts = opts.withDefaults()

	lock, err := fslock.Acquire(opts.Path)
	if err != nil {
		return nil, err
	}

	snapshots, err := store.Open(opts.Path, opts.Backend)
	if err != nil {
		_ = lock.Release()
		return nil, kberrors.ConfigError("open tfidf snapshot store", err)
	}

	db := &DB{
		opts:      opts,
		logger:    opts.Logger,
		lock:      lock,
		snapshots: snapshots,
	}
	db.reset()
	db.load(ctx)
	return db, nil
}

func (db *DB) reset() {
	db.docs = make(map[string]*Document)
	db.wordDocCounts = make(map[int]int)
	db.vocab = NewVocabulary()
}

// Ingest adds document under the key derived from metadata, replacing any
// document already stored under that key, and recomputes all weights.
// An empty lang uses the database default.
func (db *DB) Ingest(document string, metadata Metadata, lang string) error {
	lang = db.lang(lang)
	key, err := documentKey(metadata, db.opts.DocIDKey, lang)
	if err != nil {
		return kberrors.ValidationError("derive document key", err)
	}
	words := lexical.Normalize(document, lang)
	now := time.Now()

	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return kberrors.ErrClosed
	}

	created := now
	if old, ok := db.docs[key]; ok {
		created = old.DateCreated
		db.deleteLocked(key, old)
	}

	doc := &Document{
		Metadata:     cloneMetadata(metadata),
		Scores:       make(map[int]*WordScore),
		Length:       len(words),
		DateCreated:  created,
		DateModified: now,
	}
	for _, w := range words {
		idx := db.vocab.Intern(w)
		if s, ok := doc.Scores[idx]; ok {
			s.WordCount++
			continue
		}
		doc.Scores[idx] = &WordScore{WordCount: 1}
		db.wordDocCounts[idx]++
	}
	db.docs[key] = doc
	db.recomputeLocked()
	db.mu.Unlock()

	db.logger.Debug("tfidf_document_ingested",
		slog.String("key", key),
		slog.Int("length", len(words)))
	db.scheduleSave()
	return nil
}

// recomputeLocked rebuilds every weight against the current corpus:
// tf = count/length, idf = 1 + log10(N / (df + 1)).
func (db *DB) recomputeLocked() {
	total := float64(len(db.docs))
	for _, doc := range db.docs {
		if doc.Length == 0 {
			continue
		}
		for idx, s := range doc.Scores {
			tf := float64(s.WordCount) / float64(doc.Length)
			idf := 1 + math.Log10(total/float64(db.wordDocCounts[idx]+1))
			s.TFIDF = tf * idf
		}
	}
}

func (db *DB) deleteLocked(key string, doc *Document) {
	for idx := range doc.Scores {
		if db.wordDocCounts[idx] <= 1 {
			delete(db.wordDocCounts, idx)
			continue
		}
		db.wordDocCounts[idx]--
	}
	delete(db.docs, key)
}

// Delete removes the document keyed by metadata. Weights of the remaining
// documents are left as they are until the next ingest. An unknown key
// returns ERR_601_DOCUMENT_NOT_FOUND and changes nothing.
func (db *DB) Delete(metadata Metadata, lang string) error {
	key, err := documentKey(metadata, db.opts.DocIDKey, db.lang(lang))
	if err != nil {
		return kberrors.ValidationError("derive document key", err)
	}

	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return kberrors.ErrClosed
	}
	doc, ok := db.docs[key]
	if !ok {
		db.mu.Unlock()
		db.logger.Debug("tfidf_delete_missing", slog.String("key", key))
		return notFound(key)
	}
	db.deleteLocked(key, doc)
	db.mu.Unlock()

	db.scheduleSave()
	return nil
}

// Update moves a document from the key of oldMetadata to the key of
// newMetadata and replaces its metadata. Content and scores are untouched.
func (db *DB) Update(oldMetadata, newMetadata Metadata, lang string) error {
	lang = db.lang(lang)
	oldKey, err := documentKey(oldMetadata, db.opts.DocIDKey, lang)
	if err != nil {
		return kberrors.ValidationError("derive document key", err)
	}
	newKey, err := documentKey(newMetadata, db.opts.DocIDKey, lang)
	if err != nil {
		return kberrors.ValidationError("derive document key", err)
	}

	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return kberrors.ErrClosed
	}
	doc, ok := db.docs[oldKey]
	if !ok {
		db.mu.Unlock()
		return notFound(oldKey)
	}
	if existing, ok := db.docs[newKey]; ok && newKey != oldKey {
		db.deleteLocked(newKey, existing)
	}
	doc.Metadata = cloneMetadata(newMetadata)
	doc.DateModified = time.Now()
	delete(db.docs, oldKey)
	db.docs[newKey] = doc
	db.mu.Unlock()

	db.scheduleSave()
	return nil
}

// Get returns a copy of the document keyed by metadata.
func (db *DB) Get(metadata Metadata, lang string) (*Document, error) {
	key, err := documentKey(metadata, db.opts.DocIDKey, db.lang(lang))
	if err != nil {
		return nil, kberrors.ValidationError("derive document key", err)
	}

	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, kberrors.ErrClosed
	}
	doc, ok := db.docs[key]
	if !ok {
		return nil, notFound(key)
	}
	return doc.clone(), nil
}

// Key returns the document key metadata maps to.
func (db *DB) Key(metadata Metadata, lang string) (string, error) {
	return documentKey(metadata, db.opts.DocIDKey, db.lang(lang))
}

// WordIndex returns the vocabulary index of an already normalized word.
func (db *DB) WordIndex(word string) (int, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.vocab.Lookup(word)
}

// Stats returns index counters.
func (db *DB) Stats() Stats {
	db.mu.RLock()
	defer db.mu.RUnlock()

	st := Stats{
		Documents:    len(db.docs),
		Vocabulary:   db.vocab.Len(),
		IndexedWords: len(db.wordDocCounts),
	}
	for _, d := range db.docs {
		st.TotalWordCount += d.Length
	}
	return st
}

// Path returns the database directory.
func (db *DB) Path() string { return db.opts.Path }

// Flush writes the current state to the snapshot store.
func (db *DB) Flush(ctx context.Context) error {
	db.mu.RLock()
	closed := db.closed
	db.mu.RUnlock()
	if closed {
		return kberrors.ErrClosed
	}
	return db.save(ctx)
}

// Close cancels any pending autosave and releases the directory lock,
// dropping the in-memory state. With autosave on, a final snapshot is
// written first.
func (db *DB) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	db.mu.Unlock()

	db.timerMu.Lock()
	db.stopped = true
	if db.timer != nil {
		db.timer.Stop()
		db.timer = nil
	}
	db.timerMu.Unlock()

	db.saveMu.Lock()
	var err error
	if db.opts.Autosave {
		err = db.writeLocked(context.Background())
	}
	if cerr := db.snapshots.Close(); err == nil {
		err = cerr
	}
	db.storeClosed = true
	db.saveMu.Unlock()

	db.mu.Lock()
	db.reset()
	db.mu.Unlock()

	if rerr := db.lock.Release(); err == nil {
		err = rerr
	}
	return err
}

func (db *DB) lang(lang string) string {
	if lang == "" {
		return db.opts.Lang
	}
	return lang
}

func notFound(key string) error {
	return kberrors.New(kberrors.ErrCodeDocumentNotFound,
		fmt.Sprintf("document %q not found", key), nil).WithDetail("key", key)
}
