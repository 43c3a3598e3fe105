package tfidf

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	kberrors "github.com/Aman-CERP/kbindex/internal/errors"
	"github.com/Aman-CERP/kbindex/internal/store"
)

// Snapshot document names.
const (
	IndexFile      = "index.json"
	VocabularyFile = "vocabulary.json"
)

type indexSnapshot struct {
	DocStore      map[string]*Document `json:"tfidfDocStore"`
	WordDocCounts map[int]int          `json:"wordDocCounts"`
}

// scheduleSave arranges a write after the autosave interval. While a write
// is pending further mutations ride along with it, since the write captures
// the state at the time it runs.
func (db *DB) scheduleSave() {
	if !db.opts.Autosave {
		return
	}
	db.timerMu.Lock()
	defer db.timerMu.Unlock()
	if db.stopped || db.timer != nil {
		return
	}
	db.timer = time.AfterFunc(db.opts.AutosaveInterval, db.autosave)
}

func (db *DB) autosave() {
	db.timerMu.Lock()
	db.timer = nil
	db.timerMu.Unlock()

	if err := db.save(context.Background()); err != nil {
		db.logger.Warn("tfidf_autosave_failed", kberrors.LogAttrs(err)...)
	}
}

func (db *DB) save(ctx context.Context) error {
	db.saveMu.Lock()
	defer db.saveMu.Unlock()
	if db.storeClosed {
		return nil
	}
	return db.writeLocked(ctx)
}

// writeLocked requires saveMu.
func (db *DB) writeLocked(ctx context.Context) error {
	db.mu.RLock()
	index, ierr := json.Marshal(indexSnapshot{DocStore: db.docs, WordDocCounts: db.wordDocCounts})
	vocab, verr := json.Marshal(db.vocab)
	db.mu.RUnlock()

	if ierr != nil {
		return kberrors.New(kberrors.ErrCodeSnapshotWrite, "encode "+IndexFile, ierr)
	}
	if verr != nil {
		return kberrors.New(kberrors.ErrCodeSnapshotWrite, "encode "+VocabularyFile, verr)
	}
	if err := db.snapshots.Save(ctx, IndexFile, index); err != nil {
		return kberrors.New(kberrors.ErrCodeSnapshotWrite, "write "+IndexFile, err)
	}
	if err := db.snapshots.Save(ctx, VocabularyFile, vocab); err != nil {
		return kberrors.New(kberrors.ErrCodeSnapshotWrite, "write "+VocabularyFile, err)
	}
	return nil
}

// load replaces the in-memory state with the stored snapshot. Any failure
// leaves the database empty.
func (db *DB) load(ctx context.Context) {
	indexData, ierr := db.snapshots.Load(ctx, IndexFile)
	vocabData, verr := db.snapshots.Load(ctx, VocabularyFile)
	if errors.Is(ierr, store.ErrNotExist) && errors.Is(verr, store.ErrNotExist) {
		db.logger.Info("tfidf_database_created", slog.String("path", db.opts.Path))
		return
	}

	fail := func(cause error) {
		err := kberrors.New(kberrors.ErrCodeCorruptIndex, "load tfidf snapshot, using an empty database", cause).
			WithDetail("path", db.opts.Path)
		db.logger.Warn("tfidf_snapshot_load_failed", kberrors.LogAttrs(err)...)
		db.reset()
	}
	if ierr != nil {
		fail(ierr)
		return
	}
	if verr != nil {
		fail(verr)
		return
	}

	var snap indexSnapshot
	if err := json.Unmarshal(indexData, &snap); err != nil {
		fail(err)
		return
	}
	vocab := NewVocabulary()
	if err := json.Unmarshal(vocabData, vocab); err != nil {
		fail(err)
		return
	}
	for idx := range snap.WordDocCounts {
		if idx < 0 || idx >= vocab.Len() {
			fail(errors.New("word count references a word outside the vocabulary"))
			return
		}
	}

	if snap.DocStore != nil {
		db.docs = snap.DocStore
	}
	if snap.WordDocCounts != nil {
		db.wordDocCounts = snap.WordDocCounts
	}
	for _, d := range db.docs {
		if d.Scores == nil {
			d.Scores = make(map[int]*WordScore)
		}
		if d.Metadata == nil {
			d.Metadata = make(Metadata)
		}
	}
	db.vocab = vocab
	db.logger.Debug("tfidf_snapshot_loaded",
		slog.String("path", db.opts.Path),
		slog.Int("documents", len(db.docs)),
		slog.Int("vocabulary", vocab.Len()))
}
