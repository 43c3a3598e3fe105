package tfidf

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kberrors "github.com/Aman-CERP/kbindex/internal/errors"
	"github.com/Aman-CERP/kbindex/internal/store"
)

func openTestDB(t *testing.T, dir string) *DB {
	t.Helper()
	opts := DefaultOptions(dir)
	opts.Autosave = false
	db, err := Open(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func idf(total, df int) float64 {
	return 1 + math.Log10(float64(total)/float64(df+1))
}

// TS01: End-to-end ingest, query, delete
func TestDB_IngestQueryDelete(t *testing.T) {
	// Given: two documents sharing two of three words
	db := openTestDB(t, t.TempDir())
	require.NoError(t, db.Ingest("the cat sat", Metadata{"aidb_docid": "1"}, "en"))
	require.NoError(t, db.Ingest("the dog sat", Metadata{"aidb_docid": "2"}, "en"))

	// When: querying a word only A contains
	results, err := db.Query("cat", QueryOptions{IgnoreCoord: true})

	// Then: only A is returned, with a positive score
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "1", results[0].Key)
	assert.Greater(t, results[0].Score, 0.0)

	// When: deleting A and querying again
	require.NoError(t, db.Delete(Metadata{"aidb_docid": "1"}, "en"))
	results, err = db.Query("cat", QueryOptions{IgnoreCoord: true})

	// Then: nothing matches
	require.NoError(t, err)
	assert.Empty(t, results)
}

// TS02: Weights follow tf * (1 + log10(N/(df+1))) after every ingest
func TestDB_RecomputeFormula(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	require.NoError(t, db.Ingest("apple apple banana", Metadata{"aidb_docid": "a"}, ""))
	require.NoError(t, db.Ingest("banana cherry", Metadata{"aidb_docid": "b"}, ""))
	require.NoError(t, db.Ingest("cherry", Metadata{"aidb_docid": "c"}, ""))

	appleIdx, ok := db.WordIndex("apple")
	require.True(t, ok)
	bananaIdx, _ := db.WordIndex("banana")
	cherryIdx, _ := db.WordIndex("cherry")

	a, err := db.Get(Metadata{"aidb_docid": "a"}, "")
	require.NoError(t, err)
	b, err := db.Get(Metadata{"aidb_docid": "b"}, "")
	require.NoError(t, err)

	assert.InDelta(t, 2.0/3.0*idf(3, 1), a.Scores[appleIdx].TFIDF, 1e-12)
	assert.InDelta(t, 1.0/3.0*idf(3, 2), a.Scores[bananaIdx].TFIDF, 1e-12)
	assert.InDelta(t, 0.5*idf(3, 2), b.Scores[cherryIdx].TFIDF, 1e-12)
	assert.Equal(t, 2, a.Scores[appleIdx].WordCount)
	assert.Equal(t, 3, a.Length)
}

// TS03: Re-ingesting the same key replaces the document
func TestDB_ReingestReplaces(t *testing.T) {
	// Given: a document ingested twice under one key with different content
	dir := t.TempDir()
	db := openTestDB(t, dir)
	meta := Metadata{"aidb_docid": "doc"}
	require.NoError(t, db.Ingest("old words here", meta, ""))
	first, err := db.Get(meta, "")
	require.NoError(t, err)
	require.NoError(t, db.Ingest("fresh content", meta, ""))

	// Then: one document, with the final content's statistics
	st := db.Stats()
	assert.Equal(t, 1, st.Documents)
	assert.Equal(t, 2, st.IndexedWords)

	doc, err := db.Get(meta, "")
	require.NoError(t, err)
	assert.Equal(t, 2, doc.Length)
	assert.Equal(t, first.DateCreated, doc.DateCreated)

	// And: same weights as a single ingest of the final content
	other := openTestDB(t, filepath.Join(t.TempDir(), "single"))
	require.NoError(t, other.Ingest("fresh content", meta, ""))
	single, err := other.Get(meta, "")
	require.NoError(t, err)

	idxDB, _ := db.WordIndex("fresh")
	idxOther, _ := other.WordIndex("fresh")
	assert.InDelta(t, single.Scores[idxOther].TFIDF, doc.Scores[idxDB].TFIDF, 1e-12)

	results, err := db.Query("old", QueryOptions{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

// TS04: Vocabulary slots survive deletion of every document using them
func TestDB_VocabularyStableAcrossDelete(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	require.NoError(t, db.Ingest("zebra", Metadata{"aidb_docid": "z"}, ""))
	require.NoError(t, db.Ingest("yak", Metadata{"aidb_docid": "y"}, ""))
	zebra, _ := db.WordIndex("zebra")
	yak, _ := db.WordIndex("yak")

	require.NoError(t, db.Delete(Metadata{"aidb_docid": "z"}, ""))
	require.NoError(t, db.Ingest("aardvark yak", Metadata{"aidb_docid": "a"}, ""))

	zebraAfter, ok := db.WordIndex("zebra")
	assert.True(t, ok)
	assert.Equal(t, zebra, zebraAfter)
	yakAfter, _ := db.WordIndex("yak")
	assert.Equal(t, yak, yakAfter)
	aardvark, _ := db.WordIndex("aardvark")
	assert.Equal(t, 2, aardvark)
	assert.Equal(t, 2, db.Stats().IndexedWords)
}

func TestDB_DeleteMissingIsNotFound(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	require.NoError(t, db.Ingest("keep me", Metadata{"aidb_docid": "k"}, ""))

	err := db.Delete(Metadata{"aidb_docid": "missing"}, "")

	require.Error(t, err)
	assert.True(t, errors.Is(err, kberrors.ErrDocumentNotFound))
	assert.Equal(t, 1, db.Stats().Documents)
}

func TestDB_UpdateRekeysWithoutRescoring(t *testing.T) {
	// Given: a document
	db := openTestDB(t, t.TempDir())
	oldMeta := Metadata{"aidb_docid": "/a.txt", "fullpath": "/a.txt"}
	newMeta := Metadata{"aidb_docid": "/b.txt", "fullpath": "/b.txt"}
	require.NoError(t, db.Ingest("renamed file body", oldMeta, ""))
	before, err := db.Get(oldMeta, "")
	require.NoError(t, err)

	// When: updating its metadata
	require.NoError(t, db.Update(oldMeta, newMeta, ""))

	// Then: only the new key exists, scores unchanged
	_, err = db.Get(oldMeta, "")
	assert.True(t, kberrors.IsNotFound(err))
	after, err := db.Get(newMeta, "")
	require.NoError(t, err)
	assert.Equal(t, "/b.txt", after.Metadata["fullpath"])
	assert.Equal(t, before.Scores, after.Scores)
	assert.False(t, after.DateModified.Before(before.DateModified))

	err = db.Update(oldMeta, newMeta, "")
	assert.True(t, kberrors.IsNotFound(err))
}

func TestDocumentKey_HashesFoldedMetadata(t *testing.T) {
	k1, err := documentKey(Metadata{"Path": "/Docs/A.TXT", "size": 3}, DefaultDocIDKey, "en")
	require.NoError(t, err)
	k2, err := documentKey(Metadata{"path": "/docs/a.txt", "size": 3}, DefaultDocIDKey, "en")
	require.NoError(t, err)

	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 32)

	k3, err := documentKey(Metadata{"aidb_docid": "explicit", "path": "x"}, DefaultDocIDKey, "en")
	require.NoError(t, err)
	assert.Equal(t, "explicit", k3)
}

func TestDB_CustomDocIDKey(t *testing.T) {
	opts := DefaultOptions(t.TempDir())
	opts.Autosave = false
	opts.DocIDKey = "fullpath"
	db, err := Open(context.Background(), opts)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	require.NoError(t, db.Ingest("one", Metadata{"fullpath": "/x", "rev": 1}, ""))
	require.NoError(t, db.Ingest("two", Metadata{"fullpath": "/x", "rev": 2}, ""))

	assert.Equal(t, 1, db.Stats().Documents)
	key, err := db.Key(Metadata{"fullpath": "/x"}, "")
	require.NoError(t, err)
	assert.Equal(t, "/x", key)
}

// TS05: Flush and reopen restores the index
func TestDB_PersistenceRoundTrip(t *testing.T) {
	for _, backend := range []store.Backend{store.BackendJSON, store.BackendSQLite} {
		t.Run(string(backend), func(t *testing.T) {
			dir := t.TempDir()
			opts := DefaultOptions(dir)
			opts.Autosave = false
			opts.Backend = backend

			db, err := Open(context.Background(), opts)
			require.NoError(t, err)
			require.NoError(t, db.Ingest("persistent words", Metadata{"aidb_docid": "p", "id": 1}, ""))
			require.NoError(t, db.Flush(context.Background()))
			require.NoError(t, db.Close())

			reopened, err := Open(context.Background(), opts)
			require.NoError(t, err)
			defer func() { _ = reopened.Close() }()

			results, err := reopened.Query("persistent", QueryOptions{})
			require.NoError(t, err)
			require.Len(t, results, 1)
			assert.Equal(t, "p", results[0].Key)

			filtered, err := reopened.Query("", QueryOptions{Filter: MetadataEquals("id", 1)})
			require.NoError(t, err)
			assert.Len(t, filtered, 1)
		})
	}
}

func TestDB_CorruptSnapshotFallsBackToEmpty(t *testing.T) {
	// Given: a corrupt index.json
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, IndexFile), []byte("{not json"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, VocabularyFile), []byte(`[]`), 0o644))

	// When: opening
	db := openTestDB(t, dir)

	// Then: the database is usable and empty
	assert.Equal(t, 0, db.Stats().Documents)
	require.NoError(t, db.Ingest("works again", Metadata{"aidb_docid": "w"}, ""))
	assert.Equal(t, 1, db.Stats().Documents)
}

func TestDB_AutosaveWritesSnapshot(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions(dir)
	opts.AutosaveInterval = 10 * time.Millisecond
	db, err := Open(context.Background(), opts)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	require.NoError(t, db.Ingest("saved later", Metadata{"aidb_docid": "s"}, ""))

	assert.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, IndexFile))
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDB_SecondOpenIsLocked(t *testing.T) {
	dir := t.TempDir()
	_ = openTestDB(t, dir)

	_, err := Open(context.Background(), DefaultOptions(dir))
	assert.True(t, errors.Is(err, kberrors.ErrDatabaseLocked))
}

func TestDB_ClosedRejectsOperations(t *testing.T) {
	opts := DefaultOptions(t.TempDir())
	db, err := Open(context.Background(), opts)
	require.NoError(t, err)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	assert.ErrorIs(t, db.Ingest("x", Metadata{"aidb_docid": "x"}, ""), kberrors.ErrClosed)
	_, err = db.Query("x", QueryOptions{})
	assert.ErrorIs(t, err, kberrors.ErrClosed)
	assert.ErrorIs(t, db.Flush(context.Background()), kberrors.ErrClosed)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(context.Background(), Options{})
	require.Error(t, err)
	assert.Equal(t, kberrors.ErrCodeInvalidInput, kberrors.GetCode(err))
}
