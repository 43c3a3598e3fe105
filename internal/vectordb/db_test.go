package vectordb

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kberrors "github.com/Aman-CERP/kbindex/internal/errors"
	"github.com/Aman-CERP/kbindex/internal/store"
)

// TS01: Add, Read, Update, Delete round trip
func TestDB_CRUD(t *testing.T) {
	// Given: an empty database
	db := openTestDB(t, testOptions(t.TempDir()))
	ctx := context.Background()
	v := []float32{0.1, 0.2, 0.3}

	// When: adding a vector with metadata and text
	got, err := db.Add(ctx, v, Metadata{"doc": "a"}, "first text")
	require.NoError(t, err)
	assert.Equal(t, v, got)

	// Then: it reads back with text
	e, err := db.Read(v, false)
	require.NoError(t, err)
	assert.Equal(t, "a", e.Metadata["doc"])
	assert.Equal(t, "first text", e.Text)
	assert.Equal(t, VectorHash(v), e.Hash)

	// When: updating its metadata and text
	_, err = db.Update(ctx, v, Metadata{"doc": "b"}, "second text")
	require.NoError(t, err)

	// Then: the new values are returned
	e, err = db.Read(v, false)
	require.NoError(t, err)
	assert.Equal(t, "b", e.Metadata["doc"])
	assert.Equal(t, "second text", e.Text)

	// When: deleting it
	require.NoError(t, db.Delete(v))

	// Then: it is gone along with its text file
	_, err = db.Read(v, true)
	assert.True(t, kberrors.IsNotFound(err))
	_, statErr := os.Stat(filepath.Join(db.Path(), "text_"+VectorHash(v)+".txt"))
	assert.True(t, os.IsNotExist(statErr))
}

// TS02: Re-adding a stored vector changes nothing
func TestDB_AddIsIdempotent(t *testing.T) {
	db := openTestDB(t, testOptions(t.TempDir()))
	ctx := context.Background()
	v := []float32{1, 2, 3}

	_, err := db.Add(ctx, v, Metadata{"doc": "a"}, "original")
	require.NoError(t, err)
	_, err = db.Add(ctx, v, Metadata{"doc": "b"}, "replacement")
	require.NoError(t, err)

	e, err := db.Read(v, false)
	require.NoError(t, err)
	assert.Equal(t, "a", e.Metadata["doc"])
	assert.Equal(t, "original", e.Text)
	assert.Equal(t, 1, db.Stats().Records)
}

// TS03: Vectors must share the dimension of stored records
func TestDB_DimensionMismatch(t *testing.T) {
	db := openTestDB(t, testOptions(t.TempDir()))
	ctx := context.Background()

	_, err := db.Add(ctx, []float32{1, 2, 3}, nil, "three")
	require.NoError(t, err)
	_, err = db.Add(ctx, []float32{1, 2, 3, 4, 5}, nil, "five")

	require.Error(t, err)
	assert.True(t, errors.Is(err, kberrors.ErrDimensionMismatch))
	assert.Equal(t, 1, db.Stats().Records)
	assert.Equal(t, 3, db.Stats().Dimensions)
}

func TestDB_EmptyAcceptsAnyDimension(t *testing.T) {
	db := openTestDB(t, testOptions(t.TempDir()))
	ctx := context.Background()

	_, err := db.Add(ctx, []float32{1, 2, 3, 4, 5}, nil, "five")
	require.NoError(t, err)
	require.NoError(t, db.Delete([]float32{1, 2, 3, 4, 5}))

	_, err = db.Add(ctx, []float32{1, 2}, nil, "two")
	assert.NoError(t, err)
}

func TestDB_AddEmbedsText(t *testing.T) {
	opts := testOptions(t.TempDir())
	opts.Embedder = letterEmbedder()
	db := openTestDB(t, opts)

	v, err := db.Add(context.Background(), nil, nil, "aab")

	require.NoError(t, err)
	assert.Equal(t, []float32{2, 1, 0}, v)
}

func TestDB_AddWithoutVectorOrEmbedder(t *testing.T) {
	db := openTestDB(t, testOptions(t.TempDir()))

	_, err := db.Add(context.Background(), nil, nil, "text")

	assert.Equal(t, kberrors.ErrCodeNoVector, kberrors.GetCode(err))
}

// TS04: A failed text write leaves no record behind
func TestDB_AddRollsBackOnArtifactFailure(t *testing.T) {
	// Given: a directory squatting on the text file path
	db := openTestDB(t, testOptions(t.TempDir()))
	v := []float32{1, 0, 0}
	require.NoError(t, os.Mkdir(filepath.Join(db.Path(), "text_"+VectorHash(v)+".txt"), 0o755))

	// When: adding the vector
	_, err := db.Add(context.Background(), v, nil, "text")

	// Then: the insert fails and is undone
	assert.Equal(t, kberrors.ErrCodeArtifactWrite, kberrors.GetCode(err))
	assert.Equal(t, 0, db.Stats().Records)
	assert.False(t, db.Stats().Dirty)
}

func TestDB_ReadMissingArtifact(t *testing.T) {
	db := openTestDB(t, testOptions(t.TempDir()))
	v := []float32{1, 0, 0}
	_, err := db.Add(context.Background(), v, nil, "text")
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(db.Path(), "text_"+VectorHash(v)+".txt")))

	_, err = db.Read(v, false)
	assert.Equal(t, kberrors.ErrCodeArtifactRead, kberrors.GetCode(err))

	e, err := db.Read(v, true)
	require.NoError(t, err)
	assert.Empty(t, e.Text)
}

// TS05: Delete keeps the record when its text cannot be removed
func TestDB_DeleteArtifactFailure(t *testing.T) {
	db := openTestDB(t, testOptions(t.TempDir()))
	v := []float32{1, 0, 0}
	_, err := db.Add(context.Background(), v, nil, "text")
	require.NoError(t, err)

	path := filepath.Join(db.Path(), "text_"+VectorHash(v)+".txt")
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.Mkdir(path, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(path, "pin"), nil, 0o644))

	err = db.Delete(v)

	assert.Equal(t, kberrors.ErrCodeArtifactDelete, kberrors.GetCode(err))
	assert.Equal(t, 1, db.Stats().Records)
}

func TestDB_DeleteMissingArtifact(t *testing.T) {
	// Given: a record whose text file was removed behind its back
	db := openTestDB(t, testOptions(t.TempDir()))
	v := []float32{1, 0, 0}
	_, err := db.Add(context.Background(), v, Metadata{"doc": "a"}, "text")
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(db.Path(), "text_"+VectorHash(v)+".txt")))

	// When: deleting it
	err = db.Delete(v)

	// Then: the delete fails and the record stays
	assert.Equal(t, kberrors.ErrCodeArtifactDelete, kberrors.GetCode(err))
	assert.Equal(t, 1, db.Stats().Records)
	e, err := db.Read(v, true)
	require.NoError(t, err)
	assert.Equal(t, "a", e.Metadata["doc"])
}

// TS06: A failed update restores the previous record and text
func TestDB_UpdateRestoresOnArtifactFailure(t *testing.T) {
	// Given: a clean database holding one record
	db := openTestDB(t, testOptions(t.TempDir()))
	ctx := context.Background()
	v := []float32{1, 2, 3}
	_, err := db.Add(ctx, v, Metadata{"doc": "old"}, "old text")
	require.NoError(t, err)
	require.NoError(t, db.Flush(ctx))
	require.False(t, db.Stats().Dirty)

	// And: text writes that fail for the new text only
	db.artifacts.writeFile = func(name string, data []byte, perm os.FileMode) error {
		if string(data) == "new text" {
			return errors.New("disk full")
		}
		return os.WriteFile(name, data, perm)
	}

	// When: updating the record
	_, err = db.Update(ctx, v, Metadata{"doc": "new"}, "new text")

	// Then: the update fails and nothing changed
	assert.Equal(t, kberrors.ErrCodeArtifactWrite, kberrors.GetCode(err))
	e, err := db.Read(v, false)
	require.NoError(t, err)
	assert.Equal(t, "old", e.Metadata["doc"])
	assert.Equal(t, "old text", e.Text)
	assert.Equal(t, 1, db.Stats().Records)
	assert.False(t, db.Stats().Dirty)
}

func TestDB_DeleteUnknown(t *testing.T) {
	db := openTestDB(t, testOptions(t.TempDir()))

	err := db.Delete([]float32{9, 9, 9})

	assert.True(t, errors.Is(err, kberrors.ErrVectorNotFound))
}

func TestDB_UpdateUnknown(t *testing.T) {
	db := openTestDB(t, testOptions(t.TempDir()))

	_, err := db.Update(context.Background(), []float32{9, 9, 9}, nil, "x")

	assert.True(t, kberrors.IsNotFound(err))
}

func TestDB_ListFilter(t *testing.T) {
	db := openTestDB(t, testOptions(t.TempDir()))
	ctx := context.Background()
	_, _ = db.Add(ctx, []float32{1, 0}, Metadata{"org": "x"}, "one")
	_, _ = db.Add(ctx, []float32{0, 1}, Metadata{"org": "y"}, "two")
	_, _ = db.Add(ctx, []float32{1, 1}, Metadata{"org": "x"}, "three")

	all, err := db.List(nil, true)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	xs, err := db.List(MetadataEquals("org", "x"), false)
	require.NoError(t, err)
	require.Len(t, xs, 2)
	for _, e := range xs {
		assert.NotEmpty(t, e.Text)
	}
}

// TS06: Records and text survive close and reopen
func TestDB_Persistence(t *testing.T) {
	for _, backend := range []store.Backend{store.BackendJSON, store.BackendSQLite} {
		t.Run(string(backend), func(t *testing.T) {
			dir := t.TempDir()
			opts := testOptions(dir)
			opts.Backend = backend
			ctx := context.Background()

			db, err := Open(ctx, opts)
			require.NoError(t, err)
			_, err = db.Add(ctx, []float32{0.5, 0.25}, Metadata{"doc": "a", "n": 1}, "persisted")
			require.NoError(t, err)
			assert.True(t, db.Stats().Dirty)
			require.NoError(t, db.Close())

			db2 := openTestDB(t, opts)
			e, err := db2.Read([]float32{0.5, 0.25}, false)
			require.NoError(t, err)
			assert.Equal(t, "persisted", e.Text)
			assert.Equal(t, "a", e.Metadata["doc"])
			assert.False(t, db2.Stats().Dirty)
		})
	}
}

func TestDB_CorruptSnapshotStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, IndexFile), []byte("{not json"), 0o644))

	db := openTestDB(t, testOptions(dir))

	assert.Equal(t, 0, db.Stats().Records)
}

func TestDB_Autosave(t *testing.T) {
	dir := t.TempDir()
	opts := DefaultOptions(dir)
	opts.AutosaveInterval = 10 * time.Millisecond
	db := openTestDB(t, opts)

	_, err := db.Add(context.Background(), []float32{1, 2}, nil, "saved")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(dir, IndexFile))
		return err == nil && !db.Stats().Dirty
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDB_FlushWritesClean(t *testing.T) {
	dir := t.TempDir()
	db := openTestDB(t, testOptions(dir))

	require.NoError(t, db.Flush(context.Background()))

	_, err := os.Stat(filepath.Join(dir, IndexFile))
	assert.NoError(t, err)
}

func TestDB_LockedByAnotherHandle(t *testing.T) {
	dir := t.TempDir()
	_ = openTestDB(t, testOptions(dir))

	_, err := Open(context.Background(), testOptions(dir))

	assert.True(t, errors.Is(err, kberrors.ErrDatabaseLocked))
}

func TestDB_ClosedRejectsOperations(t *testing.T) {
	db, err := Open(context.Background(), testOptions(t.TempDir()))
	require.NoError(t, err)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	_, err = db.Add(context.Background(), []float32{1}, nil, "x")
	assert.True(t, errors.Is(err, kberrors.ErrClosed))
	_, err = db.Query([]float32{1}, QueryOptions{})
	assert.True(t, errors.Is(err, kberrors.ErrClosed))
	assert.True(t, errors.Is(db.Flush(context.Background()), kberrors.ErrClosed))
}
