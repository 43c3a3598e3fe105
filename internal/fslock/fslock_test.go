package fslock

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kberrors "github.com/Aman-CERP/kbindex/internal/errors"
)

func TestAcquire_CreatesDirectoryAndLockFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "db")

	l, err := Acquire(dir)
	require.NoError(t, err)
	defer func() { _ = l.Release() }()

	_, statErr := os.Stat(l.Path())
	assert.NoError(t, statErr)
}

// TS01: Second acquire fails while held
func TestAcquire_SecondHandleIsRejected(t *testing.T) {
	// Given: a held lock
	dir := t.TempDir()
	first, err := Acquire(dir)
	require.NoError(t, err)

	// When: acquiring again
	_, err = Acquire(dir)

	// Then: database locked error
	require.Error(t, err)
	assert.True(t, errors.Is(err, kberrors.ErrDatabaseLocked))

	// And: after release it can be acquired again
	require.NoError(t, first.Release())
	second, err := Acquire(dir)
	require.NoError(t, err)
	assert.NoError(t, second.Release())
}

func TestRelease_Twice(t *testing.T) {
	l, err := Acquire(t.TempDir())
	require.NoError(t, err)

	assert.NoError(t, l.Release())
	assert.NoError(t, l.Release())

	var nilLock *Lock
	assert.NoError(t, nilLock.Release())
}
