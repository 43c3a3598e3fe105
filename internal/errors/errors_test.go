package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TS01: Error wrapping preserves original error
func TestKBError_Unwrap_PreservesOriginalError(t *testing.T) {
	// Given: an original error
	originalErr := errors.New("disk full")

	// When: wrapping with KBError
	ke := New(ErrCodeArtifactWrite, "write text_abc.txt", originalErr)

	// Then: unwrapping returns original error
	require.NotNil(t, ke)
	assert.Equal(t, originalErr, errors.Unwrap(ke))
	assert.True(t, errors.Is(ke, originalErr))
}

func TestKBError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      *KBError
		expected string
	}{
		{
			name:     "no cause",
			err:      New(ErrCodeVectorNotFound, "vector not found", nil),
			expected: "[ERR_602_VECTOR_NOT_FOUND] vector not found",
		},
		{
			name:     "wrapped cause",
			err:      Wrap(ErrCodeArtifactRead, errors.New("permission denied")),
			expected: "[ERR_209_ARTIFACT_READ] permission denied",
		},
		{
			name:     "message and cause",
			err:      New(ErrCodeSnapshotWrite, "write dbindex.json", errors.New("no space")),
			expected: "[ERR_207_SNAPSHOT_WRITE] write dbindex.json: no space",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

// TS02: Sentinel matching by code
func TestKBError_Is_MatchesSentinelByCode(t *testing.T) {
	// Given: a not-found error wrapped by fmt.Errorf
	err := fmt.Errorf("delete: %w", New(ErrCodeVectorNotFound, "no such vector", nil))

	// Then: errors.Is matches the sentinel and not other codes
	assert.True(t, errors.Is(err, ErrVectorNotFound))
	assert.False(t, errors.Is(err, ErrDocumentNotFound))
	assert.True(t, IsNotFound(err))
}

func TestCategoryFromCode(t *testing.T) {
	tests := []struct {
		code     string
		expected Category
	}{
		{ErrCodeConfigInvalid, CategoryConfig},
		{ErrCodeArtifactWrite, CategoryIO},
		{ErrCodeNetworkTimeout, CategoryNetwork},
		{ErrCodeDimensionMismatch, CategoryValidation},
		{ErrCodeIngestRolledBack, CategoryInternal},
		{ErrCodeDocumentNotFound, CategoryNotFound},
		{"bad", CategoryInternal},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.expected, categoryFromCode(tt.code))
		})
	}
}

func TestDimensionMismatch_CarriesDetails(t *testing.T) {
	err := DimensionMismatch(3, 4)

	assert.True(t, errors.Is(err, ErrDimensionMismatch))
	assert.Equal(t, "3", err.Details["expected"])
	assert.Equal(t, "4", err.Details["got"])
	assert.Equal(t, CategoryValidation, err.Category)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NetworkError("connection refused", nil)))
	assert.True(t, IsRetryable(fmt.Errorf("embed: %w", NetworkError("timeout", nil))))
	assert.False(t, IsRetryable(ValidationError("empty", nil)))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRetryable(nil))
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(New(ErrCodeDatabaseLocked, "locked", nil)))
	assert.False(t, IsFatal(New(ErrCodeVectorNotFound, "missing", nil)))
	assert.False(t, IsFatal(nil))
}

func TestGetCode_NonKBError(t *testing.T) {
	assert.Equal(t, "", GetCode(errors.New("plain")))
	assert.Equal(t, ErrCodeNoVector, GetCode(New(ErrCodeNoVector, "x", nil)))
}

func TestWrap_Nil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}
