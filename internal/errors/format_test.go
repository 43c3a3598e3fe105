package errors

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatForCLI_IncludesHintAndCode(t *testing.T) {
	// Given: a locked database error with a suggestion
	err := New(ErrCodeDatabaseLocked, "database is locked", nil).
		WithSuggestion("stop the other kbindex process")

	// When: formatting
	out := FormatForCLI(err)

	// Then: message, hint and code are present
	assert.Contains(t, out, "Error: database is locked")
	assert.Contains(t, out, "Hint: stop the other kbindex process")
	assert.Contains(t, out, "Code: ERR_211_DATABASE_LOCKED")
}

func TestFormatForCLI_PlainError(t *testing.T) {
	out := FormatForCLI(errors.New("boom"))
	assert.Contains(t, out, "Error: boom")
	assert.Contains(t, out, ErrCodeInternal)
	assert.Equal(t, "", FormatForCLI(nil))
}

func TestFormatJSON(t *testing.T) {
	err := New(ErrCodeArtifactRead, "read text", errors.New("eof")).WithDetail("hash", "abc")

	data, ferr := FormatJSON(err)
	require.NoError(t, ferr)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, ErrCodeArtifactRead, decoded["code"])
	assert.Equal(t, "IO", decoded["category"])
	assert.Equal(t, "eof", decoded["cause"])
	assert.Equal(t, "abc", decoded["details"].(map[string]any)["hash"])
}

func TestLogAttrs(t *testing.T) {
	assert.Nil(t, LogAttrs(nil))
	assert.Len(t, LogAttrs(errors.New("plain")), 1)
	assert.Len(t, LogAttrs(DimensionMismatch(2, 3)), 5)
}
