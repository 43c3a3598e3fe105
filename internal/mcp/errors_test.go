package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	kberrors "github.com/Aman-CERP/kbindex/internal/errors"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"file not found", kberrors.New(kberrors.ErrCodeFileNotFound, "missing.txt", nil), ErrCodeFileNotFound},
		{"embedding failed", kberrors.New(kberrors.ErrCodeEmbeddingFailed, "ollama down", nil), ErrCodeEmbeddingFailed},
		{"no vector", kberrors.New(kberrors.ErrCodeNoVector, "empty embedding", nil), ErrCodeEmbeddingFailed},
		{"document not found", kberrors.ErrDocumentNotFound, ErrCodeNotIndexed},
		{"wrapped vector not found", fmt.Errorf("read: %w", kberrors.ErrVectorNotFound), ErrCodeNotIndexed},
		{"network", kberrors.NetworkError("connection refused", nil), ErrCodeTimeout},
		{"validation", kberrors.ValidationError("bad input", nil), ErrCodeInvalidParams},
		{"closed", kberrors.ErrClosed, ErrCodeInternalError},
		{"deadline", context.DeadlineExceeded, ErrCodeTimeout},
		{"canceled", fmt.Errorf("query: %w", context.Canceled), ErrCodeTimeout},
		{"plain", errors.New("boom"), ErrCodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, MapError(tt.err).Code)
		})
	}
}

func TestMapError_Nil(t *testing.T) {
	assert.Nil(t, MapError(nil))
}

func TestMapError_PassesMCPErrorThrough(t *testing.T) {
	orig := NewInvalidParamsError("limit must be positive")
	wrapped := fmt.Errorf("tool: %w", orig)

	assert.Same(t, orig, MapError(wrapped))
}

func TestMapError_IncludesSuggestion(t *testing.T) {
	err := kberrors.New(kberrors.ErrCodeEmbeddingFailed, "embedding failed", nil).
		WithSuggestion("Start Ollama or switch to the static provider.")

	mapped := MapError(err)

	assert.Contains(t, mapped.Message, "embedding failed")
	assert.Contains(t, mapped.Message, "static provider")
}

func TestMCPError_Error(t *testing.T) {
	err := NewMethodNotFoundError("nope")
	assert.Equal(t, "MCP error -32601: Tool 'nope' not found.", err.Error())
}
