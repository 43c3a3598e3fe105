package mcp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatDocumentResults(t *testing.T) {
	out := FormatDocumentResults("penguins", []DocumentResultOutput{
		{FilePath: "/kb/birds/penguins.md", CMSPath: "birds/penguins.md", Score: 1.25, TokensFound: 1, TokensTotal: 2},
	})

	assert.Contains(t, out, `## Documents matching "penguins"`)
	assert.Contains(t, out, "Found 1 document\n")
	assert.Contains(t, out, "### 1. birds/penguins.md")
	assert.Contains(t, out, "**Score:** 1.2500 (1/2 query words)")
	assert.Contains(t, out, "`/kb/birds/penguins.md`")
}

func TestFormatDocumentResults_Empty(t *testing.T) {
	assert.Equal(t, `No documents found for "dragons"`, FormatDocumentResults("dragons", nil))
}

func TestFormatPassageResults(t *testing.T) {
	long := strings.Repeat("é", maxPassagePreview+10)
	out := FormatPassageResults("q", []PassageResultOutput{
		{CMSPath: "a.txt", Text: "short", Similarity: 0.9},
		{CMSPath: "b.txt", Text: long, Similarity: 0.5},
	})

	assert.Contains(t, out, "Found 2 passages")
	assert.Contains(t, out, "### 1. a.txt (similarity 0.900)")
	assert.Contains(t, out, "### 2. b.txt (similarity 0.500)")
	assert.Contains(t, out, strings.Repeat("é", maxPassagePreview)+"...")
	assert.NotContains(t, out, long)
}

func TestFormatPassageResults_Empty(t *testing.T) {
	assert.Equal(t, `No passages found for "q"`, FormatPassageResults("q", nil))
}

func TestClampLimit(t *testing.T) {
	tests := []struct {
		limit, want int
	}{
		{0, 10},
		{-3, 10},
		{1, 1},
		{25, 25},
		{500, 50},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, clampLimit(tt.limit, 10, 1, 50))
	}
}

func TestMimeTypeForPath(t *testing.T) {
	assert.Equal(t, "text/markdown", MimeTypeForPath("/kb/README.md"))
	assert.Equal(t, "text/plain", MimeTypeForPath("notes.TXT"))
	assert.Equal(t, "application/json", MimeTypeForPath("data.json"))
}
