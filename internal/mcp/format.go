package mcp

import (
	"fmt"
	"strings"
)

// maxPassagePreview caps passage text in markdown output.
const maxPassagePreview = 600

// FormatDocumentResults formats search_documents results as markdown.
func FormatDocumentResults(query string, results []DocumentResultOutput) string {
	if len(results) == 0 {
		return fmt.Sprintf("No documents found for \"%s\"", query)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Documents matching \"%s\"\n\n", query))
	writeCount(&sb, len(results), "document")
	for i, r := range results {
		sb.WriteString(fmt.Sprintf("### %d. %s\n", i+1, r.CMSPath))
		sb.WriteString(fmt.Sprintf("**Score:** %.4f (%d/%d query words)\n", r.Score, r.TokensFound, r.TokensTotal))
		sb.WriteString(fmt.Sprintf("**Path:** `%s`\n\n", r.FilePath))
	}
	return sb.String()
}

// FormatPassageResults formats search_passages results as markdown.
func FormatPassageResults(query string, results []PassageResultOutput) string {
	if len(results) == 0 {
		return fmt.Sprintf("No passages found for \"%s\"", query)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## Passages similar to \"%s\"\n\n", query))
	writeCount(&sb, len(results), "passage")
	for i, r := range results {
		sb.WriteString(fmt.Sprintf("### %d. %s (similarity %.3f)\n\n", i+1, r.CMSPath, r.Similarity))
		sb.WriteString("```\n")
		sb.WriteString(truncate(r.Text, maxPassagePreview))
		sb.WriteString("\n```\n\n")
	}
	return sb.String()
}

func writeCount(sb *strings.Builder, n int, noun string) {
	sb.WriteString(fmt.Sprintf("Found %d %s", n, noun))
	if n != 1 {
		sb.WriteString("s")
	}
	sb.WriteString("\n\n")
}

// truncate cuts s to at most n runes, marking the cut.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

// clampLimit ensures limit is within bounds.
func clampLimit(limit, defaultVal, min, max int) int {
	if limit <= 0 {
		return defaultVal
	}
	if limit < min {
		return min
	}
	if limit > max {
		return max
	}
	return limit
}
