package vectordb

import "strings"

// IngestOptions controls how Ingest splits a document.
type IngestOptions struct {
	// ChunkSize is the window length in runes; <= 0 keeps the document whole.
	ChunkSize int

	// SplitSeparator, when found inside a window, pulls the window's end
	// back to its last occurrence so units are not cut in half.
	SplitSeparator string

	// Overlap is how many runes each window shares with the previous one.
	Overlap int
}

// Chunk is one window of a document. Start and End are rune offsets of the
// raw window; Text is the window with surrounding whitespace trimmed.
type Chunk struct {
	Start int
	End   int
	Text  string
}

// SplitChunks cuts document into overlapping windows. Window starts
// strictly increase and the windows together cover the whole document.
// Windows holding only whitespace are dropped.
func SplitChunks(document string, opts IngestOptions) []Chunk {
	runes := []rune(document)
	n := len(runes)
	if n == 0 {
		return nil
	}

	size := opts.ChunkSize
	if size <= 0 || size > n {
		size = n
	}
	overlap := max(0, min(opts.Overlap, size-1))
	sep := []rune(opts.SplitSeparator)

	var chunks []Chunk
	for start := 0; start < n; {
		end := start + size
		if end >= n {
			end = n
		} else if p := lastIndex(runes[start:end], sep); p > 0 {
			end = start + p
		}

		if text := strings.TrimSpace(string(runes[start:end])); text != "" {
			chunks = append(chunks, Chunk{Start: start, End: end, Text: text})
		}
		if end == n {
			break
		}

		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// lastIndex returns the rune offset of the last occurrence of sep in s, or -1.
func lastIndex(s, sep []rune) int {
	if len(sep) == 0 || len(sep) > len(s) {
		return -1
	}
outer:
	for i := len(s) - len(sep); i >= 0; i-- {
		for j := range sep {
			if s[i+j] != sep[j] {
				continue outer
			}
		}
		return i
	}
	return -1
}
