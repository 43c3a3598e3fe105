package tfidf

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Aman-CERP/kbindex/internal/lexical"
)

// Metadata is the caller-defined attribute map attached to a document.
type Metadata map[string]any

// WordScore is a document's statistics for one vocabulary word.
type WordScore struct {
	WordCount int     `json:"wordcount"`
	TFIDF     float64 `json:"tfidf"`
}

// Document is one entry in the document store. Scores is keyed by
// vocabulary index; TFIDF values are valid only for the corpus as it stood
// after the most recent ingest.
type Document struct {
	Metadata     Metadata           `json:"metadata"`
	Scores       map[int]*WordScore `json:"scores"`
	Length       int                `json:"length"`
	DateCreated  time.Time          `json:"date_created"`
	DateModified time.Time          `json:"date_modified"`
}

func (d *Document) clone() *Document {
	c := *d
	c.Metadata = cloneMetadata(d.Metadata)
	c.Scores = make(map[int]*WordScore, len(d.Scores))
	for k, v := range d.Scores {
		s := *v
		c.Scores[k] = &s
	}
	return &c
}

func cloneMetadata(m Metadata) Metadata {
	c := make(Metadata, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// documentKey identifies a document by the docIDKey field of its metadata
// when present, otherwise by the MD5 of the case-folded metadata.
func documentKey(metadata Metadata, docIDKey, lang string) (string, error) {
	if v, ok := metadata[docIDKey]; ok && v != nil {
		if s := fmt.Sprint(v); s != "" {
			return s, nil
		}
	}

	lower := lexical.Lowerer(lang)
	folded := make(map[string]any, len(metadata))
	for k, v := range metadata {
		if s, ok := v.(string); ok {
			v = lower(s)
		}
		folded[lower(k)] = v
	}

	// encoding/json sorts map keys, so the hash is independent of insertion order.
	data, err := json.Marshal(folded)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:]), nil
}
