package vectordb

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Metadata is the caller-defined attribute map attached to a vector.
type Metadata map[string]any

// Record is one stored vector. Records are never modified after insertion;
// an update swaps in a new Record, so worker snapshots can share them.
type Record struct {
	Vector   []float32 `json:"vector"`
	Hash     string    `json:"hash"`
	Metadata Metadata  `json:"metadata"`
	Length   float64   `json:"length"`
}

// Entry is a record together with its source text.
type Entry struct {
	Record
	Text string `json:"text,omitempty"`
}

func (r *Record) entry() Entry {
	return Entry{Record: Record{
		Vector:   append([]float32(nil), r.Vector...),
		Hash:     r.Hash,
		Metadata: cloneMetadata(r.Metadata),
		Length:   r.Length,
	}}
}

func newRecord(vector []float32, metadata Metadata) *Record {
	return &Record{
		Vector:   append([]float32(nil), vector...),
		Hash:     VectorHash(vector),
		Metadata: cloneMetadata(metadata),
		Length:   Norm(vector),
	}
}

func cloneMetadata(m Metadata) Metadata {
	c := make(Metadata, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// VectorHash is the SHA-1 hex digest of the vector's text form: components
// in shortest round-trip notation joined by commas.
func VectorHash(vector []float32) string {
	var sb strings.Builder
	for i, x := range vector {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(x), 'g', -1, 32))
	}
	sum := sha1.Sum([]byte(sb.String()))
	return hex.EncodeToString(sum[:])
}

// MetadataEquals returns a filter accepting records whose field has the
// same printed form as value.
func MetadataEquals(field string, value any) func(Metadata) bool {
	want := fmt.Sprint(value)
	return func(m Metadata) bool {
		v, ok := m[field]
		return ok && fmt.Sprint(v) == want
	}
}
