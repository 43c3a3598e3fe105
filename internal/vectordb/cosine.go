package vectordb

import (
	"math"

	kberrors "github.com/Aman-CERP/kbindex/internal/errors"
)

// Norm returns the Euclidean length of v.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// CosineSimilarity returns dot(a, b) / (|a| |b|) using precomputed norms
// (pass 0 to have them computed). Vectors of different length are an error.
// A zero-length operand has similarity 0 with everything.
func CosineSimilarity(a, b []float32, normA, normB float64) (float64, error) {
	if len(a) != len(b) {
		return 0, kberrors.DimensionMismatch(len(a), len(b))
	}
	if normA == 0 {
		normA = Norm(a)
	}
	if normB == 0 {
		normB = Norm(b)
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}

	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (normA * normB), nil
}
