package memory

import "math"

// CosineSimilarity computes the cosine of the angle between two embeddings.
// Defensive inputs score 0 instead of failing: mismatched lengths should not
// occur with a fixed embedding dimension, and a zero-norm vector (the
// adapter's fail-open output) must not produce NaN.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}
