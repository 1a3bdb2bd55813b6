package model

import "math"

// EmbeddingDimension is the default vector size produced by the embedding provider
const EmbeddingDimension = 768

// Embedding is a fixed-length vector representing the semantics of a text
type Embedding []float32

// Dimension returns the vector length
func (e Embedding) Dimension() int {
	return len(e)
}

// IsFinite reports whether every component is a finite number
func (e Embedding) IsFinite() bool {
	for _, v := range e {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// Clone returns a copy of e
func (e Embedding) Clone() Embedding {
	if e == nil {
		return nil
	}
	copied := make(Embedding, len(e))
	copy(copied, e)
	return copied
}

// CosineSimilarity returns the cosine of the angle between a and b in [-1, 1].
// Vectors of different length or zero vectors yield 0.
func CosineSimilarity(a, b Embedding) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}

	sim := dot / denom
	// float rounding can push parallel vectors slightly past 1
	return math.Max(-1, math.Min(1, sim))
}

// SimilarityScore scales a cosine similarity to an integer score in [0, 100].
// Negative similarities score 0.
func SimilarityScore(similarity float64) int {
	if math.IsNaN(similarity) || similarity <= 0 {
		return 0
	}
	if similarity >= 1 {
		return 100
	}
	return int(math.Round(similarity * 100))
}
