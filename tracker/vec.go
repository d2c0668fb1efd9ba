package tracker

import (
	"github.com/chewxy/math32"
)

// NormalizeVec scales v in place to unit L2 length.  A zero vector is left
// unchanged.
func NormalizeVec(v []float32) []float32 {

	var sumSquares float32

	for _, x := range v {
		sumSquares += x * x
	}

	norm := math32.Sqrt(sumSquares)

	if norm == 0 {
		return v
	}

	for i := range v {
		v[i] /= norm
	}

	return v
}

// CosineSimilarity returns the cosine of the angle between vectors a and b.
// For L2 normalised vectors this is their dot product.  Vectors of different
// length return 0.
func CosineSimilarity(a, b []float32) float32 {

	if len(a) != len(b) {
		return 0
	}

	var dot, na, nb float32

	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}

	if na == 0 || nb == 0 {
		return 0
	}

	return dot / (math32.Sqrt(na) * math32.Sqrt(nb))
}

// dot returns the dot product of two equal length vectors
func dot(a, b []float32) float64 {

	var sum float32

	for i := range a {
		sum += a[i] * b[i]
	}

	return float64(sum)
}
