// Package metric provides the distance functions shared by the vector index
// and the density clusterer.
//
// All functions operate on float32 slices and assume the caller has already
// validated that both vectors have the same length.
package metric

import (
	"fmt"
	"math"
)

// Metric identifies a distance metric for vector comparison.
type Metric int

const (
	// MetricCosine is the cosine distance (1 - cosine similarity), in [0, 2].
	// This is the default for face embeddings.
	MetricCosine Metric = iota

	// MetricEuclidean is the L2 (Euclidean) distance.
	MetricEuclidean
)

func (m Metric) String() string {
	switch m {
	case MetricCosine:
		return "Cosine"
	case MetricEuclidean:
		return "Euclidean"
	default:
		return fmt.Sprintf("Unknown(%d)", int(m))
	}
}

// Func calculates the distance between two vectors.
type Func func(a, b []float32) float32

// Provider returns the distance function for the given metric.
func Provider(m Metric) (Func, error) {
	switch m {
	case MetricCosine:
		return CosineDistance, nil
	case MetricEuclidean:
		return Euclidean, nil
	default:
		return nil, fmt.Errorf("unsupported metric: %v", m)
	}
}

// Dot calculates the dot product of two vectors.
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// Magnitude calculates the L2 norm of a vector.
func Magnitude(v []float32) float32 {
	return float32(math.Sqrt(float64(Dot(v, v))))
}

// Euclidean calculates the L2 distance between two vectors.
func Euclidean(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return float32(math.Sqrt(float64(sum)))
}

// CosineDistance calculates 1 - cosine similarity, clamped to [0, 2].
// Zero vectors are treated as maximally distant (1.0) rather than an error,
// so a degenerate embedding cannot abort a batch.
func CosineDistance(a, b []float32) float32 {
	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 1
	}

	sim := dot / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
	if sim > 1 {
		sim = 1
	} else if sim < -1 {
		sim = -1
	}

	return 1 - sim
}

// NormalizeL2InPlace L2-normalizes v in place.
// Returns false if v has zero L2 norm.
func NormalizeL2InPlace(v []float32) bool {
	if len(v) == 0 {
		return false
	}
	norm := Magnitude(v)
	if norm == 0 {
		return false
	}
	inv := 1 / norm
	for i := range v {
		v[i] *= inv
	}
	return true
}
