// Package vecmath holds the small set of vector operations shared by the
// embedding, compression, clustering and tracking stages.
package vecmath

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Cosine returns the cosine similarity of a and b, or 0 when either is a zero
// vector or the dimensions differ.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	sim := floats.Dot(a, b) / (na * nb)
	return clamp(sim, -1, 1)
}

// CosineDistance is 1 - Cosine.
func CosineDistance(a, b []float64) float64 {
	return 1 - Cosine(a, b)
}

// Angle returns the angle between a and b in radians.
func Angle(a, b []float64) float64 {
	return math.Acos(Cosine(a, b))
}

// Mean returns the element-wise mean of vectors. All vectors must share a
// dimension; nil is returned for an empty input.
func Mean(vectors [][]float64) []float64 {
	if len(vectors) == 0 {
		return nil
	}
	out := make([]float64, len(vectors[0]))
	for _, v := range vectors {
		floats.Add(out, v)
	}
	floats.Scale(1/float64(len(vectors)), out)
	return out
}

// WeightedBlend returns (a*wa + b*wb) / (wa + wb).
func WeightedBlend(a []float64, wa float64, b []float64, wb float64) []float64 {
	if len(a) == 0 {
		return append([]float64(nil), b...)
	}
	out := make([]float64, len(a))
	floats.AddScaledTo(out, out, wa, a)
	floats.AddScaled(out, wb, b)
	floats.Scale(1/(wa+wb), out)
	return out
}

// DistanceMatrix computes the symmetric pairwise cosine distance matrix.
func DistanceMatrix(vectors [][]float64) [][]float64 {
	n := len(vectors)
	m := make([][]float64, n)
	for i := range m {
		m[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := CosineDistance(vectors[i], vectors[j])
			m[i][j] = d
			m[j][i] = d
		}
	}
	return m
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
