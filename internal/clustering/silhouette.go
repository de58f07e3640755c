package clustering

import "math"

// SilhouetteScore calculates the silhouette score for a single point.
// Returns a score between -1 and 1:
//
//	-1: point likely in the wrong cluster
//	 0: point on the border between clusters
//	+1: point well matched to its cluster
func SilhouetteScore(point int, labels []int, distances [][]float64) float64 {
	if point >= len(labels) {
		return 0
	}
	own := labels[point]

	sums := make(map[int]float64)
	counts := make(map[int]int)
	for i, label := range labels {
		if i == point {
			continue
		}
		sums[label] += distances[point][i]
		counts[label]++
	}
	if counts[own] == 0 {
		return 0 // Singleton
	}
	a := sums[own] / float64(counts[own])

	b := math.MaxFloat64
	for label, c := range counts {
		if label == own {
			continue
		}
		if mean := sums[label] / float64(c); mean < b {
			b = mean
		}
	}
	if b == math.MaxFloat64 {
		return 0 // Only one cluster
	}

	switch {
	case a < b:
		return 1 - a/b
	case a > b:
		return b/a - 1
	}
	return 0
}

// AverageSilhouetteScore is the mean silhouette over all points.
func AverageSilhouetteScore(labels []int, distances [][]float64) float64 {
	if len(labels) == 0 {
		return 0
	}
	total := 0.0
	for i := range labels {
		total += SilhouetteScore(i, labels, distances)
	}
	return total / float64(len(labels))
}
