package clustering

import (
	"math"
	"math/rand"

	"driftwatch/internal/vecmath"
)

// KMeans partitions vectors with k-means++ seeding and cosine distance.
type KMeans struct {
	MaxIterations int // Maximum number of assignment/update rounds
}

// NewKMeans returns a KMeans partitioner with default iteration cap.
func NewKMeans() *KMeans {
	return &KMeans{MaxIterations: 100}
}

// Partition implements Partitioner. Fewer than k groups come back when the
// data has fewer than k distinct points.
func (km *KMeans) Partition(vectors [][]float64, k int, seed int64) []int {
	n := len(vectors)
	if n == 0 {
		return nil
	}
	if k <= 1 || n == 1 {
		return make([]int, n)
	}
	if k > n {
		k = n
	}

	rng := rand.New(rand.NewSource(seed))
	centroids := km.seedCentroids(vectors, k, rng)

	var assignments []int
	for iteration := 0; iteration < km.MaxIterations; iteration++ {
		next := make([]int, n)
		for i, v := range vectors {
			next[i] = nearest(v, centroids)
		}
		if assignments != nil && equalInts(assignments, next) {
			break
		}
		assignments = next
		centroids = updateCentroids(vectors, assignments, centroids)
	}
	return compactLabels(assignments)
}

// seedCentroids is k-means++: each next centroid is drawn with probability
// proportional to its squared distance from the nearest chosen one. It stops
// early once every point coincides with a centroid.
func (km *KMeans) seedCentroids(vectors [][]float64, k int, rng *rand.Rand) [][]float64 {
	centroids := [][]float64{clone(vectors[rng.Intn(len(vectors))])}

	for len(centroids) < k {
		distances := make([]float64, len(vectors))
		total := 0.0
		for j, v := range vectors {
			minDist := math.Inf(1)
			for _, c := range centroids {
				if d := vecmath.CosineDistance(v, c); d < minDist {
					minDist = d
				}
			}
			if minDist < 1e-12 {
				minDist = 0
			}
			distances[j] = minDist * minDist
			total += distances[j]
		}
		if total == 0 {
			break
		}

		target := rng.Float64() * total
		cumulative := 0.0
		selected := -1
		for j, d := range distances {
			if d == 0 {
				continue
			}
			selected = j
			cumulative += d
			if cumulative >= target {
				break
			}
		}
		centroids = append(centroids, clone(vectors[selected]))
	}
	return centroids
}

func nearest(v []float64, centroids [][]float64) int {
	best, bestDist := 0, math.Inf(1)
	for i, c := range centroids {
		if d := vecmath.CosineDistance(v, c); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// updateCentroids recomputes means. An empty cluster keeps its previous
// centroid.
func updateCentroids(vectors [][]float64, assignments []int, previous [][]float64) [][]float64 {
	members := make([][][]float64, len(previous))
	for i, label := range assignments {
		members[label] = append(members[label], vectors[i])
	}
	out := make([][]float64, len(previous))
	for i := range previous {
		if len(members[i]) == 0 {
			out[i] = previous[i]
			continue
		}
		out[i] = vecmath.Mean(members[i])
	}
	return out
}

// compactLabels renumbers labels to 0..g-1 in order of first appearance.
func compactLabels(labels []int) []int {
	remap := make(map[int]int)
	out := make([]int, len(labels))
	for i, l := range labels {
		id, ok := remap[l]
		if !ok {
			id = len(remap)
			remap[l] = id
		}
		out[i] = id
	}
	return out
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func clone(v []float64) []float64 {
	return append([]float64(nil), v...)
}
