package clustering

import (
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/graph/community"
	"gonum.org/v1/gonum/graph/simple"

	"driftwatch/internal/vecmath"
)

// Louvain partitions vectors by modularity over a k-nearest-neighbour
// similarity graph. Edge weights are cosine similarities, so strong links
// dominate. The requested k is ignored; resolution controls granularity.
type Louvain struct {
	Resolution    float64 // 1.0 is standard, higher gives more clusters
	MinSimilarity float64 // Edges below this are not created
	MaxNeighbors  int     // k for the k-NN graph
}

// NewLouvain returns a Louvain partitioner with quality-focused defaults.
func NewLouvain() *Louvain {
	return &Louvain{
		Resolution:    1.0,
		MinSimilarity: 0.5,
		MaxNeighbors:  10,
	}
}

// Partition implements Partitioner.
func (l *Louvain) Partition(vectors [][]float64, _ int, seed int64) []int {
	n := len(vectors)
	if n == 0 {
		return nil
	}

	g := simple.NewWeightedUndirectedGraph(0, 0)
	for i := 0; i < n; i++ {
		g.AddNode(simple.Node(int64(i)))
	}

	type neighbour struct {
		idx int
		sim float64
	}
	for i := 0; i < n; i++ {
		var candidates []neighbour
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			if sim := vecmath.Cosine(vectors[i], vectors[j]); sim >= l.MinSimilarity && sim > 0 {
				candidates = append(candidates, neighbour{j, sim})
			}
		}
		sort.Slice(candidates, func(a, b int) bool {
			if candidates[a].sim != candidates[b].sim {
				return candidates[a].sim > candidates[b].sim
			}
			return candidates[a].idx < candidates[b].idx
		})
		if l.MaxNeighbors > 0 && len(candidates) > l.MaxNeighbors {
			candidates = candidates[:l.MaxNeighbors]
		}
		for _, c := range candidates {
			if g.WeightedEdge(int64(i), int64(c.idx)) != nil {
				continue
			}
			g.SetWeightedEdge(simple.WeightedEdge{
				F: simple.Node(int64(i)),
				T: simple.Node(int64(c.idx)),
				W: c.sim,
			})
		}
	}

	labels := make([]int, n)
	if g.Edges().Len() == 0 {
		for i := range labels {
			labels[i] = i
		}
		return labels
	}

	src := rand.NewPCG(uint64(seed), uint64(seed))
	communities := community.Modularize(g, l.Resolution, src).Communities()
	for c, members := range communities {
		for _, node := range members {
			labels[node.ID()] = c
		}
	}
	return compactLabels(labels)
}
