// Package quality measures candidate clusters and decides whether they are
// good enough to become part of a narrative.
package quality

import (
	"fmt"

	"driftwatch/internal/core"
	"driftwatch/internal/vecmath"
)

// Rejection reasons reported for groups that fail a gate.
const (
	ReasonSize      = "size"
	ReasonCoherence = "coherence"
	ReasonSources   = "sources"
)

// Measure computes the metrics of a group of embedded documents.
func Measure(docs []core.Document) GroupMetrics {
	m := GroupMetrics{Size: len(docs)}
	if len(docs) == 0 {
		return m
	}

	vectors := make([][]float64, len(docs))
	sources := make(map[string]struct{}, len(docs))
	dates := make(map[string]struct{}, len(docs))
	for i, d := range docs {
		vectors[i] = d.Vector
		sources[d.SourceID] = struct{}{}
		if !d.PublishedAt.IsZero() {
			dates[d.PublishedAt.UTC().Format("2006-01-02")] = struct{}{}
		}
	}
	m.UniqueSources = len(sources)
	m.UniqueDates = len(dates)
	m.Diversity = float64(m.UniqueSources) / float64(m.Size)
	m.Centroid = vecmath.Mean(vectors)

	var total float64
	for _, v := range vectors {
		total += vecmath.Cosine(v, m.Centroid)
	}
	m.Coherence = total / float64(len(vectors))

	if len(vectors) > 1 {
		var pairs, dupes int
		for i := 0; i < len(vectors); i++ {
			for j := i + 1; j < len(vectors); j++ {
				pairs++
				if vecmath.Cosine(vectors[i], vectors[j]) > NearDuplicateSimilarity {
					dupes++
				}
			}
		}
		m.NearDuplicateRate = float64(dupes) / float64(pairs)
	}
	return m
}

// Check applies the gates in size, coherence, sources order and returns the
// first one that fails.
func (t Thresholds) Check(m GroupMetrics) (bool, string) {
	if m.Size < t.EffectiveMinSize() {
		return false, ReasonSize
	}
	if m.Coherence < t.MinCoherence {
		return false, ReasonCoherence
	}
	if m.UniqueSources < t.MinSources {
		return false, ReasonSources
	}
	return true, ""
}

// EvaluatePartition summarizes accepted groups. silhouette is computed by the
// caller over the full assignment.
func EvaluatePartition(groups []GroupMetrics, silhouette float64, t Thresholds) PartitionMetrics {
	m := PartitionMetrics{NumClusters: len(groups), Silhouette: silhouette}
	for i, g := range groups {
		m.NumItems += g.Size
		m.AvgCoherence += g.Coherence
		m.AvgDiversity += g.Diversity
		if g.NearDuplicateRate > 0.5 {
			m.Issues = append(m.Issues,
				fmt.Sprintf("Cluster %d is mostly near-duplicates: %.2f", i, g.NearDuplicateRate))
		}
	}
	if m.NumClusters > 0 {
		n := float64(m.NumClusters)
		m.AvgClusterSize = float64(m.NumItems) / n
		m.AvgCoherence /= n
		m.AvgDiversity /= n
	}
	m.AvgInterClusterDistance = interClusterDistance(groups)
	if m.NumClusters > 1 && m.AvgInterClusterDistance < 0.1 {
		m.Issues = append(m.Issues,
			fmt.Sprintf("Low cluster separation: %.2f", m.AvgInterClusterDistance))
	}
	m.Grade = GradePartition(m, t)
	return m
}

// interClusterDistance is the average cosine distance between centroids.
func interClusterDistance(groups []GroupMetrics) float64 {
	if len(groups) <= 1 {
		return 1.0
	}
	total, count := 0.0, 0
	for i := 0; i < len(groups); i++ {
		for j := i + 1; j < len(groups); j++ {
			total += vecmath.CosineDistance(groups[i].Centroid, groups[j].Centroid)
			count++
		}
	}
	return total / float64(count)
}
