package quality

// NearDuplicateSimilarity is the cosine above which two members are
// considered the same story told twice.
const NearDuplicateSimilarity = 0.95

// GroupMetrics describes one candidate cluster.
type GroupMetrics struct {
	Size              int       `json:"size"`
	UniqueSources     int       `json:"unique_sources"`
	Centroid          []float64 `json:"centroid"`
	Coherence         float64   `json:"coherence"`           // Mean cosine of members to the centroid
	Diversity         float64   `json:"diversity"`           // Unique sources / members
	NearDuplicateRate float64   `json:"near_duplicate_rate"` // Share of member pairs above NearDuplicateSimilarity
	UniqueDates       int       `json:"unique_dates"`        // Distinct publication days
}

// PartitionMetrics summarizes the accepted clusters of one window.
type PartitionMetrics struct {
	// Cluster count
	NumClusters    int     `json:"num_clusters"`
	NumItems       int     `json:"num_items"`
	AvgClusterSize float64 `json:"avg_cluster_size"`

	// Cohesion and separation
	AvgCoherence            float64 `json:"avg_coherence"`
	AvgDiversity            float64 `json:"avg_diversity"`
	AvgInterClusterDistance float64 `json:"avg_inter_cluster_distance"`
	Silhouette              float64 `json:"silhouette"`

	// Quality assessment
	Grade  string   `json:"grade"` // A/B/C/D
	Issues []string `json:"issues,omitempty"`
}

// Thresholds are the acceptance gates for a cluster.
type Thresholds struct {
	MinCoherence float64 `yaml:"min_coherence"`
	MinSources   int     `yaml:"min_sources"`
	MinSize      int     `yaml:"min_size"` // Never below 2
}

// DefaultThresholds returns the article-level gates.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinCoherence: 0.7,
		MinSources:   3,
		MinSize:      3,
	}
}

// EffectiveMinSize is MinSize floored at 2.
func (t Thresholds) EffectiveMinSize() int {
	if t.MinSize < 2 {
		return 2
	}
	return t.MinSize
}

// GradePartition assigns a letter grade from silhouette and coherence.
func GradePartition(m PartitionMetrics, t Thresholds) string {
	if m.NumClusters == 0 {
		return "D - POOR"
	}
	if m.Silhouette >= 0.5 && m.AvgCoherence >= t.MinCoherence+0.1 {
		return "A - EXCELLENT"
	}
	if m.Silhouette >= 0.4 && m.AvgCoherence >= t.MinCoherence {
		return "B - GOOD"
	}
	if m.Silhouette >= 0.3 {
		return "C - FAIR"
	}
	return "D - POOR"
}
