// Package clustering groups the embedded documents of one window and keeps
// only the groups that pass the quality gates.
package clustering

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"driftwatch/internal/core"
	"driftwatch/internal/logger"
	"driftwatch/internal/quality"
	"driftwatch/internal/vecmath"
)

// Strategy names a partitioning algorithm.
type Strategy string

const (
	StrategyKMeans  Strategy = "kmeans"
	StrategyLouvain Strategy = "louvain"
)

// Partitioner assigns a group label to every vector. Labels are dense,
// starting at 0. Implementations must be deterministic for a given seed.
type Partitioner interface {
	Partition(vectors [][]float64, k int, seed int64) []int
}

// NewPartitioner returns the partitioner for a strategy.
func NewPartitioner(s Strategy) (Partitioner, error) {
	switch s {
	case StrategyKMeans, "":
		return NewKMeans(), nil
	case StrategyLouvain:
		return NewLouvain(), nil
	}
	return nil, fmt.Errorf("unknown clustering strategy %q", s)
}

// Config controls one clustering pass.
type Config struct {
	Strategy       Strategy
	TargetClusters int
	Thresholds     quality.Thresholds
	Restarts       int     // Seeded partitioning attempts; the best one wins
	Seed           int64   // Base seed, restart r uses Seed+r
	MergeThreshold float64 // Groups whose centroids are at least this similar are merged, 0 disables
}

// DefaultConfig returns the article-level defaults.
func DefaultConfig() Config {
	return Config{
		Strategy:       StrategyKMeans,
		TargetClusters: 10,
		Thresholds:     quality.DefaultThresholds(),
		Restarts:       5,
		Seed:           42,
		MergeThreshold: 0.9,
	}
}

// Rejected is a group that failed a gate. Its members are also listed in
// Result.Unclustered.
type Rejected struct {
	MemberIDs []string             `json:"member_ids"`
	Reason    string               `json:"reason"`
	Metrics   quality.GroupMetrics `json:"metrics"`
}

// Result is the outcome of clustering one window.
type Result struct {
	Window       core.Window              `json:"window"`
	Accepted     []core.Cluster           `json:"accepted"` // Coherence desc, then size desc
	Rejected     []Rejected               `json:"rejected,omitempty"`
	Unclustered  []string                 `json:"unclustered,omitempty"`
	K            int                      `json:"k"`
	Metrics      quality.PartitionMetrics `json:"metrics"`
	Insufficient bool                     `json:"insufficient"`
	Reason       string                   `json:"reason,omitempty"`
}

// Err returns an InsufficientData error when nothing was accepted, nil
// otherwise. The result itself is still valid.
func (r *Result) Err() error {
	if !r.Insufficient {
		return nil
	}
	return core.NewError(core.KindInsufficientData, "cluster", r.Window.ID, errors.New(r.Reason))
}

// Engine runs partitioning and gating.
type Engine struct {
	cfg         Config
	partitioner Partitioner
	log         *slog.Logger
}

// New validates cfg and builds an engine.
func New(cfg Config) (*Engine, error) {
	p, err := NewPartitioner(cfg.Strategy)
	if err != nil {
		return nil, core.NewError(core.KindConfigurationInvalid, "clustering", "", err)
	}
	if cfg.TargetClusters <= 0 {
		return nil, core.NewError(core.KindConfigurationInvalid, "clustering", "",
			fmt.Errorf("target clusters must be positive, got %d", cfg.TargetClusters))
	}
	if cfg.Restarts <= 0 {
		cfg.Restarts = 1
	}
	return &Engine{cfg: cfg, partitioner: p, log: logger.Get()}, nil
}

// WithPartitioner overrides the strategy's partitioner.
func (e *Engine) WithPartitioner(p Partitioner) *Engine {
	e.partitioner = p
	return e
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// TargetK is the number of groups requested for n items: the target, capped
// so that every group could still reach the minimum size.
func (e *Engine) TargetK(n int) int {
	k := e.cfg.TargetClusters
	if limit := n / e.cfg.Thresholds.EffectiveMinSize(); limit < k {
		k = limit
	}
	if k < 1 {
		k = 1
	}
	return k
}

// candidate is one restart's partition after merging and gating.
type candidate struct {
	groups   [][]int
	metrics  []quality.GroupMetrics
	accepted []bool
	reasons  []string
	totalCoh float64
	totalDiv float64
}

// Cluster partitions docs. Documents without a vector are reported as
// unclustered. A window where no group passes is returned with Insufficient
// set rather than as an error; errors are reserved for cancellation.
func (e *Engine) Cluster(ctx context.Context, window core.Window, docs []core.Document) (*Result, error) {
	res := &Result{Window: window}

	var embedded []core.Document
	for _, d := range docs {
		if len(d.Vector) == 0 {
			res.Unclustered = append(res.Unclustered, d.ID)
			continue
		}
		embedded = append(embedded, d)
	}
	sort.Slice(embedded, func(i, j int) bool { return embedded[i].ID < embedded[j].ID })

	minSize := e.cfg.Thresholds.EffectiveMinSize()
	if len(embedded) < minSize {
		for _, d := range embedded {
			res.Unclustered = append(res.Unclustered, d.ID)
		}
		res.Insufficient = true
		res.Reason = fmt.Sprintf("%d embedded items, need at least %d", len(embedded), minSize)
		return res, nil
	}

	vectors := make([][]float64, len(embedded))
	for i, d := range embedded {
		vectors[i] = d.Vector
	}
	res.K = e.TargetK(len(embedded))

	var best *candidate
	for r := 0; r < e.cfg.Restarts; r++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		labels := e.partitioner.Partition(vectors, res.K, e.cfg.Seed+int64(r))
		c := e.evaluate(embedded, e.merge(vectors, groupsOf(labels)))
		if best == nil || better(c, best) {
			best = c
		}
	}

	e.collect(res, embedded, vectors, best)
	if len(res.Accepted) == 0 {
		res.Insufficient = true
		res.Reason = fmt.Sprintf("no cluster passed the quality gates (%d groups rejected)", len(res.Rejected))
	}

	e.log.Info("window clustered",
		"window", window.ID,
		"items", len(embedded),
		"k", res.K,
		"accepted", len(res.Accepted),
		"rejected", len(res.Rejected),
		"unclustered", len(res.Unclustered),
		"grade", res.Metrics.Grade)
	return res, nil
}

// better prefers higher total accepted coherence, then higher total
// diversity. Earlier restarts win exact ties.
func better(a, b *candidate) bool {
	const eps = 1e-12
	if a.totalCoh > b.totalCoh+eps {
		return true
	}
	if a.totalCoh < b.totalCoh-eps {
		return false
	}
	return a.totalDiv > b.totalDiv+eps
}

func groupsOf(labels []int) [][]int {
	var groups [][]int
	for i, l := range labels {
		for len(groups) <= l {
			groups = append(groups, nil)
		}
		groups[l] = append(groups[l], i)
	}
	out := groups[:0]
	for _, g := range groups {
		if len(g) > 0 {
			out = append(out, g)
		}
	}
	return out
}

// merge joins the most similar pair of groups while their centroids are at
// least MergeThreshold similar.
func (e *Engine) merge(vectors [][]float64, groups [][]int) [][]int {
	if e.cfg.MergeThreshold <= 0 || len(groups) < 2 {
		return groups
	}
	centroid := func(g []int) []float64 {
		vs := make([][]float64, len(g))
		for i, idx := range g {
			vs[i] = vectors[idx]
		}
		return vecmath.Mean(vs)
	}
	centroids := make([][]float64, len(groups))
	for i, g := range groups {
		centroids[i] = centroid(g)
	}

	for {
		bi, bj, bestSim := -1, -1, e.cfg.MergeThreshold
		for i := 0; i < len(groups); i++ {
			for j := i + 1; j < len(groups); j++ {
				if sim := vecmath.Cosine(centroids[i], centroids[j]); sim >= bestSim {
					bi, bj, bestSim = i, j, sim
				}
			}
		}
		if bi < 0 {
			return groups
		}
		groups[bi] = append(groups[bi], groups[bj]...)
		sort.Ints(groups[bi])
		centroids[bi] = centroid(groups[bi])
		groups = append(groups[:bj], groups[bj+1:]...)
		centroids = append(centroids[:bj], centroids[bj+1:]...)
	}
}

func (e *Engine) evaluate(docs []core.Document, groups [][]int) *candidate {
	c := &candidate{
		groups:   groups,
		metrics:  make([]quality.GroupMetrics, len(groups)),
		accepted: make([]bool, len(groups)),
		reasons:  make([]string, len(groups)),
	}
	for i, g := range groups {
		members := make([]core.Document, len(g))
		for j, idx := range g {
			members[j] = docs[idx]
		}
		m := quality.Measure(members)
		ok, reason := e.cfg.Thresholds.Check(m)
		c.metrics[i], c.accepted[i], c.reasons[i] = m, ok, reason
		if ok {
			c.totalCoh += m.Coherence
			c.totalDiv += m.Diversity
		}
	}
	return c
}

func (e *Engine) collect(res *Result, docs []core.Document, vectors [][]float64, c *candidate) {
	labels := make([]int, len(docs))
	var acceptedMetrics []quality.GroupMetrics
	for i, g := range c.groups {
		ids := make([]string, len(g))
		for j, idx := range g {
			ids[j] = docs[idx].ID
			labels[idx] = i
		}
		sort.Strings(ids)
		m := c.metrics[i]
		if !c.accepted[i] {
			res.Rejected = append(res.Rejected, Rejected{MemberIDs: ids, Reason: c.reasons[i], Metrics: m})
			res.Unclustered = append(res.Unclustered, ids...)
			continue
		}
		acceptedMetrics = append(acceptedMetrics, m)
		res.Accepted = append(res.Accepted, core.Cluster{
			ID:                uuid.NewString(),
			Window:            res.Window,
			MemberIDs:         ids,
			Centroid:          m.Centroid,
			Coherence:         m.Coherence,
			Diversity:         m.Diversity,
			UniqueSources:     m.UniqueSources,
			NearDuplicateRate: m.NearDuplicateRate,
			UniqueDates:       m.UniqueDates,
		})
	}
	sort.SliceStable(res.Accepted, func(i, j int) bool {
		a, b := res.Accepted[i], res.Accepted[j]
		if a.Coherence != b.Coherence {
			return a.Coherence > b.Coherence
		}
		if a.Size() != b.Size() {
			return a.Size() > b.Size()
		}
		return a.MemberIDs[0] < b.MemberIDs[0]
	})

	var silhouette float64
	if len(c.groups) > 1 {
		silhouette = AverageSilhouetteScore(labels, vecmath.DistanceMatrix(vectors))
	}
	res.Metrics = quality.EvaluatePartition(acceptedMetrics, silhouette, e.cfg.Thresholds)
}
