// Package narrative keeps narrative identity stable across windows by
// linking each window's accepted clusters to the closest existing narrative.
package narrative

import (
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"driftwatch/internal/core"
	"driftwatch/internal/logger"
	"driftwatch/internal/vecmath"
)

// Config holds the continuity rules.
type Config struct {
	ContinuityThreshold float64 // Minimum centroid similarity to link, exclusive
	DormancyWindows     int     // Consecutive unlinked windows before a narrative goes dormant
}

// DefaultConfig returns the article-level defaults.
func DefaultConfig() Config {
	return Config{
		ContinuityThreshold: 0.75,
		DormancyWindows:     3,
	}
}

// Tracker links clusters to narratives. It never mutates its inputs.
type Tracker struct {
	cfg Config
	now func() time.Time
	log *slog.Logger
}

// NewTracker creates a tracker.
func NewTracker(cfg Config) *Tracker {
	if cfg.DormancyWindows <= 0 {
		cfg.DormancyWindows = DefaultConfig().DormancyWindows
	}
	return &Tracker{cfg: cfg, now: time.Now, log: logger.Get()}
}

// Link pairs an accepted cluster with the narrative that absorbed it.
type Link struct {
	Narrative        *core.Narrative
	Cluster          core.Cluster
	Created          bool
	Similarity       float64
	DriftAngle       float64   // Radians between PreviousCentroid and the cluster centroid
	PreviousCentroid []float64 // Nil for new narratives
}

// Outcome is the tracker's view of one window. Narratives holds clones of
// every narrative in the namespace, updated for the window.
type Outcome struct {
	Window       core.Window
	Namespace    core.Namespace
	Narratives   []*core.Narrative
	Links        []Link
	Unlinked     []*core.Narrative // Not linked this window, dormant ones excluded
	NewlyDormant []string
}

// Created counts narratives founded in this window.
func (o *Outcome) Created() int {
	n := 0
	for _, l := range o.Links {
		if l.Created {
			n++
		}
	}
	return n
}

// Updated counts existing narratives that absorbed a cluster.
func (o *Outcome) Updated() int { return len(o.Links) - o.Created() }

// Track links clusters, which must already be in coherence order, to the
// narratives of namespace ns. sources maps document IDs to source IDs and is
// used to maintain the narrative source set.
func (t *Tracker) Track(window core.Window, ns core.Namespace, existing []*core.Narrative, clusters []core.Cluster, sources map[string]string) *Outcome {
	out := &Outcome{Window: window, Namespace: ns}
	for _, n := range existing {
		if n.Namespace != ns {
			continue
		}
		out.Narratives = append(out.Narratives, n.Clone())
	}
	pool := append([]*core.Narrative(nil), out.Narratives...)

	claimed := make(map[string]bool)
	for _, c := range clusters {
		n, sim := t.bestMatch(pool, claimed, c.Centroid)
		if n == nil {
			n = t.found(window, ns, c, sources)
			out.Narratives = append(out.Narratives, n)
			out.Links = append(out.Links, Link{Narrative: n, Cluster: c, Created: true, Similarity: 1})
			claimed[n.ID] = true
			continue
		}
		prev := append([]float64(nil), n.Centroid...)
		angle := vecmath.Angle(prev, c.Centroid)
		t.absorb(n, window, c, sim, angle, sources)
		out.Links = append(out.Links, Link{Narrative: n, Cluster: c, Similarity: sim, DriftAngle: angle, PreviousCentroid: prev})
		claimed[n.ID] = true
	}

	for _, n := range pool {
		if claimed[n.ID] {
			continue
		}
		wasActive := n.Status == core.StatusActive
		n.InactiveWindows++
		if wasActive && n.InactiveWindows >= t.cfg.DormancyWindows {
			n.Status = core.StatusDormant
			n.UpdatedAt = t.now()
			out.NewlyDormant = append(out.NewlyDormant, n.ID)
			t.log.Info("narrative dormant", "narrative", n.ID, "window", window.ID, "inactive_windows", n.InactiveWindows)
		}
		if wasActive {
			out.Unlinked = append(out.Unlinked, n)
		}
	}
	return out
}

type match struct {
	n   *core.Narrative
	sim float64
}

// bestMatch returns the most similar unclaimed narrative above the
// continuity threshold. Dormant narratives compete on equal terms.
func (t *Tracker) bestMatch(pool []*core.Narrative, claimed map[string]bool, centroid []float64) (*core.Narrative, float64) {
	matches := make([]match, 0, len(pool))
	for _, n := range pool {
		matches = append(matches, match{n, vecmath.Cosine(n.Centroid, centroid)})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].sim != matches[j].sim {
			return matches[i].sim > matches[j].sim
		}
		return matches[i].n.ID < matches[j].n.ID
	})
	for _, m := range matches {
		if m.sim <= t.cfg.ContinuityThreshold {
			break
		}
		if claimed[m.n.ID] {
			continue
		}
		return m.n, m.sim
	}
	return nil, 0
}

func (t *Tracker) found(window core.Window, ns core.Namespace, c core.Cluster, sources map[string]string) *core.Narrative {
	now := t.now()
	id := uuid.NewString()
	n := &core.Narrative{
		ID:        id,
		Namespace: ns,
		Name:      FallbackName(id),
		Status:    core.StatusActive,
		Centroid:  append([]float64(nil), c.Centroid...),
		CreatedAt: now,
		UpdatedAt: now,
	}
	t.absorb(n, window, c, 1, 0, sources)
	t.log.Info("narrative created", "narrative", n.ID, "namespace", ns, "window", window.ID, "size", c.Size())
	return n
}

// absorb folds cluster c into n. The centroid is the support-weighted mean
// of the previous centroid and the cluster centroid.
func (t *Tracker) absorb(n *core.Narrative, window core.Window, c core.Cluster, sim, angle float64, sources map[string]string) {
	if n.SupportCount > 0 {
		n.Centroid = vecmath.WeightedBlend(n.Centroid, float64(n.SupportCount), c.Centroid, float64(c.Size()))
	}
	n.SupportCount += c.Size()
	n.Sources = mergeSources(n.Sources, c.MemberIDs, sources)
	n.UniqueSourcesCount = len(n.Sources)
	n.Coherence = c.Coherence
	n.Diversity = c.Diversity
	n.Status = core.StatusActive
	n.InactiveWindows = 0
	n.UpdatedAt = t.now()
	n.Links = append(n.Links, core.NarrativeLink{
		Window:     window,
		ClusterID:  c.ID,
		MemberIDs:  append([]string(nil), c.MemberIDs...),
		Size:       c.Size(),
		Coherence:  c.Coherence,
		Diversity:  c.Diversity,
		Similarity: sim,
		DriftAngle: angle,
		Centroid:   append([]float64(nil), c.Centroid...),
	})
}

func mergeSources(existing, members []string, sources map[string]string) []string {
	set := make(map[string]struct{}, len(existing)+len(members))
	for _, s := range existing {
		set[s] = struct{}{}
	}
	for _, id := range members {
		if s, ok := sources[id]; ok && s != "" {
			set[s] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
