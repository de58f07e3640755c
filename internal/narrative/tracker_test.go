package narrative

import (
	"math"
	"testing"
	"time"

	"driftwatch/internal/core"
)

func window(week int) core.Window {
	start := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 7*week)
	return core.NewWindow(start, core.DefaultWindowSize)
}

func cluster(id string, centroid []float64, members ...string) core.Cluster {
	return core.Cluster{ID: id, MemberIDs: members, Centroid: centroid, Coherence: 0.9, Diversity: 1}
}

var sources = map[string]string{"a1": "s1", "a2": "s2", "a3": "s3", "b1": "s4", "b2": "s1", "c1": "s5", "c2": "s6"}

func TestTrackCreatesThenLinks(t *testing.T) {
	tr := NewTracker(DefaultConfig())

	first := tr.Track(window(0), core.NamespaceArticle, nil,
		[]core.Cluster{cluster("c0", []float64{1, 0, 0}, "a1", "a2", "a3")}, sources)
	if first.Created() != 1 || first.Updated() != 0 {
		t.Fatalf("first window created=%d updated=%d", first.Created(), first.Updated())
	}
	n := first.Narratives[0]
	if n.SupportCount != 3 || n.UniqueSourcesCount != 3 || n.Status != core.StatusActive {
		t.Errorf("new narrative = %+v", n)
	}

	second := tr.Track(window(1), core.NamespaceArticle, first.Narratives,
		[]core.Cluster{cluster("c1", []float64{0.95, 0.1, 0}, "b1", "b2")}, sources)
	if second.Created() != 0 || second.Updated() != 1 {
		t.Fatalf("second window created=%d updated=%d", second.Created(), second.Updated())
	}
	linked := second.Links[0].Narrative
	if linked.ID != n.ID {
		t.Errorf("linked %s, want %s", linked.ID, n.ID)
	}
	if linked.SupportCount != 5 || len(linked.Links) != 2 || linked.UniqueSourcesCount != 4 {
		t.Errorf("aggregates = support %d links %d sources %d", linked.SupportCount, len(linked.Links), linked.UniqueSourcesCount)
	}
	if second.Links[0].DriftAngle <= 0 {
		t.Error("drift angle should be positive for a moved centroid")
	}
	if len(n.Links) != 1 {
		t.Error("Track mutated its input narratives")
	}

	// Weighted centroid: (3*[1,0,0] + 2*[0.95,0.1,0]) / 5
	want := []float64{0.98, 0.04, 0}
	for i := range want {
		if math.Abs(linked.Centroid[i]-want[i]) > 1e-9 {
			t.Errorf("centroid = %v, want %v", linked.Centroid, want)
			break
		}
	}
}

func TestTrackOneClusterPerNarrative(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	first := tr.Track(window(0), core.NamespaceArticle, nil,
		[]core.Cluster{cluster("c0", []float64{1, 0}, "a1", "a2")}, sources)

	second := tr.Track(window(1), core.NamespaceArticle, first.Narratives, []core.Cluster{
		cluster("c1", []float64{1, 0.01}, "b1", "b2"),
		cluster("c2", []float64{1, 0.02}, "c1", "c2"),
	}, sources)
	if second.Updated() != 1 || second.Created() != 1 {
		t.Errorf("updated=%d created=%d, want 1 and 1", second.Updated(), second.Created())
	}
	if len(second.Narratives) != 2 {
		t.Errorf("narratives = %d, want 2", len(second.Narratives))
	}
}

func TestTrackDormancyAndRevival(t *testing.T) {
	tr := NewTracker(Config{ContinuityThreshold: 0.8, DormancyWindows: 2})
	out := tr.Track(window(0), core.NamespaceArticle, nil,
		[]core.Cluster{cluster("c0", []float64{1, 0}, "a1", "a2")}, sources)

	out = tr.Track(window(1), core.NamespaceArticle, out.Narratives, nil, sources)
	if len(out.Unlinked) != 1 || out.Narratives[0].Status != core.StatusActive {
		t.Fatalf("after one idle window: %+v", out.Narratives[0])
	}
	out = tr.Track(window(2), core.NamespaceArticle, out.Narratives, nil, sources)
	if out.Narratives[0].Status != core.StatusDormant || len(out.NewlyDormant) != 1 {
		t.Fatalf("after two idle windows status = %s", out.Narratives[0].Status)
	}
	out = tr.Track(window(3), core.NamespaceArticle, out.Narratives, nil, sources)
	if len(out.Unlinked) != 0 || len(out.NewlyDormant) != 0 {
		t.Error("dormant narratives should not be reported again")
	}

	out = tr.Track(window(4), core.NamespaceArticle, out.Narratives,
		[]core.Cluster{cluster("c4", []float64{1, 0.05}, "b1", "b2")}, sources)
	if out.Created() != 0 {
		t.Fatal("dormant narrative should be revived, not replaced")
	}
	n := out.Narratives[0]
	if n.Status != core.StatusActive || n.InactiveWindows != 0 {
		t.Errorf("revived narrative = status %s inactive %d", n.Status, n.InactiveWindows)
	}
}

func TestTrackNamespacesAreSeparate(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	articles := tr.Track(window(0), core.NamespaceArticle, nil,
		[]core.Cluster{cluster("c0", []float64{1, 0}, "a1", "a2")}, sources)

	statements := tr.Track(window(0), core.NamespaceStatement, articles.Narratives,
		[]core.Cluster{cluster("s0", []float64{1, 0}, "a1", "a2")}, sources)
	if statements.Created() != 1 {
		t.Error("statement cluster must not link to an article narrative")
	}
	if statements.Narratives[0].Namespace != core.NamespaceStatement || len(statements.Narratives) != 1 {
		t.Errorf("statement outcome carries %d narratives", len(statements.Narratives))
	}
}

func TestTrackBelowThresholdCreates(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	first := tr.Track(window(0), core.NamespaceArticle, nil,
		[]core.Cluster{cluster("c0", []float64{1, 0}, "a1", "a2")}, sources)
	second := tr.Track(window(1), core.NamespaceArticle, first.Narratives,
		[]core.Cluster{cluster("c1", []float64{0, 1}, "b1", "b2")}, sources)
	if second.Created() != 1 || len(second.Unlinked) != 1 {
		t.Errorf("created=%d unlinked=%d", second.Created(), len(second.Unlinked))
	}
}
