package pipeline

import (
	"context"
	"fmt"

	"driftwatch/internal/clustering"
	"driftwatch/internal/core"
	"driftwatch/internal/drift"
	"driftwatch/internal/narrative"
)

// Stage is the clustering-to-drift machinery for one namespace.
type Stage struct {
	Namespace    core.Namespace
	Clusterer    *clustering.Engine
	Tracker      *narrative.Tracker
	Drift        *drift.Classifier
	Significance SignificanceFunc
	Reports      bool // Generate weekly reports for this namespace
}

// stageOutcome is what one namespace produced in one window.
type stageOutcome struct {
	clustered *clustering.Result
	tracked   *narrative.Outcome
	events    []core.TimelineEvent
	reports   []core.WeeklyReport
	payloads  []core.CompressedPayload
	pending   int
}

// process runs clustering, tracking, compression, naming, drift and
// reports for docs. Only failures the window cannot survive are returned.
func (o *Orchestrator) process(ctx context.Context, st *Stage, w core.Window, docs []core.Document, fx effects) (*stageOutcome, error) {
	existing, err := fx.narratives(ctx, st.Namespace)
	if err != nil {
		return nil, fmt.Errorf("load %s narratives: %w", st.Namespace, err)
	}
	clustered, err := st.Clusterer.Cluster(ctx, w, docs)
	if err != nil {
		return nil, err
	}
	if clustered.Insufficient {
		o.log.Info("window has no qualifying clusters", "window", w.ID, "namespace", st.Namespace, "reason", clustered.Reason)
	}

	byID := make(map[string]core.Document, len(docs))
	sources := make(map[string]string, len(docs))
	embedded := 0
	for _, d := range docs {
		byID[d.ID] = d
		sources[d.ID] = d.SourceID
		if len(d.Vector) > 0 {
			embedded++
		}
	}

	tracked := st.Tracker.Track(w, st.Namespace, existing, clustered.Accepted, sources)
	out := &stageOutcome{clustered: clustered, tracked: tracked}

	if st.Reports {
		for _, n := range tracked.Narratives {
			if len(n.PendingReports) == 0 {
				continue
			}
			reports, err := fx.retry(ctx, n)
			out.reports = append(out.reports, reports...)
			if err != nil {
				if core.KindOf(err) != core.KindGenerationFailed {
					return nil, err
				}
				o.log.Warn("pending reports still failing", "narrative", n.ID, "pending", len(n.PendingReports), "error", err)
			}
		}
	}

	for _, link := range tracked.Links {
		n := link.Narrative
		members := make([]core.Document, 0, link.Cluster.Size())
		for _, id := range link.Cluster.MemberIDs {
			members = append(members, byID[id])
		}

		payload, err := fx.compress(ctx, members)
		if err != nil {
			if core.KindOf(err) != core.KindCompressionFailed {
				return nil, err
			}
			o.log.Warn("using degraded payload", "narrative", n.ID, "window", w.ID, "error", err)
		}
		out.payloads = append(out.payloads, payload)

		share := float64(link.Cluster.Size()) / float64(embedded)
		significance := st.Significance(share, link.Cluster.Coherence, link.Cluster.Diversity)
		last := &n.Links[len(n.Links)-1]
		last.Payload = payload.Text
		last.Significance = significance

		if link.Created {
			naming, err := fx.name(ctx, n, payload)
			if err != nil && core.KindOf(err) != core.KindGenerationFailed {
				return nil, err
			}
			n.Name, n.Description = naming.Name, naming.Description
		}

		out.events = append(out.events, st.Drift.Observe(n, drift.Observation{
			Window:       w,
			Linked:       true,
			Created:      link.Created,
			Significance: significance,
			Emergence:    drift.EmergenceSignificance(share, link.Cluster.Coherence),
			DriftAngle:   link.DriftAngle,
			MemberIDs:    link.Cluster.MemberIDs,
		})...)

		if !st.Reports {
			continue
		}
		r, err := fx.report(ctx, n, w, payload.Text)
		switch {
		case err == nil:
			out.reports = append(out.reports, r)
		case core.KindOf(err) == core.KindGenerationFailed:
			n.PendingReports = append(n.PendingReports, w)
			out.pending++
		default:
			return nil, err
		}
	}

	dormant := make(map[string]bool, len(tracked.NewlyDormant))
	for _, id := range tracked.NewlyDormant {
		dormant[id] = true
	}
	for _, n := range tracked.Unlinked {
		out.events = append(out.events, st.Drift.Observe(n, drift.Observation{Window: w})...)
		if dormant[n.ID] {
			out.events = append(out.events, st.Drift.Flush(n)...)
		}
	}
	return out, nil
}
