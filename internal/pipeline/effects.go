package pipeline

import (
	"context"

	"driftwatch/internal/compress"
	"driftwatch/internal/core"
	"driftwatch/internal/cost"
	"driftwatch/internal/narrative"
	"driftwatch/internal/persistence"
	"driftwatch/internal/report"
)

// liveEffects calls out and reads committed state.
type liveEffects struct {
	store      persistence.NarrativeStore
	compressor *compress.Compressor
	namer      *narrative.Namer
	reporter   *report.Generator
}

func (l *liveEffects) narratives(ctx context.Context, ns core.Namespace) ([]*core.Narrative, error) {
	return l.store.LoadNarratives(ctx, ns)
}

func (l *liveEffects) compress(ctx context.Context, docs []core.Document) (core.CompressedPayload, error) {
	return l.compressor.Compress(ctx, docs)
}

func (l *liveEffects) name(ctx context.Context, n *core.Narrative, payload core.CompressedPayload) (narrative.Naming, error) {
	return l.namer.Name(ctx, n.ID, payload)
}

func (l *liveEffects) report(ctx context.Context, n *core.Narrative, w core.Window, payload string) (core.WeeklyReport, error) {
	return l.reporter.Generate(ctx, n, w, payload)
}

func (l *liveEffects) retry(ctx context.Context, n *core.Narrative) ([]core.WeeklyReport, error) {
	return l.reporter.Retry(ctx, n)
}

// dryEffects never calls out. Cached answers are used as they are, and
// every uncached call is counted into the current window projection.
// Narrative state lives in scratch clones carried from window to window.
type dryEffects struct {
	compressor *compress.Compressor // Uncached
	namer      *narrative.Namer
	reporter   *report.Generator
	scratch    map[core.Namespace][]*core.Narrative
	seen       map[string]struct{} // Embedding keys already projected
	wp         *cost.WindowProjection
}

func newDryEffects(c *compress.Compressor, namer *narrative.Namer, reporter *report.Generator) *dryEffects {
	return &dryEffects{
		compressor: c.Uncached(),
		namer:      namer,
		reporter:   reporter,
		scratch:    make(map[core.Namespace][]*core.Narrative),
		seen:       make(map[string]struct{}),
	}
}

func (d *dryEffects) narratives(_ context.Context, ns core.Namespace) ([]*core.Narrative, error) {
	return d.scratch[ns], nil
}

func (d *dryEffects) keep(ns core.Namespace, narratives []*core.Narrative) {
	d.scratch[ns] = narratives
}

func (d *dryEffects) compress(ctx context.Context, docs []core.Document) (core.CompressedPayload, error) {
	return d.compressor.Compress(ctx, docs)
}

func (d *dryEffects) name(ctx context.Context, n *core.Narrative, payload core.CompressedPayload) (narrative.Naming, error) {
	naming, call, projected, err := d.namer.Project(ctx, n.ID, payload)
	if err != nil {
		return naming, err
	}
	if call {
		d.wp.NamingCalls++
		d.wp.Cost += projected
	}
	return naming, nil
}

func (d *dryEffects) report(ctx context.Context, n *core.Narrative, w core.Window, payload string) (core.WeeklyReport, error) {
	call, projected, err := d.reporter.Project(ctx, n, w, payload)
	if err != nil {
		return core.WeeklyReport{}, err
	}
	if call {
		d.wp.ReportCalls++
		d.wp.Cost += projected
	}
	return core.WeeklyReport{NarrativeID: n.ID, Window: w}, nil
}

func (d *dryEffects) retry(ctx context.Context, n *core.Narrative) ([]core.WeeklyReport, error) {
	var out []core.WeeklyReport
	for _, w := range n.PendingReports {
		link, ok := n.LinkFor(w)
		if !ok || link.Payload == "" {
			continue
		}
		r, err := d.report(ctx, n, w, link.Payload)
		if err != nil {
			return out, err
		}
		out = append(out, r)
	}
	n.PendingReports = nil
	return out, nil
}
