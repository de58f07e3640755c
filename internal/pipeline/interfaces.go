package pipeline

import (
	"context"

	"driftwatch/internal/core"
	"driftwatch/internal/narrative"
	"driftwatch/internal/statements"
)

// StatementExtractor is the statement collaborator. Besides extracting it
// must say whether an article's extraction is cached and what an uncached
// one would cost, so dry runs can project it.
type StatementExtractor interface {
	statements.Extractor
	Cached(ctx context.Context, article core.Article) (bool, error)
	ProjectedCost(article core.Article) float64
}

// SignificanceFunc scores a linked window from the cluster's share of the
// window's items, its coherence and its diversity.
type SignificanceFunc func(share, coherence, diversity float64) float64

// effects is everything that differs between a live run and a dry run.
// Both walk the same window logic; only these steps are swapped.
type effects interface {
	// narratives returns the namespace's narratives as they stand before the window
	narratives(ctx context.Context, ns core.Namespace) ([]*core.Narrative, error)

	// compress builds the payload for a cluster's members
	compress(ctx context.Context, docs []core.Document) (core.CompressedPayload, error)

	// name names a newly founded narrative
	name(ctx context.Context, n *core.Narrative, payload core.CompressedPayload) (narrative.Naming, error)

	// report writes the window report for n
	report(ctx context.Context, n *core.Narrative, w core.Window, payload string) (core.WeeklyReport, error)

	// retry regenerates reports pending from earlier windows
	retry(ctx context.Context, n *core.Narrative) ([]core.WeeklyReport, error)
}
