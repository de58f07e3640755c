package pipeline

import (
	"context"
	"fmt"
	"time"

	"driftwatch/internal/core"
	"driftwatch/internal/cost"
	"driftwatch/internal/ledger"
	"driftwatch/internal/statements"
)

// promptOverheadTokens approximates the instructions wrapped around a
// compressed payload in naming and report prompts.
const promptOverheadTokens = 250

// DryRun projects the calls and cost of Run over [from, to) without calling
// any model and without writing anything. Windows whose items all have
// cached vectors are clustered for real and projected exactly; for the
// others naming and report counts are upper bounds from the target cluster
// count.
func (o *Orchestrator) DryRun(ctx context.Context, from, to time.Time) (*cost.Projection, error) {
	start := o.now()
	windows, err := core.SplitWindows(from, to, o.cfg.WindowSize)
	if err != nil {
		return nil, core.NewError(core.KindConfigurationInvalid, "dry-run", "", err)
	}

	fx := newDryEffects(o.compressor, o.namer, o.reporter)
	for _, st := range o.stages() {
		narratives, err := o.store.LoadNarratives(ctx, st.Namespace)
		if err != nil {
			return nil, fmt.Errorf("load %s narratives: %w", st.Namespace, err)
		}
		fx.keep(st.Namespace, narratives)
	}

	proj := &cost.Projection{}
	for _, w := range windows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		wps, err := o.projectWindow(ctx, w, fx)
		if err != nil {
			return nil, fmt.Errorf("project window %s: %w", w.ID, err)
		}
		for _, wp := range wps {
			proj.Add(*wp)
			o.track(ctx, &WindowResult{
				Window:          wp.Window,
				Articles:        wp.Items,
				ClustersCreated: wp.Clusters,
				Skipped:         wp.SkipReason != "",
				Cost:            wp.Cost,
			}, true)
		}
	}
	proj.CheckRateLimit(o.embedder.Model(), o.pacer.Interval())

	o.log.Info("dry run finished",
		"windows", len(windows),
		"embedding_calls", proj.EmbeddingCalls,
		"generation_calls", proj.GenerationCalls,
		"cost", proj.TotalCost,
		"exact", proj.Exact(),
		"duration", o.now().Sub(start))
	return proj, nil
}

// projectWindow returns one projection per namespace processed.
func (o *Orchestrator) projectWindow(ctx context.Context, w core.Window, fx *dryEffects) ([]*cost.WindowProjection, error) {
	wp := &cost.WindowProjection{Window: w, Namespace: string(core.NamespaceArticle), Exact: true}

	done, err := o.store.WindowCommitted(ctx, w)
	if err != nil {
		return nil, err
	}
	if done {
		wp.SkipReason = "already committed"
		return []*cost.WindowProjection{wp}, nil
	}
	articles, err := o.source.ArticlesInWindow(ctx, w)
	if err != nil {
		return nil, err
	}
	wp.Items = len(articles)
	if len(articles) < o.cfg.MinWindowItems {
		wp.SkipReason = fmt.Sprintf("insufficient articles (%d < %d)", len(articles), o.cfg.MinWindowItems)
		return []*cost.WindowProjection{wp}, nil
	}
	// Planned embeddings are assumed to succeed, so the live run's second
	// gate on embedded articles never trips here.

	docs := o.articleDocs(articles)
	if err := o.projectStage(ctx, o.articles, w, docs, fx, wp); err != nil {
		return nil, err
	}
	out := []*cost.WindowProjection{wp}
	if o.statements == nil {
		return out, nil
	}

	swp := &cost.WindowProjection{Window: w, Namespace: string(core.NamespaceStatement), Exact: true}
	out = append(out, swp)
	stmts, err := o.projectExtraction(ctx, articles, swp)
	if err != nil {
		return nil, err
	}
	sdocs := make([]core.Document, len(stmts))
	for i, s := range stmts {
		sdocs[i] = core.DocumentFromStatement(s)
	}
	if !swp.Exact {
		// Statements of uncached articles are unknown, so the stage can
		// only be bounded.
		o.boundStage(o.statements, o.statements.Clusterer.Config().TargetClusters, swp)
		return out, nil
	}
	swp.Items = len(sdocs)
	if err := o.projectStage(ctx, o.statements, w, sdocs, fx, swp); err != nil {
		return nil, err
	}
	return out, nil
}

// projectStage plans embeddings for docs and then either walks the stage
// with dry effects or, when vectors are missing, bounds it.
func (o *Orchestrator) projectStage(ctx context.Context, st *Stage, w core.Window, docs []core.Document, fx *dryEffects, wp *cost.WindowProjection) error {
	plan, err := o.embedder.Plan(ctx, docs, fx.seen)
	if err != nil {
		return err
	}
	wp.EmbeddingCalls += plan.Calls
	wp.EmbeddingRequests += plan.Requests
	wp.Cost += plan.Cost

	complete := true
	for i := range docs {
		docs[i].Vector = plan.Vectors[docs[i].ID]
		if len(docs[i].Vector) == 0 {
			complete = false
		}
	}
	if !complete {
		o.boundStage(st, st.Clusterer.TargetK(len(docs)), wp)
		return nil
	}

	fx.wp = wp
	out, err := o.process(ctx, st, w, docs, fx)
	fx.wp = nil
	if err != nil {
		return err
	}
	wp.Clusters = len(out.clustered.Accepted)
	fx.keep(st.Namespace, out.tracked.Narratives)
	return nil
}

// boundStage charges k naming calls, and k report calls on the capable
// model when the stage writes reports.
func (o *Orchestrator) boundStage(st *Stage, k int, wp *cost.WindowProjection) {
	tokens := o.compressor.Budget() + promptOverheadTokens
	wp.Exact = false
	wp.Clusters = k
	wp.NamingCalls += k
	wp.Cost += float64(k) * cost.ProjectedCallCost(ledger.TaskNaming, o.namer.Model(), tokens)
	if st.Reports {
		wp.ReportCalls += k
		wp.Cost += float64(k) * cost.ProjectedCallCost(ledger.TaskReport, o.reporter.Routing().CapableModel, tokens)
	}
}

// projectExtraction returns the statements of cached extractions and
// counts the uncached ones. Any uncached article makes wp inexact.
func (o *Orchestrator) projectExtraction(ctx context.Context, articles []core.Article, wp *cost.WindowProjection) ([]core.Statement, error) {
	var cached []core.Article
	for _, a := range articles {
		ok, err := o.extractor.Cached(ctx, a)
		if err != nil {
			return nil, err
		}
		if ok {
			cached = append(cached, a)
			continue
		}
		wp.ExtractionCalls++
		wp.Cost += o.extractor.ProjectedCost(a)
		wp.Exact = false
	}
	if !wp.Exact {
		return nil, nil
	}
	stmts, err := statements.Collect(ctx, o.extractor, cached, o.cfg.ExtractConcurrency)
	if err != nil && stmts == nil {
		return nil, err
	}
	return stmts, nil
}
