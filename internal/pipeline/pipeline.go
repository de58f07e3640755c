// Package pipeline runs the narrative pipeline window by window: embedding,
// clustering, narrative tracking, compression, naming, drift detection and
// reports, for articles and optionally for statements extracted from them.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"driftwatch/internal/compress"
	"driftwatch/internal/core"
	"driftwatch/internal/embedding"
	"driftwatch/internal/ledger"
	"driftwatch/internal/narrative"
	"driftwatch/internal/observability"
	"driftwatch/internal/pacing"
	"driftwatch/internal/persistence"
	"driftwatch/internal/report"
	"driftwatch/internal/statements"
)

// Config holds orchestration settings.
type Config struct {
	WindowSize         time.Duration
	MinWindowItems     int  // Run and DryRun skip windows with fewer articles, 0 disables
	FlushAtEnd         bool // Settle pending drift labels after the last window of Run
	StatementsEnabled  bool
	ExtractConcurrency int
}

// DefaultConfig returns the weekly batch defaults.
func DefaultConfig() Config {
	return Config{
		WindowSize:         core.DefaultWindowSize,
		MinWindowItems:     10,
		StatementsEnabled:  true,
		ExtractConcurrency: 2,
	}
}

// WindowResult summarizes one processed window.
type WindowResult struct {
	Window            core.Window   `json:"window" yaml:"window"`
	Articles          int           `json:"articles" yaml:"articles"`
	Statements        int           `json:"statements" yaml:"statements"`
	ClustersCreated   int           `json:"clusters_created" yaml:"clusters_created"`
	NarrativesCreated int           `json:"narratives_created" yaml:"narratives_created"`
	NarrativesUpdated int           `json:"narratives_updated" yaml:"narratives_updated"`
	EventsEmitted     int           `json:"events_emitted" yaml:"events_emitted"`
	ReportsGenerated  int           `json:"reports_generated" yaml:"reports_generated"`
	PendingReports    int           `json:"pending_reports" yaml:"pending_reports"`
	Unclustered       int           `json:"unclustered" yaml:"unclustered"`
	EmbeddingSkipped  int           `json:"embedding_skipped" yaml:"embedding_skipped"`
	Cost              float64       `json:"cost" yaml:"cost"`
	Insufficient      bool          `json:"insufficient" yaml:"insufficient"`
	Skipped           bool          `json:"skipped" yaml:"skipped"`
	Reason            string        `json:"reason,omitempty" yaml:"reason,omitempty"`
	Duration          time.Duration `json:"duration" yaml:"duration"`
}

// Err returns an InsufficientData error for a window where no article
// cluster passed the gates, nil otherwise.
func (r *WindowResult) Err() error {
	if !r.Insufficient {
		return nil
	}
	return core.NewError(core.KindInsufficientData, "window", r.Window.ID, errors.New(r.Reason))
}

// RunResult aggregates a range of windows.
type RunResult struct {
	Windows           []*WindowResult `json:"windows" yaml:"windows"`
	Processed         int             `json:"processed" yaml:"processed"`
	Skipped           int             `json:"skipped" yaml:"skipped"`
	NarrativesCreated int             `json:"narratives_created" yaml:"narratives_created"`
	EventsEmitted     int             `json:"events_emitted" yaml:"events_emitted"`
	Cost              float64         `json:"cost" yaml:"cost"`
}

func (r *RunResult) add(w *WindowResult) {
	r.Windows = append(r.Windows, w)
	if w.Skipped {
		r.Skipped++
	} else {
		r.Processed++
	}
	r.NarrativesCreated += w.NarrativesCreated
	r.EventsEmitted += w.EventsEmitted
	r.Cost += w.Cost
}

// Orchestrator composes the pipeline components.
type Orchestrator struct {
	cfg        Config
	source     persistence.ArticleSource
	store      persistence.NarrativeStore
	ledger     *ledger.Ledger
	embedder   *embedding.Generator
	compressor *compress.Compressor
	namer      *narrative.Namer
	reporter   *report.Generator
	extractor  StatementExtractor
	pacer      pacing.Policy
	articles   *Stage
	statements *Stage // Nil when the statement sub-pipeline is off
	analytics  observability.Tracker
	now        func() time.Time
	log        *slog.Logger
}

// Ledger returns the run's ledger.
func (o *Orchestrator) Ledger() *ledger.Ledger { return o.ledger }

// RunWindow processes a single window and commits its results. A window
// committed before is reported as skipped and left untouched.
func (o *Orchestrator) RunWindow(ctx context.Context, w core.Window) (*WindowResult, error) {
	return o.runWindow(ctx, w, 0)
}

func (o *Orchestrator) runWindow(ctx context.Context, w core.Window, minItems int) (*WindowResult, error) {
	start := o.now()
	res := &WindowResult{Window: w}

	done, err := o.store.WindowCommitted(ctx, w)
	if err != nil {
		return nil, fmt.Errorf("check window %s: %w", w.ID, err)
	}
	if done {
		res.Skipped, res.Reason = true, "already committed"
		o.log.Info("window already committed, skipping", "window", w.ID)
		return res, nil
	}

	articles, err := o.source.ArticlesInWindow(ctx, w)
	if err != nil {
		return nil, fmt.Errorf("load articles for %s: %w", w.ID, err)
	}
	res.Articles = len(articles)
	if len(articles) < minItems {
		res.Skipped = true
		res.Reason = fmt.Sprintf("insufficient articles (%d < %d)", len(articles), minItems)
		o.log.Info("window skipped", "window", w.ID, "reason", res.Reason)
		return res, nil
	}

	costBefore := o.ledger.RunCost()
	fx := &liveEffects{store: o.store, compressor: o.compressor, namer: o.namer, reporter: o.reporter}
	commit := persistence.WindowCommit{Window: w}

	docs, skipped, err := o.embedArticles(ctx, articles)
	if err != nil {
		return nil, err
	}
	res.EmbeddingSkipped += skipped
	if embedded := embeddedCount(docs); embedded < minItems {
		res.Skipped = true
		res.Reason = fmt.Sprintf("insufficient embedded articles (%d < %d)", embedded, minItems)
		res.Cost = o.ledger.RunCost() - costBefore
		o.log.Info("window skipped", "window", w.ID, "reason", res.Reason, "embedding_skipped", skipped)
		return res, nil
	}

	art, err := o.process(ctx, o.articles, w, docs, fx)
	if err != nil {
		return nil, err
	}
	res.Insufficient = art.clustered.Insufficient
	res.Reason = art.clustered.Reason
	fold(res, &commit, art)

	if o.statements != nil {
		stmts, err := o.extractStatements(ctx, articles)
		if err != nil {
			return nil, err
		}
		res.Statements = len(stmts)
		commit.Statements = stmts

		sdocs := make([]core.Document, len(stmts))
		for i, s := range stmts {
			sdocs[i] = core.DocumentFromStatement(s)
		}
		gen, err := o.embedder.Generate(ctx, sdocs)
		if err != nil {
			return nil, err
		}
		res.EmbeddingSkipped += len(gen.Skipped)
		for i := range sdocs {
			sdocs[i].Vector = gen.Vectors[sdocs[i].ID]
		}

		st, err := o.process(ctx, o.statements, w, sdocs, fx)
		if err != nil {
			return nil, err
		}
		fold(res, &commit, st)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := o.store.CommitWindow(ctx, commit); err != nil {
		return nil, fmt.Errorf("commit window %s: %w", w.ID, err)
	}

	for _, p := range art.payloads {
		if p.Degraded {
			continue
		}
		if err := o.source.AttachSummary(ctx, p.MemberIDs, o.compressor.Key(p.MemberIDs)); err != nil {
			o.log.Warn("failed to attach summary", "window", w.ID, "error", err)
		}
	}

	res.Cost = o.ledger.RunCost() - costBefore
	res.Duration = o.now().Sub(start)
	o.track(ctx, res, false)
	o.log.Info("window processed",
		"window", w.ID,
		"articles", res.Articles,
		"statements", res.Statements,
		"clusters", res.ClustersCreated,
		"created", res.NarrativesCreated,
		"updated", res.NarrativesUpdated,
		"events", res.EventsEmitted,
		"reports", res.ReportsGenerated,
		"pending_reports", res.PendingReports,
		"cost", res.Cost)
	return res, nil
}

// fold adds a namespace's outcome to the window result and commit.
func fold(res *WindowResult, commit *persistence.WindowCommit, out *stageOutcome) {
	res.ClustersCreated += len(out.clustered.Accepted)
	res.Unclustered += len(out.clustered.Unclustered)
	res.NarrativesCreated += out.tracked.Created()
	res.NarrativesUpdated += out.tracked.Updated()
	res.EventsEmitted += len(out.events)
	res.ReportsGenerated += len(out.reports)
	res.PendingReports += out.pending

	commit.Narratives = append(commit.Narratives, out.tracked.Narratives...)
	commit.Events = append(commit.Events, out.events...)
	commit.Reports = append(commit.Reports, out.reports...)
}

// embedArticles maps articles to documents with vectors. Attached embeddings
// are reused when they come from the current model; new ones are attached.
func (o *Orchestrator) embedArticles(ctx context.Context, articles []core.Article) ([]core.Document, int, error) {
	docs := o.articleDocs(articles)
	gen, err := o.embedder.Generate(ctx, docs)
	if err != nil {
		return nil, 0, err
	}
	generatedAt := o.now()
	for i := range docs {
		if len(docs[i].Vector) > 0 {
			continue
		}
		vec, ok := gen.Vectors[docs[i].ID]
		if !ok {
			continue
		}
		docs[i].Vector = vec
		e := core.Embedding{Vector: vec, ModelVersion: o.embedder.Model(), GeneratedAt: generatedAt}
		if err := o.source.AttachEmbedding(ctx, docs[i].ID, e); err != nil {
			return nil, 0, fmt.Errorf("attach embedding to %s: %w", docs[i].ID, err)
		}
	}
	return docs, len(gen.Skipped), nil
}

func embeddedCount(docs []core.Document) int {
	n := 0
	for _, d := range docs {
		if len(d.Vector) > 0 {
			n++
		}
	}
	return n
}

func (o *Orchestrator) articleDocs(articles []core.Article) []core.Document {
	docs := make([]core.Document, len(articles))
	for i, a := range articles {
		docs[i] = core.DocumentFromArticle(a)
		if a.Embedding != nil && a.Embedding.ModelVersion != o.embedder.Model() {
			docs[i].Vector = nil
		}
	}
	return docs
}

func (o *Orchestrator) extractStatements(ctx context.Context, articles []core.Article) ([]core.Statement, error) {
	stmts, err := statements.Collect(ctx, o.extractor, articles, o.cfg.ExtractConcurrency)
	if err != nil {
		if stmts == nil && core.KindOf(err) != core.KindGenerationFailed {
			return nil, err
		}
		o.log.Warn("statement extraction failed for some articles", "error", err)
	}
	return stmts, nil
}

func (o *Orchestrator) track(ctx context.Context, res *WindowResult, dryRun bool) {
	err := o.analytics.TrackWindow(ctx, observability.WindowEvent{
		Window:            res.Window.ID,
		DryRun:            dryRun,
		Items:             res.Articles,
		ClustersCreated:   res.ClustersCreated,
		NarrativesCreated: res.NarrativesCreated,
		NarrativesUpdated: res.NarrativesUpdated,
		EventsEmitted:     res.EventsEmitted,
		Skipped:           res.Unclustered,
		Insufficient:      res.Insufficient,
		Cost:              res.Cost,
		Duration:          res.Duration,
	})
	if err != nil {
		o.log.Debug("analytics capture failed", "error", err)
	}
}

// Run processes [from, to) window by window in chronological order. It
// stops at the first window that fails; earlier windows stay committed.
func (o *Orchestrator) Run(ctx context.Context, from, to time.Time) (*RunResult, error) {
	windows, err := core.SplitWindows(from, to, o.cfg.WindowSize)
	if err != nil {
		return nil, core.NewError(core.KindConfigurationInvalid, "run", "", err)
	}
	o.log.Info("run started", "windows", len(windows), "from", windows[0].ID, "to", to.Format("2006-01-02"))

	res := &RunResult{}
	last := windows[len(windows)-1]
	for i, w := range windows {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		wr, err := o.runWindow(ctx, w, o.cfg.MinWindowItems)
		if err != nil {
			return res, fmt.Errorf("window %d/%d (%s): %w", i+1, len(windows), w.ID, err)
		}
		if !wr.Skipped {
			last = w
		}
		res.add(wr)
	}

	if o.cfg.FlushAtEnd {
		n, err := o.Flush(ctx, last)
		if err != nil {
			return res, err
		}
		res.EventsEmitted += n
	}
	o.log.Info("run finished", "processed", res.Processed, "skipped", res.Skipped,
		"narratives_created", res.NarrativesCreated, "events", res.EventsEmitted, "cost", res.Cost)
	return res, nil
}

// Flush settles every narrative's pending drift label without waiting for
// another window and commits the resulting events under last. The commit
// never marks last as processed, so a skipped window can still run later.
func (o *Orchestrator) Flush(ctx context.Context, last core.Window) (int, error) {
	commit := persistence.WindowCommit{Window: last, Settle: true}
	for _, st := range o.stages() {
		narratives, err := o.store.LoadNarratives(ctx, st.Namespace)
		if err != nil {
			return 0, err
		}
		for _, n := range narratives {
			if !n.Drift.Unresolved {
				continue
			}
			commit.Events = append(commit.Events, st.Drift.Flush(n)...)
			commit.Narratives = append(commit.Narratives, n)
		}
	}
	if len(commit.Narratives) == 0 {
		return 0, nil
	}
	if err := o.store.CommitWindow(ctx, commit); err != nil {
		return 0, fmt.Errorf("commit flush: %w", err)
	}
	return len(commit.Events), nil
}

func (o *Orchestrator) stages() []*Stage {
	if o.statements == nil {
		return []*Stage{o.articles}
	}
	return []*Stage{o.articles, o.statements}
}
