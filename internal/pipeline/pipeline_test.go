package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"driftwatch/internal/core"
	"driftwatch/internal/ledger"
	"driftwatch/internal/llm"
	"driftwatch/internal/observability"
	"driftwatch/internal/persistence"
)

var (
	week1 = core.NewWindow(time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC), core.DefaultWindowSize)
	week2 = core.NewWindow(week1.End, core.DefaultWindowSize)
)

const rateStory = "The central bank raised interest rates by half a point on Tuesday as officials pointed to " +
	"persistent inflation in housing and services while markets had expected a smaller move and analysts " +
	"now see a pause in the tightening cycle before the summer holidays begin across the region"

// storyArticles returns n near-identical articles spread over sources.
func storyArticles(prefix string, w core.Window, n int, sources ...string) []core.Article {
	out := make([]core.Article, n)
	for i := range out {
		out[i] = core.Article{
			ID:          fmt.Sprintf("%s-%02d", prefix, i),
			SourceID:    sources[i%len(sources)],
			PublishedAt: w.Start.Add(time.Duration(i+1) * time.Hour),
			Title:       "Central bank raises rates",
			RawText:     fmt.Sprintf("%s. Update %d.", rateStory, i),
			Language:    "en",
		}
	}
	return out
}

// withEmbeddings attaches the vectors the fake embedder would produce.
func withEmbeddings(articles []core.Article, model string, dims int) []core.Article {
	for i := range articles {
		articles[i].Embedding = &core.Embedding{
			Vector:       llm.HashVector(core.ArticleText(articles[i]), dims),
			ModelVersion: model,
			GeneratedAt:  week1.Start,
		}
	}
	return articles
}

const (
	namingResponse    = `{"name": "Central bank rate hike", "description": "The central bank raises rates to fight inflation."}`
	reportResponse    = "Rates rose again this week as the central bank kept fighting inflation."
	statementResponse = `[{"actor": "Central bank", "action": "raised rates", "full_statement": "The central bank raised interest rates to fight inflation.", "confidence": 0.9}]`
)

func scripted() *llm.ScriptedGenerator {
	return &llm.ScriptedGenerator{Rules: []llm.ScriptRule{
		{Contains: "naming a news storyline", Response: namingResponse},
		{Contains: "weekly briefing", Response: reportResponse},
		{Contains: "Extract up to", Response: statementResponse},
	}}
}

func testSettings() Settings {
	s := DefaultSettings()
	s.Pipeline.MinWindowItems = 0
	s.Pipeline.StatementsEnabled = false
	s.Embedding.Dimensions = 64
	s.Retry = llm.RetryPolicy{MaxAttempts: 1}
	return s
}

// countingPolicy never sleeps but records every wait.
type countingPolicy struct {
	waits atomic.Int64
}

func (c *countingPolicy) Wait(ctx context.Context) error {
	c.waits.Add(1)
	return ctx.Err()
}

func (c *countingPolicy) Interval() time.Duration { return 0 }

type fixture struct {
	store     *persistence.MemoryStore
	pacer     *countingPolicy
	gen       *llm.ScriptedGenerator
	embedder  *llm.FakeEmbedder
	analytics *observability.Recorder
	o         *Orchestrator
}

func newFixture(t *testing.T, s Settings, articles ...core.Article) *fixture {
	t.Helper()
	f := &fixture{
		store:     persistence.NewMemoryStore(),
		pacer:     &countingPolicy{},
		gen:       scripted(),
		embedder:  llm.NewFakeEmbedder(s.Embedding.Dimensions),
		analytics: &observability.Recorder{},
	}
	f.store.AddArticles(articles...)
	o, err := NewBuilder().
		WithSettings(s).
		WithSource(f.store).
		WithStore(f.store).
		WithLedger(ledger.New(nil)).
		WithEmbedder(f.embedder).
		WithGenerator(f.gen).
		WithPacer(f.pacer).
		WithAnalytics(f.analytics).
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	f.o = o
	return f
}

func (f *fixture) narratives(t *testing.T, ns core.Namespace) []*core.Narrative {
	t.Helper()
	out, err := f.store.LoadNarratives(context.Background(), ns)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestRunWindowFoundsNarrative(t *testing.T) {
	f := newFixture(t, testSettings(), storyArticles("rate", week1, 10, "reuters", "bbc", "ap")...)

	res, err := f.o.RunWindow(context.Background(), week1)
	if err != nil {
		t.Fatalf("RunWindow() error = %v", err)
	}
	if res.ClustersCreated != 1 || res.NarrativesCreated != 1 || res.NarrativesUpdated != 0 {
		t.Fatalf("result = %+v, want one cluster founding one narrative", res)
	}
	if res.EventsEmitted != 1 || res.ReportsGenerated != 1 {
		t.Errorf("events = %d reports = %d, want 1 and 1", res.EventsEmitted, res.ReportsGenerated)
	}
	if res.Cost <= 0 {
		t.Errorf("cost = %v, want positive", res.Cost)
	}

	narratives := f.narratives(t, core.NamespaceArticle)
	if len(narratives) != 1 {
		t.Fatalf("stored %d narratives, want 1", len(narratives))
	}
	n := narratives[0]
	if n.Name != "Central bank rate hike" || n.SupportCount != 10 || n.UniqueSourcesCount != 3 {
		t.Errorf("narrative = %+v", n)
	}
	if link, ok := n.LastLink(); !ok || link.Payload == "" || link.Significance <= 0 {
		t.Errorf("last link = %+v", link)
	}

	events := f.store.AllEvents()
	if len(events) != 1 || events[0].Type != core.EventEmergence || events[0].NarrativeID != n.ID {
		t.Errorf("events = %+v, want one emergence", events)
	}
	if reports := f.store.AllReports(); len(reports) != 1 || reports[0].Summary != reportResponse {
		t.Errorf("reports = %+v", reports)
	}

	a, _ := f.store.Article("rate-00")
	if a.Embedding == nil || a.Embedding.ModelVersion != f.o.embedder.Model() {
		t.Errorf("embedding not attached: %+v", a.Embedding)
	}
	if a.SummaryRef == "" {
		t.Error("summary reference not attached")
	}
	if len(f.analytics.Windows) != 1 {
		t.Errorf("tracked %d windows, want 1", len(f.analytics.Windows))
	}
}

func TestRunWindowInsufficient(t *testing.T) {
	f := newFixture(t, testSettings(), storyArticles("solo", week1, 5, "only-source")...)

	res, err := f.o.RunWindow(context.Background(), week1)
	if err != nil {
		t.Fatalf("RunWindow() error = %v", err)
	}
	if !res.Insufficient || res.NarrativesCreated != 0 || res.Unclustered != 5 {
		t.Errorf("result = %+v, want insufficient with everything unclustered", res)
	}
	if !errors.Is(res.Err(), core.ErrInsufficientData) {
		t.Errorf("Err() = %v, want InsufficientData", res.Err())
	}
	if f.gen.CallCount() != 0 {
		t.Errorf("generator called %d times, want 0", f.gen.CallCount())
	}
	if len(f.narratives(t, core.NamespaceArticle)) != 0 {
		t.Error("no narrative should be stored")
	}
	if f.store.Commits() != 1 {
		t.Errorf("commits = %d, want the window marked processed", f.store.Commits())
	}
}

func TestRunWindowSkipsCommitted(t *testing.T) {
	f := newFixture(t, testSettings(), storyArticles("rate", week1, 10, "reuters", "bbc", "ap")...)
	ctx := context.Background()

	if _, err := f.o.RunWindow(ctx, week1); err != nil {
		t.Fatal(err)
	}
	calls, requests := f.gen.CallCount(), f.embedder.Requests()

	res, err := f.o.RunWindow(ctx, week1)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Skipped {
		t.Errorf("second run not skipped: %+v", res)
	}
	if f.gen.CallCount() != calls || f.embedder.Requests() != requests {
		t.Error("skipped window made external calls")
	}
	if len(f.store.AllEvents()) != 1 {
		t.Errorf("events = %d, want 1", len(f.store.AllEvents()))
	}
}

func TestRunContinuesNarrative(t *testing.T) {
	articles := append(
		storyArticles("w1", week1, 10, "reuters", "bbc", "ap"),
		storyArticles("w2", week2, 8, "reuters", "bbc", "ap", "dw")...,
	)
	f := newFixture(t, testSettings(), articles...)

	res, err := f.o.Run(context.Background(), week1.Start, week2.End)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Processed != 2 || res.NarrativesCreated != 1 {
		t.Fatalf("run = %+v, want two windows and one narrative", res)
	}
	if res.Windows[1].NarrativesUpdated != 1 {
		t.Errorf("second window updated %d narratives, want 1", res.Windows[1].NarrativesUpdated)
	}

	narratives := f.narratives(t, core.NamespaceArticle)
	if len(narratives) != 1 {
		t.Fatalf("stored %d narratives, want 1", len(narratives))
	}
	n := narratives[0]
	if len(n.Links) != 2 || n.SupportCount != 18 || n.UniqueSourcesCount != 4 {
		t.Errorf("narrative links=%d support=%d sources=%d", len(n.Links), n.SupportCount, n.UniqueSourcesCount)
	}
	if !n.Drift.Unresolved {
		t.Error("second window should await its lookahead")
	}

	naming := 0
	for _, c := range f.gen.Calls() {
		if strings.Contains(c.Prompt, "naming a news storyline") {
			naming++
		}
	}
	if naming != 1 {
		t.Errorf("naming calls = %d, want 1", naming)
	}
}

func TestRunRetriesPendingReports(t *testing.T) {
	articles := append(
		storyArticles("w1", week1, 10, "reuters", "bbc", "ap"),
		storyArticles("w2", week2, 10, "reuters", "bbc", "ap")...,
	)
	f := newFixture(t, testSettings(), articles...)
	ctx := context.Background()

	f.gen.Rules[1].Err = errors.New("model overloaded")
	res, err := f.o.RunWindow(ctx, week1)
	if err != nil {
		t.Fatalf("RunWindow() error = %v", err)
	}
	if res.PendingReports != 1 || res.ReportsGenerated != 0 {
		t.Fatalf("result = %+v, want one pending report", res)
	}
	if n := f.narratives(t, core.NamespaceArticle)[0]; !n.HasPendingReport(week1) {
		t.Fatalf("pending reports = %v", n.PendingReports)
	}

	f.gen.Rules[1].Err = nil
	res, err = f.o.RunWindow(ctx, week2)
	if err != nil {
		t.Fatalf("RunWindow() error = %v", err)
	}
	if res.ReportsGenerated != 2 || res.PendingReports != 0 {
		t.Errorf("result = %+v, want the retried and the new report", res)
	}
	if n := f.narratives(t, core.NamespaceArticle)[0]; len(n.PendingReports) != 0 {
		t.Errorf("pending reports = %v, want none", n.PendingReports)
	}

	capable := f.o.reporter.Routing().CapableModel
	retried := false
	for _, c := range f.gen.Calls() {
		if strings.Contains(c.Prompt, "weekly briefing") && strings.Contains(c.Prompt, week1.Start.Format("2006-01-02")) && c.Model == capable {
			retried = true
		}
	}
	if !retried {
		t.Error("pending report was not retried on the capable model")
	}
}

func TestRunReembedsOnModelChange(t *testing.T) {
	s := testSettings()
	articles := withEmbeddings(storyArticles("rate", week1, 10, "reuters", "bbc", "ap"), "retired-model", 64)
	f := newFixture(t, s, articles...)

	if _, err := f.o.RunWindow(context.Background(), week1); err != nil {
		t.Fatal(err)
	}
	if f.embedder.Texts() != 10 {
		t.Errorf("embedded %d texts, want 10", f.embedder.Texts())
	}
	a, _ := f.store.Article("rate-03")
	if a.Embedding.ModelVersion != s.Embedding.Model {
		t.Errorf("model version = %s, want %s", a.Embedding.ModelVersion, s.Embedding.Model)
	}
}

func TestRunWithStatements(t *testing.T) {
	s := testSettings()
	s.Pipeline.StatementsEnabled = true
	f := newFixture(t, s, storyArticles("rate", week1, 10, "reuters", "bbc", "ap")...)

	res, err := f.o.RunWindow(context.Background(), week1)
	if err != nil {
		t.Fatalf("RunWindow() error = %v", err)
	}
	if res.Statements != 10 {
		t.Errorf("statements = %d, want 10", res.Statements)
	}
	if len(f.store.Statements()) != 10 {
		t.Errorf("stored %d statements, want 10", len(f.store.Statements()))
	}
	if got := len(f.narratives(t, core.NamespaceStatement)); got != 1 {
		t.Fatalf("statement narratives = %d, want 1", got)
	}
	if got := len(f.narratives(t, core.NamespaceArticle)); got != 1 {
		t.Errorf("article narratives = %d, want 1", got)
	}
	if res.ReportsGenerated != 1 {
		t.Errorf("reports = %d, want only the article report", res.ReportsGenerated)
	}
}

func TestRunPacesEveryExternalCall(t *testing.T) {
	s := testSettings()
	s.Pipeline.StatementsEnabled = true
	f := newFixture(t, s, storyArticles("rate", week1, 10, "reuters", "bbc", "ap")...)

	if _, err := f.o.RunWindow(context.Background(), week1); err != nil {
		t.Fatalf("RunWindow() error = %v", err)
	}
	extractions := 0
	for _, c := range f.gen.Calls() {
		if strings.Contains(c.Prompt, "Extract up to") {
			extractions++
		}
	}
	if extractions != 10 {
		t.Fatalf("extraction calls = %d, want one per article", extractions)
	}
	want := int64(f.embedder.Requests() + f.gen.CallCount())
	if got := f.pacer.waits.Load(); got != want {
		t.Errorf("pacer waits = %d, want %d (embedding requests %d, generation calls %d)",
			got, want, f.embedder.Requests(), f.gen.CallCount())
	}
}

func TestDryRunMatchesLiveRun(t *testing.T) {
	s := testSettings()
	articles := append(
		storyArticles("w1", week1, 10, "reuters", "bbc", "ap"),
		storyArticles("w2", week2, 10, "reuters", "bbc", "ap")...,
	)
	f := newFixture(t, s, withEmbeddings(articles, s.Embedding.Model, 64)...)
	ctx := context.Background()

	proj, err := f.o.DryRun(ctx, week1.Start, week2.End)
	if err != nil {
		t.Fatalf("DryRun() error = %v", err)
	}
	if f.gen.CallCount() != 0 || f.embedder.Requests() != 0 {
		t.Fatalf("dry run made calls: generate=%d embed=%d", f.gen.CallCount(), f.embedder.Requests())
	}
	if f.store.Commits() != 0 {
		t.Fatal("dry run committed state")
	}
	if !proj.Exact() {
		t.Error("projection over cached vectors should be exact")
	}
	if len(proj.Windows) != 2 || proj.EmbeddingCalls != 0 {
		t.Errorf("projection = %+v", proj)
	}

	if _, err := f.o.Run(ctx, week1.Start, week2.End); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := f.gen.CallCount(); got != proj.GenerationCalls {
		t.Errorf("live generation calls = %d, projected %d", got, proj.GenerationCalls)
	}

	again, err := f.o.DryRun(ctx, week1.Start, week2.End)
	if err != nil {
		t.Fatal(err)
	}
	for _, wp := range again.Windows {
		if wp.SkipReason == "" {
			t.Errorf("window %s not skipped after commit", wp.Window.ID)
		}
	}
	if again.GenerationCalls != 0 || again.TotalCost != 0 {
		t.Errorf("projection after commit = %+v", again)
	}
}

func TestDryRunBoundsUncachedWindows(t *testing.T) {
	f := newFixture(t, testSettings(), storyArticles("rate", week1, 10, "reuters", "bbc", "ap")...)

	proj, err := f.o.DryRun(context.Background(), week1.Start, week1.End)
	if err != nil {
		t.Fatal(err)
	}
	if proj.Exact() {
		t.Error("projection without vectors should be an upper bound")
	}
	wp := proj.Windows[0]
	k := f.o.articles.Clusterer.TargetK(10)
	if wp.EmbeddingCalls != 10 || wp.NamingCalls != k || wp.ReportCalls != k {
		t.Errorf("window projection = %+v, want 10 embeddings and %d naming and report calls", wp, k)
	}
	if f.embedder.Requests() != 0 {
		t.Error("dry run called the embedder")
	}
}

func TestRunCancelled(t *testing.T) {
	f := newFixture(t, testSettings(), storyArticles("rate", week1, 10, "reuters", "bbc", "ap")...)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.o.Run(ctx, week1.Start, week2.End); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if f.store.Commits() != 0 {
		t.Error("cancelled run committed a window")
	}
}

func TestRunSkipsSparseWindows(t *testing.T) {
	s := testSettings()
	s.Pipeline.MinWindowItems = 10
	f := newFixture(t, s, storyArticles("rate", week1, 6, "reuters", "bbc", "ap")...)

	res, err := f.o.Run(context.Background(), week1.Start, week1.End)
	if err != nil {
		t.Fatal(err)
	}
	if res.Skipped != 1 || !res.Windows[0].Skipped {
		t.Errorf("run = %+v, want the window skipped", res)
	}
	if f.store.Commits() != 0 || f.embedder.Requests() != 0 {
		t.Error("sparse window should not be embedded or committed")
	}
}

func TestRunSkipsWindowsWithTooFewEmbeddings(t *testing.T) {
	s := testSettings()
	s.Pipeline.MinWindowItems = 10
	articles := storyArticles("rate", week1, 12, "reuters", "bbc", "ap")
	for i := 0; i < 3; i++ {
		articles[i].RawText += " Corrupted feed entry."
	}
	f := newFixture(t, s, articles...)
	f.embedder.Fail = "Corrupted feed"
	ctx := context.Background()

	res, err := f.o.Run(ctx, week1.Start, week1.End)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	wr := res.Windows[0]
	if !wr.Skipped || wr.EmbeddingSkipped != 3 || !strings.Contains(wr.Reason, "embedded") {
		t.Fatalf("window = %+v, want it skipped for 9 embedded articles", wr)
	}
	if done, _ := f.store.WindowCommitted(ctx, week1); done {
		t.Error("window with too few embeddings must not be committed")
	}
	if f.gen.CallCount() != 0 {
		t.Errorf("generator called %d times, want 0", f.gen.CallCount())
	}
	if a, _ := f.store.Article("rate-05"); a.Embedding == nil {
		t.Error("successful embeddings should still be attached for the next run")
	}
}

func TestFlushLeavesSkippedWindowOpen(t *testing.T) {
	s := testSettings()
	s.Pipeline.MinWindowItems = 10
	s.Pipeline.FlushAtEnd = true
	week3 := core.NewWindow(week2.End, core.DefaultWindowSize)
	articles := append(storyArticles("w1", week1, 10, "reuters", "bbc", "ap"),
		storyArticles("w2", week2, 10, "reuters", "bbc", "ap")...)
	articles = append(articles, storyArticles("w3", week3, 3, "reuters", "bbc", "ap")...)
	f := newFixture(t, s, articles...)
	ctx := context.Background()

	res, err := f.o.Run(ctx, week1.Start, week3.End)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Processed != 2 || res.Skipped != 1 || !res.Windows[2].Skipped {
		t.Fatalf("run = %+v, want the last window skipped", res)
	}
	if done, _ := f.store.WindowCommitted(ctx, week3); done {
		t.Fatal("flush marked the skipped window as committed")
	}
	for _, n := range f.narratives(t, core.NamespaceArticle) {
		if n.Drift.Unresolved {
			t.Errorf("narrative %s still unresolved after flush", n.ID)
		}
	}

	f.store.AddArticles(storyArticles("w3-late", week3, 12, "reuters", "bbc", "ap")...)
	wr, err := f.o.RunWindow(ctx, week3)
	if err != nil {
		t.Fatalf("RunWindow() error = %v", err)
	}
	if wr.Skipped {
		t.Fatalf("window skipped: %s", wr.Reason)
	}
	if wr.NarrativesUpdated != 1 || wr.NarrativesCreated != 0 {
		t.Errorf("result = %+v, want the narrative continued", wr)
	}
	if done, _ := f.store.WindowCommitted(ctx, week3); !done {
		t.Error("window not committed after processing")
	}
}

func TestBuildValidation(t *testing.T) {
	store := persistence.NewMemoryStore()
	tests := []struct {
		name string
		b    *Builder
	}{
		{"no source", NewBuilder()},
		{"no store", NewBuilder().WithSource(store)},
		{"no embedder", NewBuilder().WithSource(store).WithStore(store)},
		{"no generator", NewBuilder().WithSource(store).WithStore(store).WithEmbedder(llm.NewFakeEmbedder(8))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.b.Build(); !errors.Is(err, core.ErrConfigurationInvalid) {
				t.Errorf("Build() error = %v, want ConfigurationInvalid", err)
			}
		})
	}
}
