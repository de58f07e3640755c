package persistence

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"driftwatch/internal/core"
)

var testWindow = core.NewWindow(time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC), core.DefaultWindowSize)

func testArticles() []core.Article {
	return []core.Article{
		{ID: "a1", SourceID: "bbc", PublishedAt: testWindow.Start.Add(time.Hour), Title: "Rates", RawText: "Rates rose."},
		{ID: "a2", SourceID: "ap", PublishedAt: testWindow.Start.Add(2 * time.Hour), Title: "Rates", RawText: "Rates rose again."},
		{ID: "late", SourceID: "ap", PublishedAt: testWindow.End, Title: "Next week", RawText: "Outside."},
	}
}

func testCommit() (WindowCommit, *core.Narrative) {
	n := &core.Narrative{
		ID:        uuid.NewString(),
		Namespace: core.NamespaceArticle,
		Name:      "Rate rises",
		Status:    core.StatusActive,
		Centroid:  []float64{1, 0},
		Links:     []core.NarrativeLink{{Window: testWindow, ClusterID: "c1", MemberIDs: []string{"a1", "a2"}, Size: 2}},
		CreatedAt: testWindow.End,
		UpdatedAt: testWindow.End,
	}
	return WindowCommit{
		Window:     testWindow,
		Narratives: []*core.Narrative{n},
		Events: []core.TimelineEvent{{
			ID: uuid.NewString(), NarrativeID: n.ID, Namespace: n.Namespace, Type: core.EventEmergence,
			Window: testWindow, EventDate: testWindow.End, Significance: 0.4, LinkedItemIDs: []string{"a1", "a2"},
		}},
		Reports: []core.WeeklyReport{{
			ID: uuid.NewString(), NarrativeID: n.ID, Window: testWindow, Summary: "Rates rose.", Model: "cheap",
			CreatedAt: testWindow.End,
		}},
	}, n
}

// exerciseStore runs the same contract checks against any Store.
func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()

	articles, err := s.ArticlesInWindow(ctx, testWindow)
	if err != nil {
		t.Fatalf("ArticlesInWindow() error = %v", err)
	}
	if len(articles) != 2 {
		t.Fatalf("got %d articles, want 2 (window end is exclusive)", len(articles))
	}

	emb := core.Embedding{Vector: []float64{0.1, 0.2}, ModelVersion: "m1", GeneratedAt: testWindow.Start}
	if err := s.AttachEmbedding(ctx, "a1", emb); err != nil {
		t.Fatalf("AttachEmbedding() error = %v", err)
	}
	if err := s.AttachSummary(ctx, []string{"a1", "a2"}, "compress:textrank:abc"); err != nil {
		t.Fatalf("AttachSummary() error = %v", err)
	}
	articles, _ = s.ArticlesInWindow(ctx, testWindow)
	if articles[0].Embedding == nil || articles[0].Embedding.ModelVersion != "m1" {
		t.Errorf("embedding not attached: %+v", articles[0])
	}
	if articles[1].SummaryRef != "compress:textrank:abc" {
		t.Errorf("summary ref = %q", articles[1].SummaryRef)
	}

	done, _ := s.WindowCommitted(ctx, testWindow)
	if done {
		t.Fatal("window reported committed before commit")
	}
	commit, n := testCommit()
	if err := s.CommitWindow(ctx, commit); err != nil {
		t.Fatalf("CommitWindow() error = %v", err)
	}
	if done, _ = s.WindowCommitted(ctx, testWindow); !done {
		t.Error("window not reported committed")
	}

	loaded, err := s.LoadNarratives(ctx, core.NamespaceArticle)
	if err != nil || len(loaded) != 1 || loaded[0].ID != n.ID || len(loaded[0].Links) != 1 {
		t.Fatalf("LoadNarratives() = %+v, %v", loaded, err)
	}
	if other, _ := s.LoadNarratives(ctx, core.NamespaceStatement); len(other) != 0 {
		t.Errorf("statement namespace returned %d narratives", len(other))
	}

	events, err := s.Events(ctx, n.ID)
	if err != nil || len(events) != 1 || events[0].Type != core.EventEmergence {
		t.Errorf("Events() = %+v, %v", events, err)
	}
	reports, err := s.Reports(ctx, n.ID)
	if err != nil || len(reports) != 1 || reports[0].Summary != "Rates rose." {
		t.Errorf("Reports() = %+v, %v", reports, err)
	}

	// A second event for the same narrative and window must fail the whole commit.
	dup := WindowCommit{Window: testWindow, Events: []core.TimelineEvent{{
		ID: uuid.NewString(), NarrativeID: n.ID, Namespace: n.Namespace, Type: core.EventShift,
		Window: testWindow, EventDate: testWindow.End,
	}}}
	if err := s.CommitWindow(ctx, dup); err == nil {
		t.Error("duplicate event was accepted")
	}
	if events, _ := s.Events(ctx, n.ID); len(events) != 1 {
		t.Errorf("events after rejected commit = %d, want 1", len(events))
	}

	next := core.NewWindow(testWindow.End, core.DefaultWindowSize)
	settled := n.Clone()
	settled.Description = "settled"
	if err := s.CommitWindow(ctx, WindowCommit{Window: next, Narratives: []*core.Narrative{settled}, Settle: true}); err != nil {
		t.Fatalf("settling CommitWindow() error = %v", err)
	}
	if done, _ := s.WindowCommitted(ctx, next); done {
		t.Error("settling commit marked its window processed")
	}
	if loaded, _ := s.LoadNarratives(ctx, core.NamespaceArticle); len(loaded) != 1 || loaded[0].Description != "settled" {
		t.Errorf("settling commit not applied: %+v", loaded)
	}
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	s.AddArticles(testArticles()...)
	exerciseStore(t, s)

	if s.Commits() != 1 {
		t.Errorf("Commits() = %d, want 1", s.Commits())
	}
	if err := s.AttachEmbedding(context.Background(), "missing", core.Embedding{}); err == nil {
		t.Error("attaching to a missing article should fail")
	}
}

func TestMemoryStoreLoadIsolated(t *testing.T) {
	s := NewMemoryStore()
	commit, n := testCommit()
	if err := s.CommitWindow(context.Background(), commit); err != nil {
		t.Fatal(err)
	}
	loaded, _ := s.LoadNarratives(context.Background(), core.NamespaceArticle)
	loaded[0].Name = "changed"
	loaded[0].Links = nil
	again, _ := s.LoadNarratives(context.Background(), core.NamespaceArticle)
	if again[0].Name != n.Name || len(again[0].Links) != 1 {
		t.Error("mutating a loaded narrative changed the store")
	}
}

func TestLoadMigrations(t *testing.T) {
	migrations, err := LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error = %v", err)
	}
	if len(migrations) == 0 || migrations[0].Version != 1 || migrations[0].Description != "initial schema" {
		t.Errorf("migrations = %+v", migrations)
	}
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := NewPostgresStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewPostgresStore() error = %v", err)
	}
	defer s.Close()

	for _, table := range []string{"weekly_reports", "timeline_events", "narratives", "statements", "processed_windows", "articles"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			t.Fatalf("clean %s: %v", table, err)
		}
	}
	if err := s.InsertArticles(ctx, testArticles()...); err != nil {
		t.Fatal(err)
	}
	exerciseStore(t, s)
}
