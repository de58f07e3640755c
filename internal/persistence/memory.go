package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"driftwatch/internal/core"
)

// MemoryStore is an in-process Store used by tests and single-shot runs.
type MemoryStore struct {
	mu         sync.RWMutex
	articles   map[string]core.Article
	narratives map[string]*core.Narrative
	events     []core.TimelineEvent
	reports    []core.WeeklyReport
	statements map[string]core.Statement
	windows    map[string]bool
	commits    int
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		articles:   make(map[string]core.Article),
		narratives: make(map[string]*core.Narrative),
		statements: make(map[string]core.Statement),
		windows:    make(map[string]bool),
	}
}

// AddArticles inserts or replaces articles.
func (m *MemoryStore) AddArticles(articles ...core.Article) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range articles {
		m.articles[a.ID] = a
	}
}

// Article returns a stored article.
func (m *MemoryStore) Article(id string) (core.Article, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.articles[id]
	return a, ok
}

func (m *MemoryStore) ArticlesInWindow(ctx context.Context, w core.Window) ([]core.Article, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []core.Article
	for _, a := range m.articles {
		if w.Contains(a.PublishedAt) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PublishedAt.Equal(out[j].PublishedAt) {
			return out[i].PublishedAt.Before(out[j].PublishedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) AttachEmbedding(_ context.Context, articleID string, e core.Embedding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.articles[articleID]
	if !ok {
		return fmt.Errorf("article %s: %w", articleID, ErrNotFound)
	}
	e.Vector = append([]float64(nil), e.Vector...)
	a.Embedding = &e
	m.articles[articleID] = a
	return nil
}

func (m *MemoryStore) AttachSummary(_ context.Context, articleIDs []string, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range articleIDs {
		a, ok := m.articles[id]
		if !ok {
			return fmt.Errorf("article %s: %w", id, ErrNotFound)
		}
		a.SummaryRef = ref
		m.articles[id] = a
	}
	return nil
}

func (m *MemoryStore) LoadNarratives(ctx context.Context, ns core.Namespace) ([]*core.Narrative, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*core.Narrative
	for _, n := range m.narratives {
		if n.Namespace == ns {
			out = append(out, n.Clone())
		}
	}
	sortNarratives(out)
	return out, nil
}

func sortNarratives(ns []*core.Narrative) {
	sort.Slice(ns, func(i, j int) bool {
		if !ns[i].CreatedAt.Equal(ns[j].CreatedAt) {
			return ns[i].CreatedAt.Before(ns[j].CreatedAt)
		}
		return ns[i].ID < ns[j].ID
	})
}

func (m *MemoryStore) CommitWindow(ctx context.Context, c WindowCommit) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool)
	for _, e := range m.events {
		seen[e.NarrativeID+"/"+e.Window.ID] = true
	}
	for _, e := range c.Events {
		if seen[e.NarrativeID+"/"+e.Window.ID] {
			return fmt.Errorf("duplicate timeline event for narrative %s in window %s", e.NarrativeID, e.Window.ID)
		}
		seen[e.NarrativeID+"/"+e.Window.ID] = true
	}

	for _, n := range c.Narratives {
		m.narratives[n.ID] = n.Clone()
	}
	m.events = append(m.events, c.Events...)
	m.reports = append(m.reports, c.Reports...)
	for _, s := range c.Statements {
		m.statements[s.ID] = s
	}
	if !c.Settle {
		m.windows[c.Window.ID] = true
	}
	m.commits++
	return nil
}

func (m *MemoryStore) WindowCommitted(_ context.Context, w core.Window) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.windows[w.ID], nil
}

func (m *MemoryStore) Reports(_ context.Context, narrativeID string) ([]core.WeeklyReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []core.WeeklyReport
	for _, r := range m.reports {
		if r.NarrativeID == narrativeID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Window.Start.Before(out[j].Window.Start) })
	return out, nil
}

func (m *MemoryStore) Events(_ context.Context, narrativeID string) ([]core.TimelineEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []core.TimelineEvent
	for _, e := range m.events {
		if e.NarrativeID == narrativeID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Window.Start.Before(out[j].Window.Start) })
	return out, nil
}

// AllEvents returns every committed event.
func (m *MemoryStore) AllEvents() []core.TimelineEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]core.TimelineEvent(nil), m.events...)
}

// AllReports returns every committed report.
func (m *MemoryStore) AllReports() []core.WeeklyReport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]core.WeeklyReport(nil), m.reports...)
}

// Statements returns every committed statement.
func (m *MemoryStore) Statements() []core.Statement {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]core.Statement, 0, len(m.statements))
	for _, s := range m.statements {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Commits counts successful CommitWindow calls.
func (m *MemoryStore) Commits() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.commits
}

func (m *MemoryStore) Close() error { return nil }
