// Package persistence provides the storage collaborators of the pipeline:
// where articles come from and where narratives, events and reports go.
package persistence

import (
	"context"
	"errors"

	"driftwatch/internal/core"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ArticleSource hands out the articles of a window and accepts the
// attachments the pipeline computes for them.
type ArticleSource interface {
	// ArticlesInWindow returns articles with Start <= PublishedAt < End
	ArticlesInWindow(ctx context.Context, w core.Window) ([]core.Article, error)

	// AttachEmbedding stores a generated embedding on an article
	AttachEmbedding(ctx context.Context, articleID string, e core.Embedding) error

	// AttachSummary points articles at the compressed payload that covers them
	AttachSummary(ctx context.Context, articleIDs []string, ref string) error
}

// WindowCommit is everything one processed window produces. It is written
// atomically: either all of it becomes visible or none of it.
type WindowCommit struct {
	Window     core.Window
	Narratives []*core.Narrative // Created or changed in this window, both namespaces
	Events     []core.TimelineEvent
	Reports    []core.WeeklyReport
	Statements []core.Statement
	Settle     bool // Flush commit: persist the changes without marking Window processed
}

// Empty reports whether the commit carries nothing but the window marker.
func (c WindowCommit) Empty() bool {
	return len(c.Narratives) == 0 && len(c.Events) == 0 && len(c.Reports) == 0 && len(c.Statements) == 0
}

// NarrativeStore persists narrative state across runs.
type NarrativeStore interface {
	// LoadNarratives returns every narrative of a namespace, oldest first
	LoadNarratives(ctx context.Context, ns core.Namespace) ([]*core.Narrative, error)

	// CommitWindow writes a window's results in one transaction
	CommitWindow(ctx context.Context, c WindowCommit) error

	// WindowCommitted reports whether a window was committed before
	WindowCommitted(ctx context.Context, w core.Window) (bool, error)

	// Reports returns a narrative's reports ordered by window
	Reports(ctx context.Context, narrativeID string) ([]core.WeeklyReport, error)

	// Events returns a narrative's timeline ordered by window
	Events(ctx context.Context, narrativeID string) ([]core.TimelineEvent, error)
}

// Store is a backend that serves both roles.
type Store interface {
	ArticleSource
	NarrativeStore
	Close() error
}
