// Package report writes the weekly natural-language summary of a narrative.
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"driftwatch/internal/core"
	"driftwatch/internal/cost"
	"driftwatch/internal/ledger"
	"driftwatch/internal/llm"
	"driftwatch/internal/logger"
)

// Generator produces WeeklyReports through the ledger.
type Generator struct {
	gen     llm.Generator
	ledger  *ledger.Ledger
	routing RoutingConfig
	now     func() time.Time
	log     *slog.Logger
}

// NewGenerator creates a report generator.
func NewGenerator(gen llm.Generator, l *ledger.Ledger, routing RoutingConfig) *Generator {
	return &Generator{gen: gen, ledger: l, routing: routing, now: time.Now, log: logger.Get()}
}

// Routing returns the routing configuration.
func (g *Generator) Routing() RoutingConfig { return g.routing }

// Generate writes the report for n in window from the window's compressed
// payload. A failure is returned as a GenerationFailed error; the caller is
// expected to mark the window pending on the narrative.
func (g *Generator) Generate(ctx context.Context, n *core.Narrative, window core.Window, payload string) (core.WeeklyReport, error) {
	route := g.routing.Route(n, payload)
	prompt := BuildPrompt(n, window, payload)
	key := ledger.Key(ledger.TaskReport, route.Model, core.Fingerprint(prompt))

	entry, ok, err := g.ledger.Lookup(ctx, key)
	if err != nil {
		return core.WeeklyReport{}, err
	}
	summary := entry.Text
	if !ok {
		summary, err = g.gen.Generate(ctx, prompt, route.Model)
		if err == nil && strings.TrimSpace(summary) == "" {
			err = llm.ErrEmptyResponse
		}
		if err != nil {
			g.log.Warn("report generation failed", "narrative", n.ID, "window", window.ID, "model", route.Model, "error", err)
			return core.WeeklyReport{}, core.NewError(core.KindGenerationFailed, "report", n.ID, err)
		}
		err = g.ledger.Record(ctx, ledger.TaskReport, core.CacheEntry{
			Key:   key,
			Kind:  core.CacheResponse,
			Model: route.Model,
			Text:  summary,
			Cost:  cost.CallCost(ledger.TaskReport, route.Model, prompt, summary),
		})
		if err != nil {
			return core.WeeklyReport{}, err
		}
	}

	g.log.Debug("report generated", "narrative", n.ID, "window", window.ID, "model", route.Model, "reason", route.Reason, "cached", ok)
	return core.WeeklyReport{
		ID:          uuid.NewString(),
		NarrativeID: n.ID,
		Window:      window,
		Summary:     strings.TrimSpace(summary),
		Model:       route.Model,
		CreatedAt:   g.now(),
	}, nil
}

// Project returns whether a report for n would call out, and at what cost.
func (g *Generator) Project(ctx context.Context, n *core.Narrative, window core.Window, payload string) (bool, float64, error) {
	route := g.routing.Route(n, payload)
	prompt := BuildPrompt(n, window, payload)
	_, ok, err := g.ledger.Lookup(ctx, ledger.Key(ledger.TaskReport, route.Model, core.Fingerprint(prompt)))
	if err != nil {
		return false, 0, err
	}
	if ok {
		return false, 0, nil
	}
	return true, cost.ProjectedCallCost(ledger.TaskReport, route.Model, cost.EstimateTokenCount(prompt)), nil
}

// Retry regenerates every pending report of n whose window payload is still
// on the narrative. Successful windows are removed from n.PendingReports.
func (g *Generator) Retry(ctx context.Context, n *core.Narrative) ([]core.WeeklyReport, error) {
	var (
		reports []core.WeeklyReport
		errs    []error
		still   []core.Window
	)
	for _, w := range n.PendingReports {
		link, ok := n.LinkFor(w)
		if !ok || link.Payload == "" {
			g.log.Warn("dropping pending report without payload", "narrative", n.ID, "window", w.ID)
			continue
		}
		r, err := g.Generate(ctx, n, w, link.Payload)
		if err != nil {
			if core.KindOf(err) != core.KindGenerationFailed {
				return nil, err
			}
			errs = append(errs, err)
			still = append(still, w)
			continue
		}
		reports = append(reports, r)
	}
	n.PendingReports = still
	return reports, errors.Join(errs...)
}

// BuildPrompt is the report prompt. It is deterministic for a given
// narrative state and payload so responses can be cached.
func BuildPrompt(n *core.Narrative, window core.Window, payload string) string {
	var prompt strings.Builder
	prompt.WriteString("Write a weekly briefing paragraph (3 to 5 sentences) about this news storyline.\n\n")
	fmt.Fprintf(&prompt, "Storyline: %s\n", n.Name)
	if n.Description != "" {
		fmt.Fprintf(&prompt, "Description: %s\n", n.Description)
	}
	fmt.Fprintf(&prompt, "Week: %s to %s\n", window.Start.Format("2006-01-02"), window.End.AddDate(0, 0, -1).Format("2006-01-02"))
	if link, ok := n.LinkFor(window); ok {
		fmt.Fprintf(&prompt, "Items this week: %d from a storyline total of %d across %d sources\n", link.Size, n.SupportCount, n.UniqueSourcesCount)
	}
	fmt.Fprintf(&prompt, "Weeks tracked: %d\n\n", len(n.Links))
	prompt.WriteString(payload)
	prompt.WriteString(`

Instructions:
1. Say what happened this week and why it matters
2. Mention how the storyline developed compared with earlier weeks when the material supports it
3. Do not invent facts that are not in the material above
4. Write flowing prose without bullet points

Begin your briefing:`)
	return prompt.String()
}
