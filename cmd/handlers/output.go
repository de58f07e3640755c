package handlers

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"driftwatch/internal/core"
	"driftwatch/internal/cost"
	"driftwatch/internal/ledger"
	"driftwatch/internal/pipeline"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle = lipgloss.NewStyle().Faint(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	eventStyle = map[core.EventType]lipgloss.Style{
		core.EventEmergence: lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		core.EventShift:     lipgloss.NewStyle().Foreground(lipgloss.Color("14")),
		core.EventPeak:      lipgloss.NewStyle().Foreground(lipgloss.Color("13")).Bold(true),
		core.EventDecline:   lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
	}
)

// emit writes v as YAML when --output yaml is set, and the text rendering
// otherwise.
func emit(w io.Writer, v any, text func() string) error {
	switch strings.ToLower(outputFormat) {
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	case "text", "":
		_, err := io.WriteString(w, text())
		return err
	}
	return fmt.Errorf("unknown output format %q", outputFormat)
}

func field(label string, value any) string {
	return fmt.Sprintf("  %s %v\n", labelStyle.Render(label+":"), value)
}

func renderWindow(r *pipeline.WindowResult) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Window "+r.Window.String()) + "\n")
	if r.Skipped {
		b.WriteString(warnStyle.Render("  skipped: "+r.Reason) + "\n")
		return b.String()
	}
	b.WriteString(field("articles", r.Articles))
	if r.Statements > 0 {
		b.WriteString(field("statements", r.Statements))
	}
	b.WriteString(field("clusters", r.ClustersCreated))
	b.WriteString(field("narratives", fmt.Sprintf("%d new, %d continued", r.NarrativesCreated, r.NarrativesUpdated)))
	b.WriteString(field("events", r.EventsEmitted))
	b.WriteString(field("reports", r.ReportsGenerated))
	if r.PendingReports > 0 {
		b.WriteString(warnStyle.Render(fmt.Sprintf("  %d reports pending retry", r.PendingReports)) + "\n")
	}
	if r.EmbeddingSkipped > 0 {
		b.WriteString(warnStyle.Render(fmt.Sprintf("  %d items could not be embedded", r.EmbeddingSkipped)) + "\n")
	}
	if r.Insufficient {
		b.WriteString(warnStyle.Render("  insufficient data: "+r.Reason) + "\n")
	}
	b.WriteString(field("cost", fmt.Sprintf("$%.4f", r.Cost)))
	return b.String()
}

func renderRun(r *pipeline.RunResult, tally map[string]ledger.TaskTally) string {
	var b strings.Builder
	for _, w := range r.Windows {
		b.WriteString(renderWindow(w))
	}
	b.WriteString("\n" + titleStyle.Render("Run summary") + "\n")
	b.WriteString(field("windows processed", r.Processed))
	b.WriteString(field("windows skipped", r.Skipped))
	b.WriteString(field("narratives created", r.NarrativesCreated))
	b.WriteString(field("events", r.EventsEmitted))
	b.WriteString(field("cost", fmt.Sprintf("$%.4f", r.Cost)))
	if len(tally) > 0 {
		b.WriteString(labelStyle.Render("  external calls:") + "\n")
		for _, line := range strings.Split(strings.TrimRight(ledger.FormatTally(tally), "\n"), "\n") {
			b.WriteString("    " + line + "\n")
		}
	}
	return b.String()
}

func renderProjection(p *cost.Projection) string {
	text := p.FormatProjection()
	if p.RateLimitWarning != "" {
		text = strings.Replace(text, p.RateLimitWarning, warnStyle.Render(p.RateLimitWarning), 1)
	}
	return titleStyle.Render("Dry run") + "\n" + text
}

func renderStats(s ledger.Stats) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Ledger") + "\n")
	b.WriteString(field("entries", s.Entries))
	kinds := make([]string, 0, len(s.ByKind))
	for k := range s.ByKind {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		b.WriteString(field("  "+k, s.ByKind[core.CacheKind(k)]))
	}
	b.WriteString(field("recorded cost", fmt.Sprintf("$%.4f", s.TotalCost)))
	if !s.Oldest.IsZero() {
		b.WriteString(field("oldest", s.Oldest.Format("2006-01-02 15:04:05")))
		b.WriteString(field("newest", s.Newest.Format("2006-01-02 15:04:05")))
	}
	return b.String()
}

func renderNarratives(narratives []*core.Narrative) string {
	if len(narratives) == 0 {
		return labelStyle.Render("No narratives yet") + "\n"
	}
	var b strings.Builder
	for _, n := range narratives {
		status := string(n.Status)
		if n.Status == core.StatusDormant {
			status = labelStyle.Render(status)
		}
		fmt.Fprintf(&b, "%s  %s  [%s, %s]\n", titleStyle.Render(n.Name), labelStyle.Render(n.ID), n.Namespace, status)
		fmt.Fprintf(&b, "  %d items from %d sources over %d weeks\n", n.SupportCount, n.UniqueSourcesCount, len(n.Links))
		if n.Description != "" {
			fmt.Fprintf(&b, "  %s\n", n.Description)
		}
	}
	return b.String()
}

// narrativeDetail is the YAML shape of `narratives show`.
type narrativeDetail struct {
	Narrative *core.Narrative      `yaml:"narrative"`
	Events    []core.TimelineEvent `yaml:"events"`
	Reports   []core.WeeklyReport  `yaml:"reports"`
}

func renderNarrative(d narrativeDetail) string {
	var b strings.Builder
	b.WriteString(renderNarratives([]*core.Narrative{d.Narrative}))
	if len(d.Events) > 0 {
		b.WriteString("\n" + titleStyle.Render("Timeline") + "\n")
		for _, e := range d.Events {
			style, ok := eventStyle[e.Type]
			if !ok {
				style = labelStyle
			}
			fmt.Fprintf(&b, "  %s  %-10s %.2f  %s\n", e.Window.Start.Format(dateLayout), style.Render(e.Type.String()), e.Significance, e.Description)
		}
	}
	if len(d.Reports) > 0 {
		b.WriteString("\n" + titleStyle.Render("Weekly reports") + "\n")
		for _, r := range d.Reports {
			fmt.Fprintf(&b, "  %s  %s\n", labelStyle.Render(r.Window.Start.Format(dateLayout)), r.Summary)
		}
	}
	return b.String()
}
