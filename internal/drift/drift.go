// Package drift labels each window of a narrative's life as emergence,
// shift, peak, decline or nothing.
//
// Emergence is known as soon as a narrative is founded. Peak needs the
// following window, so every other label for window t is settled when
// window t+1 is observed, or by Flush at the end of a run.
package drift

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"

	"driftwatch/internal/core"
	"driftwatch/internal/logger"
)

// seriesCap bounds the history kept on a narrative.
const seriesCap = 52

// Config holds the classification thresholds.
type Config struct {
	DeclineFraction float64 // Decline when below this share of the historical peak
	PeakFloor       float64 // Peaks below this are ignored
	ShiftThreshold  float64 // Radians
	Weights         Weights
}

// Weights combine the parts of a linked window's significance.
type Weights struct {
	Size      float64
	Coherence float64
	Diversity float64
}

// DefaultConfig returns the article-level thresholds.
func DefaultConfig() Config {
	return Config{
		DeclineFraction: 0.5,
		PeakFloor:       0.3,
		ShiftThreshold:  0.35,
		Weights:         Weights{Size: 0.5, Coherence: 0.3, Diversity: 0.2},
	}
}

// Observation is what happened to one narrative in one window.
type Observation struct {
	Window       core.Window
	Linked       bool
	Created      bool
	Significance float64 // Ignored when unlinked
	Emergence    float64 // Significance reported on the emergence event
	DriftAngle   float64
	MemberIDs    []string
}

// Classifier applies the state machine. It keeps no state of its own; all
// history lives in Narrative.Drift.
type Classifier struct {
	cfg Config
	log *slog.Logger
}

// New creates a classifier.
func New(cfg Config) *Classifier {
	return &Classifier{cfg: cfg, log: logger.Get()}
}

// Significance scores a linked window from the cluster's share of the
// window's items, its coherence and its diversity.
func (c *Classifier) Significance(share, coherence, diversity float64) float64 {
	w := c.cfg.Weights
	total := w.Size + w.Coherence + w.Diversity
	if total <= 0 {
		return 0
	}
	s := (w.Size*clamp01(share) + w.Coherence*clamp01(coherence) + w.Diversity*clamp01(diversity)) / total
	return clamp01(s)
}

// EmergenceSignificance is normalized size times coherence.
func EmergenceSignificance(share, coherence float64) float64 {
	return clamp01(clamp01(share) * clamp01(coherence))
}

// Observe records obs on n and returns the events it settles: the label of
// the previous pending window, if any, and an emergence event for a newly
// founded narrative.
func (c *Classifier) Observe(n *core.Narrative, obs Observation) []core.TimelineEvent {
	value := 0.0
	if obs.Linked {
		value = clamp01(obs.Significance)
	}

	var events []core.TimelineEvent
	if n.Drift.Unresolved && len(n.Drift.Series) > 0 {
		prev := n.Drift.Series[len(n.Drift.Series)-1]
		if ev, ok := c.resolve(n, prev, value); ok {
			events = append(events, ev)
		}
		n.Drift.Unresolved = false
	}

	point := core.SignificancePoint{
		Window:     obs.Window,
		Value:      value,
		DriftAngle: obs.DriftAngle,
		Linked:     obs.Linked,
		MemberIDs:  append([]string(nil), obs.MemberIDs...),
		Emerged:    obs.Created,
	}
	n.Drift.Series = append(n.Drift.Series, point)
	if len(n.Drift.Series) > seriesCap {
		n.Drift.Series = append([]core.SignificancePoint(nil), n.Drift.Series[len(n.Drift.Series)-seriesCap:]...)
	}
	if value > n.Drift.Peak {
		n.Drift.Peak = value
	}
	if value >= c.cfg.DeclineFraction*n.Drift.Peak {
		n.Drift.Declining = false
	}

	if obs.Created {
		sig := obs.Emergence
		if sig == 0 {
			sig = value
		}
		events = append(events, c.event(n, core.EventEmergence, point, sig,
			fmt.Sprintf("Emerged with %d items", len(obs.MemberIDs))))
	} else {
		n.Drift.Unresolved = true
	}
	return events
}

// Flush settles a pending window at the end of a run. Without a following
// window only a shift can be detected.
func (c *Classifier) Flush(n *core.Narrative) []core.TimelineEvent {
	if !n.Drift.Unresolved || len(n.Drift.Series) == 0 {
		return nil
	}
	n.Drift.Unresolved = false
	p := n.Drift.Series[len(n.Drift.Series)-1]
	if c.isShift(p) {
		return []core.TimelineEvent{c.shiftEvent(n, p)}
	}
	return nil
}

// resolve labels prev given the value of the window that follows it.
// Priority is peak, decline, shift.
func (c *Classifier) resolve(n *core.Narrative, prev core.SignificancePoint, next float64) (core.TimelineEvent, bool) {
	series := n.Drift.Series
	before := 0.0
	if len(series) >= 2 {
		before = series[len(series)-2].Value
	}

	if prev.Value > before && prev.Value > next && prev.Value >= c.cfg.PeakFloor {
		return c.event(n, core.EventPeak, prev, prev.Value,
			fmt.Sprintf("Peaked at significance %.2f", prev.Value)), true
	}

	limit := c.cfg.DeclineFraction * n.Drift.Peak
	if !n.Drift.Declining && n.Drift.Peak > 0 && prev.Value < limit && next < limit {
		n.Drift.Declining = true
		return c.event(n, core.EventDecline, prev, prev.Value,
			fmt.Sprintf("Fell below %.0f%% of peak %.2f", c.cfg.DeclineFraction*100, n.Drift.Peak)), true
	}

	if c.isShift(prev) {
		return c.shiftEvent(n, prev), true
	}
	return core.TimelineEvent{}, false
}

func (c *Classifier) isShift(p core.SignificancePoint) bool {
	return p.Linked && c.cfg.ShiftThreshold > 0 && p.DriftAngle > c.cfg.ShiftThreshold
}

func (c *Classifier) shiftEvent(n *core.Narrative, p core.SignificancePoint) core.TimelineEvent {
	return c.event(n, core.EventShift, p, p.Value,
		fmt.Sprintf("Centroid moved %.1f degrees", p.DriftAngle*180/math.Pi))
}

func (c *Classifier) event(n *core.Narrative, typ core.EventType, p core.SignificancePoint, sig float64, desc string) core.TimelineEvent {
	c.log.Debug("drift event", "narrative", n.ID, "type", typ.String(), "window", p.Window.ID, "significance", sig)
	return core.TimelineEvent{
		ID:            uuid.NewString(),
		NarrativeID:   n.ID,
		Namespace:     n.Namespace,
		Type:          typ,
		Window:        p.Window,
		EventDate:     p.Window.End,
		Significance:  clamp01(sig),
		Description:   desc,
		LinkedItemIDs: append([]string(nil), p.MemberIDs...),
	}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
