package report

import (
	"driftwatch/internal/core"
	"driftwatch/internal/cost"
)

// RoutingConfig decides when the cheap model is good enough.
type RoutingConfig struct {
	CheapModel            string
	CapableModel          string
	MaxCheapPayloadTokens int // Payloads above this go to the capable model
	MaxCheapWindows       int // Narratives linked in more windows than this are long-lived
	MaxCheapSupport       int // Narratives with more items than this are large
}

// DefaultRoutingConfig returns the routing defaults.
func DefaultRoutingConfig() RoutingConfig {
	return RoutingConfig{
		CheapModel:            "gemini-2.5-flash-lite",
		CapableModel:          "gemini-2.5-flash",
		MaxCheapPayloadTokens: 400,
		MaxCheapWindows:       4,
		MaxCheapSupport:       50,
	}
}

// Route is a routing decision.
type Route struct {
	Model  string
	Reason string
}

// Capable reports whether the capable model was chosen.
func (r Route) Capable(cfg RoutingConfig) bool { return r.Model == cfg.CapableModel }

// Route picks the model for a report on n covering payload.
func (c RoutingConfig) Route(n *core.Narrative, payload string) Route {
	switch {
	case len(n.PendingReports) > 0:
		return Route{c.CapableModel, "previous report failed"}
	case cost.EstimateTokenCount(payload) > c.MaxCheapPayloadTokens:
		return Route{c.CapableModel, "large payload"}
	case len(n.Links) > c.MaxCheapWindows:
		return Route{c.CapableModel, "long-lived narrative"}
	case n.SupportCount > c.MaxCheapSupport:
		return Route{c.CapableModel, "large narrative"}
	}
	return Route{c.CheapModel, "small narrative"}
}
