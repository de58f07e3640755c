package cost

import (
	"math"
	"strings"
	"testing"
	"time"

	"driftwatch/internal/core"
)

func TestEstimateTokenCount(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected int
	}{
		{
			name:     "empty string",
			input:    "",
			expected: 0,
		},
		{
			name:     "simple text",
			input:    "Hello world",
			expected: 4, // 11 chars / 3.5 ≈ 3.14, ceil = 4
		},
		{
			name:     "longer text",
			input:    "This is a longer piece of text that should result in more tokens.",
			expected: 19, // 66 chars / 3.5 ≈ 18.86, ceil = 19
		},
		{
			name:     "text with newlines",
			input:    "Line 1\nLine 2\nLine 3",
			expected: 6,
		},
		{
			name:     "text with extra whitespace",
			input:    "  Text with   extra    spaces  ",
			expected: 8,
		},
		{
			name:     "multibyte runes",
			input:    "éééééééééé",
			expected: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := EstimateTokenCount(tt.input)
			if result != tt.expected {
				t.Errorf("EstimateTokenCount(%q) = %d, expected %d", tt.input, result, tt.expected)
			}
		})
	}
}

func TestCallCost(t *testing.T) {
	input := strings.Repeat("a", 3500000) // 1M tokens
	got := CallCost("report", "gemini-2.5-flash", input, "")
	if math.Abs(got-0.30) > 1e-9 {
		t.Errorf("expected $0.30 for 1M input tokens, got %v", got)
	}

	if got := CallCost("naming", "unknown-model", "x", "y"); got != FlatCallCost["naming"] {
		t.Errorf("expected flat naming cost, got %v", got)
	}
}

func TestProjectedCallCostUsesEstimatedOutput(t *testing.T) {
	p := PricingTable["gpt-4o-mini"]
	want := float64(p.EstimatedOutputTokens) * p.OutputCostPer1MTokens / 1000000
	if got := ProjectedCallCost("report", "gpt-4o-mini", 0); math.Abs(got-want) > 1e-12 {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestProjectionTotals(t *testing.T) {
	w := core.NewWindow(time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC), core.DefaultWindowSize)
	var p Projection
	p.Add(WindowProjection{Window: w, EmbeddingCalls: 10, EmbeddingRequests: 1, NamingCalls: 2, ReportCalls: 2, Cost: 0.01, Exact: true})
	p.Add(WindowProjection{Window: w, EmbeddingCalls: 4, EmbeddingRequests: 1, ReportCalls: 1, Cost: 0.002, Exact: false})

	if p.EmbeddingCalls != 14 || p.EmbeddingRequests != 2 {
		t.Errorf("unexpected embedding totals %d/%d", p.EmbeddingCalls, p.EmbeddingRequests)
	}
	if p.GenerationCalls != 5 {
		t.Errorf("expected 5 generation calls, got %d", p.GenerationCalls)
	}
	if p.Exact() {
		t.Error("projection with an inexact window must not be exact")
	}
	out := p.FormatProjection()
	if !strings.Contains(out, "upper bounds") {
		t.Errorf("expected inexact note in output:\n%s", out)
	}
}

func TestCheckRateLimit(t *testing.T) {
	p := Projection{EmbeddingRequests: 10, GenerationCalls: 10}
	p.CheckRateLimit("gemini-2.5-pro", 100*time.Millisecond)
	if p.RateLimitWarning == "" {
		t.Error("expected warning for 600 req/min against a 150/min model")
	}

	p = Projection{EmbeddingRequests: 10}
	p.CheckRateLimit("gemini-2.5-pro", time.Second)
	if p.RateLimitWarning != "" {
		t.Errorf("did not expect a warning, got %q", p.RateLimitWarning)
	}
	if p.EstimatedDuration != 10*time.Second {
		t.Errorf("expected 10s duration, got %s", p.EstimatedDuration)
	}
}
