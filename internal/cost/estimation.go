package cost

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"driftwatch/internal/core"
)

// ModelPricing describes what one call to a model costs.
type ModelPricing struct {
	Model                 string
	Provider              string
	InputCostPer1MTokens  float64 // Cost per 1M input tokens in USD
	OutputCostPer1MTokens float64 // Cost per 1M output tokens in USD
	EstimatedOutputTokens int     // Expected output tokens per request
	MaxRequestsPerMinute  int     // Rate limiting
}

// PricingTable contains list prices for the models the pipeline can route to.
var PricingTable = map[string]ModelPricing{
	"gemini-embedding-001": {
		Model:                "gemini-embedding-001",
		Provider:             "gemini",
		InputCostPer1MTokens: 0.15,
		MaxRequestsPerMinute: 3000,
	},
	"text-embedding-3-small": {
		Model:                "text-embedding-3-small",
		Provider:             "openai",
		InputCostPer1MTokens: 0.02,
		MaxRequestsPerMinute: 3000,
	},
	"gemini-2.5-flash-lite": {
		Model:                 "gemini-2.5-flash-lite",
		Provider:              "gemini",
		InputCostPer1MTokens:  0.10,
		OutputCostPer1MTokens: 0.40,
		EstimatedOutputTokens: 120,
		MaxRequestsPerMinute:  4000,
	},
	"gemini-2.5-flash": {
		Model:                 "gemini-2.5-flash",
		Provider:              "gemini",
		InputCostPer1MTokens:  0.30,
		OutputCostPer1MTokens: 2.50,
		EstimatedOutputTokens: 400,
		MaxRequestsPerMinute:  1000,
	},
	"gemini-2.5-pro": {
		Model:                 "gemini-2.5-pro",
		Provider:              "gemini",
		InputCostPer1MTokens:  1.25,
		OutputCostPer1MTokens: 10.00,
		EstimatedOutputTokens: 500,
		MaxRequestsPerMinute:  150,
	},
	"gpt-4o-mini": {
		Model:                 "gpt-4o-mini",
		Provider:              "openai",
		InputCostPer1MTokens:  0.15,
		OutputCostPer1MTokens: 0.60,
		EstimatedOutputTokens: 300,
		MaxRequestsPerMinute:  500,
	},
	"gpt-4o": {
		Model:                 "gpt-4o",
		Provider:              "openai",
		InputCostPer1MTokens:  2.50,
		OutputCostPer1MTokens: 10.00,
		EstimatedOutputTokens: 400,
		MaxRequestsPerMinute:  500,
	},
	"claude-haiku-4-5": {
		Model:                 "claude-haiku-4-5",
		Provider:              "anthropic",
		InputCostPer1MTokens:  1.00,
		OutputCostPer1MTokens: 5.00,
		EstimatedOutputTokens: 300,
		MaxRequestsPerMinute:  50,
	},
	"claude-sonnet-4-5": {
		Model:                 "claude-sonnet-4-5",
		Provider:              "anthropic",
		InputCostPer1MTokens:  3.00,
		OutputCostPer1MTokens: 15.00,
		EstimatedOutputTokens: 400,
		MaxRequestsPerMinute:  50,
	},
}

// Flat per-call costs used when a model is missing from PricingTable.
var FlatCallCost = map[string]float64{
	"embedding": 0.00002,
	"naming":    0.0001,
	"report":    0.001,
	"extract":   0.0005,
}

// EstimateTokenCount provides a rough estimation of token count for text
// This is a simplified approximation: typically 1 token ≈ 0.75 words ≈ 4 characters
func EstimateTokenCount(text string) int {
	text = strings.TrimSpace(text)
	text = strings.ReplaceAll(text, "\n", " ")

	charCount := utf8.RuneCountInString(text)

	// 3.5 rather than 4 leaves headroom for special tokens and formatting
	return int(math.Ceil(float64(charCount) / 3.5))
}

// CallCost prices one completed call given its actual input and output text.
func CallCost(task, model, input, output string) float64 {
	pricing, ok := PricingTable[model]
	if !ok {
		return FlatCallCost[task]
	}
	in := float64(EstimateTokenCount(input)) * pricing.InputCostPer1MTokens / 1000000
	out := float64(EstimateTokenCount(output)) * pricing.OutputCostPer1MTokens / 1000000
	return in + out
}

// ProjectedCallCost prices a call that has not happened yet, assuming the
// model's typical output length.
func ProjectedCallCost(task, model string, inputTokens int) float64 {
	pricing, ok := PricingTable[model]
	if !ok {
		return FlatCallCost[task]
	}
	in := float64(inputTokens) * pricing.InputCostPer1MTokens / 1000000
	out := float64(pricing.EstimatedOutputTokens) * pricing.OutputCostPer1MTokens / 1000000
	return in + out
}

// WindowProjection is the dry-run forecast for one window.
type WindowProjection struct {
	Window            core.Window `json:"window" yaml:"window"`
	Namespace         string      `json:"namespace" yaml:"namespace"`
	Items             int         `json:"items" yaml:"items"`
	EmbeddingCalls    int         `json:"embedding_calls" yaml:"embedding_calls"`       // Texts sent for embedding
	EmbeddingRequests int         `json:"embedding_requests" yaml:"embedding_requests"` // Batched requests
	ExtractionCalls   int         `json:"extraction_calls" yaml:"extraction_calls"`
	NamingCalls       int         `json:"naming_calls" yaml:"naming_calls"`
	ReportCalls       int         `json:"report_calls" yaml:"report_calls"`
	Clusters          int         `json:"clusters" yaml:"clusters"`
	Exact             bool        `json:"exact" yaml:"exact"` // False when clustering could not run on cached vectors
	Cost              float64     `json:"cost" yaml:"cost"`
	SkipReason        string      `json:"skip_reason,omitempty" yaml:"skip_reason,omitempty"`
}

// GenerationCalls counts calls to text-generation models.
func (w WindowProjection) GenerationCalls() int {
	return w.ExtractionCalls + w.NamingCalls + w.ReportCalls
}

// Projection is a dry-run forecast over a range of windows.
type Projection struct {
	Windows           []WindowProjection `json:"windows" yaml:"windows"`
	EmbeddingCalls    int                `json:"embedding_calls" yaml:"embedding_calls"`
	EmbeddingRequests int                `json:"embedding_requests" yaml:"embedding_requests"`
	GenerationCalls   int                `json:"generation_calls" yaml:"generation_calls"`
	TotalCost         float64            `json:"total_cost" yaml:"total_cost"`
	EstimatedDuration time.Duration      `json:"estimated_duration" yaml:"estimated_duration"`
	RateLimitWarning  string             `json:"rate_limit_warning,omitempty" yaml:"rate_limit_warning,omitempty"`
}

// Add folds a window forecast into the totals.
func (p *Projection) Add(w WindowProjection) {
	p.Windows = append(p.Windows, w)
	p.EmbeddingCalls += w.EmbeddingCalls
	p.EmbeddingRequests += w.EmbeddingRequests
	p.GenerationCalls += w.GenerationCalls()
	p.TotalCost += w.Cost
}

// Exact reports whether every window was projected from real clustering.
func (p *Projection) Exact() bool {
	for _, w := range p.Windows {
		if !w.Exact {
			return false
		}
	}
	return true
}

// CheckRateLimit fills RateLimitWarning when the projected request rate for
// model would exceed its published limit given the pacing interval.
func (p *Projection) CheckRateLimit(model string, interval time.Duration) {
	pricing, ok := PricingTable[model]
	if !ok || pricing.MaxRequestsPerMinute == 0 {
		return
	}
	requests := p.EmbeddingRequests + p.GenerationCalls
	p.EstimatedDuration = time.Duration(requests) * interval
	if interval <= 0 {
		if requests > pricing.MaxRequestsPerMinute {
			p.RateLimitWarning = fmt.Sprintf(
				"Warning: %d unpaced requests may exceed rate limit of %d/min for %s",
				requests, pricing.MaxRequestsPerMinute, model,
			)
		}
		return
	}
	perMinute := float64(time.Minute) / float64(interval)
	if perMinute > float64(pricing.MaxRequestsPerMinute) {
		p.RateLimitWarning = fmt.Sprintf(
			"Warning: pacing of %s allows %.0f requests/min, above the %d/min limit for %s",
			interval, perMinute, pricing.MaxRequestsPerMinute, model,
		)
	}
}

// FormatProjection formats the projection for display
func (p *Projection) FormatProjection() string {
	var sb strings.Builder

	sb.WriteString("Cost Projection\n")
	sb.WriteString(strings.Repeat("=", 50) + "\n\n")

	sb.WriteString("Summary:\n")
	sb.WriteString(fmt.Sprintf("   Windows: %d\n", len(p.Windows)))
	sb.WriteString(fmt.Sprintf("   Embedding calls: %d (%d requests)\n", p.EmbeddingCalls, p.EmbeddingRequests))
	sb.WriteString(fmt.Sprintf("   Generation calls: %d\n", p.GenerationCalls))
	sb.WriteString(fmt.Sprintf("   Projected cost: $%.6f\n", p.TotalCost))
	if p.EstimatedDuration > 0 {
		sb.WriteString(fmt.Sprintf("   Minimum duration from pacing: %s\n", p.EstimatedDuration.Round(time.Second)))
	}
	if !p.Exact() {
		sb.WriteString("   Some windows lack cached embeddings; their generation counts are upper bounds\n")
	}
	if p.RateLimitWarning != "" {
		sb.WriteString(fmt.Sprintf("   %s\n", p.RateLimitWarning))
	}
	sb.WriteString("\n")

	if len(p.Windows) > 0 {
		sb.WriteString("Per-Window:\n")
		for _, w := range p.Windows {
			if w.SkipReason != "" {
				sb.WriteString(fmt.Sprintf("   %s [%s] skipped: %s\n", w.Window, w.Namespace, w.SkipReason))
				continue
			}
			sb.WriteString(fmt.Sprintf("   %s [%s] items=%d embed=%d gen=%d clusters=%d $%.6f\n",
				w.Window, w.Namespace, w.Items, w.EmbeddingCalls, w.GenerationCalls(), w.Clusters, w.Cost))
		}
	}

	return sb.String()
}
