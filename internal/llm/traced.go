package llm

import (
	"context"
	"time"

	"driftwatch/internal/observability"
)

// TracedGenerator reports every generation call to an analytics tracker.
type TracedGenerator struct {
	Generator Generator
	Tracker   observability.Tracker
	Task      string
}

func (t TracedGenerator) Generate(ctx context.Context, prompt, model string) (string, error) {
	start := time.Now()
	out, err := t.Generator.Generate(ctx, prompt, model)
	_ = t.Tracker.TrackLLMCall(ctx, t.Task, model, time.Since(start), err)
	return out, err
}

// TracedEmbedder reports every embedding request to an analytics tracker.
type TracedEmbedder struct {
	Embedder Embedder
	Tracker  observability.Tracker
}

func (t TracedEmbedder) Embed(ctx context.Context, texts []string, model string) ([][]float64, error) {
	start := time.Now()
	out, err := t.Embedder.Embed(ctx, texts, model)
	_ = t.Tracker.TrackLLMCall(ctx, "embedding", model, time.Since(start), err)
	return out, err
}
