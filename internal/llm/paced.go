package llm

import (
	"context"

	"driftwatch/internal/pacing"
)

// PacedGenerator waits on a pacing policy before every call, so naming,
// reports and extraction share the request budget with embedding batches.
type PacedGenerator struct {
	Generator Generator
	Pacer     pacing.Policy
}

func (p PacedGenerator) Generate(ctx context.Context, prompt, model string) (string, error) {
	if p.Pacer != nil {
		if err := p.Pacer.Wait(ctx); err != nil {
			return "", err
		}
	}
	return p.Generator.Generate(ctx, prompt, model)
}
