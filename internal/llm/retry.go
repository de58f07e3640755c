package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RetryPolicy bounds how often an external call is retried. Backoff doubles
// from InitialBackoff up to MaxBackoff.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy is three attempts starting at half a second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     8 * time.Second,
	}
}

// Backoff returns the wait before the given retry (1-based).
func (p RetryPolicy) Backoff(retry int) time.Duration {
	if p.InitialBackoff <= 0 {
		return 0
	}
	d := p.InitialBackoff
	for i := 1; i < retry; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return d
}

// Do runs fn until it succeeds, fails permanently, or attempts run out.
func (p RetryPolicy) Do(ctx context.Context, fn func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if permanent(ctx, err) || attempt == attempts {
			break
		}
		timer := time.NewTimer(p.Backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("after %d attempts: %w", attempts, err)
}

func permanent(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, ErrEmptyInput) ||
		errors.Is(err, ErrMissingAPIKey)
}

// RetryingEmbedder retries a wrapped Embedder.
type RetryingEmbedder struct {
	Embedder Embedder
	Policy   RetryPolicy
}

func (r RetryingEmbedder) Embed(ctx context.Context, texts []string, model string) ([][]float64, error) {
	var out [][]float64
	err := r.Policy.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = r.Embedder.Embed(ctx, texts, model)
		return err
	})
	return out, err
}

// RetryingGenerator retries a wrapped Generator.
type RetryingGenerator struct {
	Generator Generator
	Policy    RetryPolicy
}

func (r RetryingGenerator) Generate(ctx context.Context, prompt, model string) (string, error) {
	var out string
	err := r.Policy.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = r.Generator.Generate(ctx, prompt, model)
		return err
	})
	return out, err
}
