// Package statements pulls individual claims out of articles so they can be
// clustered into statement-level narratives alongside, but never mixed with,
// article-level ones.
package statements

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"driftwatch/internal/core"
	"driftwatch/internal/cost"
	"driftwatch/internal/ledger"
	"driftwatch/internal/llm"
	"driftwatch/internal/logger"
)

// Extractor turns an article into statements.
type Extractor interface {
	Extract(ctx context.Context, article core.Article) ([]core.Statement, error)
}

// Config controls extraction.
type Config struct {
	Model         string
	MaxPerArticle int
	MinConfidence float64
	MaxInputRunes int
	Concurrency   int
}

// DefaultConfig returns the extraction defaults.
func DefaultConfig() Config {
	return Config{
		Model:         "gemini-2.5-flash-lite",
		MaxPerArticle: 3,
		MinConfidence: 0.5,
		MaxInputRunes: 6000,
		Concurrency:   2,
	}
}

// LLMExtractor asks a generation model for structured statements. Responses
// are cached in the ledger by article fingerprint.
type LLMExtractor struct {
	gen    llm.Generator
	ledger *ledger.Ledger
	cfg    Config
	log    *slog.Logger
}

// NewLLMExtractor creates an extractor.
func NewLLMExtractor(gen llm.Generator, l *ledger.Ledger, cfg Config) *LLMExtractor {
	if cfg.MaxPerArticle <= 0 {
		cfg.MaxPerArticle = DefaultConfig().MaxPerArticle
	}
	if cfg.MaxInputRunes <= 0 {
		cfg.MaxInputRunes = DefaultConfig().MaxInputRunes
	}
	return &LLMExtractor{gen: gen, ledger: l, cfg: cfg, log: logger.Get()}
}

type rawStatement struct {
	Actor         string  `json:"actor"`
	Action        string  `json:"action"`
	Reason        string  `json:"reason"`
	Consequence   string  `json:"consequence"`
	FullStatement string  `json:"full_statement"`
	Confidence    float64 `json:"confidence"`
}

// Key is the ledger key for an article's extraction response.
func (e *LLMExtractor) Key(a core.Article) string {
	fp := a.Fingerprint
	if fp == "" {
		fp = core.Fingerprint(core.ArticleText(a))
	}
	return ledger.Key(ledger.TaskExtract, e.cfg.Model, fp)
}

// Extract implements Extractor.
func (e *LLMExtractor) Extract(ctx context.Context, a core.Article) ([]core.Statement, error) {
	key := e.Key(a)
	entry, ok, err := e.ledger.Lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	raw := entry.Text
	if !ok {
		prompt := e.buildPrompt(a)
		raw, err = e.gen.Generate(ctx, prompt, e.cfg.Model)
		if err != nil {
			return nil, core.NewError(core.KindGenerationFailed, "extract", a.ID, err)
		}
		err = e.ledger.Record(ctx, ledger.TaskExtract, core.CacheEntry{
			Key:   key,
			Kind:  core.CacheResponse,
			Model: e.cfg.Model,
			Text:  raw,
			Cost:  cost.CallCost(ledger.TaskExtract, e.cfg.Model, prompt, raw),
		})
		if err != nil {
			return nil, err
		}
	}
	return e.parse(a, raw)
}

// Cached reports whether an article's extraction is already in the ledger.
func (e *LLMExtractor) Cached(ctx context.Context, a core.Article) (bool, error) {
	_, ok, err := e.ledger.Lookup(ctx, e.Key(a))
	return ok, err
}

// ProjectedCost prices an uncached extraction for a.
func (e *LLMExtractor) ProjectedCost(a core.Article) float64 {
	return cost.ProjectedCallCost(ledger.TaskExtract, e.cfg.Model, cost.EstimateTokenCount(e.buildPrompt(a)))
}

func (e *LLMExtractor) buildPrompt(a core.Article) string {
	text := []rune(core.ArticleText(a))
	if len(text) > e.cfg.MaxInputRunes {
		text = text[:e.cfg.MaxInputRunes]
	}

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Extract up to %d key statements from this news article.\n\n", e.cfg.MaxPerArticle)
	prompt.WriteString("ARTICLE:\n")
	prompt.WriteString(string(text))
	prompt.WriteString("\n\nFor each statement identify:\n")
	prompt.WriteString("- actor: who is acting or speaking\n")
	prompt.WriteString("- action: what they did or claimed\n")
	prompt.WriteString("- reason: why, if stated\n")
	prompt.WriteString("- consequence: the stated or implied effect\n")
	prompt.WriteString("- full_statement: one self-contained sentence\n")
	prompt.WriteString("- confidence: 0 to 1, how clearly the article supports it\n\n")
	prompt.WriteString(`Respond with a JSON array only: [{"actor": "", "action": "", "reason": "", "consequence": "", "full_statement": "", "confidence": 0.0}]`)
	return prompt.String()
}

func (e *LLMExtractor) parse(a core.Article, raw string) ([]core.Statement, error) {
	var items []rawStatement
	if err := json.Unmarshal([]byte(llm.CleanJSON(raw)), &items); err != nil {
		return nil, core.NewError(core.KindGenerationFailed, "extract", a.ID, fmt.Errorf("parse statements: %w", err))
	}

	var out []core.Statement
	for _, it := range items {
		if len(out) == e.cfg.MaxPerArticle {
			break
		}
		text := strings.TrimSpace(it.FullStatement)
		if text == "" || it.Confidence < e.cfg.MinConfidence {
			continue
		}
		out = append(out, core.Statement{
			ID:          fmt.Sprintf("%s#s%d", a.ID, len(out)+1),
			ArticleID:   a.ID,
			SourceID:    a.SourceID,
			PublishedAt: a.PublishedAt,
			Actor:       strings.TrimSpace(it.Actor),
			Action:      strings.TrimSpace(it.Action),
			Reason:      strings.TrimSpace(it.Reason),
			Consequence: strings.TrimSpace(it.Consequence),
			Text:        text,
			Confidence:  it.Confidence,
			Fingerprint: core.Fingerprint(text),
		})
	}
	return out, nil
}

// Collect extracts statements from every article with bounded concurrency.
// Per-article failures are returned joined; statements from the other
// articles are still returned, in article order.
func Collect(ctx context.Context, ex Extractor, articles []core.Article, concurrency int) ([]core.Statement, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	results := make([][]core.Statement, len(articles))
	var (
		mu   sync.Mutex
		errs []error
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(concurrency)
	for i, a := range articles {
		i, a := i, a
		eg.Go(func() error {
			stmts, err := ex.Extract(egCtx, a)
			if err != nil {
				if core.KindOf(err) != core.KindGenerationFailed {
					return err
				}
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return nil
			}
			results[i] = stmts
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	var out []core.Statement
	for _, r := range results {
		out = append(out, r...)
	}
	return out, errors.Join(errs...)
}

// Significance scores a statement cluster as coherence times diversity.
func Significance(_, coherence, diversity float64) float64 {
	v := coherence * diversity
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
