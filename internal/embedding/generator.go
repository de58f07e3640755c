// Package embedding turns documents into vectors through the ledger, so a
// given (text, model) pair reaches the external service at most once for
// the lifetime of the cache.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"driftwatch/internal/core"
	"driftwatch/internal/cost"
	"driftwatch/internal/ledger"
	"driftwatch/internal/llm"
	"driftwatch/internal/logger"
	"driftwatch/internal/pacing"
)

// Config controls batching and the expected model output.
type Config struct {
	Model       string
	BatchSize   int // Max texts per external request
	Concurrency int // Max requests in flight within one window
	Dimensions  int // Expected vector length, 0 accepts any
}

// DefaultConfig mirrors the defaults used by historical processing.
func DefaultConfig() Config {
	return Config{
		Model:       llm.DefaultGeminiEmbeddingModel,
		BatchSize:   10,
		Concurrency: 2,
		Dimensions:  llm.DefaultEmbeddingDimensions,
	}
}

// Generator produces embeddings for documents.
type Generator struct {
	embedder llm.Embedder
	ledger   *ledger.Ledger
	pacer    pacing.Policy
	cfg      Config
	log      *slog.Logger
}

// NewGenerator wires a generator. The embedder should already carry its
// retry policy; Generator classifies whatever still fails as unavailable.
func NewGenerator(embedder llm.Embedder, l *ledger.Ledger, pacer pacing.Policy, cfg Config) *Generator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if pacer == nil {
		pacer = pacing.None{}
	}
	return &Generator{
		embedder: embedder,
		ledger:   l,
		pacer:    pacer,
		cfg:      cfg,
		log:      logger.Get(),
	}
}

// Model returns the model version vectors are generated with.
func (g *Generator) Model() string { return g.cfg.Model }

// Skipped is a document that could not be embedded this run.
type Skipped struct {
	ID  string
	Err error
}

// Result maps document IDs to vectors.
type Result struct {
	Vectors  map[string][]float64
	Skipped  []Skipped
	Calls    int // Texts sent to the external service
	Requests int // External requests made
	Cost     float64
}

type pendingText struct {
	key  string
	text string
	ids  []string
}

// Generate embeds docs. Items that fail are reported in Result.Skipped and
// never abort the batch; only ledger failures are returned as errors.
func (g *Generator) Generate(ctx context.Context, docs []core.Document) (*Result, error) {
	res := &Result{Vectors: make(map[string][]float64, len(docs))}

	pending, err := g.resolveCached(ctx, docs, res.Vectors, nil)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return res, nil
	}

	var mu sync.Mutex
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.Concurrency)

	for _, batch := range chunk(pending, g.cfg.BatchSize) {
		batch := batch
		eg.Go(func() error {
			out := g.embedBatch(egCtx, batch)
			mu.Lock()
			defer mu.Unlock()
			res.Requests += out.requests
			res.Calls += out.calls
			res.Cost += out.cost
			for _, p := range batch {
				vec, ok := out.vectors[p.key]
				if !ok {
					for _, id := range p.ids {
						res.Skipped = append(res.Skipped, Skipped{ID: id, Err: out.errs[p.key]})
					}
					continue
				}
				for _, id := range p.ids {
					res.Vectors[id] = vec
				}
			}
			return out.fatal
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	for _, s := range res.Skipped {
		g.log.Warn("embedding skipped", "id", s.ID, "error", s.Err)
	}
	return res, nil
}

// Plan reports how many texts and requests Generate would send for docs
// without calling out. Keys in seen are treated as already cached and keys
// planned here are added to it, so consecutive windows share one plan.
// Vectors already in the ledger are returned in Result.Vectors.
func (g *Generator) Plan(ctx context.Context, docs []core.Document, seen map[string]struct{}) (*Result, error) {
	res := &Result{Vectors: make(map[string][]float64, len(docs))}
	pending, err := g.resolveCached(ctx, docs, res.Vectors, seen)
	if err != nil {
		return nil, err
	}
	for _, p := range pending {
		res.Calls++
		res.Cost += cost.CallCost(ledger.TaskEmbedding, g.cfg.Model, p.text, "")
		if seen != nil {
			seen[p.key] = struct{}{}
		}
	}
	res.Requests = (len(pending) + g.cfg.BatchSize - 1) / g.cfg.BatchSize
	return res, nil
}

func (g *Generator) resolveCached(ctx context.Context, docs []core.Document, vectors map[string][]float64, seen map[string]struct{}) ([]pendingText, error) {
	byKey := make(map[string]*pendingText)
	var order []string
	for _, d := range docs {
		if len(d.Vector) > 0 {
			vectors[d.ID] = d.Vector
			continue
		}
		key := ledger.Key(ledger.TaskEmbedding, g.cfg.Model, d.Fingerprint)
		if p, ok := byKey[key]; ok {
			p.ids = append(p.ids, d.ID)
			continue
		}
		byKey[key] = &pendingText{key: key, text: d.Text, ids: []string{d.ID}}
		order = append(order, key)
	}

	var pending []pendingText
	for _, key := range order {
		p := byKey[key]
		entry, ok, err := g.ledger.Lookup(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok && len(entry.Vector) > 0 {
			for _, id := range p.ids {
				vectors[id] = entry.Vector
			}
			continue
		}
		if _, planned := seen[key]; planned {
			continue
		}
		pending = append(pending, *p)
	}
	return pending, nil
}

type batchOutcome struct {
	vectors  map[string][]float64
	errs     map[string]error
	requests int
	calls    int
	cost     float64
	fatal    error
}

// embedBatch sends one batch. When the batch as a whole fails, each text is
// retried alone so one bad input cannot take its neighbours down with it.
func (g *Generator) embedBatch(ctx context.Context, batch []pendingText) batchOutcome {
	out := batchOutcome{vectors: make(map[string][]float64), errs: make(map[string]error)}

	if err := g.pacer.Wait(ctx); err != nil {
		for _, p := range batch {
			out.errs[p.key] = err
		}
		return out
	}

	texts := make([]string, len(batch))
	for i, p := range batch {
		texts[i] = p.text
	}
	out.requests++
	out.calls += len(texts)
	vecs, err := g.embedder.Embed(ctx, texts, g.cfg.Model)
	if err == nil {
		err = checkCount(vecs, len(texts))
	}
	if err == nil {
		for i, p := range batch {
			g.accept(ctx, p, vecs[i], &out)
		}
		return out
	}
	if len(batch) == 1 || ctx.Err() != nil {
		for _, p := range batch {
			out.errs[p.key] = core.NewError(core.KindEmbeddingUnavailable, "embed", p.ids[0], err)
		}
		return out
	}

	g.log.Warn("embedding batch failed, retrying items individually", "size", len(batch), "error", err)
	for _, p := range batch {
		if werr := g.pacer.Wait(ctx); werr != nil {
			out.errs[p.key] = werr
			continue
		}
		out.requests++
		out.calls++
		vecs, err := g.embedder.Embed(ctx, []string{p.text}, g.cfg.Model)
		if err == nil {
			err = checkCount(vecs, 1)
		}
		if err != nil {
			out.errs[p.key] = core.NewError(core.KindEmbeddingUnavailable, "embed", p.ids[0], err)
			continue
		}
		g.accept(ctx, p, vecs[0], &out)
	}
	return out
}

func checkCount(vecs [][]float64, want int) error {
	if len(vecs) != want {
		return fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), want)
	}
	return nil
}

func (g *Generator) accept(ctx context.Context, p pendingText, vec []float64, out *batchOutcome) {
	if g.cfg.Dimensions > 0 && len(vec) != g.cfg.Dimensions {
		out.errs[p.key] = core.NewError(core.KindEmbeddingUnavailable, "embed", p.ids[0],
			fmt.Errorf("expected %d dimensions, got %d", g.cfg.Dimensions, len(vec)))
		return
	}
	c := cost.CallCost(ledger.TaskEmbedding, g.cfg.Model, p.text, "")
	out.cost += c
	err := g.ledger.Record(ctx, ledger.TaskEmbedding, core.CacheEntry{
		Key:    p.key,
		Kind:   core.CacheEmbedding,
		Model:  g.cfg.Model,
		Vector: vec,
		Cost:   c,
	})
	if err != nil {
		out.fatal = errors.Join(out.fatal, err)
		return
	}
	out.vectors[p.key] = vec
}

func chunk(items []pendingText, size int) [][]pendingText {
	var out [][]pendingText
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}
