// Package compress reduces a group of related documents to one bounded
// payload: the medoid's most central sentences plus a few salient sentences
// from the other members.
package compress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"driftwatch/internal/core"
	"driftwatch/internal/cost"
	"driftwatch/internal/ledger"
	"driftwatch/internal/logger"
	"driftwatch/internal/vecmath"
)

// ErrNoMembers is returned when Compress is called with nothing to compress.
var ErrNoMembers = errors.New("no members to compress")

// Config bounds the payload.
type Config struct {
	TokenBudget        int     // Hard upper bound on the payload token estimate
	TopSentences       int     // Sentences kept from the medoid
	ExtraSentences     int     // Sentences borrowed from other members
	MinSentenceRunes   int     // Shorter fragments are ignored
	DuplicateThreshold float64 // Candidate sentences this similar to a kept one are skipped
	KeyTerms           int
}

// DefaultConfig returns the defaults used for weekly clusters.
func DefaultConfig() Config {
	return Config{
		TokenBudget:        600,
		TopSentences:       6,
		ExtraSentences:     3,
		MinSentenceRunes:   20,
		DuplicateThreshold: 0.8,
		KeyTerms:           8,
	}
}

// Compressor builds CompressedPayloads and caches them in the ledger.
type Compressor struct {
	ledger *ledger.Ledger
	cfg    Config
	rank   RankFunc
	log    *slog.Logger
}

// New creates a compressor. A nil ledger disables caching.
func New(l *ledger.Ledger, cfg Config) *Compressor {
	def := DefaultConfig()
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = def.TokenBudget
	}
	if cfg.TopSentences <= 0 {
		cfg.TopSentences = def.TopSentences
	}
	if cfg.MinSentenceRunes <= 0 {
		cfg.MinSentenceRunes = def.MinSentenceRunes
	}
	if cfg.DuplicateThreshold <= 0 {
		cfg.DuplicateThreshold = def.DuplicateThreshold
	}
	return &Compressor{
		ledger: l,
		cfg:    cfg,
		rank:   TextRank,
		log:    logger.Get(),
	}
}

// WithRanker replaces TextRank, used by tests to force failures.
func (c *Compressor) WithRanker(rank RankFunc) *Compressor {
	c.rank = rank
	return c
}

// Uncached returns a copy that neither reads nor writes the ledger.
func (c *Compressor) Uncached() *Compressor {
	cp := *c
	cp.ledger = nil
	return &cp
}

// Budget returns the configured token budget.
func (c *Compressor) Budget() int { return c.cfg.TokenBudget }

// Key returns the ledger key a payload for this member set is stored under.
func (c *Compressor) Key(memberIDs []string) string {
	return ledger.Key(ledger.TaskCompress, fmt.Sprintf("textrank-%d", c.cfg.TokenBudget), core.MemberSetFingerprint(memberIDs))
}

// Compress returns the payload for docs. When ranking fails the returned
// payload is the degraded medoid-only text and the error is a
// CompressionFailed PipelineError; the payload is usable either way.
func (c *Compressor) Compress(ctx context.Context, docs []core.Document) (core.CompressedPayload, error) {
	if len(docs) == 0 {
		return core.CompressedPayload{}, ErrNoMembers
	}
	if err := ctx.Err(); err != nil {
		return core.CompressedPayload{}, err
	}

	sorted := append([]core.Document(nil), docs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	ids := make([]string, len(sorted))
	for i, d := range sorted {
		ids[i] = d.ID
	}
	key := c.Key(ids)

	if c.ledger != nil {
		entry, ok, err := c.ledger.Lookup(ctx, key)
		if err != nil {
			return core.CompressedPayload{}, err
		}
		if ok {
			var cached core.CompressedPayload
			if err := json.Unmarshal([]byte(entry.Text), &cached); err == nil {
				return cached, nil
			}
			c.log.Warn("discarding unreadable compressed payload", "key", key)
		}
	}

	medoid := Medoid(sorted)
	payload, err := c.summarize(sorted, medoid)
	if err != nil {
		c.log.Warn("compression degraded to medoid", "medoid", sorted[medoid].ID, "error", err)
		return c.degraded(sorted, medoid), core.NewError(core.KindCompressionFailed, "compress", sorted[medoid].ID, err)
	}

	if c.ledger != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return core.CompressedPayload{}, fmt.Errorf("encode payload: %w", err)
		}
		if err := c.ledger.Put(ctx, core.CacheEntry{Key: key, Kind: core.CacheCompressed, Model: "textrank", Text: string(raw)}); err != nil {
			return core.CompressedPayload{}, err
		}
	}
	return payload, nil
}

// Medoid returns the index of the document with the smallest total cosine
// distance to the others. The first index wins ties.
func Medoid(docs []core.Document) int {
	vectors := make([][]float64, len(docs))
	for i, d := range docs {
		vectors[i] = d.Vector
	}
	dist := vecmath.DistanceMatrix(vectors)
	best, bestTotal := 0, 0.0
	for i := range dist {
		var total float64
		for _, d := range dist[i] {
			total += d
		}
		if i == 0 || total < bestTotal {
			best, bestTotal = i, total
		}
	}
	return best
}

func (c *Compressor) summarize(docs []core.Document, medoid int) (core.CompressedPayload, error) {
	sentences := SplitSentences(docs[medoid].Text, c.cfg.MinSentenceRunes)
	if len(sentences) == 0 {
		sentences = []string{strings.TrimSpace(docs[medoid].Text)}
	}
	scores, err := c.rank(sentences)
	if err != nil {
		return core.CompressedPayload{}, err
	}
	if len(scores) != len(sentences) {
		return core.CompressedPayload{}, fmt.Errorf("ranker returned %d scores for %d sentences", len(scores), len(sentences))
	}

	top := topIndices(scores, c.cfg.TopSentences)
	kept := make([]string, len(top))
	for i, idx := range top {
		kept[i] = sentences[idx]
	}
	extras := c.extraSentences(docs, medoid, kept)

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}
	terms := keyTerms(texts, c.cfg.KeyTerms)

	text := c.fit(kept, scores, top, extras, terms, uniqueSources(docs))
	return c.finish(docs, medoid, text, terms, false), nil
}

// extraSentences picks salient sentences from non-medoid members, trading
// relevance to the kept sentences against redundancy with what is already
// chosen.
func (c *Compressor) extraSentences(docs []core.Document, medoid int, kept []string) []string {
	if c.cfg.ExtraSentences <= 0 || len(docs) < 2 {
		return nil
	}
	var candidates []string
	for i, d := range docs {
		if i == medoid {
			continue
		}
		candidates = append(candidates, SplitSentences(d.Text, c.cfg.MinSentenceRunes)...)
	}
	if len(candidates) == 0 {
		return nil
	}

	corpus := make([][]string, 0, len(kept)+len(candidates))
	for _, s := range kept {
		corpus = append(corpus, Tokenize(s))
	}
	for _, s := range candidates {
		corpus = append(corpus, Tokenize(s))
	}
	vz := newVectorizer(corpus)
	reference := make(termVector)
	chosen := make([]termVector, 0, len(kept)+c.cfg.ExtraSentences)
	for i := range kept {
		v := vz.vector(corpus[i])
		for t, w := range v {
			reference[t] += w
		}
		chosen = append(chosen, v)
	}
	candVectors := make([]termVector, len(candidates))
	for i := range candidates {
		candVectors[i] = vz.vector(corpus[len(kept)+i])
	}

	const lambda = 0.7
	used := make([]bool, len(candidates))
	var out []string
	for len(out) < c.cfg.ExtraSentences {
		best, bestScore := -1, 0.0
		for i, v := range candVectors {
			if used[i] {
				continue
			}
			var redundancy float64
			for _, k := range chosen {
				if s := sparseCosine(v, k); s > redundancy {
					redundancy = s
				}
			}
			if redundancy >= c.cfg.DuplicateThreshold {
				used[i] = true
				continue
			}
			score := lambda*sparseCosine(v, reference) - (1-lambda)*redundancy
			if best < 0 || score > bestScore {
				best, bestScore = i, score
			}
		}
		if best < 0 {
			break
		}
		used[best] = true
		chosen = append(chosen, candVectors[best])
		out = append(out, candidates[best])
	}
	return out
}

// fit admits medoid sentences by rank, then extras, then terms and sources,
// skipping anything that would push the estimate over budget.
func (c *Compressor) fit(kept []string, scores []float64, top []int, extras, terms, sources []string) string {
	byRank := make([]int, len(top))
	for i := range byRank {
		byRank[i] = i
	}
	sort.SliceStable(byRank, func(a, b int) bool { return scores[top[byRank[a]]] > scores[top[byRank[b]]] })

	admitted := make([]bool, len(kept))
	var points, extraPoints []string
	var useTerms, useSources bool
	render := func() string { return renderPayload(points, extraPoints, terms, useTerms, sources, useSources) }
	fits := func() bool { return cost.EstimateTokenCount(render()) <= c.cfg.TokenBudget }

	collect := func() {
		points = points[:0]
		for i, s := range kept {
			if admitted[i] {
				points = append(points, s)
			}
		}
	}
	for _, i := range byRank {
		admitted[i] = true
		collect()
		if !fits() {
			admitted[i] = false
			collect()
		}
	}
	for _, s := range extras {
		extraPoints = append(extraPoints, s)
		if !fits() {
			extraPoints = extraPoints[:len(extraPoints)-1]
		}
	}
	useTerms = len(terms) > 0
	if useTerms && !fits() {
		useTerms = false
	}
	useSources = len(sources) > 0
	if useSources && !fits() {
		useSources = false
	}

	if len(points) == 0 && len(kept) > 0 {
		points = []string{kept[byRank[0]]}
	}
	return truncateToBudget(render(), c.cfg.TokenBudget)
}

func renderPayload(points, extras, terms []string, useTerms bool, sources []string, useSources bool) string {
	var b strings.Builder
	b.WriteString("Key points:\n")
	n := 0
	for _, s := range append(append([]string(nil), points...), extras...) {
		n++
		fmt.Fprintf(&b, "%d. %s\n", n, s)
	}
	if useTerms {
		fmt.Fprintf(&b, "\nImportant terms: %s\n", strings.Join(terms, ", "))
	}
	if useSources {
		fmt.Fprintf(&b, "\nSources (%d): %s\n", len(sources), strings.Join(sources, ", "))
	}
	return strings.TrimSpace(b.String())
}

func (c *Compressor) degraded(docs []core.Document, medoid int) core.CompressedPayload {
	text := truncateToBudget(strings.TrimSpace(docs[medoid].Text), c.cfg.TokenBudget)
	return c.finish(docs, medoid, text, nil, true)
}

func (c *Compressor) finish(docs []core.Document, medoid int, text string, terms []string, degraded bool) core.CompressedPayload {
	ids := make([]string, len(docs))
	var inputTokens int
	for i, d := range docs {
		ids[i] = d.ID
		inputTokens += cost.EstimateTokenCount(d.Text)
	}
	p := core.CompressedPayload{
		Text:          text,
		MemberIDs:     ids,
		MedoidID:      docs[medoid].ID,
		KeyTerms:      terms,
		TokenEstimate: cost.EstimateTokenCount(text),
		Degraded:      degraded,
	}
	if inputTokens > 0 {
		p.CompressionRatio = float64(p.TokenEstimate) / float64(inputTokens)
	}
	return p
}

// truncateToBudget cuts text on a rune boundary until its estimate fits.
func truncateToBudget(text string, budget int) string {
	if cost.EstimateTokenCount(text) <= budget {
		return text
	}
	maxRunes := int(float64(budget) * 3.5)
	runes := []rune(text)
	if maxRunes < len(runes) {
		runes = runes[:maxRunes]
	}
	for len(runes) > 0 && cost.EstimateTokenCount(string(runes)) > budget {
		runes = runes[:len(runes)-1]
	}
	return string(runes)
}

func uniqueSources(docs []core.Document) []string {
	seen := make(map[string]struct{}, len(docs))
	var out []string
	for _, d := range docs {
		if d.SourceID == "" {
			continue
		}
		if _, ok := seen[d.SourceID]; ok {
			continue
		}
		seen[d.SourceID] = struct{}{}
		out = append(out, d.SourceID)
	}
	sort.Strings(out)
	return out
}
