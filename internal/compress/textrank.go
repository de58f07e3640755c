package compress

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"gonum.org/v1/gonum/graph/network"
	"gonum.org/v1/gonum/graph/simple"
)

// RankFunc scores sentences by centrality. The returned slice is parallel
// to the input.
type RankFunc func(sentences []string) ([]float64, error)

var sentenceEnd = regexp.MustCompile(`[.!?]+\s+`)

// SplitSentences breaks text on terminal punctuation and drops fragments
// shorter than minRunes.
func SplitSentences(text string, minRunes int) []string {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return nil
	}
	var out []string
	last := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(text, -1) {
		out = appendSentence(out, text[last:loc[1]], minRunes)
		last = loc[1]
	}
	out = appendSentence(out, text[last:], minRunes)
	return out
}

func appendSentence(out []string, s string, minRunes int) []string {
	s = strings.TrimSpace(s)
	if len([]rune(s)) < minRunes {
		return out
	}
	return append(out, s)
}

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {}, "you": {}, "all": {},
	"any": {}, "can": {}, "had": {}, "her": {}, "was": {}, "one": {}, "our": {}, "out": {},
	"has": {}, "have": {}, "his": {}, "how": {}, "its": {}, "may": {}, "new": {}, "now": {},
	"she": {}, "that": {}, "this": {}, "with": {}, "from": {}, "they": {}, "will": {},
	"would": {}, "there": {}, "their": {}, "what": {}, "about": {}, "which": {}, "when": {},
	"were": {}, "been": {}, "said": {}, "also": {}, "into": {}, "than": {}, "them": {},
	"then": {}, "some": {}, "could": {}, "other": {}, "more": {}, "after": {}, "over": {},
	"such": {}, "only": {}, "most": {}, "where": {}, "while": {}, "these": {}, "those": {},
	"being": {}, "because": {}, "should": {}, "does": {}, "did": {}, "who": {}, "why": {},
}

// Tokenize lowercases text and keeps words of three or more letters that
// are not stopwords.
func Tokenize(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := words[:0]
	for _, w := range words {
		if len([]rune(w)) < 3 {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		out = append(out, w)
	}
	return out
}

// termVector is a sparse tf-idf vector.
type termVector map[string]float64

// vectorizer holds inverse document frequencies over a fixed corpus.
type vectorizer struct {
	idf map[string]float64
}

func newVectorizer(corpus [][]string) *vectorizer {
	df := make(map[string]int)
	for _, tokens := range corpus {
		seen := make(map[string]struct{}, len(tokens))
		for _, t := range tokens {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			df[t]++
		}
	}
	n := float64(len(corpus))
	idf := make(map[string]float64, len(df))
	for t, d := range df {
		idf[t] = math.Log(1+n/float64(d)) + 1
	}
	return &vectorizer{idf: idf}
}

func (v *vectorizer) vector(tokens []string) termVector {
	tv := make(termVector, len(tokens))
	for _, t := range tokens {
		tv[t]++
	}
	for t, tf := range tv {
		tv[t] = tf * v.idf[t]
	}
	return tv
}

func sparseCosine(a, b termVector) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(b) < len(a) {
		a, b = b, a
	}
	var dot, na, nb float64
	for t, x := range a {
		dot += x * b[t]
		na += x * x
	}
	for _, y := range b {
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / math.Sqrt(na*nb)
}

// TextRank scores sentences with weighted PageRank over their tf-idf
// similarity graph.
func TextRank(sentences []string) (scores []float64, err error) {
	if len(sentences) == 0 {
		return nil, nil
	}
	if len(sentences) == 1 {
		return []float64{1}, nil
	}
	defer func() {
		if r := recover(); r != nil {
			scores, err = nil, fmt.Errorf("textrank: %v", r)
		}
	}()

	tokens := make([][]string, len(sentences))
	for i, s := range sentences {
		tokens[i] = Tokenize(s)
	}
	vz := newVectorizer(tokens)
	vectors := make([]termVector, len(sentences))
	for i := range tokens {
		vectors[i] = vz.vector(tokens[i])
	}

	g := simple.NewWeightedDirectedGraph(0, 0)
	for i := range sentences {
		g.AddNode(simple.Node(i))
	}
	for i := range sentences {
		for j := range sentences {
			if i == j {
				continue
			}
			w := sparseCosine(vectors[i], vectors[j])
			if w <= 0 {
				continue
			}
			g.SetWeightedEdge(g.NewWeightedEdge(simple.Node(i), simple.Node(j), w))
		}
	}

	ranks := network.PageRank(g, 0.85, 1e-6)
	scores = make([]float64, len(sentences))
	for i := range sentences {
		scores[i] = ranks[int64(i)]
	}
	return scores, nil
}

// topIndices returns the indices of the k highest scores in ascending index
// order. Ties keep the earlier sentence.
func topIndices(scores []float64, k int) []int {
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return scores[idx[a]] > scores[idx[b]] })
	if k < len(idx) {
		idx = idx[:k]
	}
	sort.Ints(idx)
	return idx
}

// keyTerms ranks terms across documents by summed tf-idf.
func keyTerms(texts []string, k int) []string {
	if k <= 0 {
		return nil
	}
	corpus := make([][]string, len(texts))
	for i, t := range texts {
		corpus[i] = Tokenize(t)
	}
	vz := newVectorizer(corpus)
	score := make(map[string]float64)
	for _, tokens := range corpus {
		for t, w := range vz.vector(tokens) {
			score[t] += w
		}
	}
	terms := make([]string, 0, len(score))
	for t := range score {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool {
		if score[terms[i]] != score[terms[j]] {
			return score[terms[i]] > score[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > k {
		terms = terms[:k]
	}
	return terms
}
