package llm

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"
)

// FakeEmbedder is a deterministic offline embedder. It hashes word
// unigrams into a fixed number of buckets, so identical texts get identical
// vectors and texts sharing vocabulary land close together.
type FakeEmbedder struct {
	Dimensions int
	// Fail makes every call for a text containing the substring fail.
	Fail string

	mu       sync.Mutex
	requests int
	texts    int
}

// NewFakeEmbedder returns a FakeEmbedder with the given dimension (64 if unset).
func NewFakeEmbedder(dims int) *FakeEmbedder {
	if dims <= 0 {
		dims = 64
	}
	return &FakeEmbedder{Dimensions: dims}
}

var errFakeUnavailable = errors.New("fake embedder: service unavailable")

func (f *FakeEmbedder) Embed(ctx context.Context, texts []string, _ string) ([][]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	f.mu.Lock()
	f.requests++
	f.texts += len(texts)
	f.mu.Unlock()

	out := make([][]float64, len(texts))
	for i, text := range texts {
		if f.Fail != "" && strings.Contains(text, f.Fail) {
			return nil, errFakeUnavailable
		}
		out[i] = HashVector(text, f.dims())
	}
	return out, nil
}

func (f *FakeEmbedder) dims() int {
	if f.Dimensions <= 0 {
		return 64
	}
	return f.Dimensions
}

// Requests is the number of Embed calls made.
func (f *FakeEmbedder) Requests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

// Texts is the number of texts embedded across all calls.
func (f *FakeEmbedder) Texts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.texts
}

// HashVector builds a unit bag-of-words vector for text.
func HashVector(text string, dims int) []float64 {
	vec := make([]float64, dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[int(h.Sum32()%uint32(dims))]++
	}
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}

// ScriptedGenerator answers prompts from a list of rules and records every
// call. With no matching rule it echoes a short deterministic summary.
type ScriptedGenerator struct {
	Rules []ScriptRule
	// Err, if set, is returned for every call.
	Err error

	mu    sync.Mutex
	calls []GeneratorCall
}

// ScriptRule answers prompts containing Contains.
type ScriptRule struct {
	Contains string
	Response string
	Err      error
}

// GeneratorCall is one recorded Generate invocation.
type GeneratorCall struct {
	Prompt string
	Model  string
}

func (s *ScriptedGenerator) Generate(ctx context.Context, prompt, model string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	s.calls = append(s.calls, GeneratorCall{Prompt: prompt, Model: model})
	s.mu.Unlock()

	if s.Err != nil {
		return "", s.Err
	}
	for _, r := range s.Rules {
		if strings.Contains(prompt, r.Contains) {
			if r.Err != nil {
				return "", r.Err
			}
			return r.Response, nil
		}
	}
	line := strings.TrimSpace(prompt)
	if i := strings.LastIndex(line, "\n"); i >= 0 {
		line = strings.TrimSpace(line[i+1:])
	}
	if len(line) > 80 {
		line = line[:80]
	}
	return "Summary: " + line, nil
}

// Calls returns a copy of the recorded calls.
func (s *ScriptedGenerator) Calls() []GeneratorCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]GeneratorCall(nil), s.calls...)
}

// CallCount is len(Calls()).
func (s *ScriptedGenerator) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}
