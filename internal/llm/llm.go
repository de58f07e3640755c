// Package llm adapts the external model providers the pipeline depends on.
// Everything downstream talks to the small Embedder and Generator interfaces;
// provider clients, retries and tracing are layered on here.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyInput      = errors.New("no input provided")
	ErrMissingAPIKey   = errors.New("missing API key")
	ErrEmptyResponse   = errors.New("empty response from model")
	ErrUnknownProvider = errors.New("unknown provider")
)

// Embedder turns texts into vectors. The returned slice is index-aligned
// with texts.
type Embedder interface {
	Embed(ctx context.Context, texts []string, model string) ([][]float64, error)
}

// Generator produces text for a prompt with the named model.
type Generator interface {
	Generate(ctx context.Context, prompt, model string) (string, error)
}

// EmbedderFunc adapts a function to Embedder.
type EmbedderFunc func(ctx context.Context, texts []string, model string) ([][]float64, error)

func (f EmbedderFunc) Embed(ctx context.Context, texts []string, model string) ([][]float64, error) {
	return f(ctx, texts, model)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt, model string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt, model string) (string, error) {
	return f(ctx, prompt, model)
}

// ProviderConfig carries what is needed to construct a provider client.
type ProviderConfig struct {
	Provider    string // gemini, openai, anthropic or fake
	APIKey      string
	BaseURL     string
	Dimensions  int
	MaxTokens   int
	Temperature float32
}

// NewEmbedder builds the embedding client for cfg.Provider.
func NewEmbedder(ctx context.Context, cfg ProviderConfig) (Embedder, error) {
	switch strings.ToLower(cfg.Provider) {
	case "gemini", "":
		return NewGeminiClient(ctx, cfg)
	case "openai":
		return NewOpenAIClient(cfg)
	case "fake":
		return NewFakeEmbedder(cfg.Dimensions), nil
	}
	return nil, fmt.Errorf("%w for embeddings: %s", ErrUnknownProvider, cfg.Provider)
}

// NewGenerator builds the text-generation client for cfg.Provider.
func NewGenerator(ctx context.Context, cfg ProviderConfig) (Generator, error) {
	switch strings.ToLower(cfg.Provider) {
	case "gemini", "":
		return NewGeminiClient(ctx, cfg)
	case "openai":
		return NewOpenAIClient(cfg)
	case "anthropic":
		return NewAnthropicClient(cfg)
	case "fake":
		return &ScriptedGenerator{}, nil
	}
	return nil, fmt.Errorf("%w for generation: %s", ErrUnknownProvider, cfg.Provider)
}

// CleanJSON strips markdown code fences models like to wrap JSON in.
func CleanJSON(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}
