package llm

import (
	"context"
	"fmt"
	"os"

	"google.golang.org/genai"
)

const (
	// DefaultGeminiEmbeddingModel is the default model for generating embeddings
	DefaultGeminiEmbeddingModel = "gemini-embedding-001"
	// DefaultEmbeddingDimensions is the output dimension for embeddings (Matryoshka)
	DefaultEmbeddingDimensions = 768
)

// GeminiClient implements Embedder and Generator on the Gemini API.
type GeminiClient struct {
	gClient     *genai.Client
	dims        int32
	maxTokens   int32
	temperature float32
}

// NewGeminiClient creates a Gemini client.
// The API key comes from cfg, then GEMINI_API_KEY, GOOGLE_GEMINI_API_KEY or GOOGLE_AI_API_KEY.
func NewGeminiClient(ctx context.Context, cfg ProviderConfig) (*GeminiClient, error) {
	apiKey := cfg.APIKey
	for _, env := range []string{"GEMINI_API_KEY", "GOOGLE_GEMINI_API_KEY", "GOOGLE_AI_API_KEY"} {
		if apiKey != "" {
			break
		}
		apiKey = os.Getenv(env)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: set GEMINI_API_KEY or llm.gemini.api_key", ErrMissingAPIKey)
	}

	gClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	dims := cfg.Dimensions
	if dims <= 0 {
		dims = DefaultEmbeddingDimensions
	}
	return &GeminiClient{
		gClient:     gClient,
		dims:        int32(dims),
		maxTokens:   int32(cfg.MaxTokens),
		temperature: cfg.Temperature,
	}, nil
}

// Embed sends all texts in one request, one content per text.
func (c *GeminiClient) Embed(ctx context.Context, texts []string, model string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	if model == "" {
		model = DefaultGeminiEmbeddingModel
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = &genai.Content{
			Parts: []*genai.Part{{Text: text}},
			Role:  "user",
		}
	}

	dims := c.dims
	config := &genai.EmbedContentConfig{
		OutputDimensionality: &dims,
	}

	resp, err := c.gClient.Models.EmbedContent(ctx, model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embedding: %w", err)
	}
	if resp == nil || len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings", ErrEmptyResponse, len(texts))
	}

	out := make([][]float64, len(texts))
	for i, emb := range resp.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, fmt.Errorf("%w: embedding %d has no values", ErrEmptyResponse, i)
		}
		vec := make([]float64, len(emb.Values))
		for j, v := range emb.Values {
			vec[j] = float64(v)
		}
		out[i] = vec
	}
	return out, nil
}

// Generate runs a single-turn completion.
func (c *GeminiClient) Generate(ctx context.Context, prompt, model string) (string, error) {
	if prompt == "" {
		return "", ErrEmptyInput
	}

	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: prompt}},
		Role:  "user",
	}}

	var config *genai.GenerateContentConfig
	if c.maxTokens > 0 || c.temperature > 0 {
		config = &genai.GenerateContentConfig{}
		if c.maxTokens > 0 {
			config.MaxOutputTokens = c.maxTokens
		}
		if c.temperature > 0 {
			temp := c.temperature
			config.Temperature = &temp
		}
	}

	resp, err := c.gClient.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return "", fmt.Errorf("failed to generate text: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
