package llm

import (
	"context"
	"fmt"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultOpenAIEmbeddingModel is used when no model is named.
const DefaultOpenAIEmbeddingModel = "text-embedding-3-small"

// OpenAIClient implements Embedder and Generator on the OpenAI API.
type OpenAIClient struct {
	client      openai.Client
	dimension   int
	maxTokens   int
	temperature float32
}

// NewOpenAIClient builds a client from cfg, falling back to OPENAI_API_KEY.
func NewOpenAIClient(cfg ProviderConfig) (*OpenAIClient, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: set OPENAI_API_KEY or llm.openai.api_key", ErrMissingAPIKey)
	}

	// RetryingEmbedder and RetryingGenerator own retries.
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIClient{
		client:      openai.NewClient(opts...),
		dimension:   cfg.Dimensions,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}, nil
}

// Embed sends all texts in one request.
func (c *OpenAIClient) Embed(ctx context.Context, texts []string, model string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	if model == "" {
		model = DefaultOpenAIEmbeddingModel
	}

	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		Model:          model,
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	}
	if c.dimension > 0 {
		params.Dimensions = openai.Int(int64(c.dimension))
	}

	resp, err := c.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrEmptyResponse, len(texts), len(resp.Data))
	}

	out := make([][]float64, len(texts))
	for _, data := range resp.Data {
		idx := int(data.Index)
		if idx < 0 || idx >= len(out) {
			return nil, fmt.Errorf("openai embeddings: index %d out of range", idx)
		}
		out[idx] = append([]float64(nil), data.Embedding...)
	}
	return out, nil
}

// Generate runs a single-turn chat completion.
func (c *OpenAIClient) Generate(ctx context.Context, prompt, model string) (string, error) {
	if prompt == "" {
		return "", ErrEmptyInput
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	}
	if c.temperature > 0 {
		params.Temperature = openai.Float(float64(c.temperature))
	}
	if c.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(c.maxTokens))
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai API error: %w", err)
	}
	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return "", ErrEmptyResponse
	}
	return completion.Choices[0].Message.Content, nil
}
