package llm

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient implements Generator on the Anthropic Messages API.
// Anthropic has no embedding endpoint, so it cannot serve as an Embedder.
type AnthropicClient struct {
	client    anthropic.Client
	maxTokens int64
}

// NewAnthropicClient builds a client from cfg, falling back to ANTHROPIC_API_KEY.
func NewAnthropicClient(cfg ProviderConfig) (*AnthropicClient, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: set ANTHROPIC_API_KEY or llm.anthropic.api_key", ErrMissingAPIKey)
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicClient{
		client:    anthropic.NewClient(opts...),
		maxTokens: maxTokens,
	}, nil
}

// Generate sends prompt as a single user message.
func (c *AnthropicClient) Generate(ctx context.Context, prompt, model string) (string, error) {
	if prompt == "" {
		return "", ErrEmptyInput
	}

	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API error: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		sb.WriteString(block.Text)
	}
	if sb.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return sb.String(), nil
}
