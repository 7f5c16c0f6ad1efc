package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"devsession_mon/internal/config"
)

const anthropicModel = "claude-3-5-haiku-latest"

// AnthropicBackend calls the Messages API.
// Retries and timeouts are owned by the Summarizer, so the client's own retries are off.
type AnthropicBackend struct {
	client anthropic.Client
	model  string
}

// NewAnthropicBackend creates a backend from the AI configuration.
// BaseURL, when set, replaces the API host.
func NewAnthropicBackend(cfg config.AIConfig) *AnthropicBackend {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" || strings.HasPrefix(model, "gpt-") {
		model = anthropicModel
	}
	return &AnthropicBackend{
		client: anthropic.NewClient(opts...),
		model:  model,
	}
}

// Model returns the configured model name
func (b *AnthropicBackend) Model() string {
	return b.model
}

// Complete sends a single user turn and returns the first text block
func (b *AnthropicBackend) Complete(ctx context.Context, p Prompt) (string, error) {
	maxTokens := p.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(b.model),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(float64(p.Temperature)),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(p.User)),
		},
	}
	if p.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: p.System}}
	}

	msg, err := b.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("anthropic API error (%d): %w", apiErr.StatusCode, err)
		}
		return "", fmt.Errorf("request failed: %w", err)
	}
	for _, block := range msg.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", errors.New("empty response content")
}
