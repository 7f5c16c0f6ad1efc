package summarize

import (
	"context"
	"fmt"
	"strings"

	"devsession_mon/internal/config"
)

// Prompt is one request to a language model
type Prompt struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float32
}

// Backend is a pluggable language model
type Backend interface {
	// Complete returns the raw text of the model's reply
	Complete(ctx context.Context, p Prompt) (string, error)

	// Model identifies the model in stored results
	Model() string
}

// NewBackend builds the backend selected by cfg.
// It returns nil, without error, when no provider or credential is configured.
func NewBackend(cfg config.AIConfig) (Backend, error) {
	if !cfg.HasCredentials() {
		return nil, nil
	}
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return NewOpenAIBackend(cfg), nil
	case "anthropic":
		return NewAnthropicBackend(cfg), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q", cfg.Provider)
	}
}
