// Package llm routes summary completions to a configured provider.
// Models are named "provider/model_name", e.g. "anthropic/claude-3-haiku-20240307".
package llm

import (
	"context"
	"fmt"
	"strings"
)

// Classroom summaries are short bullet lists; keep generation tight.
const (
	defaultMaxTokens   = 1024
	defaultTemperature = 0.2
)

type Message struct {
	Role    string
	Content string
}

type Client interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

type Option func(*clientOptions)

type clientOptions struct {
	baseURL     string
	maxTokens   int
	temperature float64
}

func WithBaseURL(url string) Option {
	return func(o *clientOptions) {
		o.baseURL = url
	}
}

func WithMaxTokens(n int) Option {
	return func(o *clientOptions) {
		o.maxTokens = n
	}
}

func WithTemperature(t float64) Option {
	return func(o *clientOptions) {
		o.temperature = t
	}
}

func ParseModel(model string) (provider, modelName string, err error) {
	parts := strings.SplitN(model, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid model format %q: expected provider/model_name", model)
	}
	return parts[0], parts[1], nil
}

func NewClient(provider, apiKey, model string, opts ...Option) (Client, error) {
	o := &clientOptions{
		maxTokens:   defaultMaxTokens,
		temperature: defaultTemperature,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.maxTokens <= 0 {
		o.maxTokens = defaultMaxTokens
	}

	switch provider {
	case "openai":
		return newOpenAIClient(apiKey, model, o)
	case "anthropic":
		return newAnthropicClient(apiKey, model, o)
	case "gemini":
		return newGeminiClient(apiKey, model, o)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q: supported providers are openai, anthropic, gemini", provider)
	}
}
