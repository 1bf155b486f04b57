package unifiedllm

import (
	"context"
	"strings"
)

// GenerateParams are the sampling parameters for a single generation.
// Zero MaxTokens leaves the provider default in place.
type GenerateParams struct {
	Temperature float64
	TopP        float64
	MaxTokens   int
}

// DefaultGenerateParams returns deterministic sampling with a 1024 token cap.
func DefaultGenerateParams() GenerateParams {
	return GenerateParams{Temperature: 0, TopP: 1, MaxTokens: 1024}
}

// TextGenerator turns a transcript into the model's next reply text. It pins
// the model and provider and retries transient failures.
type TextGenerator struct {
	client   *Client
	model    string
	provider string
	retry    RetryPolicy
}

// GeneratorOption configures a TextGenerator.
type GeneratorOption func(*TextGenerator)

// WithGeneratorProvider pins the provider used for every call.
func WithGeneratorProvider(name string) GeneratorOption {
	return func(g *TextGenerator) { g.provider = name }
}

// WithRetryPolicy replaces the default retry policy.
func WithRetryPolicy(p RetryPolicy) GeneratorOption {
	return func(g *TextGenerator) { g.retry = p }
}

// NewTextGenerator creates a generator bound to a model.
func NewTextGenerator(client *Client, model string, opts ...GeneratorOption) *TextGenerator {
	g := &TextGenerator{
		client: client,
		model:  model,
		retry:  DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Model returns the model identifier requests are sent with.
func (g *TextGenerator) Model() string { return g.model }

// Generate sends messages to the model and returns the trimmed reply text.
// Errors are returned after the retry policy is exhausted.
func (g *TextGenerator) Generate(ctx context.Context, messages []Message, params GenerateParams) (string, error) {
	if g.client == nil {
		return "", &ConfigurationError{SDKError: SDKError{Message: "text generator has no client"}}
	}

	req := Request{
		Model:       g.model,
		Provider:    g.provider,
		Messages:    messages,
		Temperature: &params.Temperature,
		TopP:        &params.TopP,
	}
	if params.MaxTokens > 0 {
		req.MaxTokens = &params.MaxTokens
	}

	resp, err := Retry(ctx, g.retry, func(ctx context.Context) (*Response, error) {
		return g.client.Complete(ctx, req)
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text()), nil
}
