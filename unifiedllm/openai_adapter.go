package unifiedllm

import (
	"context"
	"errors"
	"strconv"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIAdapter talks to the OpenAI chat completions API (or any server that
// speaks it) and implements ProviderAdapter.
type OpenAIAdapter struct {
	client openai.Client
	model  string
}

// NewOpenAIAdapter builds an adapter. An empty baseURL uses the public API.
// Extra request options are appended after the key and base URL.
func NewOpenAIAdapter(apiKey, baseURL, model string, opts ...option.RequestOption) *OpenAIAdapter {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	reqOpts = append(reqOpts, opts...)

	if model == "" {
		model = "gpt-3.5-turbo"
	}
	return &OpenAIAdapter{
		client: openai.NewClient(reqOpts...),
		model:  model,
	}
}

// Name returns the provider identifier.
func (a *OpenAIAdapter) Name() string { return "openai" }

// Complete sends one chat completion request.
func (a *OpenAIAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = a.model
	}

	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: convertMessages(req.Messages),
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = openai.Float(*req.TopP)
	}
	if req.MaxTokens != nil {
		params.MaxTokens = openai.Int(int64(*req.MaxTokens))
	}

	resp, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, translateOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &ProviderError{
			SDKError: SDKError{Message: "response contained no choices"},
			Provider: "openai",
		}
	}

	choice := resp.Choices[0]
	return &Response{
		ID:       resp.ID,
		Model:    resp.Model,
		Provider: "openai",
		Message:  AssistantMessage(choice.Message.Content),
		FinishReason: FinishReason{
			Reason: normalizeFinishReason(string(choice.FinishReason)),
			Raw:    string(choice.FinishReason),
		},
		Usage: Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:  int(resp.Usage.TotalTokens),
		},
	}, nil
}

func convertMessages(msgs []Message) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case RoleSystem:
			result = append(result, openai.SystemMessage(msg.TextContent()))
		case RoleUser:
			result = append(result, openai.UserMessage(msg.TextContent()))
		case RoleAssistant:
			result = append(result, openai.AssistantMessage(msg.TextContent()))
		}
	}
	return result
}

func normalizeFinishReason(raw string) string {
	switch raw {
	case "stop", "length", "content_filter":
		return raw
	default:
		return "other"
	}
}

func translateOpenAIError(err error) error {
	if errors.Is(err, context.Canceled) {
		return &AbortError{SDKError: SDKError{Message: "request cancelled", Cause: err}}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &RequestTimeoutError{SDKError: SDKError{Message: "request timed out", Cause: err}}
	}

	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return &NetworkError{SDKError: SDKError{Message: "openai request failed", Cause: err}}
	}

	var retryAfter *float64
	if apiErr.Response != nil {
		if v, perr := strconv.ParseFloat(apiErr.Response.Header.Get("Retry-After"), 64); perr == nil {
			retryAfter = &v
		}
	}
	msg := apiErr.Message
	if msg == "" {
		msg = err.Error()
	}
	return ErrorFromStatusCode(apiErr.StatusCode, msg, "openai", apiErr.Code, err, retryAfter)
}
