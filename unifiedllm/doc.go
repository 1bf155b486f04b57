// Package unifiedllm provides a small provider-agnostic chat completion
// client. OpenAI is reached through github.com/openai/openai-go; other
// providers go through github.com/teilomillet/gollm.
//
// The package is layered:
//
//   - ProviderAdapter and the shared Message, Request and Response types
//   - Retry and the error hierarchy used to classify provider failures
//   - Client, which routes requests to adapters through middleware
//   - TextGenerator, which turns a transcript into the next reply text
//
// Typical use:
//
//	adapter := unifiedllm.NewOpenAIAdapter(os.Getenv("OPENAI_API_KEY"), "", "gpt-3.5-turbo")
//	client := unifiedllm.NewClient(
//	    unifiedllm.WithProvider("openai", adapter),
//	    unifiedllm.WithMiddleware(unifiedllm.LoggingMiddleware(logger)),
//	)
//	gen := unifiedllm.NewTextGenerator(client, "gpt-3.5-turbo")
//	reply, err := gen.Generate(ctx, msgs, unifiedllm.DefaultGenerateParams())
package unifiedllm
