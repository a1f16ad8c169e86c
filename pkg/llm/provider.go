// Package llm provides the language-model abstraction used by the memory
// engine: chat completions for summarization and embeddings for long-term
// memory.
//
// Example usage:
//
//	provider, err := openai.NewProvider(
//	    os.Getenv("OPENAI_API_KEY"),
//	    openai.WithEmbeddingModel("text-embedding-ada-002"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	pooled := llm.NewPool(provider, 8)
//	out, err := pooled.ChatComplete(ctx, "gpt-3.5-turbo", prompt, 512)
package llm

import (
	"context"
)

// Completion is the result of a chat completion.
type Completion struct {
	// Text is the first choice's message content.
	Text string

	// TokensUsed is the total token usage reported by the backend
	// (prompt plus completion).
	TokensUsed int
}

// Provider defines the interface for LLM integrations.
//
// A backend is selected once at startup; the engine never switches
// providers at runtime. Implementations must be safe for concurrent use.
type Provider interface {
	// ChatComplete sends prompt as a single user message and returns the
	// first choice. maxTokens bounds the completion length.
	ChatComplete(ctx context.Context, model, prompt string, maxTokens int) (Completion, error)

	// EmbedBatch returns one embedding per input text, in input order.
	// Backends without a batch endpoint issue one request per text.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Name identifies the backend ("openai", "azure", "ollama", "gemini").
	Name() string
}

// Float64To32 converts an embedding returned as float64 values.
func Float64To32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}
