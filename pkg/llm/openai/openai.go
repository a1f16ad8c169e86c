// Package openai provides the OpenAI LLM backend built on the official
// openai-go client. Embeddings are requested in a single batch call.
//
// Example usage:
//
//	provider, err := openai.NewProvider(
//	    os.Getenv("OPENAI_API_KEY"),
//	    openai.WithBaseURL("http://localhost:8080/v1"),
//	)
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/entrhq/memoryd/pkg/llm"
	"github.com/entrhq/memoryd/pkg/types"
)

const (
	// DefaultBaseURL is the default OpenAI API base URL
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultEmbeddingModel produces 1536-dimension vectors.
	DefaultEmbeddingModel = "text-embedding-ada-002"
)

// Provider implements llm.Provider for OpenAI-compatible APIs.
type Provider struct {
	client         openai.Client
	baseURL        string
	embeddingModel string
	httpClient     *http.Client
	maxRetries     int
}

// ProviderOption is a function that configures a Provider.
type ProviderOption func(*Provider)

// WithBaseURL sets a custom base URL for OpenAI-compatible APIs.
func WithBaseURL(baseURL string) ProviderOption {
	return func(p *Provider) {
		p.baseURL = baseURL
	}
}

// WithEmbeddingModel sets the model used by EmbedBatch.
func WithEmbeddingModel(model string) ProviderOption {
	return func(p *Provider) {
		p.embeddingModel = model
	}
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(c *http.Client) ProviderOption {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// WithMaxRetries sets how many times the client retries a failed request.
func WithMaxRetries(n int) ProviderOption {
	return func(p *Provider) {
		p.maxRetries = n
	}
}

// NewProvider creates a new OpenAI provider with the given API key.
//
// If apiKey is empty, it will attempt to read from the OPENAI_API_KEY environment variable.
// If baseURL is not provided via WithBaseURL option, it will check OPENAI_BASE_URL environment variable.
func NewProvider(apiKey string, opts ...ProviderOption) (*Provider, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required (provide via parameter or OPENAI_API_KEY environment variable)")
	}

	p := &Provider{
		embeddingModel: DefaultEmbeddingModel,
		maxRetries:     2,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.baseURL == "" {
		p.baseURL = os.Getenv("OPENAI_BASE_URL")
	}
	if p.baseURL == "" {
		p.baseURL = DefaultBaseURL
	}

	clientOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(p.baseURL),
		option.WithMaxRetries(p.maxRetries),
	}
	if p.httpClient != nil {
		clientOpts = append(clientOpts, option.WithHTTPClient(p.httpClient))
	}
	p.client = openai.NewClient(clientOpts...)
	return p, nil
}

// Name returns "openai".
func (p *Provider) Name() string { return "openai" }

// BaseURL returns the base URL being used for API requests.
func (p *Provider) BaseURL() string { return p.baseURL }

// ChatComplete sends prompt as a single user message.
func (p *Provider) ChatComplete(ctx context.Context, model, prompt string, maxTokens int) (llm.Completion, error) {
	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages:  []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
		Model:     openai.ChatModel(model),
		MaxTokens: openai.Int(int64(maxTokens)),
	})
	if err != nil {
		return llm.Completion{}, types.ProviderError("openai chat", err)
	}
	if len(resp.Choices) == 0 {
		return llm.Completion{}, types.ProviderError("openai chat", errors.New("no choices returned"))
	}
	return llm.Completion{
		Text:       resp.Choices[0].Message.Content,
		TokensUsed: int(resp.Usage.TotalTokens),
	}, nil
}

// EmbedBatch embeds all texts in one request.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(p.embeddingModel),
	})
	if err != nil {
		return nil, types.ProviderError("openai embeddings", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, types.ProviderError("openai embeddings",
			fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data)))
	}

	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	out := make([][]float32, len(data))
	for i, d := range data {
		out[i] = llm.Float64To32(d.Embedding)
	}
	return out, nil
}
