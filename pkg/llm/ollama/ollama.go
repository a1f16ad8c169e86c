// Package ollama provides a local-model backend over the Ollama API.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/ollama/ollama/api"
	"golang.org/x/sync/errgroup"

	"github.com/entrhq/memoryd/pkg/llm"
	"github.com/entrhq/memoryd/pkg/types"
)

const (
	// DefaultHost is used when neither the config nor OLLAMA_HOST set one.
	DefaultHost = "http://localhost:11434"

	// DefaultEmbeddingModel is the embedding model pulled by default.
	DefaultEmbeddingModel = "nomic-embed-text"
)

// Provider implements llm.Provider on Ollama.
type Provider struct {
	client         *api.Client
	embeddingModel string
}

// NewProvider connects to host (falling back to OLLAMA_HOST, then DefaultHost).
func NewProvider(host, embeddingModel string, httpClient *http.Client) (*Provider, error) {
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	if host == "" {
		host = DefaultHost
	}
	uri, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("ollama: invalid host %q: %w", host, err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if embeddingModel == "" {
		embeddingModel = DefaultEmbeddingModel
	}
	return &Provider{
		client:         api.NewClient(uri, httpClient),
		embeddingModel: embeddingModel,
	}, nil
}

// Name returns "ollama".
func (p *Provider) Name() string { return "ollama" }

// ChatComplete runs a non-streaming chat request.
func (p *Provider) ChatComplete(ctx context.Context, model, prompt string, maxTokens int) (llm.Completion, error) {
	req := &api.ChatRequest{
		Model:    model,
		Messages: []api.Message{{Role: "user", Content: prompt}},
		Stream:   new(bool),
		Options:  map[string]any{"num_predict": maxTokens},
	}

	var (
		text   string
		tokens int
	)
	err := p.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		text += resp.Message.Content
		if resp.Done {
			tokens = resp.EvalCount + resp.PromptEvalCount
		}
		return nil
	})
	if err != nil {
		return llm.Completion{}, types.ProviderError("ollama chat", err)
	}
	return llm.Completion{Text: text, TokensUsed: tokens}, nil
}

// EmbedBatch embeds each text with its own request, concurrently.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	for i, text := range texts {
		g.Go(func() error {
			resp, err := p.client.Embeddings(gctx, &api.EmbeddingRequest{
				Model:  p.embeddingModel,
				Prompt: text,
			})
			if err != nil {
				return err
			}
			out[i] = llm.Float64To32(resp.Embedding)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, types.ProviderError("ollama embeddings", err)
	}
	return out, nil
}
