// Package gemini provides the Google Gemini backend.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi/transport"
	"google.golang.org/api/option"

	"github.com/entrhq/memoryd/pkg/llm"
	"github.com/entrhq/memoryd/pkg/types"
)

// DefaultEmbeddingModel is the Gemini embedding model used by default.
const DefaultEmbeddingModel = "text-embedding-004"

// Provider implements llm.Provider on Gemini.
type Provider struct {
	client         *genai.Client
	embeddingModel string
}

// NewProvider creates a Gemini provider. apiKey falls back to GEMINI_API_KEY.
// A positive timeout bounds each HTTP request.
func NewProvider(ctx context.Context, apiKey, embeddingModel string, timeout time.Duration, opts ...option.ClientOption) (*Provider, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("gemini: API key is required (provide via config or GEMINI_API_KEY)")
	}
	if embeddingModel == "" {
		embeddingModel = DefaultEmbeddingModel
	}

	base := []option.ClientOption{option.WithAPIKey(apiKey)}
	if timeout > 0 {
		// A custom HTTP client bypasses option.WithAPIKey, so the key rides
		// on the transport.
		base = append(base, option.WithHTTPClient(apiKeyClient(apiKey, timeout)))
	}
	client, err := genai.NewClient(ctx, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Provider{client: client, embeddingModel: embeddingModel}, nil
}

func apiKeyClient(apiKey string, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: &transport.APIKey{Key: apiKey, Transport: http.DefaultTransport},
	}
}

// Name returns "gemini".
func (p *Provider) Name() string { return "gemini" }

// Close releases the underlying client.
func (p *Provider) Close() error { return p.client.Close() }

// ChatComplete generates a single-turn completion.
func (p *Provider) ChatComplete(ctx context.Context, model, prompt string, maxTokens int) (llm.Completion, error) {
	gm := p.client.GenerativeModel(model)
	gm.SetMaxOutputTokens(int32(maxTokens))

	resp, err := gm.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return llm.Completion{}, types.ProviderError("gemini generate", err)
	}
	out, err := completionFromResponse(resp)
	if err != nil {
		return llm.Completion{}, types.ProviderError("gemini generate", err)
	}
	return out, nil
}

func completionFromResponse(resp *genai.GenerateContentResponse) (llm.Completion, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return llm.Completion{}, errors.New("no candidates returned")
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	out := llm.Completion{Text: sb.String()}
	if resp.UsageMetadata != nil {
		out.TokensUsed = int(resp.UsageMetadata.TotalTokenCount)
	}
	return out, nil
}

// EmbedBatch embeds all texts with one batch request.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	em := p.client.EmbeddingModel(p.embeddingModel)
	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}
	res, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, types.ProviderError("gemini embeddings", err)
	}
	out, err := embeddingsFromResponse(res, len(texts))
	if err != nil {
		return nil, types.ProviderError("gemini embeddings", err)
	}
	return out, nil
}

func embeddingsFromResponse(res *genai.BatchEmbedContentsResponse, want int) ([][]float32, error) {
	if res == nil || len(res.Embeddings) != want {
		got := 0
		if res != nil {
			got = len(res.Embeddings)
		}
		return nil, fmt.Errorf("expected %d embeddings, got %d", want, got)
	}
	out := make([][]float32, want)
	for i, e := range res.Embeddings {
		if e == nil {
			return nil, fmt.Errorf("missing embedding for item %d", i)
		}
		out[i] = e.Values
	}
	return out, nil
}
