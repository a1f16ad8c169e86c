// Package azure provides the Azure OpenAI backend. Azure deployments do not
// accept batched embedding input, so EmbedBatch issues one request per text
// and joins them concurrently.
package azure

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	goopenai "github.com/sashabaranov/go-openai"
	"golang.org/x/sync/errgroup"

	"github.com/entrhq/memoryd/pkg/llm"
	"github.com/entrhq/memoryd/pkg/types"
)

// DefaultAPIVersion is the Azure OpenAI REST API version requested.
const DefaultAPIVersion = "2023-05-15"

// Config holds the Azure deployment settings.
type Config struct {
	APIKey string
	// BaseURL is the resource endpoint, e.g. https://my-resource.openai.azure.com.
	BaseURL string
	// ChatDeployment serves chat completions.
	ChatDeployment string
	// EmbeddingDeployment serves embeddings.
	EmbeddingDeployment string
	APIVersion          string
	// HTTPClient, when set, carries request timeouts.
	HTTPClient *http.Client
}

// ConfigFromEnv fills empty fields from AZURE_API_KEY, AZURE_API_BASE,
// AZURE_DEPLOYMENT_ID and AZURE_DEPLOYMENT_ID_ADA.
func ConfigFromEnv(c Config) Config {
	if c.APIKey == "" {
		c.APIKey = os.Getenv("AZURE_API_KEY")
	}
	if c.BaseURL == "" {
		c.BaseURL = os.Getenv("AZURE_API_BASE")
	}
	if c.ChatDeployment == "" {
		c.ChatDeployment = os.Getenv("AZURE_DEPLOYMENT_ID")
	}
	if c.EmbeddingDeployment == "" {
		c.EmbeddingDeployment = os.Getenv("AZURE_DEPLOYMENT_ID_ADA")
	}
	return c
}

// Provider implements llm.Provider for Azure OpenAI.
type Provider struct {
	client *goopenai.Client
	cfg    Config
}

// NewProvider creates an Azure provider.
func NewProvider(cfg Config) (*Provider, error) {
	cfg = ConfigFromEnv(cfg)
	if cfg.APIKey == "" || cfg.BaseURL == "" {
		return nil, errors.New("azure: api key and base url are required")
	}
	if cfg.ChatDeployment == "" || cfg.EmbeddingDeployment == "" {
		return nil, errors.New("azure: chat and embedding deployment ids are required")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}

	oc := goopenai.DefaultAzureConfig(cfg.APIKey, cfg.BaseURL)
	oc.APIVersion = cfg.APIVersion
	oc.AzureModelMapperFunc = func(model string) string {
		if model == string(goopenai.AdaEmbeddingV2) {
			return cfg.EmbeddingDeployment
		}
		return cfg.ChatDeployment
	}

	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}

	return &Provider{client: goopenai.NewClientWithConfig(oc), cfg: cfg}, nil
}

// Name returns "azure".
func (p *Provider) Name() string { return "azure" }

// ChatComplete sends prompt to the chat deployment. The model name is passed
// through for accounting; routing is by deployment.
func (p *Provider) ChatComplete(ctx context.Context, model, prompt string, maxTokens int) (llm.Completion, error) {
	resp, err := p.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model: model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return llm.Completion{}, types.ProviderError("azure chat", err)
	}
	if len(resp.Choices) == 0 {
		return llm.Completion{}, types.ProviderError("azure chat", errors.New("no choices returned"))
	}
	return llm.Completion{
		Text:       resp.Choices[0].Message.Content,
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}

// EmbedBatch issues one embedding request per text, concurrently, and
// returns them in input order. Any failure fails the whole batch.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	for i, text := range texts {
		g.Go(func() error {
			resp, err := p.client.CreateEmbeddings(gctx, goopenai.EmbeddingRequest{
				Input: []string{text},
				Model: goopenai.AdaEmbeddingV2,
			})
			if err != nil {
				return err
			}
			if len(resp.Data) == 0 {
				return fmt.Errorf("no embedding returned for item %d", i)
			}
			out[i] = resp.Data[0].Embedding
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, types.ProviderError("azure embeddings", err)
	}
	return out, nil
}
