package config

import (
	"context"
	"fmt"
	"net/http"

	"github.com/entrhq/memoryd/pkg/llm"
	"github.com/entrhq/memoryd/pkg/llm/azure"
	"github.com/entrhq/memoryd/pkg/llm/gemini"
	"github.com/entrhq/memoryd/pkg/llm/ollama"
	"github.com/entrhq/memoryd/pkg/llm/openai"
	"google.golang.org/api/option"
)

// BuildProvider creates the configured LLM backend wrapped in a pool that
// bounds concurrent calls. Close the pool on shutdown.
func BuildProvider(ctx context.Context, cfg *Config) (*llm.Pool, error) {
	httpClient := &http.Client{Timeout: cfg.LLM.Timeout}

	var (
		provider llm.Provider
		err      error
	)
	switch name := cfg.ResolvedProvider(); name {
	case ProviderOpenAI:
		opts := []openai.ProviderOption{openai.WithHTTPClient(httpClient)}
		if cfg.LLM.OpenAI.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.LLM.OpenAI.BaseURL))
		}
		if cfg.LLM.EmbeddingModel != "" {
			opts = append(opts, openai.WithEmbeddingModel(cfg.LLM.EmbeddingModel))
		}
		provider, err = openai.NewProvider(cfg.LLM.OpenAI.APIKey, opts...)
	case ProviderAzure:
		az := cfg.LLM.Azure
		provider, err = azure.NewProvider(azure.Config{
			APIKey:              az.APIKey,
			BaseURL:             az.BaseURL,
			ChatDeployment:      az.ChatDeployment,
			EmbeddingDeployment: az.EmbeddingDeployment,
			APIVersion:          az.APIVersion,
			HTTPClient:          httpClient,
		})
	case ProviderOllama:
		provider, err = ollama.NewProvider(cfg.LLM.Ollama.Host, cfg.LLM.EmbeddingModel, httpClient)
	case ProviderGemini:
		provider, err = gemini.NewProvider(ctx, cfg.LLM.Gemini.APIKey, cfg.LLM.EmbeddingModel,
			cfg.LLM.Timeout, option.WithUserAgent("memoryd"))
	default:
		return nil, fmt.Errorf("unknown llm provider %q", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM provider: %w", err)
	}

	return llm.NewPool(provider, cfg.LLM.PoolSize), nil
}
