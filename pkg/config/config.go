// Package config loads memoryd settings: built-in defaults, then an optional
// YAML file, then environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Provider names accepted in llm.provider.
const (
	ProviderOpenAI = "openai"
	ProviderAzure  = "azure"
	ProviderOllama = "ollama"
	ProviderGemini = "gemini"
)

// Vector index backends accepted in long_term_memory.backend.
const (
	BackendRedis   = "redis"
	BackendChromem = "chromem"
)

// Config is the complete process configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Redis      RedisConfig      `yaml:"redis"`
	LLM        LLMConfig        `yaml:"llm"`
	Memory     MemoryConfig     `yaml:"memory"`
	Compaction CompactionConfig `yaml:"compaction"`
	LongTerm   LongTermConfig   `yaml:"long_term_memory"`
	Log        LogConfig        `yaml:"log"`
}

type ServerConfig struct {
	Port            int           `yaml:"port" env:"PORT"`
	MaxConnections  int           `yaml:"max_connections" env:"MEMORYD_MAX_CONNECTIONS"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"MEMORYD_SHUTDOWN_TIMEOUT"`
}

type RedisConfig struct {
	URL         string        `yaml:"url" env:"REDIS_URL"`
	PoolSize    int           `yaml:"pool_size" env:"MEMORYD_REDIS_POOL_SIZE"`
	PoolTimeout time.Duration `yaml:"pool_timeout" env:"MEMORYD_REDIS_POOL_TIMEOUT"`
}

type LLMConfig struct {
	// Provider is openai, azure, ollama or gemini. Empty selects azure when
	// an Azure key is present and openai otherwise.
	Provider       string        `yaml:"provider" env:"MEMORYD_PROVIDER"`
	Model          string        `yaml:"model" env:"MEMORYD_MODEL"`
	EmbeddingModel string        `yaml:"embedding_model" env:"MEMORYD_EMBEDDING_MODEL"`
	PoolSize       int           `yaml:"pool_size" env:"MEMORYD_LLM_POOL_SIZE"`
	Timeout        time.Duration `yaml:"timeout" env:"MEMORYD_LLM_TIMEOUT"`

	OpenAI OpenAIConfig `yaml:"openai"`
	Azure  AzureConfig  `yaml:"azure"`
	Ollama OllamaConfig `yaml:"ollama"`
	Gemini GeminiConfig `yaml:"gemini"`
}

type OpenAIConfig struct {
	APIKey  string `yaml:"api_key" env:"OPENAI_API_KEY"`
	BaseURL string `yaml:"base_url" env:"OPENAI_BASE_URL"`
}

type AzureConfig struct {
	APIKey              string `yaml:"api_key" env:"AZURE_API_KEY"`
	BaseURL             string `yaml:"base_url" env:"AZURE_API_BASE"`
	ChatDeployment      string `yaml:"chat_deployment" env:"AZURE_DEPLOYMENT_ID"`
	EmbeddingDeployment string `yaml:"embedding_deployment" env:"AZURE_DEPLOYMENT_ID_ADA"`
	APIVersion          string `yaml:"api_version" env:"MEMORYD_AZURE_API_VERSION"`
}

type OllamaConfig struct {
	Host string `yaml:"host" env:"OLLAMA_HOST"`
}

type GeminiConfig struct {
	APIKey string `yaml:"api_key" env:"GEMINI_API_KEY"`
}

type MemoryConfig struct {
	// WindowSize is the number of messages returned by a read and the
	// length past which compaction starts.
	WindowSize   int           `yaml:"window_size" env:"MEMORYD_WINDOW_SIZE"`
	IndexTimeout time.Duration `yaml:"index_timeout" env:"MEMORYD_INDEX_TIMEOUT"`
}

type CompactionConfig struct {
	MaxTokens       int           `yaml:"max_tokens" env:"MEMORYD_COMPACTION_MAX_TOKENS"`
	SummaryReserve  int           `yaml:"summary_reserve" env:"MEMORYD_COMPACTION_SUMMARY_RESERVE"`
	SafetyBuffer    int           `yaml:"safety_buffer" env:"MEMORYD_COMPACTION_SAFETY_BUFFER"`
	MaxOutputTokens int           `yaml:"max_output_tokens" env:"MEMORYD_COMPACTION_MAX_OUTPUT_TOKENS"`
	TaskTimeout     time.Duration `yaml:"task_timeout" env:"MEMORYD_COMPACTION_TASK_TIMEOUT"`
	DistributedLock bool          `yaml:"distributed_lock" env:"MEMORYD_COMPACTION_DISTRIBUTED_LOCK"`
	LeaseTTL        time.Duration `yaml:"lease_ttl" env:"MEMORYD_COMPACTION_LEASE_TTL"`
}

type LongTermConfig struct {
	Enabled        bool   `yaml:"enabled" env:"MEMORYD_LONG_TERM_MEMORY"`
	Backend        string `yaml:"backend" env:"MEMORYD_INDEX_BACKEND"`
	IndexName      string `yaml:"index_name" env:"MEMORYD_INDEX_NAME"`
	Prefix         string `yaml:"prefix" env:"MEMORYD_INDEX_PREFIX"`
	// Dimensions is the embedding vector size. Zero derives it from the
	// embedding model.
	Dimensions     int    `yaml:"dimensions" env:"MEMORYD_EMBEDDING_DIMENSIONS"`
	DistanceMetric string `yaml:"distance_metric" env:"MEMORYD_DISTANCE_METRIC"`
	K              int    `yaml:"k" env:"MEMORYD_SEARCH_K"`
	QueryCacheSize int64  `yaml:"query_cache_size" env:"MEMORYD_QUERY_CACHE_SIZE"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"MEMORYD_LOG_LEVEL"`
	Format string `yaml:"format" env:"MEMORYD_LOG_FORMAT"`
	File   string `yaml:"file" env:"MEMORYD_LOG_FILE"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			MaxConnections:  1024,
			ShutdownTimeout: 30 * time.Second,
		},
		Redis: RedisConfig{
			URL:         "redis://localhost:6379",
			PoolSize:    50,
			PoolTimeout: 5 * time.Second,
		},
		LLM: LLMConfig{
			Model:    "gpt-3.5-turbo",
			PoolSize: 8,
			Timeout:  60 * time.Second,
		},
		Memory: MemoryConfig{
			WindowSize:   12,
			IndexTimeout: 60 * time.Second,
		},
		Compaction: CompactionConfig{
			MaxTokens:       4096,
			SummaryReserve:  512,
			SafetyBuffer:    230,
			MaxOutputTokens: 512,
			TaskTimeout:     5 * time.Minute,
			LeaseTTL:        10 * time.Minute,
		},
		LongTerm: LongTermConfig{
			Backend:        BackendRedis,
			IndexName:      "memoryd",
			Prefix:         "memoryd:",
			DistanceMetric: "COSINE",
			K:              10,
			QueryCacheSize: 1000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	return cfg, nil
}

// ResolvedProvider returns the provider that will be built.
func (c *Config) ResolvedProvider() string {
	p := strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if p != "" {
		return p
	}
	if c.LLM.Azure.APIKey != "" {
		return ProviderAzure
	}
	return ProviderOpenAI
}

// embeddingDimensions lists the vector sizes of well-known embedding models.
var embeddingDimensions = map[string]int{
	"text-embedding-ada-002": 1536,
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"nomic-embed-text":       768,
	"mxbai-embed-large":      1024,
	"all-minilm":             384,
	"text-embedding-004":     768,
	"embedding-001":          768,
}

// EmbeddingDimensions returns the configured vector size, or the size of the
// embedding model the resolved provider will use.
func (c *Config) EmbeddingDimensions() int {
	if c.LongTerm.Dimensions > 0 {
		return c.LongTerm.Dimensions
	}
	model := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(c.LLM.EmbeddingModel)), "models/")
	if i := strings.IndexByte(model, ':'); i >= 0 {
		model = model[:i]
	}
	if d, ok := embeddingDimensions[model]; ok {
		return d
	}
	switch c.ResolvedProvider() {
	case ProviderOllama, ProviderGemini:
		return 768
	default:
		return 1536
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.MaxConnections < 1 {
		add("server.max_connections must be positive")
	}
	if c.Redis.URL == "" {
		add("redis.url is required")
	}
	if c.Redis.PoolSize < 1 {
		add("redis.pool_size must be positive")
	}

	switch c.ResolvedProvider() {
	case ProviderOpenAI:
		if c.LLM.OpenAI.APIKey == "" {
			add("llm.openai.api_key is required (OPENAI_API_KEY)")
		}
	case ProviderAzure:
		az := c.LLM.Azure
		if az.APIKey == "" || az.BaseURL == "" {
			add("llm.azure.api_key and llm.azure.base_url are required (AZURE_API_KEY, AZURE_API_BASE)")
		}
		if az.ChatDeployment == "" {
			add("llm.azure.chat_deployment is required (AZURE_DEPLOYMENT_ID)")
		}
		if az.EmbeddingDeployment == "" {
			add("llm.azure.embedding_deployment is required (AZURE_DEPLOYMENT_ID_ADA)")
		}
	case ProviderGemini:
		if c.LLM.Gemini.APIKey == "" {
			add("llm.gemini.api_key is required (GEMINI_API_KEY)")
		}
	case ProviderOllama:
	default:
		add("llm.provider %q is not one of openai, azure, ollama, gemini", c.LLM.Provider)
	}
	if c.LLM.Model == "" {
		add("llm.model is required")
	}
	if c.LLM.PoolSize < 1 {
		add("llm.pool_size must be positive")
	}

	if c.Memory.WindowSize < 2 {
		add("memory.window_size must be at least 2, got %d", c.Memory.WindowSize)
	}

	cp := c.Compaction
	if chunk := cp.MaxTokens - cp.SummaryReserve - cp.SafetyBuffer; chunk <= 0 {
		add("compaction budget leaves no room for messages (%d - %d - %d)", cp.MaxTokens, cp.SummaryReserve, cp.SafetyBuffer)
	}
	if cp.MaxOutputTokens < 1 {
		add("compaction.max_output_tokens must be positive")
	}
	if cp.DistributedLock {
		if cp.TaskTimeout <= 0 {
			add("compaction.task_timeout must be positive when distributed_lock is set")
		}
		if cp.LeaseTTL <= cp.TaskTimeout {
			add("compaction.lease_ttl (%s) must exceed compaction.task_timeout (%s) when distributed_lock is set", cp.LeaseTTL, cp.TaskTimeout)
		}
	}

	if c.LongTerm.Enabled {
		lt := c.LongTerm
		switch strings.ToLower(lt.Backend) {
		case BackendRedis:
			if lt.IndexName == "" || lt.Prefix == "" {
				add("long_term_memory.index_name and prefix are required for the redis backend")
			}
			switch strings.ToUpper(lt.DistanceMetric) {
			case "COSINE", "L2", "IP":
			default:
				add("long_term_memory.distance_metric %q is not one of COSINE, L2, IP", lt.DistanceMetric)
			}
		case BackendChromem:
		default:
			add("long_term_memory.backend %q is not one of redis, chromem", lt.Backend)
		}
		if lt.Dimensions < 0 {
			add("long_term_memory.dimensions must not be negative")
		}
		if lt.K < 1 {
			add("long_term_memory.k must be positive")
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "console":
	default:
		add("log.format %q is not one of json, console", c.Log.Format)
	}

	return errors.Join(errs...)
}
