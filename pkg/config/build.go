package config

import (
	"fmt"
	"strings"

	"github.com/entrhq/memoryd/pkg/compaction"
	"github.com/entrhq/memoryd/pkg/logging"
	"github.com/entrhq/memoryd/pkg/longtermmemory"
	"github.com/entrhq/memoryd/pkg/store"
)

// StoreOptions returns the Redis client settings.
func (c *Config) StoreOptions() store.Options {
	return store.Options{
		URL:         c.Redis.URL,
		PoolSize:    c.Redis.PoolSize,
		PoolTimeout: c.Redis.PoolTimeout,
	}
}

// LoggingOptions returns the log sink settings.
func (c *Config) LoggingOptions() logging.Options {
	return logging.Options{Level: c.Log.Level, Format: c.Log.Format, File: c.Log.File}
}

// Budget returns the summarization token budget.
func (c *Config) Budget() compaction.Budget {
	return compaction.Budget{
		MaxTokens:       c.Compaction.MaxTokens,
		SummaryReserve:  c.Compaction.SummaryReserve,
		SafetyBuffer:    c.Compaction.SafetyBuffer,
		MaxOutputTokens: c.Compaction.MaxOutputTokens,
	}
}

// SchedulerOptions selects the compaction guard and task timeout.
func (c *Config) SchedulerOptions(client store.Client) []compaction.Option {
	opts := []compaction.Option{compaction.WithTaskTimeout(c.Compaction.TaskTimeout)}
	if c.Compaction.DistributedLock {
		opts = append(opts, compaction.WithGuard(compaction.NewLeaseGuard(client, c.Compaction.LeaseTTL)))
	}
	return opts
}

// BuildVectorIndex creates the configured long-term memory backend.
func BuildVectorIndex(cfg *Config, client store.Client) (longtermmemory.VectorIndex, error) {
	lt := cfg.LongTerm
	switch backend := strings.ToLower(lt.Backend); backend {
	case BackendRedis, "":
		return longtermmemory.NewRedisIndex(client, longtermmemory.RedisIndexConfig{
			Name:           lt.IndexName,
			Prefix:         lt.Prefix,
			Dimensions:     cfg.EmbeddingDimensions(),
			DistanceMetric: lt.DistanceMetric,
		})
	case BackendChromem:
		return longtermmemory.NewChromemIndex(cfg.EmbeddingDimensions())
	default:
		return nil, fmt.Errorf("unknown index backend %q", backend)
	}
}

// BuildLongTermMemory creates long-term memory over the configured index.
// It returns nil when long-term memory is disabled.
func BuildLongTermMemory(cfg *Config, embedder longtermmemory.Embedder, client store.Client) (*longtermmemory.Memory, error) {
	if !cfg.LongTerm.Enabled {
		return nil, nil
	}
	index, err := BuildVectorIndex(cfg, client)
	if err != nil {
		return nil, err
	}
	opts := []longtermmemory.Option{longtermmemory.WithK(cfg.LongTerm.K)}
	if cfg.LongTerm.QueryCacheSize > 0 {
		opts = append(opts, longtermmemory.WithQueryCache(cfg.LongTerm.QueryCacheSize))
	}
	return longtermmemory.New(embedder, index, opts...)
}
