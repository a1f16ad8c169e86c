package longtermmemory

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/entrhq/memoryd/pkg/store"
	"github.com/entrhq/memoryd/pkg/types"
)

// RedisIndexConfig describes a RediSearch vector index.
type RedisIndexConfig struct {
	// Name of the search index.
	Name string
	// Prefix of the record hash keys covered by the index.
	Prefix string
	// Dimensions of the embeddings.
	Dimensions int
	// DistanceMetric is COSINE, L2 or IP.
	DistanceMetric string
}

// DefaultRedisIndexConfig matches 1536-dimension embeddings with cosine distance.
func DefaultRedisIndexConfig() RedisIndexConfig {
	return RedisIndexConfig{
		Name:           "memoryd",
		Prefix:         "memoryd:",
		Dimensions:     1536,
		DistanceMetric: "COSINE",
	}
}

// RedisIndex stores records as hashes and queries them with FT.SEARCH.
type RedisIndex struct {
	client store.Client
	cfg    RedisIndexConfig
}

// NewRedisIndex creates an index over client.
func NewRedisIndex(client store.Client, cfg RedisIndexConfig) (*RedisIndex, error) {
	if cfg.Name == "" || cfg.Prefix == "" {
		return nil, fmt.Errorf("longtermmemory: index name and prefix are required")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("longtermmemory: dimensions must be positive, got %d", cfg.Dimensions)
	}
	switch strings.ToUpper(cfg.DistanceMetric) {
	case "COSINE", "L2", "IP":
		cfg.DistanceMetric = strings.ToUpper(cfg.DistanceMetric)
	case "":
		cfg.DistanceMetric = "COSINE"
	default:
		return nil, fmt.Errorf("longtermmemory: unsupported distance metric %q", cfg.DistanceMetric)
	}
	return &RedisIndex{client: client, cfg: cfg}, nil
}

// Dimensions is the embedding size the index accepts.
func (x *RedisIndex) Dimensions() int { return x.cfg.Dimensions }

// RecordKey is the hash key of a record.
func (x *RedisIndex) RecordKey(id string) string { return x.cfg.Prefix + id }

func isUnknownIndex(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unknown index name") || strings.Contains(msg, "no such index")
}

// EnsureIndex is a no-op if the index exists and creates it if the store
// reports it unknown. Any other failure is returned.
func (x *RedisIndex) EnsureIndex(ctx context.Context) error {
	_, err := x.client.Do(ctx, "FT.INFO", x.cfg.Name)
	if err == nil {
		debugLog.Debugf("search index %s already exists", x.cfg.Name)
		return nil
	}
	if !isUnknownIndex(err) {
		return fmt.Errorf("longtermmemory: describe index %s: %w", x.cfg.Name, err)
	}

	_, err = x.client.Do(ctx,
		"FT.CREATE", x.cfg.Name,
		"ON", "HASH",
		"PREFIX", "1", x.cfg.Prefix,
		"SCHEMA",
		"session", "TAG",
		"content", "TEXT",
		"role", "TEXT",
		"vector", "VECTOR", "HNSW", "6",
		"TYPE", "FLOAT32",
		"DIM", strconv.Itoa(x.cfg.Dimensions),
		"DISTANCE_METRIC", x.cfg.DistanceMetric,
	)
	if err != nil {
		return fmt.Errorf("longtermmemory: create index %s: %w", x.cfg.Name, err)
	}
	debugLog.Infof("created search index %s (dim %d, %s)", x.cfg.Name, x.cfg.Dimensions, x.cfg.DistanceMetric)
	return nil
}

// Put writes all records in one transaction.
func (x *RedisIndex) Put(ctx context.Context, records []*Record) error {
	if len(records) == 0 {
		return nil
	}
	err := x.client.Atomic(ctx, func(b store.Batch) {
		for _, r := range records {
			b.HSet(x.RecordKey(r.ID), map[string]any{
				"session": r.SessionID,
				"role":    r.Role,
				"content": r.Content,
				"vector":  EncodeVector(r.Embedding),
			})
		}
	})
	if err != nil {
		return fmt.Errorf("longtermmemory: write %d records: %w", len(records), err)
	}
	return nil
}

// tagSpecial are the characters RediSearch requires escaped in TAG values.
const tagSpecial = ",.<>{}[]\"':;!@#$%^&*()-+=~|/\\ "

// escapeTag escapes a session id for use inside a TAG filter.
func escapeTag(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if strings.ContainsRune(tagSpecial, r) {
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// Search runs a session-filtered KNN query.
func (x *RedisIndex) Search(ctx context.Context, sessionID string, query []float32, k int) ([]types.SearchResult, error) {
	if k <= 0 {
		k = DefaultK
	}
	q := fmt.Sprintf("@session:{%s}=>[KNN $K @vector $V AS distance]", escapeTag(sessionID))
	reply, err := x.client.Do(ctx,
		"FT.SEARCH", x.cfg.Name, q,
		"PARAMS", "4", "K", strconv.Itoa(k), "V", EncodeVector(query),
		"RETURN", "3", "role", "content", "distance",
		"SORTBY", "distance",
		"DIALECT", "2",
	)
	if err != nil {
		return nil, fmt.Errorf("longtermmemory: search %s: %w", sessionID, err)
	}
	results, err := parseSearchReply(reply)
	if err != nil {
		return nil, types.StoreError("ft.search", err)
	}
	return results, nil
}
