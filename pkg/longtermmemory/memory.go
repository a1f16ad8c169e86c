package longtermmemory

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/entrhq/memoryd/pkg/types"
)

var tracer = otel.Tracer("github.com/entrhq/memoryd/pkg/longtermmemory")

// Embedder turns texts into vectors. llm.Provider satisfies it.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Memory indexes messages and answers similarity queries.
type Memory struct {
	embedder Embedder
	index    VectorIndex
	cache    *ristretto.Cache
	k        int
}

// Option configures a Memory.
type Option func(*Memory) error

// WithQueryCache caches up to size query embeddings by query text.
func WithQueryCache(size int64) Option {
	return func(m *Memory) error {
		if size <= 0 {
			return nil
		}
		c, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: size * 10,
			MaxCost:     size,
			BufferItems: 64,
		})
		if err != nil {
			return fmt.Errorf("longtermmemory: create query cache: %w", err)
		}
		m.cache = c
		return nil
	}
}

// WithK sets the number of neighbors returned by Search.
func WithK(k int) Option {
	return func(m *Memory) error {
		if k > 0 {
			m.k = k
		}
		return nil
	}
}

// New creates a long-term memory over index.
func New(embedder Embedder, index VectorIndex, opts ...Option) (*Memory, error) {
	m := &Memory{embedder: embedder, index: index, k: DefaultK}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// EnsureIndex prepares the underlying index and checks that the embedding
// model produces vectors of the size the index was configured for.
func (m *Memory) EnsureIndex(ctx context.Context) error {
	if err := m.index.EnsureIndex(ctx); err != nil {
		return err
	}
	vecs, err := m.embedder.EmbedBatch(ctx, []string{"dimension check"})
	if err != nil {
		return fmt.Errorf("longtermmemory: embed dimension check: %w", err)
	}
	if len(vecs) != 1 {
		return types.ProviderError("embed", fmt.Errorf("expected 1 embedding, got %d", len(vecs)))
	}
	if got, want := len(vecs[0]), m.index.Dimensions(); got != want {
		return types.ValidationError("embedding model produces %d dimensions, index is configured for %d", got, want)
	}
	return nil
}

// Index embeds messages with one batch call and writes one record per
// message. A dimension mismatch fails the whole call before any write.
func (m *Memory) Index(ctx context.Context, sessionID string, messages []types.Message) error {
	if len(messages) == 0 {
		return nil
	}
	ctx, span := tracer.Start(ctx, "longtermmemory.index")
	defer span.End()
	span.SetAttributes(attribute.String("session", sessionID), attribute.Int("messages", len(messages)))

	texts := make([]string, len(messages))
	for i, msg := range messages {
		texts[i] = msg.Content
	}
	embeddings, err := m.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("longtermmemory: embed %d messages: %w", len(messages), err)
	}
	if len(embeddings) != len(messages) {
		return types.ProviderError("embed", fmt.Errorf("expected %d embeddings, got %d", len(messages), len(embeddings)))
	}

	dims := m.index.Dimensions()
	records := make([]*Record, len(messages))
	for i, msg := range messages {
		r := &Record{
			ID:        NewRecordID(),
			SessionID: sessionID,
			Role:      msg.Role,
			Content:   msg.Content,
			Embedding: embeddings[i],
		}
		if err := r.Validate(dims); err != nil {
			return types.ValidationError("message %d: %v", i, err)
		}
		records[i] = r
	}

	if err := m.index.Put(ctx, records); err != nil {
		span.RecordError(err)
		return err
	}
	debugLog.Debugf("indexed %d messages for %s", len(records), sessionID)
	return nil
}

// Search returns the records of sessionID nearest to query.
func (m *Memory) Search(ctx context.Context, sessionID, query string) ([]types.SearchResult, error) {
	ctx, span := tracer.Start(ctx, "longtermmemory.search")
	defer span.End()
	span.SetAttributes(attribute.String("session", sessionID))

	vec, err := m.embedQuery(ctx, query)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(vec) != m.index.Dimensions() {
		return nil, fmt.Errorf("longtermmemory: query embedding has %d dimensions, index expects %d", len(vec), m.index.Dimensions())
	}

	results, err := m.index.Search(ctx, sessionID, vec, m.k)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("results", len(results)))
	return results, nil
}

func (m *Memory) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if m.cache != nil {
		if v, ok := m.cache.Get(query); ok {
			return v.([]float32), nil
		}
	}
	vecs, err := m.embedder.EmbedBatch(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("longtermmemory: embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, types.ProviderError("embed", fmt.Errorf("expected 1 embedding, got %d", len(vecs)))
	}
	if m.cache != nil {
		m.cache.Set(query, vecs[0], 1)
	}
	return vecs[0], nil
}

// Close releases the query cache.
func (m *Memory) Close() {
	if m.cache != nil {
		m.cache.Close()
	}
}
