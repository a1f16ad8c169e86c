package longtermmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/entrhq/memoryd/pkg/types"
)

// ChromemIndex is an embedded in-process index for deployments without a
// search-capable store. Each session gets its own collection. Distances
// are cosine: 1 - similarity.
type ChromemIndex struct {
	db          *chromem.DB
	dims        int
	mu          sync.RWMutex
	collections map[string]*chromem.Collection
}

// NewChromemIndex creates an empty in-memory index.
func NewChromemIndex(dims int) (*ChromemIndex, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("longtermmemory: dimensions must be positive, got %d", dims)
	}
	return &ChromemIndex{
		db:          chromem.NewDB(),
		dims:        dims,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

// Dimensions is the embedding size the index accepts.
func (x *ChromemIndex) Dimensions() int { return x.dims }

// EnsureIndex is a no-op; collections are created on first write.
func (x *ChromemIndex) EnsureIndex(context.Context) error { return nil }

func (x *ChromemIndex) collection(sessionID string, create bool) (*chromem.Collection, error) {
	x.mu.RLock()
	col, ok := x.collections[sessionID]
	x.mu.RUnlock()
	if ok || !create {
		return col, nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if col, ok := x.collections[sessionID]; ok {
		return col, nil
	}
	col, err := x.db.CreateCollection("session_"+sessionID, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("longtermmemory: create collection for %s: %w", sessionID, err)
	}
	x.collections[sessionID] = col
	return col, nil
}

// Put adds records to their sessions' collections.
func (x *ChromemIndex) Put(ctx context.Context, records []*Record) error {
	for _, r := range records {
		col, err := x.collection(r.SessionID, true)
		if err != nil {
			return err
		}
		err = col.AddDocument(ctx, chromem.Document{
			ID:        r.ID,
			Content:   r.Content,
			Embedding: r.Embedding,
			Metadata:  map[string]string{"role": r.Role, "session": r.SessionID},
		})
		if err != nil {
			return fmt.Errorf("longtermmemory: add record %s: %w", r.ID, err)
		}
	}
	return nil
}

// Search returns up to k nearest records of sessionID.
func (x *ChromemIndex) Search(ctx context.Context, sessionID string, query []float32, k int) ([]types.SearchResult, error) {
	if k <= 0 {
		k = DefaultK
	}
	col, err := x.collection(sessionID, false)
	if err != nil || col == nil {
		return []types.SearchResult{}, err
	}
	// chromem rejects nResults larger than the collection.
	if n := col.Count(); n < k {
		k = n
	}
	if k == 0 {
		return []types.SearchResult{}, nil
	}

	hits, err := col.QueryEmbedding(ctx, query, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("longtermmemory: query %s: %w", sessionID, err)
	}
	results := make([]types.SearchResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, types.SearchResult{
			Role:     h.Metadata["role"],
			Content:  h.Content,
			Distance: float64(1 - h.Similarity),
		})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	return results, nil
}
