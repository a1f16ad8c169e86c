package longtermmemory

import (
	"context"

	"github.com/entrhq/memoryd/pkg/types"
)

// VectorIndex is the read/write interface for indexed records.
type VectorIndex interface {
	// EnsureIndex creates the index if it does not exist.
	EnsureIndex(ctx context.Context) error
	// Put writes records in one batch.
	Put(ctx context.Context, records []*Record) error
	// Search returns up to k records of sessionID nearest to query,
	// ascending by distance.
	Search(ctx context.Context, sessionID string, query []float32, k int) ([]types.SearchResult, error)
	// Dimensions is the embedding size the index accepts.
	Dimensions() int
}
