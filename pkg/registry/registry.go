// Package registry tracks which sessions exist, ordered by last activity.
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/entrhq/memoryd/pkg/store"
	"github.com/entrhq/memoryd/pkg/types"
)

const (
	// DefaultPage and DefaultSize apply when a listing request omits them.
	DefaultPage = 1
	DefaultSize = 10

	// MaxPage is the highest page a listing may request.
	MaxPage = 100
)

// timeNow is swappable in tests.
var timeNow = time.Now

// Registry is the per-namespace sorted set of session ids scored by the
// time of their last append.
type Registry struct {
	client store.Client
}

// New creates a registry over client.
func New(client store.Client) *Registry {
	return &Registry{client: client}
}

// Score is the registry score for t.
func Score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

// UpsertIn queues the activity update for sessionID into b, so it commits
// together with the rest of the batch.
func UpsertIn(b store.Batch, sessionID, namespace string) {
	b.ZAdd(store.RegistryKey(namespace), Score(timeNow()), sessionID)
}

// RemoveIn queues removal of sessionID's entry into b.
func RemoveIn(b store.Batch, sessionID, namespace string) {
	b.ZRem(store.RegistryKey(namespace), sessionID)
}

// Upsert records activity for sessionID now.
func (r *Registry) Upsert(ctx context.Context, sessionID, namespace string) error {
	err := r.client.Atomic(ctx, func(b store.Batch) { UpsertIn(b, sessionID, namespace) })
	if err != nil {
		return fmt.Errorf("registry: upsert %s: %w", sessionID, err)
	}
	return nil
}

// List returns one page of session ids in ascending activity order.
// page is 1-indexed.
func (r *Registry) List(ctx context.Context, namespace string, page, size int) ([]string, error) {
	if page < 1 || page > MaxPage {
		return nil, types.ValidationError("page must be between 1 and %d, got %d", MaxPage, page)
	}
	if size < 1 {
		return nil, types.ValidationError("size must be positive, got %d", size)
	}
	start := int64(page-1) * int64(size)
	stop := int64(page)*int64(size) - 1

	ids, err := r.client.ZRange(ctx, store.RegistryKey(namespace), start, stop)
	if err != nil {
		return nil, fmt.Errorf("registry: list: %w", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// Remove deletes the registry entry for sessionID.
func (r *Registry) Remove(ctx context.Context, sessionID, namespace string) error {
	err := r.client.Atomic(ctx, func(b store.Batch) { RemoveIn(b, sessionID, namespace) })
	if err != nil {
		return fmt.Errorf("registry: remove %s: %w", sessionID, err)
	}
	return nil
}
