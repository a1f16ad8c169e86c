// Package memory holds session windows and the service that composes the
// window store, registry, compaction and long-term memory.
package memory

import (
	"context"
	"fmt"
	"strconv"

	"github.com/entrhq/memoryd/pkg/registry"
	"github.com/entrhq/memoryd/pkg/store"
	"github.com/entrhq/memoryd/pkg/types"
)

// DefaultWindowSize is W when not configured.
const DefaultWindowSize = 12

// WindowStore keeps each session's messages newest-first together with its
// summary and token counter.
type WindowStore struct {
	client store.Client
	window int64
}

// NewWindowStore creates a store whose reads return at most window messages.
func NewWindowStore(client store.Client, window int) *WindowStore {
	if window <= 0 {
		window = DefaultWindowSize
	}
	return &WindowStore{client: client, window: int64(window)}
}

// Window returns W.
func (w *WindowStore) Window() int64 { return w.window }

// AppendOptions carries the optional parts of an append.
type AppendOptions struct {
	// Context, when set, replaces the stored summary.
	Context *string
	// Namespace scopes the registry entry.
	Namespace string
}

// Append pushes messages (oldest first, so the last one becomes index 0),
// refreshes the registry entry and optionally sets the summary in one
// atomic batch. It returns the list length after the push.
func (w *WindowStore) Append(ctx context.Context, sessionID string, messages []types.Message, opts AppendOptions) (int64, error) {
	if len(messages) == 0 {
		return 0, types.ValidationError("no messages to append")
	}
	values := make([]string, len(messages))
	for i, m := range messages {
		raw, err := types.EncodeMessage(m)
		if err != nil {
			return 0, types.ValidationError("message %d: %v", i, err)
		}
		values[i] = raw
	}

	var length *store.IntReply
	err := w.client.Atomic(ctx, func(b store.Batch) {
		length = b.Push(store.SessionKey(sessionID), values...)
		registry.UpsertIn(b, sessionID, opts.Namespace)
		if opts.Context != nil {
			b.Set(store.ContextKey(sessionID), *opts.Context)
		}
	})
	if err != nil {
		return 0, fmt.Errorf("memory: append %s: %w", sessionID, err)
	}
	return length.Val(), nil
}

// Read returns up to limit newest messages, the summary and the token
// counter in one atomic batch. limit <= 0 means W.
func (w *WindowStore) Read(ctx context.Context, sessionID string, limit int64) (*types.MemoryResponse, error) {
	if limit <= 0 {
		limit = w.window
	}
	var (
		list *store.ListReply
		meta *store.ValuesReply
	)
	err := w.client.Atomic(ctx, func(b store.Batch) {
		list = b.Range(store.SessionKey(sessionID), 0, limit-1)
		meta = b.MGet(store.ContextKey(sessionID), store.TokensKey(sessionID))
	})
	if err != nil {
		return nil, fmt.Errorf("memory: read %s: %w", sessionID, err)
	}

	raw := list.Val()
	resp := &types.MemoryResponse{Messages: make([]types.Message, len(raw))}
	for i, r := range raw {
		resp.Messages[i] = types.DecodeMessage(r)
	}
	vals := meta.Val()
	if len(vals) == 2 {
		resp.Context = vals[0]
		if vals[1] != nil {
			n, err := strconv.ParseInt(*vals[1], 10, 64)
			if err != nil {
				return nil, types.StoreError("read tokens", fmt.Errorf("session %s: %w", sessionID, err))
			}
			resp.Tokens = n
		}
	}
	return resp, nil
}

// Delete removes the messages, summary, token counter and registry entry
// together.
func (w *WindowStore) Delete(ctx context.Context, sessionID, namespace string) error {
	err := w.client.Atomic(ctx, func(b store.Batch) {
		b.Del(store.SessionKey(sessionID), store.ContextKey(sessionID), store.TokensKey(sessionID))
		registry.RemoveIn(b, sessionID, namespace)
	})
	if err != nil {
		return fmt.Errorf("memory: delete %s: %w", sessionID, err)
	}
	return nil
}
