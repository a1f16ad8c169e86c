// Package store is the narrow key-value client the memory engine talks to.
//
// Every failure returned from this package is a types StoreError. The
// engine never retries at this layer.
package store

import (
	"context"
	"time"
)

// Key layout shared by every component.
const (
	sessionPrefix  = "session:"
	contextPrefix  = "context:"
	tokensPrefix   = "tokens:"
	leasePrefix    = "compaction:"
	registryKey    = "sessions"
	registryPrefix = "sessions:"
)

// SessionKey is the newest-first message list of a session.
func SessionKey(id string) string { return sessionPrefix + id }

// ContextKey holds the running summary of a session.
func ContextKey(id string) string { return contextPrefix + id }

// TokensKey holds the cumulative summarizer token usage of a session.
func TokensKey(id string) string { return tokensPrefix + id }

// LeaseKey is the cross-instance compaction lease of a session.
func LeaseKey(id string) string { return leasePrefix + id }

// RegistryKey is the sorted set of sessions for a namespace. The empty
// namespace uses the default set.
func RegistryKey(namespace string) string {
	if namespace == "" {
		return registryKey
	}
	return registryPrefix + namespace
}

// Client is the set of store operations the engine uses.
type Client interface {
	Push(ctx context.Context, key string, values ...string) (int64, error)
	Range(ctx context.Context, key string, start, stop int64) ([]string, error)
	// Get returns ok=false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// MGet returns nil entries for absent keys.
	MGet(ctx context.Context, keys ...string) ([]*string, error)
	Set(ctx context.Context, key, value string) error
	Del(ctx context.Context, keys ...string) error
	HSet(ctx context.Context, key string, fields map[string]any) error
	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRem(ctx context.Context, key string, member string) error
	ZRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// SetNX sets key to value with an expiry only if it is absent.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// DelIfEqual deletes key only if it still holds value.
	DelIfEqual(ctx context.Context, key, value string) (bool, error)

	// Do executes a raw command and returns the decoded reply.
	Do(ctx context.Context, args ...any) (any, error)

	// Atomic queues the commands issued on the batch and executes them as a
	// single MULTI/EXEC transaction. Replies are readable after it returns.
	Atomic(ctx context.Context, fn func(b Batch)) error

	Ping(ctx context.Context) error
	Close() error
}

// Batch queues commands for Atomic.
type Batch interface {
	Push(key string, values ...string) *IntReply
	Range(key string, start, stop int64) *ListReply
	Get(key string) *StringReply
	MGet(keys ...string) *ValuesReply
	Trim(key string, start, stop int64)
	Set(key, value string)
	IncrBy(key string, n int64)
	Del(keys ...string)
	HSet(key string, fields map[string]any)
	ZAdd(key string, score float64, member string)
	ZRem(key string, member string)
}
