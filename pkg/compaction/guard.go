package compaction

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/entrhq/memoryd/pkg/store"
)

// Guard grants at most one in-flight compaction per session.
//
// Acquire must be called synchronously by the triggering request, before
// the task is spawned. The returned release func is called exactly once
// as the task's final action.
type Guard interface {
	Acquire(ctx context.Context, sessionID string) (release func(), ok bool)
}

// LocalGuard is the process-local flag map.
type LocalGuard struct {
	mu     sync.Mutex
	active map[string]struct{}
}

// NewLocalGuard creates an empty flag map.
func NewLocalGuard() *LocalGuard {
	return &LocalGuard{active: make(map[string]struct{})}
}

// Acquire checks and sets the flag in one critical section.
func (g *LocalGuard) Acquire(_ context.Context, sessionID string) (func(), bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.active[sessionID]; busy {
		return nil, false
	}
	g.active[sessionID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.active, sessionID)
			g.mu.Unlock()
		})
	}, true
}

// Active reports whether sessionID currently holds the flag.
func (g *LocalGuard) Active(sessionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.active[sessionID]
	return ok
}

// LeaseGuard extends LocalGuard across instances with an expiring store
// key. The local flag is taken first so one process never races itself.
type LeaseGuard struct {
	local  *LocalGuard
	client store.Client
	ttl    time.Duration
}

// NewLeaseGuard creates a guard whose leases expire after ttl if the
// holder dies before releasing.
func NewLeaseGuard(client store.Client, ttl time.Duration) *LeaseGuard {
	return &LeaseGuard{local: NewLocalGuard(), client: client, ttl: ttl}
}

func (g *LeaseGuard) Acquire(ctx context.Context, sessionID string) (func(), bool) {
	releaseLocal, ok := g.local.Acquire(ctx, sessionID)
	if !ok {
		return nil, false
	}

	token := uuid.NewString()
	key := store.LeaseKey(sessionID)
	held, err := g.client.SetNX(ctx, key, token, g.ttl)
	if err != nil {
		debugLog.Session("warn", sessionID, "could not acquire compaction lease", err)
		releaseLocal()
		return nil, false
	}
	if !held {
		releaseLocal()
		return nil, false
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The request context may be gone by the time the task ends.
			if _, err := g.client.DelIfEqual(context.Background(), key, token); err != nil {
				debugLog.Session("warn", sessionID, "could not release compaction lease", err)
			}
			releaseLocal()
		})
	}, true
}
