package compaction

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/memoryd/pkg/store"
)

func TestLocalGuardSingleFlight(t *testing.T) {
	g := NewLocalGuard()
	ctx := context.Background()

	var (
		acquired atomic.Int32
		releases = make(chan func(), 50)
		wg       sync.WaitGroup
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if release, ok := g.Acquire(ctx, "s1"); ok {
				acquired.Add(1)
				releases <- release
			}
		}()
	}
	wg.Wait()
	close(releases)

	assert.Equal(t, int32(1), acquired.Load())
	assert.True(t, g.Active("s1"))

	release := <-releases
	release()
	release()
	assert.False(t, g.Active("s1"))

	_, ok := g.Acquire(ctx, "s1")
	assert.True(t, ok, "flag is free again after release")
}

func TestLocalGuardIndependentSessions(t *testing.T) {
	g := NewLocalGuard()
	_, ok1 := g.Acquire(context.Background(), "a")
	_, ok2 := g.Acquire(context.Background(), "b")
	assert.True(t, ok1)
	assert.True(t, ok2)
}

func TestLeaseGuardAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := store.NewRedis(store.Options{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	first := NewLeaseGuard(client, time.Minute)
	second := NewLeaseGuard(client, time.Minute)

	release, ok := first.Acquire(ctx, "s1")
	require.True(t, ok)
	assert.True(t, mr.Exists(store.LeaseKey("s1")))

	_, ok = second.Acquire(ctx, "s1")
	assert.False(t, ok, "another instance holds the lease")
	assert.False(t, second.local.Active("s1"), "failed acquisition releases the local flag")

	release()
	assert.False(t, mr.Exists(store.LeaseKey("s1")))

	release2, ok := second.Acquire(ctx, "s1")
	require.True(t, ok)
	release2()
}

func TestLeaseGuardExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := store.NewRedis(store.Options{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	crashed := NewLeaseGuard(client, time.Second)
	_, ok := crashed.Acquire(ctx, "s1")
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	other := NewLeaseGuard(client, time.Second)
	release, ok := other.Acquire(ctx, "s1")
	require.True(t, ok, "expired lease can be taken over")
	release()
}

func TestLeaseGuardStoreDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := store.NewRedis(store.Options{URL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	defer client.Close()

	mr.Close()

	g := NewLeaseGuard(client, time.Minute)
	_, ok := g.Acquire(context.Background(), "s1")
	assert.False(t, ok)
	assert.False(t, g.local.Active("s1"))
}
