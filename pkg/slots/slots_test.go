package slots

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandchest/control/pkg/coordination"
)

// TestAcquireExclusive verifies concurrent acquisitions of one slot
// grant exactly one lease.
func TestAcquireExclusive(t *testing.T) {
	store := coordination.NewMemoryStore()
	mgr := NewManager(store)
	ctx := context.Background()

	const contenders = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	won := 0

	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(sandboxID string) {
			defer wg.Done()
			ok, err := mgr.Acquire(ctx, "node-1", 0, sandboxID, time.Minute)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}(string(rune('a' + i)))
	}
	wg.Wait()

	assert.Equal(t, 1, won, "one lease per (node, slot)")
}

// TestAcquireNeverOverwritesLiveLease verifies a live lease blocks
// acquisition until released.
func TestAcquireNeverOverwritesLiveLease(t *testing.T) {
	store := coordination.NewMemoryStore()
	mgr := NewManager(store)
	ctx := context.Background()

	ok, err := mgr.Acquire(ctx, "node-1", 3, "sb-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = mgr.Acquire(ctx, "node-1", 3, "sb-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mgr.Release(ctx, "node-1", 3))

	ok, err = mgr.Acquire(ctx, "node-1", 3, "sb-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

// TestExpiredLeaseTakeover verifies an expired lease is claimable and
// the previous holder loses renewal.
func TestExpiredLeaseTakeover(t *testing.T) {
	store := coordination.NewMemoryStore()
	mgr := NewManager(store)
	ctx := context.Background()

	base := time.Now()
	mgr.now = func() time.Time { return base }
	ok, err := mgr.Acquire(ctx, "node-1", 0, "sb-1", 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mgr.now = func() time.Time { return base.Add(time.Minute) }
	ok, err = mgr.Acquire(ctx, "node-1", 0, "sb-2", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "expired lease is claimable")

	ok, err = mgr.Renew(ctx, "node-1", 0, 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "new holder's lease is renewable")
}

// TestRenewLostLease verifies renewal fails once the lease expired or
// was never taken.
func TestRenewLostLease(t *testing.T) {
	store := coordination.NewMemoryStore()
	mgr := NewManager(store)
	ctx := context.Background()

	ok, err := mgr.Renew(ctx, "node-1", 0, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "no lease to renew")

	base := time.Now()
	mgr.now = func() time.Time { return base }
	ok, err = mgr.Acquire(ctx, "node-1", 0, "sb-1", 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mgr.now = func() time.Time { return base.Add(time.Minute) }
	ok, err = mgr.Renew(ctx, "node-1", 0, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "expired lease must be treated as lost")
}

// TestReleaseBySandbox verifies all of a sandbox's leases on a node are
// freed without knowing slot indices.
func TestReleaseBySandbox(t *testing.T) {
	store := coordination.NewMemoryStore()
	mgr := NewManager(store)
	ctx := context.Background()

	for _, slot := range []int{1, 4} {
		ok, err := mgr.Acquire(ctx, "node-1", slot, "sb-1", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, err := mgr.Acquire(ctx, "node-1", 2, "sb-other", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, mgr.ReleaseBySandbox(ctx, "node-1", "sb-1"))

	for _, slot := range []int{1, 4} {
		ok, err := mgr.Acquire(ctx, "node-1", slot, "sb-new", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "slot %d should be free", slot)
	}
	ok, err = mgr.Acquire(ctx, "node-1", 2, "sb-new", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "other sandbox's lease must survive")
}
