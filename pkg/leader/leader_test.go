package leader

import (
	"context"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandchest/control/pkg/coordination"
	"github.com/sandchest/control/pkg/log"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
	os.Exit(m.Run())
}

// TestAcquireExclusive verifies that concurrent claimants for one lock
// produce exactly one holder.
func TestAcquireExclusive(t *testing.T) {
	store := coordination.NewMemoryStore()
	locks := NewLocks(store)
	ctx := context.Background()

	const claimants = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := []string{}

	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func(instance string) {
			defer wg.Done()
			if locks.AcquireOrRenew(ctx, "ttl-enforcement", instance, time.Minute) {
				mu.Lock()
				winners = append(winners, instance)
				mu.Unlock()
			}
		}(string(rune('a' + i)))
	}
	wg.Wait()

	require.Len(t, winners, 1, "exactly one claimant must win the lock")
}

// TestRenewalAndFencing verifies the holder can renew while others
// cannot take a live lock.
func TestRenewalAndFencing(t *testing.T) {
	store := coordination.NewMemoryStore()
	locks := NewLocks(store)
	ctx := context.Background()

	require.True(t, locks.AcquireOrRenew(ctx, "vm-teardown", "inst-1", time.Minute))

	assert.True(t, locks.AcquireOrRenew(ctx, "vm-teardown", "inst-1", time.Minute), "holder renews")
	assert.False(t, locks.AcquireOrRenew(ctx, "vm-teardown", "inst-2", time.Minute), "non-holder fenced out")
}

// TestExpiredLockTakeover verifies a lapsed lock can be claimed by a
// new instance.
func TestExpiredLockTakeover(t *testing.T) {
	store := coordination.NewMemoryStore()
	locks := NewLocks(store)
	ctx := context.Background()

	base := time.Now()
	locks.now = func() time.Time { return base }
	require.True(t, locks.AcquireOrRenew(ctx, "idle-shutdown", "inst-1", 30*time.Second))

	// Still live: takeover refused.
	locks.now = func() time.Time { return base.Add(20 * time.Second) }
	assert.False(t, locks.AcquireOrRenew(ctx, "idle-shutdown", "inst-2", 30*time.Second))

	// Lapsed: takeover allowed, old holder fenced out.
	locks.now = func() time.Time { return base.Add(45 * time.Second) }
	assert.True(t, locks.AcquireOrRenew(ctx, "idle-shutdown", "inst-2", 30*time.Second))
	assert.False(t, locks.AcquireOrRenew(ctx, "idle-shutdown", "inst-1", 30*time.Second))
}

// TestLocksAreIndependent verifies different worker names do not
// contend for the same lock.
func TestLocksAreIndependent(t *testing.T) {
	store := coordination.NewMemoryStore()
	locks := NewLocks(store)
	ctx := context.Background()

	assert.True(t, locks.AcquireOrRenew(ctx, "ttl-enforcement", "inst-1", time.Minute))
	assert.True(t, locks.AcquireOrRenew(ctx, "queue-timeout", "inst-2", time.Minute))
}

// TestStatuses verifies the diagnostic listing reflects held locks.
func TestStatuses(t *testing.T) {
	store := coordination.NewMemoryStore()
	locks := NewLocks(store)
	ctx := context.Background()

	require.True(t, locks.AcquireOrRenew(ctx, "ttl-enforcement", "inst-1", time.Minute))

	statuses, err := locks.Statuses(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, "ttl-enforcement", statuses[0].Worker)
	assert.Equal(t, "inst-1", statuses[0].Holder)
	assert.True(t, statuses[0].Active)
}
