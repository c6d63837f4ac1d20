package placement

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandchest/control/pkg/coordination"
	"github.com/sandchest/control/pkg/log"
	"github.com/sandchest/control/pkg/nodes"
	"github.com/sandchest/control/pkg/quota"
	"github.com/sandchest/control/pkg/slots"
	"github.com/sandchest/control/pkg/storage"
	"github.com/sandchest/control/pkg/types"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
	os.Exit(m.Run())
}

type env struct {
	placer *Placer
	store  *storage.BoltStore
	slots  *slots.Manager
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	slotMgr := slots.NewManager(coordination.NewMemoryStore())
	placer := NewPlacer(store, nodes.NewRegistry(store), slotMgr, quota.NewResolver(store))
	return &env{placer: placer, store: store, slots: slotMgr}
}

func TestPlaceOnAliveNode(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, e.store.PutNode(&types.Node{
		ID: "node-1", SlotsTotal: 4, Status: types.NodeStatusReady,
		LastHeartbeat: now.Add(-5 * time.Second),
	}))

	sb := &types.Sandbox{ID: "sb-1", OrgID: "org-1", Status: types.SandboxQueued, CreatedAt: now}
	require.NoError(t, e.store.CreateSandbox(sb))

	nodeID, slot, err := e.placer.Place(ctx, sb)
	require.NoError(t, err)
	assert.Equal(t, "node-1", nodeID)

	got, err := e.store.GetSandbox("sb-1")
	require.NoError(t, err)
	assert.Equal(t, types.SandboxProvisioning, got.Status)
	assert.Equal(t, "node-1", got.NodeID)

	// The slot is leased: nobody else can take it.
	ok, err := e.slots.Acquire(ctx, "node-1", slot, "sb-other", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPlaceSkipsDeadAndFullNodes(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, e.store.PutNode(&types.Node{
		ID: "dead", SlotsTotal: 4, Status: types.NodeStatusReady,
		LastHeartbeat: now.Add(-10 * time.Minute),
	}))
	require.NoError(t, e.store.PutNode(&types.Node{
		ID: "full", SlotsTotal: 2, SlotsUsed: 2, Status: types.NodeStatusReady,
		LastHeartbeat: now.Add(-5 * time.Second),
	}))

	sb := &types.Sandbox{ID: "sb-1", OrgID: "org-1", Status: types.SandboxQueued, CreatedAt: now}
	require.NoError(t, e.store.CreateSandbox(sb))

	_, _, err := e.placer.Place(ctx, sb)
	assert.ErrorIs(t, err, ErrNoCapacity)

	got, err := e.store.GetSandbox("sb-1")
	require.NoError(t, err)
	assert.Equal(t, types.SandboxQueued, got.Status, "failed placement leaves the sandbox queued")
}

func TestPlaceFillsSlots(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, e.store.PutNode(&types.Node{
		ID: "node-1", SlotsTotal: 2, Status: types.NodeStatusReady,
		LastHeartbeat: now.Add(-5 * time.Second),
	}))

	seen := map[int]bool{}
	for _, id := range []string{"sb-1", "sb-2"} {
		sb := &types.Sandbox{ID: id, OrgID: "org-1", Status: types.SandboxQueued, CreatedAt: now}
		require.NoError(t, e.store.CreateSandbox(sb))

		_, slot, err := e.placer.Place(ctx, sb)
		require.NoError(t, err)
		assert.False(t, seen[slot], "each sandbox gets a distinct slot")
		seen[slot] = true
	}

	// Node is out of leases now.
	sb := &types.Sandbox{ID: "sb-3", OrgID: "org-1", Status: types.SandboxQueued, CreatedAt: now}
	require.NoError(t, e.store.CreateSandbox(sb))
	_, _, err := e.placer.Place(ctx, sb)
	assert.ErrorIs(t, err, ErrNoCapacity)
}

func TestPlaceReleasesLeaseWhenRowMoved(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, e.store.PutNode(&types.Node{
		ID: "node-1", SlotsTotal: 1, Status: types.NodeStatusReady,
		LastHeartbeat: now.Add(-5 * time.Second),
	}))

	// The sandbox already failed (queue timeout won the race).
	sb := &types.Sandbox{ID: "sb-1", OrgID: "org-1", Status: types.SandboxQueued, CreatedAt: now}
	require.NoError(t, e.store.CreateSandbox(sb))
	changed, err := e.store.UpdateStatus("sb-1", "org-1", types.SandboxFailed, storage.StatusExtra{
		Reason: types.ReasonQueueTimeout,
	})
	require.NoError(t, err)
	require.True(t, changed)

	_, _, err = e.placer.Place(ctx, sb)
	assert.ErrorIs(t, err, ErrNotQueued)

	// The lease grabbed during the attempt was handed back.
	ok, err := e.slots.Acquire(ctx, "node-1", 0, "sb-other", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
