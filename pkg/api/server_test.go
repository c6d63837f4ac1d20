package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandchest/control/pkg/coordination"
	"github.com/sandchest/control/pkg/leader"
	"github.com/sandchest/control/pkg/log"
	"github.com/sandchest/control/pkg/metrics"
	"github.com/sandchest/control/pkg/nodes"
	"github.com/sandchest/control/pkg/storage"
	"github.com/sandchest/control/pkg/types"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
	os.Exit(m.Run())
}

func newTestServer(t *testing.T, ready bool) (*Server, *storage.BoltStore, *leader.Locks) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	locks := leader.NewLocks(coordination.NewMemoryStore())
	s := NewServer(":0", store, locks, nodes.NewRegistry(store), func() bool { return ready })
	return s, store, locks
}

func do(s *Server, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	s, _, _ := newTestServer(t, true)
	w := do(s, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReadyz(t *testing.T) {
	s, _, _ := newTestServer(t, false)
	w := do(s, http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	s, _, _ = newTestServer(t, true)
	w = do(s, http.MethodGet, "/readyz")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t, true)
	metrics.WorkerTicksTotal.WithLabelValues("ttl-enforcement", "ok").Inc()

	w := do(s, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "sandchest_worker_ticks_total")
}

func TestAdminWorkers(t *testing.T) {
	s, _, locks := newTestServer(t, true)
	require.True(t, locks.AcquireOrRenew(context.Background(), "ttl-enforcement", "inst-1", time.Minute))

	w := do(s, http.MethodGet, "/v1/admin/workers")
	require.Equal(t, http.StatusOK, w.Code)

	var statuses []leader.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &statuses))
	require.Len(t, statuses, 1)
	assert.Equal(t, "ttl-enforcement", statuses[0].Worker)
}

func TestAdminNodes(t *testing.T) {
	s, store, _ := newTestServer(t, true)
	require.NoError(t, store.PutNode(&types.Node{
		ID: "node-1", Status: types.NodeStatusReady, LastHeartbeat: time.Now(), SlotsTotal: 256,
	}))

	w := do(s, http.MethodGet, "/v1/admin/nodes")
	require.Equal(t, http.StatusOK, w.Code)

	var statuses []nodes.Liveness
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &statuses))
	require.Len(t, statuses, 1)
	assert.Equal(t, "node-1", statuses[0].NodeID)
}

func TestAdminSandboxes(t *testing.T) {
	s, store, _ := newTestServer(t, true)
	require.NoError(t, store.CreateSandbox(&types.Sandbox{
		ID: "sb-1", OrgID: "org-1", Status: types.SandboxRunning,
	}))

	w := do(s, http.MethodGet, "/v1/admin/sandboxes")
	require.Equal(t, http.StatusOK, w.Code)

	var sandboxes []types.Sandbox
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sandboxes))
	require.Len(t, sandboxes, 1)
}
