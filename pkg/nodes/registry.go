package nodes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/sandchest/control/pkg/log"
	"github.com/sandchest/control/pkg/metrics"
	"github.com/sandchest/control/pkg/storage"
	"github.com/sandchest/control/pkg/types"
)

// HeartbeatSubject is where node agents publish their liveness reports.
const HeartbeatSubject = "sandchest.heartbeat"

// Heartbeat is the wire form of a node liveness report.
type Heartbeat struct {
	NodeID     string   `json:"node_id"`
	Address    string   `json:"address"`
	SlotsTotal int      `json:"slots_total"`
	SlotsUsed  int      `json:"slots_used"`
	ActiveIDs  []string `json:"active_sandbox_ids"`
}

// Registry tracks node liveness from heartbeat reports and answers
// which nodes are considered alive.
type Registry struct {
	store storage.Store
	sub   *nats.Subscription
	now   func() time.Time
}

// NewRegistry creates a registry over the given store.
func NewRegistry(store storage.Store) *Registry {
	return &Registry{store: store, now: time.Now}
}

// Subscribe starts consuming heartbeats from NATS. Call Stop to drain.
func (r *Registry) Subscribe(nc *nats.Conn) error {
	sub, err := nc.Subscribe(HeartbeatSubject, func(msg *nats.Msg) {
		var hb Heartbeat
		if err := json.Unmarshal(msg.Data, &hb); err != nil {
			logger := log.WithComponent("nodes")
			logger.Warn().Err(err).Msg("malformed heartbeat")
			return
		}
		if err := r.Record(hb); err != nil {
			logger := log.WithComponent("nodes")
			logger.Error().Err(err).Str("node_id", hb.NodeID).Msg("failed to record heartbeat")
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", HeartbeatSubject, err)
	}
	r.sub = sub
	return nil
}

// Stop drains the heartbeat subscription.
func (r *Registry) Stop() {
	if r.sub != nil {
		_ = r.sub.Drain()
	}
}

// Record upserts the node row for a heartbeat.
func (r *Registry) Record(hb Heartbeat) error {
	now := r.now()
	node, err := r.store.GetNode(hb.NodeID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		node = &types.Node{ID: hb.NodeID, CreatedAt: now}
	}

	node.Address = hb.Address
	node.SlotsTotal = hb.SlotsTotal
	node.SlotsUsed = hb.SlotsUsed
	node.ActiveIDs = hb.ActiveIDs
	node.Status = types.NodeStatusReady
	node.LastHeartbeat = now
	return r.store.PutNode(node)
}

// Alive returns the set of node IDs whose last heartbeat is within
// staleAfter. Nodes outside the window are marked down in the store so
// the admin surface reflects reality.
func (r *Registry) Alive(ctx context.Context, staleAfter time.Duration) (map[string]bool, error) {
	nodes, err := r.store.ListNodes()
	if err != nil {
		return nil, err
	}

	now := r.now()
	alive := make(map[string]bool, len(nodes))
	for _, node := range nodes {
		if now.Sub(node.LastHeartbeat) <= staleAfter {
			alive[node.ID] = true
			continue
		}
		if node.Status != types.NodeStatusDown {
			logger := log.WithNodeID(node.ID)
			logger.Warn().
				Dur("since_heartbeat", now.Sub(node.LastHeartbeat)).
				Msg("node is down (no heartbeat)")
			node.Status = types.NodeStatusDown
			if err := r.store.PutNode(node); err != nil {
				logger.Error().Err(err).Msg("failed to mark node down")
			}
		}
	}

	metrics.NodesTotal.WithLabelValues(string(types.NodeStatusReady)).Set(float64(len(alive)))
	metrics.NodesTotal.WithLabelValues(string(types.NodeStatusDown)).Set(float64(len(nodes) - len(alive)))
	return alive, nil
}

// Liveness describes one node for the admin diagnostic surface.
type Liveness struct {
	NodeID        string    `json:"node_id"`
	Status        string    `json:"status"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	SlotsTotal    int       `json:"slots_total"`
	SlotsUsed     int       `json:"slots_used"`
}

// Statuses returns per-node heartbeat liveness for diagnostics.
func (r *Registry) Statuses(ctx context.Context) ([]Liveness, error) {
	nodes, err := r.store.ListNodes()
	if err != nil {
		return nil, err
	}
	out := make([]Liveness, 0, len(nodes))
	for _, node := range nodes {
		out = append(out, Liveness{
			NodeID:        node.ID,
			Status:        string(node.Status),
			LastHeartbeat: node.LastHeartbeat,
			SlotsTotal:    node.SlotsTotal,
			SlotsUsed:     node.SlotsUsed,
		})
	}
	return out, nil
}
