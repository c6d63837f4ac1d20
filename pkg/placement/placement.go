package placement

import (
	"context"
	"errors"
	"time"

	"github.com/sandchest/control/pkg/log"
	"github.com/sandchest/control/pkg/nodes"
	"github.com/sandchest/control/pkg/quota"
	"github.com/sandchest/control/pkg/slots"
	"github.com/sandchest/control/pkg/storage"
	"github.com/sandchest/control/pkg/types"
)

// staleAfter mirrors the orphan reconciliation window: a node that would
// be reconciled away must not receive new sandboxes either.
const staleAfter = 90 * time.Second

// leaseGrace pads the slot lease past the sandbox's own TTL so the
// lease outlives any legitimately running sandbox. Teardown releases it
// explicitly; expiry only mops up after crashes.
const leaseGrace = 10 * time.Minute

// ErrNoCapacity is returned when no alive node has a free slot.
var ErrNoCapacity = errors.New("placement: no capacity available")

// ErrNotQueued is returned when the sandbox left the queued state
// before placement could claim it.
var ErrNotQueued = errors.New("placement: sandbox no longer queued")

// Placer assigns queued sandboxes to a (node, slot) pair. A slot lease
// is acquired before the row transitions so capacity can never be
// double-booked; losing the state transition after winning the lease
// just releases the lease again.
type Placer struct {
	store  storage.Store
	nodes  *nodes.Registry
	slots  *slots.Manager
	quotas *quota.Resolver
}

// NewPlacer creates a placer over the given collaborators.
func NewPlacer(store storage.Store, registry *nodes.Registry, slotMgr *slots.Manager, quotas *quota.Resolver) *Placer {
	return &Placer{store: store, nodes: registry, slots: slotMgr, quotas: quotas}
}

// Place picks a node and slot for the sandbox, acquires the lease, and
// moves the row to provisioning. It returns ErrNoCapacity when every
// alive node is full; the sandbox stays queued and queue-timeout is the
// backstop.
func (p *Placer) Place(ctx context.Context, sb *types.Sandbox) (string, int, error) {
	alive, err := p.nodes.Alive(ctx, staleAfter)
	if err != nil {
		return "", 0, err
	}
	candidates, err := p.store.ListNodes()
	if err != nil {
		return "", 0, err
	}

	limits := p.quotas.Resolve(ctx, sb.OrgID)
	leaseTTL := time.Duration(limits.MaxTTLSeconds)*time.Second + leaseGrace

	logger := log.WithComponent("placement")
	for _, node := range candidates {
		if !alive[node.ID] || node.SlotsUsed >= node.SlotsTotal {
			continue
		}
		for slot := 0; slot < node.SlotsTotal; slot++ {
			acquired, err := p.slots.Acquire(ctx, node.ID, slot, sb.ID, leaseTTL)
			if err != nil {
				return "", 0, err
			}
			if !acquired {
				continue
			}

			changed, err := p.store.UpdateStatus(sb.ID, sb.OrgID, types.SandboxProvisioning, storage.StatusExtra{
				NodeID: node.ID,
			})
			if err != nil || !changed {
				// Lost the transition (or the store); hand the slot back.
				if relErr := p.slots.Release(ctx, node.ID, slot); relErr != nil {
					logger.Warn().Err(relErr).Str("sandbox_id", sb.ID).Msg("slot release after failed placement")
				}
				if err != nil {
					return "", 0, err
				}
				return "", 0, ErrNotQueued
			}

			logger.Info().
				Str("sandbox_id", sb.ID).
				Str("node_id", node.ID).
				Int("slot", slot).
				Msg("sandbox placed")
			return node.ID, slot, nil
		}
	}
	return "", 0, ErrNoCapacity
}
