package slots

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sandchest/control/pkg/coordination"
	"github.com/sandchest/control/pkg/metrics"
	"github.com/sandchest/control/pkg/types"
)

// Manager hands out per-(node, slot) capacity leases. A lease pins one
// sandbox to one physical VM slot; two sandboxes can never hold live
// leases on the same slot.
type Manager struct {
	store coordination.Store
	now   func() time.Time
}

// NewManager creates a slot lease manager over the coordination store.
func NewManager(store coordination.Store) *Manager {
	return &Manager{store: store, now: time.Now}
}

func leaseKey(nodeID string, slot int) string {
	return fmt.Sprintf("slot.%s.%d", nodeID, slot)
}

// Acquire reserves (nodeID, slot) for sandboxID until now+ttl. It never
// overwrites a live lease: acquisition fails if an unexpired lease
// exists, and succeeds over an expired one only through a revision-
// checked takeover.
func (m *Manager) Acquire(ctx context.Context, nodeID string, slot int, sandboxID string, ttl time.Duration) (bool, error) {
	now := m.now()
	lease := types.SlotLease{
		NodeID:    nodeID,
		Slot:      slot,
		SandboxID: sandboxID,
		ExpiresAt: now.Add(ttl),
	}
	value, err := json.Marshal(lease)
	if err != nil {
		return false, err
	}

	key := leaseKey(nodeID, slot)
	entry, err := m.store.Get(ctx, key)
	if errors.Is(err, coordination.ErrKeyNotFound) {
		if _, err := m.store.Create(ctx, key, value); err != nil {
			if errors.Is(err, coordination.ErrKeyExists) {
				metrics.SlotLeaseOps.WithLabelValues("acquire", "held").Inc()
				return false, nil
			}
			return false, err
		}
		metrics.SlotLeaseOps.WithLabelValues("acquire", "ok").Inc()
		return true, nil
	}
	if err != nil {
		return false, err
	}

	var current types.SlotLease
	if err := json.Unmarshal(entry.Value, &current); err != nil {
		return false, fmt.Errorf("corrupt lease at %s: %w", key, err)
	}
	if !current.Expired(now) {
		metrics.SlotLeaseOps.WithLabelValues("acquire", "held").Inc()
		return false, nil
	}

	if _, err := m.store.Update(ctx, key, value, entry.Revision); err != nil {
		if errors.Is(err, coordination.ErrRevisionMismatch) {
			metrics.SlotLeaseOps.WithLabelValues("acquire", "held").Inc()
			return false, nil
		}
		return false, err
	}
	metrics.SlotLeaseOps.WithLabelValues("acquire", "ok").Inc()
	return true, nil
}

// Renew extends an existing live lease to now+ttl. It returns false if
// no lease exists or the lease already expired: the caller must treat
// the slot as lost rather than keep using a lease it may have lost to
// another sandbox in an expiry race.
func (m *Manager) Renew(ctx context.Context, nodeID string, slot int, ttl time.Duration) (bool, error) {
	now := m.now()
	key := leaseKey(nodeID, slot)

	entry, err := m.store.Get(ctx, key)
	if errors.Is(err, coordination.ErrKeyNotFound) {
		metrics.SlotLeaseOps.WithLabelValues("renew", "lost").Inc()
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var lease types.SlotLease
	if err := json.Unmarshal(entry.Value, &lease); err != nil {
		return false, fmt.Errorf("corrupt lease at %s: %w", key, err)
	}
	if lease.Expired(now) {
		metrics.SlotLeaseOps.WithLabelValues("renew", "lost").Inc()
		return false, nil
	}

	lease.ExpiresAt = now.Add(ttl)
	value, err := json.Marshal(lease)
	if err != nil {
		return false, err
	}
	if _, err := m.store.Update(ctx, key, value, entry.Revision); err != nil {
		if errors.Is(err, coordination.ErrRevisionMismatch) {
			metrics.SlotLeaseOps.WithLabelValues("renew", "lost").Inc()
			return false, nil
		}
		return false, err
	}
	metrics.SlotLeaseOps.WithLabelValues("renew", "ok").Inc()
	return true, nil
}

// Release frees the slot unconditionally. Releasing a free slot is a
// no-op.
func (m *Manager) Release(ctx context.Context, nodeID string, slot int) error {
	metrics.SlotLeaseOps.WithLabelValues("release", "ok").Inc()
	return m.store.Delete(ctx, leaseKey(nodeID, slot))
}

// ReleaseBySandbox frees every lease held by the given sandbox on the
// given node. Used when a sandbox is torn down without knowing its
// slot index.
func (m *Manager) ReleaseBySandbox(ctx context.Context, nodeID, sandboxID string) error {
	keys, err := m.store.Keys(ctx, "slot."+nodeID+".")
	if err != nil {
		return err
	}
	for _, key := range keys {
		entry, err := m.store.Get(ctx, key)
		if err != nil {
			continue
		}
		var lease types.SlotLease
		if err := json.Unmarshal(entry.Value, &lease); err != nil {
			continue
		}
		if lease.SandboxID == sandboxID {
			if err := m.store.Delete(ctx, key); err != nil {
				return err
			}
		}
	}
	return nil
}
