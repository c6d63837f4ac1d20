package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/sandchest/control/pkg/events"
	"github.com/sandchest/control/pkg/log"
	"github.com/sandchest/control/pkg/metrics"
	"github.com/sandchest/control/pkg/storage"
	"github.com/sandchest/control/pkg/types"
	"github.com/sandchest/control/pkg/worker"
)

// NewOrphanReconciliation handles sandboxes whose node stopped
// heartbeating. A provisioning sandbox never ran, so it is requeued for
// placement elsewhere; a running sandbox's true state is unknowable, so
// it is stopped with reason orphaned and its slot leases released.
func NewOrphanReconciliation(d Deps) *worker.Worker {
	logger := log.WithWorker("orphan-reconciliation")

	return &worker.Worker{
		Name:     "orphan-reconciliation",
		Interval: 30 * time.Second,
		Handler: func(ctx context.Context) (int, error) {
			alive, err := d.Nodes.Alive(ctx, orphanStaleAfter)
			if err != nil {
				return 0, fmt.Errorf("list alive nodes: %w", err)
			}

			active, err := d.Store.FindActive(candidateLimit)
			if err != nil {
				return 0, fmt.Errorf("find active: %w", err)
			}

			now := time.Now()
			processed := 0
			for _, sb := range active {
				if sb.NodeID == "" || alive[sb.NodeID] {
					continue
				}

				var changed bool
				if sb.Status == types.SandboxProvisioning {
					changed, err = d.Store.UpdateStatus(sb.ID, sb.OrgID, types.SandboxQueued, storage.StatusExtra{
						ClearNode: true,
					})
				} else {
					ended := now
					changed, err = d.Store.UpdateStatus(sb.ID, sb.OrgID, types.SandboxStopped, storage.StatusExtra{
						Reason:  types.ReasonOrphaned,
						EndedAt: &ended,
					})
				}
				if err != nil {
					logger.Error().Err(err).Str("sandbox_id", sb.ID).Msg("status update failed")
					continue
				}
				if !changed {
					continue
				}

				if err := d.Slots.ReleaseBySandbox(ctx, sb.NodeID, sb.ID); err != nil {
					logger.Warn().Err(err).Str("sandbox_id", sb.ID).Msg("slot release failed")
				}
				d.Recorder.Record(&events.Event{
					Type:      events.EventSandboxOrphaned,
					SandboxID: sb.ID,
					OrgID:     sb.OrgID,
					Message:   "node " + sb.NodeID + " lost heartbeat",
				})
				processed++
			}

			refreshSandboxGauges(d.Store)
			return processed, nil
		},
	}
}

// refreshSandboxGauges recounts sandboxes by status. Piggybacked on
// this worker's tick since it already walks the fleet state.
func refreshSandboxGauges(store storage.Store) {
	all, err := store.ListSandboxes()
	if err != nil {
		return
	}
	counts := map[types.SandboxStatus]int{
		types.SandboxQueued: 0, types.SandboxProvisioning: 0,
		types.SandboxRunning: 0, types.SandboxStopping: 0,
		types.SandboxStopped: 0, types.SandboxFailed: 0,
	}
	for _, sb := range all {
		counts[sb.Status]++
	}
	for status, n := range counts {
		metrics.SandboxesTotal.WithLabelValues(string(status)).Set(float64(n))
	}
}
