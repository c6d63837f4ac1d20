package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/sandchest/control/pkg/events"
	"github.com/sandchest/control/pkg/log"
	"github.com/sandchest/control/pkg/quota"
	"github.com/sandchest/control/pkg/storage"
	"github.com/sandchest/control/pkg/types"
	"github.com/sandchest/control/pkg/worker"
)

// NewIdleShutdown stops running sandboxes idle beyond their org's idle
// timeout. The scan uses a fixed floor to bound the candidate set, then
// applies the per-org quota row by row; quota lookups are cached for
// the duration of the tick.
func NewIdleShutdown(d Deps) *worker.Worker {
	logger := log.WithWorker("idle-shutdown")

	return &worker.Worker{
		Name:     "idle-shutdown",
		Interval: 60 * time.Second,
		Handler: func(ctx context.Context) (int, error) {
			now := time.Now()
			candidates, err := d.Store.FindIdleSince(now.Add(-idleScanFloor), candidateLimit)
			if err != nil {
				return 0, fmt.Errorf("find idle: %w", err)
			}

			limitsByOrg := make(map[string]quota.Limits)
			processed := 0
			for _, sb := range candidates {
				limits, ok := limitsByOrg[sb.OrgID]
				if !ok {
					limits = d.Quotas.Resolve(ctx, sb.OrgID)
					limitsByOrg[sb.OrgID] = limits
				}

				if sb.LastActivityAt == nil || now.Sub(*sb.LastActivityAt) <= limits.IdleTimeout() {
					continue
				}

				if sb.NodeID != "" {
					if err := d.NodeClient.StopSandbox(ctx, sb.NodeID, sb.ID); err != nil {
						logger.Warn().Err(err).Str("sandbox_id", sb.ID).Msg("node stop failed")
					}
				}

				ended := now
				changed, err := d.Store.UpdateStatus(sb.ID, sb.OrgID, types.SandboxStopped, storage.StatusExtra{
					Reason:  types.ReasonIdleTimeout,
					EndedAt: &ended,
				})
				if err != nil {
					logger.Error().Err(err).Str("sandbox_id", sb.ID).Msg("status update failed")
					continue
				}
				if !changed {
					continue
				}

				if sb.NodeID != "" {
					if err := d.Slots.ReleaseBySandbox(ctx, sb.NodeID, sb.ID); err != nil {
						logger.Warn().Err(err).Str("sandbox_id", sb.ID).Msg("slot release failed")
					}
				}
				d.Recorder.Record(&events.Event{
					Type:      events.EventSandboxStopped,
					SandboxID: sb.ID,
					OrgID:     sb.OrgID,
					Message:   "idle timeout",
				})
				processed++
			}
			return processed, nil
		},
	}
}
