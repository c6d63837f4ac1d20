package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/sandchest/control/pkg/events"
	"github.com/sandchest/control/pkg/log"
	"github.com/sandchest/control/pkg/storage"
	"github.com/sandchest/control/pkg/types"
	"github.com/sandchest/control/pkg/worker"
)

// NewVMTeardown force-destroys sandboxes stuck in stopping beyond the
// grace period. The graceful stop already had its chance; destroy is
// fire-and-forget and the row is marked stopped regardless.
func NewVMTeardown(d Deps) *worker.Worker {
	logger := log.WithWorker("vm-teardown")

	return &worker.Worker{
		Name:     "vm-teardown",
		Interval: 15 * time.Second,
		Handler: func(ctx context.Context) (int, error) {
			now := time.Now()
			stuck, err := d.Store.FindStoppingBefore(now.Add(-stoppingGrace), candidateLimit)
			if err != nil {
				return 0, fmt.Errorf("find stopping: %w", err)
			}

			processed := 0
			for _, sb := range stuck {
				if sb.NodeID != "" {
					if err := d.NodeClient.DestroySandbox(ctx, sb.NodeID, sb.ID); err != nil {
						logger.Warn().Err(err).Str("sandbox_id", sb.ID).Msg("node destroy failed")
					}
				}

				ended := now
				changed, err := d.Store.UpdateStatus(sb.ID, sb.OrgID, types.SandboxStopped, storage.StatusExtra{
					EndedAt: &ended, // forced; no failure reason
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
					Message:   "teardown forced after stopping grace",
				})
				processed++
			}
			return processed, nil
		},
	}
}
