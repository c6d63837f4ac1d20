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

// NewQueueTimeout fails sandboxes stuck in queued past the fixed
// threshold. No node is involved: a queued sandbox was never placed.
func NewQueueTimeout(d Deps) *worker.Worker {
	logger := log.WithWorker("queue-timeout")

	return &worker.Worker{
		Name:     "queue-timeout",
		Interval: 5 * time.Second,
		Handler: func(ctx context.Context) (int, error) {
			now := time.Now()
			stale, err := d.Store.FindQueuedBefore(now.Add(-queueTimeout), candidateLimit)
			if err != nil {
				return 0, fmt.Errorf("find queued: %w", err)
			}

			processed := 0
			for _, sb := range stale {
				ended := now
				changed, err := d.Store.UpdateStatus(sb.ID, sb.OrgID, types.SandboxFailed, storage.StatusExtra{
					Reason:  types.ReasonQueueTimeout,
					EndedAt: &ended,
				})
				if err != nil {
					logger.Error().Err(err).Str("sandbox_id", sb.ID).Msg("status update failed")
					continue
				}
				if !changed {
					continue
				}

				d.Recorder.Record(&events.Event{
					Type:      events.EventSandboxFailed,
					SandboxID: sb.ID,
					OrgID:     sb.OrgID,
					Message:   "queue timeout",
				})
				processed++
			}
			return processed, nil
		},
	}
}
