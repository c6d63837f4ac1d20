package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sandchest/control/pkg/events"
	"github.com/sandchest/control/pkg/log"
	"github.com/sandchest/control/pkg/objectstore"
	"github.com/sandchest/control/pkg/quota"
	"github.com/sandchest/control/pkg/types"
	"github.com/sandchest/control/pkg/worker"
)

// NewReplayRetention runs two phases over terminal sandboxes. Phase one
// assigns a replay expiry to rows that ended without one, from the
// org's retention quota. Phase two purges replays whose expiry has
// passed and stamps the purged sentinel so the row is never selected
// again. A row assigned an already-elapsed expiry in phase one is
// eligible for phase two in the same pass.
func NewReplayRetention(d Deps) *worker.Worker {
	logger := log.WithWorker("replay-retention")

	return &worker.Worker{
		Name: "replay-retention",
		Cron: "@every 1h",
		Handler: func(ctx context.Context) (int, error) {
			now := time.Now()
			processed := 0

			missing, err := d.Store.FindMissingReplayExpiry(candidateLimit)
			if err != nil {
				return 0, fmt.Errorf("find missing replay expiry: %w", err)
			}

			limitsByOrg := make(map[string]quota.Limits)
			for _, sb := range missing {
				if sb.EndedAt == nil {
					continue
				}
				limits, ok := limitsByOrg[sb.OrgID]
				if !ok {
					limits = d.Quotas.Resolve(ctx, sb.OrgID)
					limitsByOrg[sb.OrgID] = limits
				}

				expiry := sb.EndedAt.AddDate(0, 0, limits.ReplayRetentionDays)
				if err := d.Store.SetReplayExpiresAt(sb.ID, expiry); err != nil {
					logger.Error().Err(err).Str("sandbox_id", sb.ID).Msg("replay expiry assignment failed")
					continue
				}
				processed++
			}

			purgable, err := d.Store.FindPurgableReplays(now, candidateLimit)
			if err != nil {
				return processed, fmt.Errorf("find purgable replays: %w", err)
			}

			for _, sb := range purgable {
				if err := d.Objects.DeleteObject(ctx, objectstore.ReplayKey(sb.ID)); err != nil && !errors.Is(err, objectstore.ErrNotFound) {
					logger.Warn().Err(err).Str("sandbox_id", sb.ID).Msg("replay delete failed")
					continue
				}
				if err := d.Store.SetReplayExpiresAt(sb.ID, types.ReplayPurgedSentinel); err != nil {
					logger.Error().Err(err).Str("sandbox_id", sb.ID).Msg("sentinel stamp failed")
					continue
				}

				d.Recorder.Record(&events.Event{
					Type:      events.EventReplayPurged,
					SandboxID: sb.ID,
					OrgID:     sb.OrgID,
					Message:   "replay retention elapsed",
				})
				processed++
			}
			return processed, nil
		},
	}
}
