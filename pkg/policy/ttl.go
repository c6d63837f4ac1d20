package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sandchest/control/pkg/coordination"
	"github.com/sandchest/control/pkg/events"
	"github.com/sandchest/control/pkg/log"
	"github.com/sandchest/control/pkg/storage"
	"github.com/sandchest/control/pkg/types"
	"github.com/sandchest/control/pkg/worker"
)

// NewTTLEnforcement stops running sandboxes whose TTL has elapsed.
func NewTTLEnforcement(d Deps) *worker.Worker {
	logger := log.WithWorker("ttl-enforcement")

	return &worker.Worker{
		Name:     "ttl-enforcement",
		Interval: 30 * time.Second,
		Handler: func(ctx context.Context) (int, error) {
			now := time.Now()
			expired, err := d.Store.FindExpiredTTL(now, candidateLimit)
			if err != nil {
				return 0, fmt.Errorf("find expired ttl: %w", err)
			}

			processed := 0
			for _, sb := range expired {
				// Node errors are advisory: the stop command may be lost,
				// but orphan reconciliation covers that, and the local
				// transition must not be blocked.
				if sb.NodeID != "" {
					if err := d.NodeClient.StopSandbox(ctx, sb.NodeID, sb.ID); err != nil {
						logger.Warn().Err(err).Str("sandbox_id", sb.ID).Msg("node stop failed")
					}
				}

				ended := now
				changed, err := d.Store.UpdateStatus(sb.ID, sb.OrgID, types.SandboxStopped, storage.StatusExtra{
					Reason:  types.ReasonTTLExceeded,
					EndedAt: &ended,
				})
				if err != nil {
					logger.Error().Err(err).Str("sandbox_id", sb.ID).Msg("status update failed")
					continue
				}
				if !changed {
					continue // another transition won; nothing to count
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
					Message:   "ttl exceeded",
				})
				processed++
			}
			return processed, nil
		},
	}
}

func ttlWarnKey(sandboxID string) string {
	return "dedup.ttlwarn." + sandboxID
}

// dedupFlag is the coordination-store record suppressing repeat TTL
// warnings for one sandbox.
type dedupFlag struct {
	ExpiresAt time.Time `json:"expires_at"`
}

// NewTTLWarning emits a warning event for sandboxes within one minute
// of their TTL deadline. The worker runs every 10 seconds and a
// sandbox stays inside the warning window across several ticks, so a
// TTL'd dedup flag provides idempotency instead of the state machine.
func NewTTLWarning(d Deps) *worker.Worker {
	logger := log.WithWorker("ttl-warning")

	return &worker.Worker{
		Name:     "ttl-warning",
		Interval: 10 * time.Second,
		Handler: func(ctx context.Context) (int, error) {
			now := time.Now()
			near, err := d.Store.FindNearTTLExpiry(now, ttlWarningWindow, candidateLimit)
			if err != nil {
				return 0, fmt.Errorf("find near ttl expiry: %w", err)
			}

			processed := 0
			for _, sb := range near {
				claimed, err := claimDedup(ctx, d.Coord, ttlWarnKey(sb.ID), now, ttlWarningDedupTTL)
				if err != nil {
					logger.Warn().Err(err).Str("sandbox_id", sb.ID).Msg("dedup check failed, skipping warning")
					continue
				}
				if !claimed {
					continue // already warned within the dedup window
				}

				remaining := sb.TTLDeadline().Sub(now).Round(time.Second)
				d.Recorder.Record(&events.Event{
					Type:      events.EventTTLWarning,
					SandboxID: sb.ID,
					OrgID:     sb.OrgID,
					Message:   fmt.Sprintf("sandbox stops in %s", remaining),
				})
				processed++
			}
			return processed, nil
		},
	}
}

// claimDedup atomically claims a dedup flag. It returns false when a
// live flag already exists; an expired flag is taken over with a CAS.
func claimDedup(ctx context.Context, store coordination.Store, key string, now time.Time, ttl time.Duration) (bool, error) {
	value, err := json.Marshal(dedupFlag{ExpiresAt: now.Add(ttl)})
	if err != nil {
		return false, err
	}

	entry, err := store.Get(ctx, key)
	if errors.Is(err, coordination.ErrKeyNotFound) {
		if _, err := store.Create(ctx, key, value); err != nil {
			if errors.Is(err, coordination.ErrKeyExists) {
				return false, nil
			}
			return false, err
		}
		return true, nil
	}
	if err != nil {
		return false, err
	}

	var flag dedupFlag
	if err := json.Unmarshal(entry.Value, &flag); err == nil && flag.ExpiresAt.After(now) {
		return false, nil
	}

	if _, err := store.Update(ctx, key, value, entry.Revision); err != nil {
		if errors.Is(err, coordination.ErrRevisionMismatch) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
