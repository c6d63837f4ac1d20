package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sandchest/control/pkg/log"
	"github.com/sandchest/control/pkg/objectstore"
	"github.com/sandchest/control/pkg/quota"
	"github.com/sandchest/control/pkg/worker"
)

// expirable matches the JSON shape shared by idempotency records and
// dedup flags in the coordination store.
type expirable struct {
	ExpiresAt time.Time `json:"expires_at"`
}

// NewIdempotencyCleanup sweeps expired idempotency records and dedup
// flags out of the coordination store. Unparseable records are deleted
// too; they can never be matched against a request again.
func NewIdempotencyCleanup(d Deps) *worker.Worker {
	logger := log.WithWorker("idempotency-cleanup")

	return &worker.Worker{
		Name:     "idempotency-cleanup",
		Interval: 5 * time.Minute,
		Handler: func(ctx context.Context) (int, error) {
			now := time.Now()
			processed := 0
			for _, prefix := range []string{"idem.", "dedup."} {
				keys, err := d.Coord.Keys(ctx, prefix)
				if err != nil {
					return processed, fmt.Errorf("list %s keys: %w", prefix, err)
				}
				for _, key := range keys {
					entry, err := d.Coord.Get(ctx, key)
					if err != nil {
						continue // deleted under us, or transient
					}

					var rec expirable
					if err := json.Unmarshal(entry.Value, &rec); err == nil && rec.ExpiresAt.After(now) {
						continue
					}

					if err := d.Coord.Delete(ctx, key); err != nil {
						logger.Warn().Err(err).Str("key", key).Msg("delete failed")
						continue
					}
					processed++
				}
			}
			return processed, nil
		},
	}
}

// NewArtifactRetention deletes artifacts past their expiry, object
// first so a crash between the two deletes leaves a retryable metadata
// row rather than an unreachable object.
func NewArtifactRetention(d Deps) *worker.Worker {
	logger := log.WithWorker("artifact-retention")

	return &worker.Worker{
		Name: "artifact-retention",
		Cron: "@every 1h",
		Handler: func(ctx context.Context) (int, error) {
			expired, err := d.Store.ListExpiredArtifacts(time.Now(), candidateLimit)
			if err != nil {
				return 0, fmt.Errorf("list expired artifacts: %w", err)
			}

			processed := 0
			for _, art := range expired {
				if err := d.Objects.DeleteObject(ctx, art.StorageKey); err != nil && !errors.Is(err, objectstore.ErrNotFound) {
					logger.Warn().Err(err).Str("artifact_id", art.ID).Msg("object delete failed")
					continue
				}
				if err := d.Store.DeleteArtifact(art.ID); err != nil {
					logger.Error().Err(err).Str("artifact_id", art.ID).Msg("metadata delete failed")
					continue
				}
				processed++
			}
			return processed, nil
		},
	}
}

// NewMetricsRetention drops metric samples older than the retention
// window.
func NewMetricsRetention(d Deps) *worker.Worker {
	return &worker.Worker{
		Name:     "metrics-retention",
		Interval: 30 * time.Minute,
		Handler: func(ctx context.Context) (int, error) {
			cutoff := time.Now().AddDate(0, 0, -quota.Defaults.MetricsRetentionDays)
			deleted, err := d.Store.DeleteMetricsBefore(cutoff)
			if err != nil {
				return 0, fmt.Errorf("delete metric samples: %w", err)
			}
			return deleted, nil
		},
	}
}
