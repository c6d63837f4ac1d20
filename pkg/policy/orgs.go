package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/sandchest/control/pkg/log"
	"github.com/sandchest/control/pkg/worker"
)

// NewOrgHardDelete cascades the delete of orgs soft-deleted more than
// thirty days ago. Sandboxes, quota, and usage rows go with the org in
// a single transaction.
func NewOrgHardDelete(d Deps) *worker.Worker {
	logger := log.WithWorker("org-hard-delete")

	return &worker.Worker{
		Name: "org-hard-delete",
		Cron: "@every 1h",
		Handler: func(ctx context.Context) (int, error) {
			cutoff := time.Now().Add(-orgHardDeleteAfter)
			orgs, err := d.Store.ListOrgsDeletedBefore(cutoff)
			if err != nil {
				return 0, fmt.Errorf("list soft-deleted orgs: %w", err)
			}

			processed := 0
			for _, org := range orgs {
				if err := d.Store.DeleteOrgCascade(org.ID); err != nil {
					logger.Error().Err(err).Str("org_id", org.ID).Msg("cascade delete failed")
					continue
				}
				logger.Info().Str("org_id", org.ID).Msg("org hard-deleted")
				processed++
			}
			return processed, nil
		},
	}
}
