package policy

import (
	"time"

	"github.com/sandchest/control/pkg/coordination"
	"github.com/sandchest/control/pkg/events"
	"github.com/sandchest/control/pkg/nodeclient"
	"github.com/sandchest/control/pkg/nodes"
	"github.com/sandchest/control/pkg/objectstore"
	"github.com/sandchest/control/pkg/quota"
	"github.com/sandchest/control/pkg/slots"
	"github.com/sandchest/control/pkg/storage"
	"github.com/sandchest/control/pkg/worker"
)

const (
	// candidateLimit bounds every per-tick candidate query.
	candidateLimit = 500

	// queueTimeout is how long a sandbox may sit in queued before it
	// is failed.
	queueTimeout = 300 * time.Second

	// stoppingGrace is how long a sandbox may sit in stopping before
	// teardown is forced.
	stoppingGrace = 30 * time.Second

	// ttlWarningWindow is how close to its TTL deadline a sandbox must
	// be for a warning event.
	ttlWarningWindow = 60 * time.Second

	// ttlWarningDedupTTL suppresses repeat warnings for one sandbox.
	ttlWarningDedupTTL = 120 * time.Second

	// idleScanFloor is the shortest idle period worth scanning for; the
	// per-org idle timeout is applied per row on top of this.
	idleScanFloor = 60 * time.Second

	// orphanStaleAfter is how long a node may go without a heartbeat
	// before its sandboxes are reconciled.
	orphanStaleAfter = 90 * time.Second

	// orgHardDeleteAfter is how long an org stays soft-deleted before
	// the cascade delete runs.
	orgHardDeleteAfter = 30 * 24 * time.Hour
)

// Deps are the collaborators the policy workers are composed from.
// Each worker declares which of these it actually touches; none hold
// state of their own.
type Deps struct {
	Store      storage.Store
	Nodes      *nodes.Registry
	NodeClient nodeclient.NodeClient
	Objects    objectstore.ObjectStorage
	Quotas     *quota.Resolver
	Coord      coordination.Store
	Slots      *slots.Manager
	Recorder   events.Recorder
}

// All returns the full fixed set of policy workers in registration
// order.
func All(d Deps) []*worker.Worker {
	return []*worker.Worker{
		NewTTLEnforcement(d),
		NewTTLWarning(d),
		NewIdleShutdown(d),
		NewQueueTimeout(d),
		NewVMTeardown(d),
		NewOrphanReconciliation(d),
		NewIdempotencyCleanup(d),
		NewArtifactRetention(d),
		NewReplayRetention(d),
		NewMetricsRetention(d),
		NewOrgHardDelete(d),
	}
}
