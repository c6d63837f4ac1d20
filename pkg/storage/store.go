package storage

import (
	"errors"
	"time"

	"github.com/sandchest/control/pkg/types"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("storage: not found")

// StatusExtra carries the optional fields a status transition sets
// alongside the status itself.
type StatusExtra struct {
	Reason    types.FailureReason
	StartedAt *time.Time
	EndedAt   *time.Time
	NodeID    string // attach the sandbox to a node (placement path)
	ClearNode bool   // detach the sandbox from its node (requeue path)
}

// Store is the authoritative state of the control plane. Policy
// workers are defined entirely in terms of its bounded lifecycle
// queries and its scoped status mutation.
type Store interface {
	// Sandboxes
	CreateSandbox(sandbox *types.Sandbox) error
	GetSandbox(id string) (*types.Sandbox, error)
	ListSandboxes() ([]*types.Sandbox, error)
	UpdateSandbox(sandbox *types.Sandbox) error
	DeleteSandbox(id string) error

	// Lifecycle candidate queries. All results are bounded by limit;
	// the predicates are mutually disjoint across workers so no two
	// workers select the same row in the same tick.
	FindExpiredTTL(now time.Time, limit int) ([]*types.Sandbox, error)
	FindIdleSince(cutoff time.Time, limit int) ([]*types.Sandbox, error)
	FindQueuedBefore(cutoff time.Time, limit int) ([]*types.Sandbox, error)
	FindStoppingBefore(cutoff time.Time, limit int) ([]*types.Sandbox, error)
	FindNearTTLExpiry(now time.Time, threshold time.Duration, limit int) ([]*types.Sandbox, error)
	FindActive(limit int) ([]*types.Sandbox, error)
	FindMissingReplayExpiry(limit int) ([]*types.Sandbox, error)
	FindPurgableReplays(now time.Time, limit int) ([]*types.Sandbox, error)
	CountActiveByOrg(orgID string) (int, error)

	// UpdateStatus transitions a sandbox, scoped by (id, orgID) so a
	// caller can never mutate another tenant's row. It returns false
	// without error when the row has already left the source state;
	// that first-write-wins no-op makes worker passes idempotent.
	UpdateStatus(id, orgID string, to types.SandboxStatus, extra StatusExtra) (bool, error)

	// SetReplayExpiresAt assigns the replay retention expiry. It is the
	// only mutation permitted on a terminal row.
	SetReplayExpiresAt(id string, expiry time.Time) error

	// Orgs
	CreateOrg(org *types.Org) error
	GetOrg(id string) (*types.Org, error)
	ListOrgsDeletedBefore(cutoff time.Time) ([]*types.Org, error)
	DeleteOrgCascade(orgID string) error

	// Org quotas
	PutOrgQuota(q *types.OrgQuota) error
	GetOrgQuota(orgID string) (*types.OrgQuota, error)

	// Nodes
	PutNode(node *types.Node) error
	GetNode(id string) (*types.Node, error)
	ListNodes() ([]*types.Node, error)
	DeleteNode(id string) error

	// Artifacts
	CreateArtifact(a *types.Artifact) error
	ListExpiredArtifacts(now time.Time, limit int) ([]*types.Artifact, error)
	DeleteArtifact(id string) error

	// Metric samples
	AddMetricSample(s *types.MetricSample) error
	DeleteMetricsBefore(cutoff time.Time) (int, error)

	// Usage
	AddUsage(u *types.UsageRecord) error
	ListUsageByOrg(orgID string) ([]*types.UsageRecord, error)

	// Utility
	Close() error
}
