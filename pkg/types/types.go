package types

import (
	"time"
)

// Sandbox represents a leased VM instance managed by the control plane.
type Sandbox struct {
	ID              string
	OrgID           string
	NodeID          string // empty until scheduled
	Status          SandboxStatus
	TTLSeconds      int
	LastActivityAt  *time.Time
	StartedAt       *time.Time
	EndedAt         *time.Time
	ForkedFrom      string // weak back-reference, no ownership
	ForkDepth       int
	ForkCount       int
	FailureReason   FailureReason
	ReplayPublic    bool
	ReplayExpiresAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SandboxStatus represents the lifecycle state of a sandbox.
type SandboxStatus string

const (
	SandboxQueued       SandboxStatus = "queued"
	SandboxProvisioning SandboxStatus = "provisioning"
	SandboxRunning      SandboxStatus = "running"
	SandboxStopping     SandboxStatus = "stopping"
	SandboxStopped      SandboxStatus = "stopped"
	SandboxFailed       SandboxStatus = "failed"
)

// Terminal reports whether the status admits no further lifecycle
// transitions. Terminal rows stay immutable except for the replay
// retention fields.
func (s SandboxStatus) Terminal() bool {
	return s == SandboxStopped || s == SandboxFailed
}

// validTransitions encodes the sandbox state machine. A status update
// whose (from, to) pair is absent here is rejected, which is what makes
// policy workers idempotent: the loser of a first-write-wins race finds
// the row already moved and its write becomes a no-op.
var validTransitions = map[SandboxStatus][]SandboxStatus{
	SandboxQueued:       {SandboxProvisioning, SandboxFailed, SandboxStopped},
	SandboxProvisioning: {SandboxRunning, SandboxFailed, SandboxStopped, SandboxQueued},
	SandboxRunning:      {SandboxStopping, SandboxStopped, SandboxFailed},
	SandboxStopping:     {SandboxStopped, SandboxFailed},
}

// CanTransition reports whether a sandbox may move from one status to another.
func CanTransition(from, to SandboxStatus) bool {
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// TTLDeadline returns the instant at which the sandbox's TTL elapses,
// or the zero time if the sandbox has not started.
func (s *Sandbox) TTLDeadline() time.Time {
	if s.StartedAt == nil {
		return time.Time{}
	}
	return s.StartedAt.Add(time.Duration(s.TTLSeconds) * time.Second)
}

// FailureReason records why a sandbox left the running path.
type FailureReason string

const (
	ReasonNone         FailureReason = ""
	ReasonTTLExceeded  FailureReason = "ttl_exceeded"
	ReasonIdleTimeout  FailureReason = "idle_timeout"
	ReasonQueueTimeout FailureReason = "queue_timeout"
	ReasonOrphaned     FailureReason = "orphaned"
)

// ReplayPurgedSentinel marks a sandbox whose replay events have been
// deleted from object storage. The Unix epoch is reserved for this; no
// real expiry is ever assigned that far in the past.
var ReplayPurgedSentinel = time.Unix(0, 0).UTC()

// SlotLease reserves one unit of node capacity for one sandbox.
// For a given (NodeID, Slot) at most one unexpired lease exists.
type SlotLease struct {
	NodeID    string    `json:"node_id"`
	Slot      int       `json:"slot"`
	SandboxID string    `json:"sandbox_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the lease has lapsed at the given instant.
func (l *SlotLease) Expired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}

// WorkerLock is the coordination-store record backing leader election
// for one named policy worker.
type WorkerLock struct {
	Holder    string    `json:"holder"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the lock has lapsed at the given instant.
func (l *WorkerLock) Expired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}

// Org is a tenant. Orgs are soft-deleted first; the org-hard-delete
// worker cascades the final removal after the retention window.
type Org struct {
	ID        string
	Name      string
	CreatedAt time.Time
	DeletedAt *time.Time
}

// OrgQuota is a per-org override of the default limits table. Nil
// fields inherit the system default (see pkg/quota).
type OrgQuota struct {
	OrgID                   string
	MaxConcurrentSandboxes  *int
	MaxTTLSeconds           *int
	MaxExecTimeoutSeconds   *int
	IdleTimeoutSeconds      *int
	MaxForkDepth            *int
	MaxForkCount            *int
	ArtifactRetentionDays   *int
	ReplayRetentionDays     *int
	MetricsRetentionDays    *int
	SandboxCreatesPerMinute *int
	ExecutionsPerMinute     *int
	ReadsPerMinute          *int
}

// Node is a worker machine that hosts sandbox VMs and reports liveness
// through periodic heartbeats.
type Node struct {
	ID            string
	Address       string
	SlotsTotal    int
	SlotsUsed     int
	ActiveIDs     []string
	Status        NodeStatus
	LastHeartbeat time.Time
	CreatedAt     time.Time
}

// NodeStatus represents the observed liveness of a node.
type NodeStatus string

const (
	NodeStatusReady NodeStatus = "ready"
	NodeStatusDown  NodeStatus = "down"
)

// Artifact is a stored output of a sandbox run, purged after its
// retention window by the artifact-retention worker.
type Artifact struct {
	ID         string
	OrgID      string
	SandboxID  string
	StorageKey string
	SizeBytes  int64
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// MetricSample is one resource-usage observation for a sandbox.
// Samples are bulk-deleted past the metrics retention cutoff.
type MetricSample struct {
	ID         string
	SandboxID  string
	OrgID      string
	CPUPercent float64
	MemBytes   int64
	RecordedAt time.Time
}

// UsageRecord tracks billable sandbox seconds per org.
type UsageRecord struct {
	ID             string
	OrgID          string
	SandboxID      string
	SandboxSeconds int64
	RecordedAt     time.Time
}

// IdempotencyKey guards a mutating API request against replay.
// Expired keys are swept by the idempotency-cleanup worker.
type IdempotencyKey struct {
	Key       string    `json:"key"`
	OrgID     string    `json:"org_id"`
	Response  []byte    `json:"response,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RateLimitCategory partitions request admission counters.
type RateLimitCategory string

const (
	CategorySandboxCreate RateLimitCategory = "sandbox_create"
	CategoryExecution     RateLimitCategory = "execution"
	CategoryRead          RateLimitCategory = "read"
)

// RateLimitResult is the outcome of one sliding-window admission check.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}
