package quota

import (
	"context"
	"errors"
	"time"

	"github.com/sandchest/control/pkg/types"
)

// Limits is the fully-resolved limits table for one org. Every field
// is concrete; callers never see a partially-set quota.
type Limits struct {
	MaxConcurrentSandboxes  int
	MaxTTLSeconds           int
	MaxExecTimeoutSeconds   int
	IdleTimeoutSeconds      int
	MaxForkDepth            int
	MaxForkCount            int
	ArtifactRetentionDays   int
	ReplayRetentionDays     int
	MetricsRetentionDays    int
	SandboxCreatesPerMinute int
	ExecutionsPerMinute     int
	ReadsPerMinute          int
}

// Defaults is the system-wide limits table applied when an org has no
// override row, and inherited field-by-field when it has a partial one.
var Defaults = Limits{
	MaxConcurrentSandboxes:  10,
	MaxTTLSeconds:           3600,
	MaxExecTimeoutSeconds:   300,
	IdleTimeoutSeconds:      900,
	MaxForkDepth:            5,
	MaxForkCount:            32,
	ArtifactRetentionDays:   7,
	ReplayRetentionDays:     30,
	MetricsRetentionDays:    14,
	SandboxCreatesPerMinute: 10,
	ExecutionsPerMinute:     120,
	ReadsPerMinute:          600,
}

// IdleTimeout returns the resolved idle cutoff as a duration.
func (l Limits) IdleTimeout() time.Duration {
	return time.Duration(l.IdleTimeoutSeconds) * time.Second
}

// QuotaStore is the read-only slice of the relational store the
// resolver needs.
type QuotaStore interface {
	GetOrgQuota(orgID string) (*types.OrgQuota, error)
}

// ErrNotFound is returned by QuotaStore implementations when no
// override row exists for an org.
var ErrNotFound = errors.New("quota: org quota not found")

// Resolver resolves per-org limits with the system defaults as
// fallback. Resolution is read-only and cheap; policy workers may call
// it once per row or cache per tick.
type Resolver struct {
	store    QuotaStore
	defaults Limits
}

// NewResolver creates a resolver over the given store using the
// package defaults.
func NewResolver(store QuotaStore) *Resolver {
	return &Resolver{store: store, defaults: Defaults}
}

// Resolve returns the limits for an org: the default table merged with
// whatever fields the org's override row actually sets. A missing row
// yields the defaults wholesale; a store error also falls back to the
// defaults rather than blocking the caller.
func (r *Resolver) Resolve(ctx context.Context, orgID string) Limits {
	row, err := r.store.GetOrgQuota(orgID)
	if err != nil || row == nil {
		return r.defaults
	}
	return merge(r.defaults, row)
}

func merge(base Limits, row *types.OrgQuota) Limits {
	out := base
	if row.MaxConcurrentSandboxes != nil {
		out.MaxConcurrentSandboxes = *row.MaxConcurrentSandboxes
	}
	if row.MaxTTLSeconds != nil {
		out.MaxTTLSeconds = *row.MaxTTLSeconds
	}
	if row.MaxExecTimeoutSeconds != nil {
		out.MaxExecTimeoutSeconds = *row.MaxExecTimeoutSeconds
	}
	if row.IdleTimeoutSeconds != nil {
		out.IdleTimeoutSeconds = *row.IdleTimeoutSeconds
	}
	if row.MaxForkDepth != nil {
		out.MaxForkDepth = *row.MaxForkDepth
	}
	if row.MaxForkCount != nil {
		out.MaxForkCount = *row.MaxForkCount
	}
	if row.ArtifactRetentionDays != nil {
		out.ArtifactRetentionDays = *row.ArtifactRetentionDays
	}
	if row.ReplayRetentionDays != nil {
		out.ReplayRetentionDays = *row.ReplayRetentionDays
	}
	if row.MetricsRetentionDays != nil {
		out.MetricsRetentionDays = *row.MetricsRetentionDays
	}
	if row.SandboxCreatesPerMinute != nil {
		out.SandboxCreatesPerMinute = *row.SandboxCreatesPerMinute
	}
	if row.ExecutionsPerMinute != nil {
		out.ExecutionsPerMinute = *row.ExecutionsPerMinute
	}
	if row.ReadsPerMinute != nil {
		out.ReadsPerMinute = *row.ReadsPerMinute
	}
	return out
}

// LimitFor returns the per-minute ceiling for a rate-limit category.
func (l Limits) LimitFor(category types.RateLimitCategory) int {
	switch category {
	case types.CategorySandboxCreate:
		return l.SandboxCreatesPerMinute
	case types.CategoryExecution:
		return l.ExecutionsPerMinute
	case types.CategoryRead:
		return l.ReadsPerMinute
	default:
		return 0
	}
}
