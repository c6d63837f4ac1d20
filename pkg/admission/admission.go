package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sandchest/control/pkg/quota"
	"github.com/sandchest/control/pkg/ratelimit"
	"github.com/sandchest/control/pkg/storage"
	"github.com/sandchest/control/pkg/types"
)

// window is the sliding window all rate-limit categories share.
const window = time.Minute

// ErrRateLimited is returned when the org exhausted its per-minute
// budget for the requested category.
var ErrRateLimited = errors.New("admission: rate limit exceeded")

// ErrConcurrencyLimit is returned when the org is at its concurrent
// sandbox ceiling.
var ErrConcurrencyLimit = errors.New("admission: concurrent sandbox limit reached")

// ErrForkDepth is returned when a fork would exceed the org's depth
// ceiling.
var ErrForkDepth = errors.New("admission: fork depth limit reached")

// ErrForkCount is returned when a sandbox already spawned its maximum
// number of forks.
var ErrForkCount = errors.New("admission: fork count limit reached")

// Controller gates every tenant-facing request before it reaches the
// lifecycle store: rate limits first (cheapest to check, shared across
// replicas), then the org's quota ceilings.
type Controller struct {
	store   storage.Store
	limiter *ratelimit.Limiter
	quotas  *quota.Resolver
}

// NewController creates an admission controller.
func NewController(store storage.Store, limiter *ratelimit.Limiter, quotas *quota.Resolver) *Controller {
	return &Controller{store: store, limiter: limiter, quotas: quotas}
}

// Decision carries what admission settled for an allowed request: the
// clamped TTL and the remaining rate budget for response headers.
type Decision struct {
	TTLSeconds int
	RateLimit  types.RateLimitResult
}

// CheckCreate admits a sandbox create. The requested TTL is clamped to
// the org maximum rather than rejected; zero means "org default".
func (c *Controller) CheckCreate(ctx context.Context, orgID string, requestedTTL int) (*Decision, error) {
	limits := c.quotas.Resolve(ctx, orgID)

	rl := c.limiter.Check(ctx, orgID, types.CategorySandboxCreate, limits.SandboxCreatesPerMinute, window)
	if !rl.Allowed {
		return nil, ErrRateLimited
	}

	active, err := c.store.CountActiveByOrg(orgID)
	if err != nil {
		return nil, fmt.Errorf("count active sandboxes: %w", err)
	}
	if active >= limits.MaxConcurrentSandboxes {
		return nil, ErrConcurrencyLimit
	}

	ttl := requestedTTL
	if ttl <= 0 || ttl > limits.MaxTTLSeconds {
		ttl = limits.MaxTTLSeconds
	}
	return &Decision{TTLSeconds: ttl, RateLimit: rl}, nil
}

// CheckFork admits a fork of parent. Forks count against the same
// create rate budget and concurrency ceiling as fresh creates, plus the
// fork depth and per-parent fork count ceilings.
func (c *Controller) CheckFork(ctx context.Context, orgID string, parent *types.Sandbox, requestedTTL int) (*Decision, error) {
	limits := c.quotas.Resolve(ctx, orgID)

	if parent.ForkDepth+1 > limits.MaxForkDepth {
		return nil, ErrForkDepth
	}
	if parent.ForkCount >= limits.MaxForkCount {
		return nil, ErrForkCount
	}
	return c.CheckCreate(ctx, orgID, requestedTTL)
}

// CheckExec admits one command execution and returns the effective exec
// timeout in seconds.
func (c *Controller) CheckExec(ctx context.Context, orgID string, requestedTimeout int) (int, error) {
	limits := c.quotas.Resolve(ctx, orgID)

	rl := c.limiter.Check(ctx, orgID, types.CategoryExecution, limits.ExecutionsPerMinute, window)
	if !rl.Allowed {
		return 0, ErrRateLimited
	}

	timeout := requestedTimeout
	if timeout <= 0 || timeout > limits.MaxExecTimeoutSeconds {
		timeout = limits.MaxExecTimeoutSeconds
	}
	return timeout, nil
}

// CheckRead admits one read-category request.
func (c *Controller) CheckRead(ctx context.Context, orgID string) error {
	limits := c.quotas.Resolve(ctx, orgID)

	rl := c.limiter.Check(ctx, orgID, types.CategoryRead, limits.ReadsPerMinute, window)
	if !rl.Allowed {
		return ErrRateLimited
	}
	return nil
}
