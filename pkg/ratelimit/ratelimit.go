package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sandchest/control/pkg/coordination"
	"github.com/sandchest/control/pkg/log"
	"github.com/sandchest/control/pkg/metrics"
	"github.com/sandchest/control/pkg/types"
)

// casRetries bounds how many times a check retries a contended window
// update before failing open.
const casRetries = 3

// DefaultLimits are the per-minute ceilings applied when an org has no
// quota override for a category.
var DefaultLimits = map[types.RateLimitCategory]int{
	types.CategorySandboxCreate: 10,
	types.CategoryExecution:     120,
	types.CategoryRead:          600,
}

// Limiter implements sliding-window-log rate limiting over the shared
// coordination store, so the count is correct across API replicas.
type Limiter struct {
	store coordination.Store
	now   func() time.Time
}

// NewLimiter creates a limiter over the coordination store.
func NewLimiter(store coordination.Store) *Limiter {
	return &Limiter{store: store, now: time.Now}
}

func windowKey(orgID string, category types.RateLimitCategory) string {
	return fmt.Sprintf("ratelimit.%s.%s", orgID, category)
}

// Check admits or rejects one request for (orgID, category). The window
// log is pruned to the trailing window, then: at or above the limit the
// request is rejected without being recorded; otherwise the current
// timestamp is appended.
//
// If the coordination store is unreachable the check fails open: the
// request is allowed and a warning is logged. Availability of the
// product takes precedence over strict rate enforcement.
func (l *Limiter) Check(ctx context.Context, orgID string, category types.RateLimitCategory, limit int, window time.Duration) types.RateLimitResult {
	now := l.now()
	key := windowKey(orgID, category)

	for attempt := 0; attempt < casRetries; attempt++ {
		var stamps []int64
		var revision uint64

		entry, err := l.store.Get(ctx, key)
		switch {
		case errors.Is(err, coordination.ErrKeyNotFound):
			// First request in this window.
		case err != nil:
			return l.failOpen(orgID, category, limit, window, now, err)
		default:
			revision = entry.Revision
			if err := json.Unmarshal(entry.Value, &stamps); err != nil {
				return l.failOpen(orgID, category, limit, window, now, err)
			}
		}

		cutoff := now.Add(-window).UnixMilli()
		pruned := stamps[:0]
		for _, ts := range stamps {
			if ts > cutoff {
				pruned = append(pruned, ts)
			}
		}

		if len(pruned) >= limit {
			metrics.RateLimitDecisions.WithLabelValues(string(category), "rejected").Inc()
			return types.RateLimitResult{
				Allowed:   false,
				Remaining: 0,
				ResetAt:   now.Add(window),
			}
		}

		pruned = append(pruned, now.UnixMilli())
		value, err := json.Marshal(pruned)
		if err != nil {
			return l.failOpen(orgID, category, limit, window, now, err)
		}

		if revision == 0 {
			_, err = l.store.Create(ctx, key, value)
			if errors.Is(err, coordination.ErrKeyExists) {
				continue // lost the create race, re-read
			}
		} else {
			_, err = l.store.Update(ctx, key, value, revision)
			if errors.Is(err, coordination.ErrRevisionMismatch) {
				continue // concurrent check won, re-read
			}
		}
		if err != nil {
			return l.failOpen(orgID, category, limit, window, now, err)
		}

		metrics.RateLimitDecisions.WithLabelValues(string(category), "allowed").Inc()
		remaining := limit - len(pruned)
		if remaining < 0 {
			remaining = 0
		}
		return types.RateLimitResult{
			Allowed:   true,
			Remaining: remaining,
			ResetAt:   now.Add(window),
		}
	}

	// Retries exhausted under contention; treat like a store failure.
	return l.failOpen(orgID, category, limit, window, now, errors.New("cas retries exhausted"))
}

func (l *Limiter) failOpen(orgID string, category types.RateLimitCategory, limit int, window time.Duration, now time.Time, err error) types.RateLimitResult {
	logger := log.WithComponent("ratelimit")
	logger.Warn().
		Err(err).
		Str("org_id", orgID).
		Str("category", string(category)).
		Msg("rate limit backing store unavailable, failing open")
	metrics.RateLimitDecisions.WithLabelValues(string(category), "fail_open").Inc()
	return types.RateLimitResult{
		Allowed:   true,
		Remaining: limit,
		ResetAt:   now.Add(window),
	}
}
