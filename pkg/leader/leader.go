package leader

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/sandchest/control/pkg/coordination"
	"github.com/sandchest/control/pkg/log"
	"github.com/sandchest/control/pkg/types"
)

const keyPrefix = "leader."

// Locks arbitrates which process instance runs each named policy
// worker. One lock per worker name; at most one live holder at a time.
type Locks struct {
	store coordination.Store
	now   func() time.Time
}

// NewLocks creates a lock manager over the given coordination store.
func NewLocks(store coordination.Store) *Locks {
	return &Locks{store: store, now: time.Now}
}

// AcquireOrRenew takes the lock for name if it is free or already held
// by instanceID, setting its expiry to now+ttl. Returns false without
// side effects if another live holder owns it. A store failure also
// returns false: coordination being unreachable means the tick is
// skipped, not that an error is surfaced.
func (l *Locks) AcquireOrRenew(ctx context.Context, name, instanceID string, ttl time.Duration) bool {
	now := l.now()
	key := keyPrefix + name
	lock := types.WorkerLock{Holder: instanceID, ExpiresAt: now.Add(ttl)}
	value, err := json.Marshal(lock)
	if err != nil {
		return false
	}

	entry, err := l.store.Get(ctx, key)
	if errors.Is(err, coordination.ErrKeyNotFound) {
		_, err = l.store.Create(ctx, key, value)
		if err != nil {
			// Lost the create race or store failure; either way, not leader.
			return false
		}
		return true
	}
	if err != nil {
		logger := log.WithComponent("leader")
		logger.Warn().Err(err).Str("lock", name).Msg("coordination store unavailable, skipping tick")
		return false
	}

	var current types.WorkerLock
	if err := json.Unmarshal(entry.Value, &current); err != nil {
		logger := log.WithComponent("leader")
		logger.Warn().Err(err).Str("lock", name).Msg("corrupt lock record")
		return false
	}

	if current.Holder != instanceID && !current.Expired(now) {
		return false
	}

	// Renewal, or takeover of an expired lock. The revision check makes
	// this atomic against concurrent claimants.
	_, err = l.store.Update(ctx, key, value, entry.Revision)
	return err == nil
}

// Status describes the live state of one worker lock for the admin
// diagnostic surface.
type Status struct {
	Worker    string        `json:"worker"`
	Holder    string        `json:"holder"`
	Active    bool          `json:"active"`
	Remaining time.Duration `json:"remaining_ttl"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// Statuses returns the state of every worker lock currently recorded.
func (l *Locks) Statuses(ctx context.Context) ([]Status, error) {
	keys, err := l.store.Keys(ctx, keyPrefix)
	if err != nil {
		return nil, err
	}

	now := l.now()
	statuses := make([]Status, 0, len(keys))
	for _, key := range keys {
		entry, err := l.store.Get(ctx, key)
		if err != nil {
			continue
		}
		var lock types.WorkerLock
		if err := json.Unmarshal(entry.Value, &lock); err != nil {
			continue
		}
		remaining := lock.ExpiresAt.Sub(now)
		if remaining < 0 {
			remaining = 0
		}
		statuses = append(statuses, Status{
			Worker:    strings.TrimPrefix(key, keyPrefix),
			Holder:    lock.Holder,
			Active:    !lock.Expired(now),
			Remaining: remaining,
			ExpiresAt: lock.ExpiresAt,
		})
	}
	return statuses, nil
}
