package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from SandboxStatus
		to   SandboxStatus
		want bool
	}{
		{"queued to provisioning", SandboxQueued, SandboxProvisioning, true},
		{"queued to failed", SandboxQueued, SandboxFailed, true},
		{"provisioning to running", SandboxProvisioning, SandboxRunning, true},
		{"provisioning requeued", SandboxProvisioning, SandboxQueued, true},
		{"running to stopping", SandboxRunning, SandboxStopping, true},
		{"running to stopped", SandboxRunning, SandboxStopped, true},
		{"stopping to stopped", SandboxStopping, SandboxStopped, true},
		{"stopped is terminal", SandboxStopped, SandboxRunning, false},
		{"failed is terminal", SandboxFailed, SandboxQueued, false},
		{"no skipping to running", SandboxQueued, SandboxRunning, false},
		{"no reverse from stopping", SandboxStopping, SandboxRunning, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestTerminal(t *testing.T) {
	assert.True(t, SandboxStopped.Terminal())
	assert.True(t, SandboxFailed.Terminal())
	assert.False(t, SandboxRunning.Terminal())
	assert.False(t, SandboxQueued.Terminal())
}

func TestTTLDeadline(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	sb := &Sandbox{TTLSeconds: 3600, StartedAt: &start}
	assert.Equal(t, start.Add(time.Hour), sb.TTLDeadline())

	unstarted := &Sandbox{TTLSeconds: 3600}
	assert.True(t, unstarted.TTLDeadline().IsZero())
}

func TestSlotLeaseExpired(t *testing.T) {
	now := time.Now()
	live := &SlotLease{ExpiresAt: now.Add(time.Minute)}
	lapsed := &SlotLease{ExpiresAt: now.Add(-time.Second)}
	boundary := &SlotLease{ExpiresAt: now}

	assert.False(t, live.Expired(now))
	assert.True(t, lapsed.Expired(now))
	assert.True(t, boundary.Expired(now), "a lease expiring exactly now is expired")
}
