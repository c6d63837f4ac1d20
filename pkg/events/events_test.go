package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerBroadcast(t *testing.T) {
	b := NewBroker(nil)
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	b.Record(&Event{Type: EventTTLWarning, SandboxID: "sb-1", OrgID: "org-1"})

	select {
	case got := <-sub:
		assert.Equal(t, EventTTLWarning, got.Type)
		assert.Equal(t, "sb-1", got.SandboxID)
		assert.False(t, got.Timestamp.IsZero(), "timestamp filled in on record")
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBrokerSlowSubscriberDoesNotBlock(t *testing.T) {
	b := NewBroker(nil)
	b.Start()
	defer b.Stop()

	// Never read from this subscriber; its buffer fills and overflow
	// events are dropped rather than wedging the broker.
	stuck := b.Subscribe()
	defer b.Unsubscribe(stuck)

	for i := 0; i < 200; i++ {
		b.Record(&Event{Type: EventSandboxStopped, SandboxID: "sb-1"})
	}

	live := b.Subscribe()
	defer b.Unsubscribe(live)
	b.Record(&Event{Type: EventSandboxFailed, SandboxID: "sb-2"})

	select {
	case got := <-live:
		assert.Equal(t, EventSandboxFailed, got.Type)
	case <-time.After(time.Second):
		t.Fatal("broker wedged by a slow subscriber")
	}
}

func TestSubscriberCount(t *testing.T) {
	b := NewBroker(nil)
	require.Equal(t, 0, b.SubscriberCount())

	sub := b.Subscribe()
	assert.Equal(t, 1, b.SubscriberCount())

	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())
}
