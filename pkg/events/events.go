package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/sandchest/control/pkg/log"
	"github.com/sandchest/control/pkg/metrics"
)

// EventType represents the type of event
type EventType string

const (
	EventTTLWarning      EventType = "sandbox.ttl_warning"
	EventSandboxStopped  EventType = "sandbox.stopped"
	EventSandboxFailed   EventType = "sandbox.failed"
	EventSandboxOrphaned EventType = "sandbox.orphaned"
	EventReplayPurged    EventType = "sandbox.replay_purged"
)

// Event is one sandbox lifecycle notification.
type Event struct {
	Type      EventType         `json:"type"`
	SandboxID string            `json:"sandbox_id"`
	OrgID     string            `json:"org_id"`
	Timestamp time.Time         `json:"timestamp"`
	Message   string            `json:"message,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Recorder is what policy workers use to emit events.
type Recorder interface {
	Record(event *Event)
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker distributes sandbox events to in-process subscribers and, when
// connected, publishes them to NATS under sandchest.events.<sandboxID>
// so SDK streams and the node fleet can observe them.
type Broker struct {
	nc          *nats.Conn // nil in tests and single-process setups
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewBroker creates a broker. nc may be nil to disable NATS publication.
func NewBroker(nc *nats.Conn) *Broker {
	return &Broker{
		nc:          nc,
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Record enqueues an event for distribution. Never blocks the caller
// beyond the channel buffer; a stopped broker drops the event.
func (b *Broker) Record(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	metrics.EventsPublished.WithLabelValues(string(event.Type)).Inc()

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
			b.publish(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

func (b *Broker) publish(event *Event) {
	if b.nc == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	subject := "sandchest.events." + event.SandboxID
	if err := b.nc.Publish(subject, data); err != nil {
		logger := log.WithComponent("events")
		logger.Warn().Err(err).Str("subject", subject).Msg("event publish failed")
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
