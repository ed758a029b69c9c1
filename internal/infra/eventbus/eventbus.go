// Package eventbus is the dev gateway's in-memory publish/subscribe bus. The registry
// publishes client lifecycle events on it; the gateway binary logs them and the admin API
// counts them.
//
// Publish never blocks: a subscriber whose buffer is full misses the event, and the miss
// is counted in Dropped.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Client lifecycle topics.
const (
	TopicClientRegistered   = "client.registered"
	TopicClientUnregistered = "client.unregistered"
	TopicPreferencesSet     = "client.preferences_set"
	TopicCompletionServed   = "client.completion_served"
	TopicEmbeddingServed    = "client.embedding_served"
)

// Topics lists every lifecycle topic.
func Topics() []string {
	return []string{
		TopicClientRegistered,
		TopicClientUnregistered,
		TopicPreferencesSet,
		TopicCompletionServed,
		TopicEmbeddingServed,
	}
}

// Event is a single published message.
type Event struct {
	Topic   string
	Payload any
	At      time.Time
}

// ClientEvent is the payload of every lifecycle topic.
type ClientEvent struct {
	ClientID   string
	ClientName string
	Provider   string
	Detail     string
}

// EventBus is the interface for publishing and subscribing to topics.
type EventBus interface {
	Publish(topic string, payload any)
	Subscribe(topic string) <-chan Event
}

const defaultBufferSize = 100

// Bus is the in-memory implementation of EventBus.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan Event
	closed      bool
	dropped     atomic.Int64
	now         func() time.Time
}

// New returns a new in-memory Bus.
func New() *Bus {
	return &Bus{
		subscribers: make(map[string][]chan Event),
		now:         time.Now,
	}
}

// Subscribe registers a new subscriber for topic and returns a read-only channel that is
// closed by Close. Subscribing to a closed bus returns an already closed channel.
func (b *Bus) Subscribe(topic string) <-chan Event {
	ch := make(chan Event, defaultBufferSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subscribers[topic] = append(b.subscribers[topic], ch)
	return ch
}

// Publish sends an Event to all subscribers of topic. Publishing on a closed bus is a no-op.
func (b *Bus) Publish(topic string, payload any) {
	evt := Event{Topic: topic, Payload: payload, At: b.now()}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subscribers[topic] {
		select {
		case ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped because a buffer was full.
func (b *Bus) Dropped() int64 { return b.dropped.Load() }

// Close closes every subscriber channel. Safe to call more than once.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for topic, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, topic)
	}
}
