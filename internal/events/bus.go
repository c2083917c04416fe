// Package events provides the process-wide publish/subscribe bus.
// Events flow from components (collectors, proactive engine, skills,
// chat bridge) to subscribers (WebSocket feed, Telegram notifier, MQTT
// publisher, skill event handlers). The bus is nil-safe: calling
// Publish on a nil *Bus is a no-op, so components do not need guard
// checks.
package events

import (
	"sync"
	"time"
)

// Core topics. Skills may publish arbitrary additional topics.
const (
	// TopicNotification carries user-facing notifications.
	// Data: level, title, message, plus notification-specific keys.
	TopicNotification = "notification"
	// TopicNewEmail fires when the email collector stores a message.
	// Data: event_id, sender, subject.
	TopicNewEmail = "new_email"
	// TopicCalendarSynced fires after a calendar sync pass.
	// Data: events.
	TopicCalendarSynced = "calendar_synced"
	// TopicGoogleConnected fires when OAuth completes.
	TopicGoogleConnected = "google_connected"
	// TopicGoogleDisconnected fires when the user disconnects Google.
	TopicGoogleDisconnected = "google_disconnected"
)

// TopicAll subscribes to every topic.
const TopicAll = "*"

// Event is a single message published on a topic.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Topic     string         `json:"topic"`
	Source    string         `json:"source,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

type subscriber struct {
	topic string
	ch    chan Event
}

// Bus is a non-blocking topic-based event bus. Subscribers receive
// events on buffered channels; slow subscribers miss events rather
// than blocking publishers. Delivery preserves publish order per
// subscriber; there is no ordering guarantee across subscribers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]*subscriber
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs, so Unsubscribe
	// can accept <-chan Event (the caller's view) without an illegal
	// type conversion.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]*subscriber),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to every subscriber of its topic (and every
// wildcard subscriber). Non-blocking: a full subscriber channel drops
// the event for that subscriber only. Safe to call on a nil receiver.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch, sub := range b.subs {
		if sub.topic != TopicAll && sub.topic != e.Topic {
			continue
		}
		select {
		case ch <- e:
		default:
			// Subscriber is full: drop rather than block.
		}
	}
}

// Subscribe returns a channel receiving events published on topic.
// Pass TopicAll to receive everything. The caller must eventually call
// Unsubscribe to avoid resource leaks. bufSize controls the channel
// buffer; 64 is a reasonable default for WebSocket consumers.
func (b *Bus) Subscribe(topic string, bufSize int) <-chan Event {
	if bufSize <= 0 {
		bufSize = 64
	}
	ch := make(chan Event, bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = &subscriber{topic: topic, ch: ch}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
