package events

import (
	"testing"
	"time"
)

func TestNilBusPublish(t *testing.T) {
	var b *Bus
	// Must not panic.
	b.Publish(Event{Topic: TopicNotification})
}

func TestNilBusSubscriberCount(t *testing.T) {
	var b *Bus
	if got := b.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount() on nil bus = %d, want 0", got)
	}
}

func TestTopicFiltering(t *testing.T) {
	b := New()
	notifications := b.Subscribe(TopicNotification, 8)
	emails := b.Subscribe(TopicNewEmail, 8)
	defer b.Unsubscribe(notifications)
	defer b.Unsubscribe(emails)

	b.Publish(Event{Topic: TopicNotification, Data: map[string]any{"title": "hi"}})

	select {
	case got := <-notifications:
		if got.Topic != TopicNotification {
			t.Errorf("topic = %q, want notification", got.Topic)
		}
		if got.Timestamp.IsZero() {
			t.Error("expected timestamp to be set")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notification")
	}

	select {
	case got := <-emails:
		t.Errorf("email subscriber received %v, want nothing", got)
	default:
	}
}

func TestWildcardSubscriber(t *testing.T) {
	b := New()
	all := b.Subscribe(TopicAll, 8)
	defer b.Unsubscribe(all)

	b.Publish(Event{Topic: TopicNewEmail})
	b.Publish(Event{Topic: "skill.custom"})

	for _, want := range []string{TopicNewEmail, "skill.custom"} {
		select {
		case got := <-all:
			if got.Topic != want {
				t.Errorf("topic = %q, want %q", got.Topic, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestOrderPreservedPerSubscriber(t *testing.T) {
	b := New()
	ch := b.Subscribe(TopicNotification, 16)
	defer b.Unsubscribe(ch)

	for i := range 10 {
		b.Publish(Event{Topic: TopicNotification, Data: map[string]any{"i": i}})
	}
	for i := range 10 {
		select {
		case got := <-ch:
			if got.Data["i"].(int) != i {
				t.Fatalf("out of order: got %v at position %d", got.Data["i"], i)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out")
		}
	}
}

func TestDropOnFull(t *testing.T) {
	b := New()
	ch := b.Subscribe(TopicNotification, 1)
	defer b.Unsubscribe(ch)

	b.Publish(Event{Topic: TopicNotification, Source: "first"})
	b.Publish(Event{Topic: TopicNotification, Source: "second"})

	got := <-ch
	if got.Source != "first" {
		t.Errorf("source = %q, want first", got.Source)
	}
	select {
	case extra := <-ch:
		t.Errorf("expected second event dropped, got %v", extra)
	default:
	}
}

func TestUnsubscribeTwice(t *testing.T) {
	b := New()
	ch := b.Subscribe(TopicNotification, 1)
	b.Unsubscribe(ch)
	// Second call must be a no-op, not a panic.
	b.Unsubscribe(ch)

	if got := b.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount = %d, want 0", got)
	}
}
