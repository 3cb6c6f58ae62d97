package eventbus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(2)
	defer unsub()

	b.Publish(Event{Type: TypeScheduleFired, Data: "x"})

	select {
	case ev := <-ch:
		if ev.Type != TypeScheduleFired || ev.Data != "x" {
			t.Fatalf("event = %+v", ev)
		}
		if ev.Time.IsZero() {
			t.Fatal("publish must stamp the event time")
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"}) // buffer full; dropped, not blocked

	ev := <-ch
	if ev.Type != "a" {
		t.Fatalf("first event = %+v", ev)
	}
	select {
	case ev := <-ch:
		t.Fatalf("unexpected second event: %+v", ev)
	default:
	}
}

func TestPublishAfterUnsubscribe(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	unsub()
	unsub() // idempotent

	// Must not panic on the closed channel.
	b.Publish(Event{Type: "a"})
}
