package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("auth.", 10)
	defer unsub()

	b.Publish(Event{Kind: "auth.signed_in", Timestamp: time.Now(), Payload: "u1"})

	select {
	case evt := <-ch:
		if evt.Kind != "auth.signed_in" {
			t.Errorf("got kind %q, want auth.signed_in", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()

	b.Publish(Event{Kind: "chat.created"})
	b.Publish(Event{Kind: "message.snapshot"})

	select {
	case evt := <-ch:
		if evt.Kind != "message.snapshot" {
			t.Errorf("got kind %q, want message.snapshot", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// The chat event must not have been delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("auth.", 10)
	unsub()

	b.Publish(Event{Kind: "auth.signed_out"})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("presence.", 1)
	defer unsub()

	b.Publish(Event{Kind: "presence.heartbeat", Payload: 1})
	// Buffer is full; this one is dropped rather than blocking.
	b.Publish(Event{Kind: "presence.heartbeat", Payload: 2})

	evt := <-ch
	if evt.Payload != 1 {
		t.Errorf("got payload %v, want 1", evt.Payload)
	}
}
