package api

import (
	"testing"
	"time"
)

func TestBrokerPublishSubscribe(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("route-1")
	defer b.Unsubscribe("route-1", ch)

	b.Publish("route-1", SSEEvent{Type: "status", Data: map[string]any{"orderId": "ord-1"}})

	select {
	case evt := <-ch:
		if evt.Type != "status" {
			t.Fatalf("type: %q", evt.Type)
		}
		if evt.Data["orderId"] != "ord-1" {
			t.Fatalf("data: %+v", evt.Data)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("no event received")
	}
}

func TestBrokerRouteIsolation(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("route-1")
	defer b.Unsubscribe("route-1", ch)

	b.Publish("route-2", SSEEvent{Type: "status"})

	select {
	case evt := <-ch:
		t.Fatalf("leaked event from another route: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBrokerUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("route-1")
	b.Unsubscribe("route-1", ch)

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(50 * time.Millisecond):
		t.Fatal("channel not closed")
	}
}

func TestBrokerDropsWhenSubscriberIsSlow(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("route-1")
	defer b.Unsubscribe("route-1", ch)

	// Publish never blocks, even well past the channel buffer.
	for i := 0; i < 100; i++ {
		b.Publish("route-1", SSEEvent{Type: "status"})
	}
	if n := len(ch); n == 0 || n > cap(ch) {
		t.Fatalf("buffered events: %d", n)
	}
}
