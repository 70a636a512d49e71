package sse

import "testing"

func TestPublishReachesSubscriber(t *testing.T) {
	hub := New()
	ch, unsub := hub.Subscribe("run:abc")
	defer unsub()

	hub.Publish("run:abc", Event{Type: "state", Data: `{"state":"POLLING"}`})

	select {
	case evt := <-ch:
		if evt.Type != "state" {
			t.Errorf("type = %s", evt.Type)
		}
	default:
		t.Fatal("no event delivered")
	}
}

func TestPublishSkipsOtherTopics(t *testing.T) {
	hub := New()
	ch, unsub := hub.Subscribe("run:abc")
	defer unsub()

	hub.Publish("run:other", Event{Type: "state"})

	select {
	case <-ch:
		t.Fatal("event delivered to wrong topic")
	default:
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	hub := New()
	ch, unsub := hub.Subscribe("run:abc")
	unsub()

	hub.Publish("run:abc", Event{Type: "ready"})

	select {
	case <-ch:
		t.Fatal("event delivered after unsubscribe")
	default:
	}
}

func TestSlowClientIsSkipped(t *testing.T) {
	hub := New()
	ch, unsub := hub.Subscribe("run:abc")
	defer unsub()

	// Fill the buffer; further publishes must not block.
	for i := 0; i < 20; i++ {
		hub.Publish("run:abc", Event{Type: "state"})
	}
	if len(ch) != cap(ch) {
		t.Errorf("buffer len = %d, want %d", len(ch), cap(ch))
	}
}
