package sse

import "sync"

// Event is one server-sent event on a run's progress stream.
type Event struct {
	Type string // "state", "ready", "failed"
	Data string // JSON payload
}

// Hub is an in-memory pub/sub hub keyed by run topic. The studio page
// subscribes to "run:<id>" while a run is in flight.
type Hub struct {
	mu      sync.Mutex
	clients map[string]map[chan Event]struct{}
}

func New() *Hub {
	return &Hub{
		clients: make(map[string]map[chan Event]struct{}),
	}
}

// Subscribe registers a listener on the given topic and returns a
// receive-only channel plus an unsubscribe function.
func (h *Hub) Subscribe(topic string) (<-chan Event, func()) {
	ch := make(chan Event, 16)

	h.mu.Lock()
	if h.clients[topic] == nil {
		h.clients[topic] = make(map[chan Event]struct{})
	}
	h.clients[topic][ch] = struct{}{}
	h.mu.Unlock()

	unsub := func() {
		h.mu.Lock()
		delete(h.clients[topic], ch)
		if len(h.clients[topic]) == 0 {
			delete(h.clients, topic)
		}
		h.mu.Unlock()
	}

	return ch, unsub
}

// Publish sends an event to all subscribers on the topic. Non-blocking:
// slow clients are skipped.
func (h *Hub) Publish(topic string, event Event) {
	h.mu.Lock()
	subs := h.clients[topic]
	channels := make([]chan Event, 0, len(subs))
	for ch := range subs {
		channels = append(channels, ch)
	}
	h.mu.Unlock()

	for _, ch := range channels {
		select {
		case ch <- event:
		default:
		}
	}
}
