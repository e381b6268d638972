// Package broadcast fans document events out to live subscribers.
//
// Delivery is best-effort. Publish never blocks: a subscriber whose
// buffer is full is dropped and its channel closed, so one stalled
// reader cannot delay the writer or other subscribers.
package broadcast

import (
	"sync"

	"github.com/tracklight/tracklight/internal/tracker/domain"
)

const defaultBuffer = 16

// Subscriber receives published events on a buffered channel. The
// channel is closed when the subscriber is removed, either by
// Unsubscribe or because it fell behind.
type Subscriber struct {
	ch chan domain.Event
}

// Events returns the receive side of the subscriber's channel.
func (s *Subscriber) Events() <-chan domain.Event {
	return s.ch
}

// Hub tracks subscribers and delivers events to each of them.
type Hub struct {
	mu          sync.Mutex
	subscribers map[*Subscriber]struct{}
	buffer      int
}

// NewHub creates a hub whose subscribers buffer up to buffer events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		subscribers: make(map[*Subscriber]struct{}),
		buffer:      buffer,
	}
}

// Subscribe registers a new subscriber.
func (h *Hub) Subscribe() *Subscriber {
	sub := &Subscriber{ch: make(chan domain.Event, h.buffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers[sub] = struct{}{}
	return sub
}

// Unsubscribe removes a subscriber and closes its channel. Removing a
// subscriber twice, or one already dropped for falling behind, is safe.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[sub]; !ok {
		return
	}
	delete(h.subscribers, sub)
	close(sub.ch)
}

// Publish delivers an event to every subscriber without blocking.
// Subscribers with a full buffer are removed and their channels closed.
func (h *Hub) Publish(event domain.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subscribers {
		select {
		case sub.ch <- event:
		default:
			delete(h.subscribers, sub)
			close(sub.ch)
		}
	}
}

// Len reports the number of active subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}
