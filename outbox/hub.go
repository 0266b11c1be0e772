package outbox

import (
	"context"
	"sync"
)

// Hub fans published messages out to in-process subscribers such as
// websocket streams. Slow subscribers lose messages rather than stall the relay.
type Hub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]*subscription
}

type subscription struct {
	ch     chan Message
	filter func(Message) bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]*subscription)}
}

// Subscribe registers a listener. A nil filter receives every message. The
// returned cancel func must be called to release the subscription.
func (h *Hub) Subscribe(buffer int, filter func(Message) bool) (<-chan Message, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	sub := &subscription{ch: make(chan Message, buffer), filter: filter}

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = sub
	h.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(sub.ch)
		})
	}
}

// Publish implements Publisher.
func (h *Hub) Publish(_ context.Context, msg Message) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if sub.filter != nil && !sub.filter(msg) {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
