package memory

import (
	"context"
	"sync"

	"quiz-engine/internal/domain"
)

const defaultSubscriberBuffer = 32

// Hub fans session events out to in-process subscribers (one per WebSocket).
// A slow subscriber loses its oldest buffered events rather than blocking the session.
type Hub struct {
	buffer int

	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]chan domain.Event
}

func NewHub() *Hub {
	return NewHubWithBuffer(defaultSubscriberBuffer)
}

func NewHubWithBuffer(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Hub{
		buffer: buffer,
		subs:   make(map[string]map[uint64]chan domain.Event),
	}
}

// Subscribe registers for events of one session. The returned cancel func is idempotent
// and closes the channel.
func (h *Hub) Subscribe(sessionID string) (<-chan domain.Event, func()) {
	ch := make(chan domain.Event, h.buffer)

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[uint64]chan domain.Event)
	}
	h.subs[sessionID][id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if set, ok := h.subs[sessionID]; ok {
				delete(set, id)
				if len(set) == 0 {
					delete(h.subs, sessionID)
				}
			}
			close(ch)
		})
	}
}

// Publish never blocks.
func (h *Hub) Publish(_ context.Context, event domain.Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs[event.SessionID] {
		deliver(ch, event)
	}
	return nil
}

// Subscribers reports how many listeners a session has.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}

func deliver(ch chan domain.Event, event domain.Event) {
	for {
		select {
		case ch <- event:
			return
		default:
		}
		// drop oldest
		select {
		case <-ch:
		default:
		}
	}
}
