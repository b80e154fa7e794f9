package transport

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"watchparty/internal/protocol"
)

// Hub is an in-process Channel. Delivery is synchronous on the publisher's
// goroutine, so handlers must hand packets off without blocking.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[string]Handler
	closed bool
}

func NewHub() *Hub {
	return &Hub{topics: make(map[string]map[string]Handler)}
}

func (h *Hub) Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[string]Handler)
		h.topics[topic] = subs
	}
	id := uuid.NewString()
	subs[id] = handler

	var once sync.Once
	return SubscriptionFunc(func() error {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if subs, ok := h.topics[topic]; ok {
				delete(subs, id)
				if len(subs) == 0 {
					delete(h.topics, topic)
				}
			}
		})
		return nil
	}), nil
}

func (h *Hub) Publish(ctx context.Context, topic string, packet protocol.SyncPacket) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return ErrClosed
	}
	handlers := make([]Handler, 0, len(h.topics[topic]))
	for _, handler := range h.topics[topic] {
		handlers = append(handlers, handler)
	}
	h.mu.RUnlock()

	for _, handler := range handlers {
		handler(packet)
	}
	return nil
}

// Subscribers returns the number of live subscriptions on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.topics = make(map[string]map[string]Handler)
}
