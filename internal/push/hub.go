// Package push delivers best-effort notifications to per-user subscribers.
package push

import (
	"log"
	"sync"
	"time"
)

// Notification is a JSON-shaped message pushed to a subscriber.
type Notification map[string]any

// New builds a notification with the common fields every message carries.
func New(msgType, symbol string) Notification {
	return Notification{
		"type":      msgType,
		"symbol":    symbol,
		"timestamp": time.Now().UnixMilli(),
	}
}

const subscriberBuffer = 64

// Hub holds at most one live subscriber channel per user. Delivery is
// best-effort: a subscriber that cannot keep up is detached rather than ever
// blocking the trading pipeline.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]chan Notification
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]chan Notification)}
}

// Attach registers a subscriber for a user, replacing (and closing) any
// previous one. The returned channel is closed when the subscriber is
// replaced or detached.
func (h *Hub) Attach(userID string) <-chan Notification {
	ch := make(chan Notification, subscriberBuffer)

	h.mu.Lock()
	if old, ok := h.subs[userID]; ok {
		close(old)
	}
	h.subs[userID] = ch
	h.mu.Unlock()

	log.Printf("🔗 Subscriber attached for user %s", userID)
	return ch
}

// Detach removes the user's subscriber if it is still the given channel.
// A stale handler detaching must not remove a newer subscriber.
func (h *Hub) Detach(userID string, ch <-chan Notification) {
	h.mu.Lock()
	if cur, ok := h.subs[userID]; ok && cur == ch {
		close(cur)
		delete(h.subs, userID)
		log.Printf("🔗 Subscriber detached for user %s", userID)
	}
	h.mu.Unlock()
}

// Publish sends a notification to the user's subscriber if one exists.
// A full buffer means the subscriber is dead or stuck: it is deregistered.
// Returns whether the message was delivered.
func (h *Hub) Publish(userID string, n Notification) bool {
	// Channels are only ever closed under the write lock, so the send must
	// happen while the read lock is held: a concurrent Attach/Detach cannot
	// close the channel out from under it.
	h.mu.RLock()
	ch, ok := h.subs[userID]
	delivered := false
	if ok {
		select {
		case ch <- n:
			delivered = true
		default:
		}
	}
	h.mu.RUnlock()

	if !ok {
		return false
	}
	if delivered {
		return true
	}

	// Slow subscriber: drop it so it can reconnect cleanly.
	h.mu.Lock()
	if cur, stillOk := h.subs[userID]; stillOk && cur == ch {
		close(cur)
		delete(h.subs, userID)
		log.Printf("❌ Subscriber for user %s too slow; deregistered", userID)
	}
	h.mu.Unlock()
	return false
}

// HasSubscriber reports whether a live subscriber exists for the user.
func (h *Hub) HasSubscriber(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.subs[userID]
	return ok
}
