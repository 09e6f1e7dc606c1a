// Package events fans chat updates out to subscribers (SSE clients, the CLI).
package events

import (
	"log/slog"
	"sync"

	chatModels "sandchat/internal/domain/models/chat"
)

// subscriberBuffer bounds how far a slow subscriber may lag before events
// are dropped for it. Dropped clients recover through the snapshot sent on
// reconnection.
const subscriberBuffer = 64

// Hub broadcasts chat events to per-chat subscribers.
//
// Thread-safety: all methods are safe for concurrent use. Publish never
// blocks on a subscriber.
type Hub struct {
	logger *slog.Logger

	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]chan chatModels.Event // chatID -> subscriber -> channel
}

// NewHub creates an empty hub
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger,
		subs:   make(map[string]map[uint64]chan chatModels.Event),
	}
}

// Subscribe registers a subscriber for a chat. The channel is closed by
// unsubscribe, which is safe to call more than once.
func (h *Hub) Subscribe(chatID string) (<-chan chatModels.Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	ch := make(chan chatModels.Event, subscriberBuffer)
	if h.subs[chatID] == nil {
		h.subs[chatID] = make(map[uint64]chan chatModels.Event)
	}
	h.subs[chatID][id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() { h.remove(chatID, id) })
	}
}

func (h *Hub) remove(chatID string, id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := h.subs[chatID]
	if ch, ok := clients[id]; ok {
		close(ch)
		delete(clients, id)
	}
	if len(clients) == 0 {
		delete(h.subs, chatID)
	}
}

// Publish sends evt to every subscriber of evt.ChatID
func (h *Hub) Publish(evt chatModels.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subs[evt.ChatID] {
		select {
		case ch <- evt:
		default:
			// Subscriber is behind, it will resync from the next snapshot
			h.logger.Warn("dropping event for slow subscriber",
				"chat_id", evt.ChatID,
				"subscriber", id,
				"event_type", evt.Type,
			)
		}
	}
}

// CloseChat disconnects every subscriber of a chat
func (h *Hub) CloseChat(chatID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.subs[chatID] {
		close(ch)
		delete(h.subs[chatID], id)
	}
	delete(h.subs, chatID)
}

// Subscribers returns the number of subscribers of a chat
func (h *Hub) Subscribers(chatID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[chatID])
}
