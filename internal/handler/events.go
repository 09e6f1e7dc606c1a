package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"

	chatModels "sandchat/internal/domain/models/chat"
	domainchat "sandchat/internal/domain/services/chat"
	"sandchat/internal/handler/sse"
	"sandchat/internal/httputil"
)

// EventsHandler streams chat updates over Server-Sent Events
type EventsHandler struct {
	conversations domainchat.ConversationService
	turns         domainchat.TurnService
	config        *sse.Config
	logger        *slog.Logger
}

// NewEventsHandler creates a new events handler. A nil config uses sse.DefaultConfig.
func NewEventsHandler(
	conversations domainchat.ConversationService,
	turns domainchat.TurnService,
	config *sse.Config,
	logger *slog.Logger,
) *EventsHandler {
	if config == nil {
		config = sse.DefaultConfig()
	}
	return &EventsHandler{
		conversations: conversations,
		turns:         turns,
		config:        config,
		logger:        logger,
	}
}

// StreamEvents sends a snapshot of the chat followed by live updates until
// the client disconnects or the chat is deleted
// GET /api/chats/{id}/events
func (h *EventsHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	chatID, ok := PathParam(w, r, "id", "Chat ID")
	if !ok {
		return
	}

	if _, err := h.conversations.GetChat(r.Context(), chatID); err != nil {
		handleError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, unsubscribe := h.turns.Subscribe(chatID)
	defer unsubscribe()

	clientID := uuid.NewString()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.logger.Debug("SSE stream established",
		"chat_id", chatID,
		"client_id", clientID,
	)

	// Keep-alive and event writes share the connection
	var mu sync.Mutex
	keepAlive := sse.NewTickerKeepAlive(h.config.KeepAliveInterval)
	stopped := keepAlive.Start(&lockedKeepAliveWriter{
		mu:    &mu,
		inner: sse.NewSSEKeepAliveWriter(w, flusher, chatID, clientID),
	}, h.logger)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Debug("SSE client disconnected",
				"chat_id", chatID,
				"client_id", clientID,
			)
			return

		case <-stopped:
			return

		case evt, ok := <-events:
			if !ok {
				h.logger.Debug("event channel closed, ending stream",
					"chat_id", chatID,
					"client_id", clientID,
				)
				return
			}

			mu.Lock()
			err := writeEvent(w, evt)
			if err == nil {
				flusher.Flush()
			}
			mu.Unlock()

			if err != nil {
				h.logger.Info("client disconnected during event write",
					"chat_id", chatID,
					"client_id", clientID,
					"error", err,
				)
				return
			}
		}
	}
}

// writeEvent writes one event in SSE framing
func writeEvent(w http.ResponseWriter, evt chatModels.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data)
	return err
}

type lockedKeepAliveWriter struct {
	mu    *sync.Mutex
	inner sse.KeepAliveWriter
}

func (l *lockedKeepAliveWriter) WriteKeepAlive() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inner.WriteKeepAlive()
}
