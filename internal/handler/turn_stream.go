package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	mstream "github.com/haowjy/meridian-stream-go"

	"sandchat/internal/domain"
	"sandchat/internal/handler/sse"
	"sandchat/internal/httputil"
)

// TurnStreamHandler streams the events of a single in-flight turn
type TurnStreamHandler struct {
	registry *mstream.Registry
	config   *sse.Config
	logger   *slog.Logger
}

// NewTurnStreamHandler creates a new turn stream handler. A nil config uses sse.DefaultConfig.
func NewTurnStreamHandler(registry *mstream.Registry, config *sse.Config, logger *slog.Logger) *TurnStreamHandler {
	if config == nil {
		config = sse.DefaultConfig()
	}
	return &TurnStreamHandler{
		registry: registry,
		config:   config,
		logger:   logger,
	}
}

// StreamTurn replays the turn's catchup events, then forwards live events
// until the turn settles. Last-Event-ID resumes from the stream buffer.
// GET /api/turns/{id}/stream
func (h *TurnStreamHandler) StreamTurn(w http.ResponseWriter, r *http.Request) {
	turnID, ok := PathParam(w, r, "id", "Turn ID")
	if !ok {
		return
	}
	if _, err := uuid.Parse(turnID); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "invalid turn ID format")
		return
	}

	stream := h.registry.Get(turnID)
	if stream == nil {
		h.logger.Debug("turn stream not found", "turn_id", turnID)
		handleError(w, &domain.NotFoundError{Message: "streaming not active for this turn"})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	clientID := uuid.NewString()

	// Register before reading catchup so nothing broadcast in between is lost
	eventChan := stream.AddClient(clientID)
	defer stream.RemoveClient(clientID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	var mu sync.Mutex
	write := func(evt mstream.Event) error {
		mu.Lock()
		defer mu.Unlock()
		if err := writeStreamEvent(w, evt); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	for _, evt := range stream.GetCatchupEvents(r.Header.Get("Last-Event-ID")) {
		if err := write(evt); err != nil {
			h.logger.Info("client disconnected during catchup",
				"turn_id", turnID,
				"client_id", clientID,
				"error", err,
			)
			return
		}
	}
	flusher.Flush()

	h.logger.Debug("turn stream established",
		"turn_id", turnID,
		"client_id", clientID,
	)

	keepAlive := sse.NewTickerKeepAlive(h.config.KeepAliveInterval)
	stopped := keepAlive.Start(&lockedKeepAliveWriter{
		mu:    &mu,
		inner: sse.NewSSEKeepAliveWriter(w, flusher, turnID, clientID),
	}, h.logger)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Debug("turn stream client disconnected",
				"turn_id", turnID,
				"client_id", clientID,
			)
			return

		case <-stopped:
			return

		case evt, ok := <-eventChan:
			if !ok {
				// Channel closed - turn settled
				h.logger.Debug("turn stream ended",
					"turn_id", turnID,
					"client_id", clientID,
				)
				return
			}
			if err := write(evt); err != nil {
				h.logger.Info("client disconnected during event write",
					"turn_id", turnID,
					"client_id", clientID,
					"error", err,
				)
				return
			}
		}
	}
}

// writeStreamEvent writes one stream event in SSE framing
func writeStreamEvent(w http.ResponseWriter, evt mstream.Event) error {
	if evt.ID != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", evt.ID); err != nil {
			return err
		}
	}
	if evt.Type != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", evt.Type); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "data: %s\n\n", evt.Data)
	return err
}
