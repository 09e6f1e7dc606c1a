package sse

import (
	"fmt"
	"net/http"
)

// SSEKeepAliveWriter writes SSE comment lines to a chat event stream
type SSEKeepAliveWriter struct {
	w        http.ResponseWriter
	flusher  http.Flusher
	chatID   string
	clientID string
}

// NewSSEKeepAliveWriter creates a new SSE keep-alive writer
func NewSSEKeepAliveWriter(
	w http.ResponseWriter,
	flusher http.Flusher,
	chatID string,
	clientID string,
) *SSEKeepAliveWriter {
	return &SSEKeepAliveWriter{
		w:        w,
		flusher:  flusher,
		chatID:   chatID,
		clientID: clientID,
	}
}

// WriteKeepAlive writes ": keepalive" and flushes
func (s *SSEKeepAliveWriter) WriteKeepAlive() error {
	// Lines starting with ':' are comments and ignored by EventSource
	if _, err := fmt.Fprintf(s.w, ": keepalive\n\n"); err != nil {
		return fmt.Errorf("write keepalive for chat %s (client %s) failed: %w", s.chatID, s.clientID, err)
	}
	s.flusher.Flush()

	// A zero-byte write surfaces a closed connection
	if _, err := s.w.Write([]byte{}); err != nil {
		return fmt.Errorf("connection closed: %w", err)
	}

	return nil
}
