package chat

import (
	"context"

	chatModels "sandchat/internal/domain/models/chat"
)

// Role of a history entry sent to the text-generation backend
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// HistoryEntry is one prior message of the conversation
type HistoryEntry struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// StreamOptions tunes a single generation request
type StreamOptions struct {
	SearchEnabled bool   `json:"search_enabled"`
	Variant       string `json:"variant"`
}

// StreamRequest is everything the backend needs for one assistant turn
type StreamRequest struct {
	Prompt      string
	History     []HistoryEntry
	Attachments []chatModels.Attachment
	Options     StreamOptions
}

// StreamChunk is one increment of a streamed answer.
// TextDelta may be empty. A non-nil Err ends the stream.
type StreamChunk struct {
	TextDelta         string
	GroundingMetadata map[string]interface{}
	Err               error
}

// TokenSource yields the text of one assistant turn as a sequence of chunks.
// The returned channel is closed when the backend finishes. Cancelling ctx
// is the cancellation signal; implementations stop sending once it fires.
type TokenSource interface {
	Stream(ctx context.Context, req *StreamRequest) (<-chan StreamChunk, error)
}
