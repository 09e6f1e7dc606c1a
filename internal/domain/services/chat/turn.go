package chat

import (
	"context"

	chatModels "sandchat/internal/domain/models/chat"
)

// TurnService coordinates assistant turns. At most one turn is in flight at
// a time; starting another cancels the active one first.
type TurnService interface {
	// Send appends the user message and starts an assistant turn.
	// An empty ChatID creates a new chat titled after the prompt.
	Send(ctx context.Context, req *SendRequest) (*SendResponse, error)

	// AutoFix starts a turn asking the assistant to fix a sandbox error
	AutoFix(ctx context.Context, req *AutoFixRequest) (*SendResponse, error)

	// Stop cancels the active turn of the chat. Returns false when none is active.
	Stop(ctx context.Context, chatID string) bool

	// Subscribe streams updates for a chat until unsubscribe is called
	Subscribe(chatID string) (events <-chan chatModels.Event, unsubscribe func())
}

// SendRequest is the DTO for a user send
type SendRequest struct {
	ChatID        string                  `json:"-"`
	Prompt        string                  `json:"prompt"`
	Attachments   []chatModels.Attachment `json:"attachments,omitempty"`
	SearchEnabled bool                    `json:"search_enabled"`
	Variant       string                  `json:"variant,omitempty"`
}

// AutoFixRequest is the DTO for an auto-fix request raised from a console error.
// Path defaults to the sandbox's active file.
type AutoFixRequest struct {
	ChatID  string `json:"-"`
	Error   string `json:"error"`
	Path    string `json:"path,omitempty"`
	Variant string `json:"variant,omitempty"`
}

// SendResponse describes the turn that was started
type SendResponse struct {
	ChatID      string              `json:"chat_id"`
	TurnID      string              `json:"turn_id"`
	UserMessage *chatModels.Message `json:"user_message"`
	AIMessage   *chatModels.Message `json:"ai_message"`
	EventsURL   string              `json:"events_url"`
	StreamURL   string              `json:"stream_url"`
}
