package chat

import (
	"context"

	chatModels "sandchat/internal/domain/models/chat"
)

// ConversationService owns the chat list, the active chat selection and
// their persistence. All returned chats are copies; mutate through the
// Update* methods.
type ConversationService interface {
	// Load restores state from the blob store. Corrupt data yields an empty
	// state and clears the store.
	Load(ctx context.Context) error

	// Persist writes the full state. Write failures are logged, not returned.
	Persist(ctx context.Context)

	CreateChat(ctx context.Context, title string) (*chatModels.Chat, error)
	GetChat(ctx context.Context, chatID string) (*chatModels.Chat, error)
	ListChats(ctx context.Context) []chatModels.ChatSummary
	RenameChat(ctx context.Context, chatID string, req *RenameChatRequest) (*chatModels.Chat, error)
	DeleteChat(ctx context.Context, chatID string) error

	// SetActiveChat selects the active chat; an empty ID clears the selection
	SetActiveChat(ctx context.Context, chatID string) error
	ActiveChatID() *string

	AppendMessage(ctx context.Context, chatID string, msg *chatModels.Message) error

	// UpdateMessage applies fn to the stored message and returns a copy of the result
	UpdateMessage(ctx context.Context, chatID, messageID string, fn func(*chatModels.Message)) (*chatModels.Message, error)

	// UpdateSandbox applies fn to the chat's sandbox, creating it first when
	// create is true and the chat has none. Returns a copy of the result.
	UpdateSandbox(ctx context.Context, chatID string, create bool, fn func(*chatModels.SandboxState) error) (*chatModels.SandboxState, error)

	AppendConsole(ctx context.Context, chatID string, lines ...chatModels.ConsoleLine) error
	ClearConsole(ctx context.Context, chatID string) error
}

// RenameChatRequest is the DTO for renaming a chat
type RenameChatRequest struct {
	Title string `json:"title"`
}
