package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	chatModels "sandchat/internal/domain/models/chat"
	domainchat "sandchat/internal/domain/services/chat"
	"sandchat/internal/httputil"
)

// NewChatID is the path value that makes a send create its chat first
const NewChatID = "new"

// ChatCloser ends the event streams of a deleted chat
type ChatCloser interface {
	CloseChat(chatID string)
}

// ChatHandler handles chat HTTP requests
type ChatHandler struct {
	conversations domainchat.ConversationService
	turns         domainchat.TurnService
	sandbox       domainchat.SandboxService
	closer        ChatCloser
	logger        *slog.Logger
}

// NewChatHandler creates a new chat handler
func NewChatHandler(
	conversations domainchat.ConversationService,
	turns domainchat.TurnService,
	sandbox domainchat.SandboxService,
	closer ChatCloser,
	logger *slog.Logger,
) *ChatHandler {
	return &ChatHandler{
		conversations: conversations,
		turns:         turns,
		sandbox:       sandbox,
		closer:        closer,
		logger:        logger,
	}
}

// ChatListResponse is the chat list plus the current selection
type ChatListResponse struct {
	Chats        []chatModels.ChatSummary `json:"chats"`
	ActiveChatID *string                  `json:"active_chat_id"`
}

// CreateChatRequest is the optional body of a create
type CreateChatRequest struct {
	Title string `json:"title"`
}

// UpdateChatRequest distinguishes an absent title from an empty one
type UpdateChatRequest struct {
	Title httputil.OptionalString `json:"title"`
}

// ActiveChatResponse reports the selected chat
type ActiveChatResponse struct {
	ActiveChatID *string `json:"active_chat_id"`
}

// StopResponse reports whether a turn was cancelled
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// ListChats returns all chats, newest first
// GET /api/chats
func (h *ChatHandler) ListChats(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, http.StatusOK, ChatListResponse{
		Chats:        h.conversations.ListChats(r.Context()),
		ActiveChatID: h.conversations.ActiveChatID(),
	})
}

// CreateChat creates an empty chat and selects it. The body is optional.
// POST /api/chats
func (h *ChatHandler) CreateChat(w http.ResponseWriter, r *http.Request) {
	var req CreateChatRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	chat, err := h.conversations.CreateChat(r.Context(), req.Title)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusCreated, chat)
}

// GetChat retrieves a single chat by ID
// GET /api/chats/{id}
func (h *ChatHandler) GetChat(w http.ResponseWriter, r *http.Request) {
	chatID, ok := PathParam(w, r, "id", "Chat ID")
	if !ok {
		return
	}

	chat, err := h.conversations.GetChat(r.Context(), chatID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, chat)
}

// UpdateChat renames a chat
// PATCH /api/chats/{id}
func (h *ChatHandler) UpdateChat(w http.ResponseWriter, r *http.Request) {
	chatID, ok := PathParam(w, r, "id", "Chat ID")
	if !ok {
		return
	}

	var req UpdateChatRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !req.Title.Present || req.Title.Value == nil {
		httputil.RespondError(w, http.StatusBadRequest, "title is required")
		return
	}

	chat, err := h.conversations.RenameChat(r.Context(), chatID, &domainchat.RenameChatRequest{
		Title: *req.Title.Value,
	})
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, chat)
}

// DeleteChat stops the chat's turn, drops its runtime state and removes it
// DELETE /api/chats/{id}
func (h *ChatHandler) DeleteChat(w http.ResponseWriter, r *http.Request) {
	chatID, ok := PathParam(w, r, "id", "Chat ID")
	if !ok {
		return
	}

	h.turns.Stop(r.Context(), chatID)
	if err := h.conversations.DeleteChat(r.Context(), chatID); err != nil {
		handleError(w, err)
		return
	}
	h.sandbox.Forget(r.Context(), chatID)
	h.closer.CloseChat(chatID)

	w.WriteHeader(http.StatusNoContent)
}

// SetActiveChat selects the active chat
// PUT /api/chats/{id}/active
func (h *ChatHandler) SetActiveChat(w http.ResponseWriter, r *http.Request) {
	chatID, ok := PathParam(w, r, "id", "Chat ID")
	if !ok {
		return
	}

	if err := h.conversations.SetActiveChat(r.Context(), chatID); err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, ActiveChatResponse{
		ActiveChatID: h.conversations.ActiveChatID(),
	})
}

// SendMessage appends a user message and starts an assistant turn.
// The chat ID "new" creates a chat titled after the prompt.
// POST /api/chats/{id}/messages
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	chatID, ok := PathParam(w, r, "id", "Chat ID")
	if !ok {
		return
	}

	var req domainchat.SendRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if chatID != NewChatID {
		req.ChatID = chatID
	}

	// Turns outlive the request
	resp, err := h.turns.Send(r.Context(), &req)
	if err != nil {
		handleError(w, err)
		return
	}

	h.logger.Debug("turn started via HTTP",
		"chat_id", resp.ChatID,
		"turn_id", resp.TurnID,
	)
	httputil.RespondJSON(w, http.StatusAccepted, resp)
}

// StopTurn cancels the chat's active turn
// POST /api/chats/{id}/stop
func (h *ChatHandler) StopTurn(w http.ResponseWriter, r *http.Request) {
	chatID, ok := PathParam(w, r, "id", "Chat ID")
	if !ok {
		return
	}

	httputil.RespondJSON(w, http.StatusOK, StopResponse{
		Stopped: h.turns.Stop(r.Context(), chatID),
	})
}

// AutoFix starts a turn asking the assistant to fix a console error
// POST /api/chats/{id}/autofix
func (h *ChatHandler) AutoFix(w http.ResponseWriter, r *http.Request) {
	chatID, ok := PathParam(w, r, "id", "Chat ID")
	if !ok {
		return
	}

	var req domainchat.AutoFixRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.ChatID = chatID

	resp, err := h.turns.AutoFix(r.Context(), &req)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusAccepted, resp)
}
