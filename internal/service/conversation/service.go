// Package conversation keeps the chat list, the active chat selection and
// each chat's sandbox, and persists them to a blob store.
package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"sandchat/internal/config"
	"sandchat/internal/domain"
	chatModels "sandchat/internal/domain/models/chat"
	"sandchat/internal/domain/repositories"
	domainchat "sandchat/internal/domain/services/chat"
)

const (
	chatsKey        = "chats"
	activeChatIDKey = "activeChatId"

	// DefaultChatTitle names chats created without a title
	DefaultChatTitle = "New Chat"
)

// service implements the ConversationService interface.
// A single mutex serialises all mutations; reads hand out deep copies.
type service struct {
	store     repositories.BlobStore
	keyPrefix string
	logger    *slog.Logger
	now       func() time.Time

	// persistMu is held across snapshot and write so stored state never
	// goes back to an older snapshot. Lock order: persistMu, then mu.
	persistMu sync.Mutex

	mu       sync.Mutex
	chats    []*chatModels.Chat // newest first
	activeID *string
}

// NewService creates a conversation service with empty state; call Load
// to restore persisted chats
func NewService(store repositories.BlobStore, keyPrefix string, logger *slog.Logger) domainchat.ConversationService {
	return &service{
		store:     store,
		keyPrefix: keyPrefix,
		logger:    logger,
		now:       time.Now,
		chats:     []*chatModels.Chat{},
	}
}

func (s *service) key(name string) string {
	return s.keyPrefix + name
}

// Load restores chats and the active chat id. Unparseable data is treated
// as empty state and removed from the store.
func (s *service) Load(ctx context.Context) error {
	rawChats, okChats, err := s.store.Get(ctx, s.key(chatsKey))
	if err != nil {
		return fmt.Errorf("load chats: %w", err)
	}
	rawActive, okActive, err := s.store.Get(ctx, s.key(activeChatIDKey))
	if err != nil {
		return fmt.Errorf("load active chat: %w", err)
	}

	chats := []*chatModels.Chat{}
	var activeID *string
	corrupt := false

	if okChats {
		if err := json.Unmarshal([]byte(rawChats), &chats); err != nil {
			s.logger.Warn("stored chats are corrupt, starting empty", "error", err)
			corrupt = true
		}
	}
	if okActive && !corrupt {
		if err := json.Unmarshal([]byte(rawActive), &activeID); err != nil {
			s.logger.Warn("stored active chat id is corrupt, starting empty", "error", err)
			corrupt = true
		}
	}

	if corrupt {
		s.clearStore(ctx)
		chats = []*chatModels.Chat{}
		activeID = nil
	}

	chats = sanitize(chats)
	if activeID != nil && findIndex(chats, *activeID) < 0 {
		activeID = nil
	}

	s.mu.Lock()
	s.chats = chats
	s.activeID = activeID
	s.mu.Unlock()

	s.logger.Info("conversations loaded", "chats", len(chats), "corrupt", corrupt)
	return nil
}

// sanitize drops nil entries and settles turns that were interrupted by a
// restart
func sanitize(chats []*chatModels.Chat) []*chatModels.Chat {
	out := chats[:0]
	for _, c := range chats {
		if c == nil || c.ID == "" {
			continue
		}
		msgs := c.Messages[:0]
		for _, m := range c.Messages {
			if m == nil {
				continue
			}
			if !m.Status.IsTerminal() {
				m.Status = chatModels.StatusIdle
			}
			msgs = append(msgs, m)
		}
		c.Messages = msgs
		out = append(out, c)
	}
	if out == nil {
		out = []*chatModels.Chat{}
	}
	return out
}

func (s *service) clearStore(ctx context.Context) {
	for _, k := range []string{chatsKey, activeChatIDKey} {
		if err := s.store.Remove(ctx, s.key(k)); err != nil {
			s.logger.Warn("failed to clear corrupt store key", "key", s.key(k), "error", err)
		}
	}
}

// Persist writes the full state. Failures are logged and swallowed:
// persistence is best-effort.
func (s *service) Persist(ctx context.Context) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	rawChats, errChats := json.Marshal(s.chats)
	rawActive, errActive := json.Marshal(s.activeID)
	s.mu.Unlock()

	if errChats != nil || errActive != nil {
		s.logger.Error("failed to encode conversations", "chats_error", errChats, "active_error", errActive)
		return
	}

	write := func(ctx context.Context) error {
		if err := s.store.Set(ctx, s.key(chatsKey), string(rawChats)); err != nil {
			return err
		}
		return s.store.Set(ctx, s.key(activeChatIDKey), string(rawActive))
	}

	var err error
	if tm, ok := s.store.(repositories.TransactionManager); ok {
		err = tm.ExecTx(ctx, write)
	} else {
		err = write(ctx)
	}
	if err != nil {
		s.logger.Error("failed to persist conversations", "error", err, "bytes", len(rawChats))
		return
	}
	s.logger.Debug("conversations persisted", "bytes", len(rawChats))
}

// CreateChat adds an empty chat at the top of the list and selects it
func (s *service) CreateChat(ctx context.Context, title string) (*chatModels.Chat, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultChatTitle
	}
	if err := validation.Validate(title, validation.RuneLength(1, config.MaxChatTitleLength)); err != nil {
		return nil, fmt.Errorf("%w: title: %v", domain.ErrValidation, err)
	}

	now := s.now()
	chat := &chatModels.Chat{
		ID:        newID(),
		Title:     title,
		Messages:  []*chatModels.Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.chats = append([]*chatModels.Chat{chat}, s.chats...)
	id := chat.ID
	s.activeID = &id
	out := chat.Clone()
	s.mu.Unlock()

	s.logger.Info("chat created", "id", chat.ID, "title", chat.Title)
	s.Persist(ctx)
	return out, nil
}

// GetChat returns a copy of the chat
func (s *service) GetChat(ctx context.Context, chatID string) (*chatModels.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat, err := s.findLocked(chatID)
	if err != nil {
		return nil, err
	}
	return chat.Clone(), nil
}

// ListChats returns summaries, newest first
func (s *service) ListChats(ctx context.Context) []chatModels.ChatSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]chatModels.ChatSummary, 0, len(s.chats))
	for _, c := range s.chats {
		out = append(out, c.Summary())
	}
	return out
}

// RenameChat updates a chat's title
func (s *service) RenameChat(ctx context.Context, chatID string, req *domainchat.RenameChatRequest) (*chatModels.Chat, error) {
	req.Title = strings.TrimSpace(req.Title)
	if err := s.validateRenameChatRequest(req); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	s.mu.Lock()
	chat, err := s.findLocked(chatID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	chat.Title = req.Title
	chat.UpdatedAt = s.now()
	out := chat.Clone()
	s.mu.Unlock()

	s.logger.Info("chat renamed", "id", chatID, "title", req.Title)
	s.Persist(ctx)
	return out, nil
}

// DeleteChat removes a chat. Deleting the active chat selects the newest
// remaining one.
func (s *service) DeleteChat(ctx context.Context, chatID string) error {
	s.mu.Lock()
	i := findIndex(s.chats, chatID)
	if i < 0 {
		s.mu.Unlock()
		return &domain.NotFoundError{Message: fmt.Sprintf("chat not found: %s", chatID)}
	}
	s.chats = append(s.chats[:i], s.chats[i+1:]...)
	if s.activeID != nil && *s.activeID == chatID {
		s.activeID = nil
		if len(s.chats) > 0 {
			id := s.chats[0].ID
			s.activeID = &id
		}
	}
	s.mu.Unlock()

	s.logger.Info("chat deleted", "id", chatID)
	s.Persist(ctx)
	return nil
}

// SetActiveChat selects a chat; an empty id clears the selection
func (s *service) SetActiveChat(ctx context.Context, chatID string) error {
	s.mu.Lock()
	if chatID == "" {
		s.activeID = nil
	} else {
		if _, err := s.findLocked(chatID); err != nil {
			s.mu.Unlock()
			return err
		}
		id := chatID
		s.activeID = &id
	}
	s.mu.Unlock()

	s.Persist(ctx)
	return nil
}

// ActiveChatID returns the selected chat id, or nil
func (s *service) ActiveChatID() *string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeID == nil {
		return nil
	}
	id := *s.activeID
	return &id
}

// AppendMessage adds a copy of msg to the chat's transcript
func (s *service) AppendMessage(ctx context.Context, chatID string, msg *chatModels.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat, err := s.findLocked(chatID)
	if err != nil {
		return err
	}
	chat.Messages = append(chat.Messages, msg.Clone())
	chat.UpdatedAt = s.now()
	return nil
}

// UpdateMessage applies fn to the stored message
func (s *service) UpdateMessage(ctx context.Context, chatID, messageID string, fn func(*chatModels.Message)) (*chatModels.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat, err := s.findLocked(chatID)
	if err != nil {
		return nil, err
	}
	msg := chat.FindMessage(messageID)
	if msg == nil {
		return nil, &domain.NotFoundError{Message: fmt.Sprintf("message not found: %s", messageID)}
	}
	fn(msg)
	chat.UpdatedAt = s.now()
	return msg.Clone(), nil
}

// UpdateSandbox applies fn to a copy of the chat's sandbox and stores the
// result only when fn succeeds
func (s *service) UpdateSandbox(ctx context.Context, chatID string, create bool, fn func(*chatModels.SandboxState) error) (*chatModels.SandboxState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat, err := s.findLocked(chatID)
	if err != nil {
		return nil, err
	}

	var next *chatModels.SandboxState
	switch {
	case chat.SandboxState != nil:
		next = chat.SandboxState.Clone()
	case create:
		next = chatModels.NewSandboxState()
	default:
		return nil, fmt.Errorf("chat %s: %w", chatID, domain.ErrNoSandbox)
	}

	if err := fn(next); err != nil {
		return nil, err
	}
	chat.SandboxState = next
	chat.UpdatedAt = s.now()
	return next.Clone(), nil
}

// AppendConsole adds console lines, keeping at most config.MaxConsoleLines
func (s *service) AppendConsole(ctx context.Context, chatID string, lines ...chatModels.ConsoleLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat, err := s.findLocked(chatID)
	if err != nil {
		return err
	}
	if chat.SandboxState == nil {
		return fmt.Errorf("chat %s: %w", chatID, domain.ErrNoSandbox)
	}
	out := append(chat.SandboxState.ConsoleOutput, lines...)
	if over := len(out) - config.MaxConsoleLines; over > 0 {
		out = append([]chatModels.ConsoleLine{}, out[over:]...)
	}
	chat.SandboxState.ConsoleOutput = out
	return nil
}

// ClearConsole empties the chat's console
func (s *service) ClearConsole(ctx context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat, err := s.findLocked(chatID)
	if err != nil {
		return err
	}
	if chat.SandboxState == nil {
		return fmt.Errorf("chat %s: %w", chatID, domain.ErrNoSandbox)
	}
	chat.SandboxState.ConsoleOutput = []chatModels.ConsoleLine{}
	return nil
}

func (s *service) findLocked(chatID string) (*chatModels.Chat, error) {
	if i := findIndex(s.chats, chatID); i >= 0 {
		return s.chats[i], nil
	}
	return nil, &domain.NotFoundError{Message: fmt.Sprintf("chat not found: %s", chatID)}
}

func findIndex(chats []*chatModels.Chat, chatID string) int {
	for i, c := range chats {
		if c.ID == chatID {
			return i
		}
	}
	return -1
}

// Validation methods

func (s *service) validateRenameChatRequest(req *domainchat.RenameChatRequest) error {
	return validation.ValidateStruct(req,
		validation.Field(&req.Title,
			validation.Required,
			validation.RuneLength(1, config.MaxChatTitleLength),
		),
	)
}
