// Package turn drives assistant turns: it consumes the token stream, keeps
// the assistant message and the sandbox in step with the parsed buffer and
// guarantees that at most one turn is in flight.
package turn

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	mstream "github.com/haowjy/meridian-stream-go"

	"sandchat/internal/config"
	"sandchat/internal/domain"
	chatModels "sandchat/internal/domain/models/chat"
	domainchat "sandchat/internal/domain/services/chat"
	"sandchat/internal/service/conversation"
	"sandchat/internal/service/events"
	"sandchat/internal/service/sandbox"
)

// FailureText replaces raw transport errors in the transcript
const FailureText = "Sorry, something went wrong while generating a response. Please try again."

// Config tunes turn execution
type Config struct {
	// IdleTimeout fails a turn when no chunk arrives for this long; 0 disables
	IdleTimeout time.Duration

	// RevealInterval paces display text one rune per interval; 0 disables
	RevealInterval time.Duration

	// HistoryTokenBudget caps the history sent with each prompt; 0 disables
	HistoryTokenBudget int

	DefaultVariant string

	// Debug enables mstream event IDs
	Debug bool
}

// Info identifies the active turn
type Info struct {
	ChatID    string `json:"chat_id"`
	TurnID    string `json:"turn_id"`
	MessageID string `json:"message_id"`
}

// Controller implements domainchat.TurnService
type Controller struct {
	conv      domainchat.ConversationService
	source    domainchat.TokenSource
	hub       *events.Hub
	previewer *sandbox.Previewer
	registry  *mstream.Registry
	cfg       Config
	logger    *slog.Logger

	// sendMu serialises turn starts, so cancelling the active turn and
	// starting the next one cannot interleave with another Send
	sendMu sync.Mutex

	mu     sync.Mutex
	active *turn
}

// NewController creates a turn controller
func NewController(
	conv domainchat.ConversationService,
	source domainchat.TokenSource,
	hub *events.Hub,
	previewer *sandbox.Previewer,
	registry *mstream.Registry,
	cfg Config,
	logger *slog.Logger,
) *Controller {
	return &Controller{
		conv:      conv,
		source:    source,
		hub:       hub,
		previewer: previewer,
		registry:  registry,
		cfg:       cfg,
		logger:    logger,
	}
}

var _ domainchat.TurnService = (*Controller)(nil)

// EventsPath is the SSE endpoint of a chat
func EventsPath(chatID string) string {
	return "/api/chats/" + chatID + "/events"
}

// StreamPath is the SSE endpoint of a single turn
func StreamPath(turnID string) string {
	return "/api/turns/" + turnID + "/stream"
}

// Send appends the user message and starts an assistant turn
func (c *Controller) Send(ctx context.Context, req *domainchat.SendRequest) (*domainchat.SendResponse, error) {
	req.Prompt = strings.TrimSpace(req.Prompt)
	if err := c.validateSendRequest(req); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return c.start(ctx, req)
}

// AutoFix starts a turn asking the assistant to fix the file that raised
// a runtime error
func (c *Controller) AutoFix(ctx context.Context, req *domainchat.AutoFixRequest) (*domainchat.SendResponse, error) {
	if err := c.validateAutoFixRequest(req); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	chat, err := c.conv.GetChat(ctx, req.ChatID)
	if err != nil {
		return nil, err
	}
	state := chat.SandboxState
	if state == nil {
		return nil, domain.ErrNoSandbox
	}

	path := req.Path
	if path == "" {
		active, _, ok := state.Active()
		if !ok {
			return nil, &domain.ValidationError{Message: "no active file to fix"}
		}
		path = active
	}
	file, ok := state.Files[path]
	if !ok {
		return nil, &domain.NotFoundError{Message: fmt.Sprintf("file not found: %s", path)}
	}

	c.logger.Info("auto-fix requested",
		"chat_id", req.ChatID,
		"path", path,
		"language", file.Language,
	)

	return c.start(ctx, &domainchat.SendRequest{
		ChatID:  req.ChatID,
		Prompt:  BuildAutoFixPrompt(req.Error, path, file),
		Variant: req.Variant,
	})
}

// Stop cancels the active turn of the chat
func (c *Controller) Stop(ctx context.Context, chatID string) bool {
	c.mu.Lock()
	t := c.active
	c.mu.Unlock()

	if t == nil || t.chatID != chatID {
		return false
	}
	c.logger.Info("turn stop requested", "chat_id", chatID, "turn_id", t.id)
	t.stop()
	return true
}

// Active returns the in-flight turn, or nil
func (c *Controller) Active() *Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return nil
	}
	return &Info{ChatID: c.active.chatID, TurnID: c.active.id, MessageID: c.active.messageID}
}

// Wait blocks until the active turn settles or ctx is done
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	t := c.active
	c.mu.Unlock()
	if t == nil {
		return nil
	}
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown cancels the active turn and waits for it to settle
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	t := c.active
	c.mu.Unlock()
	if t == nil {
		return nil
	}
	t.stop()
	return c.Wait(ctx)
}

// Subscribe streams chat updates. The first event is always a snapshot of
// the chat.
func (c *Controller) Subscribe(chatID string) (<-chan chatModels.Event, func()) {
	src, unsubscribe := c.hub.Subscribe(chatID)
	out := make(chan chatModels.Event, 1)
	quit := make(chan struct{})

	go func() {
		defer close(out)
		if snap, err := c.snapshot(chatID); err == nil {
			select {
			case out <- snap:
			case <-quit:
				return
			}
		}
		for evt := range src {
			select {
			case out <- evt:
			case <-quit:
				return
			}
		}
	}()

	var once sync.Once
	return out, func() {
		once.Do(func() {
			close(quit)
			unsubscribe()
		})
	}
}

func (c *Controller) snapshot(chatID string) (chatModels.Event, error) {
	chat, err := c.conv.GetChat(context.Background(), chatID)
	if err != nil {
		return chatModels.Event{}, err
	}
	evt := chatModels.Event{Type: chatModels.EventSnapshot, ChatID: chatID, Data: chat}
	if info := c.Active(); info != nil && info.ChatID == chatID {
		evt.TurnID = info.TurnID
	}
	return evt, nil
}

// start cancels any in-flight turn, records the user and assistant
// messages and launches the stream
func (c *Controller) start(ctx context.Context, req *domainchat.SendRequest) (*domainchat.SendResponse, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	prev := c.active
	c.mu.Unlock()
	if prev != nil {
		c.logger.Info("cancelling active turn for new send",
			"chat_id", prev.chatID,
			"turn_id", prev.id,
		)
		prev.stop()
		<-prev.done
	}

	var history []domainchat.HistoryEntry
	if req.ChatID == "" {
		chat, err := c.conv.CreateChat(ctx, conversation.DeriveTitle(req.Prompt))
		if err != nil {
			return nil, err
		}
		req.ChatID = chat.ID
	} else {
		chat, err := c.conv.GetChat(ctx, req.ChatID)
		if err != nil {
			return nil, err
		}
		history = BuildHistory(chat.Messages, c.cfg.HistoryTokenBudget)
		if chat.Title == conversation.DefaultChatTitle && len(chat.Messages) == 0 {
			if _, err := c.conv.RenameChat(ctx, chat.ID, &domainchat.RenameChatRequest{Title: conversation.DeriveTitle(req.Prompt)}); err != nil {
				c.logger.Warn("failed to title chat", "chat_id", chat.ID, "error", err)
			}
		}
	}
	if err := c.conv.SetActiveChat(ctx, req.ChatID); err != nil {
		return nil, err
	}

	now := time.Now()
	userMsg := &chatModels.Message{
		ID:          uuid.NewString(),
		Sender:      chatModels.SenderUser,
		Text:        req.Prompt,
		Timestamp:   now,
		Status:      chatModels.StatusIdle,
		Attachments: req.Attachments,
	}
	aiMsg := &chatModels.Message{
		ID:        uuid.NewString(),
		Sender:    chatModels.SenderAI,
		Timestamp: now,
		Status:    chatModels.StatusThinking,
	}
	if err := c.conv.AppendMessage(ctx, req.ChatID, userMsg); err != nil {
		return nil, err
	}
	if err := c.conv.AppendMessage(ctx, req.ChatID, aiMsg); err != nil {
		return nil, err
	}
	c.conv.Persist(ctx)

	variant := req.Variant
	if variant == "" {
		variant = c.cfg.DefaultVariant
	}
	t := c.newTurn(req.ChatID, aiMsg.ID, &domainchat.StreamRequest{
		Prompt:      req.Prompt,
		History:     history,
		Attachments: req.Attachments,
		Options: domainchat.StreamOptions{
			SearchEnabled: req.SearchEnabled,
			Variant:       variant,
		},
	})

	c.mu.Lock()
	c.active = t
	c.mu.Unlock()

	if err := c.registry.Register(t.stream); err != nil {
		c.logger.Warn("failed to register turn stream", "turn_id", t.id, "error", err)
	}
	c.publish(t, chatModels.EventTurnStart, chatModels.TurnStartData{
		UserMessage: userMsg.Clone(),
		AIMessage:   aiMsg.Clone(),
	})

	c.logger.Info("turn started",
		"chat_id", req.ChatID,
		"turn_id", t.id,
		"variant", variant,
		"history_entries", len(history),
	)

	t.stream.Start()

	return &domainchat.SendResponse{
		ChatID:      req.ChatID,
		TurnID:      t.id,
		UserMessage: userMsg,
		AIMessage:   aiMsg,
		EventsURL:   EventsPath(req.ChatID),
		StreamURL:   StreamPath(t.id),
	}, nil
}

// release clears the active slot if it still holds t and drops the settled
// stream from the registry. Cancelled streams are never marked completed by
// the registry, so they are removed here as well.
func (c *Controller) release(t *turn) {
	c.registry.Remove(t.id)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == t {
		c.active = nil
	}
}

// catchup replays the chat snapshot to clients attaching to a turn stream
func (c *Controller) catchup(chatID string) mstream.CatchupFunc {
	return func(streamID, lastEventID string) ([]mstream.Event, error) {
		c.logger.Debug("building catchup events",
			"turn_id", streamID,
			"last_event_id", lastEventID,
		)
		snap, err := c.snapshot(chatID)
		if err != nil {
			return nil, fmt.Errorf("failed to get chat: %w", err)
		}
		data, err := json.Marshal(snap)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
		}
		return []mstream.Event{mstream.NewEvent(data).WithType(chatModels.EventSnapshot)}, nil
	}
}

// publish fans an event out to chat subscribers
func (c *Controller) publish(t *turn, eventType string, data interface{}) {
	c.hub.Publish(chatModels.Event{
		Type:   eventType,
		ChatID: t.chatID,
		TurnID: t.id,
		Data:   data,
	})
}

// Validation methods

func (c *Controller) validateSendRequest(req *domainchat.SendRequest) error {
	return validation.ValidateStruct(req,
		validation.Field(&req.Prompt,
			validation.Required,
			validation.RuneLength(1, config.MaxPromptLength),
		),
		validation.Field(&req.Attachments,
			validation.Length(0, config.MaxAttachments),
			validation.Each(validation.By(validateAttachment)),
		),
	)
}

func (c *Controller) validateAutoFixRequest(req *domainchat.AutoFixRequest) error {
	return validation.ValidateStruct(req,
		validation.Field(&req.ChatID, validation.Required),
		validation.Field(&req.Error,
			validation.Required,
			validation.RuneLength(1, config.MaxPromptLength),
		),
		validation.Field(&req.Path, validation.RuneLength(0, config.MaxSandboxPathLength)),
	)
}

func validateAttachment(value interface{}) error {
	a, ok := value.(chatModels.Attachment)
	if !ok {
		return fmt.Errorf("invalid attachment type")
	}
	return validation.ValidateStruct(&a,
		validation.Field(&a.MimeType, validation.Required),
		validation.Field(&a.Base64Data, validation.Required),
	)
}
