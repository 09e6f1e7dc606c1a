package chat

import (
	"time"
)

// Chat is a conversation: an ordered transcript plus the sandbox snapshot
// it owns. SandboxState stays nil until an assistant turn produces a
// complete code block or file-operation batch.
type Chat struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Messages     []*Message    `json:"messages"`
	SandboxState *SandboxState `json:"sandbox_state"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// FindMessage returns the message with the given ID, or nil
func (c *Chat) FindMessage(id string) *Message {
	for _, m := range c.Messages {
		if m.ID == id {
			return m
		}
	}
	return nil
}

// Clone returns a deep copy of the chat
func (c *Chat) Clone() *Chat {
	if c == nil {
		return nil
	}
	out := *c
	out.Messages = make([]*Message, len(c.Messages))
	for i, m := range c.Messages {
		out.Messages[i] = m.Clone()
	}
	out.SandboxState = c.SandboxState.Clone()
	return &out
}

// ChatSummary is the list view of a chat
type ChatSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
	HasSandbox   bool      `json:"has_sandbox"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Summary builds the list view of the chat
func (c *Chat) Summary() ChatSummary {
	return ChatSummary{
		ID:           c.ID,
		Title:        c.Title,
		MessageCount: len(c.Messages),
		HasSandbox:   c.SandboxState != nil,
		UpdatedAt:    c.UpdatedAt,
	}
}
