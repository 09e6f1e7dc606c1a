package chat

import (
	"time"
)

// Sender identifies who authored a message
type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

// MessageStatus tracks an assistant message through its turn.
// Thinking precedes any visible output, Generating follows first content.
// Idle and Error are terminal for the turn.
type MessageStatus string

const (
	StatusIdle       MessageStatus = "idle"
	StatusThinking   MessageStatus = "thinking"
	StatusGenerating MessageStatus = "generating"
	StatusError      MessageStatus = "error"
)

// IsTerminal reports whether the status ends a turn
func (s MessageStatus) IsTerminal() bool {
	return s == StatusIdle || s == StatusError
}

// Message is a single entry in a chat transcript.
// Text is the parser-cleaned display text: reasoning and file-operation
// markup never appear in it.
type Message struct {
	ID                string                 `json:"id"`
	Sender            Sender                 `json:"sender"`
	Text              string                 `json:"text"`
	Timestamp         time.Time              `json:"timestamp"`
	Status            MessageStatus          `json:"status"`
	Reasoning         *Reasoning             `json:"reasoning,omitempty"`
	Plan              []PlanStep             `json:"plan,omitempty"`
	Attachments       []Attachment           `json:"attachments,omitempty"`
	CreatedFiles      []DownloadableFile     `json:"created_files,omitempty"`
	GroundingMetadata map[string]interface{} `json:"grounding_metadata,omitempty"`
}

// Reasoning is the pre-answer block the assistant emits before its answer.
// Raw always holds the full inner text; the named sections are filled when
// the matching sub-markers were present.
type Reasoning struct {
	Raw         string `json:"raw"`
	Analysis    string `json:"analysis,omitempty"`
	Exploration string `json:"exploration,omitempty"`
	FinalPlan   string `json:"final_plan,omitempty"`
}

// PlanStep is one entry of the JSON plan parsed out of a reasoning block
type PlanStep struct {
	Step string `json:"step"`
	Tool string `json:"tool"`
}

// Attachment is a user-supplied file sent along with a prompt
type Attachment struct {
	Name       string `json:"name,omitempty"`
	MimeType   string `json:"mime_type"`
	Base64Data string `json:"base64_data"`
}

// DownloadableFile is a file artifact produced by the legacy inline
// file-creation markup. It is offered for download and never written
// into the sandbox file system.
type DownloadableFile struct {
	Name     string `json:"name"`
	Content  string `json:"content"`
	MimeType string `json:"mime_type"`
}

// Clone returns a deep copy of the message
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	out := *m
	if m.Reasoning != nil {
		r := *m.Reasoning
		out.Reasoning = &r
	}
	out.Plan = append([]PlanStep(nil), m.Plan...)
	out.Attachments = append([]Attachment(nil), m.Attachments...)
	out.CreatedFiles = append([]DownloadableFile(nil), m.CreatedFiles...)
	if m.GroundingMetadata != nil {
		out.GroundingMetadata = make(map[string]interface{}, len(m.GroundingMetadata))
		for k, v := range m.GroundingMetadata {
			out.GroundingMetadata[k] = v
		}
	}
	return &out
}
