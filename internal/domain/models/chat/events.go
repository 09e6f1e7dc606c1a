package chat

// Event type constants for chat update streams
const (
	EventSnapshot      = "snapshot"       // Full chat state, sent first on (re)connection
	EventTurnStart     = "turn_start"     // Assistant turn created
	EventMessageUpdate = "message_update" // Assistant message changed (text, status, reasoning)
	EventSandboxUpdate = "sandbox_update" // Sandbox files or editor state changed
	EventConsole       = "console"        // Console line captured
	EventConsoleClear  = "console_clear"  // Console wiped before a run
	EventPreviewReady  = "preview_ready"  // Preview document rebuilt after edits settled
	EventTurnComplete  = "turn_complete"  // Turn finished successfully
	EventTurnCancelled = "turn_cancelled" // Turn stopped by the user
	EventTurnError     = "turn_error"     // Turn failed
)

// Event is one update published to chat subscribers
type Event struct {
	Type   string      `json:"type"`
	ChatID string      `json:"chat_id"`
	TurnID string      `json:"turn_id,omitempty"`
	Data   interface{} `json:"data,omitempty"`
}

// TurnStartData is the payload of EventTurnStart
type TurnStartData struct {
	UserMessage *Message `json:"user_message"`
	AIMessage   *Message `json:"ai_message"`
}

// MessageUpdateData is the payload of EventMessageUpdate
type MessageUpdateData struct {
	Message *Message `json:"message"`

	// PendingLanguage is set while an incomplete code block is streaming,
	// so clients can render a "generating" placeholder for it.
	PendingLanguage *string `json:"pending_language,omitempty"`
}

// TurnEndData is the payload of EventTurnComplete, EventTurnCancelled and EventTurnError
type TurnEndData struct {
	MessageID string        `json:"message_id"`
	Status    MessageStatus `json:"status"`
}

// PreviewReadyData is the payload of EventPreviewReady
type PreviewReadyData struct {
	PreviewURL string `json:"preview_url"`
}
