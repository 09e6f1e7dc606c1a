package llm

import (
	_ "embed"
)

//go:embed system_prompt.md
var defaultSystemPrompt string

// SystemPrompt returns the instructions sent with every turn. They teach
// the assistant the reasoning, file-batch and code-block markup the
// response parser understands.
func SystemPrompt() string {
	return defaultSystemPrompt
}
