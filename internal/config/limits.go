package config

const (
	// MaxChatTitleLength is the maximum length for chat titles.
	// Limited to 255 to fit in PostgreSQL VARCHAR(255) and provide
	// reasonable UX (titles should be short and descriptive).
	MaxChatTitleLength = 255

	// DerivedTitleLength is how many characters of the first prompt become
	// the title of a chat created by a send. Longer prompts get an ellipsis.
	DerivedTitleLength = 40

	// MaxPromptLength bounds a single user prompt (in characters).
	MaxPromptLength = 100_000

	// MaxAttachments bounds the number of files sent along with one prompt.
	MaxAttachments = 10

	// MaxSandboxPathLength is the maximum length of a sandbox file path.
	// Same bound as document paths: deep hierarchies are an anti-pattern.
	MaxSandboxPathLength = 500

	// MaxSandboxFileSize bounds the content of one user-edited sandbox file (bytes).
	MaxSandboxFileSize = 1 << 20

	// MaxConsoleLines caps a sandbox console; older lines are dropped first.
	MaxConsoleLines = 1000

	// MaxConsoleLineLength truncates a single relayed console message.
	MaxConsoleLineLength = 8192
)
