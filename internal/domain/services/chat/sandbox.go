package chat

import (
	"context"

	chatModels "sandchat/internal/domain/models/chat"
)

// SandboxService exposes a chat's virtual file system and its runtime
type SandboxService interface {
	GetSandbox(ctx context.Context, chatID string) (*chatModels.SandboxState, error)
	EditFile(ctx context.Context, chatID string, req *EditFileRequest) (*chatModels.SandboxState, error)
	SelectFile(ctx context.Context, chatID string, req *SelectFileRequest) (*chatModels.SandboxState, error)

	// Preview returns the executable preview document of the sandbox
	Preview(ctx context.Context, chatID string) (string, error)

	// Run executes the active file. A run already in progress for the same
	// sandbox makes this fail with domain.ErrBusy.
	Run(ctx context.Context, chatID string) (*RunResult, error)

	// API returns the callable surface discovered by the last python-api run
	API(ctx context.Context, chatID string) ([]APIFunction, error)
	CallAPI(ctx context.Context, chatID string, req *CallAPIRequest) (*CallAPIResponse, error)

	// RelayConsole records a console message posted by the preview document
	RelayConsole(ctx context.Context, chatID string, msg *PreviewMessage) error

	// Forget drops runtime state (preview cache, python namespace) of a deleted chat
	Forget(ctx context.Context, chatID string)
}

// EditFileRequest is a direct user edit of one file
type EditFileRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// SelectFileRequest opens a file and makes it active
type SelectFileRequest struct {
	Path string `json:"path"`
}

// RunResult describes a finished sandbox run
type RunResult struct {
	Path     string                   `json:"path"`
	Language chatModels.Language      `json:"language"`
	Console  []chatModels.ConsoleLine `json:"console"`
	API      []APIFunction            `json:"api,omitempty"`

	// PreviewURL is set for web-previewable languages; their console
	// output arrives later through RelayConsole.
	PreviewURL string `json:"preview_url,omitempty"`
}

// APIParam is one declared parameter of a python-api function
type APIParam struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// APIFunction is one callable top-level function of a python-api sandbox
type APIFunction struct {
	Name   string     `json:"name"`
	Params []APIParam `json:"params"`
}

// CallAPIRequest invokes a python-api function with JSON arguments keyed by parameter name
type CallAPIRequest struct {
	Function string                 `json:"function"`
	Args     map[string]interface{} `json:"args"`
}

// CallAPIResponse carries either the decoded JSON result or an error description
type CallAPIResponse struct {
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
	Raw    string      `json:"raw,omitempty"`
}

// PreviewMessageSource is the only accepted source tag of preview messages
const PreviewMessageSource = "preview-iframe"

// PreviewMessage is posted from the preview document to the host:
//
//	{"source": "preview-iframe", "kind": "error", "payload": "..."}
type PreviewMessage struct {
	Source  string                 `json:"source"`
	Kind    chatModels.ConsoleKind `json:"kind"`
	Payload string                 `json:"payload"`
}
