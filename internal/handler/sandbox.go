package handler

import (
	"log/slog"
	"net/http"

	domainchat "sandchat/internal/domain/services/chat"
	"sandchat/internal/httputil"
	"sandchat/internal/service/sandbox"
)

// previewCSP confines the preview document to an opaque origin that may
// run scripts but cannot reach the host page
const previewCSP = "sandbox allow-scripts"

// SandboxHandler handles sandbox file system and runtime requests
type SandboxHandler struct {
	sandbox domainchat.SandboxService
	logger  *slog.Logger
}

// NewSandboxHandler creates a new sandbox handler
func NewSandboxHandler(sandbox domainchat.SandboxService, logger *slog.Logger) *SandboxHandler {
	return &SandboxHandler{
		sandbox: sandbox,
		logger:  logger,
	}
}

// GetSandbox returns the chat's sandbox state
// GET /api/chats/{id}/sandbox
func (h *SandboxHandler) GetSandbox(w http.ResponseWriter, r *http.Request) {
	chatID, ok := PathParam(w, r, "id", "Chat ID")
	if !ok {
		return
	}

	state, err := h.sandbox.GetSandbox(r.Context(), chatID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, state)
}

// GetTree returns the explorer tree of the sandbox files
// GET /api/chats/{id}/sandbox/tree
func (h *SandboxHandler) GetTree(w http.ResponseWriter, r *http.Request) {
	chatID, ok := PathParam(w, r, "id", "Chat ID")
	if !ok {
		return
	}

	state, err := h.sandbox.GetSandbox(r.Context(), chatID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, sandbox.BuildTree(state.Files))
}

// EditFile replaces the content of one file
// PUT /api/chats/{id}/sandbox/files
func (h *SandboxHandler) EditFile(w http.ResponseWriter, r *http.Request) {
	chatID, ok := PathParam(w, r, "id", "Chat ID")
	if !ok {
		return
	}

	var req domainchat.EditFileRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	state, err := h.sandbox.EditFile(r.Context(), chatID, &req)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, state)
}

// SelectFile opens a file and makes it active
// PUT /api/chats/{id}/sandbox/active
func (h *SandboxHandler) SelectFile(w http.ResponseWriter, r *http.Request) {
	chatID, ok := PathParam(w, r, "id", "Chat ID")
	if !ok {
		return
	}

	var req domainchat.SelectFileRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	state, err := h.sandbox.SelectFile(r.Context(), chatID, &req)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, state)
}

// Run executes the active file. A run already in progress yields 409.
// POST /api/chats/{id}/sandbox/run
func (h *SandboxHandler) Run(w http.ResponseWriter, r *http.Request) {
	chatID, ok := PathParam(w, r, "id", "Chat ID")
	if !ok {
		return
	}

	result, err := h.sandbox.Run(r.Context(), chatID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, result)
}

// GetAPI returns the python-api surface found by the last run
// GET /api/chats/{id}/sandbox/api
func (h *SandboxHandler) GetAPI(w http.ResponseWriter, r *http.Request) {
	chatID, ok := PathParam(w, r, "id", "Chat ID")
	if !ok {
		return
	}

	api, err := h.sandbox.API(r.Context(), chatID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, api)
}

// CallAPI invokes a python-api function
// POST /api/chats/{id}/sandbox/call
func (h *SandboxHandler) CallAPI(w http.ResponseWriter, r *http.Request) {
	chatID, ok := PathParam(w, r, "id", "Chat ID")
	if !ok {
		return
	}

	var req domainchat.CallAPIRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	resp, err := h.sandbox.CallAPI(r.Context(), chatID, &req)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, resp)
}

// Preview serves the executable preview document
// GET /api/chats/{id}/preview
func (h *SandboxHandler) Preview(w http.ResponseWriter, r *http.Request) {
	chatID, ok := PathParam(w, r, "id", "Chat ID")
	if !ok {
		return
	}

	doc, err := h.sandbox.Preview(r.Context(), chatID)
	if err != nil {
		handleError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Security-Policy", previewCSP)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(doc)); err != nil {
		h.logger.Debug("preview write failed", "chat_id", chatID, "error", err)
	}
}

// RelayConsole records a console message posted by the preview document
// POST /api/chats/{id}/console
func (h *SandboxHandler) RelayConsole(w http.ResponseWriter, r *http.Request) {
	chatID, ok := PathParam(w, r, "id", "Chat ID")
	if !ok {
		return
	}

	var msg domainchat.PreviewMessage
	if err := httputil.ParseJSON(w, r, &msg); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.sandbox.RelayConsole(r.Context(), chatID, &msg); err != nil {
		handleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
