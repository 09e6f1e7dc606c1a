package handler

import "net/http"

// RouterConfig collects the handlers mounted by NewRouter. Nil handlers
// leave their routes unregistered.
type RouterConfig struct {
	ChatHandler    *ChatHandler
	EventsHandler  *EventsHandler
	TurnHandler    *TurnStreamHandler
	SandboxHandler *SandboxHandler
	ModelsHandler  *ModelsHandler
}

// NewRouter registers all API routes (Go 1.22+ method patterns)
func NewRouter(cfg RouterConfig) *http.ServeMux {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", HealthCheck)

	// Model variants
	if cfg.ModelsHandler != nil {
		mux.HandleFunc("GET /api/models", cfg.ModelsHandler.GetModels)
	}

	// Chat routes
	if h := cfg.ChatHandler; h != nil {
		mux.HandleFunc("GET /api/chats", h.ListChats)
		mux.HandleFunc("POST /api/chats", h.CreateChat)
		mux.HandleFunc("GET /api/chats/{id}", h.GetChat)
		mux.HandleFunc("PATCH /api/chats/{id}", h.UpdateChat)
		mux.HandleFunc("DELETE /api/chats/{id}", h.DeleteChat)
		mux.HandleFunc("PUT /api/chats/{id}/active", h.SetActiveChat)
		mux.HandleFunc("POST /api/chats/{id}/messages", h.SendMessage)
		mux.HandleFunc("POST /api/chats/{id}/stop", h.StopTurn)
		mux.HandleFunc("POST /api/chats/{id}/autofix", h.AutoFix)
	}

	// Streaming
	if cfg.EventsHandler != nil {
		mux.HandleFunc("GET /api/chats/{id}/events", cfg.EventsHandler.StreamEvents)
	}
	if cfg.TurnHandler != nil {
		mux.HandleFunc("GET /api/turns/{id}/stream", cfg.TurnHandler.StreamTurn)
	}

	// Sandbox routes
	if h := cfg.SandboxHandler; h != nil {
		mux.HandleFunc("GET /api/chats/{id}/sandbox", h.GetSandbox)
		mux.HandleFunc("GET /api/chats/{id}/sandbox/tree", h.GetTree)
		mux.HandleFunc("PUT /api/chats/{id}/sandbox/files", h.EditFile)
		mux.HandleFunc("PUT /api/chats/{id}/sandbox/active", h.SelectFile)
		mux.HandleFunc("POST /api/chats/{id}/sandbox/run", h.Run)
		mux.HandleFunc("GET /api/chats/{id}/sandbox/api", h.GetAPI)
		mux.HandleFunc("POST /api/chats/{id}/sandbox/call", h.CallAPI)
		mux.HandleFunc("GET /api/chats/{id}/preview", h.Preview)
		mux.HandleFunc("POST /api/chats/{id}/console", h.RelayConsole)
	}

	return mux
}
