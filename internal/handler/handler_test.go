package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	mstream "github.com/haowjy/meridian-stream-go"

	"sandchat/internal/capabilities"
	"sandchat/internal/config"
	chatModels "sandchat/internal/domain/models/chat"
	domainchat "sandchat/internal/domain/services/chat"
	"sandchat/internal/handler/sse"
	"sandchat/internal/repository/memory"
	"sandchat/internal/service/conversation"
	"sandchat/internal/service/events"
	"sandchat/internal/service/sandbox"
	"sandchat/internal/service/turn"
)

// scriptSource answers every turn with the same chunks
type scriptSource struct {
	chunks []string
}

func (s *scriptSource) Stream(ctx context.Context, req *domainchat.StreamRequest) (<-chan domainchat.StreamChunk, error) {
	out := make(chan domainchat.StreamChunk)
	go func() {
		defer close(out)
		for _, c := range s.chunks {
			select {
			case out <- domainchat.StreamChunk{TextDelta: c}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

const pageBatch = "Here is your page.\n```json:files\n" +
	`[{"operation":"create","path":"index.html","content":"<h1>hi</h1><script src=\"app.js\"></script>"},` +
	`{"operation":"create","path":"app.js","content":"console.log(1)"}]` +
	"\n```\nDone."

type testServer struct {
	srv    *httptest.Server
	conv   domainchat.ConversationService
	ctrl   *turn.Controller
	runner *sandbox.Runner
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	conv := conversation.NewService(memory.NewBlobStore(), "", logger)
	hub := events.NewHub(logger)
	previewer := sandbox.NewPreviewer(0, nil, logger)
	python := sandbox.NewPythonRuntime("python3", logger)
	runner := sandbox.NewRunner()
	sandboxService := sandbox.NewService(conv, previewer, python, runner, hub, time.Second, logger)

	registry := mstream.NewRegistry()
	ctrl := turn.NewController(
		conv,
		&scriptSource{chunks: []string{pageBatch[:40], pageBatch[40:]}},
		hub,
		previewer,
		registry,
		turn.Config{DefaultVariant: "fast"},
		logger,
	)

	caps, err := capabilities.NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	cfg := &config.Config{DefaultProvider: "lorem", DefaultVariant: "fast"}

	router := NewRouter(RouterConfig{
		ChatHandler:    NewChatHandler(conv, ctrl, sandboxService, hub, logger),
		EventsHandler:  NewEventsHandler(conv, ctrl, &sse.Config{KeepAliveInterval: time.Hour}, logger),
		TurnHandler:    NewTurnStreamHandler(registry, &sse.Config{KeepAliveInterval: time.Hour}, logger),
		SandboxHandler: NewSandboxHandler(sandboxService, logger),
		ModelsHandler:  NewModelsHandler(cfg, logger, caps),
	})
	srv := httptest.NewServer(router)

	t.Cleanup(func() {
		srv.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = ctrl.Shutdown(ctx)
		_ = python.Close()
	})
	return &testServer{srv: srv, conv: conv, ctrl: ctrl, runner: runner}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, r)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s %s: status = %d, want %d (%s)",
			resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want, body)
	}
}

// send starts a turn and waits for it to settle
func (s *testServer) send(t *testing.T, chatID, prompt string) *domainchat.SendResponse {
	t.Helper()
	resp := s.do(t, http.MethodPost, "/api/chats/"+chatID+"/messages", map[string]string{"prompt": prompt})
	expectStatus(t, resp, http.StatusAccepted)
	out := decode[domainchat.SendResponse](t, resp)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.ctrl.Wait(ctx); err != nil {
		t.Fatalf("turn did not settle: %v", err)
	}
	return &out
}

func TestChatLifecycle(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodPost, "/api/chats", nil)
	expectStatus(t, resp, http.StatusCreated)
	first := decode[chatModels.Chat](t, resp)
	if first.Title != conversation.DefaultChatTitle {
		t.Errorf("Title = %q, want %q", first.Title, conversation.DefaultChatTitle)
	}

	resp = s.do(t, http.MethodPost, "/api/chats", CreateChatRequest{Title: "Second"})
	expectStatus(t, resp, http.StatusCreated)
	second := decode[chatModels.Chat](t, resp)

	resp = s.do(t, http.MethodGet, "/api/chats", nil)
	expectStatus(t, resp, http.StatusOK)
	list := decode[ChatListResponse](t, resp)
	if len(list.Chats) != 2 || list.Chats[0].ID != second.ID {
		t.Fatalf("chats = %+v, want newest first", list.Chats)
	}
	if list.ActiveChatID == nil || *list.ActiveChatID != second.ID {
		t.Errorf("active = %v, want %s", list.ActiveChatID, second.ID)
	}

	resp = s.do(t, http.MethodPut, "/api/chats/"+first.ID+"/active", nil)
	expectStatus(t, resp, http.StatusOK)
	if active := decode[ActiveChatResponse](t, resp); active.ActiveChatID == nil || *active.ActiveChatID != first.ID {
		t.Errorf("active = %v, want %s", active.ActiveChatID, first.ID)
	}

	resp = s.do(t, http.MethodPatch, "/api/chats/"+first.ID, map[string]string{"title": "Renamed"})
	expectStatus(t, resp, http.StatusOK)
	if got := decode[chatModels.Chat](t, resp).Title; got != "Renamed" {
		t.Errorf("Title = %q", got)
	}

	resp = s.do(t, http.MethodPatch, "/api/chats/"+first.ID, map[string]interface{}{"title": nil})
	expectStatus(t, resp, http.StatusBadRequest)

	resp = s.do(t, http.MethodDelete, "/api/chats/"+first.ID, nil)
	expectStatus(t, resp, http.StatusNoContent)

	resp = s.do(t, http.MethodGet, "/api/chats/"+first.ID, nil)
	expectStatus(t, resp, http.StatusNotFound)
	if ct := resp.Header.Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("content type = %q", ct)
	}

	resp = s.do(t, http.MethodGet, "/api/chats", nil)
	list = decode[ChatListResponse](t, resp)
	if list.ActiveChatID == nil || *list.ActiveChatID != second.ID {
		t.Errorf("active after delete = %v, want %s", list.ActiveChatID, second.ID)
	}
}

func TestSendMessage_NewChatBuildsSandbox(t *testing.T) {
	s := newTestServer(t)

	sent := s.send(t, NewChatID, "make a page")
	if sent.ChatID == "" || sent.EventsURL != turn.EventsPath(sent.ChatID) {
		t.Fatalf("response = %+v", sent)
	}
	if sent.StreamURL != turn.StreamPath(sent.TurnID) {
		t.Errorf("StreamURL = %q", sent.StreamURL)
	}

	// The settled turn has left the registry
	resp := s.do(t, http.MethodGet, sent.StreamURL, nil)
	expectStatus(t, resp, http.StatusNotFound)

	resp = s.do(t, http.MethodGet, "/api/chats/"+sent.ChatID, nil)
	expectStatus(t, resp, http.StatusOK)
	chat := decode[chatModels.Chat](t, resp)
	if chat.Title != "make a page" {
		t.Errorf("Title = %q", chat.Title)
	}
	if len(chat.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(chat.Messages))
	}
	ai := chat.Messages[1]
	if ai.Status != chatModels.StatusIdle || strings.Contains(ai.Text, "json:files") {
		t.Errorf("assistant message = %+v", ai)
	}

	resp = s.do(t, http.MethodGet, "/api/chats/"+sent.ChatID+"/sandbox", nil)
	expectStatus(t, resp, http.StatusOK)
	state := decode[chatModels.SandboxState](t, resp)
	if len(state.Files) != 2 {
		t.Errorf("files = %v", state.Paths())
	}

	resp = s.do(t, http.MethodGet, "/api/chats/"+sent.ChatID+"/preview", nil)
	expectStatus(t, resp, http.StatusOK)
	if csp := resp.Header.Get("Content-Security-Policy"); csp != previewCSP {
		t.Errorf("CSP = %q", csp)
	}
	doc, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(doc), "console.log(1)") {
		t.Errorf("preview does not inline app.js:\n%s", doc)
	}
}

func TestSendMessage_Validation(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		path   string
		body   interface{}
		status int
	}{
		{"blank prompt", "/api/chats/new/messages", map[string]string{"prompt": "  "}, http.StatusBadRequest},
		{"unknown chat", "/api/chats/missing/messages", map[string]string{"prompt": "hi"}, http.StatusNotFound},
		{"autofix unknown chat", "/api/chats/missing/autofix", map[string]string{"error": "boom"}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.do(t, http.MethodPost, tt.path, tt.body)
			expectStatus(t, resp, tt.status)
		})
	}
}

func TestSandboxRoutes(t *testing.T) {
	s := newTestServer(t)
	chatID := s.send(t, NewChatID, "make a page").ChatID
	base := "/api/chats/" + chatID

	t.Run("tree", func(t *testing.T) {
		resp := s.do(t, http.MethodGet, base+"/sandbox/tree", nil)
		expectStatus(t, resp, http.StatusOK)
		body, _ := io.ReadAll(resp.Body)
		if !strings.Contains(string(body), "app.js") || !strings.Contains(string(body), "index.html") {
			t.Errorf("tree = %s", body)
		}
	})

	t.Run("edit", func(t *testing.T) {
		resp := s.do(t, http.MethodPut, base+"/sandbox/files", domainchat.EditFileRequest{
			Path:    "app.js",
			Content: "console.log(2)",
		})
		expectStatus(t, resp, http.StatusOK)
		state := decode[chatModels.SandboxState](t, resp)
		if got := state.Files["app.js"].Content; got != "console.log(2)" {
			t.Errorf("content = %q", got)
		}
	})

	t.Run("edit unknown file", func(t *testing.T) {
		resp := s.do(t, http.MethodPut, base+"/sandbox/files", domainchat.EditFileRequest{Path: "nope.js"})
		expectStatus(t, resp, http.StatusNotFound)
	})

	t.Run("select", func(t *testing.T) {
		resp := s.do(t, http.MethodPut, base+"/sandbox/active", domainchat.SelectFileRequest{Path: "index.html"})
		expectStatus(t, resp, http.StatusOK)
		state := decode[chatModels.SandboxState](t, resp)
		if state.ActiveFile == nil || *state.ActiveFile != "index.html" {
			t.Errorf("active = %v", state.ActiveFile)
		}
	})

	t.Run("run busy", func(t *testing.T) {
		release, err := s.runner.Acquire(chatID)
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		defer release()
		resp := s.do(t, http.MethodPost, base+"/sandbox/run", nil)
		expectStatus(t, resp, http.StatusConflict)
	})

	t.Run("run preview", func(t *testing.T) {
		resp := s.do(t, http.MethodPost, base+"/sandbox/run", nil)
		expectStatus(t, resp, http.StatusOK)
		result := decode[domainchat.RunResult](t, resp)
		if result.PreviewURL != sandbox.PreviewPath(chatID) {
			t.Errorf("preview url = %q", result.PreviewURL)
		}
	})

	t.Run("console relay", func(t *testing.T) {
		resp := s.do(t, http.MethodPost, "/api/chats/"+chatID+"/console", domainchat.PreviewMessage{
			Source:  "somewhere-else",
			Kind:    chatModels.ConsoleError,
			Payload: "boom",
		})
		expectStatus(t, resp, http.StatusBadRequest)

		resp = s.do(t, http.MethodPost, "/api/chats/"+chatID+"/console", domainchat.PreviewMessage{
			Source:  domainchat.PreviewMessageSource,
			Kind:    chatModels.ConsoleError,
			Payload: "ReferenceError: x is not defined",
		})
		expectStatus(t, resp, http.StatusNoContent)

		resp = s.do(t, http.MethodGet, base+"/sandbox", nil)
		state := decode[chatModels.SandboxState](t, resp)
		if n := len(state.ConsoleOutput); n == 0 || state.ConsoleOutput[n-1].Message != "ReferenceError: x is not defined" {
			t.Errorf("console = %+v", state.ConsoleOutput)
		}
	})

	t.Run("api without python-api run", func(t *testing.T) {
		resp := s.do(t, http.MethodPost, base+"/sandbox/call", domainchat.CallAPIRequest{Function: "add"})
		expectStatus(t, resp, http.StatusBadRequest)
	})
}

func TestSandboxRoutes_NoSandbox(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, http.MethodPost, "/api/chats", nil)
	chat := decode[chatModels.Chat](t, resp)

	for _, path := range []string{"/sandbox", "/sandbox/tree", "/preview", "/sandbox/api"} {
		t.Run(path, func(t *testing.T) {
			resp := s.do(t, http.MethodGet, "/api/chats/"+chat.ID+path, nil)
			expectStatus(t, resp, http.StatusNotFound)
		})
	}
}

func TestStreamEvents_SnapshotFirst(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, http.MethodPost, "/api/chats", CreateChatRequest{Title: "Stream"})
	chat := decode[chatModels.Chat](t, resp)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, s.srv.URL+"/api/chats/"+chat.ID+"/events", nil)
	stream, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer stream.Body.Close()

	if ct := stream.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	reader := bufio.NewReader(stream.Body)
	var eventLine, dataLine string
	for dataLine == "" {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		switch {
		case strings.HasPrefix(line, "event: "):
			eventLine = strings.TrimSpace(strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: "):
			dataLine = strings.TrimPrefix(line, "data: ")
		}
	}

	if eventLine != chatModels.EventSnapshot {
		t.Errorf("first event = %q, want %q", eventLine, chatModels.EventSnapshot)
	}
	var evt chatModels.Event
	if err := json.Unmarshal([]byte(dataLine), &evt); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if evt.ChatID != chat.ID {
		t.Errorf("chat id = %q", evt.ChatID)
	}
}

func TestStreamEvents_UnknownChat(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, http.MethodGet, "/api/chats/missing/events", nil)
	expectStatus(t, resp, http.StatusNotFound)
}

func TestGetModels_SkipsProvidersWithoutCredentials(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodGet, "/api/models", nil)
	expectStatus(t, resp, http.StatusOK)
	models := decode[ModelsResponse](t, resp)

	if len(models.Providers) != 1 || models.Providers[0].ID != "lorem" {
		t.Fatalf("providers = %+v, want lorem only", models.Providers)
	}
	if len(models.Providers[0].Variants) == 0 {
		t.Error("expected lorem variants")
	}
	if models.DefaultVariant != "fast" {
		t.Errorf("default variant = %q", models.DefaultVariant)
	}
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, http.MethodGet, "/health", nil)
	expectStatus(t, resp, http.StatusOK)
}
