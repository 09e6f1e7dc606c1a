package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	llmprovider "github.com/haowjy/meridian-llm-go"

	"sandchat/internal/capabilities"
	chatModels "sandchat/internal/domain/models/chat"
	domainchat "sandchat/internal/domain/services/chat"
)

// fakeStreamer records the request and replays fixed events
type fakeStreamer struct {
	events []llmprovider.StreamEvent
	req    *llmprovider.GenerateRequest
}

func (f *fakeStreamer) StreamResponse(ctx context.Context, req *llmprovider.GenerateRequest) (<-chan llmprovider.StreamEvent, error) {
	f.req = req
	ch := make(chan llmprovider.StreamEvent, len(f.events))
	for _, e := range f.events {
		ch <- e
	}
	close(ch)
	return ch, nil
}

func newTestSource(t *testing.T, provider string, streamer Streamer) *TokenSource {
	t.Helper()
	caps, err := capabilities.NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	providers := newProviderRegistry(func(string) (Streamer, error) { return streamer, nil })
	return NewTokenSource(providers, caps, provider, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestTokenSource_ResolveModel(t *testing.T) {
	s := newTestSource(t, "anthropic", &fakeStreamer{})

	tests := []struct {
		variant      string
		wantProvider string
		wantModel    string
		wantErr      bool
	}{
		{variant: "fast", wantProvider: "anthropic", wantModel: "claude-haiku-4-5"},
		{variant: "smart", wantProvider: "anthropic", wantModel: "claude-sonnet-4-5"},
		{variant: "lorem-fast", wantProvider: "lorem", wantModel: "lorem-fast"},
		{variant: "anthropic/claude-opus-4-1", wantProvider: "anthropic", wantModel: "claude-opus-4-1"},
		{variant: "turbo", wantErr: true},
		{variant: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.variant, func(t *testing.T) {
			got, err := s.ResolveModel(tt.variant)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ResolveModel() = %+v, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveModel() error: %v", err)
			}
			if got.Provider != tt.wantProvider || got.Model != tt.wantModel {
				t.Errorf("ResolveModel() = %+v", got)
			}
		})
	}
}

func TestTokenSource_BuildsAlternatingMessages(t *testing.T) {
	streamer := &fakeStreamer{}
	s := newTestSource(t, "anthropic", streamer)

	ch, err := s.Stream(context.Background(), &domainchat.StreamRequest{
		Prompt: "and now?",
		History: []domainchat.HistoryEntry{
			{Role: domainchat.RoleAssistant, Text: "orphaned reply"},
			{Role: domainchat.RoleUser, Text: "first"},
			{Role: domainchat.RoleUser, Text: "second"},
			{Role: domainchat.RoleAssistant, Text: "answer"},
		},
		Attachments: []chatModels.Attachment{
			{Name: "notes.txt", MimeType: "text/plain", Base64Data: base64.StdEncoding.EncodeToString([]byte("remember this"))},
			{Name: "shot.png", MimeType: "image/png", Base64Data: "iVBORw0KGgo="},
			{Name: "doc.pdf", MimeType: "application/pdf", Base64Data: "JVBERi0="},
		},
		Options: domainchat.StreamOptions{Variant: "fast"},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	for range ch {
	}

	req := streamer.req
	if req == nil {
		t.Fatal("provider was not called")
	}
	if req.Model != "claude-haiku-4-5" {
		t.Errorf("Model = %q", req.Model)
	}
	if req.Params == nil || req.Params.System == nil || !strings.Contains(*req.Params.System, "json:files") {
		t.Error("system prompt missing")
	}

	roles := make([]string, len(req.Messages))
	for i, m := range req.Messages {
		roles[i] = m.Role
	}
	if got := strings.Join(roles, ","); got != "user,assistant,user" {
		t.Fatalf("roles = %s", got)
	}
	if n := len(req.Messages[0].Blocks); n != 2 {
		t.Errorf("merged user message has %d blocks, want 2", n)
	}

	last := req.Messages[2].Blocks
	if len(last) != 3 {
		t.Fatalf("prompt message has %d blocks, want text, text attachment and image", len(last))
	}
	if !strings.Contains(*last[1].TextContent, "remember this") {
		t.Errorf("text attachment = %q", *last[1].TextContent)
	}
	if last[2].BlockType != "image" || last[2].Sequence != 2 {
		t.Errorf("image block = %+v", last[2])
	}
}

func TestTokenSource_ProviderErrorEndsStream(t *testing.T) {
	boom := errors.New("overloaded")
	s := newTestSource(t, "lorem", &fakeStreamer{events: []llmprovider.StreamEvent{{Error: boom}}})

	ch, err := s.Stream(context.Background(), &domainchat.StreamRequest{
		Prompt:  "hi",
		Options: domainchat.StreamOptions{Variant: "fast"},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var chunks []domainchat.StreamChunk
	for c := range ch {
		chunks = append(chunks, c)
	}
	if len(chunks) != 1 || !errors.Is(chunks[0].Err, boom) {
		t.Errorf("chunks = %+v", chunks)
	}
}

func TestTokenSource_UnknownVariant(t *testing.T) {
	s := newTestSource(t, "anthropic", &fakeStreamer{})
	_, err := s.Stream(context.Background(), &domainchat.StreamRequest{
		Prompt:  "hi",
		Options: domainchat.StreamOptions{Variant: "turbo"},
	})
	if err == nil {
		t.Fatal("expected error for unknown variant")
	}
}
