// Package llm adapts the provider library to the chat token stream contract.
package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	llmprovider "github.com/haowjy/meridian-llm-go"

	"sandchat/internal/capabilities"
	chatModels "sandchat/internal/domain/models/chat"
	domainchat "sandchat/internal/domain/services/chat"
)

const (
	deltaTypeText = "text_delta"
	webSearchTool = "web_search"
)

// TokenSource streams assistant text from a library provider. Variants are
// resolved against the capability registry of the default provider; an
// explicit model ("claude-sonnet-4-5", "lorem/lorem-fast") is accepted too.
type TokenSource struct {
	providers       *ProviderRegistry
	caps            *capabilities.Registry
	defaultProvider string
	systemPrompt    string
	logger          *slog.Logger
}

// NewTokenSource creates a token source
func NewTokenSource(
	providers *ProviderRegistry,
	caps *capabilities.Registry,
	defaultProvider string,
	logger *slog.Logger,
) *TokenSource {
	return &TokenSource{
		providers:       providers,
		caps:            caps,
		defaultProvider: defaultProvider,
		systemPrompt:    SystemPrompt(),
		logger:          logger,
	}
}

var _ domainchat.TokenSource = (*TokenSource)(nil)

// Stream starts a provider stream and converts its events into chunks.
// The returned channel closes after the provider's final metadata, an
// error chunk, or cancellation of ctx.
func (s *TokenSource) Stream(ctx context.Context, req *domainchat.StreamRequest) (<-chan domainchat.StreamChunk, error) {
	info, err := s.ResolveModel(req.Options.Variant)
	if err != nil {
		return nil, err
	}
	provider, err := s.providers.GetProvider(info.Provider)
	if err != nil {
		return nil, err
	}

	libReq, err := s.buildRequest(info, req)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("starting provider stream",
		"provider", info.Provider,
		"model", info.Model,
		"messages", len(libReq.Messages),
		"search_enabled", req.Options.SearchEnabled,
	)

	events, err := provider.StreamResponse(ctx, libReq)
	if err != nil {
		return nil, fmt.Errorf("failed to start provider streaming: %w", err)
	}

	out := make(chan domainchat.StreamChunk)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-events:
				if !ok {
					return
				}
				chunk, last := convertEvent(event)
				if chunk != nil {
					select {
					case out <- *chunk:
					case <-ctx.Done():
						return
					}
				}
				if last {
					return
				}
			}
		}
	}()
	return out, nil
}

// ResolveModel maps a variant name or an explicit model string to a
// provider and model
func (s *TokenSource) ResolveModel(variant string) (*ModelInfo, error) {
	if variant == "" {
		return nil, fmt.Errorf("variant cannot be empty")
	}
	if model, err := s.caps.ResolveVariant(s.defaultProvider, variant); err == nil {
		return &ModelInfo{Provider: s.defaultProvider, Model: model}, nil
	}
	info, err := ParseModel(variant)
	if err != nil {
		return nil, fmt.Errorf("unknown variant or model %q: %w", variant, err)
	}
	return info, nil
}

// buildRequest converts history, prompt and attachments into a library
// request. Consecutive entries of one role are merged and leading
// assistant entries dropped, since providers expect alternating turns
// starting with the user.
func (s *TokenSource) buildRequest(info *ModelInfo, req *domainchat.StreamRequest) (*llmprovider.GenerateRequest, error) {
	var messages []llmprovider.Message
	add := func(role string, blocks ...*llmprovider.Block) {
		if len(messages) == 0 && role != string(domainchat.RoleUser) {
			return
		}
		if n := len(messages); n > 0 && messages[n-1].Role == role {
			for _, b := range blocks {
				b.Sequence = len(messages[n-1].Blocks)
				messages[n-1].Blocks = append(messages[n-1].Blocks, b)
			}
			return
		}
		for i, b := range blocks {
			b.Sequence = i
		}
		messages = append(messages, llmprovider.Message{Role: role, Blocks: blocks})
	}

	for _, h := range req.History {
		add(string(h.Role), textBlock(h.Text))
	}

	blocks := []*llmprovider.Block{textBlock(req.Prompt)}
	for _, a := range req.Attachments {
		b, err := s.attachmentBlock(a)
		if err != nil {
			return nil, err
		}
		if b != nil {
			blocks = append(blocks, b)
		}
	}
	add(string(domainchat.RoleUser), blocks...)

	system := s.systemPrompt
	params := &llmprovider.RequestParams{
		System: &system,
	}
	if req.Options.SearchEnabled && s.supportsSearch(info) {
		tool, err := llmprovider.MapToolByName(webSearchTool)
		if err != nil {
			return nil, fmt.Errorf("failed to map built-in tool '%s': %w", webSearchTool, err)
		}
		params.Tools = []llmprovider.Tool{*tool}
	}

	return &llmprovider.GenerateRequest{
		Messages: messages,
		Model:    info.Model,
		Params:   params,
	}, nil
}

func (s *TokenSource) supportsSearch(info *ModelInfo) bool {
	caps, err := s.caps.GetModelCapabilities(info.Provider, info.Model)
	return err == nil && caps.SupportsSearch
}

// attachmentBlock turns images into image blocks and text files into text
// blocks. Other types are skipped.
func (s *TokenSource) attachmentBlock(a chatModels.Attachment) (*llmprovider.Block, error) {
	switch {
	case strings.HasPrefix(a.MimeType, "image/"):
		return &llmprovider.Block{
			BlockType: "image",
			Content: map[string]interface{}{
				"url":       "data:" + a.MimeType + ";base64," + a.Base64Data,
				"mime_type": a.MimeType,
			},
		}, nil

	case strings.HasPrefix(a.MimeType, "text/"), a.MimeType == "application/json":
		data, err := base64.StdEncoding.DecodeString(a.Base64Data)
		if err != nil {
			return nil, fmt.Errorf("attachment %q is not valid base64: %w", a.Name, err)
		}
		return textBlock(fmt.Sprintf("Attached file %s:\n\n%s", a.Name, data)), nil

	default:
		s.logger.Warn("skipping unsupported attachment",
			"name", a.Name,
			"mime_type", a.MimeType,
		)
		return nil, nil
	}
}

func textBlock(text string) *llmprovider.Block {
	return &llmprovider.Block{
		BlockType:   "text",
		TextContent: &text,
	}
}

// convertEvent maps a library stream event to a chunk. last reports that
// the provider is done.
func convertEvent(event llmprovider.StreamEvent) (chunk *domainchat.StreamChunk, last bool) {
	if event.Error != nil {
		return &domainchat.StreamChunk{Err: event.Error}, true
	}
	if event.Delta != nil && event.Delta.DeltaType == deltaTypeText && event.Delta.TextDelta != nil {
		chunk = &domainchat.StreamChunk{TextDelta: *event.Delta.TextDelta}
	}
	if event.Metadata != nil {
		if len(event.Metadata.ResponseMetadata) > 0 {
			if chunk == nil {
				chunk = &domainchat.StreamChunk{}
			}
			chunk.GroundingMetadata = event.Metadata.ResponseMetadata
		}
		return chunk, true
	}
	return chunk, false
}
