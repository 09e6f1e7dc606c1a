package turn

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"

	chatModels "sandchat/internal/domain/models/chat"
	domainchat "sandchat/internal/domain/services/chat"
)

var (
	codec     tokenizer.Codec
	codecOnce sync.Once
	codecErr  error
)

// getCodec returns the cl100k_base tokenizer
func getCodec() (tokenizer.Codec, error) {
	codecOnce.Do(func() {
		codec, codecErr = tokenizer.Get(tokenizer.Cl100kBase)
	})
	return codec, codecErr
}

// EstimateTokens returns an approximate token count for text. Falls back to
// four bytes per token when the encoder is unavailable.
func EstimateTokens(text string) int {
	c, err := getCodec()
	if err != nil {
		return (len(text) + 3) / 4
	}
	ids, _, err := c.Encode(text)
	if err != nil {
		return (len(text) + 3) / 4
	}
	return len(ids)
}

// BuildHistory converts prior messages into backend history, dropping the
// oldest entries until the estimate fits budget. A budget <= 0 keeps all.
// Messages without display text are skipped.
func BuildHistory(messages []*chatModels.Message, budget int) []domainchat.HistoryEntry {
	entries := make([]domainchat.HistoryEntry, 0, len(messages))
	costs := make([]int, 0, len(messages))
	total := 0
	for _, m := range messages {
		if m.Text == "" {
			continue
		}
		role := domainchat.RoleUser
		if m.Sender == chatModels.SenderAI {
			role = domainchat.RoleAssistant
		}
		cost := EstimateTokens(m.Text)
		entries = append(entries, domainchat.HistoryEntry{Role: role, Text: m.Text})
		costs = append(costs, cost)
		total += cost
	}

	if budget <= 0 {
		return entries
	}
	start := 0
	for start < len(entries) && total > budget {
		total -= costs[start]
		start++
	}
	return entries[start:]
}
