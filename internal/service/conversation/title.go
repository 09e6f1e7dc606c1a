package conversation

import (
	"strings"

	"github.com/google/uuid"

	"sandchat/internal/config"
)

// DeriveTitle builds a chat title from its first prompt: whitespace
// collapsed, cut to config.DerivedTitleLength characters plus "...".
func DeriveTitle(prompt string) string {
	title := strings.Join(strings.Fields(prompt), " ")
	if title == "" {
		return DefaultChatTitle
	}
	runes := []rune(title)
	if len(runes) > config.DerivedTitleLength {
		return strings.TrimSpace(string(runes[:config.DerivedTitleLength])) + "..."
	}
	return title
}

func newID() string {
	return uuid.New().String()
}
