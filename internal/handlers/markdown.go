package handlers

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/lehigh-university-libraries/cookbook/internal/models"
)

// EscapeMarkdown prefixes every MarkdownV2 reserved character with a backslash.
func EscapeMarkdown(s string) string {
	return tgbotapi.EscapeText(string(models.FormatMarkdownV2), s)
}
