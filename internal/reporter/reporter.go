package reporter

import (
	"context"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Reporter sends HTML audit messages (title changes, refused edits) to a Telegram logs channel.
// It is nil-safe: if chatID is 0 or the receiver is nil, Notify is a no-op.
type Reporter struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

func New(bot *tgbotapi.BotAPI, chatID int64) *Reporter {
	return &Reporter{bot: bot, chatID: chatID}
}

// Notify never fails the caller; delivery problems are only logged.
func (r *Reporter) Notify(ctx context.Context, msg string) {
	if r == nil || r.chatID == 0 {
		return
	}
	if err := ctx.Err(); err != nil {
		slog.Warn("audit message dropped", "err", err)
		return
	}

	m := tgbotapi.NewMessage(r.chatID, msg)
	m.ParseMode = tgbotapi.ModeHTML
	m.DisableWebPagePreview = true

	if _, err := r.bot.Send(m); err != nil {
		slog.Error("failed to send audit message", "err", err)
	}
}
