// Package notifier publishes and edits article posts in a Telegram channel.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/0x0BSoD/feedRelay/internal/markup"
	"github.com/0x0BSoD/feedRelay/internal/model"
)

// ErrTransient marks an edit that may succeed if tried again later.
var ErrTransient = errors.New("transient telegram failure")

const (
	DefaultEditLayout = "02/01/2006 15:04"

	// captions are capped at 1024 characters by Telegram
	maxCaptionDescription = 600
	maxTextDescription    = 3000
)

type Notifier struct {
	bot        *tgbotapi.BotAPI
	channelID  int64
	editLayout string
	location   *time.Location
	limiter    *rate.Limiter
}

// New returns a Notifier posting to channelID. Sends are spaced by at least sendInterval.
func New(
	bot *tgbotapi.BotAPI,
	channelID int64,
	editLayout string,
	location *time.Location,
	sendInterval time.Duration,
) *Notifier {
	if editLayout == "" {
		editLayout = DefaultEditLayout
	}
	if location == nil {
		location = time.Local
	}

	limit := rate.Inf
	if sendInterval > 0 {
		limit = rate.Every(sendInterval)
	}

	return &Notifier{
		bot:        bot,
		channelID:  channelID,
		editLayout: editLayout,
		location:   location,
		limiter:    rate.NewLimiter(limit, 1),
	}
}

// Create sends post as a photo with caption when it carries an image, as a text message otherwise,
// and returns the new message id.
func (n *Notifier) Create(ctx context.Context, post model.Post) (int64, error) {
	if err := n.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	var c tgbotapi.Chattable
	if post.Image != nil {
		photo := tgbotapi.NewPhoto(n.channelID, photoFile(post.Image))
		photo.Caption = n.format(post, maxCaptionDescription, time.Time{})
		photo.ParseMode = tgbotapi.ModeHTML
		c = photo
	} else {
		msg := tgbotapi.NewMessage(n.channelID, n.format(post, maxTextDescription, time.Time{}))
		msg.ParseMode = tgbotapi.ModeHTML
		c = msg
	}

	sent, err := n.bot.Send(c)
	if err != nil {
		return 0, fmt.Errorf("send message: %w", err)
	}

	return int64(sent.MessageID), nil
}

// Edit rewrites the caption (photo posts) or text of messageID and stamps it with the edit time.
// Requests Telegram refuses are reported as a Rejected result rather than an error; only transport
// failures, rate limiting and server errors are returned as errors.
func (n *Notifier) Edit(ctx context.Context, messageID int64, post model.Post, edited time.Time) (model.EditResult, error) {
	if err := n.limiter.Wait(ctx); err != nil {
		return model.EditResult{}, err
	}

	var c tgbotapi.Chattable
	if post.Image != nil {
		edit := tgbotapi.NewEditMessageCaption(n.channelID, int(messageID), n.format(post, maxCaptionDescription, edited))
		edit.ParseMode = tgbotapi.ModeHTML
		c = edit
	} else {
		edit := tgbotapi.NewEditMessageText(n.channelID, int(messageID), n.format(post, maxTextDescription, edited))
		edit.ParseMode = tgbotapi.ModeHTML
		c = edit
	}

	result := model.EditResult{MessageID: messageID, Outcome: model.Edited}

	if _, err := n.bot.Request(c); err != nil {
		var apiErr *tgbotapi.Error
		if !errors.As(err, &apiErr) {
			return result, fmt.Errorf("edit message: %w: %w", ErrTransient, err)
		}

		switch {
		case strings.Contains(apiErr.Message, "message is not modified"):
			return result, nil
		case apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != 429:
			result.Outcome = model.Rejected
			result.Reason = apiErr.Message
			return result, nil
		default:
			return result, fmt.Errorf("edit message: %w: %w", ErrTransient, err)
		}
	}

	return result, nil
}

func (n *Notifier) format(post model.Post, maxDescription int, edited time.Time) string {
	var b strings.Builder

	if len(post.Tags) > 0 {
		for _, tag := range post.Tags {
			b.WriteString("#" + markup.EscapeHTML(tag) + " ")
		}
		b.WriteString("— ")
	}

	b.WriteString("<strong>" + markup.EscapeHTML(post.Title) + "</strong>")

	if post.Description != "" {
		b.WriteString("\n\n<i>" + markup.EscapeHTML(truncate(post.Description, maxDescription)) + "</i>")
	}

	fmt.Fprintf(&b, "\n\n📰 <a href=\"%s\">Leggi articolo</a>", html.EscapeString(post.Link))

	if !edited.IsZero() {
		b.WriteString("\n\n<i>EDIT: " + edited.In(n.location).Format(n.editLayout) + "</i>")
	}

	return b.String()
}

func photoFile(h *model.ImageHandle) tgbotapi.RequestFileData {
	if h.Path != "" {
		return tgbotapi.FilePath(h.Path)
	}
	return tgbotapi.FileURL(h.URL)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return strings.TrimSpace(string(r[:max-1])) + "…"
}
