// Package notify tells an operator chat about saved generation results.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/flashgen/internal/models"
	"github.com/digkill/flashgen/pkg/logger"
)

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Telegram struct {
	api    sender
	chatID int64
	log    *slog.Logger
}

// NewTelegram authenticates the bot token against the Bot API.
func NewTelegram(token string, chatID int64, log *slog.Logger) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return newTelegram(api, chatID, log), nil
}

func newTelegram(api sender, chatID int64, log *slog.Logger) *Telegram {
	return &Telegram{api: api, chatID: chatID, log: logger.OrDiscard(log)}
}

func (t *Telegram) ResultSaved(ctx context.Context, rec models.SavedResultRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(t.chatID, resultText(rec))
	msg.DisableWebPagePreview = true
	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("send result notification: %w", err)
	}
	t.log.Debug("result notification sent", "job_id", rec.JobID, "chat_id", t.chatID)
	return nil
}

func resultText(rec models.SavedResultRecord) string {
	var b strings.Builder
	b.WriteString("Resume ready\n")
	fmt.Fprintf(&b, "Job: %s\n", rec.JobID)
	if rec.SourceIdentity != nil && *rec.SourceIdentity != "" {
		fmt.Fprintf(&b, "Profile: %s\n", *rec.SourceIdentity)
	}
	if rec.Outputs.PDF != nil {
		fmt.Fprintf(&b, "PDF: %s\n", *rec.Outputs.PDF)
	}
	if rec.Outputs.HTML != nil {
		fmt.Fprintf(&b, "HTML: %s\n", *rec.Outputs.HTML)
	}
	fmt.Fprintf(&b, "Saved: %s", rec.CreatedAt.Format("2006-01-02 15:04 MST"))
	return b.String()
}
