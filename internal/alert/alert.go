// Package alert delivers operator notifications for situations that need a
// human: refunds that could not be applied and workflow results that could
// not be recorded.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Telegram posts alerts to a fixed admin chat.
type Telegram struct {
	api    sender
	chatID int64
	log    *slog.Logger
}

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

func NewTelegram(token string, chatID int64, log *slog.Logger) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("init telegram api: %w", err)
	}
	log.Info("telegram alerts enabled", "bot", api.Self.UserName, "chat_id", chatID)
	return &Telegram{api: api, chatID: chatID, log: log}, nil
}

// telegram rejects messages longer than 4096 characters
const maxMessageRunes = 4000

func (t *Telegram) Notify(_ context.Context, text string) error {
	if utf8.RuneCountInString(text) > maxMessageRunes {
		text = string([]rune(text)[:maxMessageRunes]) + "…"
	}
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := t.api.Send(msg); err != nil {
		t.log.Error("send alert", "err", err)
		return fmt.Errorf("send telegram alert: %w", err)
	}
	return nil
}

// LogNotifier is used when no alert channel is configured.
type LogNotifier struct {
	Log *slog.Logger
}

func (n LogNotifier) Notify(_ context.Context, text string) error {
	n.Log.Error("operator alert", "text", text)
	return nil
}
