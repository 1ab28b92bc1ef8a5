package notify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

// Telegram sends messages to a single chat.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger *logrus.Logger
}

var _ Sink = (*Telegram)(nil)

// NewTelegram authenticates the bot token and returns a sink bound to one
// chat.
func NewTelegram(token string, chatID int64, logger *logrus.Logger) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	return &Telegram{bot: bot, chatID: chatID, logger: logger}, nil
}

// Info implements Sink.
func (t *Telegram) Info(msg string) { t.send(msg) }

// Warn implements Sink.
func (t *Telegram) Warn(msg string) { t.send("WARN: " + msg) }

// Fatal implements Sink.
func (t *Telegram) Fatal(msg string) { t.send("FATAL (manual review): " + msg) }

func (t *Telegram) send(msg string) {
	if _, err := t.bot.Send(tgbotapi.NewMessage(t.chatID, msg)); err != nil {
		t.logger.Warnf("telegram delivery failed: %v", err)
	}
}
