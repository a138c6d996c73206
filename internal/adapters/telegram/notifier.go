package telegram

import (
	"context"
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"tg-insight-collector/internal/infra/metrics"
)

// Sender: часть tgbotapi.BotAPI, нужная для отправки сообщений.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier шлёт операторские оповещения в чат через Bot API.
type Notifier struct {
	bot    Sender
	chatID int64
	log    zerolog.Logger
}

// NewNotifier создаёт оповещатель для чата chatID.
func NewNotifier(bot Sender, chatID int64, log zerolog.Logger) *Notifier {
	return &Notifier{bot: bot, chatID: chatID, log: log}
}

// NewAlerter собирает оповещатель из токена бота. Без токена или чата оповещения только пишутся в лог.
func NewAlerter(token string, chatID int64, log zerolog.Logger) (*Notifier, error) {
	if token == "" || chatID == 0 {
		log.Warn().Msg("telegram: бот оповещений не настроен, алерты пишутся только в лог")
		return NewNotifier(nil, 0, log), nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("бот оповещений: %w", err)
	}
	return NewNotifier(bot, chatID, log), nil
}

// Alert отправляет текст, разбивая его на пронумерованные сообщения допустимой длины.
func (n *Notifier) Alert(ctx context.Context, text string) error {
	n.log.Warn().Str("alert", text).Msg("telegram: оповещение")
	if n.bot == nil {
		return nil
	}
	for _, part := range splitAlert(text, messageLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(n.chatID, part)
		msg.DisableWebPagePreview = true
		start := time.Now()
		_, err := n.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(n.chatID, 10), start, err)
		if err != nil {
			return fmt.Errorf("отправка оповещения: %w", err)
		}
	}
	return nil
}
