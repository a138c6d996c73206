package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (s *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if s.err != nil {
		return tgbotapi.Message{}, s.err
	}
	s.sent = append(s.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func TestNotifierSplitsLongAlerts(t *testing.T) {
	sender := &fakeSender{}
	notifier := NewNotifier(sender, 42, zerolog.Nop())

	text := strings.Repeat("a", 3000) + "\n" + strings.Repeat("b", 3000)
	require.NoError(t, notifier.Alert(context.Background(), text))
	require.Len(t, sender.sent, 2)
	assert.Equal(t, int64(42), sender.sent[0].ChatID)
	assert.True(t, sender.sent[0].DisableWebPagePreview)
	assert.True(t, strings.HasPrefix(sender.sent[0].Text, "[1/2] a"))
	assert.True(t, strings.HasPrefix(sender.sent[1].Text, "[2/2] b"))
}

func TestNotifierReportsSendFailure(t *testing.T) {
	sender := &fakeSender{err: errors.New("bot blocked")}
	err := NewNotifier(sender, 42, zerolog.Nop()).Alert(context.Background(), "аккаунт забанен")
	assert.ErrorContains(t, err, "bot blocked")
}

func TestAlerterWithoutTokenOnlyLogs(t *testing.T) {
	notifier, err := NewAlerter("", 0, zerolog.Nop())
	require.NoError(t, err)
	assert.NoError(t, notifier.Alert(context.Background(), "outbox очищен"))
}
