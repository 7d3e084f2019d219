package notify

import (
	"context"
	"errors"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"video-autopost/internal/logging"
)

// telegram caps messages at 4096 characters
const maxMessageLen = 4000

// Telegram sends run summaries to an operator chat.
type Telegram struct {
	tg         *tgbotapi.BotAPI
	chatID     int64
	errorsPath string
	log        *logging.Logger
}

func NewTelegram(token string, chatID int64, errorsPath string, log *logging.Logger) (*Telegram, error) {
	return newTelegram(token, chatID, errorsPath, tgbotapi.APIEndpoint, &http.Client{}, log)
}

func newTelegram(token string, chatID int64, errorsPath, endpoint string, client *http.Client, log *logging.Logger) (*Telegram, error) {
	if token == "" {
		return nil, errors.New("TELEGRAM_BOT_TOKEN is empty")
	}
	if chatID == 0 {
		return nil, errors.New("TELEGRAM_CHAT_ID is empty")
	}
	if log == nil {
		log = logging.Discard()
	}
	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, err
	}
	api.Debug = false
	return &Telegram{tg: api, chatID: chatID, errorsPath: errorsPath, log: log}, nil
}

// Notify sends text. When withErrors is set the tail of the errors log is
// appended. Send failures are logged, never returned.
func (t *Telegram) Notify(_ context.Context, text string, withErrors bool) {
	if withErrors && t.errorsPath != "" {
		if lines, err := TailLastNLines(t.errorsPath, 10); err == nil && len(lines) > 0 {
			text += "\n\nerrors.log:\n" + strings.Join(lines, "\n")
		}
	}
	if r := []rune(text); len(r) > maxMessageLen {
		text = string(r[:maxMessageLen]) + "…"
	}

	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := t.tg.Send(msg); err != nil {
		t.log.Errorf("telegram notify: %v", err)
		return
	}
	t.log.Infof("telegram notify: sent %d chars to %d", len(text), t.chatID)
}
