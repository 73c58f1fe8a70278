package bot

import (
	"context"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/facilitydesk/repair-bot/internal/notify"
)

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Sink delivers notifications through the Telegram Bot API.
type Sink struct {
	api sender
}

// NewSink creates a sink with its own API client whose HTTP timeout bounds
// every delivery. It is kept apart from the long-polling client.
func NewSink(token string, timeout time.Duration) (*Sink, error) {
	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to create sending client: %w", err)
	}
	return &Sink{api: api}, nil
}

func (s *Sink) Send(ctx context.Context, recipient int64, msg notify.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.api.Send(chattable(recipient, msg))
	return err
}

func chattable(recipient int64, msg notify.Message) tgbotapi.Chattable {
	markup := inlineKeyboard(msg.RequestID, msg.Actions)

	if msg.PhotoRef != "" {
		photo := tgbotapi.NewPhoto(recipient, tgbotapi.FileID(msg.PhotoRef))
		photo.Caption = msg.Text
		if markup != nil {
			photo.ReplyMarkup = *markup
		}
		return photo
	}

	text := tgbotapi.NewMessage(recipient, msg.Text)
	if markup != nil {
		text.ReplyMarkup = *markup
	}
	return text
}
