package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/user/gitwatch/internal/notifier"
)

// NewAPI authorizes against the Bot API. An empty endpoint targets
// api.telegram.org; otherwise it must be a format string like
// tgbotapi.APIEndpoint.
func NewAPI(token, endpoint string, debug bool, client *http.Client) (*tgbotapi.BotAPI, error) {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	if client == nil {
		client = &http.Client{}
	}
	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	api.Debug = debug
	return api, nil
}

// Sender delivers rendered notifications to Telegram chats.
type Sender struct {
	api     *tgbotapi.BotAPI
	limiter *rate.Limiter
}

// NewSender creates a sender allowing perSecond messages per second.
func NewSender(api *tgbotapi.BotAPI, perSecond float64) *Sender {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &Sender{
		api:     api,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Send posts an HTML message with link previews disabled. A chat that
// blocked the bot or no longer exists yields an error wrapping
// notifier.ErrRecipientBlocked.
func (s *Sender) Send(ctx context.Context, chatID int64, text string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	if _, err := s.api.Send(msg); err != nil {
		var apiErr *tgbotapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusForbidden {
			return fmt.Errorf("%w: %s", notifier.ErrRecipientBlocked, apiErr.Message)
		}
		return fmt.Errorf("send to chat %d: %w", chatID, err)
	}
	return nil
}
