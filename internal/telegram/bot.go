// Package telegram provides the Telegram command bot and notification sender.
package telegram

import (
	"context"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/gitwatch/pkg/logger"
)

// Bot receives chat commands through long polling.
type Bot struct {
	api      *tgbotapi.BotAPI
	handlers *Handlers
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewBot creates a new Telegram bot instance.
func NewBot(api *tgbotapi.BotAPI, handlers *Handlers) *Bot {
	logger.Info().Str("username", api.Self.UserName).Msg("Telegram bot authorized")

	ctx, cancel := context.WithCancel(context.Background())
	return &Bot{
		api:      api,
		handlers: handlers,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins listening for updates.
func (b *Bot) Start() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-b.ctx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				b.dispatch(update)
			}
		}
	}()

	logger.Info().Msg("Telegram bot started, listening for updates")
}

// Stop gracefully stops the bot.
func (b *Bot) Stop() {
	logger.Info().Msg("Stopping Telegram bot")
	b.cancel()
	b.api.StopReceivingUpdates()
	b.wg.Wait()
}

func (b *Bot) dispatch(update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Int("update_id", update.UpdateID).Msg("Update handler panicked")
		}
	}()

	switch {
	case update.Message != nil && update.Message.IsCommand():
		b.handlers.HandleCommand(b.ctx, update.Message)
	case update.CallbackQuery != nil:
		b.handlers.HandleCallback(b.ctx, update.CallbackQuery)
	}
}
