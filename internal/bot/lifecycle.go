package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// WebhookPath is the HTTP path Telegram posts updates to in webhook mode
const WebhookPath = "/telegram-webhook"

// Start starts the bot in polling mode and blocks until ctx is cancelled
func (b *Bot) Start(ctx context.Context) error {
	if b.api == nil {
		return fmt.Errorf("bot API is not configured")
	}
	b.logger.Info("Starting bot in polling mode")

	// Remove webhook (if any was set previously)
	_, err := b.api.Request(tgbotapi.DeleteWebhookConfig{})
	if err != nil {
		b.logger.Warn("Failed to delete webhook", zap.Error(err))
	}

	// Create update configuration
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	// Get updates channel
	updates := b.api.GetUpdatesChan(u)

	b.logger.Info("Bot started successfully. Waiting for updates...")

	// Handle updates (blocks here)
	b.handleUpdates(ctx, updates)
	return nil
}

// StartWebhook sets up the bot to receive updates via webhook
func (b *Bot) StartWebhook(webhookURL, secret string) error {
	if b.api == nil {
		return fmt.Errorf("bot API is not configured")
	}
	b.logger.Info("Setting up webhook", zap.String("webhook_url", webhookURL))

	// Configure webhook
	webhookConfig, err := tgbotapi.NewWebhook(webhookURL + WebhookPath)
	if err != nil {
		return fmt.Errorf("invalid webhook URL: %w", err)
	}
	webhookConfig.MaxConnections = 40

	// secret_token is not modelled by WebhookConfig, so the call is made directly
	params := make(tgbotapi.Params)
	params["url"] = webhookConfig.URL.String()
	params.AddNonZero("max_connections", webhookConfig.MaxConnections)
	params.AddNonEmpty("secret_token", secret)

	_, err = b.api.MakeRequest("setWebhook", params)
	if err != nil {
		b.logger.Error("Failed to set webhook", zap.Error(err), zap.String("webhook_url", webhookURL))
		return err
	}

	// Get webhook info to verify
	info, err := b.api.GetWebhookInfo()
	if err != nil {
		b.logger.Warn("Failed to get webhook info", zap.Error(err))
	} else {
		b.logger.Info("Webhook set successfully",
			zap.String("url", info.URL),
			zap.Int("pending_updates", info.PendingUpdateCount),
		)
	}

	b.logger.Info("Bot configured for webhook mode")
	return nil
}

// Stop stops long polling; it is safe to call more than once
func (b *Bot) Stop() {
	if b.api == nil {
		return
	}
	b.stopOnce.Do(b.api.StopReceivingUpdates)
}

// HandleUpdate queues a single update for processing. It returns false when
// the update was dropped because the worker pool is saturated.
func (b *Bot) HandleUpdate(update tgbotapi.Update) bool {
	if b.pool == nil {
		b.processUpdate(context.Background(), update)
		return true
	}
	return b.pool.Submit(func(ctx context.Context) {
		b.processUpdate(ctx, update)
	})
}

func (b *Bot) processUpdate(ctx context.Context, update tgbotapi.Update) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	// Handle regular messages
	if update.Message != nil && update.Message.From != nil {
		userID := update.Message.From.ID
		if !b.isAllowed(userID) {
			b.logger.Warn("Unauthorized access attempt",
				zap.Int64("user_id", userID),
				zap.String("username", update.Message.From.UserName),
				zap.String("first_name", update.Message.From.FirstName),
				zap.String("last_name", update.Message.From.LastName),
				zap.String("text", update.Message.Text),
			)
			msg := tgbotapi.NewMessage(update.Message.Chat.ID, textUnauthorized)
			b.send(msg)
			return
		}
		b.handleMessage(ctx, update.Message)
	}

	// Handle callback queries (inline keyboard button clicks)
	if update.CallbackQuery != nil && update.CallbackQuery.From != nil {
		userID := update.CallbackQuery.From.ID
		if !b.isAllowed(userID) {
			b.logger.Warn("Unauthorized callback query attempt",
				zap.Int64("user_id", userID),
				zap.String("username", update.CallbackQuery.From.UserName),
				zap.String("callback_data", update.CallbackQuery.Data),
			)
			b.answerCallback(update.CallbackQuery.ID, textUnauthorized)
			return
		}
		b.handleCallbackQuery(ctx, update.CallbackQuery)
	}
}

// handleUpdates processes incoming updates from polling mode
func (b *Bot) handleUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("Stopping update polling")
			b.Stop()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if !b.HandleUpdate(update) {
				b.logger.Warn("Update dropped", zap.Int("update_id", update.UpdateID))
			}
		}
	}
}
