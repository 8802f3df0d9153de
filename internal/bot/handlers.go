package bot

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"visitbot/internal/models"
)

// interaction carries what a single update needs to be answered
type interaction struct {
	user   models.UserKey
	chatID int64
	logger *zap.Logger
}

func (b *Bot) newInteraction(from *tgbotapi.User, chatID int64) interaction {
	user := models.NewUserKey(from.UserName, from.ID)
	return interaction{
		user:   user,
		chatID: chatID,
		logger: b.logger.With(
			zap.String("interaction_id", uuid.NewString()),
			zap.String("user", user.String()),
			zap.Int64("chat_id", chatID),
		),
	}
}

// handleMessage processes a single message
func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	// Recover from panics to prevent bot crashes
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Recovered from panic in handleMessage", zap.Any("panic", r))
			msg := tgbotapi.NewMessage(message.Chat.ID, textInternalError)
			b.send(msg)
		}
	}()

	in := b.newInteraction(message.From, message.Chat.ID)

	if !message.IsCommand() {
		in.logger.Debug("Text message ignored", zap.String("text", message.Text))
		b.send(tgbotapi.NewMessage(in.chatID, textUseButtons))
		return
	}

	in.logger.Debug("Command received", zap.String("command", message.Command()))

	switch message.Command() {
	case "start":
		b.handleStart(ctx, in)
	case "restart":
		b.handleRestart(ctx, in)
	case "status":
		b.handleStatus(ctx, in)
	case "help":
		b.handleHelp(in)
	default:
		msg := tgbotapi.NewMessage(in.chatID, textUnknownCommand)
		b.send(msg)
	}
}

// handleCallbackQuery processes inline keyboard button clicks
func (b *Bot) handleCallbackQuery(ctx context.Context, query *tgbotapi.CallbackQuery) {
	// Recover from panics
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Recovered from panic in handleCallbackQuery", zap.Any("panic", r))
		}
	}()

	// Answer the callback query to remove loading state
	b.answerCallback(query.ID, "")

	chatID := query.From.ID
	if query.Message != nil && query.Message.Chat != nil {
		chatID = query.Message.Chat.ID
	}
	in := b.newInteraction(query.From, chatID)

	// Handle callback based on data
	if query.Data == callbackRestart {
		b.handleRestart(ctx, in)
		return
	}

	token, row, ok := parseAnswerData(query.Data)
	if !ok {
		in.logger.Warn("Malformed callback data", zap.String("callback_data", query.Data))
		b.send(tgbotapi.NewMessage(in.chatID, textStale))
		return
	}
	b.handleAnswer(ctx, in, row, token)
}
