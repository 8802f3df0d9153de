package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"visitbot/internal/models"
)

// handleStart begins the survey at the first question
func (b *Bot) handleStart(ctx context.Context, in interaction) {
	b.render(in, b.survey.Begin(ctx, in.user))
}

// handleRestart sends the user back to the first question
func (b *Bot) handleRestart(ctx context.Context, in interaction) {
	b.render(in, b.survey.Restart(ctx, in.user))
}

// handleAnswer records a button press and shows what comes next
func (b *Bot) handleAnswer(ctx context.Context, in interaction, row int, token string) {
	answer := models.DecodeAnswer(token)
	if answer == models.AnswerUnknown {
		in.logger.Warn("Unknown answer token", zap.String("token", token), zap.Int("row", row))
	}
	b.render(in, b.survey.RecordAndAdvance(ctx, in.user, row, answer))
}

// handleStatus reports where the user is in the survey
func (b *Bot) handleStatus(ctx context.Context, in interaction) {
	state, err := b.survey.Current(ctx, in.user)
	if err != nil {
		in.logger.Error("Failed to read survey state", zap.Error(err))
		b.send(tgbotapi.NewMessage(in.chatID, textUnavailable))
		return
	}

	if !state.Started {
		b.send(tgbotapi.NewMessage(in.chatID, textNotStarted))
		return
	}

	text := fmt.Sprintf("Survey in progress: question in row %d is waiting for your answer.", state.Row)
	b.send(tgbotapi.NewMessage(in.chatID, text))
	b.sendQuestion(in.chatID, state.Question)
}

// handleHelp lists available commands
func (b *Bot) handleHelp(in interaction) {
	b.send(tgbotapi.NewMessage(in.chatID, textHelp))
}
