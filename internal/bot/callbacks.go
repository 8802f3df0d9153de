package bot

import (
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"visitbot/internal/models"
)

const callbackRestart = "restart"

// answerData encodes an answer button as "<token>:<row>"
func answerData(answer models.Answer, row int) string {
	return fmt.Sprintf("%s:%d", answer.Token(), row)
}

// parseAnswerData splits "<token>:<row>". The token is not validated here:
// unrecognized tokens are decoded as unknown answers.
func parseAnswerData(data string) (token string, row int, ok bool) {
	i := strings.LastIndex(data, ":")
	if i < 0 {
		return "", 0, false
	}
	row, err := strconv.Atoi(data[i+1:])
	if err != nil || row < 1 {
		return "", 0, false
	}
	return data[:i], row, true
}

// answerKeyboard builds the inline keyboard attached to a question
func answerKeyboard(row int) tgbotapi.InlineKeyboardMarkup {
	answers := models.Answers()
	button := func(a models.Answer) tgbotapi.InlineKeyboardButton {
		return tgbotapi.NewInlineKeyboardButtonData(buttonLabels[a], answerData(a, row))
	}

	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(button(answers[0]), button(answers[1])),
		tgbotapi.NewInlineKeyboardRow(button(answers[2]), button(answers[3])),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔄 Restart", callbackRestart),
		),
	)
}

func (b *Bot) answerCallback(id, text string) {
	if b.sender == nil {
		return
	}
	if _, err := b.sender.Request(tgbotapi.NewCallback(id, text)); err != nil {
		b.logger.Warn("Failed to answer callback query", zap.Error(err))
	}
}
