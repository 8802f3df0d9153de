package bot

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"visitbot/internal/models"
	"visitbot/internal/survey"
)

const (
	textUnauthorized   = "Sorry, you are not authorized to use this bot."
	textInternalError  = "An error occurred while processing your request. Please try again."
	textUnknownCommand = "Unknown command. Use /help to see available commands."
	textUseButtons     = "Please answer with the buttons under the question. Send /status to see your current question."
	textComplete       = "Survey finished, thank you!"
	textNoQuestions    = "There are no questions in the survey yet. Please try again later."
	textStale          = "This question is no longer active. Send /status to see your current question or /restart to start over."
	textUnavailable    = "The survey is temporarily unavailable. Please try again in a moment."
	textNotStarted     = "You have not started the survey yet. Send /start to begin."

	textHelp = `Have you been to these places? Answer each question with the buttons.

Available commands:
/start - Start the survey from the first question
/restart - Start over from the first question
/status - Show your progress
/help - Show this message`
)

var buttonLabels = map[models.Answer]string{
	models.AnswerBeen:    "✅ Been",
	models.AnswerNotBeen: "❌ Not been",
	models.AnswerWant:    "⭐ Want to visit",
	models.AnswerSkipped: "⏭ Skip",
}

// send delivers a message and logs delivery failures
func (b *Bot) send(c tgbotapi.Chattable) {
	if b.sender == nil {
		return // For testing
	}
	if _, err := b.sender.Send(c); err != nil {
		b.logger.Error("Failed to send message", zap.Error(err))
	}
}

// render turns an engine instruction into outgoing messages
func (b *Bot) render(in interaction, ins survey.Instruction) {
	in.logger.Debug("Rendering instruction", zap.Stringer("instruction", ins))

	switch ins.Kind {
	case survey.PresentQuestion:
		b.sendQuestion(in.chatID, ins.Question)
	case survey.AlreadyAnswered:
		text := fmt.Sprintf("You already answered this question: %s.", ins.Existing.Label())
		b.send(tgbotapi.NewMessage(in.chatID, text))
		if ins.Next != nil {
			b.render(in, *ins.Next)
		}
	case survey.SurveyComplete:
		b.send(tgbotapi.NewMessage(in.chatID, textComplete))
	case survey.NoQuestionsAvailable:
		b.send(tgbotapi.NewMessage(in.chatID, textNoQuestions))
	case survey.StaleInteraction:
		b.send(tgbotapi.NewMessage(in.chatID, textStale))
	case survey.StorageUnavailable:
		in.logger.Warn("Survey storage unavailable", zap.Error(ins.Err))
		b.send(tgbotapi.NewMessage(in.chatID, textUnavailable))
	default:
		in.logger.Error("Unhandled instruction", zap.Stringer("instruction", ins))
		b.send(tgbotapi.NewMessage(in.chatID, textInternalError))
	}
}

// sendQuestion shows a question as a photo with caption, or as text when it has no image
func (b *Bot) sendQuestion(chatID int64, q models.Question) {
	keyboard := answerKeyboard(q.Row)

	if q.ImageURL != "" {
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(q.ImageURL))
		photo.Caption = q.Text
		photo.ReplyMarkup = keyboard
		b.send(photo)
		return
	}

	msg := tgbotapi.NewMessage(chatID, q.Text)
	msg.ReplyMarkup = keyboard
	b.send(msg)
}
