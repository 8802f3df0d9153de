package bot

import (
	"context"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"visitbot/internal/models"
	"visitbot/internal/pkg/workerpool"
	"visitbot/internal/survey"
)

// Sender is the part of the Telegram API the bot talks to.
// *tgbotapi.BotAPI satisfies it.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Survey is the progression engine driven by the bot
type Survey interface {
	Begin(ctx context.Context, user models.UserKey) survey.Instruction
	Restart(ctx context.Context, user models.UserKey) survey.Instruction
	RecordAndAdvance(ctx context.Context, user models.UserKey, row int, answer models.Answer) survey.Instruction
	Current(ctx context.Context, user models.UserKey) (survey.State, error)
}

// Bot represents the Telegram bot wrapper
type Bot struct {
	api          *tgbotapi.BotAPI // nil in tests
	sender       Sender
	survey       Survey
	allowedUsers map[int64]bool // empty: everyone is allowed
	pool         *workerpool.WorkerPool
	timeout      time.Duration
	logger       *zap.Logger

	stopOnce sync.Once
}

// Options configures a Bot
type Options struct {
	AllowedUserIDs []int64
	// InteractionTimeout bounds the handling of a single update
	InteractionTimeout time.Duration
	// Pool runs updates; when nil they are handled on the caller's goroutine
	Pool *workerpool.WorkerPool
}
