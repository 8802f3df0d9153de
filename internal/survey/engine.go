package survey

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"visitbot/internal/models"
	"visitbot/internal/progress"
	"visitbot/internal/storage"
)

// DefaultFirstRow skips the header row of the survey sheet
const DefaultFirstRow = 2

// Options configures the Engine
type Options struct {
	// FirstRow is where the scan for the first question starts
	FirstRow int
	Policy   Policy
}

// Engine walks users through the survey rows.
//
// Operations for the same user are serialized; different users proceed
// concurrently. Collaborator failures never escape as errors: they become
// StorageUnavailable instructions and progress is left as it was, so the
// same interaction can simply be retried.
type Engine struct {
	questions storage.QuestionSource
	answers   storage.AnswerSink
	progress  progress.Store
	opts      Options
	locks     *userLocks
	logger    *zap.Logger
}

// NewEngine creates a survey engine
func NewEngine(questions storage.QuestionSource, answers storage.AnswerSink, store progress.Store, opts Options, logger *zap.Logger) *Engine {
	if opts.FirstRow < 1 {
		opts.FirstRow = DefaultFirstRow
	}
	return &Engine{
		questions: questions,
		answers:   answers,
		progress:  store,
		opts:      opts,
		locks:     newUserLocks(),
		logger:    logger,
	}
}

// Policy returns the configured repeated-answer policy
func (e *Engine) Policy() Policy {
	return e.opts.Policy
}

// Begin starts the survey for user at the first non-blank row
func (e *Engine) Begin(ctx context.Context, user models.UserKey) Instruction {
	unlock := e.locks.lock(user)
	defer unlock()

	first, found, err := e.nextQuestion(ctx, e.opts.FirstRow)
	if err != nil {
		return e.fail("begin", user, err)
	}
	if !found {
		e.logger.Info("No questions available", zap.String("user", user.String()))
		return Instruction{Kind: NoQuestionsAvailable}
	}

	if err := e.progress.Set(ctx, user, first.Row); err != nil {
		return e.fail("begin", user, fmt.Errorf("set progress: %w", err))
	}

	e.logger.Info("Survey started",
		zap.String("user", user.String()),
		zap.Int("row", first.Row),
	)
	return present(first)
}

// Restart drops user's progress and begins again. It is accepted in any state.
func (e *Engine) Restart(ctx context.Context, user models.UserKey) Instruction {
	unlock := e.locks.lock(user)
	defer unlock()

	// Resolve the first row before touching progress so a failed lookup
	// leaves the user where they were.
	first, found, err := e.nextQuestion(ctx, e.opts.FirstRow)
	if err != nil {
		return e.fail("restart", user, err)
	}

	if !found {
		if err := e.progress.Clear(ctx, user); err != nil {
			return e.fail("restart", user, fmt.Errorf("clear progress: %w", err))
		}
		e.logger.Info("No questions available", zap.String("user", user.String()))
		return Instruction{Kind: NoQuestionsAvailable}
	}

	// Set replaces any previous pointer, so a single write restarts the user
	if err := e.progress.Set(ctx, user, first.Row); err != nil {
		return e.fail("restart", user, fmt.Errorf("set progress: %w", err))
	}

	e.logger.Info("Survey restarted",
		zap.String("user", user.String()),
		zap.Int("row", first.Row),
	)
	return present(first)
}

// RecordAndAdvance stores answer for the row the user was shown and moves
// on to the next non-blank row. row must match the user's progress.
func (e *Engine) RecordAndAdvance(ctx context.Context, user models.UserKey, row int, answer models.Answer) Instruction {
	unlock := e.locks.lock(user)
	defer unlock()

	current, ok, err := e.progress.Get(ctx, user)
	if err != nil {
		return e.fail("record", user, fmt.Errorf("get progress: %w", err))
	}
	if !ok || current != row {
		e.logger.Info("Stale interaction",
			zap.String("user", user.String()),
			zap.Int("row", row),
			zap.Int("expected_row", current),
			zap.Bool("in_progress", ok),
		)
		return Instruction{Kind: StaleInteraction}
	}

	column, err := e.answers.ColumnFor(ctx, user)
	if err != nil {
		return e.fail("record", user, fmt.Errorf("get answer column: %w", err))
	}

	var (
		existing models.Answer
		answered bool
	)
	if e.opts.Policy == PolicyFirstAnswerWins {
		existing, answered, err = e.answers.Read(ctx, row, column)
		if err != nil {
			return e.fail("record", user, fmt.Errorf("read answer: %w", err))
		}
	}

	// Resolve the next row before writing so a failed lookup stores nothing
	next, found, err := e.nextQuestion(ctx, row+1)
	if err != nil {
		return e.fail("record", user, err)
	}

	if answered {
		e.logger.Info("Answer already recorded, keeping it",
			zap.String("user", user.String()),
			zap.Int("row", row),
			zap.Int("column", column),
			zap.String("answer", existing.Token()),
			zap.String("rejected", answer.Token()),
		)
	} else {
		if err := e.answers.Write(ctx, row, column, answer); err != nil {
			return e.fail("record", user, fmt.Errorf("write answer: %w", err))
		}
		e.logger.Info("Answer recorded",
			zap.String("user", user.String()),
			zap.Int("row", row),
			zap.Int("column", column),
			zap.String("answer", answer.Token()),
		)
	}

	ins, err := e.advance(ctx, user, next, found)
	if err != nil {
		return e.fail("record", user, err)
	}

	if answered {
		return Instruction{Kind: AlreadyAnswered, Existing: existing, Next: &ins}
	}
	return ins
}

// Current reports where user stands without changing anything
func (e *Engine) Current(ctx context.Context, user models.UserKey) (State, error) {
	unlock := e.locks.lock(user)
	defer unlock()

	row, ok, err := e.progress.Get(ctx, user)
	if err != nil {
		return State{}, fmt.Errorf("get progress: %w", err)
	}
	if !ok {
		return State{}, nil
	}

	q, err := e.questions.Question(ctx, row)
	if err != nil {
		return State{}, fmt.Errorf("get question %d: %w", row, err)
	}
	q.Row = row
	return State{Started: true, Row: row, Question: q}, nil
}

// advance moves user on to next, or out of the survey when nothing is left
func (e *Engine) advance(ctx context.Context, user models.UserKey, next models.Question, found bool) (Instruction, error) {
	if !found {
		if err := e.progress.Clear(ctx, user); err != nil {
			return Instruction{}, fmt.Errorf("clear progress: %w", err)
		}
		e.logger.Info("Survey completed", zap.String("user", user.String()))
		return Instruction{Kind: SurveyComplete}, nil
	}

	if err := e.progress.Set(ctx, user, next.Row); err != nil {
		return Instruction{}, fmt.Errorf("set progress: %w", err)
	}
	return present(next), nil
}

// nextQuestion scans forward from row for the first non-blank question
func (e *Engine) nextQuestion(ctx context.Context, from int) (models.Question, bool, error) {
	lastRow, err := e.questions.LastRow(ctx)
	if err != nil {
		return models.Question{}, false, fmt.Errorf("get last row: %w", err)
	}

	for row := from; row <= lastRow; row++ {
		q, err := e.questions.Question(ctx, row)
		if err != nil {
			return models.Question{}, false, fmt.Errorf("get question %d: %w", row, err)
		}
		if q.IsBlank() {
			continue
		}
		q.Row = row
		return q, true, nil
	}
	return models.Question{}, false, nil
}

func (e *Engine) fail(op string, user models.UserKey, err error) Instruction {
	e.logger.Error("Survey storage unavailable",
		zap.String("op", op),
		zap.String("user", user.String()),
		zap.Error(err),
	)
	return unavailable(err)
}
