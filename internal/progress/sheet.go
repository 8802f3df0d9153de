package progress

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"visitbot/internal/models"
	"visitbot/internal/storage"
)

type entry struct {
	row     int
	cleared bool
}

// SheetStore is a durable Store that keeps no progress of its own.
// Set and Clear are remembered for the lifetime of the process; for users
// it has not seen yet, the next row is derived from their answer column:
// the first non-blank row after the last answered one.
type SheetStore struct {
	questions storage.QuestionSource
	answers   storage.AnswerSink
	firstRow  int
	logger    *zap.Logger

	mu      sync.Mutex
	overlay map[models.UserKey]entry
}

// NewSheetStore creates a progress store derived from the answer sheet
func NewSheetStore(questions storage.QuestionSource, answers storage.AnswerSink, firstRow int, logger *zap.Logger) *SheetStore {
	if firstRow < 1 {
		firstRow = 1
	}
	return &SheetStore{
		questions: questions,
		answers:   answers,
		firstRow:  firstRow,
		logger:    logger,
		overlay:   make(map[models.UserKey]entry),
	}
}

func (s *SheetStore) Get(ctx context.Context, user models.UserKey) (int, bool, error) {
	s.mu.Lock()
	e, known := s.overlay[user]
	s.mu.Unlock()

	if known {
		if e.cleared {
			return 0, false, nil
		}
		return e.row, true, nil
	}

	row, ok, err := s.derive(ctx, user)
	if err != nil {
		return 0, false, err
	}

	s.mu.Lock()
	// A concurrent Set or Clear wins over the derived value.
	if _, raced := s.overlay[user]; !raced {
		s.overlay[user] = entry{row: row, cleared: !ok}
	}
	s.mu.Unlock()

	s.logger.Debug("Derived progress from answer sheet",
		zap.String("user", user.String()),
		zap.Int("row", row),
		zap.Bool("in_progress", ok),
	)
	return row, ok, nil
}

func (s *SheetStore) Set(ctx context.Context, user models.UserKey, row int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.overlay[user] = entry{row: row}
	return nil
}

func (s *SheetStore) Clear(ctx context.Context, user models.UserKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.overlay[user] = entry{cleared: true}
	return nil
}

// Forget drops what the store remembers about user so the next Get
// derives progress from the sheet again
func (s *SheetStore) Forget(user models.UserKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.overlay, user)
}

func (s *SheetStore) derive(ctx context.Context, user models.UserKey) (int, bool, error) {
	column, ok, err := s.answers.LookupColumn(ctx, user)
	if err != nil {
		return 0, false, fmt.Errorf("lookup answer column: %w", err)
	}
	if !ok {
		return 0, false, nil
	}

	lastRow, err := s.questions.LastRow(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("get last row: %w", err)
	}

	lastAnswered := 0
	var eligible []int
	for row := s.firstRow; row <= lastRow; row++ {
		q, err := s.questions.Question(ctx, row)
		if err != nil {
			return 0, false, fmt.Errorf("get question %d: %w", row, err)
		}
		if q.IsBlank() {
			continue
		}
		eligible = append(eligible, row)

		_, answered, err := s.answers.Read(ctx, row, column)
		if err != nil {
			return 0, false, fmt.Errorf("read answer %d/%d: %w", row, column, err)
		}
		if answered {
			lastAnswered = row
		}
	}

	// Resume after the last answer, not at the first gap
	if lastAnswered == 0 {
		return 0, false, nil
	}
	for _, row := range eligible {
		if row > lastAnswered {
			return row, true, nil
		}
	}
	return 0, false, nil
}
