package storage

import (
	"context"
	"errors"

	"visitbot/internal/models"
)

// ErrNotInitialized is returned by backends used before Initialize
var ErrNotInitialized = errors.New("storage is not initialized")

// QuestionSource reads survey rows
type QuestionSource interface {
	// Question returns the question at row. Rows without data come back
	// as a blank Question, not an error.
	Question(ctx context.Context, row int) (models.Question, error)

	// LastRow returns the highest row index that may hold a question
	LastRow(ctx context.Context) (int, error)
}

// AnswerSink stores one answer per (row, user column)
type AnswerSink interface {
	// ColumnFor returns the user's column, allocating a new one on first use.
	// Allocation is monotonic and columns are never reused.
	ColumnFor(ctx context.Context, user models.UserKey) (int, error)

	// LookupColumn returns the user's column without allocating
	LookupColumn(ctx context.Context, user models.UserKey) (int, bool, error)

	Write(ctx context.Context, row, column int, answer models.Answer) error

	// Read returns the stored answer; ok is false when the cell is blank
	Read(ctx context.Context, row, column int) (models.Answer, bool, error)
}

// Storage is a complete survey backend
type Storage interface {
	QuestionSource
	AnswerSink

	// Lifecycle
	Initialize(ctx context.Context) error
	Close() error
}
