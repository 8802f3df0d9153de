package stubs

import (
	"context"
	"sync"

	"visitbot/internal/models"
)

type cell struct {
	row    int
	column int
}

// Calls counts collaborator calls made against the MockDB
type Calls struct {
	Question     int
	LastRow      int
	ColumnFor    int
	LookupColumn int
	Write        int
	Read         int
}

// AnswerCalls returns the number of answer storage calls
func (c Calls) AnswerCalls() int {
	return c.ColumnFor + c.Write + c.Read
}

// MockDB is an in-memory implementation of the Storage interface
type MockDB struct {
	mu          sync.RWMutex
	questions   map[int]models.Question
	lastRow     int
	columns     map[models.UserKey]int
	nextColumn  int
	answers     map[cell]models.Answer
	calls       Calls
	failure     error
	initialized bool
}

// NewMockDB creates a new mock database holding the given questions.
// With no questions, Initialize seeds the sample survey.
func NewMockDB(questions ...models.Question) *MockDB {
	m := &MockDB{
		questions:  make(map[int]models.Question),
		columns:    make(map[models.UserKey]int),
		nextColumn: 1,
		answers:    make(map[cell]models.Answer),
	}
	m.setQuestions(questions)
	return m
}

func (m *MockDB) setQuestions(questions []models.Question) {
	for _, q := range questions {
		m.questions[q.Row] = q
		if q.Row > m.lastRow {
			m.lastRow = q.Row
		}
	}
}

// Initialize seeds the sample survey when no questions were provided
func (m *MockDB) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.questions) == 0 {
		m.setQuestions(SampleQuestions())
	}
	m.initialized = true
	return nil
}

// FailWith makes every subsequent call return err. Pass nil to recover.
func (m *MockDB) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failure = err
}

// Calls returns a snapshot of the call counters
func (m *MockDB) Calls() Calls {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls
}

// ResetCalls zeroes the call counters
func (m *MockDB) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = Calls{}
}

// Question returns the question at row, blank when absent
func (m *MockDB) Question(ctx context.Context, row int) (models.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls.Question++
	if m.failure != nil {
		return models.Question{}, m.failure
	}
	if q, ok := m.questions[row]; ok {
		return q, nil
	}
	return models.Question{Row: row}, nil
}

// LastRow returns the highest question row
func (m *MockDB) LastRow(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls.LastRow++
	if m.failure != nil {
		return 0, m.failure
	}
	return m.lastRow, nil
}

// ColumnFor returns the user's column, allocating the next free one
func (m *MockDB) ColumnFor(ctx context.Context, user models.UserKey) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls.ColumnFor++
	if m.failure != nil {
		return 0, m.failure
	}
	if col, ok := m.columns[user]; ok {
		return col, nil
	}
	col := m.nextColumn
	m.nextColumn++
	m.columns[user] = col
	return col, nil
}

// LookupColumn returns the user's column without allocating
func (m *MockDB) LookupColumn(ctx context.Context, user models.UserKey) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls.LookupColumn++
	if m.failure != nil {
		return 0, false, m.failure
	}
	col, ok := m.columns[user]
	return col, ok, nil
}

// Write stores an answer
func (m *MockDB) Write(ctx context.Context, row, column int, answer models.Answer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls.Write++
	if m.failure != nil {
		return m.failure
	}
	m.answers[cell{row: row, column: column}] = answer
	return nil
}

// Read returns the stored answer
func (m *MockDB) Read(ctx context.Context, row, column int) (models.Answer, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls.Read++
	if m.failure != nil {
		return models.AnswerUnknown, false, m.failure
	}
	a, ok := m.answers[cell{row: row, column: column}]
	return a, ok, nil
}

// Answer peeks at a stored answer without counting a call
func (m *MockDB) Answer(row, column int) (models.Answer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.answers[cell{row: row, column: column}]
	return a, ok
}

// Close does nothing for mock DB
func (m *MockDB) Close() error {
	return nil
}
