package survey

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"visitbot/internal/models"
	"visitbot/internal/progress"
	"visitbot/internal/storage/stubs"
)

// newTestEngine builds an engine over rows 2, 3 (blank) and 4
func newTestEngine(t *testing.T, policy Policy) (*Engine, *stubs.MockDB, *progress.MemoryStore) {
	t.Helper()
	db := stubs.NewMockDB(
		models.Question{Row: 2, ImageURL: "https://example.com/2.png", Text: "Have you been to Kazan?"},
		models.Question{Row: 3, Text: "   "},
		models.Question{Row: 4, Text: "Have you been to Sochi?"},
	)
	require.NoError(t, db.Initialize(context.Background()))
	store := progress.NewMemoryStore()
	engine := NewEngine(db, db, store, Options{FirstRow: 2, Policy: policy}, zap.NewNop())
	return engine, db, store
}

func TestEngine_ScenarioSkipsBlankRowAndCompletes(t *testing.T) {
	engine, db, store := newTestEngine(t, PolicyOverwrite)
	ctx := context.Background()
	user := models.UserKey("@alice")

	ins := engine.Begin(ctx, user)
	require.Equal(t, PresentQuestion, ins.Kind)
	assert.Equal(t, 2, ins.Question.Row)
	assert.Equal(t, "https://example.com/2.png", ins.Question.ImageURL)

	ins = engine.RecordAndAdvance(ctx, user, 2, models.AnswerBeen)
	require.Equal(t, PresentQuestion, ins.Kind)
	assert.Equal(t, 4, ins.Question.Row, "blank row 3 must be skipped")

	ins = engine.RecordAndAdvance(ctx, user, 4, models.AnswerWant)
	assert.Equal(t, SurveyComplete, ins.Kind)

	_, ok, err := store.Get(ctx, user)
	require.NoError(t, err)
	assert.False(t, ok, "completion must clear progress")

	col, ok, err := db.LookupColumn(ctx, user)
	require.NoError(t, err)
	require.True(t, ok)
	a, ok := db.Answer(2, col)
	assert.True(t, ok)
	assert.Equal(t, models.AnswerBeen, a)
	a, ok = db.Answer(4, col)
	assert.True(t, ok)
	assert.Equal(t, models.AnswerWant, a)
	_, ok = db.Answer(3, col)
	assert.False(t, ok)
}

func TestEngine_RestartAfterBeginIsIdempotent(t *testing.T) {
	engine, _, _ := newTestEngine(t, PolicyOverwrite)
	ctx := context.Background()

	first := engine.Begin(ctx, "@alice")
	again := engine.Restart(ctx, "@alice")

	assert.Equal(t, first, again)
}

func TestEngine_RestartMovesBackwards(t *testing.T) {
	engine, _, store := newTestEngine(t, PolicyOverwrite)
	ctx := context.Background()

	engine.Begin(ctx, "@alice")
	engine.RecordAndAdvance(ctx, "@alice", 2, models.AnswerBeen)

	ins := engine.Restart(ctx, "@alice")
	require.Equal(t, PresentQuestion, ins.Kind)
	assert.Equal(t, 2, ins.Question.Row)

	row, ok, _ := store.Get(ctx, "@alice")
	assert.True(t, ok)
	assert.Equal(t, 2, row)
}

func TestEngine_RestartWithoutProgress(t *testing.T) {
	engine, _, _ := newTestEngine(t, PolicyOverwrite)

	ins := engine.Restart(context.Background(), "@new")
	require.Equal(t, PresentQuestion, ins.Kind)
	assert.Equal(t, 2, ins.Question.Row)
}

func TestEngine_PresentedRowsStrictlyIncrease(t *testing.T) {
	var questions []models.Question
	for row := 2; row <= 20; row++ {
		text := fmt.Sprintf("Question %d", row)
		if row%3 == 0 {
			text = ""
		}
		questions = append(questions, models.Question{Row: row, Text: text})
	}
	db := stubs.NewMockDB(questions...)
	engine := NewEngine(db, db, progress.NewMemoryStore(), Options{FirstRow: 2}, zap.NewNop())
	ctx := context.Background()

	var rows []int
	ins := engine.Begin(ctx, "@alice")
	for ins.Kind == PresentQuestion {
		rows = append(rows, ins.Question.Row)
		answer := models.Answers()[len(rows)%len(models.Answers())]
		ins = engine.RecordAndAdvance(ctx, "@alice", ins.Question.Row, answer)
	}
	assert.Equal(t, SurveyComplete, ins.Kind)

	require.NotEmpty(t, rows)
	for i, row := range rows {
		assert.NotZero(t, row%3, "blank row %d presented", row)
		if i > 0 {
			assert.Greater(t, row, rows[i-1])
		}
	}
	assert.Len(t, rows, 13)
}

func TestEngine_StaleRowDoesNotTouchAnswerStorage(t *testing.T) {
	engine, db, store := newTestEngine(t, PolicyOverwrite)
	ctx := context.Background()

	engine.Begin(ctx, "@alice")
	db.ResetCalls()

	ins := engine.RecordAndAdvance(ctx, "@alice", 4, models.AnswerBeen)
	assert.Equal(t, StaleInteraction, ins.Kind)
	assert.Equal(t, 0, db.Calls().AnswerCalls())

	row, ok, _ := store.Get(ctx, "@alice")
	assert.True(t, ok)
	assert.Equal(t, 2, row, "stale press must not move progress")
}

func TestEngine_AnswerWithoutProgressIsStale(t *testing.T) {
	engine, db, _ := newTestEngine(t, PolicyOverwrite)
	db.ResetCalls()

	ins := engine.RecordAndAdvance(context.Background(), "@ghost", 2, models.AnswerBeen)
	assert.Equal(t, StaleInteraction, ins.Kind)
	assert.Equal(t, 0, db.Calls().AnswerCalls())
}

func TestEngine_StaleAfterRestart(t *testing.T) {
	engine, db, _ := newTestEngine(t, PolicyOverwrite)
	ctx := context.Background()

	engine.Begin(ctx, "@alice")
	engine.RecordAndAdvance(ctx, "@alice", 2, models.AnswerBeen)
	engine.Restart(ctx, "@alice")
	db.ResetCalls()

	// Old keyboard for row 4 pressed after the restart
	ins := engine.RecordAndAdvance(ctx, "@alice", 4, models.AnswerNotBeen)
	assert.Equal(t, StaleInteraction, ins.Kind)
	assert.Equal(t, 0, db.Calls().AnswerCalls())
}

func TestEngine_BeginAfterCompletionMatchesNewUser(t *testing.T) {
	engine, _, _ := newTestEngine(t, PolicyOverwrite)
	ctx := context.Background()

	engine.Begin(ctx, "@alice")
	engine.RecordAndAdvance(ctx, "@alice", 2, models.AnswerBeen)
	done := engine.RecordAndAdvance(ctx, "@alice", 4, models.AnswerBeen)
	require.Equal(t, SurveyComplete, done.Kind)

	assert.Equal(t, engine.Begin(ctx, "@newcomer"), engine.Begin(ctx, "@alice"))
}

func TestEngine_FirstAnswerWins(t *testing.T) {
	engine, db, _ := newTestEngine(t, PolicyFirstAnswerWins)
	ctx := context.Background()

	engine.Begin(ctx, "@alice")
	ins := engine.RecordAndAdvance(ctx, "@alice", 2, models.AnswerBeen)
	require.Equal(t, PresentQuestion, ins.Kind)

	// Back to row 2 and answer differently
	engine.Restart(ctx, "@alice")
	ins = engine.RecordAndAdvance(ctx, "@alice", 2, models.AnswerNotBeen)

	require.Equal(t, AlreadyAnswered, ins.Kind)
	assert.Equal(t, models.AnswerBeen, ins.Existing)
	require.NotNil(t, ins.Next)
	assert.Equal(t, PresentQuestion, ins.Next.Kind)
	assert.Equal(t, 4, ins.Next.Question.Row, "progress still advances")

	col, _, _ := db.LookupColumn(ctx, "@alice")
	a, _ := db.Answer(2, col)
	assert.Equal(t, models.AnswerBeen, a, "storage keeps the first answer")
}

func TestEngine_FirstAnswerWinsOnLastRowCompletes(t *testing.T) {
	engine, _, store := newTestEngine(t, PolicyFirstAnswerWins)
	ctx := context.Background()

	engine.Begin(ctx, "@alice")
	engine.RecordAndAdvance(ctx, "@alice", 2, models.AnswerBeen)
	engine.RecordAndAdvance(ctx, "@alice", 4, models.AnswerWant)
	engine.Restart(ctx, "@alice")
	engine.RecordAndAdvance(ctx, "@alice", 2, models.AnswerBeen)

	ins := engine.RecordAndAdvance(ctx, "@alice", 4, models.AnswerSkipped)
	require.Equal(t, AlreadyAnswered, ins.Kind)
	assert.Equal(t, models.AnswerWant, ins.Existing)
	require.NotNil(t, ins.Next)
	assert.Equal(t, SurveyComplete, ins.Next.Kind)

	_, ok, _ := store.Get(ctx, "@alice")
	assert.False(t, ok)
}

func TestEngine_OverwritePolicyReplacesAnswer(t *testing.T) {
	engine, db, _ := newTestEngine(t, PolicyOverwrite)
	ctx := context.Background()

	engine.Begin(ctx, "@alice")
	engine.RecordAndAdvance(ctx, "@alice", 2, models.AnswerBeen)
	engine.Restart(ctx, "@alice")
	ins := engine.RecordAndAdvance(ctx, "@alice", 2, models.AnswerNotBeen)
	assert.Equal(t, PresentQuestion, ins.Kind)

	col, _, _ := db.LookupColumn(ctx, "@alice")
	a, _ := db.Answer(2, col)
	assert.Equal(t, models.AnswerNotBeen, a)
}

func TestEngine_UnknownAnswerIsRecorded(t *testing.T) {
	engine, db, _ := newTestEngine(t, PolicyOverwrite)
	ctx := context.Background()

	engine.Begin(ctx, "@alice")
	ins := engine.RecordAndAdvance(ctx, "@alice", 2, models.DecodeAnswer("maybe"))
	assert.Equal(t, PresentQuestion, ins.Kind)

	col, _, _ := db.LookupColumn(ctx, "@alice")
	a, ok := db.Answer(2, col)
	assert.True(t, ok)
	assert.Equal(t, models.AnswerUnknown, a)
}

func TestEngine_NoQuestionsAvailable(t *testing.T) {
	db := stubs.NewMockDB(models.Question{Row: 2, Text: ""}, models.Question{Row: 3, Text: " "})
	store := progress.NewMemoryStore()
	engine := NewEngine(db, db, store, Options{FirstRow: 2}, zap.NewNop())
	ctx := context.Background()

	assert.Equal(t, NoQuestionsAvailable, engine.Begin(ctx, "@alice").Kind)
	_, ok, _ := store.Get(ctx, "@alice")
	assert.False(t, ok)

	assert.Equal(t, NoQuestionsAvailable, engine.Restart(ctx, "@alice").Kind)
}

func TestEngine_FirstRowOption(t *testing.T) {
	db := stubs.NewMockDB(
		models.Question{Row: 1, Text: "Header-like row"},
		models.Question{Row: 2, Text: "Real question"},
	)
	engine := NewEngine(db, db, progress.NewMemoryStore(), Options{}, zap.NewNop())

	ins := engine.Begin(context.Background(), "@alice")
	require.Equal(t, PresentQuestion, ins.Kind)
	assert.Equal(t, DefaultFirstRow, ins.Question.Row)
}

func TestEngine_StorageUnavailableLeavesProgress(t *testing.T) {
	engine, db, store := newTestEngine(t, PolicyOverwrite)
	ctx := context.Background()
	boom := errors.New("429 rate limited")

	engine.Begin(ctx, "@alice")
	db.FailWith(boom)

	ins := engine.RecordAndAdvance(ctx, "@alice", 2, models.AnswerBeen)
	assert.Equal(t, StorageUnavailable, ins.Kind)
	assert.ErrorIs(t, ins.Err, boom)

	row, ok, _ := store.Get(ctx, "@alice")
	assert.True(t, ok)
	assert.Equal(t, 2, row)

	ins = engine.Restart(ctx, "@alice")
	assert.Equal(t, StorageUnavailable, ins.Kind)
	row, ok, _ = store.Get(ctx, "@alice")
	assert.True(t, ok)
	assert.Equal(t, 2, row, "failed restart must keep progress")

	assert.Equal(t, StorageUnavailable, engine.Begin(ctx, "@bob").Kind)
	_, ok, _ = store.Get(ctx, "@bob")
	assert.False(t, ok)

	// Retrying the same interaction once storage recovers succeeds
	db.FailWith(nil)
	ins = engine.RecordAndAdvance(ctx, "@alice", 2, models.AnswerBeen)
	require.Equal(t, PresentQuestion, ins.Kind)
	assert.Equal(t, 4, ins.Question.Row)
}

type failingStore struct {
	progress.Store
	err error
}

func (f failingStore) Get(ctx context.Context, user models.UserKey) (int, bool, error) {
	return 0, false, f.err
}

func TestEngine_ProgressStoreFailure(t *testing.T) {
	db := stubs.NewMockDB(models.Question{Row: 2, Text: "Q"})
	boom := errors.New("progress backend down")
	engine := NewEngine(db, db, failingStore{Store: progress.NewMemoryStore(), err: boom}, Options{FirstRow: 2}, zap.NewNop())

	ins := engine.RecordAndAdvance(context.Background(), "@alice", 2, models.AnswerBeen)
	assert.Equal(t, StorageUnavailable, ins.Kind)
	assert.ErrorIs(t, ins.Err, boom)
	assert.Equal(t, 0, db.Calls().AnswerCalls())

	_, err := engine.Current(context.Background(), "@alice")
	assert.ErrorIs(t, err, boom)
}

// lastRowFailing serves questions from db but fails LastRow once armed
type lastRowFailing struct {
	*stubs.MockDB
	err error
}

func (f *lastRowFailing) LastRow(ctx context.Context) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.MockDB.LastRow(ctx)
}

func TestEngine_FailedLookupStoresNoAnswer(t *testing.T) {
	db := stubs.NewMockDB(
		models.Question{Row: 2, Text: "Have you been to Kazan?"},
		models.Question{Row: 4, Text: "Have you been to Sochi?"},
	)
	require.NoError(t, db.Initialize(context.Background()))
	source := &lastRowFailing{MockDB: db}
	store := progress.NewMemoryStore()
	engine := NewEngine(source, db, store, Options{FirstRow: 2, Policy: PolicyFirstAnswerWins}, zap.NewNop())
	ctx := context.Background()

	require.Equal(t, PresentQuestion, engine.Begin(ctx, "@alice").Kind)

	boom := errors.New("last row lookup failed")
	source.err = boom
	ins := engine.RecordAndAdvance(ctx, "@alice", 2, models.AnswerBeen)
	assert.Equal(t, StorageUnavailable, ins.Kind)
	assert.ErrorIs(t, ins.Err, boom)

	column, err := db.ColumnFor(ctx, "@alice")
	require.NoError(t, err)
	_, stored := db.Answer(2, column)
	assert.False(t, stored, "failed interaction must not store the answer")

	row, ok, _ := store.Get(ctx, "@alice")
	assert.True(t, ok)
	assert.Equal(t, 2, row)

	// The retry is a fresh answer, not a repeat of the failed one
	source.err = nil
	ins = engine.RecordAndAdvance(ctx, "@alice", 2, models.AnswerWant)
	require.Equal(t, PresentQuestion, ins.Kind)
	assert.Equal(t, 4, ins.Question.Row)

	answer, stored := db.Answer(2, column)
	assert.True(t, stored)
	assert.Equal(t, models.AnswerWant, answer)
}

func TestEngine_Current(t *testing.T) {
	engine, _, _ := newTestEngine(t, PolicyOverwrite)
	ctx := context.Background()

	state, err := engine.Current(ctx, "@alice")
	require.NoError(t, err)
	assert.False(t, state.Started)

	engine.Begin(ctx, "@alice")
	engine.RecordAndAdvance(ctx, "@alice", 2, models.AnswerBeen)

	state, err = engine.Current(ctx, "@alice")
	require.NoError(t, err)
	assert.True(t, state.Started)
	assert.Equal(t, 4, state.Row)
	assert.Equal(t, "Have you been to Sochi?", state.Question.Text)
	assert.Equal(t, 4, state.Question.Row)
}

func TestEngine_ConcurrentUsersAreIndependent(t *testing.T) {
	engine, db, store := newTestEngine(t, PolicyOverwrite)
	ctx := context.Background()

	users := []models.UserKey{"@alice", "@bob", "id_42", "id_43"}
	var wg sync.WaitGroup
	for _, user := range users {
		wg.Add(1)
		go func(user models.UserKey) {
			defer wg.Done()
			engine.Begin(ctx, user)
			engine.RecordAndAdvance(ctx, user, 2, models.AnswerBeen)
		}(user)
	}
	wg.Wait()

	columns := make(map[int]models.UserKey)
	for _, user := range users {
		col, ok, err := db.LookupColumn(ctx, user)
		require.NoError(t, err)
		require.True(t, ok)
		_, dup := columns[col]
		assert.False(t, dup, "column %d allocated twice", col)
		columns[col] = user

		row, ok, _ := store.Get(ctx, user)
		assert.True(t, ok)
		assert.Equal(t, 4, row)
	}
}

func TestEngine_ConcurrentPressesForSameUserAdvanceOnce(t *testing.T) {
	engine, db, store := newTestEngine(t, PolicyOverwrite)
	ctx := context.Background()
	engine.Begin(ctx, "@alice")

	var wg sync.WaitGroup
	results := make([]Instruction, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = engine.RecordAndAdvance(ctx, "@alice", 2, models.AnswerBeen)
		}(i)
	}
	wg.Wait()

	presented := 0
	for _, ins := range results {
		switch ins.Kind {
		case PresentQuestion:
			presented++
		case StaleInteraction:
		default:
			t.Errorf("unexpected instruction %s", ins)
		}
	}
	assert.Equal(t, 1, presented)
	assert.Equal(t, 1, db.Calls().Write)

	row, _, _ := store.Get(ctx, "@alice")
	assert.Equal(t, 4, row)
}

func TestEngine_LogsStorageFailures(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	db := stubs.NewMockDB(models.Question{Row: 2, Text: "Q"})
	db.FailWith(errors.New("offline"))
	engine := NewEngine(db, db, progress.NewMemoryStore(), Options{FirstRow: 2}, zap.New(core))

	engine.Begin(context.Background(), "@alice")

	entries := logs.FilterMessage("Survey storage unavailable").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "@alice", entries[0].ContextMap()["user"])
	assert.Equal(t, "begin", entries[0].ContextMap()["op"])
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyOverwrite, p)

	p, err = ParsePolicy("first_answer_wins")
	require.NoError(t, err)
	assert.Equal(t, PolicyFirstAnswerWins, p)

	p, err = ParsePolicy("First-Answer-Wins")
	require.NoError(t, err)
	assert.Equal(t, PolicyFirstAnswerWins, p)

	_, err = ParsePolicy("last")
	assert.Error(t, err)
}

func TestInstruction_String(t *testing.T) {
	next := Instruction{Kind: SurveyComplete}
	ins := Instruction{Kind: AlreadyAnswered, Existing: models.AnswerWant, Next: &next}
	assert.Equal(t, "already_answered(want) then survey_complete", ins.String())
	assert.Equal(t, "present_question(4)", present(models.Question{Row: 4}).String())
}
