package xlsx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/xuri/excelize/v2"

	"visitbot/internal/models"
	"visitbot/internal/storage"
)

// Sheet layout: column A holds the image URL, column B the question text,
// user answer columns follow. Row 1 is the header; user columns are keyed
// by the user key written into it.
const (
	ImageColumn = 1
	TextColumn  = 2
	HeaderRow   = 1

	DefaultSheet             = "Survey"
	DefaultFirstAnswerColumn = 3
)

// Workbook is a Storage backed by a local .xlsx file.
// The process that opens the workbook owns it; concurrent writers from other
// processes are not supported.
type Workbook struct {
	path              string
	sheet             string
	firstAnswerColumn int

	mu         sync.Mutex
	file       *excelize.File
	columns    map[models.UserKey]int
	nextColumn int
}

// NewWorkbook creates a workbook backend. The file is opened (or created) by Initialize.
func NewWorkbook(path, sheet string, firstAnswerColumn int) *Workbook {
	if sheet == "" {
		sheet = DefaultSheet
	}
	if firstAnswerColumn == 0 {
		firstAnswerColumn = DefaultFirstAnswerColumn
	}
	return &Workbook{
		path:              path,
		sheet:             sheet,
		firstAnswerColumn: firstAnswerColumn,
		columns:           make(map[models.UserKey]int),
	}
}

// Initialize opens the workbook, creating it with a header row when missing
func (w *Workbook) Initialize(ctx context.Context) error {
	if w.firstAnswerColumn <= TextColumn {
		return fmt.Errorf("first answer column %d overlaps the question columns", w.firstAnswerColumn)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := w.open()
	if err != nil {
		return err
	}
	w.file = f

	return w.loadHeader()
}

func (w *Workbook) open() (*excelize.File, error) {
	if _, err := os.Stat(w.path); err == nil {
		f, err := excelize.OpenFile(w.path)
		if err != nil {
			return nil, fmt.Errorf("failed to open workbook %s: %w", w.path, err)
		}
		idx, err := f.GetSheetIndex(w.sheet)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to look up sheet %q: %w", w.sheet, err)
		}
		if idx == -1 {
			if _, err := f.NewSheet(w.sheet); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to create sheet %q: %w", w.sheet, err)
			}
			if err := w.writeQuestionHeader(f); err != nil {
				f.Close()
				return nil, err
			}
			if err := f.Save(); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to save workbook: %w", err)
			}
		}
		return f, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat workbook %s: %w", w.path, err)
	}

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", w.sheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to name sheet %q: %w", w.sheet, err)
	}
	if err := w.writeQuestionHeader(f); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.SaveAs(w.path); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create workbook %s: %w", w.path, err)
	}
	return f, nil
}

func (w *Workbook) writeQuestionHeader(f *excelize.File) error {
	for col, title := range map[int]string{ImageColumn: "image", TextColumn: "question"} {
		name, err := excelize.CoordinatesToCellName(col, HeaderRow)
		if err != nil {
			return err
		}
		if err := f.SetCellStr(w.sheet, name, title); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
	}
	return nil
}

// loadHeader indexes the user columns already present in the header row
func (w *Workbook) loadHeader() error {
	rows, err := w.file.GetRows(w.sheet)
	if err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}

	w.columns = make(map[models.UserKey]int)
	w.nextColumn = w.firstAnswerColumn
	if len(rows) < HeaderRow {
		return nil
	}

	header := rows[HeaderRow-1]
	for i := w.firstAnswerColumn - 1; i < len(header); i++ {
		key := strings.TrimSpace(header[i])
		if key == "" {
			continue
		}
		col := i + 1
		if _, dup := w.columns[models.UserKey(key)]; !dup {
			w.columns[models.UserKey(key)] = col
		}
		if col >= w.nextColumn {
			w.nextColumn = col + 1
		}
	}
	return nil
}

func (w *Workbook) cell(col, row int) (string, error) {
	name, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return "", fmt.Errorf("invalid cell %d/%d: %w", row, col, err)
	}
	return name, nil
}

func (w *Workbook) value(col, row int) (string, error) {
	name, err := w.cell(col, row)
	if err != nil {
		return "", err
	}
	v, err := w.file.GetCellValue(w.sheet, name)
	if err != nil {
		return "", fmt.Errorf("failed to read cell %s: %w", name, err)
	}
	return v, nil
}

// Question returns the question at row
func (w *Workbook) Question(ctx context.Context, row int) (models.Question, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return models.Question{}, storage.ErrNotInitialized
	}
	if row <= HeaderRow {
		return models.Question{Row: row}, nil
	}

	image, err := w.value(ImageColumn, row)
	if err != nil {
		return models.Question{}, err
	}
	text, err := w.value(TextColumn, row)
	if err != nil {
		return models.Question{}, err
	}
	return models.Question{
		Row:      row,
		ImageURL: strings.TrimSpace(image),
		Text:     text,
	}, nil
}

// LastRow returns the last non-empty row of the sheet
func (w *Workbook) LastRow(ctx context.Context) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, storage.ErrNotInitialized
	}
	rows, err := w.file.GetRows(w.sheet)
	if err != nil {
		return 0, fmt.Errorf("failed to read rows: %w", err)
	}
	return len(rows), nil
}

// ColumnFor returns the user's column, appending a header cell on first use
func (w *Workbook) ColumnFor(ctx context.Context, user models.UserKey) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, storage.ErrNotInitialized
	}
	if col, ok := w.columns[user]; ok {
		return col, nil
	}

	col := w.nextColumn
	name, err := w.cell(col, HeaderRow)
	if err != nil {
		return 0, err
	}
	if err := w.file.SetCellStr(w.sheet, name, user.String()); err != nil {
		return 0, fmt.Errorf("failed to write header for %s: %w", user, err)
	}
	if err := w.file.Save(); err != nil {
		// Keep the in-memory sheet in line with the file on disk
		_ = w.file.SetCellStr(w.sheet, name, "")
		return 0, fmt.Errorf("failed to save workbook: %w", err)
	}

	w.columns[user] = col
	w.nextColumn = col + 1
	return col, nil
}

// LookupColumn returns the user's column without allocating
func (w *Workbook) LookupColumn(ctx context.Context, user models.UserKey) (int, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, false, storage.ErrNotInitialized
	}
	col, ok := w.columns[user]
	return col, ok, nil
}

// Write stores the answer label in (row, column) and saves the workbook
func (w *Workbook) Write(ctx context.Context, row, column int, answer models.Answer) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return storage.ErrNotInitialized
	}
	if column < w.firstAnswerColumn {
		return fmt.Errorf("column %d is not an answer column", column)
	}
	name, err := w.cell(column, row)
	if err != nil {
		return err
	}

	previous, err := w.file.GetCellValue(w.sheet, name)
	if err != nil {
		return fmt.Errorf("failed to read cell %s: %w", name, err)
	}
	if err := w.file.SetCellStr(w.sheet, name, answer.Label()); err != nil {
		return fmt.Errorf("failed to write cell %s: %w", name, err)
	}
	if err := w.file.Save(); err != nil {
		_ = w.file.SetCellStr(w.sheet, name, previous)
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

// Read returns the answer stored in (row, column)
func (w *Workbook) Read(ctx context.Context, row, column int) (models.Answer, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return models.AnswerUnknown, false, storage.ErrNotInitialized
	}
	v, err := w.value(column, row)
	if err != nil {
		return models.AnswerUnknown, false, err
	}
	a, ok := models.ParseAnswerLabel(v)
	return a, ok, nil
}

// Close closes the workbook
func (w *Workbook) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
