package stubs

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"visitbot/internal/models"
)

// DefaultFirstRow is the row of the first question when a file omits row numbers
const DefaultFirstRow = 2

// QuestionFile models a YAML survey definition.
//
//	first_row: 2
//	questions:
//	  - text: Have you been to the Hermitage?
//	    image: https://example.com/hermitage.jpg
//	  - row: 5
//	    text: Have you been to Peterhof?
type QuestionFile struct {
	FirstRow  int            `yaml:"first_row"`
	Questions []QuestionItem `yaml:"questions"`
}

// QuestionItem is one row of a QuestionFile. Row 0 means "the row after the previous item".
type QuestionItem struct {
	Row   int    `yaml:"row,omitempty"`
	Image string `yaml:"image,omitempty"`
	Text  string `yaml:"text"`
}

// LoadQuestionsFile reads a YAML survey definition
func LoadQuestionsFile(path string) ([]models.Question, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read questions file: %w", err)
	}
	return ParseQuestions(data)
}

// ParseQuestions decodes a YAML survey definition into questions
func ParseQuestions(data []byte) ([]models.Question, error) {
	var file QuestionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode questions file: %w", err)
	}

	row := file.FirstRow
	if row <= 0 {
		row = DefaultFirstRow
	}

	questions := make([]models.Question, 0, len(file.Questions))
	last := 0
	for i, item := range file.Questions {
		if item.Row != 0 {
			row = item.Row
		}
		if row <= last {
			return nil, fmt.Errorf("question %d: row %d must be greater than %d", i+1, row, last)
		}
		last = row
		questions = append(questions, models.Question{
			Row:      row,
			ImageURL: item.Image,
			Text:     item.Text,
		})
		row++
	}
	return questions, nil
}

// SampleQuestions returns the built-in demo survey
func SampleQuestions() []models.Question {
	return []models.Question{
		{Row: 2, ImageURL: "https://via.placeholder.com/150", Text: "Question 1?"},
		{Row: 3, Text: "Question 2?"},
		{Row: 4, ImageURL: "https://via.placeholder.com/150", Text: "Question 3?"},
	}
}
