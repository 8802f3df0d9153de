package survey

import (
	"fmt"
	"strings"

	"visitbot/internal/models"
)

// Kind is the outcome of an engine operation
type Kind int

const (
	PresentQuestion Kind = iota + 1
	AlreadyAnswered
	SurveyComplete
	NoQuestionsAvailable
	StaleInteraction
	StorageUnavailable
)

func (k Kind) String() string {
	switch k {
	case PresentQuestion:
		return "present_question"
	case AlreadyAnswered:
		return "already_answered"
	case SurveyComplete:
		return "survey_complete"
	case NoQuestionsAvailable:
		return "no_questions_available"
	case StaleInteraction:
		return "stale_interaction"
	case StorageUnavailable:
		return "storage_unavailable"
	default:
		return "unknown"
	}
}

// Instruction tells the transport what to send next
type Instruction struct {
	Kind Kind

	// Question is set for PresentQuestion
	Question models.Question

	// Existing is the stored answer for AlreadyAnswered
	Existing models.Answer

	// Next is the follow-up of an AlreadyAnswered instruction:
	// PresentQuestion or SurveyComplete
	Next *Instruction

	// Err is the collaborator failure behind StorageUnavailable
	Err error
}

func (i Instruction) String() string {
	switch i.Kind {
	case PresentQuestion:
		return fmt.Sprintf("%s(%d)", i.Kind, i.Question.Row)
	case AlreadyAnswered:
		s := fmt.Sprintf("%s(%s)", i.Kind, i.Existing.Token())
		if i.Next != nil {
			s += " then " + i.Next.String()
		}
		return s
	default:
		return i.Kind.String()
	}
}

func present(q models.Question) Instruction {
	return Instruction{Kind: PresentQuestion, Question: q}
}

func unavailable(err error) Instruction {
	return Instruction{Kind: StorageUnavailable, Err: err}
}

// Policy decides what happens when a row is answered twice
type Policy int

const (
	// PolicyOverwrite always writes the latest answer
	PolicyOverwrite Policy = iota
	// PolicyFirstAnswerWins keeps the first stored answer and reports it
	PolicyFirstAnswerWins
)

func (p Policy) String() string {
	if p == PolicyFirstAnswerWins {
		return "first_answer_wins"
	}
	return "overwrite"
}

// ParsePolicy decodes a policy name; empty means overwrite
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "overwrite":
		return PolicyOverwrite, nil
	case "first_answer_wins", "first-answer-wins":
		return PolicyFirstAnswerWins, nil
	default:
		return PolicyOverwrite, fmt.Errorf("unknown answer policy %q (expected overwrite or first_answer_wins)", s)
	}
}

// State is a user's position in the survey
type State struct {
	Started bool
	Row     int

	// Question is the pending question when Started
	Question models.Question
}
