package models

import (
	"fmt"
	"strings"
)

// Question represents one survey row
type Question struct {
	Row      int
	ImageURL string
	Text     string
}

// IsBlank reports whether the row carries no question and must be skipped
func (q Question) IsBlank() bool {
	return strings.TrimSpace(q.Text) == ""
}

// UserKey identifies a survey participant: "@handle" or "id_<numeric>"
type UserKey string

// NewUserKey builds the key from a Telegram username and numeric ID.
// The handle wins when present.
func NewUserKey(username string, id int64) UserKey {
	if username = strings.TrimPrefix(strings.TrimSpace(username), "@"); username != "" {
		return UserKey("@" + username)
	}
	return UserKey(fmt.Sprintf("id_%d", id))
}

func (k UserKey) String() string {
	return string(k)
}

// Answer is one of the fixed answer categories
type Answer int

const (
	AnswerUnknown Answer = iota
	AnswerBeen
	AnswerNotBeen
	AnswerWant
	AnswerSkipped
)

var answerTokens = map[Answer]string{
	AnswerUnknown: "unknown",
	AnswerBeen:    "been",
	AnswerNotBeen: "not_been",
	AnswerWant:    "want",
	AnswerSkipped: "skip",
}

var answerLabels = map[Answer]string{
	AnswerUnknown: "Unknown",
	AnswerBeen:    "Been",
	AnswerNotBeen: "Not been",
	AnswerWant:    "Want to visit",
	AnswerSkipped: "Skipped",
}

// Answers lists the categories offered to users, in keyboard order
func Answers() []Answer {
	return []Answer{AnswerBeen, AnswerNotBeen, AnswerWant, AnswerSkipped}
}

// Token returns the callback token of the answer
func (a Answer) Token() string {
	if t, ok := answerTokens[a]; ok {
		return t
	}
	return answerTokens[AnswerUnknown]
}

// Label returns the value written into the answer sheet
func (a Answer) Label() string {
	if l, ok := answerLabels[a]; ok {
		return l
	}
	return answerLabels[AnswerUnknown]
}

func (a Answer) String() string {
	return a.Label()
}

// DecodeAnswer maps a callback token to an Answer.
// Unrecognized tokens decode to AnswerUnknown.
func DecodeAnswer(token string) Answer {
	token = strings.ToLower(strings.TrimSpace(token))
	for a, t := range answerTokens {
		if t == token && a != AnswerUnknown {
			return a
		}
	}
	return AnswerUnknown
}

// ParseAnswerLabel maps a stored sheet value back to an Answer.
// ok is false for blank cells.
func ParseAnswerLabel(label string) (Answer, bool) {
	label = strings.TrimSpace(label)
	if label == "" {
		return AnswerUnknown, false
	}
	for a, l := range answerLabels {
		if strings.EqualFold(l, label) {
			return a, true
		}
	}
	return AnswerUnknown, true
}
