// Package quiz is the content data-access layer: quiz definitions, a
// bounded-TTL cache, and loaders (Postgres-backed with a hardcoded fallback).
// Content is read-only from the game's perspective; players never mutate it.
package quiz

import (
	"encoding/json"
	"fmt"
)

// QuestionType distinguishes constrained-choice from free-text questions.
type QuestionType string

const (
	TypeMCQ  QuestionType = "mcq"
	TypeText QuestionType = "text"
)

// AnswerSet holds the acceptable answers for a question. The stored form is
// either a single string or an array of phrasings; both decode into the set.
type AnswerSet []string

func (a *AnswerSet) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*a = AnswerSet{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("correctAnswer must be a string or array of strings: %w", err)
	}
	*a = AnswerSet(many)
	return nil
}

func (a AnswerSet) MarshalJSON() ([]byte, error) {
	if len(a) == 1 {
		return json.Marshal(a[0])
	}
	return json.Marshal([]string(a))
}

// Question is one prompt within a quiz.
type Question struct {
	ID   int          `json:"id"`
	Text string       `json:"text"`
	Type QuestionType `json:"type"`

	// Options is present iff Type is mcq.
	Options []string `json:"options,omitempty"`

	CorrectAnswers AnswerSet `json:"correctAnswer"`
}

// Quiz is an ordered sequence of questions plus display metadata.
type Quiz struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Questions   []Question `json:"questions"`
}

// QuestionAt returns the question at index, or false when out of range.
func (q Quiz) QuestionAt(index int) (Question, bool) {
	if index < 0 || index >= len(q.Questions) {
		return Question{}, false
	}
	return q.Questions[index], true
}
