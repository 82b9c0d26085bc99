package domain

import (
	"time"
)

// QuestionType is the answer format of a question.
type QuestionType string

const (
	QuestionMCQ     QuestionType = "mcq"
	QuestionOpen    QuestionType = "open"
	QuestionBoolean QuestionType = "boolean"
)

// Question is a generated quiz question. ID is stable across regenerations;
// the content fields are replaced when a question is regenerated.
type Question struct {
	ID            string       `json:"id"`
	Type          QuestionType `json:"type"`
	Text          string       `json:"text"`
	Options       []string     `json:"options,omitempty"`
	CorrectAnswer string       `json:"correctAnswer"`
	Explanation   string       `json:"explanation"`
}

// QuizConfig holds the generation parameters chosen in the workspace.
type QuizConfig struct {
	Difficulty string       `json:"difficulty"`
	Count      int          `json:"count"`
	Type       QuestionType `json:"type"`
}

// DefaultQuizConfig is the configuration a fresh workspace starts with.
func DefaultQuizConfig() QuizConfig {
	return QuizConfig{Difficulty: "medium", Count: 5, Type: QuestionMCQ}
}

// SavedQuiz is a quiz the user kept in their library.
type SavedQuiz struct {
	ID            string     `json:"id" validate:"required"`
	MaterialID    string     `json:"materialId"`
	MaterialTitle string     `json:"materialTitle"`
	ServerQuizID  string     `json:"serverQuizId,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	Config        QuizConfig `json:"config"`
	Questions     []Question `json:"questions" validate:"required"`
}

// Validate checks the quiz shape after decoding.
func (q *SavedQuiz) Validate() error {
	return validate.Struct(q)
}

// NewQuiz is the caller-provided part of a SavedQuiz.
type NewQuiz struct {
	MaterialID    string     `json:"materialId" validate:"required"`
	MaterialTitle string     `json:"materialTitle"`
	ServerQuizID  string     `json:"serverQuizId,omitempty"`
	Config        QuizConfig `json:"config"`
	Questions     []Question `json:"questions"`
}

// Validate checks a save request.
func (n *NewQuiz) Validate() error {
	return validate.Struct(n)
}
