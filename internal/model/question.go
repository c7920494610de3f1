package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Question is a single exam question with its scoring rule. The answer shape
// (MCQ key, numeric, integer) is opaque to the relay; correctness is decided
// here at finalization time.
type Question struct {
	ID            uuid.UUID       `json:"id"`
	ExamID        uuid.UUID       `json:"exam_id"`
	Position      int             `json:"position"`
	Prompt        string          `json:"prompt"`
	Options       json.RawMessage `json:"options"`
	CorrectAnswer string          `json:"correct_answer"`
	Marks         float64         `json:"marks"`
	NegativeMarks float64         `json:"negative_marks"`
}

// IsCorrect reports whether the given answer matches the scoring key.
func (q *Question) IsCorrect(answer string) bool {
	return answer == q.CorrectAnswer
}

// CalculateScore applies the question's scoring rule to an answer:
// correct → +marks, incorrect → −negativeMarks.
func (q *Question) CalculateScore(answer string) float64 {
	if q.IsCorrect(answer) {
		return q.Marks
	}
	return -q.NegativeMarks
}
