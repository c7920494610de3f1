package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates exam attempt states. Transitions are monotonic
// forward; only answer edits repeat while the attempt is active.
type AttemptStatus string

const (
	AttemptStatusStarted    AttemptStatus = "started"
	AttemptStatusInProgress AttemptStatus = "in_progress"
	AttemptStatusSubmitted  AttemptStatus = "submitted"
	AttemptStatusTimeout    AttemptStatus = "timeout"
	AttemptStatusCompleted  AttemptStatus = "completed"
)

// IsTerminal reports whether the status is final. Terminal attempts accept
// no further answer or review mutations.
func (s AttemptStatus) IsTerminal() bool {
	return s == AttemptStatusSubmitted || s == AttemptStatusTimeout || s == AttemptStatusCompleted
}

// TerminalStatuses lists every final attempt status, in the order used by
// ranking queries.
var TerminalStatuses = []AttemptStatus{
	AttemptStatusSubmitted,
	AttemptStatusTimeout,
	AttemptStatusCompleted,
}

// Answer is one per-question entry of an attempt. Entries are owned
// exclusively by the attempt and mutated only through the answer relay.
type Answer struct {
	QuestionID        uuid.UUID `json:"question_id"`
	Answer            *string   `json:"answer"`
	IsMarkedForReview bool      `json:"is_marked_for_review"`
	TimeSpentSeconds  int       `json:"time_spent_seconds"`
	Score             float64   `json:"score"`
	IsCorrect         bool      `json:"is_correct"`
}

// ExamAttempt is one student's instance of taking an exam.
type ExamAttempt struct {
	ID     uuid.UUID     `json:"id"`
	ExamID uuid.UUID     `json:"exam_id"`
	UserID uuid.UUID     `json:"user_id"`
	Status AttemptStatus `json:"status"`

	// Answers are kept ordered by question position.
	Answers []Answer `json:"answers"`

	// Proctoring counters. Monotonically non-decreasing for the lifetime
	// of the attempt; the append-only event log lives in its own table.
	TabSwitches       int `json:"tab_switches"`
	CopyPasteAttempts int `json:"copy_paste_attempts"`

	// Computed exactly once at finalization; immutable afterward.
	TotalScore float64 `json:"total_score"`
	MaxScore   float64 `json:"max_score"`
	Percentage int     `json:"percentage"`
	Rank       int     `json:"rank"`
	Percentile int     `json:"percentile"`

	StartedAt   time.Time  `json:"started_at"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}

// FindAnswer returns the answer entry for the given question, or nil.
func (a *ExamAttempt) FindAnswer(questionID uuid.UUID) *Answer {
	for i := range a.Answers {
		if a.Answers[i].QuestionID == questionID {
			return &a.Answers[i]
		}
	}
	return nil
}

// UpsertAnswer records the answer value for a question, creating the entry
// if the question was not answered before. Last writer wins per question.
func (a *ExamAttempt) UpsertAnswer(questionID uuid.UUID, answer *string, timeSpentSeconds int) {
	if entry := a.FindAnswer(questionID); entry != nil {
		entry.Answer = answer
		entry.TimeSpentSeconds = timeSpentSeconds
		return
	}
	a.Answers = append(a.Answers, Answer{
		QuestionID:       questionID,
		Answer:           answer,
		TimeSpentSeconds: timeSpentSeconds,
	})
}

// SetReviewFlag toggles the review marker independent of the answer value.
func (a *ExamAttempt) SetReviewFlag(questionID uuid.UUID, isMarked bool) {
	if entry := a.FindAnswer(questionID); entry != nil {
		entry.IsMarkedForReview = isMarked
		return
	}
	a.Answers = append(a.Answers, Answer{
		QuestionID:        questionID,
		IsMarkedForReview: isMarked,
	})
}

// AnsweredCount returns the number of questions with a non-null answer.
func (a *ExamAttempt) AnsweredCount() int {
	n := 0
	for i := range a.Answers {
		if a.Answers[i].Answer != nil {
			n++
		}
	}
	return n
}

// TimeRemaining derives the countdown from the attempt's start time and the
// exam duration, clamped at zero. The reported value never exceeds
// duration minus elapsed.
func (a *ExamAttempt) TimeRemaining(exam *Exam, now time.Time) time.Duration {
	deadline := a.StartedAt.Add(exam.Duration())
	if end, ok := exam.EndsAt(); ok && end.Before(deadline) {
		deadline = end
	}
	remaining := deadline.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// TimeSpent returns the total wall-clock time of the attempt. For finalized
// attempts this is start to end; otherwise start to now.
func (a *ExamAttempt) TimeSpent(now time.Time) time.Duration {
	if a.EndedAt != nil {
		return a.EndedAt.Sub(a.StartedAt)
	}
	return now.Sub(a.StartedAt)
}
