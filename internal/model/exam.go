package model

import (
	"time"

	"github.com/google/uuid"
)

// Exam is a read-only exam definition. The live session coordinator never
// mutates it; authoring happens through a separate admin surface.
type Exam struct {
	ID              uuid.UUID  `json:"id"`
	Title           string     `json:"title"`
	DurationSeconds int        `json:"duration_seconds"`
	ScheduledStart  *time.Time `json:"scheduled_start,omitempty"`
	ScheduledEnd    *time.Time `json:"scheduled_end,omitempty"`
	IsActive        bool       `json:"is_active"`
	QuestionCount   int        `json:"question_count"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Duration returns the configured exam duration.
func (e *Exam) Duration() time.Duration {
	return time.Duration(e.DurationSeconds) * time.Second
}

// EndsAt returns the wall-clock moment the exam window closes: the explicit
// scheduled end when set, otherwise scheduled start plus duration.
func (e *Exam) EndsAt() (time.Time, bool) {
	if e.ScheduledEnd != nil {
		return *e.ScheduledEnd, true
	}
	if e.ScheduledStart != nil {
		return e.ScheduledStart.Add(e.Duration()), true
	}
	return time.Time{}, false
}

// InActiveWindow reports whether now falls inside the exam's active window.
// An exam with no schedule is open whenever its active flag is set.
func (e *Exam) InActiveWindow(now time.Time) bool {
	if !e.IsActive {
		return false
	}
	if e.ScheduledStart != nil && now.Before(*e.ScheduledStart) {
		return false
	}
	if end, ok := e.EndsAt(); ok && now.After(end) {
		return false
	}
	return true
}
