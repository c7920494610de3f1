package realtime

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/proctorly/examlive-backend/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionJoinExam      Action = "join-exam"
	ActionSubmitAnswer  Action = "submit-answer"
	ActionMarkReview    Action = "mark-review"
	ActionProctoring    Action = "proctoring-event"
	ActionSubmitExam    Action = "submit-exam"
	ActionAdminJoinExam Action = "admin-join-exam"
	ActionHeartbeat     Action = "heartbeat"
)

// ClientMessage is the inbound envelope. Fields beyond Action are populated
// depending on the action; unknown extras are ignored.
type ClientMessage struct {
	Action     Action          `json:"action"`
	ExamID     string          `json:"exam_id,omitempty"`
	AttemptID  string          `json:"attempt_id,omitempty"`
	QuestionID string          `json:"question_id,omitempty"`
	Answer     *string         `json:"answer,omitempty"`
	TimeSpent  int             `json:"time_spent,omitempty"`
	IsMarked   bool            `json:"is_marked,omitempty"`
	EventType  string          `json:"event_type,omitempty"`
	Details    json.RawMessage `json:"details,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventExamJoined         Event = "exam-joined"
	EventAnswerSubmitted    Event = "answer-submitted"
	EventReviewMarked       Event = "review-marked"
	EventCountdownUpdate    Event = "countdown-update"
	EventExamTimeout        Event = "exam-timeout"
	EventExamSubmitted      Event = "exam-submitted"
	EventSuspiciousActivity Event = "suspicious-activity"
	EventAdminExamJoined    Event = "admin-exam-joined"
	EventHeartbeatAck       Event = "heartbeat-ack"
	EventError              Event = "error"
)

// Envelope is the outbound wire format.
type Envelope struct {
	Event Event       `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// ErrorData carries a per-event error surfaced to the originating client.
// Errors never close the connection.
type ErrorData struct {
	Message string `json:"message"`
}

// ExamJoinedData acknowledges a successful room join.
type ExamJoinedData struct {
	ExamID         uuid.UUID `json:"exam_id"`
	AttemptID      uuid.UUID `json:"attempt_id"`
	TimeRemaining  int       `json:"time_remaining"`
	TotalQuestions int       `json:"total_questions"`
}

// AnswerSubmittedData acknowledges a persisted answer update.
type AnswerSubmittedData struct {
	QuestionID uuid.UUID `json:"question_id"`
	Success    bool      `json:"success"`
}

// ReviewMarkedData acknowledges a review-flag toggle.
type ReviewMarkedData struct {
	QuestionID uuid.UUID `json:"question_id"`
	IsMarked   bool      `json:"is_marked"`
	Success    bool      `json:"success"`
}

// CountdownUpdateData is pushed each scheduler tick: per attempt to its
// owner, and exam-wide to the admin group.
type CountdownUpdateData struct {
	ExamID        uuid.UUID `json:"exam_id"`
	TimeRemaining int       `json:"time_remaining"`
	IsActive      bool      `json:"is_active"`
}

// ExamTimeoutData is sent directly to an attempt's owner when the countdown
// expires.
type ExamTimeoutData struct {
	ExamID    uuid.UUID `json:"exam_id"`
	AttemptID uuid.UUID `json:"attempt_id"`
}

// SuspiciousActivityData is broadcast to the exam's admin group when a
// high-severity proctoring event arrives.
type SuspiciousActivityData struct {
	UserID    uuid.UUID            `json:"user_id"`
	User      *model.PublicProfile `json:"user,omitempty"`
	EventType string               `json:"event_type"`
	Timestamp time.Time            `json:"timestamp"`
}

// Participant is one non-terminal attempt in an admin room snapshot.
type Participant struct {
	UserID        uuid.UUID `json:"user_id"`
	AttemptID     uuid.UUID `json:"attempt_id"`
	StartedAt     time.Time `json:"started_at"`
	TimeRemaining int       `json:"time_remaining"`
	AnsweredCount int       `json:"answered_count"`
}

// AdminExamJoinedData is the point-in-time snapshot returned on admin join.
// Subsequent updates arrive via group broadcasts, not this payload.
type AdminExamJoinedData struct {
	ExamID         uuid.UUID     `json:"exam_id"`
	Exam           *model.Exam   `json:"exam"`
	ActiveAttempts int           `json:"active_attempts"`
	Participants   []Participant `json:"participants"`
}
