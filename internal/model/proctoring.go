package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ProctoringEventType classifies client-reported integrity signals.
type ProctoringEventType string

const (
	ProctoringTabSwitch          ProctoringEventType = "tab-switch"
	ProctoringCopyPaste          ProctoringEventType = "copy-paste"
	ProctoringSuspiciousActivity ProctoringEventType = "suspicious-activity"
	ProctoringWebcamSnapshot     ProctoringEventType = "webcam-snapshot"
)

// ProctoringEvent is an append-only telemetry record. Rows are never
// rewritten; counters for tab switches and copy-paste live on the attempt.
type ProctoringEvent struct {
	ID         int64               `json:"id"`
	AttemptID  uuid.UUID           `json:"attempt_id"`
	ExamID     uuid.UUID           `json:"exam_id"`
	UserID     uuid.UUID           `json:"user_id"`
	Type       ProctoringEventType `json:"type"`
	Details    json.RawMessage     `json:"details,omitempty"`
	RecordedAt time.Time           `json:"recorded_at"`
}
