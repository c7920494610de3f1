package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/proctorly/examlive-backend/internal/model"
	"github.com/proctorly/examlive-backend/internal/realtime"
)

// AttemptStore is the persistence collaborator for exam attempts. The
// Postgres implementation lives in repository.AttemptRepository; tests use
// in-memory fakes.
type AttemptStore interface {
	Get(ctx context.Context, id uuid.UUID) (*model.ExamAttempt, error)
	GetActiveByUserAndExam(ctx context.Context, userID, examID uuid.UUID) (*model.ExamAttempt, error)
	Create(ctx context.Context, a *model.ExamAttempt) error
	SaveAnswers(ctx context.Context, a *model.ExamAttempt) error
	IncrementTabSwitches(ctx context.Context, id uuid.UUID) error
	IncrementCopyPasteAttempts(ctx context.Context, id uuid.UUID) error
	Finalize(ctx context.Context, a *model.ExamAttempt) (bool, error)
	SetRanking(ctx context.Context, id uuid.UUID, rank, percentile int) error
	ListTerminalByExam(ctx context.Context, examID uuid.UUID) ([]model.ExamAttempt, error)
	ListActiveByExam(ctx context.Context, examID uuid.UUID) ([]model.ExamAttempt, error)
}

// Notifier delivers events to connected clients, best effort. Implemented
// by realtime.Registry.
type Notifier interface {
	SendTo(userID uuid.UUID, ev realtime.Envelope) bool
	Broadcast(group string, ev realtime.Envelope)
}
