package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/proctorly/examlive-backend/internal/model"
)

// AttemptService starts exam attempts and exposes finalized results.
type AttemptService struct {
	attempts AttemptStore
	catalog  *CatalogService
	log      zerolog.Logger
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(attempts AttemptStore, catalog *CatalogService, log zerolog.Logger) *AttemptService {
	return &AttemptService{
		attempts: attempts,
		catalog:  catalog,
		log:      log.With().Str("component", "attempt_service").Logger(),
	}
}

// Start returns the student's active attempt for the exam, creating one if
// none exists. A student holds at most one active attempt per exam; the
// database enforces this, so concurrent starts converge on the same row.
func (s *AttemptService) Start(ctx context.Context, userID, examID uuid.UUID) (*model.ExamAttempt, error) {
	exam, err := s.catalog.GetExam(ctx, examID)
	if err != nil {
		return nil, ErrNotFound
	}
	if !exam.InActiveWindow(time.Now()) {
		return nil, ErrExamNotAvailable
	}

	attempt, err := s.attempts.GetActiveByUserAndExam(ctx, userID, examID)
	if err == nil {
		return attempt, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("lookup active attempt: %w", err)
	}

	attempt = &model.ExamAttempt{
		ExamID:  examID,
		UserID:  userID,
		Status:  model.AttemptStatusStarted,
		Answers: []model.Answer{},
	}
	err = s.attempts.Create(ctx, attempt)
	if errors.Is(err, pgx.ErrNoRows) {
		// Another connection created the attempt between lookup and insert.
		return s.attempts.GetActiveByUserAndExam(ctx, userID, examID)
	}
	if err != nil {
		return nil, fmt.Errorf("create attempt: %w", err)
	}

	s.log.Info().
		Str("attempt_id", attempt.ID.String()).
		Str("exam_id", examID.String()).
		Str("user_id", userID.String()).
		Msg("Attempt started")

	return attempt, nil
}

// GetResult returns the finalized result of the caller's own attempt.
func (s *AttemptService) GetResult(ctx context.Context, userID, attemptID uuid.UUID) (*SubmissionResult, error) {
	attempt, err := s.attempts.Get(ctx, attemptID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load attempt: %w", err)
	}
	if attempt.UserID != userID {
		return nil, ErrForbidden
	}
	if !attempt.Status.IsTerminal() {
		return nil, ErrResultNotReady
	}
	return resultOf(attempt), nil
}

// Leaderboard returns the exam's terminal attempts ordered by score with
// earlier submission breaking ties.
func (s *AttemptService) Leaderboard(ctx context.Context, examID uuid.UUID) ([]model.ExamAttempt, error) {
	if _, err := s.catalog.GetExam(ctx, examID); err != nil {
		return nil, ErrNotFound
	}
	ranked, err := s.attempts.ListTerminalByExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	return ranked, nil
}
