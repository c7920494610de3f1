package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/proctorly/examlive-backend/internal/model"
)

// RelayService applies single-question mutations to an attempt under
// serialized per-attempt access. A client firing rapid answer and review
// events back to back never loses an update: last writer wins per question,
// and every accepted call is persisted before it is acknowledged.
type RelayService struct {
	attempts AttemptStore
	locks    *AttemptLock
	log      zerolog.Logger
}

// NewRelayService creates a new RelayService.
func NewRelayService(attempts AttemptStore, locks *AttemptLock, log zerolog.Logger) *RelayService {
	return &RelayService{
		attempts: attempts,
		locks:    locks,
		log:      log.With().Str("component", "answer_relay").Logger(),
	}
}

// SubmitAnswer upserts the answer entry for a question. The question id is
// not required to pre-exist in the attempt; the answer shape is opaque.
func (s *RelayService) SubmitAnswer(ctx context.Context, attemptID, questionID uuid.UUID, answer *string, timeSpentSeconds int) error {
	return s.mutate(ctx, attemptID, func(a *model.ExamAttempt) {
		a.UpsertAnswer(questionID, answer, timeSpentSeconds)
	})
}

// MarkForReview toggles the review flag independent of the answer value.
func (s *RelayService) MarkForReview(ctx context.Context, attemptID, questionID uuid.UUID, isMarked bool) error {
	return s.mutate(ctx, attemptID, func(a *model.ExamAttempt) {
		a.SetReviewFlag(questionID, isMarked)
	})
}

func (s *RelayService) mutate(ctx context.Context, attemptID uuid.UUID, apply func(*model.ExamAttempt)) error {
	s.locks.Lock(attemptID)
	defer s.locks.Unlock(attemptID)

	attempt, err := s.attempts.Get(ctx, attemptID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("load attempt: %w", err)
	}
	if attempt.Status.IsTerminal() {
		return ErrNoActiveAttempt
	}

	apply(attempt)
	if attempt.Status == model.AttemptStatusStarted {
		attempt.Status = model.AttemptStatusInProgress
	}

	if err := s.attempts.SaveAnswers(ctx, attempt); err != nil {
		return fmt.Errorf("persist answers: %w", err)
	}
	return nil
}
