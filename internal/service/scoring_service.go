package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/proctorly/examlive-backend/internal/model"
	"github.com/proctorly/examlive-backend/internal/realtime"
)

// QuestionSource looks up an exam's questions with their scoring rules.
// Implemented by repository.QuestionRepository.
type QuestionSource interface {
	ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Question, error)
}

// RoomLeaver detaches a finalized attempt's owner from the exam room.
// Implemented by realtime.RoomManager.
type RoomLeaver interface {
	Leave(userID, examID uuid.UUID)
}

// FinalizeCause distinguishes manual submission from scheduler-driven expiry.
type FinalizeCause string

const (
	FinalizeManual  FinalizeCause = "manual"
	FinalizeTimeout FinalizeCause = "timeout"
)

func (c FinalizeCause) status() model.AttemptStatus {
	if c == FinalizeTimeout {
		return model.AttemptStatusTimeout
	}
	return model.AttemptStatusSubmitted
}

// SubmissionResult is the outcome of one finalization.
type SubmissionResult struct {
	TotalScore       float64 `json:"total_score"`
	MaxScore         float64 `json:"max_score"`
	Percentage       int     `json:"percentage"`
	Rank             int     `json:"rank"`
	Percentile       int     `json:"percentile"`
	TimeSpentSeconds int     `json:"time_spent_seconds"`
}

// ScoringService finalizes attempts exactly once: it scores every answered
// question, writes totals, and snapshots rank and percentile across the
// exam's terminal attempts at the moment of submission. The snapshot is
// never recomputed for past submitters when the leaderboard later changes.
type ScoringService struct {
	attempts  AttemptStore
	questions QuestionSource
	rooms     RoomLeaver
	notifier  Notifier
	locks     *AttemptLock
	log       zerolog.Logger
}

// NewScoringService creates a new ScoringService.
func NewScoringService(attempts AttemptStore, questions QuestionSource, rooms RoomLeaver, notifier Notifier, locks *AttemptLock, log zerolog.Logger) *ScoringService {
	return &ScoringService{
		attempts:  attempts,
		questions: questions,
		rooms:     rooms,
		notifier:  notifier,
		locks:     locks,
		log:       log.With().Str("component", "scoring_engine").Logger(),
	}
}

// Submit finalizes the attempt and returns its result. Finalization is
// idempotent: a second call on a terminal attempt returns the previously
// computed result without recomputing anything. The one exception is an
// attempt left unranked by an earlier ranking failure, which the retry
// ranks and delivers.
func (s *ScoringService) Submit(ctx context.Context, attemptID uuid.UUID, cause FinalizeCause) (*SubmissionResult, error) {
	s.locks.Lock(attemptID)
	defer s.locks.Unlock(attemptID)

	attempt, err := s.attempts.Get(ctx, attemptID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load attempt: %w", err)
	}
	if attempt.Status.IsTerminal() {
		if attempt.Rank == 0 {
			// A ranking failure after finalization left the attempt
			// terminal but unranked and its result undelivered. The
			// retry repairs both.
			return s.completeFinalized(ctx, attempt, cause)
		}
		return resultOf(attempt), nil
	}

	questions, err := s.questions.ListByExam(ctx, attempt.ExamID)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	s.score(attempt, questions)

	now := time.Now()
	attempt.Status = cause.status()
	attempt.SubmittedAt = &now
	attempt.EndedAt = &now

	applied, err := s.attempts.Finalize(ctx, attempt)
	if err != nil {
		return nil, fmt.Errorf("finalize attempt: %w", err)
	}
	if !applied {
		// Lost the finalization race; the winner's result stands.
		attempt, err = s.attempts.Get(ctx, attemptID)
		if err != nil {
			return nil, fmt.Errorf("reload finalized attempt: %w", err)
		}
		return resultOf(attempt), nil
	}

	return s.completeFinalized(ctx, attempt, cause)
}

// completeFinalized ranks a terminal attempt, delivers the result to its
// owner, and detaches them from the exam room.
func (s *ScoringService) completeFinalized(ctx context.Context, attempt *model.ExamAttempt, cause FinalizeCause) (*SubmissionResult, error) {
	if err := s.rankAttempt(ctx, attempt); err != nil {
		return nil, err
	}

	result := resultOf(attempt)

	s.notifier.SendTo(attempt.UserID, realtime.Envelope{
		Event: realtime.EventExamSubmitted,
		Data:  result,
	})
	s.rooms.Leave(attempt.UserID, attempt.ExamID)

	s.log.Info().
		Str("attempt_id", attempt.ID.String()).
		Str("cause", string(cause)).
		Float64("total_score", attempt.TotalScore).
		Int("rank", attempt.Rank).
		Msg("Attempt finalized")

	return result, nil
}

// score applies each question's scoring rule to the attempt's answers:
// correct → +marks, incorrect → −negativeMarks, unanswered → 0.
func (s *ScoringService) score(attempt *model.ExamAttempt, questions []model.Question) {
	byID := make(map[uuid.UUID]*model.Question, len(questions))
	maxScore := 0.0
	for i := range questions {
		byID[questions[i].ID] = &questions[i]
		maxScore += questions[i].Marks
	}

	total := 0.0
	for i := range attempt.Answers {
		entry := &attempt.Answers[i]
		entry.Score = 0
		entry.IsCorrect = false

		if entry.Answer == nil {
			continue
		}
		q, ok := byID[entry.QuestionID]
		if !ok {
			continue
		}
		entry.IsCorrect = q.IsCorrect(*entry.Answer)
		entry.Score = q.CalculateScore(*entry.Answer)
		total += entry.Score
	}

	attempt.TotalScore = total
	attempt.MaxScore = maxScore
	if maxScore > 0 {
		attempt.Percentage = int(math.Round(total / maxScore * 100))
	} else {
		attempt.Percentage = 0
	}
}

// rankAttempt recomputes the leaderboard over all terminal attempts and
// persists this attempt's one-time rank and percentile. The store returns
// attempts ordered by score descending with earlier submission breaking
// ties, so rank is the 1-based position.
func (s *ScoringService) rankAttempt(ctx context.Context, attempt *model.ExamAttempt) error {
	ranked, err := s.attempts.ListTerminalByExam(ctx, attempt.ExamID)
	if err != nil {
		return fmt.Errorf("list terminal attempts: %w", err)
	}

	n := len(ranked)
	for i := range ranked {
		if ranked[i].ID == attempt.ID {
			attempt.Rank = i + 1
			attempt.Percentile = int(math.Round(float64(n-attempt.Rank+1) / float64(n) * 100))
			break
		}
	}

	if err := s.attempts.SetRanking(ctx, attempt.ID, attempt.Rank, attempt.Percentile); err != nil {
		return fmt.Errorf("persist ranking: %w", err)
	}
	return nil
}

func resultOf(a *model.ExamAttempt) *SubmissionResult {
	return &SubmissionResult{
		TotalScore:       a.TotalScore,
		MaxScore:         a.MaxScore,
		Percentage:       a.Percentage,
		Rank:             a.Rank,
		Percentile:       a.Percentile,
		TimeSpentSeconds: int(a.TimeSpent(time.Now()).Seconds()),
	}
}
