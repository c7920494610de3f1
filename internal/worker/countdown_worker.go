package worker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/proctorly/examlive-backend/internal/model"
	"github.com/proctorly/examlive-backend/internal/realtime"
	"github.com/proctorly/examlive-backend/internal/service"
)

// ExamRooms exposes the set of exams with connected participants.
type ExamRooms interface {
	ActiveExamIDs() []uuid.UUID
}

// ExamLookup resolves exam definitions, usually through the catalog cache.
type ExamLookup interface {
	GetExam(ctx context.Context, examID uuid.UUID) (*model.Exam, error)
}

// ActiveAttemptLister lists an exam's non-terminal attempts.
type ActiveAttemptLister interface {
	ListActiveByExam(ctx context.Context, examID uuid.UUID) ([]model.ExamAttempt, error)
}

// AttemptFinalizer force-submits an expired attempt.
type AttemptFinalizer interface {
	Submit(ctx context.Context, attemptID uuid.UUID, cause service.FinalizeCause) (*service.SubmissionResult, error)
}

// CountdownWorker ticks once per interval over every exam room with
// connected participants, pushes the authoritative remaining time to each
// participant, and force-finalizes attempts whose countdown reached zero.
// The server clock is the only clock; client-reported time is never used.
type CountdownWorker struct {
	rooms    ExamRooms
	catalog  ExamLookup
	attempts ActiveAttemptLister
	scoring  AttemptFinalizer
	notifier service.Notifier
	interval time.Duration
	log      zerolog.Logger

	ticking atomic.Bool
}

func NewCountdownWorker(rooms ExamRooms, catalog ExamLookup, attempts ActiveAttemptLister, scoring AttemptFinalizer, notifier service.Notifier, interval time.Duration, log zerolog.Logger) *CountdownWorker {
	return &CountdownWorker{
		rooms:    rooms,
		catalog:  catalog,
		attempts: attempts,
		scoring:  scoring,
		notifier: notifier,
		interval: interval,
		log:      log.With().Str("component", "countdown_worker").Logger(),
	}
}

func (w *CountdownWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("CountdownWorker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("CountdownWorker stopping")
			return
		case <-ticker.C:
			// Skip the tick if the previous one is still running; a slow
			// database must not pile up concurrent sweeps.
			if !w.ticking.CompareAndSwap(false, true) {
				w.log.Warn().Msg("Previous tick still running, skipping")
				continue
			}
			w.Tick(ctx)
			w.ticking.Store(false)
		}
	}
}

// Tick sweeps every active exam room once. A failure in one exam is logged
// and never blocks the others.
func (w *CountdownWorker) Tick(ctx context.Context) {
	for _, examID := range w.rooms.ActiveExamIDs() {
		if err := w.sweepExam(ctx, examID); err != nil {
			w.log.Error().Err(err).Str("exam_id", examID.String()).Msg("Countdown sweep failed")
		}
	}
}

func (w *CountdownWorker) sweepExam(ctx context.Context, examID uuid.UUID) error {
	exam, err := w.catalog.GetExam(ctx, examID)
	if err != nil {
		return err
	}

	active, err := w.attempts.ListActiveByExam(ctx, examID)
	if err != nil {
		return err
	}

	now := time.Now()
	for i := range active {
		attempt := &active[i]
		remaining := attempt.TimeRemaining(exam, now)

		if remaining <= 0 {
			w.expire(ctx, attempt)
			continue
		}

		w.notifier.SendTo(attempt.UserID, realtime.Envelope{
			Event: realtime.EventCountdownUpdate,
			Data: realtime.CountdownUpdateData{
				ExamID:        examID,
				TimeRemaining: int(remaining.Seconds()),
				IsActive:      true,
			},
		})
	}

	// Admins watch the exam-level window, not any one attempt's clock.
	if end, ok := exam.EndsAt(); ok {
		examRemaining := end.Sub(now)
		if examRemaining < 0 {
			examRemaining = 0
		}
		w.notifier.Broadcast(realtime.AdminGroup(examID), realtime.Envelope{
			Event: realtime.EventCountdownUpdate,
			Data: realtime.CountdownUpdateData{
				ExamID:        examID,
				TimeRemaining: int(examRemaining.Seconds()),
				IsActive:      examRemaining > 0,
			},
		})
	}

	return nil
}

// expire notifies the owner and force-submits with the timeout cause. The
// finalizer is idempotent, so racing a concurrent manual submit is safe.
func (w *CountdownWorker) expire(ctx context.Context, attempt *model.ExamAttempt) {
	w.notifier.SendTo(attempt.UserID, realtime.Envelope{
		Event: realtime.EventExamTimeout,
		Data: realtime.ExamTimeoutData{
			ExamID:    attempt.ExamID,
			AttemptID: attempt.ID,
		},
	})

	if _, err := w.scoring.Submit(ctx, attempt.ID, service.FinalizeTimeout); err != nil {
		w.log.Error().Err(err).Str("attempt_id", attempt.ID.String()).Msg("Timeout finalization failed")
		return
	}

	w.log.Info().
		Str("attempt_id", attempt.ID.String()).
		Str("exam_id", attempt.ExamID.String()).
		Msg("Attempt expired and finalized")
}
