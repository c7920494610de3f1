package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proctorly/examlive-backend/internal/model"
	"github.com/proctorly/examlive-backend/internal/realtime"
	"github.com/proctorly/examlive-backend/internal/service"
)

type stubRooms struct{ ids []uuid.UUID }

func (s stubRooms) ActiveExamIDs() []uuid.UUID { return s.ids }

type stubLookup struct {
	exams map[uuid.UUID]*model.Exam
}

func (s stubLookup) GetExam(ctx context.Context, examID uuid.UUID) (*model.Exam, error) {
	e, ok := s.exams[examID]
	if !ok {
		return nil, errors.New("exam not found")
	}
	return e, nil
}

type stubLister struct {
	byExam map[uuid.UUID][]model.ExamAttempt
}

func (s stubLister) ListActiveByExam(ctx context.Context, examID uuid.UUID) ([]model.ExamAttempt, error) {
	return s.byExam[examID], nil
}

type recordingFinalizer struct {
	mu     sync.Mutex
	calls  []uuid.UUID
	causes []service.FinalizeCause
}

func (r *recordingFinalizer) Submit(ctx context.Context, attemptID uuid.UUID, cause service.FinalizeCause) (*service.SubmissionResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, attemptID)
	r.causes = append(r.causes, cause)
	return &service.SubmissionResult{}, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	sent   map[uuid.UUID][]realtime.Envelope
	groups map[string][]realtime.Envelope
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{
		sent:   make(map[uuid.UUID][]realtime.Envelope),
		groups: make(map[string][]realtime.Envelope),
	}
}

func (r *recordingNotifier) SendTo(userID uuid.UUID, ev realtime.Envelope) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent[userID] = append(r.sent[userID], ev)
	return true
}

func (r *recordingNotifier) Broadcast(group string, ev realtime.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups[group] = append(r.groups[group], ev)
}

func TestTickSendsRemainingTimePerAttempt(t *testing.T) {
	examID := uuid.New()
	exam := &model.Exam{ID: examID, DurationSeconds: 600, IsActive: true}

	attempt := model.ExamAttempt{
		ID:        uuid.New(),
		ExamID:    examID,
		UserID:    uuid.New(),
		Status:    model.AttemptStatusInProgress,
		StartedAt: time.Now().Add(-100 * time.Second),
	}

	finalizer := &recordingFinalizer{}
	notifier := newRecordingNotifier()
	w := NewCountdownWorker(
		stubRooms{ids: []uuid.UUID{examID}},
		stubLookup{exams: map[uuid.UUID]*model.Exam{examID: exam}},
		stubLister{byExam: map[uuid.UUID][]model.ExamAttempt{examID: {attempt}}},
		finalizer,
		notifier,
		time.Second,
		zerolog.Nop(),
	)

	w.Tick(context.Background())

	events := notifier.sent[attempt.UserID]
	require.Len(t, events, 1)
	assert.Equal(t, realtime.EventCountdownUpdate, events[0].Event)

	data, ok := events[0].Data.(realtime.CountdownUpdateData)
	require.True(t, ok)
	assert.Equal(t, examID, data.ExamID)
	assert.True(t, data.IsActive)
	// 600s duration, started 100s ago: remaining within [495, 500].
	assert.InDelta(t, 500, data.TimeRemaining, 5)

	assert.Empty(t, finalizer.calls, "an attempt with time left must not be finalized")
}

func TestTickFinalizesExpiredAttempts(t *testing.T) {
	examID := uuid.New()
	exam := &model.Exam{ID: examID, DurationSeconds: 60, IsActive: true}

	expired := model.ExamAttempt{
		ID:        uuid.New(),
		ExamID:    examID,
		UserID:    uuid.New(),
		Status:    model.AttemptStatusInProgress,
		StartedAt: time.Now().Add(-2 * time.Minute),
	}
	running := model.ExamAttempt{
		ID:        uuid.New(),
		ExamID:    examID,
		UserID:    uuid.New(),
		Status:    model.AttemptStatusInProgress,
		StartedAt: time.Now(),
	}

	finalizer := &recordingFinalizer{}
	notifier := newRecordingNotifier()
	w := NewCountdownWorker(
		stubRooms{ids: []uuid.UUID{examID}},
		stubLookup{exams: map[uuid.UUID]*model.Exam{examID: exam}},
		stubLister{byExam: map[uuid.UUID][]model.ExamAttempt{examID: {expired, running}}},
		finalizer,
		notifier,
		time.Second,
		zerolog.Nop(),
	)

	w.Tick(context.Background())

	require.Len(t, finalizer.calls, 1)
	assert.Equal(t, expired.ID, finalizer.calls[0])
	assert.Equal(t, service.FinalizeTimeout, finalizer.causes[0])

	events := notifier.sent[expired.UserID]
	require.Len(t, events, 1)
	assert.Equal(t, realtime.EventExamTimeout, events[0].Event)
	data, ok := events[0].Data.(realtime.ExamTimeoutData)
	require.True(t, ok)
	assert.Equal(t, expired.ID, data.AttemptID)

	// The running attempt keeps ticking.
	runningEvents := notifier.sent[running.UserID]
	require.Len(t, runningEvents, 1)
	assert.Equal(t, realtime.EventCountdownUpdate, runningEvents[0].Event)
}

func TestTickScheduledEndCapsAttemptClock(t *testing.T) {
	examID := uuid.New()
	// Exam window closed 10s ago even though attempt duration has time left.
	end := time.Now().Add(-10 * time.Second)
	exam := &model.Exam{ID: examID, DurationSeconds: 3600, ScheduledEnd: &end, IsActive: true}

	attempt := model.ExamAttempt{
		ID:        uuid.New(),
		ExamID:    examID,
		UserID:    uuid.New(),
		Status:    model.AttemptStatusInProgress,
		StartedAt: time.Now().Add(-time.Minute),
	}

	finalizer := &recordingFinalizer{}
	notifier := newRecordingNotifier()
	w := NewCountdownWorker(
		stubRooms{ids: []uuid.UUID{examID}},
		stubLookup{exams: map[uuid.UUID]*model.Exam{examID: exam}},
		stubLister{byExam: map[uuid.UUID][]model.ExamAttempt{examID: {attempt}}},
		finalizer,
		notifier,
		time.Second,
		zerolog.Nop(),
	)

	w.Tick(context.Background())

	require.Len(t, finalizer.calls, 1, "the exam window closing overrides per-attempt duration")
	assert.Equal(t, attempt.ID, finalizer.calls[0])
}

func TestTickIsolatesPerExamFailures(t *testing.T) {
	brokenExam := uuid.New()
	healthyExam := uuid.New()
	exam := &model.Exam{ID: healthyExam, DurationSeconds: 600, IsActive: true}

	attempt := model.ExamAttempt{
		ID:        uuid.New(),
		ExamID:    healthyExam,
		UserID:    uuid.New(),
		Status:    model.AttemptStatusInProgress,
		StartedAt: time.Now(),
	}

	finalizer := &recordingFinalizer{}
	notifier := newRecordingNotifier()
	w := NewCountdownWorker(
		stubRooms{ids: []uuid.UUID{brokenExam, healthyExam}},
		stubLookup{exams: map[uuid.UUID]*model.Exam{healthyExam: exam}},
		stubLister{byExam: map[uuid.UUID][]model.ExamAttempt{healthyExam: {attempt}}},
		finalizer,
		notifier,
		time.Second,
		zerolog.Nop(),
	)

	w.Tick(context.Background())

	events := notifier.sent[attempt.UserID]
	require.Len(t, events, 1, "a failing exam must not block the others")
	assert.Equal(t, realtime.EventCountdownUpdate, events[0].Event)
}
