package realtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proctorly/examlive-backend/internal/model"
)

type stubCatalog struct {
	exams map[uuid.UUID]*model.Exam
}

func (s stubCatalog) GetExam(ctx context.Context, examID uuid.UUID) (*model.Exam, error) {
	e, ok := s.exams[examID]
	if !ok {
		return nil, errors.New("not found")
	}
	return e, nil
}

type stubAttempts struct {
	attempts map[uuid.UUID]*model.ExamAttempt
}

func (s stubAttempts) Get(ctx context.Context, id uuid.UUID) (*model.ExamAttempt, error) {
	a, ok := s.attempts[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return a, nil
}

func (s stubAttempts) ListActiveByExam(ctx context.Context, examID uuid.UUID) ([]model.ExamAttempt, error) {
	var out []model.ExamAttempt
	for _, a := range s.attempts {
		if a.ExamID == examID && !a.Status.IsTerminal() {
			out = append(out, *a)
		}
	}
	return out, nil
}

type roomFixture struct {
	registry *Registry
	rooms    *RoomManager
	exam     *model.Exam
	attempt  *model.ExamAttempt
}

func newRoomFixture(t *testing.T) *roomFixture {
	t.Helper()

	exam := &model.Exam{ID: uuid.New(), Title: "Algebra Final", DurationSeconds: 1800, IsActive: true, QuestionCount: 20}
	attempt := &model.ExamAttempt{
		ID:        uuid.New(),
		ExamID:    exam.ID,
		UserID:    uuid.New(),
		Status:    model.AttemptStatusInProgress,
		StartedAt: time.Now().Add(-5 * time.Minute),
	}

	registry := NewRegistry(zerolog.Nop())
	rooms := NewRoomManager(
		registry,
		stubCatalog{exams: map[uuid.UUID]*model.Exam{exam.ID: exam}},
		stubAttempts{attempts: map[uuid.UUID]*model.ExamAttempt{attempt.ID: attempt}},
		zerolog.Nop(),
	)
	return &roomFixture{registry: registry, rooms: rooms, exam: exam, attempt: attempt}
}

func TestJoinHappyPath(t *testing.T) {
	f := newRoomFixture(t)
	f.registry.Admit(f.attempt.UserID, model.RoleStudent)

	result, err := f.rooms.Join(context.Background(), f.attempt.UserID, f.exam.ID, f.attempt.ID)
	require.NoError(t, err)

	assert.Equal(t, f.exam.ID, result.Exam.ID)
	assert.Equal(t, f.attempt.ID, result.Attempt.ID)
	// 30 min duration, 5 min elapsed: about 25 minutes left.
	assert.InDelta(t, (25 * time.Minute).Seconds(), result.TimeRemaining.Seconds(), 5)

	attemptID, ok := f.rooms.AttemptFor(f.attempt.UserID, f.exam.ID)
	require.True(t, ok)
	assert.Equal(t, f.attempt.ID, attemptID)
	assert.Equal(t, 1, f.registry.GroupSize(StudentGroup(f.exam.ID)))
	assert.Equal(t, []uuid.UUID{f.exam.ID}, f.rooms.ActiveExamIDs())
}

func TestJoinRejectsForeignAttempt(t *testing.T) {
	f := newRoomFixture(t)
	stranger := uuid.New()
	f.registry.Admit(stranger, model.RoleStudent)

	_, err := f.rooms.Join(context.Background(), stranger, f.exam.ID, f.attempt.ID)
	assert.ErrorIs(t, err, ErrNotYourAttempt)
}

func TestJoinRejectsMismatchedExam(t *testing.T) {
	f := newRoomFixture(t)

	otherExam := &model.Exam{ID: uuid.New(), IsActive: true}
	f.rooms.catalog = stubCatalog{exams: map[uuid.UUID]*model.Exam{
		f.exam.ID:    f.exam,
		otherExam.ID: otherExam,
	}}

	_, err := f.rooms.Join(context.Background(), f.attempt.UserID, otherExam.ID, f.attempt.ID)
	assert.ErrorIs(t, err, ErrAttemptNotFound)
}

func TestJoinRejectsFinalizedAttempt(t *testing.T) {
	f := newRoomFixture(t)
	f.attempt.Status = model.AttemptStatusSubmitted

	_, err := f.rooms.Join(context.Background(), f.attempt.UserID, f.exam.ID, f.attempt.ID)
	assert.ErrorIs(t, err, ErrAttemptFinished)
}

func TestJoinRejectsUnknownExam(t *testing.T) {
	f := newRoomFixture(t)

	_, err := f.rooms.Join(context.Background(), f.attempt.UserID, uuid.New(), f.attempt.ID)
	assert.ErrorIs(t, err, ErrExamNotFound)
}

func TestAdminJoinRequiresAdminRole(t *testing.T) {
	f := newRoomFixture(t)

	_, err := f.rooms.AdminJoin(context.Background(), uuid.New(), model.RoleStudent, f.exam.ID)
	assert.ErrorIs(t, err, ErrAdminOnly)
}

func TestAdminJoinSnapshot(t *testing.T) {
	f := newRoomFixture(t)
	adminID := uuid.New()
	f.registry.Admit(adminID, model.RoleAdmin)

	snapshot, err := f.rooms.AdminJoin(context.Background(), adminID, model.RoleAdmin, f.exam.ID)
	require.NoError(t, err)

	assert.Equal(t, f.exam.ID, snapshot.ExamID)
	assert.Equal(t, 1, snapshot.ActiveAttempts)
	require.Len(t, snapshot.Participants, 1)
	assert.Equal(t, f.attempt.UserID, snapshot.Participants[0].UserID)
	assert.Equal(t, f.attempt.ID, snapshot.Participants[0].AttemptID)
	assert.Equal(t, 1, f.registry.GroupSize(AdminGroup(f.exam.ID)))
}

func TestAdminJoinKeepsExamActiveForScheduler(t *testing.T) {
	f := newRoomFixture(t)
	adminID := uuid.New()
	f.registry.Admit(adminID, model.RoleAdmin)

	_, err := f.rooms.AdminJoin(context.Background(), adminID, model.RoleAdmin, f.exam.ID)
	require.NoError(t, err)

	// An exam watched only by an admin still ticks.
	assert.Equal(t, []uuid.UUID{f.exam.ID}, f.rooms.ActiveExamIDs())

	// A student joining the same exam must not duplicate the id.
	f.registry.Admit(f.attempt.UserID, model.RoleStudent)
	_, err = f.rooms.Join(context.Background(), f.attempt.UserID, f.exam.ID, f.attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{f.exam.ID}, f.rooms.ActiveExamIDs())

	// The exam stays active until the last participant of either kind
	// is gone.
	f.rooms.Leave(f.attempt.UserID, f.exam.ID)
	assert.Equal(t, []uuid.UUID{f.exam.ID}, f.rooms.ActiveExamIDs())
	f.rooms.Leave(adminID, f.exam.ID)
	assert.Empty(t, f.rooms.ActiveExamIDs())
}

func TestAdminDisconnectCleanupClearsMonitoring(t *testing.T) {
	f := newRoomFixture(t)
	adminID := uuid.New()
	f.registry.Admit(adminID, model.RoleAdmin)

	_, err := f.rooms.AdminJoin(context.Background(), adminID, model.RoleAdmin, f.exam.ID)
	require.NoError(t, err)

	f.rooms.DisconnectCleanup(adminID)

	assert.Empty(t, f.rooms.ActiveExamIDs())
	assert.Zero(t, f.registry.GroupSize(AdminGroup(f.exam.ID)))
}

func TestDisconnectCleanupKeepsAttemptUntouched(t *testing.T) {
	f := newRoomFixture(t)
	f.registry.Admit(f.attempt.UserID, model.RoleStudent)

	_, err := f.rooms.Join(context.Background(), f.attempt.UserID, f.exam.ID, f.attempt.ID)
	require.NoError(t, err)

	f.rooms.DisconnectCleanup(f.attempt.UserID)

	_, ok := f.rooms.AttemptFor(f.attempt.UserID, f.exam.ID)
	assert.False(t, ok)
	assert.Empty(t, f.rooms.ActiveExamIDs())

	// The attempt is still live: a reconnect joins the same attempt.
	assert.Equal(t, model.AttemptStatusInProgress, f.attempt.Status)
	result, err := f.rooms.Join(context.Background(), f.attempt.UserID, f.exam.ID, f.attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, f.attempt.ID, result.Attempt.ID)
}

func TestLeaveIsIdempotent(t *testing.T) {
	f := newRoomFixture(t)
	f.registry.Admit(f.attempt.UserID, model.RoleStudent)

	_, err := f.rooms.Join(context.Background(), f.attempt.UserID, f.exam.ID, f.attempt.ID)
	require.NoError(t, err)

	f.rooms.Leave(f.attempt.UserID, f.exam.ID)
	f.rooms.Leave(f.attempt.UserID, f.exam.ID)

	assert.Empty(t, f.rooms.ActiveExamIDs())
	assert.Zero(t, f.registry.GroupSize(StudentGroup(f.exam.ID)))
}
