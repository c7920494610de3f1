package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proctorly/examlive-backend/internal/config"
	"github.com/proctorly/examlive-backend/internal/model"
	"github.com/proctorly/examlive-backend/internal/realtime"
)

func newProctorFixture(t *testing.T) (*ProctorService, *fakeAttemptStore, *fakeNotifier, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	store := newFakeAttemptStore()
	notifier := newFakeNotifier()
	svc := NewProctorService(store, fakeProfiles{}, notifier, rdb, zerolog.Nop())
	return svc, store, notifier, mr
}

func activeProctorAttempt() *model.ExamAttempt {
	return &model.ExamAttempt{
		ID:     uuid.New(),
		ExamID: uuid.New(),
		UserID: uuid.New(),
		Status: model.AttemptStatusInProgress,
	}
}

func TestRecordTabSwitchIncrementsCounter(t *testing.T) {
	svc, store, _, _ := newProctorFixture(t)
	attempt := activeProctorAttempt()
	store.put(attempt)

	ctx := context.Background()
	svc.Record(ctx, attempt.UserID, attempt.ExamID, attempt.ID, model.ProctoringTabSwitch, nil)
	svc.Record(ctx, attempt.UserID, attempt.ExamID, attempt.ID, model.ProctoringTabSwitch, nil)
	svc.Record(ctx, attempt.UserID, attempt.ExamID, attempt.ID, model.ProctoringCopyPaste, nil)

	stored, err := store.Get(ctx, attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.TabSwitches)
	assert.Equal(t, 1, stored.CopyPasteAttempts)
}

func TestRecordSuspiciousActivityEscalates(t *testing.T) {
	svc, store, notifier, mr := newProctorFixture(t)
	attempt := activeProctorAttempt()
	store.put(attempt)

	details := json.RawMessage(`{"subtype":"multiple-faces"}`)
	svc.Record(context.Background(), attempt.UserID, attempt.ExamID, attempt.ID, model.ProctoringSuspiciousActivity, details)

	// Queued for the persist worker.
	queued, err := mr.List(config.WorkerKey.PersistProctoringQueue)
	require.NoError(t, err)
	require.Len(t, queued, 1)

	var ev struct {
		AttemptID string `json:"attempt_id"`
		Type      string `json:"type"`
		Timestamp int64  `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal([]byte(queued[0]), &ev))
	assert.Equal(t, attempt.ID.String(), ev.AttemptID)
	assert.Equal(t, string(model.ProctoringSuspiciousActivity), ev.Type)
	assert.NotZero(t, ev.Timestamp, "timestamp must be assigned server-side")

	// Broadcast to the exam's admin group with the extracted subtype.
	events := notifier.broadcastTo(realtime.AdminGroup(attempt.ExamID))
	require.Len(t, events, 1)
	assert.Equal(t, realtime.EventSuspiciousActivity, events[0].Event)
	data, ok := events[0].Data.(realtime.SuspiciousActivityData)
	require.True(t, ok)
	assert.Equal(t, "multiple-faces", data.EventType)
	assert.Equal(t, attempt.UserID, data.UserID)
}

func TestRecordWebcamSnapshotQueuesWithoutEscalation(t *testing.T) {
	svc, store, notifier, mr := newProctorFixture(t)
	attempt := activeProctorAttempt()
	store.put(attempt)

	svc.Record(context.Background(), attempt.UserID, attempt.ExamID, attempt.ID, model.ProctoringWebcamSnapshot, json.RawMessage(`{"frame":"..."}`))

	queued, err := mr.List(config.WorkerKey.PersistProctoringQueue)
	require.NoError(t, err)
	assert.Len(t, queued, 1)
	assert.Empty(t, notifier.broadcastTo(realtime.AdminGroup(attempt.ExamID)))
}

func TestRecordDropsOutOfContextEvents(t *testing.T) {
	svc, store, notifier, mr := newProctorFixture(t)
	attempt := activeProctorAttempt()
	store.put(attempt)

	ctx := context.Background()

	// Wrong owner.
	svc.Record(ctx, uuid.New(), attempt.ExamID, attempt.ID, model.ProctoringTabSwitch, nil)
	// Wrong exam.
	svc.Record(ctx, attempt.UserID, uuid.New(), attempt.ID, model.ProctoringTabSwitch, nil)
	// Unknown attempt.
	svc.Record(ctx, attempt.UserID, attempt.ExamID, uuid.New(), model.ProctoringTabSwitch, nil)

	stored, err := store.Get(ctx, attempt.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.TabSwitches)
	assert.False(t, mr.Exists(config.WorkerKey.PersistProctoringQueue))
	assert.Empty(t, notifier.broadcastTo(realtime.AdminGroup(attempt.ExamID)))
}

func TestRecordDropsEventsOnFinalizedAttempt(t *testing.T) {
	svc, store, _, mr := newProctorFixture(t)
	attempt := activeProctorAttempt()
	attempt.Status = model.AttemptStatusSubmitted
	store.put(attempt)

	svc.Record(context.Background(), attempt.UserID, attempt.ExamID, attempt.ID, model.ProctoringSuspiciousActivity, json.RawMessage(`{}`))

	assert.False(t, mr.Exists(config.WorkerKey.PersistProctoringQueue))
	stored, err := store.Get(context.Background(), attempt.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.TabSwitches)
}
