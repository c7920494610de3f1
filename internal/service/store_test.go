package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/proctorly/examlive-backend/internal/model"
	"github.com/proctorly/examlive-backend/internal/realtime"
)

// fakeAttemptStore is an in-memory AttemptStore. It hands out deep copies,
// so mutations only become visible after a write call, like the real store.
type fakeAttemptStore struct {
	mu            sync.Mutex
	attempts      map[uuid.UUID]*model.ExamAttempt
	saveCalls     int
	finalizeCalls int
	getErr        error // returned by Get once, then cleared
	rankingErr    error // returned by SetRanking once, then cleared
}

func newFakeAttemptStore() *fakeAttemptStore {
	return &fakeAttemptStore{attempts: make(map[uuid.UUID]*model.ExamAttempt)}
}

func (f *fakeAttemptStore) put(a *model.ExamAttempt) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[a.ID] = copyAttempt(a)
}

func copyAttempt(a *model.ExamAttempt) *model.ExamAttempt {
	cp := *a
	cp.Answers = make([]model.Answer, len(a.Answers))
	copy(cp.Answers, a.Answers)
	return &cp
}

func (f *fakeAttemptStore) Get(ctx context.Context, id uuid.UUID) (*model.ExamAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		err := f.getErr
		f.getErr = nil
		return nil, err
	}
	a, ok := f.attempts[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return copyAttempt(a), nil
}

func (f *fakeAttemptStore) GetActiveByUserAndExam(ctx context.Context, userID, examID uuid.UUID) (*model.ExamAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.attempts {
		if a.UserID == userID && a.ExamID == examID && !a.Status.IsTerminal() {
			return copyAttempt(a), nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeAttemptStore) Create(ctx context.Context, a *model.ExamAttempt) error {
	a.ID = uuid.New()
	a.StartedAt = time.Now()
	f.put(a)
	return nil
}

func (f *fakeAttemptStore) SaveAnswers(ctx context.Context, a *model.ExamAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveCalls++
	stored, ok := f.attempts[a.ID]
	if !ok {
		return pgx.ErrNoRows
	}
	stored.Answers = make([]model.Answer, len(a.Answers))
	copy(stored.Answers, a.Answers)
	stored.Status = a.Status
	return nil
}

func (f *fakeAttemptStore) IncrementTabSwitches(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.attempts[id]; ok {
		a.TabSwitches++
	}
	return nil
}

func (f *fakeAttemptStore) IncrementCopyPasteAttempts(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.attempts[id]; ok {
		a.CopyPasteAttempts++
	}
	return nil
}

func (f *fakeAttemptStore) Finalize(ctx context.Context, a *model.ExamAttempt) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.attempts[a.ID]
	if !ok {
		return false, pgx.ErrNoRows
	}
	if stored.Status.IsTerminal() {
		return false, nil
	}
	f.finalizeCalls++
	cp := copyAttempt(a)
	cp.Rank = stored.Rank
	cp.Percentile = stored.Percentile
	f.attempts[a.ID] = cp
	return true, nil
}

func (f *fakeAttemptStore) SetRanking(ctx context.Context, id uuid.UUID, rank, percentile int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rankingErr != nil {
		err := f.rankingErr
		f.rankingErr = nil
		return err
	}
	if a, ok := f.attempts[id]; ok {
		a.Rank = rank
		a.Percentile = percentile
	}
	return nil
}

func (f *fakeAttemptStore) ListTerminalByExam(ctx context.Context, examID uuid.UUID) ([]model.ExamAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ExamAttempt
	for _, a := range f.attempts {
		if a.ExamID == examID && a.Status.IsTerminal() {
			out = append(out, *copyAttempt(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalScore != out[j].TotalScore {
			return out[i].TotalScore > out[j].TotalScore
		}
		return out[i].SubmittedAt.Before(*out[j].SubmittedAt)
	})
	return out, nil
}

func (f *fakeAttemptStore) ListActiveByExam(ctx context.Context, examID uuid.UUID) ([]model.ExamAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ExamAttempt
	for _, a := range f.attempts {
		if a.ExamID == examID && !a.Status.IsTerminal() {
			out = append(out, *copyAttempt(a))
		}
	}
	return out, nil
}

// fakeNotifier records every delivered envelope.
type fakeNotifier struct {
	mu     sync.Mutex
	sent   map[uuid.UUID][]realtime.Envelope
	groups map[string][]realtime.Envelope
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{
		sent:   make(map[uuid.UUID][]realtime.Envelope),
		groups: make(map[string][]realtime.Envelope),
	}
}

func (f *fakeNotifier) SendTo(userID uuid.UUID, ev realtime.Envelope) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[userID] = append(f.sent[userID], ev)
	return true
}

func (f *fakeNotifier) Broadcast(group string, ev realtime.Envelope) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups[group] = append(f.groups[group], ev)
}

func (f *fakeNotifier) sentTo(userID uuid.UUID) []realtime.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]realtime.Envelope(nil), f.sent[userID]...)
}

func (f *fakeNotifier) broadcastTo(group string) []realtime.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]realtime.Envelope(nil), f.groups[group]...)
}

// fakeRooms records Leave calls.
type fakeRooms struct {
	mu    sync.Mutex
	left  []uuid.UUID
	exams []uuid.UUID
}

func (f *fakeRooms) Leave(userID, examID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.left = append(f.left, userID)
	f.exams = append(f.exams, examID)
}

// fakeQuestions serves a static question list per exam.
type fakeQuestions struct {
	byExam map[uuid.UUID][]model.Question
}

func (f *fakeQuestions) ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	return f.byExam[examID], nil
}

// fakeProfiles resolves every user to a static profile.
type fakeProfiles struct{}

func (fakeProfiles) GetPublicProfile(ctx context.Context, userID uuid.UUID) (*model.PublicProfile, error) {
	return &model.PublicProfile{ID: userID, Name: "Test Student", Email: "student@example.com"}, nil
}

func strPtr(s string) *string { return &s }
