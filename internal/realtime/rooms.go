package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/proctorly/examlive-backend/internal/model"
)

// Room validation errors.
var (
	ErrExamNotFound    = errors.New("exam not found")
	ErrAttemptNotFound = errors.New("attempt not found")
	ErrNotYourAttempt  = errors.New("attempt belongs to another user")
	ErrAttemptFinished = errors.New("attempt is already finalized")
	ErrAdminOnly       = errors.New("monitoring requires an admin role")
)

// StudentGroup names the delivery group for an exam's participants.
func StudentGroup(examID uuid.UUID) string {
	return fmt.Sprintf("exam:%s", examID)
}

// AdminGroup names the delivery group for an exam's monitoring admins.
func AdminGroup(examID uuid.UUID) string {
	return fmt.Sprintf("exam:%s:admins", examID)
}

// ExamCatalog is the read-only exam definition lookup the room manager
// validates joins against.
type ExamCatalog interface {
	GetExam(ctx context.Context, examID uuid.UUID) (*model.Exam, error)
}

// AttemptReader is the subset of the attempt store the room manager needs.
type AttemptReader interface {
	Get(ctx context.Context, id uuid.UUID) (*model.ExamAttempt, error)
	ListActiveByExam(ctx context.Context, examID uuid.UUID) ([]model.ExamAttempt, error)
}

// JoinResult is returned to a student on a successful room join.
type JoinResult struct {
	Exam          *model.Exam
	Attempt       *model.ExamAttempt
	TimeRemaining time.Duration
}

// RoomManager groups connected participants by exam id and validates join
// requests. Membership is process-local; disconnects clean it up without
// touching the underlying attempts.
type RoomManager struct {
	registry *Registry
	catalog  ExamCatalog
	attempts AttemptReader
	log      zerolog.Logger

	mu         sync.RWMutex
	rooms      map[uuid.UUID]map[uuid.UUID]uuid.UUID // examID → userID → attemptID
	adminRooms map[uuid.UUID]map[uuid.UUID]struct{}  // examID → monitoring admins
}

// NewRoomManager creates a RoomManager bound to the given registry.
func NewRoomManager(registry *Registry, catalog ExamCatalog, attempts AttemptReader, log zerolog.Logger) *RoomManager {
	return &RoomManager{
		registry:   registry,
		catalog:    catalog,
		attempts:   attempts,
		log:        log.With().Str("component", "room_manager").Logger(),
		rooms:      make(map[uuid.UUID]map[uuid.UUID]uuid.UUID),
		adminRooms: make(map[uuid.UUID]map[uuid.UUID]struct{}),
	}
}

// Join validates a student's join request and subscribes them to the exam
// room. The attempt must exist, belong to the caller, and be non-terminal.
func (m *RoomManager) Join(ctx context.Context, userID, examID, attemptID uuid.UUID) (*JoinResult, error) {
	exam, err := m.catalog.GetExam(ctx, examID)
	if err != nil {
		return nil, ErrExamNotFound
	}

	attempt, err := m.attempts.Get(ctx, attemptID)
	if err != nil {
		return nil, ErrAttemptNotFound
	}
	if attempt.UserID != userID {
		return nil, ErrNotYourAttempt
	}
	if attempt.ExamID != examID {
		return nil, ErrAttemptNotFound
	}
	if attempt.Status.IsTerminal() {
		return nil, ErrAttemptFinished
	}

	m.mu.Lock()
	members, ok := m.rooms[examID]
	if !ok {
		members = make(map[uuid.UUID]uuid.UUID)
		m.rooms[examID] = members
	}
	members[userID] = attemptID
	m.mu.Unlock()

	m.registry.JoinGroup(StudentGroup(examID), userID)

	m.log.Info().
		Str("user_id", userID.String()).
		Str("exam_id", examID.String()).
		Str("attempt_id", attemptID.String()).
		Msg("Student joined exam room")

	return &JoinResult{
		Exam:          exam,
		Attempt:       attempt,
		TimeRemaining: attempt.TimeRemaining(exam, time.Now()),
	}, nil
}

// AdminJoin subscribes an admin to the exam's monitoring group and returns a
// point-in-time snapshot of all non-terminal attempts. Future updates arrive
// via group broadcasts, not through this snapshot.
func (m *RoomManager) AdminJoin(ctx context.Context, userID uuid.UUID, role model.Role, examID uuid.UUID) (*AdminExamJoinedData, error) {
	if !role.IsAdmin() {
		return nil, ErrAdminOnly
	}

	exam, err := m.catalog.GetExam(ctx, examID)
	if err != nil {
		return nil, ErrExamNotFound
	}

	active, err := m.attempts.ListActiveByExam(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list active attempts: %w", err)
	}

	now := time.Now()
	participants := make([]Participant, 0, len(active))
	for i := range active {
		a := &active[i]
		participants = append(participants, Participant{
			UserID:        a.UserID,
			AttemptID:     a.ID,
			StartedAt:     a.StartedAt,
			TimeRemaining: int(a.TimeRemaining(exam, now).Seconds()),
			AnsweredCount: a.AnsweredCount(),
		})
	}

	m.mu.Lock()
	admins, ok := m.adminRooms[examID]
	if !ok {
		admins = make(map[uuid.UUID]struct{})
		m.adminRooms[examID] = admins
	}
	admins[userID] = struct{}{}
	m.mu.Unlock()

	m.registry.JoinGroup(AdminGroup(examID), userID)

	m.log.Info().
		Str("admin_id", userID.String()).
		Str("exam_id", examID.String()).
		Int("active_attempts", len(participants)).
		Msg("Admin joined exam room")

	return &AdminExamJoinedData{
		ExamID:         examID,
		Exam:           exam,
		ActiveAttempts: len(participants),
		Participants:   participants,
	}, nil
}

// Leave removes a user from an exam room. Idempotent.
func (m *RoomManager) Leave(userID, examID uuid.UUID) {
	m.mu.Lock()
	if members, ok := m.rooms[examID]; ok {
		delete(members, userID)
		if len(members) == 0 {
			delete(m.rooms, examID)
		}
	}
	if admins, ok := m.adminRooms[examID]; ok {
		delete(admins, userID)
		if len(admins) == 0 {
			delete(m.adminRooms, examID)
		}
	}
	m.mu.Unlock()

	m.registry.LeaveGroup(StudentGroup(examID), userID)
	m.registry.LeaveGroup(AdminGroup(examID), userID)
}

// DisconnectCleanup removes the user from every room. It never mutates the
// underlying attempt: an attempt stays in progress across reconnects.
func (m *RoomManager) DisconnectCleanup(userID uuid.UUID) {
	m.mu.Lock()
	var examIDs []uuid.UUID
	for examID, members := range m.rooms {
		if _, ok := members[userID]; ok {
			delete(members, userID)
			if len(members) == 0 {
				delete(m.rooms, examID)
			}
			examIDs = append(examIDs, examID)
		}
	}
	var adminExamIDs []uuid.UUID
	for examID, admins := range m.adminRooms {
		if _, ok := admins[userID]; ok {
			delete(admins, userID)
			if len(admins) == 0 {
				delete(m.adminRooms, examID)
			}
			adminExamIDs = append(adminExamIDs, examID)
		}
	}
	m.mu.Unlock()

	for _, examID := range examIDs {
		m.registry.LeaveGroup(StudentGroup(examID), userID)
	}
	for _, examID := range adminExamIDs {
		m.registry.LeaveGroup(AdminGroup(examID), userID)
	}
}

// AttemptFor returns the attempt id a user joined an exam room with.
func (m *RoomManager) AttemptFor(userID, examID uuid.UUID) (uuid.UUID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	attemptID, ok := m.rooms[examID][userID]
	return attemptID, ok
}

// ActiveExamIDs returns every exam id with at least one connected
// participant, students and monitoring admins alike. The countdown
// scheduler ticks over this set, so an exam keeps ticking (and expiring
// attempts) while only an admin is watching it.
func (m *RoomManager) ActiveExamIDs() []uuid.UUID {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[uuid.UUID]struct{}, len(m.rooms)+len(m.adminRooms))
	ids := make([]uuid.UUID, 0, len(m.rooms)+len(m.adminRooms))
	for examID := range m.rooms {
		seen[examID] = struct{}{}
		ids = append(ids, examID)
	}
	for examID := range m.adminRooms {
		if _, ok := seen[examID]; !ok {
			ids = append(ids, examID)
		}
	}
	return ids
}
