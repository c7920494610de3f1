package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/proctorly/examlive-backend/internal/config"
	"github.com/proctorly/examlive-backend/internal/model"
	"github.com/proctorly/examlive-backend/internal/realtime"
)

// ProfileSource resolves public profiles for escalation broadcasts.
// Implemented by AuthService.
type ProfileSource interface {
	GetPublicProfile(ctx context.Context, userID uuid.UUID) (*model.PublicProfile, error)
}

// ProctorService classifies and records proctoring telemetry. It is a
// best-effort channel: malformed or out-of-context events are dropped, never
// errored back to the caller, and persistence happens asynchronously through
// a Redis queue drained by the proctoring worker.
type ProctorService struct {
	attempts AttemptStore
	profiles ProfileSource
	notifier Notifier
	rdb      *redis.Client
	log      zerolog.Logger
}

// NewProctorService creates a new ProctorService.
func NewProctorService(attempts AttemptStore, profiles ProfileSource, notifier Notifier, rdb *redis.Client, log zerolog.Logger) *ProctorService {
	return &ProctorService{
		attempts: attempts,
		profiles: profiles,
		notifier: notifier,
		rdb:      rdb,
		log:      log.With().Str("component", "proctor_aggregator").Logger(),
	}
}

// queuedEvent is the wire form pushed onto the persist queue.
type queuedEvent struct {
	AttemptID string          `json:"attempt_id"`
	ExamID    string          `json:"exam_id"`
	UserID    string          `json:"user_id"`
	Type      string          `json:"type"`
	Details   json.RawMessage `json:"details,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Record processes one telemetry event for a joined attempt. Counter events
// bump the attempt's monotonic counters; append events are queued for the
// persist worker. Suspicious activity is additionally escalated to the
// exam's admin group and the Redis monitor channel.
//
// Events for an attempt that is unknown, terminal, or owned by another user
// are dropped silently: proctoring never disturbs the exam flow.
func (s *ProctorService) Record(ctx context.Context, userID, examID, attemptID uuid.UUID, eventType model.ProctoringEventType, details json.RawMessage) {
	attempt, err := s.attempts.Get(ctx, attemptID)
	if err != nil || attempt.UserID != userID || attempt.ExamID != examID || attempt.Status.IsTerminal() {
		s.log.Debug().
			Str("attempt_id", attemptID.String()).
			Str("type", string(eventType)).
			Msg("Dropping out-of-context proctoring event")
		return
	}

	now := time.Now()

	switch eventType {
	case model.ProctoringTabSwitch:
		if err := s.attempts.IncrementTabSwitches(ctx, attemptID); err != nil {
			s.log.Error().Err(err).Str("attempt_id", attemptID.String()).Msg("Tab-switch increment failed")
		}

	case model.ProctoringCopyPaste:
		if err := s.attempts.IncrementCopyPasteAttempts(ctx, attemptID); err != nil {
			s.log.Error().Err(err).Str("attempt_id", attemptID.String()).Msg("Copy-paste increment failed")
		}

	case model.ProctoringSuspiciousActivity:
		s.enqueue(ctx, attempt, eventType, details, now)
		s.escalate(ctx, attempt, details, now)

	case model.ProctoringWebcamSnapshot:
		s.enqueue(ctx, attempt, eventType, details, now)

	default:
		s.log.Warn().Str("type", string(eventType)).Msg("Unknown proctoring event type")
	}
}

// enqueue pushes the event onto the persist queue. Timestamps are assigned
// server-side; the client clock is never trusted.
func (s *ProctorService) enqueue(ctx context.Context, attempt *model.ExamAttempt, eventType model.ProctoringEventType, details json.RawMessage, now time.Time) {
	payload, err := json.Marshal(queuedEvent{
		AttemptID: attempt.ID.String(),
		ExamID:    attempt.ExamID.String(),
		UserID:    attempt.UserID.String(),
		Type:      string(eventType),
		Details:   details,
		Timestamp: now.Unix(),
	})
	if err != nil {
		return
	}

	if err := s.rdb.RPush(ctx, config.WorkerKey.PersistProctoringQueue, payload).Err(); err != nil {
		s.log.Error().Err(err).Msg("Proctoring enqueue failed")
	}
}

// escalate forwards a high-severity event to the admin monitoring surfaces:
// the in-process admin group and the Redis Pub/Sub monitor channel that the
// SSE monitor endpoint subscribes to.
func (s *ProctorService) escalate(ctx context.Context, attempt *model.ExamAttempt, details json.RawMessage, now time.Time) {
	subtype := "suspicious-activity"
	var d struct {
		Subtype string `json:"subtype"`
	}
	if err := json.Unmarshal(details, &d); err == nil && d.Subtype != "" {
		subtype = d.Subtype
	}

	profile, err := s.profiles.GetPublicProfile(ctx, attempt.UserID)
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", attempt.UserID.String()).Msg("Profile lookup failed for escalation")
	}

	data := realtime.SuspiciousActivityData{
		UserID:    attempt.UserID,
		User:      profile,
		EventType: subtype,
		Timestamp: now,
	}

	s.notifier.Broadcast(realtime.AdminGroup(attempt.ExamID), realtime.Envelope{
		Event: realtime.EventSuspiciousActivity,
		Data:  data,
	})

	if payload, err := json.Marshal(map[string]interface{}{
		"type": "suspicious-activity",
		"data": data,
	}); err == nil {
		channel := config.CacheKey.ExamMonitorChannel(attempt.ExamID.String())
		if err := s.rdb.Publish(ctx, channel, payload).Err(); err != nil {
			s.log.Warn().Err(err).Msg("Monitor channel publish failed")
		}
	}
}
