package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/proctorly/examlive-backend/internal/config"
	"github.com/proctorly/examlive-backend/internal/model"
)

// ExamSource is the Postgres-backed exam lookup behind the cache.
// Implemented by repository.ExamRepository.
type ExamSource interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	ListActive(ctx context.Context) ([]model.Exam, error)
}

// CatalogService is the read-only exam catalog with a Redis cache in front.
// Exam definitions change rarely during a live session, so a short TTL is
// enough to keep countdown ticks and join validation off the database.
type CatalogService struct {
	exams ExamSource
	rdb   *redis.Client
	cfg   *config.Config
	log   zerolog.Logger
}

// NewCatalogService creates a new CatalogService.
func NewCatalogService(exams ExamSource, rdb *redis.Client, cfg *config.Config, log zerolog.Logger) *CatalogService {
	return &CatalogService{
		exams: exams,
		rdb:   rdb,
		cfg:   cfg,
		log:   log.With().Str("component", "exam_catalog").Logger(),
	}
}

// GetExam returns the exam definition, serving from Redis when possible and
// self-healing the cache on a miss.
func (s *CatalogService) GetExam(ctx context.Context, examID uuid.UUID) (*model.Exam, error) {
	cacheKey := config.CacheKey.ExamDefinitionKey(examID.String())

	raw, err := s.rdb.Get(ctx, cacheKey).Result()
	if err == nil {
		exam := &model.Exam{}
		if err := json.Unmarshal([]byte(raw), exam); err == nil {
			return exam, nil
		}
		// Corrupt cache entry: fall through to the database.
		s.log.Warn().Str("exam_id", examID.String()).Msg("Discarding corrupt cache entry")
	} else if !errors.Is(err, redis.Nil) {
		s.log.Warn().Err(err).Msg("Redis read failed, falling back to database")
	}

	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("get exam: %w", err)
	}

	s.cache(ctx, exam)
	return exam, nil
}

// ListActive returns every exam flagged active, straight from the database.
// Listing is rare compared to per-exam lookups and is not cached.
func (s *CatalogService) ListActive(ctx context.Context) ([]model.Exam, error) {
	return s.exams.ListActive(ctx)
}

// PrewarmAllCaches loads every active exam into Redis. Called on boot,
// before traffic, to avoid a thundering herd of lazy loads when an exam
// window opens.
func (s *CatalogService) PrewarmAllCaches(ctx context.Context) error {
	exams, err := s.exams.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active exams: %w", err)
	}

	for i := range exams {
		s.cache(ctx, &exams[i])
	}

	s.log.Info().Int("count", len(exams)).Msg("Exam cache prewarmed")
	return nil
}

func (s *CatalogService) cache(ctx context.Context, exam *model.Exam) {
	raw, err := json.Marshal(exam)
	if err != nil {
		return
	}
	key := config.CacheKey.ExamDefinitionKey(exam.ID.String())
	if err := s.rdb.Set(ctx, key, raw, s.cfg.ExamCacheTTL).Err(); err != nil {
		s.log.Warn().Err(err).Str("exam_id", exam.ID.String()).Msg("Cache write failed")
	}
}
